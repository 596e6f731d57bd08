package stream

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/pipeline"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/session"
	"github.com/rs/zerolog"
)

// pending is an answer owed to the client, in request order.
type pending struct {
	result <-chan pipeline.Result
	pong   bool
}

// ConnectionHandler handles a single client connection. A reader loop
// feeds the connection's pipeline while a writer loop sends the answers in
// the order the requests arrived.
type ConnectionHandler struct {
	conn        net.Conn
	sess        *session.Session
	pipe        *pipeline.Pipeline
	logger      zerolog.Logger
	reader      *PacketReader
	writer      *PacketWriter
	idleTimeout time.Duration
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(conn net.Conn, sess *session.Session, handle pipeline.Handler, depth int, idleTimeout time.Duration, logger zerolog.Logger) *ConnectionHandler {
	logger = logger.With().Str("connection_id", sess.ID).Str("remote", sess.Remote).Logger()
	return &ConnectionHandler{
		conn:        conn,
		sess:        sess,
		pipe:        pipeline.New(sess, handle, depth, logger),
		logger:      logger,
		reader:      NewPacketReader(conn),
		writer:      NewPacketWriter(conn),
		idleTimeout: idleTimeout,
	}
}

// Handle serves the connection until the client disconnects, the session
// is closed or a framing error occurs.
func (h *ConnectionHandler) Handle(ctx context.Context) error {
	defer h.conn.Close()
	defer h.pipe.Close()

	// closing the session (idle expiry, shutdown) unblocks the reader. The
	// pipeline stops with the session, so its Done cannot stand in for exit.
	exit := make(chan struct{})
	defer close(exit)
	go func() {
		select {
		case <-h.sess.Done():
			h.conn.Close()
		case <-exit:
		}
	}()

	replies := make(chan pending, 64)
	writerDone := make(chan struct{})
	var writeErr error
	go func() {
		defer close(writerDone)
		writeErr = h.writeLoop(replies)
	}()

	readErr := h.readLoop(ctx, replies, writerDone)
	close(replies)
	<-writerDone

	if readErr != nil {
		return readErr
	}
	return writeErr
}

func (h *ConnectionHandler) readLoop(ctx context.Context, replies chan<- pending, writerDone <-chan struct{}) error {
	for {
		if h.idleTimeout > 0 {
			h.conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
		}

		packetType, err := h.reader.ReadByte()
		if err != nil {
			if isDisconnect(err) || h.sess.Closed() {
				return nil
			}
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				h.logger.Debug().Dur("idle_timeout", h.idleTimeout).Msg("Closing idle connection")
				return nil
			}
			return errors.New(ErrReadFailed, "failed to read packet type", err)
		}
		h.sess.Touch()

		var p pending
		switch packetType {
		case ClientRequest:
			frame, err := h.reader.ReadFrame()
			if err != nil {
				if errors.HasCode(err, ErrFrameTooLarge) {
					h.sendException(replies, writerDone, err)
					return err
				}
				return errors.New(ErrReadFailed, "failed to read request", err)
			}
			ch, err := h.pipe.Submit(ctx, frame)
			if err != nil {
				return err
			}
			p = pending{result: ch}
		case ClientPing:
			p = pending{pong: true}
		default:
			err := errors.New(ErrUnknownPacket, "unknown packet type", nil).
				AddContext("packet_type", strconv.Itoa(int(packetType)))
			h.sendException(replies, writerDone, err)
			return err
		}

		select {
		case replies <- p:
		case <-writerDone:
			return nil
		}
	}
}

// sendException queues an exception packet ahead of closing.
func (h *ConnectionHandler) sendException(replies chan<- pending, writerDone <-chan struct{}, cause error) {
	ch := make(chan pipeline.Result, 1)
	ch <- pipeline.Result{Err: cause, Close: true}
	select {
	case replies <- pending{result: ch}:
	case <-writerDone:
	}
}

func (h *ConnectionHandler) writeLoop(replies <-chan pending) error {
	for p := range replies {
		if p.pong {
			if err := h.writer.WriteByte(ServerPong); err != nil {
				return h.writeFailed(err)
			}
			if err := h.writer.Flush(); err != nil {
				return h.writeFailed(err)
			}
			continue
		}

		res := <-p.result
		switch {
		case res.Reply:
			if err := h.writer.WritePacket(ServerResponse, res.Frame); err != nil {
				return h.writeFailed(err)
			}
		case res.Close:
			if err := h.writer.WriteByte(ServerException); err != nil {
				return h.writeFailed(err)
			}
			if err := h.writer.WriteString(res.Err.Error()); err != nil {
				return h.writeFailed(err)
			}
		default:
			h.logger.Debug().Err(res.Err).Msg("Request dropped without reply")
			continue
		}
		if err := h.writer.Flush(); err != nil {
			return h.writeFailed(err)
		}
		if res.Close {
			h.conn.Close()
			return nil
		}
	}
	return nil
}

func (h *ConnectionHandler) writeFailed(err error) error {
	h.conn.Close()
	if isDisconnect(err) || h.sess.Closed() {
		return nil
	}
	return errors.New(ErrWriteFailed, "failed to write response", err)
}

func isDisconnect(err error) bool {
	return stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, io.ErrClosedPipe) ||
		stderrors.Is(err, net.ErrClosed) ||
		stderrors.Is(err, io.ErrUnexpectedEOF)
}

// ReadResponse reads one server packet on the client side. Pongs return an
// empty frame.
func ReadResponse(r *PacketReader) (byte, protocol.Frame, error) {
	packetType, err := r.ReadByte()
	if err != nil {
		return 0, protocol.Frame{}, err
	}
	switch packetType {
	case ServerResponse:
		f, err := r.ReadFrame()
		return packetType, f, err
	case ServerException:
		msg, err := r.ReadString()
		if err != nil {
			return packetType, protocol.Frame{}, err
		}
		return packetType, protocol.Frame{}, errors.New(ErrServerException, msg, nil)
	case ServerPong:
		return packetType, protocol.Frame{}, nil
	}
	return packetType, protocol.Frame{}, errors.New(ErrUnknownPacket, "unknown server packet", nil).
		AddContext("packet_type", strconv.Itoa(int(packetType)))
}
