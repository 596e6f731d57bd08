package sdk

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/protocols/stream"
	"github.com/valyala/fasthttp"
)

type streamTransport struct {
	opt  *Options
	conn net.Conn
	r    *stream.PacketReader
	w    *stream.PacketWriter
}

func dialStream(ctx context.Context, o *Options) (*streamTransport, error) {
	d := net.Dialer{Timeout: o.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", o.Addr)
	if err != nil {
		return nil, errors.New(ErrDialFailed, "failed to dial", err).AddContext("addr", o.Addr)
	}
	return &streamTransport{
		opt:  o,
		conn: conn,
		r:    stream.NewPacketReader(conn),
		w:    stream.NewPacketWriter(conn),
	}, nil
}

func (t *streamTransport) send(ctx context.Context, write func() error) (byte, protocol.Frame, error) {
	if err := t.conn.SetWriteDeadline(deadline(ctx, t.opt.WriteTimeout)); err != nil {
		return 0, protocol.Frame{}, errors.New(ErrTransportFailed, "failed to set deadline", err)
	}
	if err := write(); err != nil {
		return 0, protocol.Frame{}, errors.New(ErrTransportFailed, "failed to send packet", err)
	}
	if err := t.w.Flush(); err != nil {
		return 0, protocol.Frame{}, errors.New(ErrTransportFailed, "failed to send packet", err)
	}

	if err := t.conn.SetReadDeadline(deadline(ctx, t.opt.ReadTimeout)); err != nil {
		return 0, protocol.Frame{}, errors.New(ErrTransportFailed, "failed to set deadline", err)
	}
	return stream.ReadResponse(t.r)
}

func (t *streamTransport) roundTrip(ctx context.Context, f protocol.Frame) (protocol.Frame, error) {
	packetType, reply, err := t.send(ctx, func() error {
		return t.w.WritePacket(stream.ClientRequest, f)
	})
	if err != nil {
		return protocol.Frame{}, err
	}
	if packetType != stream.ServerResponse {
		return protocol.Frame{}, errors.New(ErrUnexpectedReply, "expected a response packet", nil).
			AddContext("packet_type", strconv.Itoa(int(packetType)))
	}
	return reply, nil
}

func (t *streamTransport) ping(ctx context.Context) error {
	packetType, _, err := t.send(ctx, func() error {
		return t.w.WriteByte(stream.ClientPing)
	})
	if err != nil {
		return err
	}
	if packetType != stream.ServerPong {
		return errors.New(ErrUnexpectedReply, "expected a pong packet", nil).
			AddContext("packet_type", strconv.Itoa(int(packetType)))
	}
	return nil
}

func (t *streamTransport) close() error {
	return t.conn.Close()
}

type httpTransport struct {
	opt    *Options
	url    string
	client *fasthttp.Client
}

func newHTTPTransport(o *Options) *httpTransport {
	return &httpTransport{
		opt: o,
		url: "http://" + o.Addr + "/",
		client: &fasthttp.Client{
			Name:         "oxygen-sdk",
			ReadTimeout:  o.ReadTimeout,
			WriteTimeout: o.WriteTimeout,
			// one connection, so the server sees one cabinet session
			MaxConnsPerHost: 1,
			Dial: func(addr string) (net.Conn, error) {
				return fasthttp.DialTimeout(addr, o.DialTimeout)
			},
		},
	}
}

func (t *httpTransport) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := t.client.DoDeadline(req, resp, deadline(ctx, t.opt.ReadTimeout)); err != nil {
		return errors.New(ErrTransportFailed, "request failed", err).AddContext("url", t.url)
	}
	return nil
}

func (t *httpTransport) roundTrip(ctx context.Context, f protocol.Frame) (protocol.Frame, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set(protocol.HeaderCompress, f.Compression)
	if f.Info != "" {
		req.Header.Set(protocol.HeaderInfo, f.Info)
	}
	req.SetBody(f.Body)

	if err := t.do(ctx, req, resp); err != nil {
		return protocol.Frame{}, err
	}

	// unhandled calls still carry an error document
	switch status := resp.StatusCode(); status {
	case http.StatusOK, http.StatusNotFound:
	default:
		return protocol.Frame{}, errors.New(ErrHTTPStatus, "server refused the call", nil).
			AddContext("status", strconv.Itoa(status))
	}
	return protocol.Frame{
		Compression: string(resp.Header.Peek(protocol.HeaderCompress)),
		Info:        string(resp.Header.Peek(protocol.HeaderInfo)),
		Body:        append([]byte(nil), resp.Body()...),
	}, nil
}

// ping relies on the backend redirecting GET requests to the admin API.
func (t *httpTransport) ping(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := t.do(ctx, req, resp); err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusPermanentRedirect {
		return errors.New(ErrHTTPStatus, "unexpected ping status", nil).
			AddContext("status", strconv.Itoa(resp.StatusCode()))
	}
	return nil
}

func (t *httpTransport) close() error {
	t.client.CloseIdleConnections()
	return nil
}
