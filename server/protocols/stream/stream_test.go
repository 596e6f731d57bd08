package stream

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/pipeline"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/gear6io/oxygen/server/session"
	"github.com/gear6io/oxygen/server/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "..", "protocol", "testdata", name))
	require.NoError(t, err)
	return b
}

func dispatcher(t *testing.T) pipeline.Handler {
	t.Helper()
	b := registry.NewBuilder[dispatch.Handler]()
	b.Register("LDJ", registry.AllVersions, dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
		return kbin.NewVoid("pcbtracker").
			SetAttr("method", "alive").
			SetAttr("status", "0").
			SetAttr("expire", "600").
			SetAttr("ecenable", "1").
			Append(kbin.NewU32("time", 1601337600)), nil
	}))
	reg, err := b.Build()
	require.NoError(t, err)
	return dispatch.New(reg, store.NewMemory(), dispatch.Options{}, zerolog.New(io.Discard)).Dispatch
}

func requestFrame(t *testing.T, seq uint16) protocol.Frame {
	t.Helper()
	root := kbin.NewVoid(protocol.RootCall).SetAttr("model", "LDJ:J:A:A:2020092900").SetAttr("srcid", "0120").
		Append(kbin.NewVoid("pcbtracker").SetAttr("method", "alive"))
	f, err := protocol.Encode(&protocol.Envelope{Root: root, Options: protocol.Options{
		Document:    kbin.DefaultOptions(),
		Compression: protocol.CompressionLZ77,
		Info:        protocol.Info{Version: 1, Time: 0x5f7a3c00, Counter: seq}.String(),
	}})
	require.NoError(t, err)
	return f
}

type pipeConn struct {
	client  net.Conn
	sess    *session.Session
	handled chan error
}

func servePipe(t *testing.T, handle pipeline.Handler) *pipeConn {
	t.Helper()
	client, server := net.Pipe()
	sess := session.New("stream-test", transportName, "pipe")
	h := NewConnectionHandler(server, sess, handle, 8, time.Minute, zerolog.New(io.Discard))

	pc := &pipeConn{client: client, sess: sess, handled: make(chan error, 1)}
	go func() { pc.handled <- h.Handle(context.Background()) }()
	t.Cleanup(func() { client.Close() })
	return pc
}

func (pc *pipeConn) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-pc.handled:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("connection handler did not exit")
		return nil
	}
}

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewPacketWriter(&buf)
	f := protocol.Frame{Compression: "lz77", Info: "1-00000000-0001", Body: []byte{1, 2, 3}}
	require.NoError(t, w.WritePacket(ServerResponse, f))
	require.NoError(t, w.WriteByte(ServerPong))
	require.NoError(t, w.Flush())

	r := NewPacketReader(&buf)
	typ, got, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, ServerResponse, typ)
	assert.Equal(t, f, got)

	typ, _, err = ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, ServerPong, typ)
}

func TestRepliesInOrderAndDropsStaleSequence(t *testing.T) {
	pc := servePipe(t, dispatcher(t))

	var frames []protocol.Frame
	for _, seq := range []uint16{1, 2, 2, 3} {
		frames = append(frames, requestFrame(t, seq))
	}
	go func() {
		w := NewPacketWriter(pc.client)
		for _, f := range frames {
			w.WritePacket(ClientRequest, f)
			w.Flush()
		}
		w.WriteByte(ClientPing)
		w.Flush()
	}()

	r := NewPacketReader(pc.client)
	var infos []string
	for i := 0; i < 3; i++ {
		typ, f, err := ReadResponse(r)
		require.NoError(t, err)
		require.Equal(t, ServerResponse, typ)
		infos = append(infos, f.Info)

		env, err := protocol.Decode(f)
		require.NoError(t, err)
		assert.Equal(t, "1", env.Root.Child("pcbtracker").Attr("ecenable"))
	}
	assert.Equal(t, []string{"1-5f7a3c00-0001", "1-5f7a3c00-0002", "1-5f7a3c00-0003"}, infos)

	typ, _, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, ServerPong, typ)

	pc.client.Close()
	assert.NoError(t, pc.wait(t))
	assert.Equal(t, int64(4), pc.sess.Requests())
}

func TestUnknownPacketClosesConnection(t *testing.T) {
	pc := servePipe(t, dispatcher(t))

	go func() {
		w := NewPacketWriter(pc.client)
		w.WriteByte(99)
		w.Flush()
	}()

	typ, _, err := ReadResponse(NewPacketReader(pc.client))
	assert.Equal(t, ServerException, typ)
	assert.True(t, errors.HasCode(err, ErrServerException))

	err = pc.wait(t)
	assert.True(t, errors.HasCode(err, ErrUnknownPacket))
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	pc := servePipe(t, dispatcher(t))

	go func() {
		w := NewPacketWriter(pc.client)
		w.WriteByte(ClientRequest)
		w.WriteString(protocol.CompressionLZ77)
		w.WriteString("")
		w.WriteUint32(MaxFrameSize + 1)
		w.Flush()
	}()

	typ, _, err := ReadResponse(NewPacketReader(pc.client))
	assert.Equal(t, ServerException, typ)
	assert.Error(t, err)

	err = pc.wait(t)
	assert.True(t, errors.HasCode(err, ErrFrameTooLarge))
}

func TestClosingSessionClosesConnection(t *testing.T) {
	d := dispatcher(t)
	for i := 0; i < 20; i++ {
		pc := servePipe(t, d)

		pc.sess.Close()
		require.NoError(t, pc.wait(t), "attempt %d", i)

		_, err := pc.client.Read(make([]byte, 1))
		assert.Error(t, err)
	}
}

func TestServerOverTCP(t *testing.T) {
	cfg := config.LoadDefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.StreamPort = 0
	cfg.Server.StreamEnabled = true

	logger := zerolog.New(io.Discard)
	sessions := session.NewManager(10, 0, 0, logger)
	defer sessions.Close()

	s := NewServer(cfg, dispatcher(t), sessions, logger)
	require.NoError(t, s.Start(context.Background()))

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	w := NewPacketWriter(conn)
	require.NoError(t, w.WritePacket(ClientRequest, protocol.Frame{
		Compression: protocol.CompressionLZ77,
		Info:        "1-5f7a3c00-0001",
		Body:        readFixture(t, "pcbtracker_alive.request.bin"),
	}))
	require.NoError(t, w.Flush())

	typ, f, err := ReadResponse(NewPacketReader(conn))
	require.NoError(t, err)
	assert.Equal(t, ServerResponse, typ)
	assert.Equal(t, protocol.CompressionNone, f.Compression)
	assert.Equal(t, readFixture(t, "pcbtracker_alive.response.bin"), f.Body)

	assert.Equal(t, 1, sessions.Stats().ByTransport["stream"])

	require.NoError(t, s.Stop())
	assert.Equal(t, 0, sessions.Stats().Active)
}

func TestServerDisabled(t *testing.T) {
	cfg := config.LoadDefaultConfig()
	cfg.Server.StreamEnabled = false

	s := NewServer(cfg, dispatcher(t), session.NewManager(1, 0, 0, zerolog.New(io.Discard)), zerolog.New(io.Discard))
	require.NoError(t, s.Start(context.Background()))
	assert.Nil(t, s.Addr())
	require.NoError(t, s.Stop())
}
