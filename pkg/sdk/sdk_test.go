package sdk

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	backend "github.com/gear6io/oxygen/server/protocols/http"
	"github.com/gear6io/oxygen/server/protocols/stream"
	"github.com/gear6io/oxygen/server/session"
	"github.com/gear6io/oxygen/server/store"
	"github.com/gear6io/oxygen/server/titles"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	streamAddr string
	httpAddr   string
	store      store.Store
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.LoadDefaultConfig()
	cfg.Server.Host = config.LOCALHOST_ADDRESS
	cfg.Server.BackendPort = 0
	cfg.Server.StreamPort = 0
	cfg.Server.StreamEnabled = true
	logger := zerolog.Nop()

	reg, err := titles.Build(cfg, "test")
	require.NoError(t, err)
	st := store.NewMemory()
	sessions := session.NewManager(16, time.Minute, 0, logger)
	d := dispatch.New(reg, st, dispatch.OptionsFromConfig(cfg), logger)

	hs := backend.NewServer(cfg, d.Dispatch, sessions, logger)
	ss := stream.NewServer(cfg, d.Dispatch, sessions, logger)
	require.NoError(t, hs.Start(context.Background()))
	require.NoError(t, ss.Start(context.Background()))
	t.Cleanup(func() {
		_ = hs.Stop()
		_ = ss.Stop()
		_ = sessions.Close()
	})

	return &testServer{streamAddr: ss.Addr().String(), httpAddr: hs.Addr().String(), store: st}
}

func servicesGet() *kbin.Node {
	return kbin.NewVoid("services").SetAttr("method", "get")
}

func pcbtrackerAlive() *kbin.Node {
	return kbin.NewVoid("pcbtracker").SetAttr("method", "alive")
}

func exerciseClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	services, err := c.Call(ctx, servicesGet())
	require.NoError(t, err)
	assert.Equal(t, "0", services.Attr("status"))
	assert.NotEmpty(t, services.Attr("expire"))
	items := services.ChildrenNamed("item")
	require.NotEmpty(t, items)
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Attr("name"))
	}
	assert.Contains(t, names, "pcbtracker")
	assert.Contains(t, names, "ntp")

	alive, err := c.Call(ctx, pcbtrackerAlive())
	require.NoError(t, err)
	assert.Equal(t, "0", alive.Attr("status"))
	assert.Equal(t, "1", alive.Attr("ecenable"))

	assert.Equal(t, uint16(2), c.Sequence())
}

func TestStreamClient(t *testing.T) {
	srv := startServer(t)

	c, err := Open(context.Background(), &Options{Protocol: Stream, Addr: srv.streamAddr, Compress: true})
	require.NoError(t, err)
	defer c.Close()

	exerciseClient(t, c)

	machines, err := srv.store.ListRecords(context.Background(), store.KindMachine, 0)
	require.NoError(t, err)
	assert.Len(t, machines, 1)
}

func TestHTTPClient(t *testing.T) {
	srv := startServer(t)

	for _, opts := range []*Options{
		{Protocol: HTTP, Addr: srv.httpAddr},
		{Protocol: HTTP, Addr: srv.httpAddr, Compress: true, Plaintext: true},
	} {
		c, err := Open(context.Background(), opts)
		require.NoError(t, err)
		exerciseClient(t, c)
		require.NoError(t, c.Close())
	}
}

func TestClientClosed(t *testing.T) {
	srv := startServer(t)

	c, err := Open(context.Background(), &Options{Protocol: Stream, Addr: srv.streamAddr})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Call(context.Background(), servicesGet())
	assert.True(t, errors.HasCode(err, ErrClientClosed))
	assert.True(t, errors.HasCode(c.Ping(context.Background()), ErrClientClosed))
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewClient(context.Background(), &Options{Protocol: Stream, Addr: addr, DialTimeout: time.Second})
	assert.True(t, errors.HasCode(err, ErrDialFailed))

	_, err = NewClient(context.Background(), &Options{Protocol: Protocol(7)})
	assert.True(t, errors.HasCode(err, ErrInvalidOptions))
}

func TestParseDSN(t *testing.T) {
	o, err := ParseDSN("oxygen://arcade.local:8083?protocol=http&model=KFC:J:A:A:2021042800&compress=true&timeout=5s")
	require.NoError(t, err)
	assert.Equal(t, HTTP, o.Protocol)
	assert.Equal(t, "arcade.local:8083", o.Addr)
	assert.Equal(t, "KFC:J:A:A:2021042800", o.Model)
	assert.True(t, o.Compress)
	assert.False(t, o.Plaintext)
	assert.Equal(t, 5*time.Second, o.ReadTimeout)

	o, err = ParseDSN("oxygen://127.0.0.1:8085")
	require.NoError(t, err)
	assert.Equal(t, Stream, o.Protocol)
	o.SetDefaults()
	assert.Equal(t, "LDJ:J:A:A:2020092900", o.Model)
	assert.Equal(t, 30*time.Second, o.WriteTimeout)

	for _, bad := range []string{
		"http://127.0.0.1:8083",
		"oxygen://",
		"oxygen://h:1?protocol=udp",
		"oxygen://h:1?compress=maybe",
		"oxygen://h:1?timeout=soon",
	} {
		_, err := ParseDSN(bad)
		assert.True(t, errors.HasCode(err, ErrInvalidDSN), bad)
	}
}
