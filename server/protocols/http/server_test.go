package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

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
	"github.com/valyala/fasthttp"
)

const referenceInfo = "1-5f7a3c00-0001"

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "..", "protocol", "testdata", name))
	require.NoError(t, err)
	return b
}

func newTestServer(t *testing.T, handle pipeline.Handler, maxSessions int) (*Server, *session.Manager) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	sessions := session.NewManager(maxSessions, 0, 0, logger)
	t.Cleanup(func() { sessions.Close() })

	s := NewServer(config.LoadDefaultConfig(), handle, sessions, logger)
	t.Cleanup(func() { s.Stop() })
	return s, sessions
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

func post(body []byte, compress, info string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if compress != "" {
		req.Header.Set(HeaderCompress, compress)
	}
	if info != "" {
		req.Header.Set(HeaderInfo, info)
	}
	return req
}

func TestServeReferencePacket(t *testing.T) {
	s, _ := newTestServer(t, dispatcher(t), 0)

	resp, err := s.App().Test(post(readFixture(t, "pcbtracker_alive.request.bin"), "lz77", referenceInfo), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, referenceInfo, resp.Header.Get(HeaderInfo))
	assert.Equal(t, protocol.CompressionNone, resp.Header.Get(HeaderCompress))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, readFixture(t, "pcbtracker_alive.response.bin"), body)
}

func TestRejectsSOAP(t *testing.T) {
	s, _ := newTestServer(t, dispatcher(t), 0)

	soap := []byte(`<?xml version="1.0"?><soapenv:Envelope><soapenv:Body/></soapenv:Envelope>`)
	resp, err := s.App().Test(post(soap, "", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestResultStatusCodes(t *testing.T) {
	frame := protocol.Frame{Compression: protocol.CompressionNone, Body: []byte{0xa0}}

	tests := []struct {
		name   string
		result pipeline.Result
		status int
		close  bool
	}{
		{"reply", pipeline.Result{Frame: frame, Reply: true}, http.StatusOK, false},
		{"error envelope", pipeline.Result{Frame: frame, Reply: true, Err: errors.New(dispatch.ErrHandlerFailure, "boom", nil)}, http.StatusOK, false},
		{"not handled", pipeline.Result{Frame: frame, Reply: true, Err: dispatch.NotHandled("lobby", "entry")}, http.StatusNotFound, false},
		{"stale sequence", pipeline.Result{Err: errors.New(session.ErrSequenceViolation, "stale", nil)}, http.StatusConflict, false},
		{"rejected", pipeline.Result{Err: errors.New(dispatch.ErrRejectedRequest, "soap", nil)}, http.StatusInternalServerError, false},
		{"unencodable", pipeline.Result{Err: errors.New(dispatch.ErrEncodeFailed, "bad", nil), Close: true}, http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, func(ctx context.Context, sess *session.Session, f protocol.Frame) pipeline.Result {
				return tt.result
			}, 0)

			resp, err := s.App().Test(post([]byte{0xa0}, "none", ""), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.close {
				assert.True(t, resp.Close)
			}
			if tt.result.Reply {
				assert.Equal(t, "none", resp.Header.Get(HeaderCompress))
				assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
			}
		})
	}
}

func TestHandlerSeesFraming(t *testing.T) {
	var got protocol.Frame
	var transport string
	s, _ := newTestServer(t, func(ctx context.Context, sess *session.Session, f protocol.Frame) pipeline.Result {
		got = f
		transport = sess.Transport
		return pipeline.Result{Frame: protocol.Frame{Info: f.Info, Compression: "none"}, Reply: true}
	}, 0)

	resp, err := s.App().Test(post([]byte{1, 2, 3}, "lz77", referenceInfo), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, referenceInfo, resp.Header.Get(HeaderInfo))

	assert.Equal(t, "lz77", got.Compression)
	assert.Equal(t, referenceInfo, got.Info)
	assert.Equal(t, []byte{1, 2, 3}, got.Body)
	assert.Equal(t, "http", transport)
}

func TestForwardedRemoteAddress(t *testing.T) {
	remoteOf := func(forwarded string) string {
		remotes := make(chan string, 1)
		s, _ := newTestServer(t, func(ctx context.Context, sess *session.Session, f protocol.Frame) pipeline.Result {
			remotes <- sess.Remote
			return pipeline.Result{Frame: protocol.Frame{Compression: "none"}, Reply: true}
		}, 0)

		req := post([]byte{1}, "", "")
		if forwarded != "" {
			req.Header.Set(HeaderRemoteAddress, forwarded)
		}
		resp, err := s.App().Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		return <-remotes
	}

	assert.Equal(t, "203.0.113.7", remoteOf("203.0.113.7"))
	assert.NotEqual(t, "203.0.113.7", remoteOf(""))
	assert.NotEmpty(t, remoteOf(""))
}

func TestRefusesAtCapacity(t *testing.T) {
	s, sessions := newTestServer(t, dispatcher(t), 1)
	_, err := sessions.Open("stream", "10.0.0.9:1")
	require.NoError(t, err)

	resp, err := s.App().Test(post([]byte{0xa0}, "", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetRedirectsToAdmin(t *testing.T) {
	s, _ := newTestServer(t, dispatcher(t), 0)

	req := httptest.NewRequest(http.MethodGet, "http://arcade.local:8083/", nil)
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPermanentRedirect, resp.StatusCode)
	assert.Equal(t, "http://arcade.local:8084/", resp.Header.Get("Location"))
}

func TestClosedConnectionReleasesSession(t *testing.T) {
	s, sessions := newTestServer(t, dispatcher(t), 0)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	remote := server.RemoteAddr().String()

	p, err := s.pipelineFor(remote, remote)
	require.NoError(t, err)
	again, err := s.pipelineFor(remote, remote)
	require.NoError(t, err)
	assert.Same(t, p, again)

	s.connState(server, fasthttp.StateClosed)

	_, ok := sessions.Lookup(remote)
	assert.False(t, ok)
	assert.True(t, p.Session().Closed())
	<-p.Done()
	assert.Equal(t, 0, s.GetStatus()["pipelines"])
}
