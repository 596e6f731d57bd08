package server

import (
	"context"
	"testing"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.LoadDefaultConfig()
	cfg.Server.Host = config.LOCALHOST_ADDRESS
	cfg.Server.BackendEnabled = false
	cfg.Server.AdminEnabled = false
	cfg.Server.StreamEnabled = false
	cfg.Database.Driver = config.DRIVER_MEMORY
	cfg.Database.CacheTTL = 0
	return cfg
}

func TestServerLifecycle(t *testing.T) {
	srv, err := New(testConfig(), "test", zerolog.Nop())
	require.NoError(t, err)

	fb, ok := srv.Registry().Fallback()
	require.True(t, ok)
	assert.Equal(t, "core", registry.Binding[dispatch.Handler]{Handler: fb}.Name())

	require.NoError(t, srv.Start(context.Background()))

	status := srv.GetStatus()
	assert.Contains(t, status, "http")
	assert.Contains(t, status, "stream")
	assert.Contains(t, status, "uptime")
	assert.Equal(t, 0, status["games"])

	require.NoError(t, srv.Shutdown())
}

func TestServerRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "postgres"

	_, err := New(cfg, "test", zerolog.Nop())
	assert.True(t, errors.HasCode(err, ErrInitFailed))
}

func TestServerRejectsOverlappingTitles(t *testing.T) {
	_, err := New(testConfig(), "test", zerolog.Nop(), func(b *registry.Builder[dispatch.Handler]) {
		b.Register("KFC", registry.Versions(1, 10), dispatch.NewRouter("a"))
		b.Register("KFC", registry.Versions(5, 15), dispatch.NewRouter("b"))
	})
	assert.True(t, errors.HasCode(err, ErrInitFailed))
	assert.True(t, errors.HasCode(err, registry.ErrAmbiguousRegistration))
}
