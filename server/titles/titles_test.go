package titles

import (
	"context"
	"testing"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRegistersCoreFallback(t *testing.T) {
	reg, err := Build(config.LoadDefaultConfig(), "0.1.0")
	require.NoError(t, err)

	fb, ok := reg.Fallback()
	require.True(t, ok)
	assert.Equal(t, "core", registry.Binding[dispatch.Handler]{Handler: fb}.Name())
	assert.Empty(t, reg.Bindings())
}

func TestBuildWithTitles(t *testing.T) {
	game := dispatch.NewRouter("sdvx").RouteFunc("game", "", func(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
		return kbin.NewVoid("game"), nil
	})
	reg, err := Build(config.LoadDefaultConfig(), "0.1.0", func(b *registry.Builder[dispatch.Handler]) {
		b.Register("KFC", registry.AllVersions, game)
	})
	require.NoError(t, err)

	h, err := reg.Resolve("KFC", 2019020600)
	require.NoError(t, err)
	assert.Same(t, game, h)
}

func TestBuildRejectsAmbiguousTitles(t *testing.T) {
	_, err := Build(config.LoadDefaultConfig(), "0.1.0", func(b *registry.Builder[dispatch.Handler]) {
		b.Register("KFC", registry.Versions(1, 10), dispatch.NewRouter("a"))
		b.Register("KFC", registry.Versions(5, 15), dispatch.NewRouter("b"))
	})
	assert.True(t, errors.HasCode(err, registry.ErrAmbiguousRegistration))
}
