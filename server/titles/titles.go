// Package titles assembles the handler registry the dispatcher routes on.
package titles

import (
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/gear6io/oxygen/server/titles/core"
)

// Registration adds title bindings to a registry builder.
type Registration func(b *registry.Builder[dispatch.Handler])

// Build registers the core services as fallback, then every registration.
// Overlapping registrations fail here, before any listener starts.
func Build(cfg *config.Config, version string, regs ...Registration) (*registry.Registry[dispatch.Handler], error) {
	b := registry.NewBuilder[dispatch.Handler]()
	b.Fallback(core.New(core.OptionsFromConfig(cfg, version)))
	for _, register := range regs {
		register(b)
	}
	return b.Build()
}
