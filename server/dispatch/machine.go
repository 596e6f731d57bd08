package dispatch

import (
	"context"
	"time"

	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/store"
)

// Machine is the record of one cabinet, keyed by PCBID.
type Machine struct {
	PCBID     string    `json:"pcbid"`
	Name      string    `json:"name"`
	Arcade    string    `json:"arcade,omitempty"`
	Port      int       `json:"port"`
	Game      string    `json:"game,omitempty"`
	Version   int64     `json:"version,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Arcade groups machines and can override the PASELI settings of its
// machines.
type Arcade struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	PaseliEnabled  bool   `json:"paseli_enabled"`
	PaseliInfinite bool   `json:"paseli_infinite"`
}

const defaultMachinePort = 10011

// resolveMachine loads the machine behind pcbid, creating it on first
// contact, and applies its arcade's PASELI settings over the defaults.
func resolveMachine(ctx context.Context, s store.Store, pcbid, game string, version int64, paseli config.PaseliConfig) (Machine, config.PaseliConfig, error) {
	m, err := store.Get[Machine](ctx, s, store.KindMachine, pcbid)
	if err != nil {
		if !store.IsNotFound(err) {
			return Machine{}, paseli, err
		}
		m = Machine{
			PCBID:     pcbid,
			Name:      "Unnamed",
			Port:      defaultMachinePort,
			Game:      game,
			Version:   version,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.Put(ctx, s, store.KindMachine, pcbid, m); err != nil {
			return Machine{}, paseli, err
		}
	}

	if m.Arcade != "" {
		arcade, err := store.Get[Arcade](ctx, s, store.KindArcade, m.Arcade)
		switch {
		case err == nil:
			paseli.Enabled = arcade.PaseliEnabled
			paseli.Infinite = arcade.PaseliInfinite
		case !store.IsNotFound(err):
			return m, paseli, err
		}
	}
	return m, paseli, nil
}
