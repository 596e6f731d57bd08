package dispatch

import (
	"context"
	"time"

	"github.com/gear6io/oxygen/server/store"
	"github.com/gear6io/oxygen/utils"
)

// Event types written to the store.
const (
	EventUnhandledPacket = "unhandled_packet"
	EventException       = "exception"
	EventPCBEvent        = "pcbevent"
)

// Event is an audit record. Keys are ULIDs, so events sort by time.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// PutEvent records an event of the given type.
func PutEvent(ctx context.Context, s store.Store, eventType string, data map[string]interface{}) error {
	ev := Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
	return store.Put(ctx, s, store.KindEvent, utils.GenerateULIDString(), ev)
}
