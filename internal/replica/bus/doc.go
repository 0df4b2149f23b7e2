// Package bus provides the ChangeBus: a best-effort, low-latency channel
// that tells live sibling contexts that shared state moved.
//
// Delivery is at most once per live subscriber. A context that is not
// running when an event is published never sees it; the PersistentStore
// watch path covers that case. Publishers never receive their own events.
//
// Two implementations are provided:
//
//   - MemoryBus: contexts inside one process join the same bus
//   - Hub + WSBus: a websocket relay for contexts in separate processes
//
// Hub clients join a channel, normally one per collection, and only see
// events from the same channel.
//
// Running a hub:
//
//	hub := bus.NewHub(&bus.HubConfig{Port: 8090})
//	if err := hub.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer hub.Stop()
//
// Joining it from a context:
//
//	url, _ := bus.ChannelURL("ws://localhost:8090/ws", "inventory")
//	b, err := bus.DialWS(ctx, url, nil)
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//	unsubscribe := b.Subscribe(func(e schema.ChangeEvent) { ... })
//	defer unsubscribe()
package bus

import (
	"context"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// Handler receives change events published by other contexts.
type Handler func(schema.ChangeEvent)

// Bus is the ChangeBus capability injected into a sync context.
type Bus interface {
	// Publish sends e to every other live subscriber. Errors are
	// informational; the event is simply lost.
	Publish(ctx context.Context, e schema.ChangeEvent) error

	// Subscribe registers h and returns a function that removes it.
	Subscribe(h Handler) (unsubscribe func())

	// Close releases the handle. Subsequent publishes fail.
	Close() error
}
