package bus

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// MemoryBus connects contexts living in the same process.
// Each context calls Join and uses the returned Endpoint as its Bus.
type MemoryBus struct {
	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
	buffer    int
	logger    *log.Logger
}

// NewMemoryBus creates a bus whose endpoints buffer up to buffer pending
// events each (default 64). Events beyond that are dropped.
func NewMemoryBus(buffer int, logger *log.Logger) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[bus] ", log.LstdFlags)
	}
	return &MemoryBus{
		endpoints: make(map[*Endpoint]struct{}),
		buffer:    buffer,
		logger:    logger,
	}
}

// Join attaches a new endpoint to the bus.
func (b *MemoryBus) Join() *Endpoint {
	ep := &Endpoint{
		bus:   b,
		inbox: make(chan schema.ChangeEvent, b.buffer),
		done:  make(chan struct{}),
	}
	ep.wg.Add(1)
	go ep.deliverLoop()

	b.mu.Lock()
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()
	return ep
}

// Len returns the number of joined endpoints.
func (b *MemoryBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.endpoints)
}

func (b *MemoryBus) broadcast(from *Endpoint, e schema.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ep := range b.endpoints {
		if ep == from {
			continue
		}
		select {
		case ep.inbox <- e:
		default:
			b.logger.Println("Warning: endpoint inbox full, dropping event")
		}
	}
}

func (b *MemoryBus) leave(ep *Endpoint) {
	b.mu.Lock()
	delete(b.endpoints, ep)
	b.mu.Unlock()
}

// Endpoint is one context's handle on a MemoryBus.
type Endpoint struct {
	bus   *MemoryBus
	subs  subscribers
	inbox chan schema.ChangeEvent
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// Publish implements Bus.Publish.
func (ep *Endpoint) Publish(ctx context.Context, e schema.ChangeEvent) error {
	select {
	case <-ep.done:
		return fmt.Errorf("bus endpoint closed")
	default:
	}
	ep.bus.broadcast(ep, e)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (ep *Endpoint) Subscribe(h Handler) func() {
	return ep.subs.add(h)
}

// Close implements Bus.Close. Undelivered events are discarded.
func (ep *Endpoint) Close() error {
	ep.once.Do(func() {
		ep.bus.leave(ep)
		close(ep.done)
		ep.wg.Wait()
		ep.subs.clear()
	})
	return nil
}

func (ep *Endpoint) deliverLoop() {
	defer ep.wg.Done()
	for {
		select {
		case <-ep.done:
			return
		case e := <-ep.inbox:
			ep.subs.dispatch(e)
		}
	}
}
