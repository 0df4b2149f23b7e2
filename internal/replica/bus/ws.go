package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// ErrDisconnected is returned by Publish while the hub is unreachable.
var ErrDisconnected = errors.New("change hub disconnected")

// WSOptions configures a WSBus.
type WSOptions struct {
	// WriteTimeout bounds a single publish (default: 2s)
	WriteTimeout time.Duration

	// ReconnectMin and ReconnectMax bound the redial backoff
	// (defaults: 500ms and 30s)
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Logger for bus activity (default: stderr logger)
	Logger *log.Logger
}

// WSBus is a Bus backed by a connection to a Hub. When the connection
// drops it redials in the background; events published meanwhile are lost.
type WSBus struct {
	url     string
	options WSOptions
	subs    subscribers

	mu   sync.RWMutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DialWS connects to the hub at url. The first dial must succeed; later
// disconnects are retried until Close.
func DialWS(ctx context.Context, url string, opts *WSOptions) (*WSBus, error) {
	var options WSOptions
	if opts != nil {
		options = *opts
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = 2 * time.Second
	}
	if options.ReconnectMin <= 0 {
		options.ReconnectMin = 500 * time.Millisecond
	}
	if options.ReconnectMax < options.ReconnectMin {
		options.ReconnectMax = 30 * time.Second
	}
	if options.Logger == nil {
		options.Logger = log.New(os.Stderr, "[bus] ", log.LstdFlags)
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to change hub %s: %w", url, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &WSBus{
		url:     url,
		options: options,
		conn:    conn,
		ctx:     runCtx,
		cancel:  cancel,
	}

	b.wg.Add(1)
	go b.run(conn)
	return b, nil
}

// Publish implements Bus.Publish.
func (b *WSBus) Publish(ctx context.Context, e schema.ChangeEvent) error {
	if b.ctx.Err() != nil {
		return fmt.Errorf("change bus closed")
	}

	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return ErrDisconnected
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.options.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *WSBus) Subscribe(h Handler) func() {
	return b.subs.add(h)
}

// Connected reports whether the hub connection is currently up.
func (b *WSBus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

// Close implements Bus.Close.
func (b *WSBus) Close() error {
	b.cancel()

	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}

	b.wg.Wait()
	b.subs.clear()
	return nil
}

// run reads from conn until it fails, then redials with backoff.
func (b *WSBus) run(conn *websocket.Conn) {
	defer b.wg.Done()

	delay := b.options.ReconnectMin
	for {
		b.readLoop(conn)

		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()

		for {
			if b.ctx.Err() != nil {
				return
			}
			timer := time.NewTimer(delay)
			select {
			case <-b.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			next, _, err := websocket.Dial(b.ctx, b.url, nil)
			if err != nil {
				b.options.Logger.Printf("Change hub redial failed: %v", err)
				delay *= 2
				if delay > b.options.ReconnectMax {
					delay = b.options.ReconnectMax
				}
				continue
			}

			b.mu.Lock()
			b.conn = next
			b.mu.Unlock()
			b.options.Logger.Printf("Reconnected to change hub %s", b.url)

			conn = next
			delay = b.options.ReconnectMin
			break
		}
	}
}

func (b *WSBus) readLoop(conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(b.ctx)
		if err != nil {
			if b.ctx.Err() == nil {
				b.options.Logger.Printf("Change hub connection lost: %v", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		e, err := schema.DecodeChangeEvent(data)
		if err != nil {
			b.options.Logger.Printf("Warning: ignoring invalid change event: %v", err)
			continue
		}
		b.subs.dispatch(e)
	}
}
