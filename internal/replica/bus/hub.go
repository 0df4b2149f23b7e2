package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// HubConfig holds hub configuration.
type HubConfig struct {
	// Port to listen on (default: 8090, 0 picks a free port)
	Port int

	// Host to bind (default: 127.0.0.1, the bus is device-local)
	Host string

	// Logger for hub activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		Port:   8090,
		Host:   "127.0.0.1",
		Logger: log.Default(),
	}
}

// ChannelParam is the query parameter naming the channel a client joins.
// Frames are relayed only between clients of the same channel, so one hub
// can carry every collection of a device.
const ChannelParam = "channel"

// ChannelURL returns hubURL scoped to channel.
func ChannelURL(hubURL, channel string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub url %q: %w", hubURL, err)
	}
	q := u.Query()
	q.Set(ChannelParam, channel)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// frame is a relayed message and the client that sent it.
type frame struct {
	from    *websocket.Conn
	channel string
	data    []byte
}

// Hub relays change events between the websocket clients of one device.
// Every valid frame received from a client is forwarded to the other
// clients on its channel; the sender never gets its own frame back.
type Hub struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]string
	clientsMu sync.RWMutex

	relay chan frame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewHub creates a hub. Call Start to begin listening.
func NewHub(config *HubConfig) *Hub {
	if config == nil {
		config = DefaultHubConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		addr:    net.JoinHostPort(host, fmt.Sprint(config.Port)),
		clients: make(map[*websocket.Conn]string),
		relay:   make(chan frame, 256),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
}

// Start begins the HTTP server and websocket handler.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)

	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.wg.Add(1)
	go h.relayLoop()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.logger.Printf("Change hub listening on %s", ln.Addr())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client and shuts the server down.
func (h *Hub) Stop() error {
	h.logger.Println("Stopping change hub")

	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "hub shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	h.wg.Wait()

	h.logger.Println("Change hub stopped")
	return nil
}

// Addr returns the hub's listening address.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// URL returns the websocket endpoint clients dial.
func (h *Hub) URL() string {
	return "ws://" + h.Addr() + "/ws"
}

// ClientCount returns the current number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) relayLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case f := <-h.relay:
			h.clientsMu.RLock()
			targets := make([]*websocket.Conn, 0, len(h.clients))
			for conn, channel := range h.clients {
				if conn != f.from && channel == f.channel {
					targets = append(targets, conn)
				}
			}
			h.clientsMu.RUnlock()

			for _, conn := range targets {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, f.data)
				cancel()

				if err != nil {
					h.logger.Printf("Failed to relay to client: %v", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	channel := r.URL.Query().Get(ChannelParam)

	h.clientsMu.Lock()
	h.clients[conn] = channel
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Client connected to channel %q (total: %d)", channel, clientCount)

	h.readLoop(conn, channel)
}

// readLoop forwards valid frames from conn until it disconnects.
func (h *Hub) readLoop(conn *websocket.Conn, channel string) {
	defer h.removeClient(conn)

	for {
		typ, data, err := conn.Read(h.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if _, err := schema.DecodeChangeEvent(data); err != nil {
			h.logger.Printf("Warning: dropping invalid frame: %v", err)
			continue
		}

		select {
		case h.relay <- frame{from: conn, channel: channel, data: data}:
		case <-h.ctx.Done():
			return
		default:
			h.logger.Println("Warning: relay channel full, dropping event")
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		h.clientsMu.Unlock()
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": h.ClientCount(),
	})
}
