package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/socialchat/internal/metrics"
)

var (
	// ErrUnknownConnection is returned by Deliver when no live connection
	// has the given id.
	ErrUnknownConnection = errors.New("server: unknown connection")
	// ErrSendBufferFull is returned by Deliver when the connection's send
	// buffer cannot take another frame.
	ErrSendBufferFull = errors.New("server: send buffer full")
	// ErrHubClosed is returned by Register after Shutdown.
	ErrHubClosed = errors.New("server: hub is shut down")
)

// Hub manages all WebSocket client connections of this process, keyed by
// connection id. It is the local delivery path of the broadcaster.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(opts ...Option) *Hub {
	s := newSettings(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     s.logger,
		metrics:    s.metrics,
	}
}

// Context is canceled when the hub shuts down.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// Register hands client to the hub, which starts its pumps.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Deliver queues payload on the connection's send buffer without blocking.
func (h *Hub) Deliver(connectionID string, payload []byte) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	client, ok := h.clients[connectionID]
	if !ok {
		return ErrUnknownConnection
	}

	select {
	case client.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Disconnect drops the connection. Its write pump sends a close frame and
// the read pump then reports the close to the dispatcher.
func (h *Hub) Disconnect(connectionID string) {
	h.mutex.RLock()
	client, ok := h.clients[connectionID]
	h.mutex.RUnlock()

	if ok {
		h.remove(client, "dropped")
	}
}

// Run starts the hub's event loop, handling client registration and
// unregistration. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("Received nil client registration; skipping")
				continue
			}
			h.add(client)

		case client := <-h.unregister:
			h.remove(client, "unregistered")
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mutex.Lock()
	if prev, exists := h.clients[client.info.ConnectionID]; exists && prev != client {
		h.mutex.Unlock()
		h.logger.Error("Duplicate connection id; rejecting client",
			zap.String("connection_id", client.info.ConnectionID))
		client.closeConnection()
		return
	}
	h.clients[client.info.ConnectionID] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.ConnectionOpened()
	h.logger.Info("Client registered",
		zap.String("connection_id", client.info.ConnectionID),
		zap.String("remote_addr", client.info.RemoteAddr),
		zap.Int("clients", clientCount))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// unregisterClient is called by a client's read pump when it stops.
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client, "unregistered")
	}
}

// remove deletes client and closes its send channel. Closing happens
// under the write lock so Deliver never sends on a closed channel.
func (h *Hub) remove(client *Client, reason string) {
	h.mutex.Lock()
	cur, ok := h.clients[client.info.ConnectionID]
	if !ok || cur != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.info.ConnectionID)
	close(client.send)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.ConnectionClosed()
	h.logger.Info("Client "+reason,
		zap.String("connection_id", client.info.ConnectionID),
		zap.String("remote_addr", client.info.RemoteAddr),
		zap.Int("clients", clientCount))
}

// shutdownClients closes every live connection so the read pumps exit.
func (h *Hub) shutdownClients() {
	h.logger.Info("Shutting down all client connections")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.closeConnection()
	}

	h.logger.Info("Closed client connections", zap.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all
// client goroutines to complete or for timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached; some connections may still be running")
		return context.DeadlineExceeded
	}
}
