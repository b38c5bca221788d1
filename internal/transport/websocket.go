// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"beatzero/internal/bus"
	"beatzero/internal/config"
	"beatzero/internal/frame"
	applog "beatzero/internal/log"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single write to a client.
const writeWait = 2 * time.Second

// WebSocketServer streams frames to WebSocket clients. Every client gets
// its own bus subscription, so a slow client only drops its own frames.
type WebSocketServer struct {
	cfg      config.WebSocketConfig
	bus      *bus.Bus
	upgrader websocket.Upgrader

	clients   map[*websocket.Conn]*bus.Subscription
	clientsMu sync.Mutex
	wg        sync.WaitGroup

	logger *applog.Logger
}

// NewWebSocketServer creates a server publishing frames from b.
func NewWebSocketServer(cfg config.WebSocketConfig, b *bus.Bus) *WebSocketServer {
	if cfg.Path == "" {
		cfg.Path = config.DefaultWebSocketPath
	}
	return &WebSocketServer{
		cfg: cfg,
		bus: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Frames are public; any page may connect
			},
		},
		clients: make(map[*websocket.Conn]*bus.Subscription),
		logger:  applog.New("WebSocketTransport"),
	}
}

// Handler returns the HTTP handler serving the WebSocket path.
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	return mux
}

// ListenAndServe serves clients until ctx ends, then stops accepting and
// waits for connected clients to receive the end of the stream.
func (s *WebSocketServer) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting WebSocket server on %s%s", s.cfg.Address, s.cfg.Path)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("websocket server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Infof("Closing server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	s.wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *WebSocketServer) Clients() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// handleWebSocket subscribes, upgrades and serves one client.
func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, err := Attach(s.bus, "websocket "+r.RemoteAddr, s.cfg.Subscriber)
	if err != nil {
		http.Error(w, "stream ended", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Unsubscribe()
		s.logger.Warnf("Upgrade error: %v", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	s.clientsMu.Lock()
	s.clients[conn] = sub
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Infof("Client %s connected, total: %d", r.RemoteAddr, total)

	// Reading detects the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Unsubscribe()
				return
			}
		}
	}()

	client := NewThrottle(&wsClient{conn: conn}, s.cfg.PublishRate)
	if err := Serve(r.Context(), sub, client); err != nil {
		s.logger.Debugf("Client %s: %v", r.RemoteAddr, err)
	}

	s.clientsMu.Lock()
	delete(s.clients, conn)
	total = len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Infof("Client %s disconnected, total: %d", r.RemoteAddr, total)
}

// wsClient is the bus consumer for one connection.
type wsClient struct {
	conn *websocket.Conn
}

func (c *wsClient) Receive(f frame.AnalysisFrame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", bus.ErrDisconnect, err)
	}
	return nil
}

// Finish sends the status record and a close frame, unless the client
// already left.
func (c *wsClient) Finish(status error) error {
	if errors.Is(status, bus.ErrUnsubscribed) {
		return nil
	}
	data, err := frame.EncodeStatus(status)
	if err != nil {
		return err
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of stream")
	_ = c.write(websocket.CloseMessage, msg)
	return nil
}

func (c *wsClient) Close() error {
	return c.conn.Close()
}

func (c *wsClient) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Ensure wsClient satisfies the interface
var _ Transport = (*wsClient)(nil)
