// Package gateway is the ingress surface: transports POST inbound messages
// to /v1/messages and receive outbound replies over a WebSocket feed.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hxqlab/agentrelay/internal/config"
	"github.com/hxqlab/agentrelay/pkg/protocol"
)

// Submitter accepts inbound messages for asynchronous processing.
type Submitter interface {
	Submit(ctx context.Context, msg *protocol.InboundMessage)
}

// Server is the HTTP/WebSocket ingress. It implements relay.Sink by
// broadcasting replies to every connected WebSocket client.
type Server struct {
	cfg        config.GatewayConfig
	dispatcher Submitter
	upgrader   websocket.Upgrader
	httpSrv    *http.Server

	mu       sync.Mutex
	clients  map[*wsClient]bool
	limiters map[string]*rate.Limiter
}

type wsClient struct {
	conn *websocket.Conn
	send chan protocol.OutboundReply
}

// NewServer builds the ingress server. The dispatcher is attached later via
// SetDispatcher so the relay can be wired with the server as its sink first.
func NewServer(cfg config.GatewayConfig) *Server {
	s := &Server{
		cfg:      cfg,
		clients:  make(map[*wsClient]bool),
		limiters: make(map[string]*rate.Limiter),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetDispatcher attaches the message pipeline.
func (s *Server) SetDispatcher(d Submitter) { s.dispatcher = d }

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// authorized checks the bearer token when one is configured.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return auth == "Bearer "+s.cfg.Token
}

// limiter returns the per-sender rate limiter, creating it on first use.
func (s *Server) limiter(sender string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[sender]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(s.cfg.RateLimitRPM)/60.0), s.cfg.RateLimitRPM)
		s.limiters[sender] = l
	}
	return l
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var msg protocol.InboundMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20)).Decode(&msg); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if msg.Sender == "" {
		http.Error(w, "bad request: sender required", http.StatusBadRequest)
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if s.cfg.RateLimitRPM > 0 && !s.limiter(msg.Sender).Allow() {
		slog.Warn("gateway.rate_limited", "sender", msg.Sender)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	s.dispatcher.Submit(context.Background(), &msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": msg.ID})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway.upgrade_failed", "err", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan protocol.OutboundReply, 32)}
	s.mu.Lock()
	s.clients[client] = true
	n := len(s.clients)
	s.mu.Unlock()
	slog.Info("gateway.client_connected", "remote", conn.RemoteAddr().String(), "clients", n)

	go s.writeLoop(client)
	s.readLoop(client)
}

// readLoop drains (and discards) client frames until the connection closes.
func (s *Server) readLoop(c *wsClient) {
	defer s.dropClient(c)
	c.conn.SetReadLimit(1 << 20)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case reply, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(reply); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) dropClient(c *wsClient) {
	s.mu.Lock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// Send broadcasts a reply to all connected clients. A client whose buffer is
// full is dropped rather than allowed to stall the pipeline.
func (s *Server) Send(reply protocol.OutboundReply) {
	s.mu.Lock()
	var stalled []*wsClient
	delivered := 0
	for c := range s.clients {
		select {
		case c.send <- reply:
			delivered++
		default:
			stalled = append(stalled, c)
		}
	}
	s.mu.Unlock()

	for _, c := range stalled {
		slog.Warn("gateway.client_stalled", "remote", c.conn.RemoteAddr().String())
		s.dropClient(c)
	}
	if delivered == 0 {
		slog.Debug("gateway.reply_dropped", "to", reply.To, "kind", reply.Kind)
	}
}

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", s.handleMessages)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("gateway.listening", "addr", addr, "auth", s.cfg.Token != "")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes the listener and every WebSocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.dropClient(c)
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
