package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/EternisAI/silo-relay/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	DefaultMaxMessageBytes = 11 << 20
	DefaultSendBuffer      = 256
	DefaultPongWait        = 60 * time.Second
	DefaultWriteWait       = 10 * time.Second
)

type Config struct {
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	QueueSize       int           `mapstructure:"queue_size"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
}

func (c Config) withDefaults() Config {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	return c
}

// Server upgrades HTTP requests to WebSocket clients feeding one Dispatcher.
type Server struct {
	config     Config
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*Client
}

func NewServer(config Config, dispatcher *Dispatcher) *Server {
	config = config.withDefaults()
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		upgrader:   makeUpgrader(config.AllowedOrigins),
		clients:    make(map[string]*Client),
	}
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// HandleWebSocket upgrades the request and starts the client's pumps.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(conn, s.dispatcher, s.config, r.RemoteAddr)
	s.track(client)

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	slog.Info("Connection opened", "conn_id", client.ID(), "remote_addr", r.RemoteAddr)

	go client.writePump()
	go func() {
		client.readPump()
		s.untrack(client)
	}()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleWebSocket(w, r)
}

func (s *Server) track(c *Client) {
	s.mu.Lock()
	s.clients[c.ID()] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID())
	s.mu.Unlock()
}

func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	slog.Info("WebSocket server closed", "connections", len(clients))
}
