package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"
)

const (
	sendChannelBuffer = 100
	pingInterval      = 30 * time.Second
	writeWait         = 10 * time.Second
	initialDelay      = 1 * time.Second
	maxDelay          = 30 * time.Second
	backoffFactor     = 2
)

var ErrSendChannelFull = errors.New("send channel full")

type Config struct {
	ServerURL   string `mapstructure:"server_url"`
	AgentID     string `mapstructure:"agent_id"`
	PairingCode string `mapstructure:"pairing_code"`
}

// Handler receives the capture control messages addressed to this agent.
type Handler interface {
	StartCapture(requestID string)
	UpdateSettings(settings protocol.CaptureSettings)
	StopCapture()
	ViewerJoined(viewer string)
}

// Client keeps an agent registered with the relay, reconnecting with
// exponential backoff.
type Client struct {
	serverURL  string
	configPath string // config file that receives the generated agent id and code
	handler    Handler

	agentID     string
	pairingCode string
	conn        *websocket.Conn

	sendCh chan protocol.Message
	stopCh chan struct{}
	doneCh chan struct{}

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	mu sync.RWMutex
}

func NewClient(config Config, configPath string, handler Handler) *Client {
	return &Client{
		serverURL:         config.ServerURL,
		agentID:           config.AgentID,
		pairingCode:       config.PairingCode,
		configPath:        configPath,
		handler:           handler,
		sendCh:            make(chan protocol.Message, sendChannelBuffer),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
		reconnectDelay:    initialDelay,
		maxReconnectDelay: maxDelay,
	}
}

// Start assigns an agent id if none is configured and begins connecting.
func (c *Client) Start() error {
	if c.serverURL == "" {
		return fmt.Errorf("server url is required")
	}

	c.mu.Lock()
	generated := c.agentID == ""
	if generated {
		c.agentID = uuid.New().String()
	}
	agentID := c.agentID
	c.mu.Unlock()

	if generated {
		slog.Info("Generated agent id", "agent_id", agentID)
		c.persist()
	}

	go c.connectionLoop()
	return nil
}

func (c *Client) Stop() error {
	slog.Info("Stopping relay client")
	close(c.stopCh)
	c.closeConn()
	<-c.doneCh
	slog.Info("Relay client stopped")
	return nil
}

// Send queues msg for the current connection without blocking.
func (c *Client) Send(msg protocol.Message) error {
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendChannelFull
	}
}

// SendFrame relays one encoded frame to whoever is viewing this agent.
func (c *Client) SendFrame(dataURL string) error {
	return c.Send(&protocol.Frame{DeviceID: c.AgentID(), DataURL: dataURL})
}

func (c *Client) AgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

func (c *Client) PairingCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pairingCode
}

func (c *Client) connectionLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if err := c.connect(); err != nil {
			slog.Error("Connection failed", "error", err, "retry_in", c.reconnectDelay)
			select {
			case <-time.After(c.reconnectDelay):
				c.increaseReconnectDelay()
				continue
			case <-c.stopCh:
				return
			}
		}

		c.reconnectDelay = initialDelay

		if err := c.handleConnection(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("Server closed connection")
			} else {
				slog.Error("Connection error", "error", err)
			}
		}

		c.closeConn()

		select {
		case <-c.stopCh:
			return
		case <-time.After(c.reconnectDelay):
			slog.Info("Reconnecting", "delay", c.reconnectDelay)
			c.increaseReconnectDelay()
		}
	}
}

func (c *Client) connect() error {
	slog.Info("Connecting to relay", "url", c.serverURL)

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	register := &protocol.RegisterDevice{DeviceID: c.agentID, PairingCode: c.pairingCode}
	c.mu.Unlock()

	if err := c.write(conn, register); err != nil {
		c.closeConn()
		return fmt.Errorf("failed to register: %w", err)
	}
	if register.PairingCode == "" {
		if err := c.write(conn, &protocol.GeneratePairingCode{DeviceID: register.DeviceID}); err != nil {
			c.closeConn()
			return fmt.Errorf("failed to request pairing code: %w", err)
		}
	}

	slog.Info("Connected to relay", "url", c.serverURL, "agent_id", register.DeviceID)
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) increaseReconnectDelay() {
	c.reconnectDelay = c.reconnectDelay * backoffFactor
	if c.reconnectDelay > c.maxReconnectDelay {
		c.reconnectDelay = c.maxReconnectDelay
	}
}

func (c *Client) write(conn *websocket.Conn, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) handleConnection() error {
	done := make(chan struct{})
	errChan := make(chan error, 2)

	go c.receiveLoop(done, errChan)
	go c.sendLoop(done, errChan)
	go c.pingLoop(done)

	err := <-errChan
	close(done)
	c.closeConn()
	return err
}

func (c *Client) receiveLoop(done chan struct{}, errChan chan error) {
	conn := c.currentConn()
	if conn == nil {
		errChan <- fmt.Errorf("connection is nil")
		return
	}

	for {
		select {
		case <-done:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			errChan <- err
			return
		}

		msg, err := protocol.DecodeFromRelay(raw)
		if err != nil {
			slog.Warn("Failed to decode message", "error", err)
			continue
		}

		slog.Debug("Message received", "event", msg.EventName())
		c.processMessage(msg)
	}
}

func (c *Client) sendLoop(done chan struct{}, errChan chan error) {
	for {
		select {
		case <-done:
			return
		case msg := <-c.sendCh:
			conn := c.currentConn()
			if conn == nil {
				errChan <- fmt.Errorf("connection is nil")
				return
			}

			if err := c.write(conn, msg); err != nil {
				slog.Error("Error sending message", "event", msg.EventName(), "error", err)
				errChan <- err
				return
			}
		}
	}
}

func (c *Client) pingLoop(done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.sendPing()
		}
	}
}

// sendPing queues a liveness ping. A full send queue skips this tick and
// leaves the connection up.
func (c *Client) sendPing() bool {
	if err := c.Send(&protocol.FramePing{DeviceID: c.AgentID(), Status: "alive"}); err != nil {
		slog.Warn("Skipping frame ping", "error", err)
		return false
	}
	slog.Debug("Frame ping sent")
	return true
}

func (c *Client) processMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.DeviceRegistered:
		slog.Info("Registered with relay", "agent_id", m.DeviceID)

	case *protocol.PairingCodeAssigned:
		c.mu.Lock()
		changed := c.pairingCode != m.PairingCode
		c.pairingCode = m.PairingCode
		c.mu.Unlock()

		slog.Info("Pairing code", "pairing_code", m.PairingCode)
		if changed {
			c.persist()
		}

	case *protocol.ParentViewing:
		c.handler.ViewerJoined(m.ParentEmail)

	case *protocol.StartCapture:
		c.handler.StartCapture(m.RequestID)

	case *protocol.CaptureSettings:
		c.handler.UpdateSettings(*m)

	case *protocol.StopCapture:
		c.handler.StopCapture()

	case *protocol.Error:
		slog.Warn("Relay reported an error", "code", m.Code, "message", m.Message)

	default:
		slog.Debug("Ignoring message", "event", msg.EventName())
	}
}

// persist writes the agent id and pairing code into the relay section of the
// config file so they survive restarts.
func (c *Client) persist() {
	if c.configPath == "" {
		return
	}
	if err := c.saveToConfig(); err != nil {
		slog.Error("Failed to persist agent identity to config", "error", err)
		return
	}
	slog.Info("Agent identity persisted to config", "config_path", c.configPath)
}

func (c *Client) saveToConfig() error {
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config map[string]interface{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if config == nil {
		config = make(map[string]interface{})
	}

	relayConfig, ok := config["relay"].(map[string]interface{})
	if !ok {
		relayConfig = make(map[string]interface{})
		config["relay"] = relayConfig
	}

	c.mu.RLock()
	relayConfig["agent_id"] = c.agentID
	if c.pairingCode != "" {
		relayConfig["pairing_code"] = c.pairingCode
	}
	c.mu.RUnlock()

	updatedData, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	comment := "# Agent identity updated on " + time.Now().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(c.configPath, []byte(comment+string(updatedData)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
