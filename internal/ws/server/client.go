package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/silo-relay/internal/metrics"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one WebSocket connection. It satisfies registry.Conn.
type Client struct {
	id         string
	conn       *websocket.Conn
	dispatcher *Dispatcher
	config     Config
	remoteAddr string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, dispatcher *Dispatcher, config Config, remoteAddr string) *Client {
	return &Client{
		id:         uuid.New().String(),
		conn:       conn,
		dispatcher: dispatcher,
		config:     config,
		remoteAddr: remoteAddr,
		send:       make(chan []byte, config.SendBuffer),
		done:       make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send encodes msg and queues it for the write pump. It never blocks: when
// the queue is full the message is dropped.
func (c *Client) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		if msg.EventName() == protocol.EventFrame {
			metrics.FramesDropped.WithLabelValues(metrics.DropSendBufferFull).Inc()
		}
		slog.Debug("Send buffer full, dropping message", "conn_id", c.id, "event", msg.EventName())
		return ErrSendBufferFull
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		metrics.ConnectionsActive.Dec()
	})
}

// readPump decodes inbound messages and hands them to the dispatcher. When the
// connection ends the disconnect is queued behind everything it submitted.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.dispatcher.Closed(c)
		slog.Info("Connection closed", "conn_id", c.id, "remote_addr", c.remoteAddr)
	}()

	c.conn.SetReadLimit(c.config.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				metrics.FramesDropped.WithLabelValues(metrics.DropOversized).Inc()
				slog.Warn("Message exceeds read limit", "conn_id", c.id, "limit", c.config.MaxMessageBytes)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read error", "conn_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		msg, err := protocol.Decode(raw)
		if errors.Is(err, protocol.ErrMalformedFrame) {
			// frames are never answered; the relay drops an empty one as invalid
			msg, err = &protocol.Frame{}, nil
		}
		if err != nil {
			slog.Debug("Rejected inbound message", "conn_id", c.id, "error", err)
			metrics.EventErrors.WithLabelValues(protocol.ErrBadRequest.Code).Inc()
			_ = c.Send(protocol.ErrBadRequest)
			continue
		}

		if !c.dispatcher.Submit(c, msg) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("WebSocket write error", "conn_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
