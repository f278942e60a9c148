// Package registrytest provides an in-memory registry.Conn for tests.
package registrytest

import (
	"errors"
	"sync"

	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("connection closed")

// Conn records every message sent to it.
type Conn struct {
	id string

	mu       sync.Mutex
	messages []protocol.Message
	closed   bool
}

func NewConn() *Conn {
	return &Conn{id: uuid.New().String()}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.messages = append(c.messages, msg)
	return nil
}

// Close makes further sends fail, as a torn down socket would.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Events returns the event names of the recorded messages in order.
func (c *Conn) Events() []string {
	msgs := c.Messages()
	events := make([]string, len(msgs))
	for i, m := range msgs {
		events[i] = m.EventName()
	}
	return events
}

// Last returns the most recent message, or nil.
func (c *Conn) Last() protocol.Message {
	msgs := c.Messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
}

// Verifier treats every non-empty token as the identity it names, except
// tokens listed in Reject.
type Verifier struct {
	Reject map[string]bool
}

func (v Verifier) Verify(token string) (string, error) {
	if token == "" || v.Reject[token] {
		return "", errors.New("invalid token")
	}
	return token, nil
}
