package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/EternisAI/silo-relay/internal/metrics"
	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/EternisAI/silo-relay/internal/relay"
)

const DefaultQueueSize = 1024

type event struct {
	conn   registry.Conn
	msg    protocol.Message
	closed bool
}

// Dispatcher applies inbound events one at a time, in arrival order, on a
// single goroutine. Events from one connection keep their submission order.
type Dispatcher struct {
	registry  *registry.Registry
	directory *pairing.Directory
	relay     *relay.Service

	events chan event
	done   chan struct{}
}

func NewDispatcher(reg *registry.Registry, dir *pairing.Directory, svc *relay.Service, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		registry:  reg,
		directory: dir,
		relay:     svc,
		events:    make(chan event, queueSize),
		done:      make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	slog.Info("Event dispatcher started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Event dispatcher stopped")
			return
		case ev := <-d.events:
			if ev.closed {
				d.handleClosed(ev.conn)
				continue
			}
			d.dispatch(ev.conn, ev.msg)
		}
	}
}

// Submit queues msg from conn. It blocks while the queue is full and returns
// false once the dispatcher has stopped.
func (d *Dispatcher) Submit(conn registry.Conn, msg protocol.Message) bool {
	select {
	case d.events <- event{conn: conn, msg: msg}:
		return true
	case <-d.done:
		return false
	}
}

// Closed queues the disconnect of conn behind any events it already submitted.
func (d *Dispatcher) Closed(conn registry.Conn) {
	select {
	case d.events <- event{conn: conn, closed: true}:
	case <-d.done:
	}
}

func (d *Dispatcher) dispatch(conn registry.Conn, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic while handling event",
				"event", msg.EventName(),
				"conn_id", conn.ID(),
				"panic", r,
				"stack", string(debug.Stack()))
			d.replyError(conn, msg, protocol.ErrInternal)
		}
	}()

	metrics.EventsReceived.WithLabelValues(msg.EventName()).Inc()

	if err := d.Handle(conn, msg); err != nil {
		d.replyError(conn, msg, err)
	}
}

func (d *Dispatcher) handleClosed(conn registry.Conn) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic while handling disconnect", "conn_id", conn.ID(), "panic", r)
		}
	}()
	d.relay.HandleDisconnect(conn)
}

func (d *Dispatcher) replyError(conn registry.Conn, msg protocol.Message, err error) {
	wire := protocol.AsError(err)
	metrics.EventErrors.WithLabelValues(wire.Code).Inc()
	slog.Warn("Event failed",
		"event", msg.EventName(),
		"conn_id", conn.ID(),
		"code", wire.Code,
		"error", err)

	if sendErr := conn.Send(wire); sendErr != nil {
		slog.Debug("Failed to send error event", "conn_id", conn.ID(), "error", sendErr)
	}
}

// Handle applies one decoded event from conn. The returned error is reported
// back to conn; it never affects other connections.
func (d *Dispatcher) Handle(conn registry.Conn, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.RegisterDevice:
		return d.registerDevice(conn, m)
	case *protocol.RegisterParent:
		return d.registerParent(conn, m)
	case *protocol.GeneratePairingCode:
		code, err := d.directory.GenerateCode(m.DeviceID)
		if err != nil {
			return fmt.Errorf("generate pairing code for %q: %w", m.DeviceID, err)
		}
		return conn.Send(&protocol.PairingCodeAssigned{PairingCode: code})
	case *protocol.Offer:
		return d.relay.Offer(m.Token, m.Offer)
	case *protocol.Answer:
		return d.relay.Answer(m.DeviceID, m.Answer)
	case *protocol.Candidate:
		if m.FromViewer() {
			return d.relay.ViewerCandidate(m.Token, m.Candidate)
		}
		return d.relay.AgentCandidate(m.DeviceID, m.Candidate)
	case *protocol.RequestStream:
		_, err := d.relay.RequestStream(m.Token, conn)
		return err
	case *protocol.StreamSettings:
		return d.relay.UpdateSettings(m.Token, m.Width, m.Height, m.FPS)
	case *protocol.StopStream:
		return d.relay.StopStream(m.Token)
	case *protocol.Frame:
		d.relay.SubmitFrame(m.DeviceID, m.DataURL)
		return nil
	case *protocol.FramePing:
		d.relay.FramePing(m.DeviceID, m.Status)
		return nil
	case *protocol.FrameTest:
		d.relay.FrameTest(m.DeviceID, m.Size)
		return nil
	default:
		return fmt.Errorf("%w: unexpected event %s", protocol.ErrBadRequest, msg.EventName())
	}
}

func (d *Dispatcher) registerDevice(conn registry.Conn, m *protocol.RegisterDevice) error {
	agent, err := d.registry.RegisterAgent(m.DeviceID, conn, m.PairingCode)
	if err != nil {
		return err
	}

	if err := conn.Send(&protocol.DeviceRegistered{DeviceID: agent.ID}); err != nil {
		return err
	}
	if agent.PairingCode != "" {
		return conn.Send(&protocol.PairingCodeAssigned{PairingCode: agent.PairingCode})
	}
	return nil
}

func (d *Dispatcher) registerParent(conn registry.Conn, m *protocol.RegisterParent) error {
	viewer, err := d.registry.RegisterViewer(m.Token, conn)
	if err != nil {
		return err
	}

	if err := conn.Send(&protocol.ParentRegistered{}); err != nil {
		return err
	}

	agentID, ok := d.directory.ResolveAgentFor(viewer)
	if !ok {
		return nil
	}
	agent, ok := d.registry.LookupAgent(agentID)
	if !ok {
		return nil
	}
	return conn.Send(&protocol.DeviceStatus{DeviceID: agent.ID, Online: agent.Online})
}
