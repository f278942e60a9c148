package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/EternisAI/silo-relay/internal/registry/registrytest"
	"github.com/EternisAI/silo-relay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	reg  *registry.Registry
	dir  *pairing.Directory
	disp *Dispatcher
}

func newTestEnv() *testEnv {
	reg := registry.NewRegistry(registrytest.Verifier{Reject: map[string]bool{"bogus": true}}, nil)
	dir := pairing.NewDirectory(reg, nil)
	svc := relay.NewService(reg, dir, relay.Config{})
	return &testEnv{reg: reg, dir: dir, disp: NewDispatcher(reg, dir, svc, 16)}
}

func TestDispatcher_RegisterDevice(t *testing.T) {
	env := newTestEnv()
	conn := registrytest.NewConn()

	require.NoError(t, env.disp.Handle(conn, &protocol.RegisterDevice{DeviceID: "dev-1"}))
	assert.Equal(t, []string{protocol.EventDeviceRegistered}, conn.Events())

	// reconnect reporting a code: the code is stored and echoed back
	again := registrytest.NewConn()
	require.NoError(t, env.disp.Handle(again, &protocol.RegisterDevice{DeviceID: "dev-1", PairingCode: "123456"}))
	assert.Equal(t, []string{protocol.EventDeviceRegistered, protocol.EventPairingCode}, again.Events())
	assert.Equal(t, "123456", again.Last().(*protocol.PairingCodeAssigned).PairingCode)
}

func TestDispatcher_RegisterDevice_MissingID(t *testing.T) {
	env := newTestEnv()

	err := env.disp.Handle(registrytest.NewConn(), &protocol.RegisterDevice{})
	assert.ErrorIs(t, err, protocol.ErrMissingAgentID)
}

func TestDispatcher_GeneratePairingCode(t *testing.T) {
	env := newTestEnv()
	conn := registrytest.NewConn()
	require.NoError(t, env.disp.Handle(conn, &protocol.RegisterDevice{DeviceID: "dev-1"}))

	require.NoError(t, env.disp.Handle(conn, &protocol.GeneratePairingCode{DeviceID: "dev-1"}))
	first := conn.Last().(*protocol.PairingCodeAssigned).PairingCode
	assert.True(t, pairing.ValidCode(first))

	require.NoError(t, env.disp.Handle(conn, &protocol.GeneratePairingCode{DeviceID: "dev-1"}))
	assert.Equal(t, first, conn.Last().(*protocol.PairingCodeAssigned).PairingCode)

	err := env.disp.Handle(conn, &protocol.GeneratePairingCode{DeviceID: "ghost"})
	assert.ErrorIs(t, err, protocol.ErrAgentNotFound)
}

func TestDispatcher_RegisterParent(t *testing.T) {
	env := newTestEnv()
	agent := registrytest.NewConn()
	require.NoError(t, env.disp.Handle(agent, &protocol.RegisterDevice{DeviceID: "dev-1", PairingCode: "123456"}))
	_, err := env.dir.Pair("alice@x", "123456")
	require.NoError(t, err)

	viewer := registrytest.NewConn()
	require.NoError(t, env.disp.Handle(viewer, &protocol.RegisterParent{Token: "alice@x"}))

	assert.Equal(t, []string{protocol.EventParentRegistered, protocol.EventDeviceStatus}, viewer.Events())
	status := viewer.Last().(*protocol.DeviceStatus)
	assert.Equal(t, "dev-1", status.DeviceID)
	assert.True(t, status.Online)

	unpaired := registrytest.NewConn()
	require.NoError(t, env.disp.Handle(unpaired, &protocol.RegisterParent{Token: "bob@x"}))
	assert.Equal(t, []string{protocol.EventParentRegistered}, unpaired.Events())
}

func TestDispatcher_RegisterParent_InvalidToken(t *testing.T) {
	env := newTestEnv()

	err := env.disp.Handle(registrytest.NewConn(), &protocol.RegisterParent{Token: "bogus"})
	assert.ErrorIs(t, err, protocol.ErrInvalidCredential)
}

func TestDispatcher_RoutesSignaling(t *testing.T) {
	env := newTestEnv()
	agent := registrytest.NewConn()
	viewer := registrytest.NewConn()
	require.NoError(t, env.disp.Handle(agent, &protocol.RegisterDevice{DeviceID: "dev-1", PairingCode: "123456"}))
	require.NoError(t, env.disp.Handle(viewer, &protocol.RegisterParent{Token: "alice@x"}))
	_, err := env.dir.Pair("alice@x", "123456")
	require.NoError(t, err)
	agent.Reset()
	viewer.Reset()

	require.NoError(t, env.disp.Handle(viewer, &protocol.Offer{Token: "alice@x", Offer: json.RawMessage(`{"sdp":"o"}`)}))
	require.NoError(t, env.disp.Handle(agent, &protocol.Answer{DeviceID: "dev-1", Answer: json.RawMessage(`{"sdp":"a"}`)}))
	require.NoError(t, env.disp.Handle(viewer, &protocol.Candidate{Token: "alice@x", Candidate: json.RawMessage(`{}`)}))
	require.NoError(t, env.disp.Handle(agent, &protocol.Candidate{DeviceID: "dev-1", Candidate: json.RawMessage(`{}`)}))

	assert.Equal(t, []string{protocol.EventWebRTCOffer, protocol.EventWebRTCIce}, agent.Events())
	assert.Equal(t, []string{protocol.EventWebRTCAnswer, protocol.EventWebRTCIce}, viewer.Events())
}

func TestDispatcher_StreamAndFrames(t *testing.T) {
	env := newTestEnv()
	agent := registrytest.NewConn()
	viewer := registrytest.NewConn()
	require.NoError(t, env.disp.Handle(agent, &protocol.RegisterDevice{DeviceID: "dev-1", PairingCode: "123456"}))
	require.NoError(t, env.disp.Handle(viewer, &protocol.RegisterParent{Token: "alice@x"}))
	_, err := env.dir.Pair("alice@x", "123456")
	require.NoError(t, err)
	agent.Reset()
	viewer.Reset()

	require.NoError(t, env.disp.Handle(viewer, &protocol.RequestStream{Token: "alice@x"}))
	require.NoError(t, env.disp.Handle(viewer, &protocol.StreamSettings{Token: "alice@x", Width: 640, Height: 480, FPS: 2}))
	require.NoError(t, env.disp.Handle(agent, &protocol.Frame{DeviceID: "dev-1", DataURL: "data:image/jpeg;base64,AAA"}))
	require.NoError(t, env.disp.Handle(agent, &protocol.FramePing{DeviceID: "dev-1"}))
	require.NoError(t, env.disp.Handle(agent, &protocol.FrameTest{DeviceID: "dev-1", Size: 3}))
	require.NoError(t, env.disp.Handle(viewer, &protocol.StopStream{Token: "alice@x"}))

	assert.Equal(t, []string{
		protocol.EventParentViewing,
		protocol.EventRequestStream,
		protocol.EventStreamSettings,
		protocol.EventStopStream,
	}, agent.Events())
	assert.Equal(t, []string{protocol.EventStreamRequested, protocol.EventFrame}, viewer.Events())
}

func TestDispatcher_EmptyFrameDroppedSilently(t *testing.T) {
	env := newTestEnv()
	conn := registrytest.NewConn()

	for i := 0; i < 3; i++ {
		assert.NoError(t, env.disp.Handle(conn, &protocol.Frame{}))
	}
	assert.Empty(t, conn.Messages())
}

func TestDispatcher_UnexpectedEvent(t *testing.T) {
	env := newTestEnv()

	err := env.disp.Handle(registrytest.NewConn(), &protocol.DeviceStatus{})
	assert.ErrorIs(t, err, protocol.ErrBadRequest)
}

func TestDispatcher_RunRepliesWithErrorEvent(t *testing.T) {
	env := newTestEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.disp.Run(ctx)

	viewer := registrytest.NewConn()
	require.True(t, env.disp.Submit(viewer, &protocol.RequestStream{Token: "bob@x"}))

	assert.Eventually(t, func() bool {
		return len(viewer.Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	wire, ok := viewer.Last().(*protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrNoPairedAgent.Code, wire.Code)
}

func TestDispatcher_RunOrdersDisconnectAfterEvents(t *testing.T) {
	env := newTestEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := registrytest.NewConn()
	require.True(t, env.disp.Submit(agent, &protocol.RegisterDevice{DeviceID: "dev-1"}))
	env.disp.Closed(agent)

	go env.disp.Run(ctx)

	assert.Eventually(t, func() bool {
		a, ok := env.reg.LookupAgent("dev-1")
		return ok && !a.Online
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	env := newTestEnv()
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		env.disp.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// fill the queue so the only way out is the stopped dispatcher
	for i := 0; i < cap(env.disp.events); i++ {
		env.disp.events <- event{}
	}
	assert.False(t, env.disp.Submit(registrytest.NewConn(), &protocol.FrameTest{}))
}

type panicConn struct {
	*registrytest.Conn
	panicked bool
}

func (p *panicConn) Send(msg protocol.Message) error {
	if !p.panicked {
		p.panicked = true
		panic("boom")
	}
	return p.Conn.Send(msg)
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	env := newTestEnv()
	conn := &panicConn{Conn: registrytest.NewConn()}

	assert.NotPanics(t, func() {
		env.disp.dispatch(conn, &protocol.RegisterDevice{DeviceID: "dev-1"})
	})

	wire, ok := conn.Last().(*protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrInternal.Code, wire.Code)
}
