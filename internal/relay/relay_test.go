package relay

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/EternisAI/silo-relay/internal/registry/registrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	reg *registry.Registry
	dir *pairing.Directory
	svc *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewRegistry(registrytest.Verifier{Reject: map[string]bool{"expired": true}}, nil)
	dir := pairing.NewDirectory(reg, nil)
	return &fixture{
		reg: reg,
		dir: dir,
		svc: NewService(reg, dir, Config{MaxFrameBytes: 64}),
	}
}

func (f *fixture) agent(t *testing.T, agentID string) *registrytest.Conn {
	t.Helper()
	conn := registrytest.NewConn()
	_, err := f.reg.RegisterAgent(agentID, conn, "")
	require.NoError(t, err)
	return conn
}

func (f *fixture) viewer(t *testing.T, identity string) *registrytest.Conn {
	t.Helper()
	conn := registrytest.NewConn()
	_, err := f.reg.RegisterViewer(identity, conn)
	require.NoError(t, err)
	return conn
}

// pair registers agent and viewer and pairs them.
func (f *fixture) pair(t *testing.T, agentID, identity string) (agentConn, viewerConn *registrytest.Conn) {
	t.Helper()
	agentConn = f.agent(t, agentID)
	viewerConn = f.viewer(t, identity)
	code, err := f.dir.GenerateCode(agentID)
	require.NoError(t, err)
	_, err = f.dir.Pair(identity, code)
	require.NoError(t, err)
	return agentConn, viewerConn
}

func TestNewService_DefaultMaxFrame(t *testing.T) {
	reg := registry.NewRegistry(registrytest.Verifier{}, nil)
	svc := NewService(reg, pairing.NewDirectory(reg, nil), Config{})
	assert.Equal(t, DefaultMaxFrameBytes, svc.maxFrameBytes)
}

func TestOffer_ForwardedVerbatim(t *testing.T) {
	f := newFixture(t)
	agentConn, _ := f.pair(t, "dev-1", "alice@x")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, f.svc.Offer("alice@x", offer))

	msg, ok := agentConn.Last().(*protocol.OfferToAgent)
	require.True(t, ok)
	assert.Equal(t, "alice@x", msg.ParentEmail)
	assert.JSONEq(t, string(offer), string(msg.Offer))
}

func TestOffer_Failures(t *testing.T) {
	f := newFixture(t)
	agentConn, _ := f.pair(t, "dev-1", "alice@x")
	f.viewer(t, "bob@x")

	err := f.svc.Offer("expired", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, protocol.ErrInvalidCredential)

	err = f.svc.Offer("bob@x", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, protocol.ErrNoPairedAgent)

	f.reg.MarkHandleClosed(agentConn)
	err = f.svc.Offer("alice@x", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, protocol.ErrAgentOffline)

	assert.Empty(t, agentConn.Messages())
}

func TestAnswer_ForwardedToPairedViewer(t *testing.T) {
	f := newFixture(t)
	_, viewerConn := f.pair(t, "dev-1", "alice@x")

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	require.NoError(t, f.svc.Answer("dev-1", answer))

	msg, ok := viewerConn.Last().(*protocol.AnswerToViewer)
	require.True(t, ok)
	assert.Equal(t, "dev-1", msg.DeviceID)
	assert.JSONEq(t, string(answer), string(msg.Answer))
}

func TestAnswer_Failures(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "dev-lonely")
	_, viewerConn := f.pair(t, "dev-1", "alice@x")

	err := f.svc.Answer("", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, protocol.ErrMissingAgentID)

	err = f.svc.Answer("dev-lonely", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, protocol.ErrNoPairedViewer)

	f.reg.MarkHandleClosed(viewerConn)
	err = f.svc.Answer("dev-1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, protocol.ErrViewerOffline)
}

func TestCandidates_BothDirections(t *testing.T) {
	f := newFixture(t)
	agentConn, viewerConn := f.pair(t, "dev-1", "alice@x")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.ViewerCandidate("alice@x", json.RawMessage(`{"candidate":"v"}`)))
		require.NoError(t, f.svc.AgentCandidate("dev-1", json.RawMessage(`{"candidate":"a"}`)))
	}

	assert.Len(t, agentConn.Messages(), 3)
	assert.Len(t, viewerConn.Messages(), 3)

	toAgent := agentConn.Last().(*protocol.CandidateToAgent)
	assert.Equal(t, "alice@x", toAgent.ParentEmail)
	toViewer := viewerConn.Last().(*protocol.CandidateToViewer)
	assert.Equal(t, "dev-1", toViewer.DeviceID)
}

func TestCandidate_SendFailureReportsOffline(t *testing.T) {
	f := newFixture(t)
	agentConn, _ := f.pair(t, "dev-1", "alice@x")
	agentConn.Close()

	err := f.svc.ViewerCandidate("alice@x", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, protocol.ErrAgentOffline)
}

func TestRequestStream_EndToEnd(t *testing.T) {
	f := newFixture(t)
	agentConn, viewerConn := f.pair(t, "dev-1", "alice@x")

	requestID, err := f.svc.RequestStream("alice@x", viewerConn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(requestID, "req-"))

	assert.Equal(t, []string{protocol.EventParentViewing, protocol.EventRequestStream}, agentConn.Events())
	viewing := agentConn.Messages()[0].(*protocol.ParentViewing)
	assert.Equal(t, "alice@x", viewing.ParentEmail)
	start := agentConn.Messages()[1].(*protocol.StartCapture)
	assert.Equal(t, requestID, start.RequestID)

	requested, ok := viewerConn.Last().(*protocol.StreamRequested)
	require.True(t, ok)
	assert.Equal(t, requestID, requested.RequestID)

	fast, ok := f.reg.FastPath("dev-1")
	require.True(t, ok)
	assert.Equal(t, viewerConn.ID(), fast.ID())

	viewerConn.Reset()
	f.svc.SubmitFrame("dev-1", "data:image/jpeg;base64,AAA")

	frame, ok := viewerConn.Last().(*protocol.FrameToViewer)
	require.True(t, ok)
	assert.Equal(t, "dev-1", frame.DeviceID)
	assert.Equal(t, "data:image/jpeg;base64,AAA", frame.DataURL)
}

func TestRequestStream_Unpaired(t *testing.T) {
	f := newFixture(t)
	agentConn := f.agent(t, "dev-1")
	bob := f.viewer(t, "bob@x")

	_, err := f.svc.RequestStream("bob@x", bob)
	assert.ErrorIs(t, err, protocol.ErrNoPairedAgent)
	assert.Empty(t, agentConn.Messages())
}

func TestRequestStream_AgentOffline(t *testing.T) {
	f := newFixture(t)
	agentConn, viewerConn := f.pair(t, "dev-2", "alice@x")

	_, err := f.svc.RequestStream("alice@x", viewerConn)
	require.NoError(t, err)

	f.svc.HandleDisconnect(agentConn)

	_, err = f.svc.RequestStream("alice@x", viewerConn)
	assert.ErrorIs(t, err, protocol.ErrAgentOffline)

	_, ok := f.reg.FastPath("dev-2")
	assert.False(t, ok)
}

func TestSubmitFrame_InvalidNeverDelivered(t *testing.T) {
	f := newFixture(t)
	_, viewerConn := f.pair(t, "dev-1", "alice@x")
	_, err := f.svc.RequestStream("alice@x", viewerConn)
	require.NoError(t, err)
	viewerConn.Reset()

	for i := 0; i < 50; i++ {
		f.svc.SubmitFrame("", "data:image/jpeg;base64,AAA")
		f.svc.SubmitFrame("dev-1", "")
		f.svc.SubmitFrame("dev-1", strings.Repeat("A", 65))
	}

	assert.Empty(t, viewerConn.Messages())
	assert.Equal(t, 2, f.svc.dropped.Len(), "one key per drop reason")
}

func TestSubmitFrame_ReverseLookupWithoutFastPath(t *testing.T) {
	f := newFixture(t)
	_, viewerConn := f.pair(t, "dev-1", "alice@x")

	f.svc.SubmitFrame("dev-1", "data:image/png;base64,BB")

	frame, ok := viewerConn.Last().(*protocol.FrameToViewer)
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,BB", frame.DataURL)
}

func TestSubmitFrame_DropReasonsLoggedOncePerAgent(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "dev-1")
	_, viewerConn := f.pair(t, "dev-2", "alice@x")
	f.reg.MarkHandleClosed(viewerConn)

	for i := 0; i < 10; i++ {
		f.svc.SubmitFrame("dev-1", "data:x")
		f.svc.SubmitFrame("dev-2", "data:x")
	}

	assert.Equal(t, 2, f.svc.dropped.Len())
	assert.False(t, f.svc.dropped.First("dev-1:noparent"))
	assert.False(t, f.svc.dropped.First("dev-2:parentoffline"))
}

func TestSubmitFrame_FastPathPrecedence(t *testing.T) {
	f := newFixture(t)
	_, alice := f.pair(t, "dev-1", "alice@x")
	other := registrytest.NewConn()
	f.reg.SetFastPath("dev-1", other)

	f.svc.SubmitFrame("dev-1", "data:x")

	assert.Len(t, other.Messages(), 1)
	assert.Empty(t, alice.Messages())
}

func TestSubmitFrame_RePairDropsStaleFastPath(t *testing.T) {
	f := newFixture(t)
	_, alice := f.pair(t, "dev-1", "alice@x")
	_, err := f.svc.RequestStream("alice@x", alice)
	require.NoError(t, err)

	f.agent(t, "dev-2")
	code, err := f.dir.GenerateCode("dev-2")
	require.NoError(t, err)
	_, err = f.dir.Pair("alice@x", code)
	require.NoError(t, err)

	_, ok := f.reg.FastPath("dev-1")
	assert.False(t, ok)

	bob := f.viewer(t, "bob@x")
	code, err = f.dir.GenerateCode("dev-1")
	require.NoError(t, err)
	_, err = f.dir.Pair("bob@x", code)
	require.NoError(t, err)

	alice.Reset()
	bob.Reset()
	f.svc.SubmitFrame("dev-1", "data:image/jpeg;base64,AAA")

	assert.Empty(t, alice.Messages())
	require.Len(t, bob.Messages(), 1)
	frame, ok := bob.Last().(*protocol.FrameToViewer)
	require.True(t, ok)
	assert.Equal(t, "dev-1", frame.DeviceID)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)
	agentConn, _ := f.pair(t, "dev-1", "alice@x")

	require.NoError(t, f.svc.UpdateSettings("alice@x", 1280, 720, 5))

	settings, ok := agentConn.Last().(*protocol.CaptureSettings)
	require.True(t, ok)
	assert.Equal(t, protocol.CaptureSettings{Width: 1280, Height: 720, FPS: 5}, *settings)
}

func TestControlMessages_SilentWhenUnreachable(t *testing.T) {
	f := newFixture(t)
	agentConn, _ := f.pair(t, "dev-1", "alice@x")
	f.viewer(t, "bob@x")
	f.reg.MarkHandleClosed(agentConn)

	assert.NoError(t, f.svc.UpdateSettings("bob@x", 1, 1, 1))
	assert.NoError(t, f.svc.StopStream("bob@x"))
	assert.NoError(t, f.svc.UpdateSettings("alice@x", 1, 1, 1))
	assert.NoError(t, f.svc.StopStream("alice@x"))

	assert.ErrorIs(t, f.svc.StopStream("expired"), protocol.ErrInvalidCredential)
	assert.Empty(t, agentConn.Messages())
}

func TestStopStream_KeepsFastPath(t *testing.T) {
	f := newFixture(t)
	agentConn, viewerConn := f.pair(t, "dev-1", "alice@x")
	_, err := f.svc.RequestStream("alice@x", viewerConn)
	require.NoError(t, err)

	require.NoError(t, f.svc.StopStream("alice@x"))

	_, ok := agentConn.Last().(*protocol.StopCapture)
	assert.True(t, ok)
	_, ok = f.reg.FastPath("dev-1")
	assert.True(t, ok)
}

func TestHandleDisconnect_ViewerSendsExactlyOneStop(t *testing.T) {
	f := newFixture(t)
	agentConn, viewerConn := f.pair(t, "dev-1", "alice@x")
	_, err := f.svc.RequestStream("alice@x", viewerConn)
	require.NoError(t, err)
	agentConn.Reset()

	result := f.svc.HandleDisconnect(viewerConn)
	assert.Equal(t, []string{"alice@x"}, result.Viewers)

	assert.Equal(t, []string{protocol.EventStopStream}, agentConn.Events())
	_, ok := f.reg.FastPath("dev-1")
	assert.False(t, ok)

	// a second close of the same handle is a no-op
	f.svc.HandleDisconnect(viewerConn)
	assert.Len(t, agentConn.Messages(), 1)
}

func TestHandleDisconnect_ViewerWithOfflineAgent(t *testing.T) {
	f := newFixture(t)
	agentConn, viewerConn := f.pair(t, "dev-1", "alice@x")
	f.svc.HandleDisconnect(agentConn)
	agentConn.Reset()

	f.svc.HandleDisconnect(viewerConn)
	assert.Empty(t, agentConn.Messages())
}

func TestHandleDisconnect_AgentDoesNotNotifyViewer(t *testing.T) {
	f := newFixture(t)
	agentConn, viewerConn := f.pair(t, "dev-1", "alice@x")
	viewerConn.Reset()

	result := f.svc.HandleDisconnect(agentConn)
	assert.Equal(t, []string{"dev-1"}, result.Agents)
	assert.Empty(t, viewerConn.Messages())

	agent, ok := f.reg.LookupAgent("dev-1")
	require.True(t, ok)
	assert.False(t, agent.Online)
}

func TestHandleDisconnect_SendFailureSwallowed(t *testing.T) {
	f := newFixture(t)
	agentConn, viewerConn := f.pair(t, "dev-1", "alice@x")
	agentConn.Close()

	assert.NotPanics(t, func() {
		f.svc.HandleDisconnect(viewerConn)
	})
}

func TestDiagnostics_LoggedOncePerAgent(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.svc.FramePing("dev-1", "ok")
		f.svc.FrameTest("dev-1", 10)
	}
	assert.Equal(t, 2, f.svc.diag.Len())
}
