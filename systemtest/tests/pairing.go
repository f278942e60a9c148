package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/EternisAI/silo-relay/internal/api/http/dto"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agentID = "system-agent-1"

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Event: event, Data: raw}))
}

func receive(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, event, env.Event, "payload: %s", string(env.Data))
	return env.Data
}

// TestPairingFlow drives one agent and one viewer through code issue, HTTP
// pairing, stream request and a relayed frame.
func TestPairingFlow(t *testing.T, env *Env) {
	agent := dial(t, env.WSURL)
	send(t, agent, protocol.EventRegisterDevice, agentID)
	receive(t, agent, protocol.EventDeviceRegistered)

	send(t, agent, protocol.EventGeneratePairingCode, agentID)
	var assigned protocol.PairingCodeAssigned
	require.NoError(t, json.Unmarshal(receive(t, agent, protocol.EventPairingCode), &assigned))
	require.Len(t, assigned.PairingCode, 6)

	token := login(t, env.Router, "alice@example.com", "password123")

	t.Run("devices empty before pairing", func(t *testing.T) {
		rr := doAuthJSON(env.Router, "GET", "/api/devices", token, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"devices":[]}`, rr.Body.String())
	})

	t.Run("pair rejects unknown code", func(t *testing.T) {
		wrong := "000000"
		if assigned.PairingCode == wrong {
			wrong = "000001"
		}
		rr := doAuthJSON(env.Router, "POST", "/api/pair", token, dto.PairRequest{PairingCode: wrong})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	rr := doAuthJSON(env.Router, "POST", "/api/pair", token, dto.PairRequest{PairingCode: assigned.PairingCode})
	require.Equal(t, http.StatusOK, rr.Code)
	var paired dto.PairResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &paired))
	assert.Equal(t, agentID, paired.DeviceID)

	rr = doAuthJSON(env.Router, "GET", "/api/devices", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var devices dto.DevicesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &devices))
	require.Len(t, devices.Devices, 1)
	assert.Equal(t, agentID, devices.Devices[0].ID)
	assert.True(t, devices.Devices[0].Online)

	viewer := dial(t, env.WSURL)
	send(t, viewer, protocol.EventRegisterParent, protocol.RegisterParent{Token: token})
	receive(t, viewer, protocol.EventParentRegistered)
	var status protocol.DeviceStatus
	require.NoError(t, json.Unmarshal(receive(t, viewer, protocol.EventDeviceStatus), &status))
	assert.Equal(t, protocol.DeviceStatus{DeviceID: agentID, Online: true}, status)

	send(t, viewer, protocol.EventRequestStream, protocol.RequestStream{Token: token})
	receive(t, agent, protocol.EventParentViewing)
	start := receive(t, agent, protocol.EventRequestStream)
	requested := receive(t, viewer, protocol.EventStreamRequested)
	assert.JSONEq(t, string(start), string(requested))

	send(t, agent, protocol.EventFrame, []map[string]string{{"deviceId": agentID, "dataUrl": "data:image/jpeg;base64,/9j/"}})
	frame := receive(t, viewer, protocol.EventFrame)
	assert.JSONEq(t, `{"deviceId":"`+agentID+`","dataUrl":"data:image/jpeg;base64,/9j/"}`, string(frame))

	// the viewer leaving stops the capture once
	viewer.Close()
	receive(t, agent, protocol.EventStopStream)
}

func TestAdmin(t *testing.T, router *gin.Engine, apiKey string) {
	t.Run("missing key", func(t *testing.T) {
		rr := doJSON(router, "GET", "/api/admin/agents", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("list agents", func(t *testing.T) {
		req := doAdmin(router, "GET", "/api/admin/agents", apiKey)
		require.Equal(t, http.StatusOK, req.Code)

		var resp dto.AdminAgentsResponse
		require.NoError(t, json.Unmarshal(req.Body.Bytes(), &resp))
		require.GreaterOrEqual(t, resp.Count, 1)

		var found bool
		for _, a := range resp.Agents {
			if a.ID == agentID {
				found = true
				assert.Equal(t, []string{"alice@example.com"}, a.Viewers)
				assert.Len(t, a.PairingCode, 6)
			}
		}
		assert.True(t, found)
	})

	t.Run("flush snapshot", func(t *testing.T) {
		rr := doAdmin(router, "POST", "/api/admin/snapshot", apiKey)
		assert.Equal(t, http.StatusAccepted, rr.Code)
	})
}
