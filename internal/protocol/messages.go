package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event names shared by agents, viewers and the relay.
const (
	EventRegisterDevice      = "register-device"
	EventRegisterParent      = "register-parent"
	EventGeneratePairingCode = "generate-pairing-code"
	EventWebRTCOffer         = "webrtc-offer"
	EventWebRTCAnswer        = "webrtc-answer"
	EventWebRTCIce           = "webrtc-ice"
	EventRequestStream       = "request-stream"
	EventStreamSettings      = "stream-settings"
	EventStopStream          = "stop-stream"
	EventFrame               = "frame"
	EventFramePing           = "frame-ping"
	EventFrameTest           = "frame-test"

	EventDeviceRegistered = "device-registered"
	EventPairingCode      = "pairing-code"
	EventParentRegistered = "parent-registered"
	EventDeviceStatus     = "device-status"
	EventParentViewing    = "parent-viewing"
	EventStreamRequested  = "stream-requested"
	EventError            = "error"
)

// Envelope is the JSON frame carried by every WebSocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is any typed payload that can be put on the wire.
type Message interface {
	EventName() string
}

// Encode wraps msg in an Envelope.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.EventName(), err)
	}
	return json.Marshal(Envelope{Event: msg.EventName(), Data: data})
}

// Inbound events.

type RegisterDevice struct {
	DeviceID    string `json:"deviceId"`
	PairingCode string `json:"pairingCode,omitempty"`
}

// UnmarshalJSON accepts either a bare device id string or an object.
func (m *RegisterDevice) UnmarshalJSON(b []byte) error {
	if id, ok := bareString(b); ok {
		m.DeviceID = id
		return nil
	}
	type plain RegisterDevice
	return json.Unmarshal(b, (*plain)(m))
}

type RegisterParent struct {
	Token string `json:"token"`
}

type GeneratePairingCode struct {
	DeviceID string `json:"deviceId"`
}

func (m *GeneratePairingCode) UnmarshalJSON(b []byte) error {
	if id, ok := bareString(b); ok {
		m.DeviceID = id
		return nil
	}
	type plain GeneratePairingCode
	return json.Unmarshal(b, (*plain)(m))
}

type Offer struct {
	Token string          `json:"token"`
	Offer json.RawMessage `json:"offer"`
}

type Answer struct {
	DeviceID string          `json:"deviceId"`
	Answer   json.RawMessage `json:"answer"`
}

// Candidate is an ICE candidate in either direction. A candidate carrying a
// token comes from a viewer; one carrying only a device id comes from an agent.
type Candidate struct {
	Token     string          `json:"token,omitempty"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
	Target    string          `json:"target,omitempty"`
}

func (m *Candidate) FromViewer() bool {
	return m.Token != ""
}

type RequestStream struct {
	Token string `json:"token"`
}

type StreamSettings struct {
	Token  string `json:"token,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}

type StopStream struct {
	Token string `json:"token,omitempty"`
}

type Frame struct {
	DeviceID string `json:"deviceId"`
	DataURL  string `json:"dataUrl"`
}

// UnmarshalJSON accepts the frame object or a one element array wrapping it.
func (m *Frame) UnmarshalJSON(b []byte) error {
	type plain Frame
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		if len(arr) == 0 {
			return nil
		}
		return json.Unmarshal(arr[0], (*plain)(m))
	}
	return json.Unmarshal(b, (*plain)(m))
}

type FramePing struct {
	DeviceID string `json:"deviceId"`
	Status   string `json:"status,omitempty"`
}

type FrameTest struct {
	DeviceID string `json:"deviceId"`
	Size     int    `json:"size,omitempty"`
}

func (*RegisterDevice) EventName() string      { return EventRegisterDevice }
func (*RegisterParent) EventName() string      { return EventRegisterParent }
func (*GeneratePairingCode) EventName() string { return EventGeneratePairingCode }
func (*Offer) EventName() string               { return EventWebRTCOffer }
func (*Answer) EventName() string              { return EventWebRTCAnswer }
func (*Candidate) EventName() string           { return EventWebRTCIce }
func (*RequestStream) EventName() string       { return EventRequestStream }
func (*StreamSettings) EventName() string      { return EventStreamSettings }
func (*StopStream) EventName() string          { return EventStopStream }
func (*Frame) EventName() string               { return EventFrame }
func (*FramePing) EventName() string           { return EventFramePing }
func (*FrameTest) EventName() string           { return EventFrameTest }

// Outbound events.

type DeviceRegistered struct {
	DeviceID string `json:"deviceId"`
}

type PairingCodeAssigned struct {
	PairingCode string `json:"pairingCode"`
}

type ParentRegistered struct{}

type DeviceStatus struct {
	DeviceID string `json:"deviceId"`
	Online   bool   `json:"online"`
}

type OfferToAgent struct {
	Offer       json.RawMessage `json:"offer"`
	ParentEmail string          `json:"parentEmail"`
}

type AnswerToViewer struct {
	Answer   json.RawMessage `json:"answer"`
	DeviceID string          `json:"deviceId"`
}

type CandidateToAgent struct {
	Candidate   json.RawMessage `json:"candidate"`
	ParentEmail string          `json:"parentEmail"`
}

type CandidateToViewer struct {
	Candidate json.RawMessage `json:"candidate"`
	DeviceID  string          `json:"deviceId"`
}

type ParentViewing struct {
	ParentEmail string `json:"parentEmail"`
}

// StartCapture asks an agent to begin producing frames.
type StartCapture struct {
	RequestID string `json:"requestId"`
}

type StreamRequested struct {
	RequestID string `json:"requestId"`
}

type CaptureSettings struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	FPS    int `json:"fps"`
}

type StopCapture struct{}

type FrameToViewer struct {
	DeviceID string `json:"deviceId"`
	DataURL  string `json:"dataUrl"`
}

func (*DeviceRegistered) EventName() string    { return EventDeviceRegistered }
func (*PairingCodeAssigned) EventName() string { return EventPairingCode }
func (*ParentRegistered) EventName() string    { return EventParentRegistered }
func (*DeviceStatus) EventName() string        { return EventDeviceStatus }
func (*OfferToAgent) EventName() string        { return EventWebRTCOffer }
func (*AnswerToViewer) EventName() string      { return EventWebRTCAnswer }
func (*CandidateToAgent) EventName() string    { return EventWebRTCIce }
func (*CandidateToViewer) EventName() string   { return EventWebRTCIce }
func (*ParentViewing) EventName() string       { return EventParentViewing }
func (*StartCapture) EventName() string        { return EventRequestStream }
func (*StreamRequested) EventName() string     { return EventStreamRequested }
func (*CaptureSettings) EventName() string     { return EventStreamSettings }
func (*StopCapture) EventName() string         { return EventStopStream }
func (*FrameToViewer) EventName() string       { return EventFrame }
func (*Error) EventName() string               { return EventError }

// Decode parses a raw WebSocket message into its typed inbound variant.
// Unknown events and payloads that do not match the variant are rejected with
// ErrBadRequest; a bad frame payload also wraps ErrMalformedFrame.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	var msg Message
	switch env.Event {
	case EventRegisterDevice:
		msg = &RegisterDevice{}
	case EventRegisterParent:
		msg = &RegisterParent{}
	case EventGeneratePairingCode:
		msg = &GeneratePairingCode{}
	case EventWebRTCOffer:
		msg = &Offer{}
	case EventWebRTCAnswer:
		msg = &Answer{}
	case EventWebRTCIce:
		msg = &Candidate{}
	case EventRequestStream:
		msg = &RequestStream{}
	case EventStreamSettings:
		msg = &StreamSettings{}
	case EventStopStream:
		msg = &StopStream{}
	case EventFrame:
		msg = &Frame{}
	case EventFramePing:
		msg = &FramePing{}
	case EventFrameTest:
		msg = &FrameTest{}
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrBadRequest, env.Event)
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return msg, nil
	}
	if err := json.Unmarshal(env.Data, msg); err != nil {
		if env.Event == EventFrame {
			return nil, fmt.Errorf("%w: %w: %v", ErrBadRequest, ErrMalformedFrame, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrBadRequest, env.Event, err)
	}
	return msg, nil
}

func bareString(b []byte) (string, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return "", false
	}
	return s, true
}

// DecodeFromRelay parses a message the relay sends to agents and viewers.
func DecodeFromRelay(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	var msg Message
	switch env.Event {
	case EventDeviceRegistered:
		msg = &DeviceRegistered{}
	case EventPairingCode:
		msg = &PairingCodeAssigned{}
	case EventParentRegistered:
		msg = &ParentRegistered{}
	case EventDeviceStatus:
		msg = &DeviceStatus{}
	case EventWebRTCOffer:
		msg = &OfferToAgent{}
	case EventWebRTCAnswer:
		msg = &AnswerToViewer{}
	case EventWebRTCIce:
		var peek struct {
			ParentEmail string `json:"parentEmail"`
		}
		_ = json.Unmarshal(env.Data, &peek)
		if peek.ParentEmail != "" {
			msg = &CandidateToAgent{}
		} else {
			msg = &CandidateToViewer{}
		}
	case EventParentViewing:
		msg = &ParentViewing{}
	case EventRequestStream:
		msg = &StartCapture{}
	case EventStreamRequested:
		msg = &StreamRequested{}
	case EventStreamSettings:
		msg = &CaptureSettings{}
	case EventStopStream:
		msg = &StopCapture{}
	case EventFrame:
		msg = &FrameToViewer{}
	case EventError:
		msg = &Error{}
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrBadRequest, env.Event)
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return msg, nil
	}
	if err := json.Unmarshal(env.Data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadRequest, env.Event, err)
	}
	return msg, nil
}
