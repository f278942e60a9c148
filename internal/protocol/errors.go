package protocol

import "errors"

// Error is a failure reported back to the connection that triggered it.
// Code is stable and machine readable; Message is for humans.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	ErrInvalidCredential  = &Error{Code: "InvalidCredential", Message: "Invalid token"}
	ErrInvalidPairingCode = &Error{Code: "InvalidPairingCode", Message: "Invalid pairing code"}
	ErrAgentOffline       = &Error{Code: "AgentOffline", Message: "Device offline"}
	ErrViewerOffline      = &Error{Code: "ViewerOffline", Message: "Parent offline"}
	ErrNoPairedAgent      = &Error{Code: "NoPairedAgent", Message: "No paired device"}
	ErrNoPairedViewer     = &Error{Code: "NoPairedViewer", Message: "No paired parent"}
	ErrMissingAgentID     = &Error{Code: "MissingAgentID", Message: "Missing deviceId"}
	ErrAgentNotFound      = &Error{Code: "AgentNotFound", Message: "Device not found"}
	ErrBadRequest         = &Error{Code: "BadRequest", Message: "Malformed message"}
	ErrInternal           = &Error{Code: "Internal", Message: "Internal error"}
)

// ErrMalformedFrame marks a frame event whose payload did not decode. It is
// wrapped together with ErrBadRequest.
var ErrMalformedFrame = errors.New("malformed frame payload")

// AsError returns the wire error carried by err, or ErrInternal when err does
// not wrap one of the sentinels above.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}
