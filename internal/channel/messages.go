// Package channel implements the paired desktop/mobile WebSocket fabric:
// the connection registry, the per-connection message router, and the rate
// limits guarding both.
//
// A channel is the transient scope "pair-XXXXXX" shared by exactly one
// desktop and one mobile connection. The router drives each connection
// through the ACCEPTED → IDENTIFIED → JOINED → CLOSED state machine and
// fans data-plane messages out to the channel's other peer while preserving
// per-sender order.
package channel

import "encoding/json"

// Message types accepted from clients.
const (
	TypeIdentify       = "identify"
	TypeMobileInit     = "mobile_init"
	TypeJoinChannel    = "join_channel"
	TypePing           = "ping"
	TypeChannelMessage = "channel_message"
	TypeSettingsSync   = "settings_sync"
	TypeAudioChunk     = "audio_chunk"
)

// Message types emitted by the router.
const (
	TypePong                = "pong"
	TypeError               = "error"
	TypeIdentified          = "identified"
	TypeChannelJoined       = "channel_joined"
	TypeClientJoined        = "client_joined"
	TypePairingSuccess      = "pairing_success"
	TypeDesktopDisconnected = "desktop_disconnected"
	TypeMobileDisconnected  = "mobile_disconnected"
	TypeTranscriptionResult = "transcription_result"
)

// Error codes carried by error frames.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeChannelFull     = "CHANNEL_FULL"
	CodeInvalidChannel  = "INVALID_CHANNEL"
	CodeInvalidCode     = "INVALID_CODE"
	CodeCodeExpired     = "CODE_EXPIRED"
	CodeAlreadyPaired   = "ALREADY_PAIRED"
	CodeUpstreamTimeout = "UPSTREAM_TIMEOUT"
	CodeUpstream        = "UPSTREAM_UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// Envelope is the single wire frame shape: a type discriminator plus the
// union of all per-type fields. Absent fields are omitted on the wire.
type Envelope struct {
	Type string `json:"type"`

	// identify, mobile_init
	DeviceType string `json:"device_type,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	PairCode   string `json:"pair_code,omitempty"`

	// join_channel and channel-scoped notifications
	ChannelID string `json:"channel_id,omitempty"`

	// channel_message, settings_sync
	Payload json.RawMessage `json:"payload,omitempty"`

	// audio_chunk
	Data     string `json:"data,omitempty"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Final    bool   `json:"final,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// transcription_result
	Raw        string  `json:"raw,omitempty"`
	Normalized string  `json:"normalized,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
}

// errorFrame builds an error envelope.
func errorFrame(code, message string) Envelope {
	return Envelope{Type: TypeError, Code: code, Message: message}
}
