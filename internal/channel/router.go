package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mondzorgtools/dictaat/internal/asr"
	"github.com/mondzorgtools/dictaat/internal/auth"
	"github.com/mondzorgtools/dictaat/internal/observe"
	"github.com/mondzorgtools/dictaat/internal/pairing"
	"github.com/mondzorgtools/dictaat/internal/transcribe"
)

// maxControlFrame caps control-plane JSON frames. Audio chunks are exempt;
// their budget is the audio byte-rate limiter and the buffer bound.
const maxControlFrame = 10 << 10

// ErrTooManyViolations signals that a connection has spent its rate-limit
// violation budget and must be closed.
var ErrTooManyViolations = errors.New("channel: too many rate limit violations")

// Transcriber runs the audio → normalized text flow. Satisfied by
// [transcribe.Orchestrator].
type Transcriber interface {
	Transcribe(ctx context.Context, userID string, audio []byte, language, prompt string) (*transcribe.Result, error)
}

// State is a connection's position in the admission lifecycle.
type State int

const (
	StateAccepted State = iota
	StateIdentified
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "ACCEPTED"
	case StateIdentified:
		return "IDENTIFIED"
	case StateJoined:
		return "JOINED"
	default:
		return "CLOSED"
	}
}

// RouterOption is a functional option for configuring a [Router].
type RouterOption func(*Router)

// WithRouterLogger sets the logger. Default: [slog.Default].
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithRouterMetrics sets the metrics sink.
func WithRouterMetrics(m *observe.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithControlRate overrides the control-plane message budget per second.
func WithControlRate(perSec float64) RouterOption {
	return func(r *Router) { r.controlPerSec = perSec }
}

// WithAudioByteRate overrides the audio ingress budget in bytes per second.
func WithAudioByteRate(bytesPerSec int) RouterOption {
	return func(r *Router) { r.audioBytesPerSec = bytesPerSec }
}

// Router drives connections through the admission state machine and fans
// channel traffic out between paired peers.
type Router struct {
	registry *Registry
	pairs    *pairing.Store
	trans    Transcriber
	logger   *slog.Logger
	metrics  *observe.Metrics

	controlPerSec    float64
	audioBytesPerSec int
}

// NewRouter wires a router over the registry, pairing store, and
// transcriber.
func NewRouter(registry *Registry, pairs *pairing.Store, trans Transcriber, opts ...RouterOption) *Router {
	r := &Router{
		registry:         registry,
		pairs:            pairs,
		trans:            trans,
		logger:           slog.Default(),
		metrics:          observe.DefaultMetrics(),
		controlPerSec:    controlRate,
		audioBytesPerSec: audioByteRate,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Session is the router-side state of one WebSocket connection. It is
// driven by that connection's read loop only and is not safe for concurrent
// use; the delivery queue behind [Session.Outbound] is the sole concurrent
// touch point.
type Session struct {
	r      *Router
	client *Client
	scope  auth.Scope
	pinned string // channel claim from a mobile token; empty for desktop
	state  State
	limits *limits

	audio       bytes.Buffer
	audioLang   string
	audioPrompt string
}

// NewSession starts the lifecycle for an admitted connection. For mobile
// tokens pinnedChannel carries the channel claim; the session may only ever
// join that channel.
func (r *Router) NewSession(scope auth.Scope, pinnedChannel string) *Session {
	return &Session{
		r:      r,
		client: NewClient(),
		scope:  scope,
		pinned: pinnedChannel,
		state:  StateAccepted,
		limits: newLimits(r.controlPerSec, r.audioBytesPerSec),
	}
}

// ClientID returns the connection's registry id.
func (s *Session) ClientID() string { return s.client.ID }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Outbound returns the frames queued for this connection. The queue is
// closed when the session closes.
func (s *Session) Outbound() <-chan Outbound { return s.client.out }

// HandleText processes one inbound text frame.
//
// A non-nil return means the connection must be closed; recoverable
// problems are answered with an error frame instead.
func (s *Session) HandleText(ctx context.Context, data []byte) error {
	if s.state == StateClosed {
		return nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.reply(errorFrame(CodeValidation, "malformed frame"))
		return nil
	}

	// Audio is data plane: exempt from the control budget and frame cap.
	if env.Type == TypeAudioChunk {
		return s.handleAudioChunk(ctx, &env)
	}

	if len(data) > maxControlFrame {
		s.reply(errorFrame(CodePayloadTooLarge, "control frame exceeds 10 KB"))
		return nil
	}
	if !s.limits.allowControl() {
		s.r.metrics.RecordRateLimit(ctx, "control")
		s.reply(errorFrame(CodeRateLimited, "control message budget exceeded"))
		if s.limits.exhausted() {
			return ErrTooManyViolations
		}
		return nil
	}

	if s.scope == auth.ScopeMobile && env.Type != TypeMobileInit {
		s.reply(errorFrame(CodeValidation, "message not allowed for mobile scope"))
		return nil
	}
	return s.dispatch(ctx, &env)
}

// HandleBinary processes one inbound binary frame: raw audio appended to
// the sender's buffer and forwarded to the channel peer.
func (s *Session) HandleBinary(ctx context.Context, data []byte) error {
	if s.state == StateClosed {
		return nil
	}
	if s.state != StateJoined {
		s.reply(errorFrame(CodeValidation, "audio before joining a channel"))
		return nil
	}
	if !s.limits.allowAudio(len(data)) {
		s.r.metrics.RecordRateLimit(ctx, "audio")
		s.reply(errorFrame(CodeRateLimited, "audio byte budget exceeded"))
		if s.limits.exhausted() {
			return ErrTooManyViolations
		}
		return nil
	}
	if !s.appendAudio(data) {
		return nil
	}
	s.fanOut(ctx, Outbound{Binary: data}, TypeAudioChunk)
	return nil
}

// Close ends the session: the connection leaves its channel, remaining
// peers receive the disconnect notification, and the delivery queue is
// closed. Idempotent.
func (s *Session) Close(ctx context.Context) {
	if s.state == StateClosed {
		return
	}
	prev := s.state
	s.state = StateClosed

	peers := s.r.registry.Unregister(s.client.ID)
	if prev == StateJoined {
		note := Envelope{Type: TypeDesktopDisconnected}
		if s.client.Device == DeviceMobile {
			note = Envelope{Type: TypeMobileDisconnected}
		}
		for _, p := range peers {
			p.send(Outbound{Env: &note})
		}
	}
	s.client.close()

	s.r.logger.DebugContext(ctx, "session closed",
		slog.String("client_id", s.client.ID),
		slog.String("state", prev.String()),
	)
}

// ─── Dispatch ────────────────────────────────────────────────────────────────

func (s *Session) dispatch(ctx context.Context, env *Envelope) error {
	switch s.state {
	case StateAccepted:
		switch env.Type {
		case TypeIdentify:
			s.handleIdentify(ctx, env)
		case TypeMobileInit:
			s.handleMobileInit(ctx, env)
		default:
			s.rejectState(env.Type)
		}
	case StateIdentified:
		switch env.Type {
		case TypeJoinChannel:
			s.handleJoinChannel(ctx, env)
		case TypePing:
			s.reply(Envelope{Type: TypePong})
		default:
			s.rejectState(env.Type)
		}
	case StateJoined:
		switch env.Type {
		case TypeChannelMessage, TypeSettingsSync:
			s.fanOut(ctx, Outbound{Env: env}, env.Type)
		case TypePing:
			s.reply(Envelope{Type: TypePong})
		default:
			s.rejectState(env.Type)
		}
	}
	return nil
}

// rejectState answers a message that is not allowed in the current state.
// The state does not change.
func (s *Session) rejectState(msgType string) {
	s.reply(errorFrame(CodeValidation, msgType+" not allowed in state "+s.state.String()))
}

func (s *Session) handleIdentify(ctx context.Context, env *Envelope) {
	device := DeviceType(env.DeviceType)
	if device != DeviceDesktop && device != DeviceMobile {
		s.reply(errorFrame(CodeValidation, "device_type must be desktop or mobile"))
		return
	}
	if env.SessionID == "" {
		s.reply(errorFrame(CodeValidation, "session_id required"))
		return
	}

	s.client.Device = device
	s.client.SessionID = env.SessionID
	s.r.registry.Add(s.client)
	s.state = StateIdentified

	s.reply(Envelope{Type: TypeIdentified, SessionID: env.SessionID})
	s.r.logger.InfoContext(ctx, "client identified",
		slog.String("client_id", s.client.ID),
		slog.String("device", string(device)),
	)
}

func (s *Session) handleJoinChannel(ctx context.Context, env *Envelope) {
	if env.ChannelID == "" {
		s.reply(errorFrame(CodeValidation, "channel_id required"))
		return
	}
	if s.pinned != "" && env.ChannelID != s.pinned {
		s.reply(errorFrame(CodeValidation, "channel not covered by token"))
		return
	}

	if err := s.r.registry.Join(s.client.ID, env.ChannelID); err != nil {
		s.reply(joinError(err))
		return
	}
	s.state = StateJoined
	s.reply(Envelope{Type: TypeChannelJoined, ChannelID: env.ChannelID})

	note := Envelope{Type: TypeClientJoined, ChannelID: env.ChannelID, DeviceType: string(s.client.Device)}
	for _, m := range s.r.registry.Members(s.client.ID) {
		m.send(Outbound{Env: &note})
	}
	s.r.logger.InfoContext(ctx, "client joined channel",
		slog.String("client_id", s.client.ID),
		slog.String("channel_id", env.ChannelID),
	)
}

// handleMobileInit performs identify + pair claim + join as one atomic
// step. Any sub-failure unwinds completely and leaves the connection in
// ACCEPTED.
func (s *Session) handleMobileInit(ctx context.Context, env *Envelope) {
	if env.PairCode == "" || env.SessionID == "" {
		s.reply(errorFrame(CodeValidation, "pair_code and session_id required"))
		return
	}
	if s.pinned != "" && pairing.ChannelPrefix+env.PairCode != s.pinned {
		s.reply(errorFrame(CodeValidation, "pair code not covered by token"))
		return
	}

	rec, err := s.r.pairs.Claim(env.PairCode, env.SessionID)
	if err != nil {
		s.reply(claimError(err))
		return
	}

	s.client.Device = DeviceMobile
	s.client.SessionID = env.SessionID
	s.r.registry.Add(s.client)

	if err := s.r.registry.Join(s.client.ID, rec.ChannelID); err != nil {
		s.r.pairs.Release(env.PairCode, env.SessionID)
		s.r.registry.Remove(s.client.ID)
		s.client.Device = ""
		s.client.SessionID = ""
		s.reply(joinError(err))
		return
	}
	s.state = StateJoined
	s.r.metrics.PendingPairings.Add(ctx, -1)

	success := Envelope{Type: TypePairingSuccess, ChannelID: rec.ChannelID}
	for _, m := range s.r.registry.Members(s.client.ID) {
		m.send(Outbound{Env: &success})
	}
	s.r.logger.InfoContext(ctx, "mobile paired",
		slog.String("client_id", s.client.ID),
		slog.String("channel_id", rec.ChannelID),
	)
}

// ─── Audio path ──────────────────────────────────────────────────────────────

func (s *Session) handleAudioChunk(ctx context.Context, env *Envelope) error {
	if s.state != StateJoined {
		s.reply(errorFrame(CodeValidation, "audio before joining a channel"))
		return nil
	}
	chunk, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		s.reply(errorFrame(CodeValidation, "audio data is not valid base64"))
		return nil
	}
	if !s.limits.allowAudio(len(chunk)) {
		s.r.metrics.RecordRateLimit(ctx, "audio")
		s.reply(errorFrame(CodeRateLimited, "audio byte budget exceeded"))
		if s.limits.exhausted() {
			return ErrTooManyViolations
		}
		return nil
	}

	if env.Language != "" {
		s.audioLang = env.Language
	}
	if env.Prompt != "" {
		s.audioPrompt = env.Prompt
	}
	if !s.appendAudio(chunk) {
		return nil
	}
	s.fanOut(ctx, Outbound{Env: env}, TypeAudioChunk)

	if env.Final {
		s.runTranscription(ctx)
	}
	return nil
}

// appendAudio grows the session buffer, refusing growth past the payload
// limit. On overflow the buffer is reset and the sender notified.
func (s *Session) appendAudio(chunk []byte) bool {
	if s.audio.Len()+len(chunk) > transcribe.MaxAudioBytes {
		s.audio.Reset()
		s.reply(errorFrame(CodePayloadTooLarge, "audio buffer exceeds size limit"))
		return false
	}
	s.audio.Write(chunk)
	return true
}

// runTranscription submits the assembled buffer and broadcasts the result
// to every channel member, the sender included.
func (s *Session) runTranscription(ctx context.Context) {
	audio := make([]byte, s.audio.Len())
	copy(audio, s.audio.Bytes())
	s.audio.Reset()

	res, err := s.r.trans.Transcribe(ctx, s.client.SessionID, audio, s.audioLang, s.audioPrompt)
	if err != nil {
		s.reply(transcriptionError(err))
		return
	}

	result := Envelope{
		Type:       TypeTranscriptionResult,
		Raw:        res.Raw,
		Normalized: res.Normalized,
		Language:   res.Language,
		Duration:   res.Duration,
	}
	members := s.r.registry.Members(s.client.ID)
	for _, m := range members {
		m.send(Outbound{Env: &result})
	}
	s.r.metrics.RecordFanOut(ctx, TypeTranscriptionResult, int64(len(members)))
}

// ─── Fan-out and replies ─────────────────────────────────────────────────────

// fanOut delivers a frame to every peer except the sender. Per-sender order
// is preserved by the per-peer delivery queues; frames to stalled peers are
// dropped.
func (s *Session) fanOut(ctx context.Context, o Outbound, msgType string) {
	peers := s.r.registry.Peers(s.client.ID)
	for _, p := range peers {
		p.send(o)
	}
	if len(peers) > 0 {
		s.r.metrics.RecordFanOut(ctx, msgType, int64(len(peers)))
	}
}

func (s *Session) reply(env Envelope) {
	s.client.send(Outbound{Env: &env})
}

// ─── Error mapping ───────────────────────────────────────────────────────────

func joinError(err error) Envelope {
	switch {
	case errors.Is(err, ErrChannelFull):
		return errorFrame(CodeChannelFull, "channel already has a device of this type")
	case errors.Is(err, ErrInvalidChannel):
		return errorFrame(CodeInvalidChannel, "no such channel")
	default:
		return errorFrame(CodeInternal, "join failed")
	}
}

func claimError(err error) Envelope {
	switch {
	case errors.Is(err, pairing.ErrInvalidCode):
		return errorFrame(CodeInvalidCode, "unknown pairing code")
	case errors.Is(err, pairing.ErrCodeExpired):
		return errorFrame(CodeCodeExpired, "pairing code expired")
	case errors.Is(err, pairing.ErrAlreadyPaired):
		return errorFrame(CodeAlreadyPaired, "pairing code already claimed")
	default:
		return errorFrame(CodeInternal, "pairing failed")
	}
}

func transcriptionError(err error) Envelope {
	switch {
	case errors.Is(err, transcribe.ErrPayloadTooLarge):
		return errorFrame(CodePayloadTooLarge, "audio exceeds size limit")
	case errors.Is(err, transcribe.ErrAudioTooShort):
		return errorFrame(CodeValidation, "audio shorter than minimum duration")
	}
	switch asr.KindOf(err) {
	case asr.KindTimeout:
		return errorFrame(CodeUpstreamTimeout, "speech recognition timed out")
	case asr.KindRejected, asr.KindUnavailable:
		return errorFrame(CodeUpstream, "speech recognition unavailable")
	default:
		return errorFrame(CodeInternal, "transcription failed")
	}
}
