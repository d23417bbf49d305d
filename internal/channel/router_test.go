package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mondzorgtools/dictaat/internal/asr"
	"github.com/mondzorgtools/dictaat/internal/auth"
	"github.com/mondzorgtools/dictaat/internal/observe"
	"github.com/mondzorgtools/dictaat/internal/pairing"
	"github.com/mondzorgtools/dictaat/internal/transcribe"
)

// testClock is a mutex-guarded fake clock for pairing expiry tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeTranscriber records its input and returns a scripted result.
type fakeTranscriber struct {
	mu       sync.Mutex
	audio    []byte
	language string
	prompt   string
	res      *transcribe.Result
	err      error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, audio []byte, language, prompt string) (*transcribe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append([]byte(nil), audio...)
	f.language = language
	f.prompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fixture struct {
	clock  *testClock
	pairs  *pairing.Store
	reg    *Registry
	trans  *fakeTranscriber
	router *Router
}

func newFixture(t *testing.T, opts ...RouterOption) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)}
	pairs := pairing.NewStore(pairing.WithNow(clock.Now))
	reg := NewRegistry(pairs, nil)
	trans := &fakeTranscriber{res: &transcribe.Result{Raw: "raw", Normalized: "norm", Language: "nl", Duration: 1.5}}
	return &fixture{
		clock:  clock,
		pairs:  pairs,
		reg:    reg,
		trans:  trans,
		router: NewRouter(reg, pairs, trans, opts...),
	}
}

// sendJSON marshals env and feeds it through HandleText.
func sendJSON(t *testing.T, s *Session, env Envelope) error {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return s.HandleText(context.Background(), data)
}

// drain empties a session's delivery queue.
func drain(s *Session) []Envelope {
	var out []Envelope
	for {
		select {
		case o, ok := <-s.Outbound():
			if !ok {
				return out
			}
			if o.Env != nil {
				out = append(out, *o.Env)
			}
		default:
			return out
		}
	}
}

// lastFrame returns the most recent queued envelope.
func lastFrame(t *testing.T, s *Session) Envelope {
	t.Helper()
	frames := drain(s)
	if len(frames) == 0 {
		t.Fatal("no frames queued")
	}
	return frames[len(frames)-1]
}

// pairedChannel identifies a desktop, creates a code, joins the desktop,
// and pairs a mobile. Both sessions are drained before returning.
func pairedChannel(t *testing.T, f *fixture) (desktop, mobile *Session, channelID string) {
	t.Helper()
	desktop = f.router.NewSession(auth.ScopeDesktop, "")
	if err := sendJSON(t, desktop, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "desk-1"}); err != nil {
		t.Fatal(err)
	}

	rec, err := f.pairs.Create("desk-1")
	if err != nil {
		t.Fatal(err)
	}
	channelID = rec.ChannelID
	if err := sendJSON(t, desktop, Envelope{Type: TypeJoinChannel, ChannelID: channelID}); err != nil {
		t.Fatal(err)
	}

	mobile = f.router.NewSession(auth.ScopeMobile, channelID)
	if err := sendJSON(t, mobile, Envelope{Type: TypeMobileInit, PairCode: rec.Code, SessionID: "mob-1"}); err != nil {
		t.Fatal(err)
	}
	if mobile.State() != StateJoined {
		t.Fatalf("mobile state = %v after pairing (frames %v)", mobile.State(), drain(mobile))
	}
	drain(desktop)
	drain(mobile)
	return desktop, mobile, channelID
}

func TestIdentifyTransitionsToIdentified(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.router.NewSession(auth.ScopeDesktop, "")

	if err := sendJSON(t, s, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "desk-1"}); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateIdentified {
		t.Errorf("state = %v, want IDENTIFIED", s.State())
	}
	if got := lastFrame(t, s); got.Type != TypeIdentified {
		t.Errorf("ack = %+v", got)
	}
}

func TestIdentifyRejectsBadDeviceType(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.router.NewSession(auth.ScopeDesktop, "")

	if err := sendJSON(t, s, Envelope{Type: TypeIdentify, DeviceType: "tablet", SessionID: "x"}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, s); got.Type != TypeError || got.Code != CodeValidation {
		t.Errorf("frame = %+v", got)
	}
	if s.State() != StateAccepted {
		t.Errorf("state = %v, want ACCEPTED", s.State())
	}
}

func TestDisallowedMessageDoesNotTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.router.NewSession(auth.ScopeDesktop, "")

	// join_channel is only valid once IDENTIFIED.
	if err := sendJSON(t, s, Envelope{Type: TypeJoinChannel, ChannelID: "pair-000001"}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, s); got.Code != CodeValidation {
		t.Errorf("frame = %+v", got)
	}
	if s.State() != StateAccepted {
		t.Errorf("state = %v, want ACCEPTED", s.State())
	}
}

func TestMalformedFrame(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.router.NewSession(auth.ScopeDesktop, "")

	if err := s.HandleText(context.Background(), []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, s); got.Code != CodeValidation {
		t.Errorf("frame = %+v", got)
	}
}

func TestPingPong(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.router.NewSession(auth.ScopeDesktop, "")
	if err := sendJSON(t, s, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "d"}); err != nil {
		t.Fatal(err)
	}
	if err := sendJSON(t, s, Envelope{Type: TypePing}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, s); got.Type != TypePong {
		t.Errorf("frame = %+v", got)
	}
}

func TestPairingFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	desktop, mobile, channelID := pairedChannel(t, f)
	_ = mobile

	if !strings.HasPrefix(channelID, pairing.ChannelPrefix) {
		t.Errorf("channel id = %q", channelID)
	}
	if !f.reg.HasChannel(channelID) {
		t.Error("channel absent from registry")
	}

	// A second desktop joining the same channel is refused.
	third := f.router.NewSession(auth.ScopeDesktop, "")
	if err := sendJSON(t, third, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "desk-2"}); err != nil {
		t.Fatal(err)
	}
	if err := sendJSON(t, third, Envelope{Type: TypeJoinChannel, ChannelID: channelID}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, third); got.Code != CodeChannelFull {
		t.Errorf("frame = %+v, want CHANNEL_FULL", got)
	}
	if third.State() != StateIdentified {
		t.Errorf("state = %v, want IDENTIFIED", third.State())
	}
	_ = desktop
}

func TestPairingSuccessReachesBothPeers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	desktop := f.router.NewSession(auth.ScopeDesktop, "")
	if err := sendJSON(t, desktop, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "desk-1"}); err != nil {
		t.Fatal(err)
	}
	rec, err := f.pairs.Create("desk-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := sendJSON(t, desktop, Envelope{Type: TypeJoinChannel, ChannelID: rec.ChannelID}); err != nil {
		t.Fatal(err)
	}
	drain(desktop)

	mobile := f.router.NewSession(auth.ScopeMobile, rec.ChannelID)
	if err := sendJSON(t, mobile, Envelope{Type: TypeMobileInit, PairCode: rec.Code, SessionID: "mob-1"}); err != nil {
		t.Fatal(err)
	}

	for name, s := range map[string]*Session{"desktop": desktop, "mobile": mobile} {
		found := false
		for _, fr := range drain(s) {
			if fr.Type == TypePairingSuccess && fr.ChannelID == rec.ChannelID {
				found = true
			}
		}
		if !found {
			t.Errorf("%s did not receive pairing_success", name)
		}
	}
}

func TestExpiredCodeLeavesNoChannel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, err := f.pairs.Create("desk-1")
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(5*time.Minute + time.Second)

	mobile := f.router.NewSession(auth.ScopeMobile, rec.ChannelID)
	if err := sendJSON(t, mobile, Envelope{Type: TypeMobileInit, PairCode: rec.Code, SessionID: "mob-1"}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, mobile); got.Code != CodeCodeExpired {
		t.Errorf("frame = %+v, want CODE_EXPIRED", got)
	}
	if mobile.State() != StateAccepted {
		t.Errorf("state = %v, want ACCEPTED", mobile.State())
	}
	if f.reg.HasChannel(rec.ChannelID) {
		t.Error("expired pairing left a channel in the registry")
	}
}

func TestMobileInitUnknownCodeStaysAccepted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mobile := f.router.NewSession(auth.ScopeMobile, "")

	if err := sendJSON(t, mobile, Envelope{Type: TypeMobileInit, PairCode: "000000", SessionID: "mob-1"}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, mobile); got.Code != CodeInvalidCode {
		t.Errorf("frame = %+v, want INVALID_CODE", got)
	}
	if mobile.State() != StateAccepted {
		t.Errorf("state = %v, want ACCEPTED", mobile.State())
	}
}

func TestMobileScopeRestriction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mobile := f.router.NewSession(auth.ScopeMobile, "pair-000001")

	if err := sendJSON(t, mobile, Envelope{Type: TypeIdentify, DeviceType: "mobile", SessionID: "m"}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, mobile); got.Code != CodeValidation {
		t.Errorf("frame = %+v", got)
	}
}

func TestMobilePinnedChannelMismatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec, err := f.pairs.Create("desk-1")
	if err != nil {
		t.Fatal(err)
	}

	mobile := f.router.NewSession(auth.ScopeMobile, "pair-999999")
	if err := sendJSON(t, mobile, Envelope{Type: TypeMobileInit, PairCode: rec.Code, SessionID: "m"}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, mobile); got.Code != CodeValidation {
		t.Errorf("frame = %+v", got)
	}
}

func TestChannelMessageFanOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	desktop, mobile, _ := pairedChannel(t, f)

	payload := json.RawMessage(`{"volume": 3}`)
	if err := sendJSON(t, desktop, Envelope{Type: TypeChannelMessage, Payload: payload}); err != nil {
		t.Fatal(err)
	}

	frames := drain(mobile)
	if len(frames) != 1 || frames[0].Type != TypeChannelMessage {
		t.Fatalf("mobile frames = %v", frames)
	}
	if string(frames[0].Payload) != string(payload) {
		t.Errorf("payload = %s", frames[0].Payload)
	}
	if got := drain(desktop); len(got) != 0 {
		t.Errorf("sender received its own fan-out: %v", got)
	}
}

func TestChannelIsolation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	desktopA, mobileA, _ := pairedChannel(t, f)
	desktopB, mobileB, _ := pairedChannel(t, f)

	if err := sendJSON(t, desktopA, Envelope{Type: TypeSettingsSync, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if got := drain(mobileA); len(got) != 1 {
		t.Errorf("peer in same channel got %d frames, want 1", len(got))
	}
	for name, s := range map[string]*Session{"desktopB": desktopB, "mobileB": mobileB} {
		if got := drain(s); len(got) != 0 {
			t.Errorf("%s observed traffic from another channel: %v", name, got)
		}
	}
}

func TestBinaryAudioFanOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	desktop, mobile, _ := pairedChannel(t, f)

	audio := []byte{0x52, 0x49, 0x46, 0x46}
	if err := mobile.HandleBinary(context.Background(), audio); err != nil {
		t.Fatal(err)
	}

	var got []byte
	select {
	case o := <-desktop.Outbound():
		got = o.Binary
	default:
	}
	if string(got) != string(audio) {
		t.Errorf("peer binary = %v, want %v", got, audio)
	}
}

func TestBinaryBeforeJoinRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.router.NewSession(auth.ScopeDesktop, "")
	if err := s.HandleBinary(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, s); got.Code != CodeValidation {
		t.Errorf("frame = %+v", got)
	}
}

func TestFinalChunkBroadcastsTranscription(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	desktop, mobile, _ := pairedChannel(t, f)

	part1 := base64.StdEncoding.EncodeToString([]byte("abc"))
	part2 := base64.StdEncoding.EncodeToString([]byte("def"))
	if err := sendJSON(t, mobile, Envelope{Type: TypeAudioChunk, Data: part1, Language: "nl", Prompt: "tandarts"}); err != nil {
		t.Fatal(err)
	}
	if err := sendJSON(t, mobile, Envelope{Type: TypeAudioChunk, Data: part2, Final: true}); err != nil {
		t.Fatal(err)
	}

	if string(f.trans.audio) != "abcdef" {
		t.Errorf("transcriber audio = %q, want %q", f.trans.audio, "abcdef")
	}
	if f.trans.language != "nl" || f.trans.prompt != "tandarts" {
		t.Errorf("hints = %q/%q", f.trans.language, f.trans.prompt)
	}

	for name, s := range map[string]*Session{"desktop": desktop, "mobile": mobile} {
		found := false
		for _, fr := range drain(s) {
			if fr.Type == TypeTranscriptionResult && fr.Normalized == "norm" && fr.Duration == 1.5 {
				found = true
			}
		}
		if !found {
			t.Errorf("%s did not receive transcription_result", name)
		}
	}
}

func TestTranscriptionUpstreamErrorToSenderOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	desktop, mobile, _ := pairedChannel(t, f)
	f.trans.err = &asr.UpstreamError{Kind: asr.KindTimeout, Provider: "fake", Err: errors.New("deadline")}

	chunk := base64.StdEncoding.EncodeToString([]byte("abc"))
	if err := sendJSON(t, mobile, Envelope{Type: TypeAudioChunk, Data: chunk, Final: true}); err != nil {
		t.Fatal(err)
	}

	if got := lastFrame(t, mobile); got.Code != CodeUpstreamTimeout {
		t.Errorf("sender frame = %+v, want UPSTREAM_TIMEOUT", got)
	}
	for _, fr := range drain(desktop) {
		if fr.Type == TypeError {
			t.Errorf("peer observed the sender's upstream error: %+v", fr)
		}
	}
}

func TestAudioBufferOverflowResets(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithAudioByteRate(64<<20))
	_, mobile, _ := pairedChannel(t, f)

	big := make([]byte, 20<<20)
	if err := mobile.HandleBinary(context.Background(), big); err != nil {
		t.Fatal(err)
	}
	if err := mobile.HandleBinary(context.Background(), big); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, fr := range drain(mobile) {
		if fr.Code == CodePayloadTooLarge {
			found = true
		}
	}
	if !found {
		t.Fatal("no PAYLOAD_TOO_LARGE frame")
	}
	if mobile.audio.Len() != 0 {
		t.Errorf("buffer not reset: %d bytes", mobile.audio.Len())
	}
}

func TestControlFrameCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.router.NewSession(auth.ScopeDesktop, "")
	if err := sendJSON(t, s, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "d"}); err != nil {
		t.Fatal(err)
	}
	drain(s)

	big := Envelope{Type: TypePing, Payload: json.RawMessage(`"` + strings.Repeat("x", 11<<10) + `"`)}
	if err := sendJSON(t, s, big); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, s); got.Code != CodePayloadTooLarge {
		t.Errorf("frame = %+v, want PAYLOAD_TOO_LARGE", got)
	}
}

func TestRateLimitClosesAfterThreeViolations(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithControlRate(1))
	s := f.router.NewSession(auth.ScopeDesktop, "")

	// First message takes the only token.
	if err := sendJSON(t, s, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "d"}); err != nil {
		t.Fatal(err)
	}

	var closeErr error
	for i := 0; i < 3; i++ {
		closeErr = sendJSON(t, s, Envelope{Type: TypePing})
	}
	if !errors.Is(closeErr, ErrTooManyViolations) {
		t.Fatalf("err = %v, want ErrTooManyViolations", closeErr)
	}
	limited := 0
	for _, fr := range drain(s) {
		if fr.Code == CodeRateLimited {
			limited++
		}
	}
	if limited != 3 {
		t.Errorf("RATE_LIMITED frames = %d, want 3", limited)
	}
}

func TestCloseNotifiesPeer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	desktop, mobile, channelID := pairedChannel(t, f)

	desktop.Close(context.Background())

	found := false
	for _, fr := range drain(mobile) {
		if fr.Type == TypeDesktopDisconnected {
			found = true
		}
	}
	if !found {
		t.Error("mobile did not receive desktop_disconnected")
	}
	if !f.reg.HasChannel(channelID) {
		t.Error("channel removed while mobile still joined")
	}

	mobile.Close(context.Background())
	if f.reg.HasChannel(channelID) {
		t.Error("empty channel not removed")
	}
	if _, open := <-desktop.Outbound(); open {
		t.Error("desktop queue still open after close")
	}
}

func TestJoinChannelAckPrecedesBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	desktop := f.router.NewSession(auth.ScopeDesktop, "")
	if err := sendJSON(t, desktop, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "desk-1"}); err != nil {
		t.Fatal(err)
	}
	drain(desktop)

	rec, err := f.pairs.Create("desk-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := sendJSON(t, desktop, Envelope{Type: TypeJoinChannel, ChannelID: rec.ChannelID}); err != nil {
		t.Fatal(err)
	}

	frames := drain(desktop)
	if len(frames) < 2 {
		t.Fatalf("frames after join = %v, want ack then broadcast", frames)
	}
	if frames[0].Type != TypeChannelJoined || frames[0].ChannelID != rec.ChannelID {
		t.Errorf("first frame = %+v, want channel_joined for %s", frames[0], rec.ChannelID)
	}
	if frames[1].Type != TypeClientJoined {
		t.Errorf("second frame = %+v, want client_joined", frames[1])
	}
}

func TestMobileInitReleasesClaimWhenJoinFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	desktop := f.router.NewSession(auth.ScopeDesktop, "")
	if err := sendJSON(t, desktop, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "desk-1"}); err != nil {
		t.Fatal(err)
	}
	rec, err := f.pairs.Create("desk-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := sendJSON(t, desktop, Envelope{Type: TypeJoinChannel, ChannelID: rec.ChannelID}); err != nil {
		t.Fatal(err)
	}

	// A desktop-scoped client identifying as "mobile" can occupy the mobile
	// slot through join_channel before the real device claims the code.
	squatter := f.router.NewSession(auth.ScopeDesktop, "")
	if err := sendJSON(t, squatter, Envelope{Type: TypeIdentify, DeviceType: "mobile", SessionID: "squat-1"}); err != nil {
		t.Fatal(err)
	}
	if err := sendJSON(t, squatter, Envelope{Type: TypeJoinChannel, ChannelID: rec.ChannelID}); err != nil {
		t.Fatal(err)
	}

	mobile := f.router.NewSession(auth.ScopeMobile, rec.ChannelID)
	if err := sendJSON(t, mobile, Envelope{Type: TypeMobileInit, PairCode: rec.Code, SessionID: "mob-1"}); err != nil {
		t.Fatal(err)
	}
	if got := lastFrame(t, mobile); got.Code != CodeChannelFull {
		t.Fatalf("frame = %+v, want CHANNEL_FULL", got)
	}
	if mobile.State() != StateAccepted {
		t.Errorf("state = %v after failed init, want ACCEPTED", mobile.State())
	}

	// The failed attempt must not leave the code claimed.
	got, ok := f.pairs.Lookup(rec.ChannelID)
	if !ok {
		t.Fatal("pairing record gone")
	}
	if got.State == pairing.StatePaired {
		t.Fatalf("record left PAIRED by failed init: %+v", got)
	}

	// Once the slot frees up, a retry with the same code succeeds.
	squatter.Close(context.Background())
	drain(desktop)

	if err := sendJSON(t, mobile, Envelope{Type: TypeMobileInit, PairCode: rec.Code, SessionID: "mob-1"}); err != nil {
		t.Fatal(err)
	}
	if mobile.State() != StateJoined {
		t.Fatalf("retry state = %v (frames %v), want JOINED", mobile.State(), drain(mobile))
	}
	found := false
	for _, fr := range drain(mobile) {
		if fr.Type == TypePairingSuccess && fr.ChannelID == rec.ChannelID {
			found = true
		}
	}
	if !found {
		t.Error("retry did not produce pairing_success")
	}
}

func TestMobileInitSettlesPendingPairingsGauge(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)}
	pairs := pairing.NewStore(pairing.WithNow(clock.Now))
	trans := &fakeTranscriber{res: &transcribe.Result{Raw: "raw", Normalized: "norm"}}
	router := NewRouter(NewRegistry(pairs, m), pairs, trans, WithRouterMetrics(m))
	ctx := context.Background()

	desktop := router.NewSession(auth.ScopeDesktop, "")
	if err := sendJSON(t, desktop, Envelope{Type: TypeIdentify, DeviceType: "desktop", SessionID: "desk-1"}); err != nil {
		t.Fatal(err)
	}
	rec, err := pairs.Create("desk-1")
	if err != nil {
		t.Fatal(err)
	}
	// The REST handler increments the gauge when it hands out a code.
	m.PendingPairings.Add(ctx, 1)
	if err := sendJSON(t, desktop, Envelope{Type: TypeJoinChannel, ChannelID: rec.ChannelID}); err != nil {
		t.Fatal(err)
	}

	mobile := router.NewSession(auth.ScopeMobile, rec.ChannelID)
	if err := sendJSON(t, mobile, Envelope{Type: TypeMobileInit, PairCode: rec.Code, SessionID: "mob-1"}); err != nil {
		t.Fatal(err)
	}
	if mobile.State() != StateJoined {
		t.Fatalf("state = %v (frames %v), want JOINED", mobile.State(), drain(mobile))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var met *metricdata.Metrics
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == "dictaat.pending_pairings" {
				met = &sm.Metrics[i]
			}
		}
	}
	if met == nil {
		t.Fatal("dictaat.pending_pairings not collected")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T", met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 0 {
		t.Errorf("pending pairings gauge = %d after claim, want 0", total)
	}
}
