// Package pairing implements the short-lived device-pairing codes that bind
// a mobile device to a desktop session.
//
// A desktop requests a code, shows it to the user, and the mobile device
// claims it within the TTL. A successful claim yields a shared channel id
// ("pair-" + code) that both devices join over the WebSocket fabric.
package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// Pairing errors, surfaced verbatim to the REST and WebSocket layers.
var (
	ErrInvalidCode   = errors.New("pairing: invalid code")
	ErrCodeExpired   = errors.New("pairing: code expired")
	ErrAlreadyPaired = errors.New("pairing: already paired")
	ErrCodeSpaceFull = errors.New("pairing: could not allocate a unique code")
)

// State is the lifecycle state of a pairing record.
type State string

const (
	StatePending State = "PENDING"
	StatePaired  State = "PAIRED"
)

// ChannelPrefix prefixes every pairing channel id.
const ChannelPrefix = "pair-"

const (
	defaultTTL           = 5 * time.Minute
	defaultSweepInterval = 30 * time.Second
	maxCodeAttempts      = 10
	codeSpace            = 1_000_000
)

// Record is one pairing attempt. Values returned by the store are copies;
// mutating them does not affect the stored state.
type Record struct {
	// Code is the 6-digit zero-padded decimal pairing code.
	Code string `json:"code"`

	// ChannelID is the WebSocket channel both devices join after pairing.
	ChannelID string `json:"channel_id"`

	DesktopSessionID string `json:"desktop_session_id"`
	MobileSessionID  string `json:"mobile_session_id,omitempty"`

	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// entry wraps a record with its own lock so that independent codes never
// contend with each other.
type entry struct {
	mu  sync.Mutex
	rec Record
}

// Option is a functional option for configuring a [Store].
type Option func(*Store)

// WithTTL sets the code lifetime. Default: 5 minutes.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithSweepInterval sets how often [Store.Run] removes expired codes.
// Default: 30 seconds.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

// WithNow overrides the clock; used by tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the structured logger. Default: [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is the in-memory pairing-code registry. It is safe for concurrent
// use; operations on different codes proceed in parallel.
type Store struct {
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu      sync.RWMutex
	byCode  map[string]*entry
	byChan  map[string]*entry
}

// NewStore returns a Store configured with the supplied options.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ttl:           defaultTTL,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		logger:        slog.Default(),
		byCode:        make(map[string]*entry),
		byChan:        make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create allocates a fresh pairing code for a desktop session. The code is
// sampled uniformly from the 6-digit space, retrying on collision up to ten
// times before giving up with [ErrCodeSpaceFull].
func (s *Store) Create(desktopSessionID string) (Record, error) {
	now := s.now()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return Record{}, fmt.Errorf("pairing: sample code: %w", err)
		}

		s.mu.Lock()
		if existing, taken := s.byCode[code]; taken && !s.expiredLocked(existing, now) {
			s.mu.Unlock()
			continue
		}
		e := &entry{rec: Record{
			Code:             code,
			ChannelID:        ChannelPrefix + code,
			DesktopSessionID: desktopSessionID,
			State:            StatePending,
			CreatedAt:        now,
			ExpiresAt:        now.Add(s.ttl),
		}}
		s.byCode[code] = e
		s.byChan[e.rec.ChannelID] = e
		s.mu.Unlock()

		s.logger.Debug("pairing code created",
			"channel_id", e.rec.ChannelID, "expires_at", e.rec.ExpiresAt)
		return e.rec, nil
	}
	return Record{}, ErrCodeSpaceFull
}

// Claim transitions a pending code to PAIRED on behalf of a mobile session.
// It fails with [ErrInvalidCode] for unknown codes, [ErrCodeExpired] for
// codes past their TTL and [ErrAlreadyPaired] for codes already claimed.
func (s *Store) Claim(code, mobileSessionID string) (Record, error) {
	s.mu.RLock()
	e, ok := s.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrInvalidCode
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State == StatePaired {
		return Record{}, ErrAlreadyPaired
	}
	if s.now().After(e.rec.ExpiresAt) {
		return Record{}, ErrCodeExpired
	}
	e.rec.State = StatePaired
	e.rec.MobileSessionID = mobileSessionID

	s.logger.Info("device paired", "channel_id", e.rec.ChannelID)
	return e.rec, nil
}

// Release undoes a claim that could not complete. The record returns to
// PENDING so the code stays claimable within its TTL. Only the session that
// holds the claim may release it; anything else reports false.
func (s *Store) Release(code, mobileSessionID string) bool {
	s.mu.RLock()
	e, ok := s.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State != StatePaired || e.rec.MobileSessionID != mobileSessionID {
		return false
	}
	e.rec.State = StatePending
	e.rec.MobileSessionID = ""

	s.logger.Info("pairing claim released", "channel_id", e.rec.ChannelID)
	return true
}

// Lookup returns the record owning channelID. Expired pending records are
// treated as absent even before the sweeper removes them.
func (s *Store) Lookup(channelID string) (Record, bool) {
	s.mu.RLock()
	e, ok := s.byChan[channelID]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State != StatePaired && s.now().After(e.rec.ExpiresAt) {
		return Record{}, false
	}
	return e.rec, true
}

// Sweep removes every expired, unpaired record and returns how many were
// dropped.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for code, e := range s.byCode {
		if s.expiredLocked(e, now) {
			delete(s.byCode, code)
			delete(s.byChan, e.rec.ChannelID)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept expired pairing codes", "removed", removed)
	}
	return removed
}

// Run sweeps periodically until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// expiredLocked reports whether e is removable: past its TTL and never
// paired. Callers hold s.mu; e.mu is taken here, never the other way
// around, so the lock order stays s.mu before e.mu.
func (s *Store) expiredLocked(e *entry, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.State != StatePaired && now.After(e.rec.ExpiresAt)
}

// randomCode samples a zero-padded 6-digit code uniformly.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
