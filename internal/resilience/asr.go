package resilience

import (
	"context"
	"errors"

	"github.com/mondzorgtools/dictaat/internal/asr"
)

// ASR wraps a speech provider with a [Breaker]. Only infrastructure
// failures trip the breaker: a rejected request means the audio was bad,
// not the backend, so rejections pass through without counting.
type ASR struct {
	inner   asr.Provider
	breaker *Breaker
}

var _ asr.Provider = (*ASR)(nil)

// NewASR wraps provider. cfg.Name defaults to the provider's name.
func NewASR(provider asr.Provider, cfg BreakerConfig) *ASR {
	if cfg.Name == "" {
		cfg.Name = provider.Name()
	}
	return &ASR{inner: provider, breaker: NewBreaker(cfg)}
}

// Transcribe forwards to the wrapped provider. While the circuit is open
// it fails immediately with an unavailable [asr.UpstreamError].
func (a *ASR) Transcribe(ctx context.Context, audio []byte, language, prompt string) (asr.Result, error) {
	var (
		res     asr.Result
		callErr error
	)
	err := a.breaker.Execute(func() error {
		res, callErr = a.inner.Transcribe(ctx, audio, language, prompt)
		if asr.KindOf(callErr) == asr.KindRejected {
			// A rejection surfaces to the caller but counts as breaker success.
			return nil
		}
		return callErr
	})
	if errors.Is(err, ErrOpen) {
		return asr.Result{}, &asr.UpstreamError{
			Kind:     asr.KindUnavailable,
			Provider: a.inner.Name(),
			Err:      err,
		}
	}
	if callErr != nil {
		return asr.Result{}, callErr
	}
	return res, nil
}

// Ping probes the wrapped provider directly; health checks should see the
// backend's real state even while the circuit is open.
func (a *ASR) Ping(ctx context.Context) error { return a.inner.Ping(ctx) }

// Name returns the wrapped provider's name.
func (a *ASR) Name() string { return a.inner.Name() }

// Model returns the wrapped provider's model.
func (a *ASR) Model() string { return a.inner.Model() }

// BreakerState exposes the circuit state for logs and tests.
func (a *ASR) BreakerState() State { return a.breaker.State() }
