// Package asr defines the speech-recognition collaborator interface and its
// upstream error classification.
//
// The gateway never introspects a provider: it hands over audio bytes plus
// optional language and prompt hints and receives raw text back. Provider
// failures are classified into the three upstream kinds the REST and
// WebSocket layers map onto status codes.
package asr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an upstream failure.
type Kind string

const (
	// KindTimeout: the provider did not answer within the request deadline.
	KindTimeout Kind = "UPSTREAM_TIMEOUT"

	// KindRejected: the provider answered and refused the request.
	KindRejected Kind = "UPSTREAM_REJECTED"

	// KindUnavailable: the provider could not be reached or failed internally.
	KindUnavailable Kind = "UPSTREAM_UNAVAILABLE"
)

// UpstreamError is a classified provider failure.
type UpstreamError struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("asr: %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// KindOf returns the upstream kind of err, or "" when err is not an
// [UpstreamError].
func KindOf(err error) Kind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// Result is a successful transcription.
type Result struct {
	// Text is the raw transcript as returned by the provider.
	Text string

	// Language is the detected or echoed language tag; may be empty.
	Language string

	// Duration is the audio duration in seconds when the provider reports
	// it; zero otherwise.
	Duration float64
}

// Provider is the ASR collaborator. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Transcribe converts audio bytes to text. language and prompt are
	// optional hints. Failures are returned as [UpstreamError].
	Transcribe(ctx context.Context, audio []byte, language, prompt string) (Result, error)

	// Ping probes reachability; used by the startup check and readiness.
	Ping(ctx context.Context) error

	// Name identifies the provider in responses and logs.
	Name() string

	// Model identifies the configured model; may be empty.
	Model() string
}
