// Package transcribe runs the audio → raw transcript → normalized text flow.
//
// The [Orchestrator] is the single entry point shared by the REST upload
// handler and the WebSocket audio path: it validates the payload, hands the
// bytes to the ASR collaborator, then rewrites the transcript through the
// normalization pipeline using the caller's lexicon snapshot.
package transcribe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mondzorgtools/dictaat/internal/asr"
	"github.com/mondzorgtools/dictaat/internal/lexicon"
	"github.com/mondzorgtools/dictaat/internal/normalize"
	"github.com/mondzorgtools/dictaat/internal/observe"
	"go.opentelemetry.io/otel/metric"
)

const (
	// MaxAudioBytes bounds a single transcription payload. Larger uploads
	// are refused before any provider call.
	MaxAudioBytes = 25 << 20

	// MinAudioSeconds is the shortest clip worth sending upstream. Only
	// enforced when the duration can be read from the payload itself.
	MinAudioSeconds = 0.1

	defaultConcurrency = 4
	defaultASRTimeout  = 30 * time.Second
)

var (
	// ErrPayloadTooLarge: the audio exceeds [MaxAudioBytes].
	ErrPayloadTooLarge = errors.New("transcribe: audio payload exceeds size limit")

	// ErrAudioTooShort: the audio is shorter than [MinAudioSeconds].
	ErrAudioTooShort = errors.New("transcribe: audio shorter than minimum duration")
)

// Snapshots supplies per-user lexicon snapshots. Satisfied by
// [lexicon.Cache].
type Snapshots interface {
	Snapshot(ctx context.Context, userID string) (*lexicon.Snapshot, error)
}

// Result is a completed transcription.
type Result struct {
	// Raw is the transcript exactly as the provider returned it.
	Raw string `json:"raw"`

	// Normalized is the pipeline rewrite of Raw.
	Normalized string `json:"normalized"`

	// Language is the provider-detected language when reported, otherwise
	// the caller's hint.
	Language string `json:"language"`

	// Duration is the audio duration in seconds: provider-reported when
	// available, otherwise computed from the WAV header.
	Duration float64 `json:"duration"`

	// Provider and Model identify the ASR backend that produced Raw.
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithConcurrency bounds the number of in-flight provider calls. Default: 4.
func WithConcurrency(n int64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithASRTimeout sets the per-call provider deadline. Default: 30 seconds.
func WithASRTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.asrTimeout = d }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator coordinates validation, the ASR call, and the normalization
// pipeline. Safe for concurrent use.
type Orchestrator struct {
	provider   asr.Provider
	snaps      Snapshots
	sem        *semaphore.Weighted
	asrTimeout time.Duration
	logger     *slog.Logger
	metrics    *observe.Metrics
}

// New returns an orchestrator backed by provider and snaps.
func New(provider asr.Provider, snaps Snapshots, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:   provider,
		snaps:      snaps,
		sem:        semaphore.NewWeighted(defaultConcurrency),
		asrTimeout: defaultASRTimeout,
		logger:     slog.Default(),
		metrics:    observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transcribe validates audio, obtains a raw transcript from the provider,
// and normalizes it with userID's snapshot.
//
// Size and duration are checked before any provider call; provider failures
// are returned as [asr.UpstreamError] with the pipeline never invoked. The
// call blocks while the concurrency bound is saturated.
func (o *Orchestrator) Transcribe(ctx context.Context, userID string, audio []byte, language, prompt string) (*Result, error) {
	if len(audio) > MaxAudioBytes {
		return nil, ErrPayloadTooLarge
	}
	wavSeconds, ok := wavDuration(audio)
	if ok && wavSeconds < MinAudioSeconds {
		return nil, ErrAudioTooShort
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("transcribe: acquire worker slot: %w", err)
	}
	defer o.sem.Release(1)

	asrCtx, cancel := context.WithTimeout(ctx, o.asrTimeout)
	defer cancel()

	start := time.Now()
	res, err := o.provider.Transcribe(asrCtx, audio, language, prompt)
	o.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", o.provider.Name())))
	if err != nil {
		o.metrics.RecordASRRequest(ctx, o.provider.Name(), "error")
		o.metrics.RecordASRError(ctx, o.provider.Name(), string(asr.KindOf(err)))
		return nil, err
	}
	o.metrics.RecordASRRequest(ctx, o.provider.Name(), "ok")

	snap, err := o.snaps.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load snapshot: %w", err)
	}

	pipeStart := time.Now()
	norm, err := normalize.Normalize(res.Text, language, snap)
	o.metrics.PipelineDuration.Record(ctx, time.Since(pipeStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("transcribe: normalize: %w", err)
	}

	out := &Result{
		Raw:        res.Text,
		Normalized: norm.NormalizedText,
		Language:   language,
		Duration:   res.Duration,
		Provider:   o.provider.Name(),
		Model:      o.provider.Model(),
	}
	if res.Language != "" {
		out.Language = res.Language
	}
	if out.Duration == 0 && ok {
		out.Duration = wavSeconds
	}

	o.logger.DebugContext(ctx, "transcription completed",
		slog.String("provider", out.Provider),
		slog.Int("audio_bytes", len(audio)),
		slog.Float64("duration", out.Duration),
		slog.Int("raw_len", len(out.Raw)),
	)
	return out, nil
}

// wavDuration reads the duration of a RIFF/WAVE payload from its header.
// Returns false for any other format; those are validated upstream by the
// provider itself.
func wavDuration(audio []byte) (float64, bool) {
	if len(audio) < 44 || string(audio[0:4]) != "RIFF" || string(audio[8:12]) != "WAVE" {
		return 0, false
	}
	byteRate := binary.LittleEndian.Uint32(audio[28:32])
	if byteRate == 0 {
		return 0, false
	}

	// Walk the chunk list for the data chunk; fall back to the payload
	// length past the canonical 44-byte header.
	dataLen := len(audio) - 44
	for off := 12; off+8 <= len(audio); {
		id := string(audio[off : off+4])
		size := int(binary.LittleEndian.Uint32(audio[off+4 : off+8]))
		if id == "data" {
			dataLen = size
			break
		}
		if size < 0 || off+8+size < off {
			break
		}
		off += 8 + size
		if size%2 == 1 {
			off++
		}
	}
	return float64(dataLen) / float64(byteRate), true
}
