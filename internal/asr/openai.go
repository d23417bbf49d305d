package asr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "whisper-1"

// Compile-time assertion that OpenAI implements Provider.
var _ Provider = (*OpenAI)(nil)

// OpenAIOption is a functional option for configuring an [OpenAI] provider.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	model   string
	timeout time.Duration
}

// WithOpenAIBaseURL overrides the default API base URL, e.g. for an
// OpenAI-compatible local deployment.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithOpenAIModel sets the transcription model. Default: "whisper-1".
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithOpenAITimeout sets a per-request timeout.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) { c.timeout = d }
}

// OpenAI is a [Provider] backed by the OpenAI audio transcription API.
type OpenAI struct {
	client oai.Client
	model  string
}

// NewOpenAI returns an OpenAI-backed provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("asr: openai api key must not be empty")
	}
	cfg := &openAIConfig{model: defaultOpenAIModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}
	return &OpenAI{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Name implements [Provider].
func (o *OpenAI) Name() string { return "openai" }

// Model implements [Provider].
func (o *OpenAI) Model() string { return o.model }

// Transcribe implements [Provider].
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, language, prompt string) (Result, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(o.model),
	}
	if language != "" {
		params.Language = oai.String(language)
	}
	if prompt != "" {
		params.Prompt = oai.String(prompt)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Result{}, o.classify(err)
	}
	return Result{Text: resp.Text, Language: language}, nil
}

// Ping implements [Provider]; a model list call doubles as the probe.
func (o *OpenAI) Ping(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return o.classify(err)
	}
	return nil
}

// classify maps an API error onto an upstream kind: deadline overruns are
// timeouts, HTTP 5xx is unavailability, every other API refusal is a
// rejection.
func (o *OpenAI) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Kind: KindTimeout, Provider: o.Name(), Err: err}
	}
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		kind := KindRejected
		if apierr.StatusCode >= 500 {
			kind = KindUnavailable
		}
		return &UpstreamError{
			Kind:     kind,
			Provider: o.Name(),
			Err:      fmt.Errorf("api status %d: %w", apierr.StatusCode, err),
		}
	}
	return &UpstreamError{Kind: KindUnavailable, Provider: o.Name(), Err: err}
}
