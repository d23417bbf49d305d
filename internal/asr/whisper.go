package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const defaultWhisperTimeout = 30 * time.Second

// Compile-time assertion that WhisperServer implements Provider.
var _ Provider = (*WhisperServer)(nil)

// WhisperOption is a functional option for configuring a [WhisperServer].
type WhisperOption func(*WhisperServer)

// WithWhisperModel sets the model identifier forwarded to the server. When
// empty the server uses whichever model it was started with.
func WithWhisperModel(model string) WhisperOption {
	return func(w *WhisperServer) { w.model = model }
}

// WithWhisperTimeout sets the per-request timeout. Default: 30 seconds.
func WithWhisperTimeout(d time.Duration) WhisperOption {
	return func(w *WhisperServer) { w.httpClient.Timeout = d }
}

// WithWhisperHTTPClient replaces the HTTP client; used by tests.
func WithWhisperHTTPClient(c *http.Client) WhisperOption {
	return func(w *WhisperServer) { w.httpClient = c }
}

// WhisperServer is a [Provider] backed by a whisper-server instance exposing
// the batch REST API at POST /inference.
type WhisperServer struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// NewWhisperServer returns a provider talking to the whisper-server at
// serverURL (e.g. "http://localhost:8080").
func NewWhisperServer(serverURL string, opts ...WhisperOption) (*WhisperServer, error) {
	if serverURL == "" {
		return nil, errors.New("asr: whisper server URL must not be empty")
	}
	w := &WhisperServer{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultWhisperTimeout},
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Name implements [Provider].
func (w *WhisperServer) Name() string { return "whisper-server" }

// Model implements [Provider].
func (w *WhisperServer) Model() string { return w.model }

// Transcribe implements [Provider]. The audio bytes are submitted as a
// multipart form upload; the server answers with `{"text": "..."}`.
func (w *WhisperServer) Transcribe(ctx context.Context, audio []byte, language, prompt string) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Result{}, fmt.Errorf("asr: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return Result{}, fmt.Errorf("asr: write audio: %w", err)
	}
	for field, value := range map[string]string{
		"language": language,
		"prompt":   prompt,
		"model":    w.model,
	} {
		if value == "" {
			continue
		}
		if err := mw.WriteField(field, value); err != nil {
			return Result{}, fmt.Errorf("asr: write %s field: %w", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("asr: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.serverURL+"/inference", &body)
	if err != nil {
		return Result{}, fmt.Errorf("asr: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return Result{}, w.classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := KindRejected
		if resp.StatusCode >= 500 {
			kind = KindUnavailable
		}
		return Result{}, &UpstreamError{
			Kind:     kind,
			Provider: w.Name(),
			Err:      fmt.Errorf("server returned HTTP %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &UpstreamError{Kind: KindUnavailable, Provider: w.Name(), Err: err}
	}
	var decoded struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Result{}, &UpstreamError{
			Kind:     KindRejected,
			Provider: w.Name(),
			Err:      fmt.Errorf("parse response: %w", err),
		}
	}
	return Result{Text: decoded.Text, Language: decoded.Language, Duration: decoded.Duration}, nil
}

// Ping implements [Provider]. Any HTTP answer counts as reachable; only
// transport failures mark the server down.
func (w *WhisperServer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("asr: create ping request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return w.classifyTransport(err)
	}
	resp.Body.Close()
	return nil
}

// classifyTransport maps a transport-level error onto an upstream kind:
// deadline overruns are timeouts, everything else is unavailability.
func (w *WhisperServer) classifyTransport(err error) error {
	kind := KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		kind = KindTimeout
	}
	return &UpstreamError{Kind: kind, Provider: w.Name(), Err: err}
}
