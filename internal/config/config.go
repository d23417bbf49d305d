// Package config provides the configuration schema, loader, ASR provider
// registry, and file watcher for the dictaat gateway.
package config

import "time"

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Built-in defaults. Applied by [Validate] when the corresponding key is
// absent; secrets never default.
const (
	DefaultListenAddr       = ":8080"
	DefaultASRTimeout       = 30 * time.Second
	DefaultASRConcurrency   = 4
	DefaultTokenTTL         = 15 * time.Minute
	DefaultPairingTTL       = 5 * time.Minute
	DefaultSweepInterval    = 30 * time.Second
	DefaultControlPerSec    = 10
	DefaultAudioBytesPerSec = 1 << 20
)

// Config is the root configuration structure, typically loaded from a YAML
// file via [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	ASR     ASRConfig     `yaml:"asr"`
	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Pairing PairingConfig `yaml:"pairing"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ASRConfig selects and configures the speech-recognition backend. The
// Provider field is used to look up the constructor in the [Registry].
type ASRConfig struct {
	// Provider selects the registered implementation
	// ("whisper-server" or "openai").
	Provider string `yaml:"provider"`

	// URL is the endpoint for self-hosted providers
	// (e.g., "http://localhost:9000" for whisper-server).
	URL string `yaml:"url"`

	// APIKey authenticates against hosted providers. Overridable via
	// DICTAAT_ASR_API_KEY.
	APIKey string `yaml:"api_key"`

	// Model selects a model within the provider (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Timeout bounds a single transcription request.
	Timeout time.Duration `yaml:"timeout"`

	// Concurrency bounds parallel provider calls.
	Concurrency int64 `yaml:"concurrency"`
}

// StoreConfig configures the lexicon document store. An empty DSN selects
// the in-memory store.
type StoreConfig struct {
	// PostgresDSN is the pgx connection string. Overridable via
	// DICTAAT_POSTGRES_DSN.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AuthConfig configures WebSocket admission tokens.
type AuthConfig struct {
	// SigningKey signs admission tokens. Required; overridable via
	// DICTAAT_SIGNING_KEY.
	SigningKey string `yaml:"signing_key"`

	// TokenTTL is the admission token lifetime.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// PairingConfig configures the pairing-code store.
type PairingConfig struct {
	// CodeTTL is the pairing code lifetime.
	CodeTTL time.Duration `yaml:"code_ttl"`

	// SweepInterval is how often expired codes are removed.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LimitsConfig holds the per-connection WebSocket rate limits.
type LimitsConfig struct {
	// ControlMessagesPerSec is the control-plane message budget.
	ControlMessagesPerSec float64 `yaml:"control_messages_per_sec"`

	// AudioBytesPerSec caps audio ingress per connection.
	AudioBytesPerSec int `yaml:"audio_bytes_per_sec"`
}
