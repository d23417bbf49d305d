package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// asrProviders lists the registered backend names accepted by asr.provider.
var asrProviders = []string{"whisper-server", "openai"}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv copies secrets from the environment over the file values, so
// config files can be committed without credentials.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DICTAAT_SIGNING_KEY"); v != "" {
		cfg.Auth.SigningKey = v
	}
	if v := os.Getenv("DICTAAT_ASR_API_KEY"); v != "" {
		cfg.ASR.APIKey = v
	}
	if v := os.Getenv("DICTAAT_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
}

// Validate checks that cfg contains a coherent set of values and fills in
// the documented defaults. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// ASR
	switch cfg.ASR.Provider {
	case "":
		errs = append(errs, errors.New("asr.provider is required"))
	case "whisper-server":
		if cfg.ASR.URL == "" {
			errs = append(errs, errors.New("asr.url is required for provider whisper-server"))
		}
	case "openai":
		if cfg.ASR.APIKey == "" {
			errs = append(errs, errors.New("asr.api_key is required for provider openai (or set DICTAAT_ASR_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("asr.provider %q is unknown; valid values: %v", cfg.ASR.Provider, asrProviders))
	}
	if cfg.ASR.Timeout < 0 {
		errs = append(errs, errors.New("asr.timeout must not be negative"))
	} else if cfg.ASR.Timeout == 0 {
		cfg.ASR.Timeout = DefaultASRTimeout
	}
	if cfg.ASR.Concurrency < 0 {
		errs = append(errs, errors.New("asr.concurrency must not be negative"))
	} else if cfg.ASR.Concurrency == 0 {
		cfg.ASR.Concurrency = DefaultASRConcurrency
	}

	// Auth
	if cfg.Auth.SigningKey == "" {
		errs = append(errs, errors.New("auth.signing_key is required (or set DICTAAT_SIGNING_KEY)"))
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, errors.New("auth.token_ttl must not be negative"))
	} else if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}

	// Pairing
	if cfg.Pairing.CodeTTL < 0 {
		errs = append(errs, errors.New("pairing.code_ttl must not be negative"))
	} else if cfg.Pairing.CodeTTL == 0 {
		cfg.Pairing.CodeTTL = DefaultPairingTTL
	}
	if cfg.Pairing.SweepInterval < 0 {
		errs = append(errs, errors.New("pairing.sweep_interval must not be negative"))
	} else if cfg.Pairing.SweepInterval == 0 {
		cfg.Pairing.SweepInterval = DefaultSweepInterval
	}

	// Limits
	if cfg.Limits.ControlMessagesPerSec < 0 {
		errs = append(errs, errors.New("limits.control_messages_per_sec must not be negative"))
	} else if cfg.Limits.ControlMessagesPerSec == 0 {
		cfg.Limits.ControlMessagesPerSec = DefaultControlPerSec
	}
	if cfg.Limits.AudioBytesPerSec < 0 {
		errs = append(errs, errors.New("limits.audio_bytes_per_sec must not be negative"))
	} else if cfg.Limits.AudioBytesPerSec == 0 {
		cfg.Limits.AudioBytesPerSec = DefaultAudioBytesPerSec
	}

	return errors.Join(errs...)
}
