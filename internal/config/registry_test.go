package config

import (
	"context"
	"errors"
	"testing"

	"github.com/mondzorgtools/dictaat/internal/asr"
)

type nopProvider struct{ name string }

func (p *nopProvider) Transcribe(context.Context, []byte, string, string) (asr.Result, error) {
	return asr.Result{}, nil
}
func (p *nopProvider) Ping(context.Context) error { return nil }
func (p *nopProvider) Name() string               { return p.name }
func (p *nopProvider) Model() string              { return "" }

func TestRegistryCreateASR(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.RegisterASR("whisper-server", func(cfg ASRConfig) (asr.Provider, error) {
		return &nopProvider{name: "whisper-server"}, nil
	})

	p, err := reg.CreateASR(ASRConfig{Provider: "whisper-server"})
	if err != nil {
		t.Fatalf("CreateASR: %v", err)
	}
	if p.Name() != "whisper-server" {
		t.Errorf("provider = %q", p.Name())
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	_, err := reg.CreateASR(ASRConfig{Provider: "dragon"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistryOverwrite(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.RegisterASR("openai", func(ASRConfig) (asr.Provider, error) {
		return &nopProvider{name: "first"}, nil
	})
	reg.RegisterASR("openai", func(ASRConfig) (asr.Provider, error) {
		return &nopProvider{name: "second"}, nil
	})

	p, err := reg.CreateASR(ASRConfig{Provider: "openai"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "second" {
		t.Errorf("provider = %q, want the later registration", p.Name())
	}
	if len(reg.Names()) != 1 {
		t.Errorf("names = %v", reg.Names())
	}
}
