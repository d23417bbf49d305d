package auth

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestIssueVerifyDesktop(t *testing.T) {
	t.Parallel()
	issuer, err := NewIssuer(testKey, WithTTL(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	token, err := issuer.Issue("session-1", ScopeDesktop, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "session-1" || claims.Scope != ScopeDesktop || claims.Channel != "" {
		t.Errorf("claims = %+v", claims)
	}
	if until := time.Until(claims.ExpiresAt); until <= 0 || until > time.Minute {
		t.Errorf("expiry %v out of range", until)
	}
}

func TestIssueVerifyMobile(t *testing.T) {
	t.Parallel()
	issuer, err := NewIssuer(testKey)
	if err != nil {
		t.Fatal(err)
	}

	token, err := issuer.Issue("session-2", ScopeMobile, "pair-123456")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Scope != ScopeMobile || claims.Channel != "pair-123456" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestIssueScopeValidation(t *testing.T) {
	t.Parallel()
	issuer, err := NewIssuer(testKey)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := issuer.Issue("s", ScopeMobile, ""); err == nil {
		t.Error("mobile token without channel accepted")
	}
	if _, err := issuer.Issue("s", ScopeDesktop, "pair-1"); err == nil {
		t.Error("desktop token with channel accepted")
	}
	if _, err := issuer.Issue("s", Scope("admin"), ""); err == nil {
		t.Error("unknown scope accepted")
	}
}

func TestVerifyExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	clock := now
	var mu sync.Mutex
	issuer, err := NewIssuer(testKey, WithTTL(time.Minute), WithNow(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}))
	if err != nil {
		t.Fatal(err)
	}

	token, err := issuer.Issue("s", ScopeDesktop, "")
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	clock = now.Add(2 * time.Minute)
	mu.Unlock()

	if _, err := issuer.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	t.Parallel()
	issuer, err := NewIssuer(testKey)
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewIssuer([]byte("another-signing-key-entirely!!!!"))
	if err != nil {
		t.Fatal(err)
	}

	token, err := other.Issue("s", ScopeDesktop, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign signature: err = %v, want ErrInvalidToken", err)
	}
	if _, err := issuer.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: err = %v, want ErrInvalidToken", err)
	}
}

func TestNewIssuerEmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := NewIssuer(nil); err == nil {
		t.Error("empty key accepted")
	}
}
