package utils

import (
	"errors"
	"strings"
	"testing"
	"time"

	"mailburst/config"
	"mailburst/models"
)

func TestOAuthStateRoundTrip(t *testing.T) {
	config.AppConfig.JWTSecret = "unit-test-signing-key"
	now := time.Now()

	state, err := EncodeOAuthState(42, 3, models.ProviderGmail, now)
	if err != nil {
		t.Fatalf("EncodeOAuthState: %v", err)
	}

	decoded, err := DecodeOAuthState(state, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("DecodeOAuthState: %v", err)
	}
	if decoded.UserID != 42 || decoded.Slot != 3 || decoded.Provider != models.ProviderGmail {
		t.Errorf("decoded = %+v, want user 42 slot 3 gmail", decoded)
	}
}

func TestOAuthStateExpires(t *testing.T) {
	config.AppConfig.JWTSecret = "unit-test-signing-key"
	now := time.Now()

	state, err := EncodeOAuthState(42, 1, models.ProviderOutlook, now)
	if err != nil {
		t.Fatal(err)
	}

	// Just inside the window still decodes
	if _, err := DecodeOAuthState(state, now.Add(OAuthStateTTL-time.Second)); err != nil {
		t.Errorf("state rejected inside TTL: %v", err)
	}

	// Past the window is rejected even though the signature is valid
	_, err = DecodeOAuthState(state, now.Add(OAuthStateTTL+time.Second))
	if !errors.Is(err, ErrStateExpired) {
		t.Errorf("err = %v, want ErrStateExpired", err)
	}
}

func TestOAuthStateTamperDetected(t *testing.T) {
	config.AppConfig.JWTSecret = "unit-test-signing-key"
	now := time.Now()

	state, err := EncodeOAuthState(42, 1, models.ProviderYahoo, now)
	if err != nil {
		t.Fatal(err)
	}

	// Flip a character in the middle of the payload part
	b := []byte(state)
	i := strings.Index(state, ".") / 2
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	mutated := string(b)

	if _, err := DecodeOAuthState(mutated, now); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("err = %v, want ErrStateInvalid", err)
	}

	if _, err := DecodeOAuthState("not-a-state", now); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("err = %v, want ErrStateInvalid", err)
	}
}

func TestOAuthConfigForPasswordProviderIsNil(t *testing.T) {
	if cfg := OAuthConfigFor(models.ProviderSMTP); cfg != nil {
		t.Error("smtp provider should have no oauth config")
	}
	if cfg := OAuthConfigFor("unknown"); cfg != nil {
		t.Error("unknown provider should have no oauth config")
	}
}
