package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunWithTimeoutReturnsFnError(t *testing.T) {
	want := errors.New("greeting refused")
	got := RunWithTimeout(context.Background(), time.Second, func() error { return want })
	if got != want {
		t.Errorf("RunWithTimeout = %v, want %v", got, want)
	}

	if err := RunWithTimeout(context.Background(), time.Second, func() error { return nil }); err != nil {
		t.Errorf("RunWithTimeout on success = %v, want nil", err)
	}
}

func TestRunWithTimeoutAbandonsHungFn(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := RunWithTimeout(context.Background(), 20*time.Millisecond, func() error {
		<-release
		return nil
	})
	if err == nil {
		t.Fatal("RunWithTimeout returned nil for a hung fn")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want a timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("RunWithTimeout blocked for %s", elapsed)
	}
}

func TestRunWithTimeoutHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)

	err := RunWithTimeout(ctx, time.Minute, func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithTimeout = %v, want context.Canceled", err)
	}
}

func TestXOAuth2InitialResponse(t *testing.T) {
	auth := xoauth2Auth{username: "alice@example.com", accessToken: "ya29.token"}

	mech, resp, err := auth.Start(nil)
	if err != nil {
		t.Fatal(err)
	}
	if mech != "XOAUTH2" {
		t.Errorf("mechanism = %q, want XOAUTH2", mech)
	}
	want := "user=alice@example.com\x01auth=Bearer ya29.token\x01\x01"
	if string(resp) != want {
		t.Errorf("initial response = %q, want %q", resp, want)
	}
}
