package utils

import (
	"testing"

	"mailburst/config"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	config.AppConfig.EncryptionKey = "unit-test-secret"

	for _, plaintext := range []string{"hunter2", "a much longer smtp app password value", "ya29.a0AfH6token"} {
		ct, err := Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if ct == plaintext {
			t.Fatalf("ciphertext equals plaintext for %q", plaintext)
		}

		got, err := Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptEmptyIsEmpty(t *testing.T) {
	config.AppConfig.EncryptionKey = "unit-test-secret"

	ct, err := Encrypt("")
	if err != nil || ct != "" {
		t.Errorf("Encrypt(\"\") = (%q, %v), want (\"\", nil)", ct, err)
	}
}

func TestIsEncrypted(t *testing.T) {
	config.AppConfig.EncryptionKey = "unit-test-secret"

	ct, err := Encrypt("some password")
	if err != nil {
		t.Fatal(err)
	}
	if !IsEncrypted(ct) {
		t.Error("ciphertext not recognized as encrypted")
	}
	if IsEncrypted("plain password") {
		t.Error("plaintext misdetected as encrypted")
	}
}

func TestIsEncryptedRejectsBase64LikePasswords(t *testing.T) {
	config.AppConfig.EncryptionKey = "unit-test-secret"

	// User-chosen passwords made entirely of base64url characters must still
	// be treated as plaintext, encrypted on save, and round-trip cleanly.
	passwords := []string{
		"CorrectHorseBatteryStap1",
		"aVeryLongAlphanumericAppPassword42",
		"dGhpcyBsb29rcyBsaWtlIGJhc2U2NA",
		"short",
		"has:colon-but-wrong-shape",
	}
	for _, pw := range passwords {
		if IsEncrypted(pw) {
			t.Errorf("IsEncrypted(%q) = true, want false", pw)
			continue
		}
		stored, err := EncryptIfNeeded(pw)
		if err != nil {
			t.Fatalf("EncryptIfNeeded(%q): %v", pw, err)
		}
		if stored == pw {
			t.Errorf("EncryptIfNeeded(%q) left value in plaintext", pw)
			continue
		}
		got, err := Decrypt(stored)
		if err != nil {
			t.Fatalf("Decrypt after EncryptIfNeeded(%q): %v", pw, err)
		}
		if got != pw {
			t.Errorf("round trip = %q, want %q", got, pw)
		}
	}
}

func TestEncryptIfNeededIsIdempotent(t *testing.T) {
	config.AppConfig.EncryptionKey = "unit-test-secret"

	once, err := EncryptIfNeeded("app-password")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := EncryptIfNeeded(once)
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Error("EncryptIfNeeded re-encrypted an already encrypted value")
	}

	got, err := Decrypt(twice)
	if err != nil {
		t.Fatal(err)
	}
	if got != "app-password" {
		t.Errorf("Decrypt = %q, want app-password", got)
	}
}
