package worker

import (
	"testing"

	"mailburst/models"
)

func TestBuildSinglesFansOutPerRecipient(t *testing.T) {
	payload := BulkPayload{
		UserID:         7,
		SenderID:       3,
		Recipients:     []string{"a@example.com", "b@example.com", "c@example.com"},
		RecipientNames: []string{"Ada", "Bob", "Cleo"},
		Subject:        "Hello {{name}}",
		Body:           "<p>Hi {{name}}</p>",
		Attachments:    []models.Attachment{{Name: "deck.pdf"}},
	}

	singles := buildSingles(payload)
	if len(singles) != 3 {
		t.Fatalf("singles = %d, want 3", len(singles))
	}

	for i, s := range singles {
		if s.Recipient != payload.Recipients[i] {
			t.Errorf("[%d] recipient = %q, want %q", i, s.Recipient, payload.Recipients[i])
		}
		if s.RecipientName != payload.RecipientNames[i] {
			t.Errorf("[%d] name = %q, want %q", i, s.RecipientName, payload.RecipientNames[i])
		}
		if s.UserID != 7 || s.SenderID != 3 {
			t.Errorf("[%d] owner fields not carried: %+v", i, s)
		}
		if len(s.Attachments) != 1 {
			t.Errorf("[%d] attachments = %d, want 1", i, len(s.Attachments))
		}
	}
}

func TestBuildSinglesIgnoresMismatchedNames(t *testing.T) {
	payload := BulkPayload{
		Recipients:     []string{"a@example.com", "b@example.com"},
		RecipientNames: []string{"Only One"},
	}

	for _, s := range buildSingles(payload) {
		if s.RecipientName != "" {
			t.Errorf("recipient %s got name %q from a mismatched list", s.Recipient, s.RecipientName)
		}
	}
}

func TestPersonalize(t *testing.T) {
	body := "<p>Hi {{name}}, a note for {{name}}.</p>"

	got := personalize(body, "Ada")
	if got != "<p>Hi Ada, a note for Ada.</p>" {
		t.Errorf("personalize = %q", got)
	}

	got = personalize(body, "")
	if got != "<p>Hi there, a note for there.</p>" {
		t.Errorf("fallback personalize = %q", got)
	}

	if got := personalize("no placeholder", "Ada"); got != "no placeholder" {
		t.Errorf("untouched body changed: %q", got)
	}
}

func TestAppendSignature(t *testing.T) {
	got := appendSignature("<p>Hello {{name}}</p>", "Best,<br>Alice")
	want := "<p>Hello {{name}}</p><br><br>Best,<br>Alice"
	if got != want {
		t.Errorf("appendSignature = %q, want %q", got, want)
	}

	body := "<p>No signature configured</p>"
	if got := appendSignature(body, ""); got != body {
		t.Errorf("empty signature changed the body: %q", got)
	}
}
