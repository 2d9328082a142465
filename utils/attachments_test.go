package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"mailburst/models"
)

// fakeStorage records uploads and serves fetches from memory.
type fakeStorage struct {
	uploads  int
	objects  map[string][]byte
	failGets bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) Upload(data []byte, filename, mimeType string) (string, string, error) {
	f.uploads++
	id := fmt.Sprintf("obj-%d", f.uploads)
	url := "https://files.example.com/" + id + "/" + filename
	f.objects[url] = data
	return url, id, nil
}

func (f *fakeStorage) Fetch(url string) ([]byte, error) {
	if f.failGets {
		return nil, errors.New("storage unavailable")
	}
	data, ok := f.objects[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func TestPrepareAttachmentsInlineBelowThreshold(t *testing.T) {
	storage := newFakeStorage()
	files := []IncomingFile{
		{Name: "a.pdf", MimeType: "application/pdf", Data: bytes.Repeat([]byte("x"), 1024)},
		{Name: "b.png", MimeType: "image/png", Data: bytes.Repeat([]byte("y"), 2048)},
	}

	atts, method, err := PrepareAttachments(storage, files)
	if err != nil {
		t.Fatalf("PrepareAttachments: %v", err)
	}
	if method != StorageMethodInline {
		t.Errorf("method = %q, want %q", method, StorageMethodInline)
	}
	if storage.uploads != 0 {
		t.Errorf("uploads = %d, want 0", storage.uploads)
	}
	for _, att := range atts {
		if att.StoredIn != models.StoredInline {
			t.Errorf("%s stored_in = %q, want inline", att.Name, att.StoredIn)
		}
		if att.Data == "" {
			t.Errorf("%s has empty inline payload", att.Name)
		}
	}
}

func TestPrepareAttachmentsExternalAtThreshold(t *testing.T) {
	storage := newFakeStorage()
	// Two files whose sum hits the threshold exactly; each alone is under it.
	half := InlineThreshold / 2
	files := []IncomingFile{
		{Name: "a.bin", MimeType: "application/octet-stream", Data: make([]byte, half)},
		{Name: "b.bin", MimeType: "application/octet-stream", Data: make([]byte, InlineThreshold-half)},
	}

	atts, method, err := PrepareAttachments(storage, files)
	if err != nil {
		t.Fatalf("PrepareAttachments: %v", err)
	}
	if method != StorageMethodExternal {
		t.Errorf("method = %q, want %q", method, StorageMethodExternal)
	}
	if storage.uploads != 2 {
		t.Errorf("uploads = %d, want 2 (decision is all-or-nothing)", storage.uploads)
	}
	for _, att := range atts {
		if att.StoredIn != models.StoredExternal {
			t.Errorf("%s stored_in = %q, want external", att.Name, att.StoredIn)
		}
		if att.URL == "" || att.StorageID == "" {
			t.Errorf("%s missing URL or storage ID", att.Name)
		}
		if att.Data != "" {
			t.Errorf("%s carries inline data despite external storage", att.Name)
		}
	}
}

func TestPrepareAttachmentsJustUnderThresholdStaysInline(t *testing.T) {
	storage := newFakeStorage()
	files := []IncomingFile{
		{Name: "big.bin", MimeType: "application/octet-stream", Data: make([]byte, InlineThreshold-1)},
	}

	_, method, err := PrepareAttachments(storage, files)
	if err != nil {
		t.Fatalf("PrepareAttachments: %v", err)
	}
	if method != StorageMethodInline {
		t.Errorf("method = %q, want %q", method, StorageMethodInline)
	}
}

func TestPrepareAttachmentsEmpty(t *testing.T) {
	atts, method, err := PrepareAttachments(newFakeStorage(), nil)
	if err != nil {
		t.Fatalf("PrepareAttachments: %v", err)
	}
	if method != StorageMethodNone || atts != nil {
		t.Errorf("got (%v, %q), want (nil, none)", atts, method)
	}
}

func TestResolveAttachmentsRoundTrip(t *testing.T) {
	storage := newFakeStorage()
	payload := []byte("attachment body")
	url, id, err := storage.Upload(payload, "report.pdf", "application/pdf")
	if err != nil {
		t.Fatal(err)
	}

	atts := []models.Attachment{
		{Name: "report.pdf", MimeType: "application/pdf", StoredIn: models.StoredExternal, URL: url, StorageID: id},
		{Name: "note.txt", MimeType: "text/plain", StoredIn: models.StoredInline,
			Data: base64.StdEncoding.EncodeToString([]byte("hello"))},
	}

	resolved, err := ResolveAttachments(storage, atts)
	if err != nil {
		t.Fatalf("ResolveAttachments: %v", err)
	}

	got, err := AttachmentBytes(resolved[0])
	if err != nil {
		t.Fatalf("AttachmentBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("fetched payload = %q, want %q", got, payload)
	}

	got, err = AttachmentBytes(resolved[1])
	if err != nil {
		t.Fatalf("AttachmentBytes: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("inline payload = %q, want hello", got)
	}
}

func TestResolveAttachmentsFetchFailureIsHard(t *testing.T) {
	storage := newFakeStorage()
	storage.failGets = true

	atts := []models.Attachment{
		{Name: "gone.pdf", StoredIn: models.StoredExternal, URL: "https://files.example.com/gone"},
	}
	if _, err := ResolveAttachments(storage, atts); err == nil {
		t.Error("expected hard failure when fetch fails")
	}
}

func TestLegacyUntaggedURLTreatedAsExternal(t *testing.T) {
	att := models.Attachment{Name: "old.pdf", URL: "https://files.example.com/old.pdf"}
	if !att.IsExternal() {
		t.Error("untagged attachment with http URL should resolve as external")
	}

	inline := models.Attachment{Name: "old.txt", Data: "aGVsbG8="}
	if inline.IsExternal() {
		t.Error("untagged attachment without URL should resolve as inline")
	}
}
