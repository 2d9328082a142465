package utils

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestSanitizeHTMLStripsActiveContent(t *testing.T) {
	in := `<p>Hello</p>` +
		`<script>alert(1)</script>` +
		`<iframe src="https://evil.example"></iframe>` +
		`<form action="/steal"><input name="pw"></form>` +
		`<object data="x.swf"></object>` +
		`<embed src="x.swf"/>` +
		`<a href="https://ok.example" onclick="track()">link</a>`

	out := SanitizeHTML(in)

	for _, banned := range []string{"<script", "<iframe", "<form", "<object", "<embed", "onclick"} {
		if strings.Contains(strings.ToLower(out), banned) {
			t.Errorf("sanitized output still contains %q: %s", banned, out)
		}
	}
	if !strings.Contains(out, "<p>Hello</p>") {
		t.Errorf("sanitizer dropped safe content: %s", out)
	}
	if !strings.Contains(out, `href="https://ok.example"`) {
		t.Errorf("sanitizer dropped safe link: %s", out)
	}
}

func TestInlineImagesRewritesDataURI(t *testing.T) {
	pixel := base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47})
	in := `<p>pic:</p><img alt="dot" src="data:image/png;base64,` + pixel + `">`

	out, atts, err := InlineImages(in)
	if err != nil {
		t.Fatalf("InlineImages: %v", err)
	}
	if len(atts) != 1 {
		t.Fatalf("attachments = %d, want 1", len(atts))
	}

	att := atts[0]
	if att.MimeType != "image/png" {
		t.Errorf("mime = %q, want image/png", att.MimeType)
	}
	if !strings.HasSuffix(att.Name, ".png") {
		t.Errorf("cid %q missing extension", att.Name)
	}
	if !strings.Contains(out, `src="cid:`+att.Name+`"`) {
		t.Errorf("tag not rewritten to cid: %s", out)
	}
	if strings.Contains(out, "data:image") {
		t.Errorf("data URI survived rewrite: %s", out)
	}

	decoded, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 4 {
		t.Errorf("payload = %d bytes, want 4", len(decoded))
	}
}

func TestInlineImagesLeavesCidAndRelativeAlone(t *testing.T) {
	in := `<img src="cid:already-inlined.png"><img src="/static/logo.png">`

	out, atts, err := InlineImages(in)
	if err != nil {
		t.Fatalf("InlineImages: %v", err)
	}
	if len(atts) != 0 {
		t.Errorf("attachments = %d, want 0", len(atts))
	}
	if out != in {
		t.Errorf("tags changed: %s", out)
	}
}

func TestInlineImagesBadDataURIFails(t *testing.T) {
	in := `<img src="data:image/png;base64,!!!notbase64!!!">`
	if _, _, err := InlineImages(in); err == nil {
		t.Error("expected error for undecodable data URI")
	}
}
