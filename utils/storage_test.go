package utils

import "testing"

func TestResourceTypeRouting(t *testing.T) {
	cases := map[string]string{
		"image/png":                "image",
		"image/jpeg":               "image",
		"video/mp4":                "video",
		"application/pdf":          "raw",
		"application/octet-stream": "raw",
		"text/plain":               "raw",
		"":                         "raw",
	}
	for mime, want := range cases {
		if got := ResourceType(mime); got != want {
			t.Errorf("ResourceType(%q) = %q, want %q", mime, got, want)
		}
	}
}
