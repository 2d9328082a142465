package utils

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"mailburst/models"
)

// Elements mail clients ignore or that get messages flagged. Stripped before
// any MIME assembly.
var (
	scriptRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	iframeRe  = regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe>`)
	formRe    = regexp.MustCompile(`(?is)<form\b[^>]*>.*?</form>`)
	objectRe  = regexp.MustCompile(`(?is)<object\b[^>]*>.*?</object>`)
	embedRe   = regexp.MustCompile(`(?is)<embed\b[^>]*/?>`)
	handlerRe = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)

	imgTagRe = regexp.MustCompile(`(?is)<img\b[^>]*>`)
	srcRe    = regexp.MustCompile(`(?is)\bsrc\s*=\s*("([^"]*)"|'([^']*)')`)
	dataURI  = regexp.MustCompile(`(?is)^data:([a-z0-9.+/-]+);base64,(.+)$`)
)

// SanitizeHTML removes scripts, frames, forms, embedded objects and inline
// event handlers from a mail body.
func SanitizeHTML(html string) string {
	html = scriptRe.ReplaceAllString(html, "")
	html = iframeRe.ReplaceAllString(html, "")
	html = formRe.ReplaceAllString(html, "")
	html = objectRe.ReplaceAllString(html, "")
	html = embedRe.ReplaceAllString(html, "")
	html = handlerRe.ReplaceAllString(html, "")
	return html
}

// InlineImages converts every <img> whose source is a base64 data URI or a
// remote URL into a content-id attachment and rewrites the tag to reference
// it. Clients that block remote image loading still render these, at the cost
// of carrying the binary weight inside the message.
func InlineImages(html string) (string, []models.Attachment, error) {
	var inlined []models.Attachment
	var fetchErr error

	result := imgTagRe.ReplaceAllStringFunc(html, func(tag string) string {
		if fetchErr != nil {
			return tag
		}

		srcMatch := srcRe.FindStringSubmatch(tag)
		if srcMatch == nil {
			return tag
		}
		src := srcMatch[2]
		if src == "" {
			src = srcMatch[3]
		}
		if strings.HasPrefix(src, "cid:") {
			return tag
		}

		var data []byte
		var mimeType string

		if m := dataURI.FindStringSubmatch(src); m != nil {
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(m[2]))
			if err != nil {
				fetchErr = fmt.Errorf("decode inline image: %w", err)
				return tag
			}
			data = decoded
			mimeType = m[1]
		} else if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			fetched, contentType, err := FetchURL(src)
			if err != nil {
				fetchErr = err
				return tag
			}
			data = fetched
			mimeType = contentType
			if mimeType == "" {
				mimeType = "image/png"
			}
		} else {
			return tag
		}

		cid := fmt.Sprintf("img-%s%s", uuid.NewString(), extensionFor(mimeType))
		inlined = append(inlined, models.Attachment{
			Name:     cid,
			MimeType: mimeType,
			Size:     int64(len(data)),
			StoredIn: models.StoredInline,
			Data:     base64.StdEncoding.EncodeToString(data),
		})

		return srcRe.ReplaceAllString(tag, fmt.Sprintf(`src="cid:%s"`, cid))
	})

	if fetchErr != nil {
		return "", nil, fetchErr
	}
	return result, inlined, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	default:
		return ""
	}
}
