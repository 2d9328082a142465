package utils

import (
	"encoding/base64"
	"fmt"

	"mailburst/models"
)

// InlineThreshold is the total payload size at which attachments stop
// travelling inside the queue record and move to object storage.
const InlineThreshold = 7 * 1024 * 1024

// Storage methods reported for observability
const (
	StorageMethodNone     = "none"
	StorageMethodInline   = "inline"
	StorageMethodExternal = "external"
)

// IncomingFile is one uploaded file as received by the API layer.
type IncomingFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// PrepareAttachments decides the storage representation at enqueue time. The
// decision is made once, on the sum of all file sizes in the message, not per
// file: at or above the threshold every file goes to object storage, below it
// every file is carried base64-encoded in the payload.
func PrepareAttachments(storage ObjectStorage, files []IncomingFile) ([]models.Attachment, string, error) {
	if len(files) == 0 {
		return nil, StorageMethodNone, nil
	}

	var total int64
	for _, f := range files {
		total += int64(len(f.Data))
	}

	attachments := make([]models.Attachment, 0, len(files))

	if total >= InlineThreshold {
		for _, f := range files {
			url, id, err := storage.Upload(f.Data, f.Name, f.MimeType)
			if err != nil {
				return nil, StorageMethodExternal, fmt.Errorf("upload %s: %w", f.Name, err)
			}
			attachments = append(attachments, models.Attachment{
				Name:      f.Name,
				MimeType:  f.MimeType,
				Size:      int64(len(f.Data)),
				StoredIn:  models.StoredExternal,
				URL:       url,
				StorageID: id,
			})
		}
		return attachments, StorageMethodExternal, nil
	}

	for _, f := range files {
		attachments = append(attachments, models.Attachment{
			Name:     f.Name,
			MimeType: f.MimeType,
			Size:     int64(len(f.Data)),
			StoredIn: models.StoredInline,
			Data:     base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	return attachments, StorageMethodInline, nil
}

// ResolveAttachments reverses the storage decision at delivery time:
// externalized descriptors are fetched back from object storage, inline ones
// pass through. A failed fetch is a hard failure for the job; an attachment
// is never silently dropped.
func ResolveAttachments(storage ObjectStorage, attachments []models.Attachment) ([]models.Attachment, error) {
	resolved := make([]models.Attachment, 0, len(attachments))

	for _, att := range attachments {
		if !att.IsExternal() {
			resolved = append(resolved, att)
			continue
		}

		data, err := storage.Fetch(att.URL)
		if err != nil {
			return nil, fmt.Errorf("resolve attachment %s: %w", att.Name, err)
		}

		att.Data = base64.StdEncoding.EncodeToString(data)
		att.Size = int64(len(data))
		resolved = append(resolved, att)
	}

	return resolved, nil
}

// AttachmentBytes decodes a resolved attachment's payload.
func AttachmentBytes(att models.Attachment) ([]byte, error) {
	if att.Data == "" {
		return nil, fmt.Errorf("attachment %s has no payload", att.Name)
	}
	return base64.StdEncoding.DecodeString(att.Data)
}
