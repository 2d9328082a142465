package utils

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"mailburst/config"
)

// ObjectStorage uploads attachment payloads to the external object host and
// fetches them back at delivery time.
type ObjectStorage interface {
	Upload(data []byte, filename, mimeType string) (url string, id string, err error)
	Fetch(url string) ([]byte, error)
}

// httpObjectStorage talks to the object host over plain HTTP. Uploads are PUT
// against a resource-typed path; fetches are a GET of the stored URL.
type httpObjectStorage struct {
	baseURL string
	apiKey  string
	bucket  string
	client  *fasthttp.Client
}

func NewObjectStorage() ObjectStorage {
	return &httpObjectStorage{
		baseURL: strings.TrimRight(config.AppConfig.Storage.BaseURL, "/"),
		apiKey:  config.AppConfig.Storage.APIKey,
		bucket:  config.AppConfig.Storage.Bucket,
		client: &fasthttp.Client{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// ResourceType routes an upload by MIME prefix the way the host expects:
// images and videos get their own pipelines, everything else is raw.
func ResourceType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "raw"
	}
}

func (s *httpObjectStorage) Upload(data []byte, filename, mimeType string) (string, string, error) {
	id := uuid.NewString()
	url := fmt.Sprintf("%s/%s/%s/%s/%s", s.baseURL, s.bucket, ResourceType(mimeType), id, filename)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPut)
	req.Header.SetContentType(mimeType)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.SetBody(data)

	if err := s.client.DoTimeout(req, resp, 60*time.Second); err != nil {
		return "", "", fmt.Errorf("storage upload failed: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return "", "", fmt.Errorf("storage upload failed: status %d", resp.StatusCode())
	}

	// Hosts that relocate the object return its final URL
	var uploadResp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Body(), &uploadResp); err == nil && uploadResp.URL != "" {
		url = uploadResp.URL
	}

	return url, id, nil
}

func (s *httpObjectStorage) Fetch(url string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if s.apiKey != "" && strings.HasPrefix(url, s.baseURL) {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	if err := s.client.DoTimeout(req, resp, 60*time.Second); err != nil {
		return nil, fmt.Errorf("storage fetch failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("storage fetch failed: status %d", resp.StatusCode())
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

// FetchURL downloads an arbitrary remote resource (remote images referenced
// from mail bodies) with a bounded timeout.
func FetchURL(url string) ([]byte, string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	client := &fasthttp.Client{ReadTimeout: 15 * time.Second}
	if err := client.DoTimeout(req, resp, 15*time.Second); err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode())
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, string(resp.Header.ContentType()), nil
}
