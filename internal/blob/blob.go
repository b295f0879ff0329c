// Package blob obtains presigned upload URLs from the platform's file
// service. The chat server never proxies file bytes: the client uploads
// directly to object storage with the presigned URL and then announces the
// resulting file URL as a room message.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable indicates the file service could not issue a URL.
var ErrUnavailable = errors.New("blob: unavailable")

// Request describes the file a client wants to upload.
type Request struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// Upload is a presigned URL pair: PUT the bytes to UploadURL, share FileURL
// in the room once the upload completes.
type Upload struct {
	UploadURL string `json:"uploadUrl"`
	FileURL   string `json:"fileUrl"`
}

// Presigner issues presigned upload URLs.
type Presigner interface {
	Presign(ctx context.Context, req Request) (Upload, error)
}

// HTTPPresigner requests URLs from the platform file service.
type HTTPPresigner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPresigner creates a presigner client for the given base URL.
func NewHTTPPresigner(baseURL string) *HTTPPresigner {
	return &HTTPPresigner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Presign POSTs the file description to {base}/api/files/presign and returns
// the URL pair.
func (p *HTTPPresigner) Presign(ctx context.Context, req Request) (Upload, error) {
	if req.FileName == "" {
		return Upload{}, fmt.Errorf("blob: file name required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Upload{}, fmt.Errorf("blob: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/files/presign", bytes.NewReader(body))
	if err != nil {
		return Upload{}, fmt.Errorf("blob: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Upload{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var upload Upload
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return Upload{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if upload.UploadURL == "" || upload.FileURL == "" {
		return Upload{}, fmt.Errorf("%w: incomplete response", ErrUnavailable)
	}
	return upload, nil
}
