package blob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/files/presign", r.URL.Path)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "plan.pdf", req.FileName)
		require.Equal(t, "application/pdf", req.ContentType)

		_ = json.NewEncoder(w).Encode(Upload{
			UploadURL: "https://storage/upload/abc",
			FileURL:   "https://storage/files/plan.pdf",
		})
	}))
	defer srv.Close()

	p := NewHTTPPresigner(srv.URL)
	upload, err := p.Presign(context.Background(), Request{FileName: "plan.pdf", ContentType: "application/pdf"})
	require.NoError(t, err)
	require.Equal(t, "https://storage/upload/abc", upload.UploadURL)
	require.Equal(t, "https://storage/files/plan.pdf", upload.FileURL)
}

func TestPresignEmptyFileName(t *testing.T) {
	p := NewHTTPPresigner("http://unused")
	_, err := p.Presign(context.Background(), Request{})
	require.Error(t, err)
}

func TestPresignServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPPresigner(srv.URL)
	_, err := p.Presign(context.Background(), Request{FileName: "a.txt"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPresignIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Upload{UploadURL: "https://storage/upload/abc"})
	}))
	defer srv.Close()

	p := NewHTTPPresigner(srv.URL)
	_, err := p.Presign(context.Background(), Request{FileName: "a.txt"})
	require.ErrorIs(t, err, ErrUnavailable)
}
