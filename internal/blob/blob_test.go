package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
)

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error when base URL is missing")
	}
}

func TestUpload(t *testing.T) {
	var gotPath, gotAuth, gotCT string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(WithBaseURL(srv.URL), WithAPIKey("secret"), WithBucket("leads"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	url, err := c.Upload(context.Background(), "photos/lead_7_abcd1234.jpg", []byte("img-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if gotPath != "/storage/v1/object/leads/photos/lead_7_abcd1234.jpg" {
		t.Errorf("upload path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotCT != "image/jpeg" {
		t.Errorf("content type = %q", gotCT)
	}
	if string(gotBody) != "img-bytes" {
		t.Errorf("body = %q", gotBody)
	}
	want := srv.URL + "/storage/v1/object/public/leads/photos/lead_7_abcd1234.jpg"
	if url != want {
		t.Errorf("public URL = %q, want %q", url, want)
	}
}

func TestUploadEmptyData(t *testing.T) {
	c, _ := NewClient(WithBaseURL("http://storage.local"))
	if _, err := c.Upload(context.Background(), "photos/x.jpg", nil, "image/jpeg"); err == nil {
		t.Error("expected error for empty upload data")
	}
}

func TestUploadRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := NewClient(WithBaseURL(srv.URL))
	if _, err := c.Upload(context.Background(), "photos/x.jpg", []byte("b"), ""); err != nil {
		t.Fatalf("Upload failed after retries: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestUploadDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c, _ := NewClient(WithBaseURL(srv.URL))
	if _, err := c.Upload(context.Background(), "photos/x.jpg", []byte("b"), ""); err == nil {
		t.Fatal("expected error for 403 response")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected single attempt for client error, got %d", calls)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/storage/v1/object/public/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("photo-data"))
	}))
	defer srv.Close()

	c, _ := NewClient(WithBaseURL(srv.URL))
	data, err := c.Download(context.Background(), srv.URL+"/storage/v1/object/public/leads/photos/lead_7_abcd1234.jpg")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != "photo-data" {
		t.Errorf("downloaded %q", data)
	}

	if _, err := c.Download(context.Background(), srv.URL+"/nope"); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestPhotoPath(t *testing.T) {
	p := PhotoPath(42, "png")
	if !regexp.MustCompile(`^photos/lead_42_[0-9a-f]{8}\.png$`).MatchString(p) {
		t.Errorf("PhotoPath returned %q", p)
	}
	if p2 := PhotoPath(42, "png"); p2 == p {
		t.Error("expected distinct random suffixes")
	}
	if q := PhotoPath(7, ""); !strings.HasSuffix(q, ".jpg") {
		t.Errorf("expected jpg default, got %q", q)
	}
}

func TestExtForContentType(t *testing.T) {
	tests := []struct {
		ct  string
		ext string
	}{
		{"image/jpeg", "jpg"},
		{"image/png", "png"},
		{"IMAGE/PNG", "png"},
		{"image/webp", "webp"},
		{"application/octet-stream", "jpg"},
		{"", "jpg"},
	}
	for _, tt := range tests {
		if got := ExtForContentType(tt.ct); got != tt.ext {
			t.Errorf("ExtForContentType(%q) = %q, want %q", tt.ct, got, tt.ext)
		}
	}
}
