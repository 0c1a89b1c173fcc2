package storage

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"seedream-studio-server/modules/common/config"
)

type recordedUpload struct {
	path        string
	contentType string
	auth        string
	body        []byte
}

func newStorage(t *testing.T) (*Client, *[]recordedUpload, *httptest.Server) {
	t.Helper()
	var (
		mu      sync.Mutex
		uploads []recordedUpload
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/source.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/storage/v1/object/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploads = append(uploads, recordedUpload{
			path:        strings.TrimPrefix(r.URL.Path, "/storage/v1/object/"),
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
			body:        body,
		})
		mu.Unlock()
		w.Write([]byte(`{"Key":"ok"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(&config.Config{
		SupabaseURL:           srv.URL + "/",
		SupabaseServiceKey:    "service-key",
		SupabaseStorageBucket: "images",
	})
	return c, &uploads, srv
}

func TestClient_CopyFromURL(t *testing.T) {
	c, uploads, srv := newStorage(t)

	url, err := c.CopyFromURL(context.Background(), srv.URL+"/source.png", "user-1")
	if err != nil {
		t.Fatalf("CopyFromURL() error = %v", err)
	}

	if len(*uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(*uploads))
	}
	up := (*uploads)[0]
	if !strings.HasPrefix(up.path, "images/images/user-1/") || !strings.HasSuffix(up.path, ".png") {
		t.Errorf("upload path = %q", up.path)
	}
	if up.contentType != "image/jpeg" || up.auth != "Bearer service-key" || string(up.body) != "jpeg-bytes" {
		t.Errorf("upload = %+v", up)
	}
	if want := srv.URL + "/storage/v1/object/public/" + up.path; url != want {
		t.Errorf("public url = %q, want %q", url, want)
	}
}

func TestClient_CopyFromURL_SourceMissing(t *testing.T) {
	c, uploads, srv := newStorage(t)

	if _, err := c.CopyFromURL(context.Background(), srv.URL+"/missing.png", "user-1"); err == nil {
		t.Fatal("CopyFromURL() succeeded for a missing source")
	}
	if len(*uploads) != 0 {
		t.Errorf("uploads = %d, want 0", len(*uploads))
	}
}

func TestClient_Download(t *testing.T) {
	c, uploads, srv := newStorage(t)

	data, contentType, err := c.Download(context.Background(), srv.URL+"/source.png")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(data) != "jpeg-bytes" || contentType != "image/jpeg" {
		t.Errorf("Download() = %q, %q", data, contentType)
	}
	if len(*uploads) != 0 {
		t.Errorf("Download() uploaded %d objects", len(*uploads))
	}

	if _, _, err := c.Download(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("Download() succeeded for a missing source")
	}
}

func TestClient_UploadReference(t *testing.T) {
	c, uploads, _ := newStorage(t)
	encoded := "data:image/webp;base64," + base64.StdEncoding.EncodeToString([]byte("webp"))

	if _, err := c.UploadReference(context.Background(), encoded, "u", "task-1", 2); err != nil {
		t.Fatalf("UploadReference() error = %v", err)
	}
	up := (*uploads)[0]
	if !strings.HasPrefix(up.path, "images/references/u/task-1/") || !strings.HasSuffix(up.path, "-ref-2.png") {
		t.Errorf("path = %q", up.path)
	}
	if up.contentType != "image/webp" || string(up.body) != "webp" {
		t.Errorf("upload = %+v", up)
	}
}

func TestDecodeImage(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("png"))

	tests := []struct {
		name     string
		in       string
		wantType string
		wantErr  bool
	}{
		{"bare base64", raw, "image/png", false},
		{"data url", "data:image/jpeg;base64," + raw, "image/jpeg", false},
		{"not base64 data url", "data:text/plain,hello", "", true},
		{"missing comma", "data:image/png;base64", "", true},
		{"garbage", "!!!", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ct, err := DecodeImage(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeImage() error = %v", err)
			}
			if err == nil && (ct != tt.wantType || string(data) != "png") {
				t.Errorf("DecodeImage() = %q, %q", data, ct)
			}
		})
	}
}
