package objects

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStoragePutPhoto(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "http://localhost:8080/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	url, err := s.PutPhoto(t.Context(), "7/abc.png", []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "http://localhost:8080/media/7/abc.png" {
		t.Fatalf("url = %q", url)
	}
	b, err := os.ReadFile(filepath.Join(dir, "7", "abc.png"))
	if err != nil || string(b) != "img" {
		t.Fatalf("stored = %q, %v", b, err)
	}

	// keys cannot escape the storage dir
	url, err = s.PutPhoto(t.Context(), "../../etc/x.png", []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("put traversal: %v", err)
	}
	if !strings.HasSuffix(url, "/media/etc/x.png") {
		t.Fatalf("url = %q", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "etc", "x.png")); err != nil {
		t.Fatalf("expected object inside dir: %v", err)
	}
}

func TestSupabaseStoragePutPhoto(t *testing.T) {
	var gotPath, gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Key":"biolocks/7/abc.png"}`))
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL+"/", "service-key", "biolocks")
	url, err := s.PutPhoto(t.Context(), "7/abc.png", []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if gotPath != "/storage/v1/object/biolocks/7/abc.png" || gotAuth != "Bearer service-key" || gotType != "image/png" || gotBody != "img" {
		t.Fatalf("request = %s %s %s %s", gotPath, gotAuth, gotType, gotBody)
	}
	if url != srv.URL+"/storage/v1/object/public/biolocks/7/abc.png" {
		t.Fatalf("url = %q", url)
	}
}

func TestSupabaseStorageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bucket not found", http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "k", "missing")
	if _, err := s.PutPhoto(t.Context(), "a.png", []byte("x"), "image/png"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}
