package hfhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"imageworker/internal/storage"
)

func newTestClient(t *testing.T, endpoint, token string) *Client {
	t.Helper()
	cache, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("cache store: %v", err)
	}
	client, err := NewClient(Options{Endpoint: endpoint, Token: token, Cache: cache})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestFetchDownloadsIntoCacheOnce(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/black-forest-labs/FLUX.1-schnell/resolve/main/ae.safetensors" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hf_test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		_, _ = w.Write([]byte("vae-weights"))
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, "hf_test")
	for i := 0; i < 2; i++ {
		path, err := client.Fetch(context.Background(), "black-forest-labs/FLUX.1-schnell", "ae.safetensors")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil || string(data) != "vae-weights" {
			t.Fatalf("cached content = %q (%v)", data, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("hub hits = %d, want 1", got)
	}
}

func TestFetchOmitsAuthWithoutToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("authorization header should be absent")
		}
		_, _ = w.Write([]byte("x"))
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, "")
	if _, err := client.Fetch(context.Background(), "Qwen/Qwen-Image-2512", "model.safetensors"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestFetchReportsStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Access to model is restricted", http.StatusForbidden)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, "")
	_, err := client.Fetch(context.Background(), "black-forest-labs/FLUX.2-dev", "flux2-dev.safetensors")
	if err == nil {
		t.Fatalf("expected error for forbidden download")
	}
	if !strings.Contains(err.Error(), "status 403") || !strings.Contains(err.Error(), "restricted") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveURLEscapesSegments(t *testing.T) {
	client := newTestClient(t, "https://hub.example.com/", "")
	got := client.resolveURL("org/repo", "split files/clip l.safetensors")
	want := "https://hub.example.com/org/repo/resolve/main/split%20files/clip%20l.safetensors"
	if got != want {
		t.Fatalf("resolveURL = %s, want %s", got, want)
	}
}

func TestNewClientRequiresCache(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("expected error without cache")
	}
}
