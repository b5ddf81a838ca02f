package photoprism

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeLibrary is a minimal in-memory PhotoPrism.
type fakeLibrary struct {
	mu        sync.Mutex
	albums    []Album
	uploads   map[string][]string // token -> file names
	processed map[string][]string // token -> album UIDs
	loggedOut bool
}

func setupMockServer(t *testing.T, lib *fakeLibrary) *httptest.Server {
	t.Helper()
	lib.uploads = map[string][]string{}
	lib.processed = map[string][]string{}

	auth := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "secret" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"s1","access_token":"tok-123","config":{"downloadToken":"d"},"user":{"UID":"u1"}}`))
	})
	mux.HandleFunc("DELETE /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		lib.mu.Lock()
		lib.loggedOut = true
		lib.mu.Unlock()
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /api/v1/albums", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		lib.mu.Lock()
		defer lib.mu.Unlock()
		q := r.URL.Query().Get("q")
		out := []Album{}
		for _, a := range lib.albums {
			if strings.Contains(a.Title, q) {
				out = append(out, a)
			}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /api/v1/albums", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		var in Album
		json.NewDecoder(r.Body).Decode(&in)
		lib.mu.Lock()
		in.UID = "a" + string(rune('0'+len(lib.albums)+1))
		in.Type = "album"
		lib.albums = append(lib.albums, in)
		lib.mu.Unlock()
		json.NewEncoder(w).Encode(in)
	})
	mux.HandleFunc("POST /api/v1/users/u1/upload/{token}", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lib.mu.Lock()
		for _, fh := range r.MultipartForm.File["files"] {
			lib.uploads[r.PathValue("token")] = append(lib.uploads[r.PathValue("token")], fh.Filename)
		}
		lib.mu.Unlock()
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("PUT /api/v1/users/u1/upload/{token}", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		var opts struct {
			Albums []string `json:"albums"`
		}
		json.NewDecoder(r.Body).Decode(&opts)
		lib.mu.Lock()
		lib.processed[r.PathValue("token")] = opts.Albums
		lib.mu.Unlock()
		w.Write([]byte(`{}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestAuth(t *testing.T) {
	lib := &fakeLibrary{}
	server := setupMockServer(t, lib)

	pp, err := NewPhotoPrism(context.Background(), server.URL+"/", "admin", "secret")
	if err != nil {
		t.Fatalf("NewPhotoPrism failed: %v", err)
	}
	if pp.token != "tok-123" || pp.userUID != "u1" {
		t.Errorf("unexpected session token=%q user=%q", pp.token, pp.userUID)
	}
	if err := pp.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !lib.loggedOut || pp.token != "" {
		t.Error("expected session to be closed")
	}
}

func TestAuth_WrongPassword(t *testing.T) {
	server := setupMockServer(t, &fakeLibrary{})
	if _, err := NewPhotoPrism(context.Background(), server.URL, "admin", "nope"); err == nil {
		t.Error("expected authentication error")
	}
}

func TestResolveURL(t *testing.T) {
	pp, err := NewPhotoPrism(context.Background(), setupMockServer(t, &fakeLibrary{}).URL, "admin", "secret")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name     string
		segments []string
		suffix   string
	}{
		{"plain", []string{"albums"}, "/api/v1/albums"},
		{"query", []string{"albums?count=5&q=x"}, "/api/v1/albums?count=5&q=x"},
		{"segments", []string{"users", "u1", "upload", "42"}, "/api/v1/users/u1/upload/42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pp.resolveURL(tt.segments...); !strings.HasSuffix(got, tt.suffix) {
				t.Errorf("expected suffix %q, got %q", tt.suffix, got)
			}
		})
	}
}

func TestEnsureAlbum(t *testing.T) {
	lib := &fakeLibrary{albums: []Album{{UID: "a0", Title: "Lisbon 2026 curated"}}}
	server := setupMockServer(t, lib)
	pp, err := NewPhotoPrism(context.Background(), server.URL, "admin", "secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a, err := pp.EnsureAlbum(ctx, "Lisbon 2026 curated", "")
	if err != nil || a.UID != "a0" {
		t.Fatalf("expected existing album, got %+v (%v)", a, err)
	}
	b, err := pp.EnsureAlbum(ctx, "Lisbon 2026", "")
	if err != nil {
		t.Fatal(err)
	}
	if b.UID == "a0" || len(lib.albums) != 2 {
		t.Errorf("expected a new album for a different title, got %+v", b)
	}
}

func TestPublish(t *testing.T) {
	lib := &fakeLibrary{}
	server := setupMockServer(t, lib)
	pp, err := NewPhotoPrism(context.Background(), server.URL, "admin", "secret")
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	var files []string
	for _, name := range []string{"c000_001__a.jpg", "c000_002__b.jpg"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(name), 0o600); err != nil {
			t.Fatal(err)
		}
		files = append(files, p)
	}

	uid, err := pp.Publish(context.Background(), "Trip", "curated", files)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(lib.uploads) != 1 || len(lib.processed) != 1 {
		t.Fatalf("expected one upload and one process call, got %d/%d", len(lib.uploads), len(lib.processed))
	}
	for token, names := range lib.uploads {
		if len(names) != 2 {
			t.Errorf("expected 2 files uploaded, got %v", names)
		}
		if albums := lib.processed[token]; len(albums) != 1 || albums[0] != uid {
			t.Errorf("expected upload processed into %s, got %v", uid, albums)
		}
	}

	if _, err := pp.UploadFiles(context.Background(), nil); err == nil {
		t.Error("expected error for empty upload")
	}
}

func TestPublisher_LogsOut(t *testing.T) {
	lib := &fakeLibrary{}
	server := setupMockServer(t, lib)

	p := filepath.Join(t.TempDir(), "c000_001__a.jpg")
	if err := os.WriteFile(p, []byte("a"), 0o600); err != nil {
		t.Fatal(err)
	}

	pub := &Publisher{URL: server.URL, Username: "admin", Password: "secret"}
	if _, err := pub.Publish(context.Background(), "Trip", "", []string{p}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !lib.loggedOut {
		t.Error("expected the session to be closed after publishing")
	}

	bad := &Publisher{URL: server.URL, Username: "admin", Password: "wrong"}
	if _, err := bad.Publish(context.Background(), "Trip", "", []string{p}); err == nil {
		t.Error("expected login failure")
	}
}
