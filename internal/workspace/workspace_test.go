package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testRow struct {
	Path  string `json:"path" validate:"required"`
	Group int    `json:"group_id" validate:"gte=0"`
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		key      string
		expected string
	}{
		{"plain", "IMG_0001.JPG", "uploads/a.jpg", "IMG_0001.jpg"},
		{"spaces and symbols", "my photo (1).jpeg", "k", "my_photo__1.jpeg"},
		{"diacritics", "Příliš žluťoučký.png", "k", "Prilis_zlutoucky.png"},
		{"empty name uses key", "", "uploads/album/beach.webp", "beach.webp"},
		{"no extension uses key ext", "sunset", "uploads/x.PNG", "sunset.png"},
		{"no extension anywhere", "sunset", "uploads/x", "sunset.jpg"},
		{"only symbols", "###.jpg", "k", "file.jpg"},
		{"nothing at all", "", "", "file.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeFilename(tt.file, tt.key); got != tt.expected {
				t.Errorf("SafeFilename(%q, %q) = %q; want %q", tt.file, tt.key, got, tt.expected)
			}
		})
	}
}

func TestSafeFilename_Length(t *testing.T) {
	got := SafeFilename(strings.Repeat("a", 500)+".jpg", "k")
	if len(got) != 180 {
		t.Errorf("expected 180 chars, got %d", len(got))
	}
}

func TestJSONL_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rows.jsonl")
	rows := []testRow{{Path: "a.jpg", Group: 0}, {Path: "b.jpg", Group: 1}}

	if err := WriteJSONL(path, rows); err != nil {
		t.Fatalf("WriteJSONL failed: %v", err)
	}
	got, err := ReadJSONL[testRow](path)
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	if len(got) != 2 || got[1].Path != "b.jpg" || got[1].Group != 1 {
		t.Errorf("unexpected rows: %+v", got)
	}
	if n := CountLines(path); n != 2 {
		t.Errorf("expected 2 lines, got %d", n)
	}
}

func TestReadJSONL_Strict(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", `{"path":"a.jpg","group_id":0,"extra":1}`},
		{"missing required", `{"group_id":0}`},
		{"invalid value", `{"path":"a.jpg","group_id":-1}`},
		{"not json", `path=a.jpg`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rows.jsonl")
			if err := os.WriteFile(path, []byte(tt.content+"\n"), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := ReadJSONL[testRow](path)
			if !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("expected ErrMalformedRecord, got %v", err)
			}
		})
	}
}

func TestReadJSONL_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	content := "{\"path\":\"a.jpg\",\"group_id\":0}\n\n   \n{\"path\":\"b.jpg\",\"group_id\":0}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	rows, err := ReadJSONL[testRow](path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(rows))
	}
}

func TestWriteJSON_Replace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	if err := WriteJSON(path, testRow{Path: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSON(path, testRow{Path: "second", Group: 3}); err != nil {
		t.Fatal(err)
	}

	var got testRow
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Path != "second" || got.Group != 3 {
		t.Errorf("unexpected document: %+v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestStageValid(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	out := filepath.Join(l.Root, "step_a", "dedupe.jsonl")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(out, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if l.StageValid("dedupe", "in", "params", out) {
		t.Error("stage without manifest must not be valid")
	}
	if err := l.MarkStage("dedupe", "in", "params", out); err != nil {
		t.Fatal(err)
	}
	if !l.StageValid("dedupe", "in", "params", out) {
		t.Error("expected stage to be valid after marking")
	}
	if l.StageValid("dedupe", "other-inputs", "params", out) {
		t.Error("changed inputs must invalidate the stage")
	}
	if l.StageValid("dedupe", "in", "other-params", out) {
		t.Error("changed params must invalidate the stage")
	}

	if err := os.Remove(out); err != nil {
		t.Fatal(err)
	}
	if l.StageValid("dedupe", "in", "params", out) {
		t.Error("missing output must invalidate the stage")
	}

	if err := l.InvalidateStage("dedupe"); err != nil {
		t.Fatal(err)
	}
	if err := l.InvalidateStage("dedupe"); err != nil {
		t.Errorf("invalidating twice should not fail: %v", err)
	}
}

func TestFileIdentity(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte(p), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	h1, err := FileIdentity([]string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := FileIdentity([]string{b, a})
	if h1 != h2 {
		t.Error("identity should not depend on order")
	}

	if err := os.WriteFile(b, []byte("changed content"), 0o600); err != nil {
		t.Fatal(err)
	}
	h3, _ := FileIdentity([]string{a, b})
	if h3 == h1 {
		t.Error("identity should change when a file changes size")
	}

	if _, err := FileIdentity([]string{filepath.Join(dir, "missing.jpg")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestResolve(t *testing.T) {
	l := Layout{Root: t.TempDir()}

	tests := []struct {
		rel string
		ok  bool
	}{
		{"step_a/reduced_pool/g000001__a.jpg", true},
		{"inputs/../inputs/a.jpg", true},
		{"../other-album/status.json", false},
		{"step_a/../../x", false},
		{"..", false},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			_, ok := l.Resolve(tt.rel)
			if ok != tt.ok {
				t.Errorf("Resolve(%q) ok = %v; want %v", tt.rel, ok, tt.ok)
			}
		})
	}
}

func TestRelPaths(t *testing.T) {
	l := New("/data/albums", "album-1")
	paths := l.RelPaths()

	if paths["step_c_state"] != "step_c/state.json" {
		t.Errorf("unexpected step_c_state path: %q", paths["step_c_state"])
	}
	if paths["step_a_reduced_pool"] != "step_a/reduced_pool" {
		t.Errorf("unexpected reduced pool path: %q", paths["step_a_reduced_pool"])
	}
	for k, v := range paths {
		if filepath.IsAbs(v) || strings.HasPrefix(v, "..") {
			t.Errorf("%s is not workspace relative: %q", k, v)
		}
	}
}
