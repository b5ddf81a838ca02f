package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/album-curator/internal/quality"
	"github.com/kozaktomas/album-curator/internal/tournament"
)

func TestVerdict(t *testing.T) {
	tests := []struct {
		name string
		rec  quality.Record
		want string
	}{
		{"clean", quality.Record{}, "ok"},
		{"rejected", quality.Record{Rejected: true, RejectReason: "sharp_lt_6_5", Blurry: true}, "rejected (sharp_lt_6_5)"},
		{"flags", quality.Record{Blurry: true, Overexposed: true}, "blurry, bright"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verdict(tt.rec); got != tt.want {
				t.Errorf("verdict() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("expected unchanged string, got %q", got)
	}
	if got := truncate("Příliš žluťoučký", 6); got != "Příli…" {
		t.Errorf("expected rune-safe truncation, got %q", got)
	}
}

func TestLocalUploads(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.JPG", "notes.txt", ".hidden.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := localUploads(dir)
	if err != nil {
		t.Fatalf("localUploads failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 uploads, got %+v", files)
	}
	if files[0].Key != "a.JPG" || files[1].Key != "b.jpg" {
		t.Errorf("unexpected keys: %+v", files)
	}
}

func TestDiffStates(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	seeds := []tournament.Seed{
		{ID: 0, Name: "beach", Size: 4, Representatives: []string{"step_a/reduced_pool/a.jpg"}},
		{ID: 1, Name: "city", Size: 2, Representatives: []string{"step_a/reduced_pool/b.jpg"}},
	}
	stored, err := tournament.Initialize(seeds, 6, tournament.DefaultOptions(), t0)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := stored.RecordMatch(0, 1, 1, t0.Add(time.Minute)); err != nil {
		t.Fatalf("RecordMatch failed: %v", err)
	}

	replayed, err := tournament.Replay(stored)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if diffs := diffStates(stored, replayed); len(diffs) != 0 {
		t.Errorf("expected no differences, got %v", diffs)
	}

	stored.Clusters[0].Elo += 10
	stored.Clusters[1].Wins = 0
	if diffs := diffStates(stored, replayed); len(diffs) != 2 {
		t.Errorf("expected 2 differences, got %v", diffs)
	}
}
