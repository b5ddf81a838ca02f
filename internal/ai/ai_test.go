package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/styles"
)

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestResizeImage(t *testing.T) {
	tests := []struct {
		name          string
		data          []byte
		maxSize       int
		width, height int
	}{
		{"no resize needed", encodeJPEG(createTestImage(100, 100, color.White)), 200, 100, 100},
		{"landscape", encodeJPEG(createTestImage(2000, 1000, color.White)), 500, 500, 250},
		{"portrait", encodeJPEG(createTestImage(600, 1200, color.White)), 300, 150, 300},
		{"square", encodeJPEG(createTestImage(800, 800, color.White)), 400, 400, 400},
		{"png input", encodePNG(createTestImage(1000, 500, color.Black)), 100, 100, 50},
		{"exactly max size", encodeJPEG(createTestImage(512, 300, color.White)), 512, 512, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resized, err := ResizeImage(tt.data, tt.maxSize)
			if err != nil {
				t.Fatalf("ResizeImage failed: %v", err)
			}
			img, format, err := image.Decode(bytes.NewReader(resized))
			if err != nil {
				t.Fatalf("failed to decode result: %v", err)
			}
			if format != "jpeg" {
				t.Errorf("expected jpeg format, got %s", format)
			}
			if img.Bounds().Dx() != tt.width || img.Bounds().Dy() != tt.height {
				t.Errorf("expected %dx%d, got %dx%d", tt.width, tt.height, img.Bounds().Dx(), img.Bounds().Dy())
			}
		})
	}
}

func TestResizeImage_InvalidData(t *testing.T) {
	if _, err := ResizeImage([]byte("not an image"), 100); err == nil {
		t.Error("expected error for invalid data")
	}
	if _, err := ResizeImage(nil, 100); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		wantErr  bool
	}{
		{"plain", `{"name": "Golden coast evenings"}`, "Golden coast evenings", false},
		{"wrapped in prose", "Sure! {\"name\": \"Misty peaks\"} Hope it helps.", "Misty peaks", false},
		{"quotes and punctuation", `{"name": "  \"Old town   walks.\" "}`, "Old town walks", false},
		{"too long", `{"name": "` + strings.Repeat("a", 80) + `"}`, strings.Repeat("a", 60), false},
		{"empty", `{"name": "  "}`, "", true},
		{"not json", "no idea", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseName(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestBuildNameContent(t *testing.T) {
	got := buildNameContent(styles.NameHint{
		Mood:        "Artistic Eye",
		Descriptors: []string{"misty", "coastal"},
		Fallback:    "Artistic misty coastal artistic shots",
	})
	for _, want := range []string{"Mood: Artistic Eye", "Descriptors: misty, coastal", "Current name: Artistic misty coastal artistic shots"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
}

func TestHintImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rep.jpg")
	if err := os.WriteFile(path, encodeJPEG(createTestImage(1024, 768, color.White)), 0o600); err != nil {
		t.Fatal(err)
	}

	thumb := hintImage(styles.NameHint{Image: path})
	img, _, err := image.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("expected decodable thumbnail: %v", err)
	}
	if img.Bounds().Dx() != thumbnailSize {
		t.Errorf("expected width %d, got %d", thumbnailSize, img.Bounds().Dx())
	}

	if hintImage(styles.NameHint{Image: filepath.Join(t.TempDir(), "missing.jpg")}) != nil {
		t.Error("expected nil for a missing file")
	}
	if hintImage(styles.NameHint{}) != nil {
		t.Error("expected nil without an image")
	}
}

func TestOllamaNamer(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		calls++
		content := "not json"
		if calls > 1 {
			// The retry carries the failed answer and the correction.
			if len(req.Messages) != 4 {
				t.Errorf("expected 4 messages on retry, got %d", len(req.Messages))
			}
			content = `{"name": "Harbour lights"}`
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":             req.Model,
			"message":           map[string]string{"role": "assistant", "content": content},
			"done":              true,
			"prompt_eval_count": 40,
			"eval_count":        8,
		})
	}))
	defer server.Close()

	namer := NewOllamaNamer(server.URL+"/", "test-model")
	name, err := namer.NameCluster(context.Background(), styles.NameHint{Mood: "Lively & Spontaneous", Fallback: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Harbour lights" {
		t.Errorf("expected Harbour lights, got %q", name)
	}
	if u := namer.GetUsage(); u.InputTokens != 80 || u.OutputTokens != 16 {
		t.Errorf("unexpected usage %+v", u)
	}
}

func TestOllamaNamer_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	namer := NewOllamaNamer(server.URL, "")
	if namer.Name() != defaultOllamaModel {
		t.Errorf("expected default model, got %q", namer.Name())
	}
	if _, err := namer.NameCluster(context.Background(), styles.NameHint{}); err == nil {
		t.Error("expected error")
	}
}

func TestOpenAINamer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4.1-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": `{"name": "Quiet harbours"}`},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	}))
	defer server.Close()

	namer := NewOpenAINamer("test-key", "", option.WithBaseURL(server.URL+"/v1/"), option.WithMaxRetries(0))
	name, err := namer.NameCluster(context.Background(), styles.NameHint{Mood: "Classic & Timeless", Fallback: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Quiet harbours" {
		t.Errorf("expected Quiet harbours, got %q", name)
	}
	if u := namer.GetUsage(); u.InputTokens != 12 || u.OutputTokens != 4 {
		t.Errorf("unexpected usage %+v", u)
	}
}

func TestNewNamer(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantNil bool
		wantErr bool
	}{
		{"disabled", config.LLMConfig{}, true, false},
		{"openai", config.LLMConfig{Namer: "openai", OpenAIToken: "k"}, false, false},
		{"openai without token", config.LLMConfig{Namer: "openai"}, true, true},
		{"gemini without key", config.LLMConfig{Namer: "gemini"}, true, true},
		{"ollama", config.LLMConfig{Namer: "ollama"}, false, false},
		{"unknown", config.LLMConfig{Namer: "claude"}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewNamer(context.Background(), &tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if (n == nil) != tt.wantNil {
				t.Errorf("unexpected namer %v", n)
			}
		})
	}
}
