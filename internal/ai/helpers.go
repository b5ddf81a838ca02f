package ai

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kozaktomas/album-curator/internal/styles"
)

//go:embed prompts/cluster_name.txt
var clusterNamePrompt string

const (
	maxNameRunes  = 60
	thumbnailSize = 512
	maxRetries    = 3
)

var errEmptyName = errors.New("model returned an empty name")

// buildNameContent is the user message shared by every backend.
func buildNameContent(hint styles.NameHint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mood: %s\n", hint.Mood)
	if len(hint.Descriptors) > 0 {
		fmt.Fprintf(&b, "Descriptors: %s\n", strings.Join(hint.Descriptors, ", "))
	}
	fmt.Fprintf(&b, "Current name: %s\n", hint.Fallback)
	return b.String()
}

// hintImage returns a JPEG thumbnail of the hint image, or nil when there
// is none or it cannot be read.
func hintImage(hint styles.NameHint) []byte {
	if hint.Image == "" {
		return nil
	}
	data, err := os.ReadFile(hint.Image)
	if err != nil {
		return nil
	}
	thumb, err := ResizeImage(data, thumbnailSize)
	if err != nil {
		return nil
	}
	return thumb
}

// parseName extracts and cleans the name from a model response.
func parseName(content string) (string, error) {
	var res NameResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &res); err != nil {
		return "", err
	}
	name := cleanName(res.Name)
	if name == "" {
		return "", errEmptyName
	}
	return name, nil
}

func cleanName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, "\"'`.!,;: ")
	if utf8.RuneCountInString(s) > maxNameRunes {
		s = strings.TrimSpace(string([]rune(s)[:maxNameRunes]))
	}
	return s
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return content[start:]
}

func retryMessage(err error) string {
	return fmt.Sprintf("Could not use that answer: %v. Reply with a JSON object like {\"name\": \"...\"}.", err)
}
