package workspace

import (
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/kozaktomas/album-curator/internal/constants"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// removeDiacritics strips combining marks so "Café" becomes "Cafe".
func removeDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

func sanitizeStem(s string) string {
	s = strings.Trim(unsafeChars.ReplaceAllString(removeDiacritics(s), "_"), "_")
	if s == "" {
		return "file"
	}
	return s
}

func sanitizeExt(ext string) string {
	cleaned := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(ext), ""), ".")
	if cleaned == "" {
		return ""
	}
	return "." + cleaned
}

// SafeFilename derives a filesystem-safe name from an uploaded file name,
// falling back to the object key when the name is empty.
func SafeFilename(name, key string) string {
	candidate := strings.TrimSpace(name)
	if candidate == "" {
		candidate = path.Base(key)
		if candidate == "." || candidate == "/" {
			candidate = ""
		}
	}
	if candidate == "" {
		candidate = "file"
	}

	var stem, ext string
	if i := strings.LastIndex(candidate, "."); i >= 0 {
		stem, ext = candidate[:i], sanitizeExt(candidate[i+1:])
	} else {
		stem, ext = candidate, sanitizeExt(path.Ext(key))
	}
	if ext == "" {
		ext = ".jpg"
	}

	safe := sanitizeStem(stem) + ext
	if len(safe) > constants.MaxSafeFilenameLength {
		safe = safe[:constants.MaxSafeFilenameLength]
	}
	return safe
}
