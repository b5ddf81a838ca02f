package dedup

import (
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// WriteRecords persists dedupe.jsonl.
func WriteRecords(path string, records []Record) error {
	return workspace.WriteJSONL(path, records)
}

// ReadRecords loads and validates dedupe.jsonl.
func ReadRecords(path string) ([]Record, error) {
	return workspace.ReadJSONL[Record](path)
}

// WriteManifest persists the per-group export manifest.
func WriteManifest(path string, rows []ManifestRow) error {
	return workspace.WriteJSONL(path, rows)
}

// ReadManifest loads and validates the per-group export manifest.
func ReadManifest(path string) ([]ManifestRow, error) {
	return workspace.ReadJSONL[ManifestRow](path)
}
