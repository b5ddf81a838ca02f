package quality

import (
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// WriteRecords persists quality records as JSONL.
func WriteRecords(path string, records []Record) error {
	return workspace.WriteJSONL(path, records)
}

// ReadRecords loads quality records keyed by path.
func ReadRecords(path string) (map[string]Record, error) {
	rows, err := workspace.ReadJSONL[Record](path)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]Record, len(rows))
	for _, r := range rows {
		byPath[r.Path] = r
	}
	return byPath, nil
}
