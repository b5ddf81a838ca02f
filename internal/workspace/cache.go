package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// StageManifest records what a completed stage was computed from.
type StageManifest struct {
	Stage       string    `json:"stage" validate:"required"`
	InputsHash  string    `json:"inputs_hash" validate:"required"`
	ParamsHash  string    `json:"params_hash" validate:"required"`
	Outputs     []string  `json:"outputs"`
	CompletedAt time.Time `json:"completed_at"`
}

// FileIdentity hashes the names, sizes and modification times of files.
// Order of paths does not matter.
func FileIdentity(paths []string) (string, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, p := range sorted {
		info, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("stat input: %w", err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", filepath.Base(p), info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashParams hashes the JSON encoding of v.
func HashParams(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = fmt.Appendf(nil, "%v", v)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (l Layout) stageManifestPath(stage string) string {
	return filepath.Join(l.StageManifests(), stage+".json")
}

// StageValid reports whether stage output can be reused: every output exists
// and the recorded manifest matches the expected inputs and parameters.
func (l Layout) StageValid(stage, inputsHash, paramsHash string, outputs ...string) bool {
	if !Exists(outputs...) {
		return false
	}
	var m StageManifest
	if err := ReadJSON(l.stageManifestPath(stage), &m); err != nil {
		return false
	}
	return m.Stage == stage && m.InputsHash == inputsHash && m.ParamsHash == paramsHash
}

// MarkStage records a completed stage.
func (l Layout) MarkStage(stage, inputsHash, paramsHash string, outputs ...string) error {
	rel := make([]string, len(outputs))
	for i, o := range outputs {
		rel[i] = l.Rel(o)
	}
	return WriteJSON(l.stageManifestPath(stage), StageManifest{
		Stage:       stage,
		InputsHash:  inputsHash,
		ParamsHash:  paramsHash,
		Outputs:     rel,
		CompletedAt: time.Now().UTC(),
	})
}

// InvalidateStage removes a stage manifest so the next run recomputes it.
func (l Layout) InvalidateStage(stage string) error {
	err := os.Remove(l.stageManifestPath(stage))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("invalidate stage %s: %w", stage, err)
	}
	return nil
}
