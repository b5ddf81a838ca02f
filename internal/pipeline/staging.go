package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kozaktomas/album-curator/internal/objectstore"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// UploadedFile is one object uploaded for an album.
type UploadedFile struct {
	Key  string `json:"key" validate:"required"`
	Name string `json:"name"`
}

// InputRow is one entry of inputs_manifest.json.
type InputRow struct {
	Order        int    `json:"order" validate:"gte=1"`
	OriginalName string `json:"original_name"`
	S3Key        string `json:"s3_key" validate:"required"`
	LocalPathRel string `json:"local_path_rel" validate:"required"`
}

// orderFiles sorts uploads by key, then name, so staged names are stable.
func orderFiles(files []UploadedFile) []UploadedFile {
	ordered := append([]UploadedFile(nil), files...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Key != ordered[j].Key {
			return ordered[i].Key < ordered[j].Key
		}
		return ordered[i].Name < ordered[j].Name
	})
	return ordered
}

// StagedName is the file name an upload gets inside inputs/.
func StagedName(order int, f UploadedFile) string {
	return fmt.Sprintf("%06d__%s", order, workspace.SafeFilename(f.Name, f.Key))
}

func readInputsManifest(l workspace.Layout) ([]InputRow, error) {
	var rows []InputRow
	if err := workspace.ReadJSON(l.InputsManifest(), &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		if err := workspace.Validate(&rows[i]); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filepath.Base(l.InputsManifest()), i+1, err)
		}
	}
	return rows, nil
}

// stagedInputsReady reports whether the manifest lists every expected key
// and every listed file is on disk.
func stagedInputsReady(l workspace.Layout, files []UploadedFile) ([]InputRow, bool) {
	rows, err := readInputsManifest(l)
	if err != nil || len(rows) == 0 {
		return nil, false
	}
	listed := make(map[string]bool, len(rows))
	for _, r := range rows {
		p, ok := l.Resolve(r.LocalPathRel)
		if !ok || !workspace.Exists(p) {
			return nil, false
		}
		listed[r.S3Key] = true
	}
	for _, f := range files {
		if !listed[f.Key] {
			return nil, false
		}
	}
	return rows, true
}

// StageInputs copies every upload from the store into inputs/ and writes
// the inputs manifest. It does nothing when the inputs are already staged,
// unless force is set.
func StageInputs(ctx context.Context, store objectstore.Store, l workspace.Layout, files []UploadedFile, policy objectstore.RetryPolicy, force bool) ([]InputRow, error) {
	if !force {
		if rows, ok := stagedInputsReady(l, files); ok {
			return rows, nil
		}
	}

	if err := os.RemoveAll(l.Inputs()); err != nil {
		return nil, fmt.Errorf("reset inputs: %w", err)
	}
	if err := os.MkdirAll(l.Inputs(), 0o755); err != nil {
		return nil, fmt.Errorf("create inputs: %w", err)
	}

	ordered := orderFiles(files)
	rows := make([]InputRow, 0, len(ordered))
	for i, f := range ordered {
		order := i + 1
		dest := filepath.Join(l.Inputs(), StagedName(order, f))
		if err := objectstore.DownloadWithRetry(ctx, store, f.Key, dest, policy); err != nil {
			return nil, fmt.Errorf("failed staging key %q to %q: %w", f.Key, filepath.Base(dest), err)
		}
		rows = append(rows, InputRow{
			Order:        order,
			OriginalName: f.Name,
			S3Key:        f.Key,
			LocalPathRel: l.Rel(dest),
		})
	}

	if err := workspace.WriteJSON(l.InputsManifest(), rows); err != nil {
		return nil, err
	}
	return rows, nil
}
