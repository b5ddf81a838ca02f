// Package workspace owns the on-disk layout of a per-album workspace and
// the file formats shared by the pipeline stages.
package workspace

import (
	"os"
	"path/filepath"
)

// Layout resolves artifact paths inside one album workspace.
type Layout struct {
	Root string
}

// New returns the layout for an album under dataDir.
func New(dataDir, albumID string) Layout {
	return Layout{Root: filepath.Join(dataDir, albumID)}
}

func (l Layout) path(parts ...string) string {
	return filepath.Join(append([]string{l.Root}, parts...)...)
}

func (l Layout) Inputs() string         { return l.path("inputs") }
func (l Layout) InputsManifest() string { return l.path("inputs_manifest.json") }
func (l Layout) Status() string         { return l.path("status.json") }
func (l Layout) SelectedMoods() string  { return l.path("selected_moods.json") }
func (l Layout) Quality() string        { return l.path("quality.jsonl") }
func (l Layout) LockFile() string       { return l.path(".lock") }
func (l Layout) Logs() string           { return l.path("logs") }
func (l Layout) StageManifests() string { return l.path("stages") }

// StageLog returns the captured output file for a stage.
func (l Layout) StageLog(stage string) string { return l.path("logs", stage+".log") }

func (l Layout) StepA() string               { return l.path("step_a") }
func (l Layout) Dedup() string               { return l.path("step_a", "dedupe.jsonl") }
func (l Layout) ReducedPool() string         { return l.path("step_a", "reduced_pool") }
func (l Layout) SecondaryAlternates() string { return l.path("step_a", "alternates", "secondary") }
func (l Layout) TertiaryAlternates() string  { return l.path("step_a", "alternates", "tertiary") }
func (l Layout) StepAManifest() string       { return l.path("step_a", "step_a_manifest.jsonl") }

func (l Layout) StepB() string          { return l.path("step_b") }
func (l Layout) KMeans() string         { return l.path("step_b", "step_b_kmeans.jsonl") }
func (l Layout) KMeansClusters() string { return l.path("step_b", "step_b_kmeans_clusters.jsonl") }
func (l Layout) Images() string         { return l.path("step_b", "step_b_images.jsonl") }
func (l Layout) Clusters() string       { return l.path("step_b", "step_b_clusters.jsonl") }
func (l Layout) VectorCache() string    { return l.path("step_b", "cache") }

func (l Layout) StepC() string           { return l.path("step_c") }
func (l Layout) TournamentState() string { return l.path("step_c", "state.json") }

func (l Layout) Export() string         { return l.path("export") }
func (l Layout) ExportManifest() string { return l.path("export", "manifest.jsonl") }

// Rel returns p relative to the workspace root using forward slashes.
func (l Layout) Rel(p string) string {
	rel, err := filepath.Rel(l.Root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// RelPaths is the artifact map stored in every job status document.
func (l Layout) RelPaths() map[string]string {
	return map[string]string{
		"inputs_dir":            l.Rel(l.Inputs()),
		"inputs_manifest":       l.Rel(l.InputsManifest()),
		"quality_jsonl":         l.Rel(l.Quality()),
		"logs_dir":              l.Rel(l.Logs()),
		"step_a_dir":            l.Rel(l.StepA()),
		"step_a_log":            l.Rel(l.StageLog("dedupe")),
		"step_a_dedupe":         l.Rel(l.Dedup()),
		"step_a_manifest":       l.Rel(l.StepAManifest()),
		"step_a_reduced_pool":   l.Rel(l.ReducedPool()),
		"step_b_dir":            l.Rel(l.StepB()),
		"step_b_phase1_log":     l.Rel(l.StageLog("cluster")),
		"step_b_phase2_log":     l.Rel(l.StageLog("style")),
		"step_b_kmeans_jsonl":   l.Rel(l.KMeans()),
		"step_b_images_jsonl":   l.Rel(l.Images()),
		"step_b_clusters_jsonl": l.Rel(l.Clusters()),
		"step_b_cache_dir":      l.Rel(l.VectorCache()),
		"step_c_dir":            l.Rel(l.StepC()),
		"step_c_state":          l.Rel(l.TournamentState()),
		"selected_moods":        l.Rel(l.SelectedMoods()),
		"export_dir":            l.Rel(l.Export()),
	}
}

// Resolve maps a workspace-relative path to an absolute one and reports
// false when the result would escape the workspace.
func (l Layout) Resolve(rel string) (string, bool) {
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return "", false
	}
	p := filepath.Join(root, filepath.FromSlash(rel))
	if p != root && !isWithin(root, p) {
		return "", false
	}
	return p, true
}

func isWithin(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

// Exists reports whether every path exists.
func Exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
