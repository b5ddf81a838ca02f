package dedup

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kozaktomas/album-curator/internal/quality"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// ExportRef points from a source photo to its exported copy.
type ExportRef struct {
	SrcPath    string `json:"src_path" validate:"required"`
	ExportPath string `json:"export_path" validate:"required"`
}

// QualitySummary is the subset of a quality record kept in the manifest.
type QualitySummary struct {
	Blurry       bool    `json:"blurry"`
	Underexposed bool    `json:"underexposed"`
	Overexposed  bool    `json:"overexposed"`
	Rejected     bool    `json:"rejected"`
	Sharpness    float64 `json:"sharp_vlap"`
	Mean         float64 `json:"exp_mean"`
}

// RankedMember is one group member in preference order.
type RankedMember struct {
	SrcPath string          `json:"src_path" validate:"required"`
	Quality *QualitySummary `json:"quality,omitempty"`
}

// ManifestRow is one line of step_a_manifest.jsonl, one per duplicate group.
type ManifestRow struct {
	GroupID       int            `json:"group_id" validate:"gte=0"`
	GroupSize     int            `json:"group_size" validate:"gte=1"`
	Primary       *ExportRef     `json:"primary" validate:"required"`
	Secondary     *ExportRef     `json:"secondary"`
	Tertiary      *ExportRef     `json:"tertiary"`
	MembersRanked []RankedMember `json:"members_ranked" validate:"min=1,dive"`
	QualityUsed   bool           `json:"quality_used"`
}

// ExportDirs are the destinations of the reduced pool export.
type ExportDirs struct {
	Base      string // export paths in the manifest are relative to Base
	Reduced   string
	Secondary string
	Tertiary  string
}

// ExportDirsFor returns the reduced pool directories of a workspace.
func ExportDirsFor(l workspace.Layout) ExportDirs {
	return ExportDirs{
		Base:      l.StepA(),
		Reduced:   l.ReducedPool(),
		Secondary: l.SecondaryAlternates(),
		Tertiary:  l.TertiaryAlternates(),
	}
}

// RankMembers orders group members best first: unrejected, not blurry, not
// underexposed, not overexposed, sharper, mean closer to mid-grey, path.
// Without any quality data the representative comes first.
func RankMembers(members []int, rep int, assets []Asset, q map[string]quality.Record) []int {
	ranked := append([]int(nil), members...)

	qualityUsed := false
	for _, m := range members {
		if _, ok := q[assets[m].Path]; ok {
			qualityUsed = true
			break
		}
	}

	if !qualityUsed {
		sort.SliceStable(ranked, func(i, j int) bool {
			a, b := ranked[i], ranked[j]
			if (a == rep) != (b == rep) {
				return a == rep
			}
			return assets[a].Path < assets[b].Path
		})
		return ranked
	}

	type key struct {
		flags [4]int
		sharp float64
		mean  float64
		path  string
	}
	keyOf := func(i int) key {
		rec, ok := q[assets[i].Path]
		if !ok {
			return key{flags: [4]int{2, 2, 2, 2}, sharp: math.Inf(1), mean: math.Inf(1), path: assets[i].Path}
		}
		return key{
			flags: [4]int{boolRank(rec.Rejected), boolRank(rec.Blurry), boolRank(rec.Underexposed), boolRank(rec.Overexposed)},
			sharp: -rec.Sharpness,
			mean:  math.Abs(math.Min(math.Max(rec.Mean/255, 0), 1) - 0.5),
			path:  assets[i].Path,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := keyOf(ranked[i]), keyOf(ranked[j])
		for k := range a.flags {
			if a.flags[k] != b.flags[k] {
				return a.flags[k] < b.flags[k]
			}
		}
		if a.sharp != b.sharp {
			return a.sharp < b.sharp
		}
		if a.mean != b.mean {
			return a.mean < b.mean
		}
		return a.path < b.path
	})
	return ranked
}

func boolRank(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ExportReducedPool copies the best member of every group into the reduced
// pool, the runner-up into secondary alternates (groups of 2+) and the third
// into tertiary alternates (groups larger than 5). Existing export
// directories are replaced.
func ExportReducedPool(res *Result, assets []Asset, q map[string]quality.Record, dirs ExportDirs) ([]ManifestRow, error) {
	for _, d := range []string{dirs.Reduced, dirs.Secondary, dirs.Tertiary} {
		if err := os.RemoveAll(d); err != nil {
			return nil, fmt.Errorf("reset %s: %w", d, err)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}

	used := make(map[string]bool)
	rows := make([]ManifestRow, 0, len(res.Groups))
	for gid, members := range res.Groups {
		ranked := RankMembers(members, res.Representatives[gid], assets, q)

		row := ManifestRow{GroupID: gid, GroupSize: len(members)}
		var err error
		if row.Primary, err = exportOne(assets[ranked[0]], gid, dirs.Reduced, dirs.Base, used); err != nil {
			return nil, err
		}
		if len(ranked) >= 2 {
			if row.Secondary, err = exportOne(assets[ranked[1]], gid, dirs.Secondary, dirs.Base, used); err != nil {
				return nil, err
			}
		}
		if len(ranked) > 5 {
			if row.Tertiary, err = exportOne(assets[ranked[2]], gid, dirs.Tertiary, dirs.Base, used); err != nil {
				return nil, err
			}
		}

		for _, m := range ranked {
			member := RankedMember{SrcPath: assets[m].Path}
			if rec, ok := q[assets[m].Path]; ok {
				row.QualityUsed = true
				member.Quality = &QualitySummary{
					Blurry:       rec.Blurry,
					Underexposed: rec.Underexposed,
					Overexposed:  rec.Overexposed,
					Rejected:     rec.Rejected,
					Sharpness:    rec.Sharpness,
					Mean:         rec.Mean,
				}
			}
			row.MembersRanked = append(row.MembersRanked, member)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// exportName returns "g000012__name.jpg", adding a counter on collision.
func exportName(dir string, gid int, src string, used map[string]bool) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidate := fmt.Sprintf("g%06d__%s", gid, base)
	for i := 1; used[filepath.Join(dir, candidate)]; i++ {
		candidate = fmt.Sprintf("g%06d__%s__%d%s", gid, stem, i, ext)
	}
	used[filepath.Join(dir, candidate)] = true
	return candidate
}

func exportOne(a Asset, gid int, dir, base string, used map[string]bool) (*ExportRef, error) {
	dst := filepath.Join(dir, exportName(dir, gid, a.Path, used))
	if err := workspace.CopyFile(a.File, dst); err != nil {
		return nil, fmt.Errorf("export %s: %w", a.Path, err)
	}
	rel, err := filepath.Rel(base, dst)
	if err != nil {
		rel = dst
	}
	return &ExportRef{SrcPath: a.Path, ExportPath: filepath.ToSlash(rel)}, nil
}
