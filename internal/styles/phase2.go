package styles

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/constants"
	"github.com/kozaktomas/album-curator/internal/dedup"
	"github.com/kozaktomas/album-curator/internal/embedding"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

var (
	ErrInvalidMoods  = errors.New("select one or two distinct moods from the catalog")
	ErrMissingVector = errors.New("image has no style vector")
)

// defaultNoun closes a cluster name when the mood has no noun.
const defaultNoun = "photos"

type TagScore struct {
	Tag   string  `json:"tag"`
	Score float64 `json:"score"`
}

type DescriptorScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ImageRow is one line of step_b_images.jsonl.
type ImageRow struct {
	Path          string                `json:"path" validate:"required"`
	ClusterID     int                   `json:"cluster_id" validate:"gte=0"`
	StylesTopK    []TagScore            `json:"styles_topk"`
	PrefScore     float64               `json:"pref_score"`
	KMeansDist    float64               `json:"kmeans_dist"`
	RankInCluster int                   `json:"rank_in_cluster" validate:"gte=1"`
	Quality       *dedup.QualitySummary `json:"quality"`
}

// ClusterRow is one line of step_b_clusters.jsonl.
type ClusterRow struct {
	ClusterID          int               `json:"cluster_id" validate:"gte=0"`
	Size               int               `json:"size" validate:"gte=1"`
	ClusterName        string            `json:"cluster_name" validate:"required"`
	MoodLabel          string            `json:"mood_label"`
	ClusterStyleScores []TagScore        `json:"cluster_style_scores"`
	ClusterDescTopK    []DescriptorScore `json:"cluster_desc_topk"`
	ClusterPrefScore   float64           `json:"cluster_pref_score"`
	Representatives    []string          `json:"representatives" validate:"min=1"`
}

// PhaseTwo is the output of the style stage.
type PhaseTwo struct {
	Images   []ImageRow
	Clusters []ClusterRow
}

// ValidateMoods checks that selected holds one or two distinct catalog moods.
func ValidateMoods(c *config.CurationConfig, selected []string) error {
	if len(selected) < 1 || len(selected) > 2 {
		return ErrInvalidMoods
	}
	if len(selected) == 2 && selected[0] == selected[1] {
		return ErrInvalidMoods
	}
	for _, s := range selected {
		if _, ok := c.FindMood(s); !ok {
			return fmt.Errorf("%w: unknown mood %q", ErrInvalidMoods, s)
		}
	}
	return nil
}

// MoodPrompts expands every catalog mood through every template. The
// result is grouped by mood in catalog order.
func MoodPrompts(c *config.CurationConfig) []string {
	out := make([]string, 0, len(c.Moods)*len(c.MoodTemplates))
	for _, m := range c.Moods {
		for _, t := range c.MoodTemplates {
			out = append(out, strings.ReplaceAll(t, "{tag}", m.Name))
		}
	}
	return out
}

// DescriptorPrompts lists descriptor prompts in catalog order.
func DescriptorPrompts(c *config.CurationConfig) []string {
	out := make([]string, len(c.Descriptors))
	for i, d := range c.Descriptors {
		out[i] = d.Prompt
	}
	return out
}

// MoodVectors averages the template vectors of each mood. vecs must be
// laid out as MoodPrompts returns them.
func MoodVectors(c *config.CurationConfig, vecs [][]float32) ([][]float32, error) {
	per := len(c.MoodTemplates)
	if len(vecs) != len(c.Moods)*per {
		return nil, fmt.Errorf("expected %d mood prompt vectors, got %d", len(c.Moods)*per, len(vecs))
	}
	out := make([][]float32, len(c.Moods))
	for i := range c.Moods {
		group := make([][]float32, per)
		for j := range per {
			group[j] = embedding.Normalize(vecs[i*per+j])
		}
		out[i] = embedding.Mean(group)
	}
	return out, nil
}

// Input collects everything the style stage scores.
type Input struct {
	Catalog     *config.CurationConfig
	Selected    []string
	Assignments []KMeansRow
	// Vectors holds style vectors keyed by reduced pool path.
	Vectors           map[string][]float32
	MoodVectors       [][]float32 // parallel to Catalog.Moods
	DescriptorVectors [][]float32 // parallel to Catalog.Descriptors
	// Quality is keyed by reduced pool path; missing entries rank last.
	Quality map[string]*dedup.QualitySummary
}

type scoredImage struct {
	row   KMeansRow
	moods []float64
	descs []float64
	pref  float64
	sharp float64
}

// Score names, scores and ranks every phase 1 cluster.
func Score(in Input) (*PhaseTwo, error) {
	c := in.Catalog
	if err := ValidateMoods(c, in.Selected); err != nil {
		return nil, err
	}
	if len(in.Assignments) == 0 {
		return nil, ErrNoImages
	}
	if len(in.MoodVectors) != len(c.Moods) || len(in.DescriptorVectors) != len(c.Descriptors) {
		return nil, fmt.Errorf("text vectors do not match the catalog")
	}

	selectedIdx := make([]int, len(in.Selected))
	for i, s := range in.Selected {
		for j, m := range c.Moods {
			if m.Name == s {
				selectedIdx[i] = j
			}
		}
	}

	byCluster := make(map[int][]*scoredImage)
	for _, a := range in.Assignments {
		v, ok := in.Vectors[a.Path]
		if !ok || len(v) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingVector, a.Path)
		}
		img := &scoredImage{row: a, sharp: math.Inf(-1)}
		for _, mv := range in.MoodVectors {
			img.moods = append(img.moods, embedding.Dot(v, mv))
		}
		for _, dv := range in.DescriptorVectors {
			img.descs = append(img.descs, embedding.Dot(v, dv))
		}
		img.pref = math.Inf(-1)
		for _, j := range selectedIdx {
			img.pref = math.Max(img.pref, img.moods[j])
		}
		if q := in.Quality[a.Path]; q != nil && !math.IsNaN(q.Sharpness) && !math.IsInf(q.Sharpness, 0) {
			img.sharp = q.Sharpness
		}
		byCluster[a.ClusterID] = append(byCluster[a.ClusterID], img)
	}

	ids := make([]int, 0, len(byCluster))
	for cid := range byCluster {
		ids = append(ids, cid)
	}
	sort.Ints(ids)

	prefix := moodPrefix(c, in.Selected)
	usedNames := make(map[string]bool)
	out := &PhaseTwo{}
	for _, cid := range ids {
		members := byCluster[cid]

		styleScores := make([]TagScore, len(c.Moods))
		for j, m := range c.Moods {
			styleScores[j] = TagScore{Tag: m.Name, Score: meanOf(members, func(s *scoredImage) float64 { return s.moods[j] })}
		}
		sortTagScores(styleScores)
		moodLabel := styleScores[0].Tag

		descMeans := make([]float64, len(c.Descriptors))
		for j := range c.Descriptors {
			descMeans[j] = meanOf(members, func(s *scoredImage) float64 { return s.descs[j] })
		}
		desc := selectDescriptors(c.Descriptors, descMeans, constants.DescriptorsPerCluster)
		labels := make([]string, len(desc))
		for i, d := range desc {
			labels[i] = d.Label
		}

		noun := defaultNoun
		if m, ok := c.FindMood(moodLabel); ok && m.Noun != "" {
			noun = m.Noun
		}
		name := composeName(prefix, labels[:min(2, len(labels))], noun)
		if usedNames[name] && len(labels) >= 3 {
			name = composeName(prefix, labels[:3], noun)
		}
		if usedNames[name] {
			name = fmt.Sprintf("%s #%d", name, cid)
		}
		usedNames[name] = true

		sort.Slice(members, func(a, b int) bool {
			x, y := members[a], members[b]
			if x.pref != y.pref {
				return x.pref > y.pref
			}
			if x.sharp != y.sharp {
				return x.sharp > y.sharp
			}
			return x.row.Path < y.row.Path
		})

		reps := make([]string, 0, constants.PhaseOneRepresentatives)
		for i, m := range members {
			out.Images = append(out.Images, ImageRow{
				Path:          m.row.Path,
				ClusterID:     cid,
				StylesTopK:    topTags(c, m.moods, constants.StylesTopK),
				PrefScore:     m.pref,
				KMeansDist:    m.row.KMeansDist,
				RankInCluster: i + 1,
				Quality:       in.Quality[m.row.Path],
			})
			if i < constants.PhaseOneRepresentatives {
				reps = append(reps, m.row.Path)
			}
		}

		out.Clusters = append(out.Clusters, ClusterRow{
			ClusterID:          cid,
			Size:               len(members),
			ClusterName:        name,
			MoodLabel:          moodLabel,
			ClusterStyleScores: styleScores,
			ClusterDescTopK:    desc,
			ClusterPrefScore:   topPrefMean(members),
			Representatives:    reps,
		})
	}
	return out, nil
}

func moodPrefix(c *config.CurationConfig, selected []string) string {
	shorts := make([]string, 0, len(selected))
	for _, s := range selected {
		m, _ := c.FindMood(s)
		shorts = append(shorts, m.Short)
	}
	return strings.Join(shorts, "/")
}

func composeName(prefix string, descriptors []string, noun string) string {
	parts := make([]string, 0, len(descriptors)+2)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	for _, d := range descriptors {
		if d != "" {
			parts = append(parts, d)
		}
	}
	parts = append(parts, noun)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// selectDescriptors picks the best descriptors with at most one per group.
// Descriptors without a group are never excluded.
func selectDescriptors(bank []config.Descriptor, means []float64, k int) []DescriptorScore {
	order := make([]int, len(bank))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := order[a], order[b]
		if means[x] != means[y] {
			return means[x] > means[y]
		}
		return bank[x].Label < bank[y].Label
	})

	out := make([]DescriptorScore, 0, k)
	usedGroups := make(map[string]bool)
	for _, i := range order {
		if len(out) >= k {
			break
		}
		g := bank[i].Group
		if g != "" && usedGroups[g] {
			continue
		}
		out = append(out, DescriptorScore{Label: bank[i].Label, Score: means[i]})
		if g != "" {
			usedGroups[g] = true
		}
	}
	return out
}

func topTags(c *config.CurationConfig, scores []float64, k int) []TagScore {
	tags := make([]TagScore, len(c.Moods))
	for i, m := range c.Moods {
		tags[i] = TagScore{Tag: m.Name, Score: scores[i]}
	}
	sortTagScores(tags)
	return tags[:min(k, len(tags))]
}

func sortTagScores(tags []TagScore) {
	sort.SliceStable(tags, func(a, b int) bool {
		if tags[a].Score != tags[b].Score {
			return tags[a].Score > tags[b].Score
		}
		return tags[a].Tag < tags[b].Tag
	})
}

func meanOf(members []*scoredImage, f func(*scoredImage) float64) float64 {
	var s float64
	for _, m := range members {
		s += f(m)
	}
	return s / float64(len(members))
}

func topPrefMean(members []*scoredImage) float64 {
	prefs := make([]float64, len(members))
	for i, m := range members {
		prefs[i] = m.pref
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(prefs)))
	top := prefs[:min(len(prefs), constants.TopPrefForClusterScore)]
	var s float64
	for _, p := range top {
		s += p
	}
	return s / float64(len(top))
}

// QualityByExportPath indexes the primary quality of every manifest group
// by its reduced pool path.
func QualityByExportPath(rows []dedup.ManifestRow) map[string]*dedup.QualitySummary {
	out := make(map[string]*dedup.QualitySummary, len(rows))
	for _, r := range rows {
		if r.Primary == nil || len(r.MembersRanked) == 0 {
			continue
		}
		out[r.Primary.ExportPath] = r.MembersRanked[0].Quality
	}
	return out
}

// WritePhaseTwo writes both phase 2 JSONL files.
func WritePhaseTwo(imagesPath, clustersPath string, p *PhaseTwo) error {
	if err := workspace.WriteJSONL(imagesPath, p.Images); err != nil {
		return err
	}
	return workspace.WriteJSONL(clustersPath, p.Clusters)
}

func ReadImages(path string) ([]ImageRow, error) {
	return workspace.ReadJSONL[ImageRow](path)
}

func ReadClusters(path string) ([]ClusterRow, error) {
	return workspace.ReadJSONL[ClusterRow](path)
}
