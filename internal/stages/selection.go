package stages

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/styles"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// Selection is the persisted mood choice of an album.
type Selection struct {
	AlbumID string   `json:"albumId"`
	Moods   []string `json:"moods"`
}

// CanonicalMoods drops duplicates and orders moods as the catalog does.
// Unknown moods are reported as ErrInvalidMoods, and so is a result with
// zero or more than two moods.
func CanonicalMoods(c *config.CurationConfig, moods []string) ([]string, error) {
	var unknown []string
	for _, m := range moods {
		if _, ok := c.FindMood(m); !ok {
			unknown = append(unknown, m)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown moods %q, allowed %q", styles.ErrInvalidMoods, unknown, c.MoodNames())
	}

	var canon []string
	for _, name := range c.MoodNames() {
		if slices.Contains(moods, name) {
			canon = append(canon, name)
		}
	}
	if err := styles.ValidateMoods(c, canon); err != nil {
		return nil, err
	}
	return canon, nil
}

// ReadSelection loads selected_moods.json. A missing file is an empty
// selection.
func ReadSelection(l workspace.Layout) (Selection, error) {
	var sel Selection
	err := workspace.ReadJSON(l.SelectedMoods(), &sel)
	if errors.Is(err, fs.ErrNotExist) {
		return Selection{}, nil
	}
	if err != nil {
		return Selection{}, err
	}
	return sel, nil
}

// WriteSelection persists the mood choice atomically.
func WriteSelection(l workspace.Layout, sel Selection) error {
	return workspace.WriteJSON(l.SelectedMoods(), sel)
}
