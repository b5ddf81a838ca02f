package photoprism

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// FindAlbum returns the manual album with exactly this title, or nil.
func (pp *PhotoPrism) FindAlbum(ctx context.Context, title string) (*Album, error) {
	endpoint := fmt.Sprintf("albums?count=50&offset=0&type=album&q=%s", url.QueryEscape(title))
	albums, err := doRequestJSON[[]Album](ctx, pp, http.MethodGet, endpoint, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	for _, a := range *albums {
		if a.Title == title {
			return &a, nil
		}
	}
	return nil, nil
}

// CreateAlbum creates a new album with the given title
func (pp *PhotoPrism) CreateAlbum(ctx context.Context, title, description string) (*Album, error) {
	input := struct {
		Title       string `json:"Title"`
		Description string `json:"Description,omitempty"`
	}{
		Title:       title,
		Description: description,
	}
	return doRequestJSON[Album](ctx, pp, http.MethodPost, "albums", input, http.StatusOK, http.StatusCreated)
}

// EnsureAlbum returns the album titled title, creating it when missing.
func (pp *PhotoPrism) EnsureAlbum(ctx context.Context, title, description string) (*Album, error) {
	a, err := pp.FindAlbum(ctx, title)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return a, nil
	}
	return pp.CreateAlbum(ctx, title, description)
}
