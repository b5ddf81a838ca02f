package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/kozaktomas/album-curator/internal/styles"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// presignExpiry is how long curated download links stay valid.
const presignExpiry = 24 * time.Hour

// ExportOptions controls where a curated export goes besides export/.
type ExportOptions struct {
	Upload  bool   // copy files to the object store and presign them
	Publish bool   // create an album in the photo library
	Title   string // photo library album title, defaults to the album id
}

// ExportRow is one line of export/manifest.jsonl.
type ExportRow struct {
	ClusterID   int    `json:"cluster_id" validate:"gte=0"`
	ClusterName string `json:"cluster_name"`
	Rank        int    `json:"rank" validate:"gte=1"`
	SrcPath     string `json:"src_path" validate:"required"`
	ExportPath  string `json:"export_path" validate:"required"`
	ObjectKey   string `json:"object_key,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ExportResult summarizes a curated export.
type ExportResult struct {
	AlbumID   string      `json:"albumId"`
	Count     int         `json:"count"`
	Rows      []ExportRow `json:"rows"`
	Published string      `json:"published_album,omitempty"`
}

// Export copies the top keep_count images of every cluster into export/
// and writes its manifest. The previous export is replaced.
func (o *Orchestrator) Export(ctx context.Context, albumID string, opts ExportOptions) (*ExportResult, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return nil, err
	}
	if o.registry.Active(albumID) {
		return nil, ErrJobRunning
	}
	if opts.Upload && o.opts.Store == nil {
		return nil, fmt.Errorf("%w: object store", ErrNotConfigured)
	}
	if opts.Publish && o.opts.Publisher == nil {
		return nil, fmt.Errorf("%w: photo library", ErrNotConfigured)
	}
	mu := o.albumLock(albumID)
	mu.Lock()
	defer mu.Unlock()

	st, err := o.loadTournament(l)
	if err != nil {
		return nil, err
	}
	images, err := styles.ReadImages(l.Images())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: style images", ErrNotReady)
	}
	if err != nil {
		return nil, err
	}
	byCluster := make(map[int][]styles.ImageRow)
	for _, img := range images {
		byCluster[img.ClusterID] = append(byCluster[img.ClusterID], img)
	}

	if err := os.RemoveAll(l.Export()); err != nil {
		return nil, fmt.Errorf("reset export: %w", err)
	}
	if err := os.MkdirAll(l.Export(), 0o755); err != nil {
		return nil, fmt.Errorf("create export: %w", err)
	}

	clusters := append(st.Clusters[:0:0], st.Clusters...)
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ClusterID < clusters[j].ClusterID })

	rows := []ExportRow{}
	for _, c := range clusters {
		members := byCluster[c.ClusterID]
		sortByRank(members)
		for i, img := range members {
			if i == c.KeepCount {
				break
			}
			src, ok := l.Resolve(path.Join("step_a", img.Path))
			if !ok {
				return nil, fmt.Errorf("image path %q escapes the workspace", img.Path)
			}
			name := fmt.Sprintf("c%03d_%03d__%s", c.ClusterID, i+1, path.Base(img.Path))
			dst := filepath.Join(l.Export(), name)
			if err := workspace.CopyFile(src, dst); err != nil {
				return nil, fmt.Errorf("export %s: %w", img.Path, err)
			}
			rows = append(rows, ExportRow{
				ClusterID:   c.ClusterID,
				ClusterName: c.Name,
				Rank:        i + 1,
				SrcPath:     path.Join("step_a", img.Path),
				ExportPath:  l.Rel(dst),
			})
		}
	}

	if opts.Upload {
		if err := o.uploadExport(ctx, l, albumID, rows); err != nil {
			return nil, err
		}
	}
	if err := workspace.WriteJSONL(l.ExportManifest(), rows); err != nil {
		return nil, err
	}
	log.Printf("Album %s: exported %d images from %d clusters", albumID, len(rows), len(clusters))

	res := &ExportResult{AlbumID: albumID, Count: len(rows), Rows: rows}
	if opts.Publish {
		if res.Published, err = o.publishExport(ctx, l, albumID, opts.Title, rows); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (o *Orchestrator) uploadExport(ctx context.Context, l workspace.Layout, albumID string, rows []ExportRow) error {
	for i := range rows {
		src, _ := l.Resolve(rows[i].ExportPath)
		key := path.Join(o.opts.ExportPrefix, albumID, "curated", path.Base(rows[i].ExportPath))
		contentType := mime.TypeByExtension(filepath.Ext(src))
		if err := o.opts.Store.Upload(ctx, key, src, contentType); err != nil {
			return fmt.Errorf("upload %s: %w", rows[i].ExportPath, err)
		}
		url, err := o.opts.Store.PresignGet(ctx, key, presignExpiry)
		if err != nil {
			return fmt.Errorf("presign %s: %w", key, err)
		}
		rows[i].ObjectKey = key
		rows[i].URL = url
	}
	log.Printf("Album %s: uploaded %d curated images to %s", albumID, len(rows), o.opts.Store.Name())
	return nil
}

func (o *Orchestrator) publishExport(ctx context.Context, l workspace.Layout, albumID, title string, rows []ExportRow) (string, error) {
	if title == "" {
		title = albumID
	}
	files := make([]string, 0, len(rows))
	for _, r := range rows {
		p, _ := l.Resolve(r.ExportPath)
		files = append(files, p)
	}
	uid, err := o.opts.Publisher.Publish(ctx, title, fmt.Sprintf("%d curated photos", len(files)), files)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return uid, nil
}
