package embedding

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// ErrCacheShape means cached vectors do not match their index; the cache
// has to be rebuilt with force.
var ErrCacheShape = errors.New("vector cache shape mismatch")

// CacheMeta describes one cached vector set.
type CacheMeta struct {
	Model      string `json:"model"`
	Dim        int    `json:"dim" validate:"gte=0"`
	Count      int    `json:"count" validate:"gte=0"`
	InputsHash string `json:"inputs_hash"`
}

// Cache stores named vector sets under a directory as
// <name>.vectors.bin, <name>.paths_index.json and <name>.meta.json.
type Cache struct {
	Dir string
}

func (c Cache) vectorsPath(name string) string { return filepath.Join(c.Dir, name+".vectors.bin") }
func (c Cache) indexPath(name string) string   { return filepath.Join(c.Dir, name+".paths_index.json") }
func (c Cache) metaPath(name string) string    { return filepath.Join(c.Dir, name+".meta.json") }

// Save writes a vector set. Every vector must have the same length.
func (c Cache) Save(name string, meta CacheMeta, keys []string, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return fmt.Errorf("%w: %d keys for %d vectors", ErrCacheShape, len(keys), len(vectors))
	}
	meta.Count = len(vectors)
	meta.Dim = 0
	if len(vectors) > 0 {
		meta.Dim = len(vectors[0])
	}

	var buf bytes.Buffer
	for i, v := range vectors {
		if len(v) != meta.Dim {
			return fmt.Errorf("%w: vector %d has dim %d, want %d", ErrCacheShape, i, len(v), meta.Dim)
		}
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("encode vector %d: %w", i, err)
		}
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := renameio.WriteFile(c.vectorsPath(name), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := workspace.WriteJSON(c.indexPath(name), keys); err != nil {
		return err
	}
	// Meta goes last so a crash mid-save leaves no valid meta behind.
	return workspace.WriteJSON(c.metaPath(name), meta)
}

// Meta reads the metadata of a vector set.
func (c Cache) Meta(name string) (CacheMeta, error) {
	var meta CacheMeta
	if err := workspace.ReadJSON(c.metaPath(name), &meta); err != nil {
		return CacheMeta{}, err
	}
	return meta, workspace.Validate(&meta)
}

// Load reads a vector set and checks it against its metadata.
func (c Cache) Load(name string) (CacheMeta, []string, [][]float32, error) {
	meta, err := c.Meta(name)
	if err != nil {
		return CacheMeta{}, nil, nil, err
	}
	var keys []string
	if err := workspace.ReadJSON(c.indexPath(name), &keys); err != nil {
		return CacheMeta{}, nil, nil, err
	}
	if len(keys) != meta.Count {
		return CacheMeta{}, nil, nil, fmt.Errorf("%w: %s index has %d keys, meta says %d", ErrCacheShape, name, len(keys), meta.Count)
	}

	f, err := os.Open(c.vectorsPath(name))
	if err != nil {
		return CacheMeta{}, nil, nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return CacheMeta{}, nil, nil, err
	}
	if want := int64(meta.Count) * int64(meta.Dim) * 4; st.Size() != want {
		return CacheMeta{}, nil, nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrCacheShape, name, st.Size(), want)
	}

	r := bufio.NewReader(f)
	vectors := make([][]float32, meta.Count)
	for i := range vectors {
		v := make([]float32, meta.Dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return CacheMeta{}, nil, nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors[i] = v
	}
	return meta, keys, vectors, nil
}

// Valid reports whether the named set was built by model from inputs with
// the given identity hash.
func (c Cache) Valid(name, model, inputsHash string) bool {
	meta, err := c.Meta(name)
	if err != nil {
		return false
	}
	return meta.Model == model && meta.InputsHash == inputsHash && workspace.Exists(c.vectorsPath(name), c.indexPath(name))
}

// CachedImages returns image vectors for paths, computing them with p only
// when the cache is missing, stale or forced. A shape mismatch in a cache
// that otherwise looks valid is returned as ErrCacheShape.
func CachedImages(ctx context.Context, p Provider, c Cache, name string, paths []string, force bool) ([][]float32, error) {
	inputsHash, err := workspace.FileIdentity(paths)
	if err != nil {
		return nil, fmt.Errorf("hash inputs: %w", err)
	}
	keys := make([]string, len(paths))
	for i, path := range paths {
		keys[i] = filepath.Base(path)
	}

	if !force && c.Valid(name, p.Model(), inputsHash) {
		_, cachedKeys, vectors, err := c.Load(name)
		if err != nil {
			return nil, err
		}
		byKey := make(map[string][]float32, len(cachedKeys))
		for i, k := range cachedKeys {
			byKey[k] = vectors[i]
		}
		out := make([][]float32, len(keys))
		for i, k := range keys {
			v, ok := byKey[k]
			if !ok {
				return nil, fmt.Errorf("%w: %s missing %s", ErrCacheShape, name, k)
			}
			out[i] = v
		}
		return out, nil
	}

	vectors, err := p.EmbedImages(ctx, paths)
	if err != nil {
		return nil, err
	}
	if err := c.Save(name, CacheMeta{Model: p.Model(), InputsHash: inputsHash}, keys, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// CachedTexts is CachedImages for prompts; the identity is the prompt list.
func CachedTexts(ctx context.Context, p Provider, c Cache, name string, texts []string, force bool) ([][]float32, error) {
	inputsHash := workspace.HashParams(texts)
	if !force && c.Valid(name, p.Model(), inputsHash) {
		_, _, vectors, err := c.Load(name)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: %s has %d vectors for %d prompts", ErrCacheShape, name, len(vectors), len(texts))
		}
		return vectors, nil
	}

	vectors, err := p.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	if err := c.Save(name, CacheMeta{Model: p.Model(), InputsHash: inputsHash}, texts, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}
