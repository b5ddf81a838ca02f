package dedup

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kozaktomas/album-curator/internal/fingerprint"
	"github.com/kozaktomas/album-curator/internal/quality"
)

// Input names one photo to analyze.
type Input struct {
	Path string // record key
	File string // on-disk location
}

// Analysis is the per-photo output of Analyze, in input order. Unreadable
// photos appear in Failures and nowhere else.
type Analysis struct {
	Assets   []Asset
	Quality  []quality.Record
	Failures []error
}

// Analyze decodes every input once, computing its perceptual signature and
// quality record on a bounded worker pool. onDone is called after each input.
func Analyze(ctx context.Context, inputs []Input, workers int, th quality.Thresholds, onDone func()) (*Analysis, error) {
	if workers < 1 {
		workers = 1
	}

	type result struct {
		asset Asset
		rec   quality.Record
		ok    bool
	}
	results := make([]result, len(inputs))

	var mu sync.Mutex
	var failures []error
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in Input) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if onDone != nil {
				defer onDone()
			}
			if ctx.Err() != nil {
				return
			}

			asset, rec, err := analyzeOne(in, th)
			if err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", in.Path, err))
				mu.Unlock()
				return
			}
			results[i] = result{asset: asset, rec: rec, ok: true}
		}(i, in)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Analysis{Failures: failures}
	for _, r := range results {
		if r.ok {
			out.Assets = append(out.Assets, r.asset)
			out.Quality = append(out.Quality, r.rec)
		}
	}
	return out, nil
}

func analyzeOne(in Input, th quality.Thresholds) (Asset, quality.Record, error) {
	info, err := os.Stat(in.File)
	if err != nil {
		return Asset{}, quality.Record{}, fmt.Errorf("stat: %w", err)
	}
	img, err := quality.DecodeFile(in.File)
	if err != nil {
		return Asset{}, quality.Record{}, err
	}

	asset := Asset{
		Path: in.Path,
		File: in.File,
		Size: info.Size(),
		Sig:  fingerprint.Compute(img),
	}
	rec := quality.Assess(in.Path, quality.ToGray(img), th)
	return asset, rec, nil
}
