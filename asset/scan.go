package asset

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type ScanOption func(o *scanOptions)

type scanOptions struct {
	excludes  []string
	onSkipped func(path string, err error)
}

// Glob patterns matched against both the base name and the full path.
func WithExcludes(patterns []string) ScanOption {
	return func(o *scanOptions) {
		o.excludes = patterns
	}
}

// Called for every path that exists but could not be read.
func WithOnSkipped(fn func(path string, err error)) ScanOption {
	return func(o *scanOptions) {
		o.onSkipped = fn
	}
}

// ScanPaths walks every root and yields each readable regular file once.
// A root may be a directory or a single file.
func ScanPaths(ctx context.Context, roots []string, logger zerolog.Logger, opts ...ScanOption) (iter.Seq[Asset], error) {
	o := scanOptions{onSkipped: func(string, error) {}}
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(Asset) bool) {
		seen := make(map[string]struct{})
		for _, root := range roots {
			if ctx.Err() != nil {
				return
			}
			if !scanRoot(ctx, root, seen, o, logger, yield) {
				return
			}
		}
	}, nil
}

// ScanDirectory scans a single directory tree.
func ScanDirectory(ctx context.Context, dirPath string, logger zerolog.Logger, opts ...ScanOption) (iter.Seq[Asset], error) {
	return ScanPaths(ctx, []string{dirPath}, logger, opts...)
}

func scanRoot(
	ctx context.Context,
	root string,
	seen map[string]struct{},
	o scanOptions,
	logger zerolog.Logger,
	yield func(Asset) bool,
) bool {
	var scannedCount int
	var statFiles int
	var skippedCount int
	keepGoing := true

	logger = logger.With().Str("dir", root).Logger()
	logger.Info().Msg("start scanning for assets")
	defer func() {
		logger.Info().
			Int("scanned", statFiles).
			Int("scanned_success", scannedCount).
			Int("skipped", skippedCount).
			Msgf("done scanning assets")
	}()

	skip := func(path string, err error) {
		skippedCount++
		logger.Warn().Err(err).Str("path", path).Msg("could not scan path")
		o.onSkipped(path, err)
	}

	throttledLogger := logger.Sample(&zerolog.BurstSampler{
		Burst:  1,
		Period: 1 * time.Second,
	})
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}

		if err != nil {
			if path == root && os.IsNotExist(err) {
				logger.Warn().Err(err).Str("path", path).Msg("source path does not exist")
				return nil
			}
			skip(path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if isExcluded(path, o.excludes) {
			logger.Debug().Str("path", path).Msg("excluded path")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			skip(path, err)
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		statFiles++

		if _, ok := seen[path]; ok {
			return nil
		}
		seen[path] = struct{}{}

		if err := checkReadable(path); err != nil {
			skip(path, err)
			return nil
		}

		newAsset, err := NewFromFS(path, info)
		if err != nil {
			skip(path, err)
			return nil
		}

		if !yield(newAsset) {
			keepGoing = false
			return filepath.SkipAll
		}
		scannedCount++
		logger.Debug().Object("asset", newAsset).Msg("scanned asset")
		throttledLogger.Info().
			Int("scanned", statFiles).
			Int("scanned_success", scannedCount).
			Msg("scanning assets")

		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("path", root).Msg("could not scan path")
	}
	return keepGoing
}

func isExcluded(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
	}
	return false
}
