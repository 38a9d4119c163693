package archiver

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/cespare/xxhash"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backuperr"
)

// Extract writes every regular file of the archive under destDir, keeping the
// stored path layout. It returns the extracted entries keyed by their original
// absolute path. Unreadable or malformed archives fail with ErrCorruption, local
// write failures with ErrIO.
func Extract(ctx context.Context, r io.Reader, destDir string, logger zerolog.Logger, opts ...ReadOption) ([]asset.Entry, error) {
	var extracted int
	defer func() {
		if ctx.Err() != nil {
			logger.Info().Int("extracted", extracted).Msg("cancelled extraction")
		} else {
			logger.Info().Int("extracted", extracted).Str("dir", destDir).Msg("done extracting archive")
		}
	}()

	var entries []asset.Entry
	err := walk(ctx, r, opts, func(h *tar.Header, name string, content io.Reader) error {
		target := filepath.Join(destDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
			return fmt.Errorf("%w: %w", backuperr.ErrIO, err)
		}

		entry, err := extractFile(target, h, content)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		extracted++
		logger.Debug().Object("entry", entry).Msg("extracted file")
		return nil
	})
	return entries, err
}

// Inspect reads the whole archive and returns its entries with content hashes,
// without writing anything.
func Inspect(ctx context.Context, r io.Reader, opts ...ReadOption) ([]asset.Entry, error) {
	var entries []asset.Entry
	err := walk(ctx, r, opts, func(h *tar.Header, name string, content io.Reader) error {
		hash := xxhash.New()
		n, err := io.Copy(hash, content)
		if err != nil {
			return fmt.Errorf("%w: could not read %s: %w", backuperr.ErrCorruption, name, err)
		}
		entries = append(entries, asset.Entry{
			Path:    "/" + name,
			Size:    n,
			Mode:    h.FileInfo().Mode(),
			ModTime: h.ModTime,
			Hash:    hash.Sum64(),
		})
		return nil
	})
	return entries, err
}

func walk(ctx context.Context, r io.Reader, opts []ReadOption, fn func(h *tar.Header, name string, content io.Reader) error) error {
	o := readOptions{}
	for _, applyOpts := range opts {
		applyOpts(&o)
	}

	if len(o.identities) > 0 {
		decrypted, err := age.Decrypt(r, o.identities...)
		if err != nil {
			var noMatch *age.NoIdentityMatchError
			if errors.As(err, &noMatch) {
				return fmt.Errorf("%w: no identity matches the archive: %w", backuperr.ErrAuth, err)
			}
			return fmt.Errorf("%w: could not decrypt archive: %w", backuperr.ErrCorruption, err)
		}
		r = decrypted
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: could not open archive: %w", backuperr.ErrCorruption, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: could not read archive: %w", backuperr.ErrCorruption, err)
		}
		if h.Typeflag != tar.TypeReg {
			continue
		}
		name, err := sanitizeEntryName(h.Name)
		if err != nil {
			return fmt.Errorf("%w: %w", backuperr.ErrCorruption, err)
		}
		if err := fn(h, name, tr); err != nil {
			return err
		}
	}
}

func extractFile(target string, h *tar.Header, content io.Reader) (entry asset.Entry, err error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return entry, fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}

	hash := xxhash.New()
	src := &trackingReader{r: content}
	n, copyErr := io.Copy(io.MultiWriter(f, hash), src)
	closeErr := f.Close()
	if copyErr != nil {
		if src.err != nil {
			return entry, fmt.Errorf("%w: could not read %s: %w", backuperr.ErrCorruption, h.Name, copyErr)
		}
		return entry, fmt.Errorf("%w: %w", backuperr.ErrIO, copyErr)
	}
	if closeErr != nil {
		return entry, fmt.Errorf("%w: %w", backuperr.ErrIO, closeErr)
	}
	if err := os.Chtimes(target, time.Now(), h.ModTime); err != nil {
		return entry, fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}

	return asset.Entry{
		Path:    "/" + strings.TrimLeft(path.Clean(h.Name), "/"),
		Size:    n,
		Mode:    h.FileInfo().Mode(),
		ModTime: h.ModTime,
		Hash:    hash.Sum64(),
	}, nil
}

// StagedPath is where Extract puts the file stored for hostPath.
func StagedPath(destDir, hostPath string) string {
	return filepath.Join(destDir, filepath.FromSlash(EntryName(hostPath)))
}

func sanitizeEntryName(name string) (string, error) {
	cleaned := path.Clean(strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/"))
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid archive entry name %q", name)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("archive entry escapes destination: %q", name)
	}
	return cleaned, nil
}
