package archiver

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/cespare/xxhash"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/asset"
)

var errChangedWhileReading = errors.New("file shrank while archiving")

type Result struct {
	Entries []asset.Entry // files stored, with content hashes
	Skipped []asset.Skip  // files that could not be read
	Bytes   int64         // archive size as written to w
}

// Write streams assets into w as a tar archive, gzip compressed and optionally
// age encrypted. Files are stored under their absolute path without the leading
// slash. A file that cannot be read is recorded as skipped; a failure to write w
// aborts the archive.
func Write(
	ctx context.Context,
	w io.Writer,
	assets iter.Seq[asset.Asset],
	logger zerolog.Logger,
	opts ...WriteOption,
) (res *Result, err error) {
	o := writeOptions{level: gzip.DefaultCompression}
	for _, applyOpts := range opts {
		applyOpts(&o)
	}

	res = &Result{}
	startTime := time.Now()
	defer func() {
		l := logger.Info().
			Int("files_count", len(res.Entries)).
			Int("skipped", len(res.Skipped)).
			Int64("bytes", res.Bytes).
			Float64("seconds", time.Since(startTime).Seconds())
		if ctx.Err() != nil {
			l.Msg("cancelled archive")
		} else if err != nil {
			l.Err(err).Msg("could not write archive")
		} else {
			l.Msg("done writing archive")
		}
	}()

	counter := &countingWriter{w: w}
	var out io.Writer = counter
	var encrypted io.WriteCloser
	if len(o.recipients) > 0 {
		encrypted, err = age.Encrypt(counter, o.recipients...)
		if err != nil {
			return res, err
		}
		out = encrypted
	}

	gz, err := gzip.NewWriterLevel(out, o.level)
	if err != nil {
		return res, err
	}
	tw := tar.NewWriter(gz)

	for a := range assets {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		entry, readErr, writeErr := writeAsset(tw, a, logger)
		if writeErr != nil {
			return res, writeErr
		}
		if readErr != nil {
			logger.Warn().Err(readErr).Object("asset", a).Msg("could not archive asset")
			res.Skipped = append(res.Skipped, asset.Skip{Path: a.Path(), Reason: readErr.Error()})
			continue
		}
		res.Entries = append(res.Entries, entry)
	}

	if err := tw.Close(); err != nil {
		return res, err
	}
	if err := gz.Close(); err != nil {
		return res, err
	}
	if encrypted != nil {
		if err := encrypted.Close(); err != nil {
			return res, err
		}
	}
	res.Bytes = counter.n
	return res, nil
}

// writeAsset returns readErr when the source could not be read and writeErr when
// the archive could not be written. After a read error midway through a file the
// entry is padded with zeroes so the tar stream stays valid.
func writeAsset(tw *tar.Writer, a asset.Asset, logger zerolog.Logger) (entry asset.Entry, readErr error, writeErr error) {
	f, err := os.Open(a.Path())
	if err != nil {
		return entry, err, nil
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close asset file")
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return entry, err, nil
	}
	if !info.Mode().IsRegular() {
		return entry, asset.ErrNotRegular, nil
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return entry, err, nil
	}
	header.Name = EntryName(a.Path())
	header.Format = tar.FormatPAX
	if err := tw.WriteHeader(header); err != nil {
		return entry, nil, err
	}

	src := &trackingReader{r: f}
	hash := xxhash.New()
	n, err := io.CopyN(tw, io.TeeReader(src, hash), info.Size())
	if err != nil {
		if src.err == nil && !errors.Is(err, io.EOF) {
			return entry, nil, err
		}
		readErr = src.err
		if readErr == nil {
			readErr = errChangedWhileReading
		}
		if _, err := io.CopyN(tw, zeroReader{}, info.Size()-n); err != nil {
			return entry, readErr, err
		}
		return entry, readErr, nil
	}

	return asset.Entry{
		Path:    a.Path(),
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		Hash:    hash.Sum64(),
	}, nil, nil
}

// EntryName is the name a host path is stored under inside an archive.
func EntryName(path string) string {
	return strings.TrimLeft(path, "/")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil {
		return n, fmt.Errorf("could not write archive: %w", err)
	}
	return n, nil
}

// trackingReader remembers the first non-EOF read error.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
