package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/archiver"
	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/fileutils"
)

// Local writes one compressed archive per snapshot into a directory.
type Local struct {
	dir          string
	prefix       string
	level        int
	minFree      int64
	recipients   []age.Recipient
	identityFile string
	logger       zerolog.Logger
}

func NewLocal(cfg config.Config, logger zerolog.Logger) (*Local, error) {
	return newLocal(cfg.Destination, cfg, logger)
}

func newLocal(dir string, cfg config.Config, logger zerolog.Logger) (*Local, error) {
	l := &Local{
		dir:          dir,
		prefix:       cfg.ArchivePrefix,
		level:        cfg.CompressionLevel,
		minFree:      cfg.MinFreeSpace.Size,
		identityFile: cfg.Encryption.IdentityFile,
		logger:       logger.With().Str("dir", dir).Logger(),
	}
	if cfg.Encryption.Enabled() {
		recipients, err := archiver.ParseRecipients(cfg.Encryption.Recipients)
		if err != nil {
			return nil, err
		}
		l.recipients = recipients
	}
	return l, nil
}

func (l *Local) Method() config.Method {
	return config.MethodLocal
}

func (l *Local) Check(ctx context.Context) error {
	if err := os.MkdirAll(l.dir, 0750); err != nil {
		return fmt.Errorf("%w: could not create destination directory: %w", backuperr.ErrConfig, err)
	}
	if err := fileutils.VerifyWritable(l.dir); err != nil {
		return fmt.Errorf("%w: destination is not writable: %w", backuperr.ErrConfig, err)
	}
	if l.minFree > 0 {
		free, err := fileutils.FreeSpace(l.dir)
		if err != nil {
			return fmt.Errorf("%w: could not check free space: %w", backuperr.ErrIO, err)
		}
		if free < l.minFree {
			return fmt.Errorf("%w: only %s free in %s, need %s", backuperr.ErrIO,
				units.HumanSize(float64(free)), l.dir, units.HumanSize(float64(l.minFree)))
		}
	}
	return nil
}

func (l *Local) path(art Artifact) string {
	return filepath.Join(l.dir, art.Location)
}

// Archive writes the snapshot to a hidden temporary file and renames it into
// place only once complete. Temporary files left by a killed run are removed first.
func (l *Local) Archive(ctx context.Context, snap Snapshot) (*Artifact, error) {
	removed, err := fileutils.SweepPending(l.dir)
	for _, p := range removed {
		l.logger.Warn().Str("path", p).Msg("removed leftover temporary archive")
	}
	if err != nil {
		l.logger.Warn().Err(err).Msg("could not sweep temporary archives")
	}

	name := archiver.FileName(l.prefix, snap.ID, len(l.recipients) > 0)
	pf, err := fileutils.CreatePending(filepath.Join(l.dir, name), 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create archive: %w", backuperr.ErrIO, err)
	}
	defer func() {
		if err := pf.Discard(); err != nil {
			l.logger.Warn().Err(err).Str("path", pf.Name()).Msg("could not remove temporary archive")
		}
	}()

	opts := []archiver.WriteOption{archiver.WithCompressionLevel(l.level)}
	if len(l.recipients) > 0 {
		opts = append(opts, archiver.WithRecipients(l.recipients...))
	}
	res, err := archiver.Write(ctx, pf, snap.Assets, l.logger, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}
	art := &Artifact{Location: name, Size: res.Bytes, Entries: res.Entries, Skipped: res.Skipped}
	if len(res.Entries) == 0 {
		return art, ErrNothingToArchive
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err := pf.Commit(); err != nil {
		return nil, fmt.Errorf("%w: could not finish archive: %w", backuperr.ErrIO, err)
	}
	l.logger.Info().Object("artifact", art).Msg("archive written")
	return art, nil
}

func (l *Local) readOptions(name string) ([]archiver.ReadOption, error) {
	if !archiver.IsEncrypted(name) {
		return nil, nil
	}
	ids, err := archiver.LoadIdentities(l.identityFile)
	if err != nil {
		return nil, err
	}
	return []archiver.ReadOption{archiver.WithIdentities(ids...)}, nil
}

func (l *Local) Restore(ctx context.Context, art Artifact, stagingDir string) error {
	return l.extractFile(ctx, l.path(art), art.Location, stagingDir)
}

func (l *Local) extractFile(ctx context.Context, path, name, stagingDir string) error {
	opts, err := l.readOptions(name)
	if err != nil {
		return err
	}
	f, err := openArtifact(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = archiver.Extract(ctx, f, stagingDir, l.logger, opts...)
	return err
}

func (l *Local) Verify(ctx context.Context, art Artifact) error {
	return l.verifyFile(ctx, l.path(art), art)
}

func (l *Local) verifyFile(ctx context.Context, path string, art Artifact) error {
	opts, err := l.readOptions(art.Location)
	if err != nil {
		return err
	}
	f, err := openArtifact(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stored, err := archiver.Inspect(ctx, f, opts...)
	if err != nil {
		return err
	}
	return compareEntries(art.Entries, stored)
}

func (l *Local) Delete(ctx context.Context, art Artifact) error {
	if err := os.Remove(l.path(art)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: could not delete archive: %w", backuperr.ErrIO, err)
	}
	return nil
}

func (l *Local) Close() error {
	return nil
}

func openArtifact(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: backup data is missing: %w", backuperr.ErrCorruption, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}
	return f, nil
}

// compareEntries checks that every recorded entry is stored with the same content.
func compareEntries(recorded, stored []asset.Entry) error {
	byPath := make(map[string]asset.Entry, len(stored))
	for _, e := range stored {
		byPath[e.Path] = e
	}
	var errs []error
	for _, want := range recorded {
		got, ok := byPath[want.Path]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%s is missing from the archive", want.Path))
		case got.Size != want.Size || (want.Hash != 0 && got.Hash != want.Hash):
			errs = append(errs, fmt.Errorf("%s does not match the recorded content", want.Path))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", backuperr.ErrCorruption, errors.Join(errs...))
	}
	return nil
}
