package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/fileutils"
	"github.com/stupid-simple/devbackup/remote"
)

// Remote builds the archive in a local spool directory and pushes it with a
// transport. A failed push fails the run; there is no partial upload.
type Remote struct {
	spool     *Local
	transport remote.Transport
	keepLocal bool
	logger    zerolog.Logger
}

func NewRemote(cfg config.Config, t remote.Transport, stateDir string, logger zerolog.Logger) (*Remote, error) {
	if stateDir == "" {
		return nil, fmt.Errorf("%w: remote backups need a state directory for spooling", backuperr.ErrConfig)
	}
	spool, err := newLocal(spoolDir(stateDir, cfg.Destination), cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Remote{
		spool:     spool,
		transport: t,
		keepLocal: cfg.Remote.KeepLocal,
		logger:    logger.With().Str("transport", t.Name()).Logger(),
	}, nil
}

// spoolDir is where archives for destination are staged before push and after pull.
func spoolDir(stateDir, destination string) string {
	return filepath.Join(stateDir, "spool", strconv.FormatUint(fileutils.HashString(destination), 16))
}

func (r *Remote) Method() config.Method {
	return config.MethodRemote
}

func (r *Remote) Check(ctx context.Context) error {
	if err := r.spool.Check(ctx); err != nil {
		return err
	}
	if err := r.transport.Check(ctx); err != nil {
		if errors.Is(err, backuperr.ErrAuth) {
			return err
		}
		return fmt.Errorf("%w: remote destination unreachable: %w", backuperr.ErrConfig, err)
	}
	return nil
}

func (r *Remote) Archive(ctx context.Context, snap Snapshot) (*Artifact, error) {
	art, err := r.spool.Archive(ctx, snap)
	if err != nil {
		return art, err
	}

	local := r.spool.path(*art)
	err = r.transport.Push(ctx, local, art.Location)
	if err != nil || !r.keepLocal {
		if rmErr := os.Remove(local); rmErr != nil {
			r.logger.Warn().Err(rmErr).Str("path", local).Msg("could not remove spooled archive")
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	r.logger.Info().Object("artifact", art).Msg("archive pushed")
	return art, nil
}

// pull downloads the artifact into the spool directory, unless a kept local
// copy is already there. The returned cleanup removes what pull created; a
// download left by a killed process is swept by the next Archive.
func (r *Remote) pull(ctx context.Context, art Artifact) (string, func(), error) {
	local := r.spool.path(art)
	if r.keepLocal && fileutils.Exists(local) {
		return local, func() {}, nil
	}

	if err := os.MkdirAll(r.spool.dir, 0750); err != nil {
		return "", nil, fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}
	f, err := fileutils.CreatePendingTemp(r.spool.dir, "pull")
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}
	cleanup := func() {
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn().Err(err).Str("path", f.Name()).Msg("could not remove downloaded archive")
		}
	}

	err = r.transport.Pull(ctx, art.Location, f)
	err = errors.Join(err, f.Close())
	if err != nil {
		cleanup()
		if errors.Is(err, backuperr.ErrNotFound) {
			return "", nil, fmt.Errorf("%w: backup data is missing: %w", backuperr.ErrCorruption, err)
		}
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

func (r *Remote) Restore(ctx context.Context, art Artifact, stagingDir string) error {
	local, cleanup, err := r.pull(ctx, art)
	if err != nil {
		return err
	}
	defer cleanup()

	return r.spool.extractFile(ctx, local, art.Location, stagingDir)
}

func (r *Remote) Verify(ctx context.Context, art Artifact) error {
	obj, err := r.transport.Stat(ctx, art.Location)
	if errors.Is(err, backuperr.ErrNotFound) {
		return fmt.Errorf("%w: backup data is missing: %w", backuperr.ErrCorruption, err)
	}
	if err != nil {
		return err
	}
	if obj.Size != art.Size {
		return fmt.Errorf("%w: remote object is %d bytes, recorded %d", backuperr.ErrCorruption, obj.Size, art.Size)
	}
	return nil
}

func (r *Remote) Delete(ctx context.Context, art Artifact) error {
	if err := r.transport.Delete(ctx, art.Location); err != nil && !errors.Is(err, backuperr.ErrNotFound) {
		return err
	}
	return r.spool.Delete(ctx, art)
}

func (r *Remote) Close() error {
	return r.transport.Close()
}
