// Package strategy turns a scanned snapshot into stored backup data and back.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/executor"
	"github.com/stupid-simple/devbackup/remote"
)

// ErrNothingToArchive means every scanned file was skipped or there was none.
var ErrNothingToArchive = errors.New("nothing to archive")

type Snapshot struct {
	ID        string
	CreatedAt time.Time
	Assets    iter.Seq[asset.Asset]
}

// Artifact is where a snapshot ended up.
type Artifact struct {
	Location string // file name, object name or repository snapshot id
	Size     int64
	Entries  []asset.Entry
	Skipped  []asset.Skip
	Partial  bool // the backing tool reported an incomplete snapshot
}

func (a Artifact) MarshalZerologObject(e *zerolog.Event) {
	e.Str("location", a.Location)
	e.Int64("size", a.Size)
	e.Int("files_count", len(a.Entries))
	e.Int("skipped", len(a.Skipped))
	if a.Partial {
		e.Bool("partial", true)
	}
}

type Strategy interface {
	Method() config.Method
	// Check fails with ErrConfig when the destination is unreachable or not
	// writable, ErrAuth when credentials are rejected.
	Check(ctx context.Context) error
	Archive(ctx context.Context, snap Snapshot) (*Artifact, error)
	// Restore materializes the artifact under stagingDir, each file at its
	// original absolute path joined to stagingDir.
	Restore(ctx context.Context, art Artifact, stagingDir string) error
	// Verify fails with ErrCorruption when the stored data is missing or does
	// not match art.
	Verify(ctx context.Context, art Artifact) error
	// Delete removes the backing data. Already missing data is not an error.
	Delete(ctx context.Context, art Artifact) error
	Close() error
}

type Deps struct {
	Executor executor.Executor
	StateDir string
	Logger   zerolog.Logger
	// Used instead of opening one from the destination, for the remote method.
	Transport remote.Transport
}

// New builds the strategy for cfg.Method.
func New(ctx context.Context, cfg config.Config, deps Deps) (Strategy, error) {
	logger := deps.Logger.With().Str("method", string(cfg.Method)).Logger()
	switch cfg.Method {
	case config.MethodLocal:
		return NewLocal(cfg, logger)
	case config.MethodRepository:
		return NewRepository(cfg, deps.Executor, deps.StateDir, logger)
	case config.MethodRemote:
		if deps.Transport != nil {
			return NewRemote(cfg, deps.Transport, deps.StateDir, logger)
		}
		target, err := remote.Parse(cfg.Destination)
		if err != nil {
			return nil, err
		}
		opts := remote.Options{
			Credentials: cfg.Credentials,
			Remote:      cfg.Remote,
			Executor:    deps.Executor,
			Logger:      logger,
		}
		if deps.StateDir != "" {
			opts.TempDir = spoolDir(deps.StateDir, cfg.Destination)
		}
		t, err := remote.Open(ctx, target, opts)
		if err != nil {
			return nil, err
		}
		r, err := NewRemote(cfg, t, deps.StateDir, logger)
		if err != nil {
			return nil, errors.Join(err, t.Close())
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: unknown backup method %q", backuperr.ErrConfig, cfg.Method)
}
