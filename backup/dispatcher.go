// Package backup runs backups of a configured set of directories with one of
// the storage strategies, records them, applies retention and restores them.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/lock"
	"github.com/stupid-simple/devbackup/strategy"
)

type Dispatcher struct {
	store  Store
	logger zerolog.Logger
	o      options
}

func NewDispatcher(store Store, logger zerolog.Logger, opts ...Option) *Dispatcher {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	d := &Dispatcher{store: store, logger: logger, o: o}
	if d.o.newStrategy == nil {
		d.o.newStrategy = d.defaultStrategy
	}
	return d
}

func (d *Dispatcher) stateDir(cfg config.Config) string {
	if cfg.StateDir != "" {
		return cfg.StateDir
	}
	if d.o.stateDir != "" {
		return d.o.stateDir
	}
	return filepath.Join(os.TempDir(), "devbackup")
}

func (d *Dispatcher) defaultStrategy(ctx context.Context, cfg config.Config) (strategy.Strategy, error) {
	return strategy.New(ctx, cfg, strategy.Deps{
		Executor: d.o.executor,
		StateDir: d.stateDir(cfg),
		Logger:   d.logger,
	})
}

// session holds the destination lock and an open strategy.
type session struct {
	lock     *lock.Lock
	strategy strategy.Strategy
	logger   zerolog.Logger
}

func (d *Dispatcher) open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*session, error) {
	l, err := lock.Acquire(lock.PathFor(d.stateDir(cfg), cfg.Destination))
	if err != nil {
		return nil, err
	}
	s, err := d.o.newStrategy(ctx, cfg)
	if err != nil {
		if relErr := l.Release(); relErr != nil {
			logger.Warn().Err(relErr).Msg("could not release destination lock")
		}
		return nil, err
	}
	return &session{lock: l, strategy: s, logger: logger}, nil
}

func (s *session) close() {
	if err := s.strategy.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("could not close backup destination")
	}
	if err := s.lock.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("could not release destination lock")
	}
}

// Run performs one backup of cfg. A run that skipped some files returns a
// record with StatusPartial and a nil error. Failed runs return an error,
// write no record and leave a failed run entry.
func (d *Dispatcher) Run(ctx context.Context, cfg config.Config) (rec *Record, err error) {
	run := RunEntry{
		ID:          uuid.NewString(),
		Method:      cfg.Method,
		Destination: cfg.Destination,
		StartedAt:   d.o.now().UTC(),
	}
	logger := d.logger.With().
		Str("run", run.ID).
		Str("method", string(cfg.Method)).
		Str("destination", cfg.Destination).
		Logger()

	logger.Info().Object("config", cfg).Msg("starting backup")
	defer func() {
		run.FinishedAt = d.o.now().UTC()
		tookSeconds := run.FinishedAt.Sub(run.StartedAt).Seconds()
		if err != nil {
			run.Status = StatusFailed
			run.Error = err.Error()
			if ctx.Err() != nil {
				logger.Info().Float64("seconds", tookSeconds).Msg("backup cancelled")
			} else {
				logger.Error().Err(err).Float64("seconds", tookSeconds).Msg("backup failed")
			}
		} else {
			run.Status = rec.Status
			run.RecordID = rec.ID
			run.SizeBytes = rec.SizeBytes
			logger.Info().Object("record", rec).Float64("seconds", tookSeconds).Msg("backup done")
		}
		if appendErr := d.store.AppendRun(context.WithoutCancel(ctx), run); appendErr != nil {
			logger.Error().Err(appendErr).Msg("could not write run log entry")
		}
	}()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", backuperr.ErrConfig, err)
	}
	for _, p := range cfg.SourcePaths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: source path %s: %w", backuperr.ErrConfig, p, err)
		}
	}

	sess, err := d.open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	if err := sess.strategy.Check(ctx); err != nil {
		return nil, err
	}

	var skipped []asset.Skip
	scanned, err := asset.ScanPaths(ctx, cfg.SourcePaths, logger,
		asset.WithExcludes(cfg.Excludes),
		asset.WithOnSkipped(func(path string, err error) {
			skipped = append(skipped, asset.Skip{Path: path, Reason: err.Error()})
		}))
	if err != nil {
		return nil, err
	}

	createdAt, id, err := d.newID(ctx)
	if err != nil {
		return nil, err
	}

	art, err := sess.strategy.Archive(ctx, strategy.Snapshot{ID: id, CreatedAt: createdAt, Assets: scanned})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, strategy.ErrNothingToArchive) {
			if art != nil {
				skipped = append(skipped, art.Skipped...)
			}
			for _, s := range skipped {
				logger.Warn().Object("skipped", s).Msg("skipped path")
			}
			return nil, fmt.Errorf("no readable files in %d source paths (%d skipped): %w", len(cfg.SourcePaths), len(skipped), err)
		}
		return nil, err
	}
	skipped = append(skipped, art.Skipped...)

	rec = &Record{
		ID:          id,
		Method:      cfg.Method,
		Destination: cfg.Destination,
		Location:    art.Location,
		SizeBytes:   art.Size,
		CreatedAt:   createdAt,
		Status:      StatusSuccess,
		Skipped:     skipped,
		Files:       art.Entries,
	}
	if len(skipped) > 0 || art.Partial {
		rec.Status = StatusPartial
		for _, s := range skipped {
			logger.Warn().Object("skipped", s).Msg("skipped path")
		}
	}

	if err := d.store.SaveRecord(ctx, *rec); err != nil {
		// Unrecorded data would never be pruned.
		if delErr := sess.strategy.Delete(context.WithoutCancel(ctx), *art); delErr != nil {
			logger.Error().Err(delErr).Object("artifact", art).Msg("could not delete unrecorded backup")
		}
		return nil, fmt.Errorf("%w: could not save backup record: %w", backuperr.ErrIO, err)
	}

	if _, err := d.retain(ctx, cfg, sess, false); err != nil {
		logger.Warn().Err(err).Msg("could not apply retention")
	}
	return rec, nil
}

// newID derives a backup id from the current time, moving forward by a
// millisecond until it does not collide with an existing record.
func (d *Dispatcher) newID(ctx context.Context) (time.Time, string, error) {
	t := d.o.now().UTC().Truncate(time.Millisecond)
	for {
		id := t.Format(IDLayout)
		_, err := d.store.FindRecord(ctx, id)
		if errors.Is(err, backuperr.ErrNotFound) {
			return t, id, nil
		}
		if err != nil {
			return t, "", fmt.Errorf("%w: could not read backup records: %w", backuperr.ErrIO, err)
		}
		t = t.Add(time.Millisecond)
	}
}
