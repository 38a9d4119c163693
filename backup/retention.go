package backup

import (
	"context"
	"fmt"

	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
)

// retain deletes the records of cfg's method and destination beyond its
// retention count, newest kept. A record whose data could not be deleted is
// kept for the next pass. It returns the records removed, or that would be
// removed when dryRun is set.
func (d *Dispatcher) retain(ctx context.Context, cfg config.Config, sess *session, dryRun bool) ([]Record, error) {
	if cfg.RetentionCount <= 0 {
		return nil, nil
	}

	records, err := d.store.ListRecords(ctx, RecordFilter{Method: cfg.Method, Destination: cfg.Destination})
	if err != nil {
		return nil, fmt.Errorf("%w: could not list backup records: %w", backuperr.ErrIO, err)
	}
	if len(records) <= cfg.RetentionCount {
		return nil, nil
	}

	logger := sess.logger
	var removed []Record
	for _, r := range records[cfg.RetentionCount:] {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if dryRun {
			logger.Info().Object("record", r).Msg("would prune backup")
			removed = append(removed, r)
			continue
		}
		if err := sess.strategy.Delete(ctx, r.artifact()); err != nil {
			logger.Warn().Err(err).Object("record", r).Msg("could not delete backup data, keeping record")
			continue
		}
		if err := d.store.DeleteRecord(ctx, r.ID); err != nil {
			logger.Warn().Err(err).Object("record", r).Msg("could not delete backup record")
			continue
		}
		logger.Info().Object("record", r).Msg("pruned backup")
		removed = append(removed, r)
	}
	return removed, nil
}

// Prune applies retention to cfg's destination outside of a run.
func (d *Dispatcher) Prune(ctx context.Context, cfg config.Config, dryRun bool) ([]Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", backuperr.ErrConfig, err)
	}
	logger := d.logger.With().Str("method", string(cfg.Method)).Str("destination", cfg.Destination).Logger()

	sess, err := d.open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	return d.retain(ctx, cfg, sess, dryRun)
}
