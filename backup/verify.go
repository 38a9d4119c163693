package backup

import (
	"context"
	"time"

	"github.com/stupid-simple/devbackup/config"
)

// Verify checks that the stored data of a backup is intact.
func (d *Dispatcher) Verify(ctx context.Context, cfg config.Config, id string) (err error) {
	logger := d.logger.With().Str("id", id).Logger()
	startTime := time.Now()
	defer func() {
		tookSeconds := time.Since(startTime).Seconds()
		if err != nil {
			logger.Error().Err(err).Float64("seconds", tookSeconds).Msg("verify failed")
		} else {
			logger.Info().Float64("seconds", tookSeconds).Msg("backup verified")
		}
	}()

	rec, err := d.store.FindRecord(ctx, id)
	if err != nil {
		return err
	}

	rcfg := cfg
	rcfg.Method = rec.Method
	rcfg.Destination = rec.Destination

	sess, err := d.open(ctx, rcfg, logger)
	if err != nil {
		return err
	}
	defer sess.close()

	return sess.strategy.Verify(ctx, rec.artifact())
}
