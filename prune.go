package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

func pruneCommand(ctx context.Context, args Command, logger zerolog.Logger) error {
	if args.Prune.DryRun {
		logger = logger.With().Bool("dryrun", true).Logger()
	}

	startTime := time.Now()
	logger.Info().Msg("starting pruning old backups")
	defer func() {
		tookSeconds := time.Since(startTime).Seconds()
		if ctx.Err() != nil {
			logger.Info().Float64("seconds", tookSeconds).Msg("pruning cancelled")
		} else {
			logger.Info().Float64("seconds", tookSeconds).Msg("pruning done")
		}
	}()

	cfg, err := loadConfig(args.Config, true)
	if err != nil {
		return err
	}
	db, err := openDatabase(args.Database, logger)
	if err != nil {
		return err
	}

	removed, err := newDispatcher(db, logger).Prune(ctx, *cfg, args.Prune.DryRun)
	if err != nil {
		return err
	}
	logger.Info().Int("removed", len(removed)).Int("retention_count", cfg.RetentionCount).Msg("pruned backups")
	return nil
}
