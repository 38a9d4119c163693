package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backup"
)

func restoreCommand(ctx context.Context, args Command, logger zerolog.Logger) error {
	if args.Restore.DryRun {
		logger = logger.With().Bool("dryrun", true).Logger()
	}

	cfg, err := loadConfig(args.Config, false)
	if err != nil {
		return err
	}
	db, err := openDatabase(args.Database, logger)
	if err != nil {
		return err
	}

	out, err := newDispatcher(db, logger).Restore(ctx, *cfg, backup.RestoreRequest{
		ID:          args.Restore.ID,
		TargetPaths: args.Restore.Paths,
		Force:       args.Restore.Force,
		Into:        args.Restore.Into,
		DryRun:      args.Restore.DryRun,
	})
	if err != nil {
		return err
	}
	for _, c := range out.Conflicts {
		logger.Warn().Str("path", c.Path).Str("reason", c.Reason).Msg("not restored")
	}
	if !out.Complete() {
		return fmt.Errorf("%w: %d files not restored, use --force to overwrite", errPartial, len(out.Conflicts))
	}
	return nil
}
