package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backup"
)

// errPartial marks a command that finished without doing all of its work.
var errPartial = errors.New("partially completed")

func runCommand(ctx context.Context, args Command, logger zerolog.Logger) error {
	cfg, err := loadConfig(args.Config, true)
	if err != nil {
		return err
	}
	db, err := openDatabase(args.Database, logger)
	if err != nil {
		return err
	}

	rec, err := newDispatcher(db, logger).Run(ctx, *cfg)
	if err != nil {
		return err
	}
	if rec.Status == backup.StatusPartial {
		return fmt.Errorf("%w: backup %s skipped %d paths", errPartial, rec.ID, len(rec.Skipped))
	}
	return nil
}
