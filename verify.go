package main

import (
	"context"

	"github.com/rs/zerolog"
)

func verifyCommand(ctx context.Context, args Command, logger zerolog.Logger) error {
	cfg, err := loadConfig(args.Config, false)
	if err != nil {
		return err
	}
	db, err := openDatabase(args.Database, logger)
	if err != nil {
		return err
	}
	return newDispatcher(db, logger).Verify(ctx, *cfg, args.Verify.ID)
}
