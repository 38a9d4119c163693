package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backup"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/database"
	"github.com/stupid-simple/devbackup/executor"
)

// loadConfig reads the config file. Without one, an empty config is returned
// unless required is set.
func loadConfig(path string, required bool) (*config.Config, error) {
	if path == "" {
		if required {
			return nil, fmt.Errorf("%w: no config file specified", backuperr.ErrConfig)
		}
		return &config.Config{}, nil
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not load config %s: %w", backuperr.ErrConfig, path, err)
	}
	return cfg, nil
}

func newDispatcher(db *database.Database, logger zerolog.Logger) *backup.Dispatcher {
	return backup.NewDispatcher(db, logger,
		backup.WithExecutor(&executor.OS{Logger: logger}),
	)
}
