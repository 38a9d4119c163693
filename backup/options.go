package backup

import (
	"context"
	"time"

	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/executor"
	"github.com/stupid-simple/devbackup/strategy"
)

type options struct {
	stateDir    string
	executor    executor.Executor
	newStrategy func(ctx context.Context, cfg config.Config) (strategy.Strategy, error)
	now         func() time.Time
}

type Option func(o *options)

// Directory for locks, spooled uploads and restore staging.
// A config's own state_dir takes precedence.
func WithStateDir(dir string) Option {
	return func(o *options) {
		o.stateDir = dir
	}
}

// Runs restic and rclone.
func WithExecutor(x executor.Executor) Option {
	return func(o *options) {
		o.executor = x
	}
}

// Replaces how strategies are built from a config.
func WithStrategyFactory(fn func(ctx context.Context, cfg config.Config) (strategy.Strategy, error)) Option {
	return func(o *options) {
		o.newStrategy = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
