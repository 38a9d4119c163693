package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backup"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/fileutils"
	"github.com/stupid-simple/devbackup/scheduler"
	"github.com/stupid-simple/devbackup/status"
)

const (
	configPollInterval = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func daemonCommand(ctx context.Context, args Command, logger zerolog.Logger) error {
	cfg, err := loadConfig(args.Config, true)
	if err != nil {
		return err
	}
	db, err := openDatabase(args.Database, logger)
	if err != nil {
		return err
	}
	dispatcher := newDispatcher(db, logger)

	scheduler := scheduler.NewScheduler(scheduler.SchedulerParams{
		Logger: logger,
	})

	job := &backupJob{ctx: ctx, dispatcher: dispatcher, logger: logger}
	if err := scheduleBackup(scheduler, job, cfg, logger); err != nil {
		return err
	}

	ticker := time.NewTicker(configPollInterval)
	defer ticker.Stop()
	startConfigFileWatcher(ctx, args.Config, logger, ticker, func(cfg *config.Config) {
		scheduler.RemoveJobs()
		if err := scheduleBackup(scheduler, job, cfg, logger); err != nil {
			logger.Error().Err(err).Msg("failed to schedule backup from reloaded config")
		}
	})

	if args.Daemon.Listen != "" {
		srv := status.NewServer(args.Daemon.Listen, db, scheduler, logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("could not start status server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("could not stop status server")
			}
		}()
	}

	scheduler.Start()
	notifySystemd(daemon.SdNotifyReady, logger)

	<-ctx.Done()

	notifySystemd(daemon.SdNotifyStopping, logger)
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	scheduler.Stop(stopCtx)

	return nil
}

// scheduleBackup validates cfg and replaces the job's config with it.
// A config without a schedule leaves the daemon idle.
func scheduleBackup(s *scheduler.Scheduler, job *backupJob, cfg *config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Schedule == "" {
		logger.Warn().Msg("config has no schedule, no backups will run")
		return nil
	}

	job.setConfig(*cfg)
	name := fmt.Sprintf("%s:%s", cfg.Method, cfg.Destination)
	if err := s.AddBackupJob(name, cfg.Schedule, job); err != nil {
		return err
	}

	logger.Info().
		Object("config", cfg).
		Msg("added backup job")
	return nil
}

func notifySystemd(state string, logger zerolog.Logger) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn().Err(err).Str("state", state).Msg("could not notify systemd")
		return
	}
	if sent {
		logger.Debug().Str("state", state).Msg("notified systemd")
	}
}

func startConfigFileWatcher(ctx context.Context, cfgPath string, logger zerolog.Logger, ticker *time.Ticker, onChanged func(cfg *config.Config)) {
	logger.Info().Str("path", cfgPath).Msg("watching config file for changes")
	watcher, err := fileutils.WatchFile(ctx, cfgPath, ticker.C, func(err error) {
		logger.Error().Err(err).Msg("could not watch config file")
	})
	if err != nil {
		logger.Error().Err(err).Msg("could not watch config file")
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher:
				if !ok {
					return
				}
				logger.Info().Str("path", cfgPath).Msg("config file changed, reloading")

				cfg, err := config.LoadFromFile(cfgPath)
				if err != nil {
					logger.Error().Err(err).Msg("could not load config")
					break
				}

				onChanged(cfg)
			}
		}
	}()
}

type backupJob struct {
	ctx        context.Context
	dispatcher *backup.Dispatcher
	logger     zerolog.Logger

	mu  sync.Mutex
	cfg config.Config
}

func (b *backupJob) setConfig(cfg config.Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
}

func (b *backupJob) Run() {
	b.mu.Lock()
	cfg := b.cfg
	b.mu.Unlock()

	rec, err := b.dispatcher.Run(b.ctx, cfg)
	if err != nil {
		b.logger.Error().Err(err).Str("destination", cfg.Destination).Msg("backup job failed")
		return
	}
	if rec.Status == backup.StatusPartial {
		b.logger.Warn().Object("record", rec).Msg("backup job finished with skipped files")
	}
}
