package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var version = "dev"

func newLogger(logFile string) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, NoColor: false, TimeFormat: time.RFC3339}
	consoleWriter.TimeFormat = "[" + time.RFC3339 + "]"
	consoleWriter.PartsOrder = []string{
		zerolog.TimestampFieldName,
		zerolog.LevelFieldName,
		zerolog.CallerFieldName,
		zerolog.MessageFieldName,
	}

	var out io.Writer = consoleWriter
	if logFile != "" {
		out = zerolog.MultiLevelWriter(consoleWriter, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	logger := zerolog.New(out).
		With().Timestamp().Logger()

	level := zerolog.InfoLevel
	envLevel, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		parsed, err := zerolog.ParseLevel(envLevel)
		if err != nil {
			logger.Warn().Err(err).Msg("could not parse environment variable LOG_LEVEL")
			return logger
		}
		level = parsed
	}

	return logger.Level(level)
}

func main() {
	args := Command{}
	cli := kong.Parse(&args,
		kong.Name("devbackup"),
		kong.Description("Scheduled backups of development data directories."),
		kong.UsageOnError(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignals(cancel)

	logger := newLogger(args.LogFile)

	var err error
	command := strings.Fields(cli.Command())[0]
	switch command {
	case "version":
		fmt.Println(version)
		return
	case "run":
		err = runCommand(ctx, args, logger)
	case "restore":
		err = restoreCommand(ctx, args, logger)
	case "list":
		err = listCommand(ctx, args, logger, os.Stdout)
	case "verify":
		err = verifyCommand(ctx, args, logger)
	case "prune":
		err = pruneCommand(ctx, args, logger)
	case "daemon":
		err = daemonCommand(ctx, args, logger)
	default:
		panic(cli.Command())
	}
	if err != nil {
		logger.Error().Err(err).Msg(command + " error")
	}
	cli.Exit(exitCode(err))
}

func setupSignals(onSignal func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		onSignal()
	}()
}
