// Package executor runs external tools (restic, rclone) behind a small
// interface so strategies can be tested without the binaries installed.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Command struct {
	Name string
	Args []string
	Env  map[string]string // added to the current process environment
	Dir  string
}

func (c Command) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", c.Name)
	e.Strs("args", c.Args)
	if c.Dir != "" {
		e.Str("dir", c.Dir)
	}
	// Environment values often carry secrets.
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	e.Strs("env", keys)
}

type ExitStatus struct {
	Code   int
	Stdout []byte
	Stderr []byte
}

func (s ExitStatus) Success() bool {
	return s.Code == 0
}

// StderrLine is the last non-empty line of stderr, for error messages.
func (s ExitStatus) StderrLine() string {
	lines := strings.Split(strings.TrimSpace(string(s.Stderr)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

type Executor interface {
	// Execute runs cmd to completion. A non-zero exit is reported in ExitStatus
	// with a nil error; err is set only when the command could not run at all.
	Execute(ctx context.Context, cmd Command) (ExitStatus, error)
}

type OS struct {
	Logger zerolog.Logger
}

func (x OS) Execute(ctx context.Context, cmd Command) (ExitStatus, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = os.Environ()
		for k, v := range cmd.Env {
			c.Env = append(c.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	startTime := time.Now()
	x.Logger.Debug().Object("command", cmd).Msg("running command")
	err := c.Run()
	status := ExitStatus{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	defer func() {
		x.Logger.Debug().
			Str("name", cmd.Name).
			Int("code", status.Code).
			Float64("seconds", time.Since(startTime).Seconds()).
			Msg("command finished")
	}()

	if err != nil {
		if ctx.Err() != nil {
			return status, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
			return status, nil
		}
		status.Code = -1
		return status, err
	}
	return status, nil
}
