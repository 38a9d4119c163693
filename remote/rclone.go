package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/executor"
	"github.com/stupid-simple/devbackup/fileutils"
)

const defaultRcloneBinary = "rclone"

// Rclone exit codes that mean the object or its directory is missing.
const (
	rcloneDirNotFound  = 3
	rcloneFileNotFound = 4
)

// Rclone shells out to rclone for any of its supported backends.
type Rclone struct {
	exec      executor.Executor
	binary    string
	extraArgs []string
	env       map[string]string
	remote    string
	prefix    string
	tempDir   string
	logger    zerolog.Logger
}

type RcloneOption func(*Rclone)

// WithTempDir sets where Pull stages downloads. Empty means the system temp dir.
func WithTempDir(dir string) RcloneOption {
	return func(r *Rclone) {
		r.tempDir = dir
	}
}

func NewRclone(target Target, x executor.Executor, creds config.Credentials, opts config.Remote, logger zerolog.Logger, options ...RcloneOption) (*Rclone, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: rclone transport needs an executor", backuperr.ErrConfig)
	}
	extra, err := shellquote.Split(opts.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid remote extra_args: %w", backuperr.ErrConfig, err)
	}
	binary := opts.Binary
	if binary == "" {
		binary = defaultRcloneBinary
	}
	r := &Rclone{
		exec:      x,
		binary:    binary,
		extraArgs: extra,
		env:       creds.Env,
		remote:    target.Remote,
		prefix:    target.Path,
		logger:    logger,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

func (r *Rclone) Name() string {
	return string(SchemeRclone)
}

func (r *Rclone) ref(name string) string {
	return fmt.Sprintf("%s:%s", r.remote, path.Join(r.prefix, name))
}

func (r *Rclone) run(ctx context.Context, op string, args ...string) (executor.ExitStatus, error) {
	cmd := executor.Command{
		Name: r.binary,
		Args: append(args, r.extraArgs...),
		Env:  r.env,
	}
	status, err := r.exec.Execute(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return status, ctx.Err()
		}
		return status, fmt.Errorf("%w: could not run rclone %s: %w", backuperr.ErrTransport, op, err)
	}
	if !status.Success() {
		return status, rcloneError(op, status)
	}
	return status, nil
}

func rcloneError(op string, status executor.ExitStatus) error {
	switch status.Code {
	case rcloneDirNotFound, rcloneFileNotFound:
		return fmt.Errorf("%w: rclone %s exited with code %d: %s", backuperr.ErrNotFound, op, status.Code, status.StderrLine())
	}
	return fmt.Errorf("%w: rclone %s exited with code %d: %s", backuperr.ErrTransport, op, status.Code, status.StderrLine())
}

func (r *Rclone) Check(ctx context.Context) error {
	_, err := r.run(ctx, "mkdir", "mkdir", r.ref(""))
	return err
}

func (r *Rclone) Push(ctx context.Context, localPath string, name string) error {
	r.logger.Info().Str("ref", r.ref(name)).Msg("uploading file")
	_, err := r.run(ctx, "copyto", "copyto", localPath, r.ref(name))
	return err
}

// Pull has rclone download into a fresh scratch directory and reads the result
// by name once rclone exits, since rclone replaces the target file on completion.
func (r *Rclone) Pull(ctx context.Context, name string, w io.Writer) (err error) {
	if r.tempDir != "" {
		if err := os.MkdirAll(r.tempDir, 0750); err != nil {
			return fmt.Errorf("%w: %w", backuperr.ErrIO, err)
		}
	}
	dir, err := fileutils.MkdirPendingTemp(r.tempDir, "rclone")
	if err != nil {
		return fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}
	defer func() {
		err = errors.Join(err, os.RemoveAll(dir))
	}()

	dst := filepath.Join(dir, path.Base(name))
	if _, err := r.run(ctx, "copyto", "copyto", r.ref(name), dst); err != nil {
		return err
	}
	f, err := os.Open(dst)
	if err != nil {
		return fmt.Errorf("%w: rclone reported success but left no file: %w", backuperr.ErrTransport, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}
	return nil
}

type rcloneListing struct {
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

func (r *Rclone) Stat(ctx context.Context, name string) (Object, error) {
	status, err := r.run(ctx, "lsjson", "lsjson", "--stat", r.ref(name))
	if err != nil {
		return Object{}, err
	}
	var l rcloneListing
	if err := json.Unmarshal(status.Stdout, &l); err != nil {
		return Object{}, fmt.Errorf("%w: could not parse rclone lsjson output: %w", backuperr.ErrTransport, err)
	}
	if l.IsDir {
		return Object{}, fmt.Errorf("%w: %s is a directory", backuperr.ErrNotFound, r.ref(name))
	}
	return Object{Name: name, Size: l.Size, ModTime: l.ModTime}, nil
}

func (r *Rclone) Delete(ctx context.Context, name string) error {
	_, err := r.run(ctx, "deletefile", "deletefile", r.ref(name))
	return err
}

func (r *Rclone) Close() error {
	return nil
}
