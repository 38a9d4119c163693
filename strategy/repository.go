package strategy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/executor"
)

const (
	defaultResticBinary = "restic"
	snapshotTag         = "devbackup"
)

// restic exit codes
const (
	resticIncomplete   = 3
	resticNoRepository = 10
	resticLocked       = 11
	resticWrongPass    = 12
)

// Repository stores snapshots in a deduplicating restic repository.
type Repository struct {
	exec      executor.Executor
	binary    string
	extraArgs []string
	env       map[string]string
	tmpDir    string
	logger    zerolog.Logger
}

func NewRepository(cfg config.Config, x executor.Executor, stateDir string, logger zerolog.Logger) (*Repository, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: repository backups need an executor", backuperr.ErrConfig)
	}
	extra, err := shellquote.Split(cfg.Repository.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid repository extra_args: %w", backuperr.ErrConfig, err)
	}
	binary := cfg.Repository.Binary
	if binary == "" {
		binary = defaultResticBinary
	}
	return &Repository{
		exec:      x,
		binary:    binary,
		extraArgs: extra,
		env:       resticEnv(cfg),
		tmpDir:    stateDir,
		logger:    logger.With().Str("repository", cfg.Destination).Logger(),
	}, nil
}

func resticEnv(cfg config.Config) map[string]string {
	env := map[string]string{"RESTIC_REPOSITORY": cfg.Destination}
	c := cfg.Credentials
	if c.PasswordFile != "" {
		env["RESTIC_PASSWORD_FILE"] = c.PasswordFile
	} else if c.Password != "" {
		env["RESTIC_PASSWORD"] = c.Password
	}
	if c.AccessKeyID != "" {
		env["AWS_ACCESS_KEY_ID"] = c.AccessKeyID
		env["AWS_SECRET_ACCESS_KEY"] = c.SecretAccessKey
	}
	if c.SessionToken != "" {
		env["AWS_SESSION_TOKEN"] = c.SessionToken
	}
	for k, v := range c.Env {
		env[k] = v
	}
	return env
}

func (r *Repository) Method() config.Method {
	return config.MethodRepository
}

func (r *Repository) run(ctx context.Context, args ...string) (executor.ExitStatus, error) {
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
		return status, fmt.Errorf("%w: could not run %s: %w", backuperr.ErrRepository, r.binary, err)
	}
	return status, nil
}

func resticError(op string, status executor.ExitStatus) error {
	line := status.StderrLine()
	switch {
	case status.Code == resticWrongPass || strings.Contains(line, "wrong password"):
		return fmt.Errorf("%w: restic %s: %s", backuperr.ErrAuth, op, line)
	case status.Code == resticLocked:
		return fmt.Errorf("%w: restic %s: %s", backuperr.ErrBusy, op, line)
	}
	return fmt.Errorf("%w: restic %s exited with code %d: %s", backuperr.ErrRepository, op, status.Code, line)
}

func repositoryMissing(status executor.ExitStatus) bool {
	return status.Code == resticNoRepository ||
		bytes.Contains(status.Stderr, []byte("Is there a repository at the following location?"))
}

// Check initializes the repository on first use.
func (r *Repository) Check(ctx context.Context) error {
	status, err := r.run(ctx, "cat", "config")
	if err != nil {
		return err
	}
	if status.Success() {
		return nil
	}
	if repositoryMissing(status) {
		r.logger.Info().Msg("initializing repository")
		status, err = r.run(ctx, "init")
		if err != nil {
			return err
		}
		if status.Success() {
			return nil
		}
	}

	err = resticError("check repository", status)
	if errors.Is(err, backuperr.ErrRepository) {
		return fmt.Errorf("%w: repository unreachable: %w", backuperr.ErrConfig, err)
	}
	return err
}

type resticMessage struct {
	MessageType string `json:"message_type"`
	SnapshotID  string `json:"snapshot_id"`
	DataAdded   int64  `json:"data_added"`
	FilesNew    int    `json:"files_new"`
	FilesTotal  int    `json:"total_files_processed"`
	Item        string `json:"item"`
	Error       struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Repository) Archive(ctx context.Context, snap Snapshot) (art *Artifact, err error) {
	if r.tmpDir != "" {
		if err := os.MkdirAll(r.tmpDir, 0700); err != nil {
			return nil, fmt.Errorf("%w: %w", backuperr.ErrIO, err)
		}
	}
	list, err := os.CreateTemp(r.tmpDir, "devbackup-files-*")
	if err != nil {
		return nil, fmt.Errorf("%w: could not create file list: %w", backuperr.ErrIO, err)
	}
	defer func() {
		if rmErr := os.Remove(list.Name()); rmErr != nil {
			r.logger.Warn().Err(rmErr).Msg("could not remove file list")
		}
	}()

	art = &Artifact{}
	w := bufio.NewWriter(list)
	for a := range snap.Assets {
		if ctx.Err() != nil {
			list.Close()
			return nil, ctx.Err()
		}
		w.WriteString(a.Path())
		w.WriteByte('\n')
		art.Entries = append(art.Entries, asset.EntryOf(a))
	}
	if err := errors.Join(w.Flush(), list.Close()); err != nil {
		return nil, fmt.Errorf("%w: could not write file list: %w", backuperr.ErrIO, err)
	}
	if len(art.Entries) == 0 {
		return art, ErrNothingToArchive
	}

	status, err := r.run(ctx, "backup", "--json",
		"--files-from-verbatim", list.Name(),
		"--tag", snapshotTag,
		"--tag", snapshotTag+"-id="+snap.ID)
	if err != nil {
		return nil, err
	}

	failed := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(status.Stdout))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg resticMessage
		if json.Unmarshal(scanner.Bytes(), &msg) != nil {
			continue
		}
		switch msg.MessageType {
		case "summary":
			art.Location = msg.SnapshotID
			art.Size = msg.DataAdded
			r.logger.Info().
				Str("snapshot", msg.SnapshotID).
				Int("files_new", msg.FilesNew).
				Int("files_total", msg.FilesTotal).
				Int64("data_added", msg.DataAdded).
				Msg("repository snapshot created")
		case "error":
			if msg.Item != "" {
				failed[msg.Item] = msg.Error.Message
			}
		}
	}

	switch {
	case status.Code == resticIncomplete:
		art.Partial = true
	case !status.Success():
		return nil, resticError("backup", status)
	}
	if art.Location == "" {
		return nil, fmt.Errorf("%w: restic backup did not report a snapshot id", backuperr.ErrRepository)
	}

	if len(failed) > 0 {
		kept := art.Entries[:0]
		for _, e := range art.Entries {
			if reason, ok := failed[e.Path]; ok {
				art.Skipped = append(art.Skipped, asset.Skip{Path: e.Path, Reason: reason})
				continue
			}
			kept = append(kept, e)
		}
		art.Entries = kept
	}
	return art, nil
}

func (r *Repository) Restore(ctx context.Context, art Artifact, stagingDir string) error {
	status, err := r.run(ctx, "restore", art.Location, "--target", stagingDir)
	if err != nil {
		return err
	}
	if !status.Success() {
		if bytes.Contains(status.Stderr, []byte("no matching ID")) {
			return fmt.Errorf("%w: snapshot %s is missing: %w", backuperr.ErrCorruption, art.Location, resticError("restore", status))
		}
		return resticError("restore", status)
	}
	return nil
}

// Verify runs a structural repository check and confirms the snapshot exists.
func (r *Repository) Verify(ctx context.Context, art Artifact) error {
	status, err := r.run(ctx, "check")
	if err != nil {
		return err
	}
	if !status.Success() {
		err := resticError("check", status)
		if errors.Is(err, backuperr.ErrRepository) {
			return fmt.Errorf("%w: %w", backuperr.ErrCorruption, err)
		}
		return err
	}

	status, err = r.run(ctx, "snapshots", "--json", art.Location)
	if err != nil {
		return err
	}
	var snapshots []json.RawMessage
	if !status.Success() || json.Unmarshal(status.Stdout, &snapshots) != nil || len(snapshots) == 0 {
		return fmt.Errorf("%w: snapshot %s is missing", backuperr.ErrCorruption, art.Location)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, art Artifact) error {
	status, err := r.run(ctx, "forget", art.Location, "--prune")
	if err != nil {
		return err
	}
	if !status.Success() {
		if bytes.Contains(status.Stderr, []byte("no matching ID")) {
			return nil
		}
		return resticError("forget", status)
	}
	return nil
}

func (r *Repository) Close() error {
	return nil
}
