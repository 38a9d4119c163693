package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/archiver"
	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/fileutils"
)

type RestoreRequest struct {
	ID          string
	TargetPaths []string // files or directories to restore, all files when empty
	Force       bool     // overwrite files that differ from the backup
	Into        string   // restore under this root instead of the original paths
	DryRun      bool
}

func (r RestoreRequest) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", r.ID)
	if len(r.TargetPaths) > 0 {
		e.Strs("target_paths", r.TargetPaths)
	}
	e.Bool("force", r.Force)
	if r.Into != "" {
		e.Str("into", r.Into)
	}
	e.Bool("dry_run", r.DryRun)
}

type Conflict struct {
	Path   string
	Reason string
}

type RestoreOutcome struct {
	Applied   []string // written from the backup
	Unchanged []string // already identical to the backup
	Conflicts []Conflict
}

// Complete reports whether every selected file now matches the backup.
func (o RestoreOutcome) Complete() bool {
	return len(o.Conflicts) == 0
}

// Restore brings back the files of one backup. Every staged file is checked
// against the recorded manifest before any target is touched. A target that
// already holds the backed up content is left alone; one that differs is a
// conflict unless req.Force is set.
func (d *Dispatcher) Restore(ctx context.Context, cfg config.Config, req RestoreRequest) (out *RestoreOutcome, err error) {
	logger := d.logger.With().Str("id", req.ID).Logger()
	startTime := time.Now()
	logger.Info().Object("request", req).Msg("starting restore")
	defer func() {
		tookSeconds := time.Since(startTime).Seconds()
		switch {
		case ctx.Err() != nil:
			logger.Info().Float64("seconds", tookSeconds).Msg("restore cancelled")
		case err != nil:
			logger.Error().Err(err).Float64("seconds", tookSeconds).Msg("restore aborted")
		default:
			logger.Info().
				Int("applied", len(out.Applied)).
				Int("unchanged", len(out.Unchanged)).
				Int("conflicts", len(out.Conflicts)).
				Float64("seconds", tookSeconds).
				Msg("restore done")
		}
	}()

	rec, err := d.store.FindRecord(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	selected, err := selectEntries(rec.Files, req.TargetPaths)
	if err != nil {
		return nil, err
	}

	rcfg := cfg
	rcfg.Method = rec.Method
	rcfg.Destination = rec.Destination

	sess, err := d.open(ctx, rcfg, logger)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	stateDir := d.stateDir(rcfg)
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}
	staging, err := os.MkdirTemp(stateDir, "restore-*")
	if err != nil {
		return nil, fmt.Errorf("%w: could not create staging directory: %w", backuperr.ErrIO, err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warn().Err(err).Str("dir", staging).Msg("could not remove staging directory")
		}
	}()

	if err := sess.strategy.Restore(ctx, rec.artifact(), staging); err != nil {
		return nil, err
	}
	if err := checkStaged(staging, selected); err != nil {
		return nil, err
	}

	out = &RestoreOutcome{}
	for _, e := range selected {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		target := e.Path
		if req.Into != "" {
			target = filepath.Join(req.Into, e.Path)
		}
		staged := archiver.StagedPath(staging, e.Path)

		replace, conflict, err := classifyTarget(staged, target, req.Force)
		if err != nil {
			return out, fmt.Errorf("%w: could not inspect %s: %w", backuperr.ErrIO, target, err)
		}
		if conflict != "" {
			logger.Warn().Str("path", target).Str("reason", conflict).Msg("restore conflict")
			out.Conflicts = append(out.Conflicts, Conflict{Path: target, Reason: conflict})
			continue
		}
		if replace == replaceNone {
			logger.Debug().Str("path", target).Msg("already up to date")
			out.Unchanged = append(out.Unchanged, target)
			continue
		}

		if req.DryRun {
			logger.Info().Str("path", target).Msg("would restore file")
		} else {
			if err := restoreFile(staged, target, e, replace == replaceExisting); err != nil {
				return out, fmt.Errorf("%w: could not restore %s: %w", backuperr.ErrIO, target, err)
			}
			logger.Debug().Str("path", target).Msg("restored file")
		}
		out.Applied = append(out.Applied, target)
	}
	return out, nil
}

// selectEntries keeps the entries at or below any of the target paths.
func selectEntries(files []asset.Entry, targets []string) ([]asset.Entry, error) {
	if len(targets) == 0 {
		return files, nil
	}
	cleaned := make([]string, 0, len(targets))
	for _, t := range targets {
		abs, err := filepath.Abs(t)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid restore path %s: %w", backuperr.ErrConfig, t, err)
		}
		cleaned = append(cleaned, abs)
	}

	var selected []asset.Entry
	for _, f := range files {
		if slices.ContainsFunc(cleaned, func(t string) bool {
			return f.Path == t || strings.HasPrefix(f.Path, strings.TrimSuffix(t, "/")+"/")
		}) {
			selected = append(selected, f)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no files in this backup under %s", backuperr.ErrNotFound, strings.Join(targets, ", "))
	}
	return selected, nil
}

// checkStaged compares staged files with the manifest.
func checkStaged(staging string, entries []asset.Entry) error {
	var errs []error
	for _, e := range entries {
		staged := archiver.StagedPath(staging, e.Path)
		info, err := os.Stat(staged)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s is missing from the backup", e.Path))
			continue
		}
		// Without a recorded hash the manifest comes from the scan, not from
		// what the backing tool stored, so only presence can be checked.
		if e.Hash == 0 {
			continue
		}
		if info.Size() != e.Size {
			errs = append(errs, fmt.Errorf("%s has %d bytes, recorded %d", e.Path, info.Size(), e.Size))
			continue
		}
		h, err := fileutils.ComputeFileHash(staged)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s could not be read: %w", e.Path, err))
			continue
		}
		if h != e.Hash {
			errs = append(errs, fmt.Errorf("%s does not match the recorded content", e.Path))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", backuperr.ErrCorruption, errors.Join(errs...))
	}
	return nil
}

type replaceMode int

const (
	replaceNone replaceMode = iota
	replaceAbsent
	replaceExisting
)

func classifyTarget(staged, target string, force bool) (replaceMode, string, error) {
	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return replaceAbsent, "", nil
	}
	if err != nil {
		return replaceNone, "", err
	}
	if !info.Mode().IsRegular() {
		return replaceNone, "target exists and is not a regular file", nil
	}

	same, err := fileutils.SameContent(staged, target)
	if err != nil {
		return replaceNone, "", err
	}
	if same {
		return replaceNone, "", nil
	}
	if !force {
		return replaceNone, "local file differs from the backup", nil
	}
	return replaceExisting, "", nil
}

func restoreFile(staged, target string, e asset.Entry, replace bool) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	create := fileutils.CreatePending
	if replace {
		create = fileutils.CreateReplacing
	}
	pf, err := create(target, e.Mode.Perm())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, pf.Discard())
	}()

	src, err := os.Open(staged)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := io.Copy(pf, src); err != nil {
		return err
	}
	if err := pf.Commit(); err != nil {
		return err
	}
	return os.Chtimes(target, time.Now(), e.ModTime)
}
