package fileutils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const pendingMarker = ".tmp-"

// PendingFile is written under a hidden temporary name next to its final path
// and only appears under the final name once Commit succeeds.
//
//	pf, err := CreatePending(path, 0600)
//	if err != nil { ... }
//	defer pf.Discard()
//	... write ...
//	return pf.Commit()
type PendingFile struct {
	*os.File
	final   string
	replace bool
	closed  bool
	done    bool
}

// CreatePending opens a temporary file in the directory of finalPath.
// It fails if something already exists at finalPath.
func CreatePending(finalPath string, perm fs.FileMode) (*PendingFile, error) {
	if Exists(finalPath) {
		return nil, fmt.Errorf("file or directory already exists with this name: %s", finalPath)
	}
	return createPending(finalPath, perm)
}

// CreateReplacing is like CreatePending but Commit atomically replaces a
// regular file already at finalPath.
func CreateReplacing(finalPath string, perm fs.FileMode) (*PendingFile, error) {
	pf, err := createPending(finalPath, perm)
	if err != nil {
		return nil, err
	}
	pf.replace = true
	return pf, nil
}

func createPending(finalPath string, perm fs.FileMode) (*PendingFile, error) {
	dir, base := filepath.Split(finalPath)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+pendingMarker+"*")
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(perm); err != nil {
		return nil, errors.Join(err, f.Close(), os.Remove(f.Name()))
	}

	return &PendingFile{File: f, final: finalPath}, nil
}

// Commit flushes the file to disk and renames it to its final path.
func (p *PendingFile) Commit() error {
	if p.done {
		return errors.New("pending file already committed or discarded")
	}
	if err := p.File.Sync(); err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}
	if !p.replace && Exists(p.final) {
		return fmt.Errorf("file or directory already exists with this name: %s", p.final)
	}
	if err := os.Rename(p.File.Name(), p.final); err != nil {
		return err
	}
	p.done = true
	return nil
}

// Discard closes and removes the temporary file. It is a no-op after Commit.
func (p *PendingFile) Discard() error {
	if p.done {
		return nil
	}
	p.done = true
	closeErr := p.close()
	if err := os.Remove(p.File.Name()); err != nil && !os.IsNotExist(err) {
		return errors.Join(closeErr, err)
	}
	return nil
}

func (p *PendingFile) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.File.Close()
}

// CreatePendingTemp creates a scratch file in dir that SweepPending recognizes.
// The caller removes it when done.
func CreatePendingTemp(dir, base string) (*os.File, error) {
	return os.CreateTemp(dir, "."+base+pendingMarker+"*")
}

// MkdirPendingTemp creates a scratch directory in dir that SweepPending recognizes.
// The caller removes it when done.
func MkdirPendingTemp(dir, base string) (string, error) {
	return os.MkdirTemp(dir, "."+base+pendingMarker+"*")
}

// SweepPending removes temporary files and scratch directories left in dir by a
// process that died before committing or discarding them. It returns the removed paths.
func SweepPending(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		if !IsPending(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

// IsPending reports whether name looks like a PendingFile temporary name.
func IsPending(name string) bool {
	name = filepath.Base(name)
	return strings.HasPrefix(name, ".") && strings.Contains(name, pendingMarker)
}
