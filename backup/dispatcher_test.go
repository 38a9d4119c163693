package backup_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backup"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/lock"
	"github.com/stupid-simple/devbackup/strategy"
)

type fixture struct {
	store      *memStore
	dispatcher *backup.Dispatcher
	cfg        config.Config
	sourceDir  string
	destDir    string
	stateDir   string
}

// newFixture sets up a local backup of a source tree with a few files.
func newFixture(t *testing.T, opts ...backup.Option) *fixture {
	f := &fixture{
		store:     newMemStore(),
		sourceDir: t.TempDir(),
		destDir:   filepath.Join(t.TempDir(), "backups"),
		stateDir:  t.TempDir(),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(f.sourceDir, "notebooks"), 0755))
	writeFile(t, filepath.Join(f.sourceDir, "notebooks", "analysis.ipynb"), "cells")
	writeFile(t, filepath.Join(f.sourceDir, "data.csv"), "a,b\n1,2\n")
	writeFile(t, filepath.Join(f.sourceDir, "train.py"), "print('train')\n")

	f.cfg = config.Config{
		Method:         config.MethodLocal,
		SourcePaths:    []string{f.sourceDir},
		Destination:    f.destDir,
		RetentionCount: 0,
	}
	f.cfg.Normalize()

	opts = append([]backup.Option{backup.WithStateDir(f.stateDir)}, opts...)
	f.dispatcher = backup.NewDispatcher(f.store, zerolog.New(zerolog.NewTestWriter(t)), opts...)
	return f
}

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func listDir(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// steppingClock returns times one second apart.
func steppingClock() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRun_Local(t *testing.T) {
	f := newFixture(t)

	rec, err := f.dispatcher.Run(context.Background(), f.cfg)
	require.NoError(t, err)

	assert.Equal(t, backup.StatusSuccess, rec.Status)
	assert.Len(t, rec.Files, 3)
	assert.Empty(t, rec.Skipped)
	assert.Equal(t, []string{rec.Location}, listDir(t, f.destDir))

	_, err = time.Parse(backup.IDLayout, rec.ID)
	assert.NoError(t, err)

	stored, err := f.store.FindRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Location, stored.Location)

	runs, err := f.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, backup.StatusSuccess, runs[0].Status)
	assert.Equal(t, rec.ID, runs[0].RecordID)
	assert.NotEmpty(t, runs[0].ID)
}

func TestRun_RetentionKeepsMostRecent(t *testing.T) {
	f := newFixture(t, backup.WithClock(steppingClock()))
	f.cfg.RetentionCount = 2

	var ids []string
	for range 3 {
		rec, err := f.dispatcher.Run(context.Background(), f.cfg)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	records, err := f.store.ListRecords(context.Background(), backup.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ids[2], records[0].ID)
	assert.Equal(t, ids[1], records[1].ID)

	assert.ElementsMatch(t, []string{records[0].Location, records[1].Location}, listDir(t, f.destDir))
}

func TestRun_UniqueIDs(t *testing.T) {
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, backup.WithClock(func() time.Time { return frozen }))

	seen := map[string]bool{}
	for range 3 {
		rec, err := f.dispatcher.Run(context.Background(), f.cfg)
		require.NoError(t, err)
		assert.False(t, seen[rec.ID], "duplicate id %s", rec.ID)
		seen[rec.ID] = true
	}
	assert.Len(t, listDir(t, f.destDir), 3)
}

func TestRun_MissingSource(t *testing.T) {
	f := newFixture(t)
	f.cfg.SourcePaths = append(f.cfg.SourcePaths, filepath.Join(f.sourceDir, "missing"))

	_, err := f.dispatcher.Run(context.Background(), f.cfg)
	assert.ErrorIs(t, err, backuperr.ErrConfig)

	runs, err := f.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, backup.StatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestRun_Busy(t *testing.T) {
	f := newFixture(t)

	held, err := lock.Acquire(lock.PathFor(f.stateDir, f.cfg.Destination))
	require.NoError(t, err)
	defer held.Release()

	_, err = f.dispatcher.Run(context.Background(), f.cfg)
	assert.ErrorIs(t, err, backuperr.ErrBusy)
}

func TestRun_Partial(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	f := newFixture(t)
	locked := filepath.Join(f.sourceDir, "secret.key")
	writeFile(t, locked, "key")
	require.NoError(t, os.Chmod(locked, 0000))

	rec, err := f.dispatcher.Run(context.Background(), f.cfg)
	require.NoError(t, err)
	assert.Equal(t, backup.StatusPartial, rec.Status)
	require.Len(t, rec.Skipped, 1)
	assert.Equal(t, locked, rec.Skipped[0].Path)
	assert.Len(t, rec.Files, 3)
}

func TestRun_Excludes(t *testing.T) {
	f := newFixture(t)
	f.cfg.Excludes = []string{"*.csv"}

	rec, err := f.dispatcher.Run(context.Background(), f.cfg)
	require.NoError(t, err)
	assert.Len(t, rec.Files, 2)
}

func TestRun_NothingArchivable(t *testing.T) {
	f := newFixture(t)
	f.cfg.SourcePaths = []string{t.TempDir()}

	_, err := f.dispatcher.Run(context.Background(), f.cfg)
	assert.ErrorIs(t, err, strategy.ErrNothingToArchive)

	records, err := f.store.ListRecords(context.Background(), backup.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.dispatcher.Run(ctx, f.cfg)
	assert.Error(t, err)

	records, err := f.store.ListRecords(context.Background(), backup.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
	if _, statErr := os.Stat(f.destDir); statErr == nil {
		assert.Empty(t, listDir(t, f.destDir))
	}

	runs, err := f.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, backup.StatusFailed, runs[0].Status)
}

// fakeStrategy lets tests script archive results.
type fakeStrategy struct {
	archive func(ctx context.Context, snap strategy.Snapshot) (*strategy.Artifact, error)
	deleted []string
	failDel bool
}

func (s *fakeStrategy) Method() config.Method           { return config.MethodLocal }
func (s *fakeStrategy) Check(ctx context.Context) error { return nil }
func (s *fakeStrategy) Archive(ctx context.Context, snap strategy.Snapshot) (*strategy.Artifact, error) {
	return s.archive(ctx, snap)
}
func (s *fakeStrategy) Restore(ctx context.Context, art strategy.Artifact, stagingDir string) error {
	return errors.New("not implemented")
}
func (s *fakeStrategy) Verify(ctx context.Context, art strategy.Artifact) error { return nil }
func (s *fakeStrategy) Delete(ctx context.Context, art strategy.Artifact) error {
	if s.failDel {
		return fmt.Errorf("%w: remote unreachable", backuperr.ErrTransport)
	}
	s.deleted = append(s.deleted, art.Location)
	return nil
}
func (s *fakeStrategy) Close() error { return nil }

func withFake(s *fakeStrategy) backup.Option {
	return backup.WithStrategyFactory(func(ctx context.Context, cfg config.Config) (strategy.Strategy, error) {
		return s, nil
	})
}

func TestRun_DiskFull(t *testing.T) {
	s := &fakeStrategy{archive: func(ctx context.Context, snap strategy.Snapshot) (*strategy.Artifact, error) {
		for range snap.Assets {
		}
		return nil, fmt.Errorf("%w: could not write archive: %w", backuperr.ErrIO, syscall.ENOSPC)
	}}
	f := newFixture(t, withFake(s))

	_, err := f.dispatcher.Run(context.Background(), f.cfg)
	assert.ErrorIs(t, err, backuperr.ErrIO)
	assert.ErrorIs(t, err, syscall.ENOSPC)

	records, err := f.store.ListRecords(context.Background(), backup.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)

	runs, err := f.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, backup.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "no space left on device")
}

func TestRun_PartialFromStrategy(t *testing.T) {
	s := &fakeStrategy{archive: func(ctx context.Context, snap strategy.Snapshot) (*strategy.Artifact, error) {
		art := &strategy.Artifact{Location: snap.ID, Partial: true}
		for a := range snap.Assets {
			art.Entries = append(art.Entries, asset.EntryOf(a))
		}
		return art, nil
	}}
	f := newFixture(t, withFake(s))

	rec, err := f.dispatcher.Run(context.Background(), f.cfg)
	require.NoError(t, err)
	assert.Equal(t, backup.StatusPartial, rec.Status)
}

func TestRun_RetentionKeepsRecordWhenDeleteFails(t *testing.T) {
	s := &fakeStrategy{archive: func(ctx context.Context, snap strategy.Snapshot) (*strategy.Artifact, error) {
		art := &strategy.Artifact{Location: snap.ID}
		for a := range snap.Assets {
			art.Entries = append(art.Entries, asset.EntryOf(a))
		}
		return art, nil
	}}
	f := newFixture(t, withFake(s), backup.WithClock(steppingClock()))
	f.cfg.RetentionCount = 1

	_, err := f.dispatcher.Run(context.Background(), f.cfg)
	require.NoError(t, err)

	s.failDel = true
	_, err = f.dispatcher.Run(context.Background(), f.cfg)
	require.NoError(t, err, "retention failures do not fail the run")

	records, err := f.store.ListRecords(context.Background(), backup.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	s.failDel = false
	removed, err := f.dispatcher.Prune(context.Background(), f.cfg, true)
	require.NoError(t, err)
	assert.Len(t, removed, 1)
	assert.Empty(t, s.deleted, "dry run deletes nothing")

	removed, err = f.dispatcher.Prune(context.Background(), f.cfg, false)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, []string{removed[0].Location}, s.deleted)

	records, err = f.store.ListRecords(context.Background(), backup.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
