package database_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backup"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/database"
)

// Helper to set up an in-memory SQLite database
func setupTestDB(t *testing.T) *database.Database {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	require.NoError(t, err)

	err = gormDB.AutoMigrate(database.Models()...)
	require.NoError(t, err)

	return &database.Database{
		Lock:   sync.Mutex{},
		Cli:    gormDB,
		Logger: zerolog.New(zerolog.NewTestWriter(t)),
	}
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRecord(n int, method config.Method, dest string, files int) backup.Record {
	createdAt := baseTime.Add(time.Duration(n) * time.Hour)
	rec := backup.Record{
		ID:          createdAt.Format(backup.IDLayout),
		Method:      method,
		Destination: dest,
		Location:    fmt.Sprintf("archive-%d.tar.gz", n),
		SizeBytes:   int64(1000 * n),
		CreatedAt:   createdAt,
		Status:      backup.StatusSuccess,
	}
	for i := range files {
		rec.Files = append(rec.Files, asset.Entry{
			Path:    fmt.Sprintf("/data/file-%03d.csv", i),
			Size:    int64(i),
			Mode:    0640,
			ModTime: baseTime,
			Hash:    uint64(0xdeadbeef00000000) + uint64(i),
		})
	}
	return rec
}

func TestDatabase_SaveAndFindRecord(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// More files than one query batch.
	rec := newRecord(1, config.MethodLocal, "/backups", 120)
	rec.Status = backup.StatusPartial
	rec.Skipped = []asset.Skip{{Path: "/data/secret.key", Reason: "permission denied"}}
	require.NoError(t, db.SaveRecord(ctx, rec))

	found, err := db.FindRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, config.MethodLocal, found.Method)
	assert.Equal(t, "/backups", found.Destination)
	assert.Equal(t, rec.Location, found.Location)
	assert.Equal(t, rec.SizeBytes, found.SizeBytes)
	assert.Equal(t, backup.StatusPartial, found.Status)
	assert.True(t, rec.CreatedAt.Equal(found.CreatedAt))
	assert.Equal(t, rec.Skipped, found.Skipped)

	require.Len(t, found.Files, 120)
	for i, f := range found.Files {
		want := rec.Files[i]
		assert.Equal(t, want.Path, f.Path)
		assert.Equal(t, want.Size, f.Size)
		assert.Equal(t, want.Mode, f.Mode)
		assert.Equal(t, want.Hash, f.Hash, "hash survives the signed column")
		assert.True(t, want.ModTime.Equal(f.ModTime))
	}
}

func TestDatabase_SaveDuplicate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := newRecord(1, config.MethodLocal, "/backups", 2)
	require.NoError(t, db.SaveRecord(ctx, rec))
	assert.Error(t, db.SaveRecord(ctx, rec))

	found, err := db.FindRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, found.Files, 2)
}

func TestDatabase_FindRecordNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.FindRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, backuperr.ErrNotFound)

	_, err = db.FindRecord(context.Background(), "")
	assert.ErrorIs(t, err, backuperr.ErrNotFound)
}

func TestDatabase_ListRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveRecord(ctx, newRecord(1, config.MethodLocal, "/backups", 1)))
	require.NoError(t, db.SaveRecord(ctx, newRecord(2, config.MethodLocal, "/backups", 1)))
	require.NoError(t, db.SaveRecord(ctx, newRecord(3, config.MethodLocal, "/other", 1)))
	require.NoError(t, db.SaveRecord(ctx, newRecord(4, config.MethodRemote, "/backups", 1)))

	testCases := []struct {
		name   string
		filter backup.RecordFilter
		want   []int
	}{
		{name: "all", filter: backup.RecordFilter{}, want: []int{4, 3, 2, 1}},
		{name: "by method", filter: backup.RecordFilter{Method: config.MethodLocal}, want: []int{3, 2, 1}},
		{name: "by target", filter: backup.RecordFilter{Method: config.MethodLocal, Destination: "/backups"}, want: []int{2, 1}},
		{name: "limit", filter: backup.RecordFilter{Limit: 2}, want: []int{4, 3}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := db.ListRecords(ctx, tc.filter)
			require.NoError(t, err)

			var got []string
			for _, r := range records {
				got = append(got, r.ID)
				assert.Empty(t, r.Files)
			}
			var want []string
			for _, n := range tc.want {
				want = append(want, baseTime.Add(time.Duration(n)*time.Hour).Format(backup.IDLayout))
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestDatabase_DeleteRecord(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	keep := newRecord(1, config.MethodLocal, "/backups", 3)
	drop := newRecord(2, config.MethodLocal, "/backups", 3)
	drop.Skipped = []asset.Skip{{Path: "/data/x", Reason: "gone"}}
	require.NoError(t, db.SaveRecord(ctx, keep))
	require.NoError(t, db.SaveRecord(ctx, drop))

	require.NoError(t, db.DeleteRecord(ctx, drop.ID))

	_, err := db.FindRecord(ctx, drop.ID)
	assert.ErrorIs(t, err, backuperr.ErrNotFound)

	var files []database.RecordFile
	require.NoError(t, db.Cli.Find(&files).Error)
	assert.Len(t, files, 3)
	for _, f := range files {
		assert.Equal(t, keep.ID, f.RecordID)
	}

	var skips []database.RecordSkip
	require.NoError(t, db.Cli.Find(&skips).Error)
	assert.Empty(t, skips)
}

func TestDatabase_Runs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := range 3 {
		status := backup.StatusSuccess
		errMsg := ""
		if i == 1 {
			status = backup.StatusFailed
			errMsg = "io error: no space left on device"
		}
		require.NoError(t, db.AppendRun(ctx, backup.RunEntry{
			ID:          fmt.Sprintf("run-%d", i),
			Method:      config.MethodLocal,
			Destination: "/backups",
			Status:      status,
			Error:       errMsg,
			StartedAt:   baseTime.Add(time.Duration(i) * time.Minute),
			FinishedAt:  baseTime.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}

	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, backup.StatusFailed, runs[1].Status)
	assert.Equal(t, "io error: no space left on device", runs[1].Error)

	runs, err = db.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].ID)
}

func TestDatabase_ConcurrentAccess(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, db.SaveRecord(ctx, newRecord(i, config.MethodLocal, "/backups", 5)))
			_, err := db.ListRecords(ctx, backup.RecordFilter{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := db.ListRecords(ctx, backup.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 10)
}
