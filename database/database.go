// Package database stores backup records and the run log in SQL through gorm.
package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/backup"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
)

const iterateBatchSize = 50

type Database struct {
	Lock   sync.Mutex
	Cli    *gorm.DB
	Logger zerolog.Logger
}

var _ backup.Store = (*Database)(nil)

func (d *Database) SaveRecord(ctx context.Context, rec backup.Record) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	d.Logger.Debug().Object("record", rec).Msg("save record")

	files := make([]RecordFile, 0, len(rec.Files))
	for _, f := range rec.Files {
		files = append(files, RecordFile{
			RecordID: rec.ID,
			Path:     f.Path,
			Size:     f.Size,
			Mode:     uint32(f.Mode),
			Hash:     int64(f.Hash),
			ModTime:  f.ModTime,
		})
	}
	skips := make([]RecordSkip, 0, len(rec.Skipped))
	for _, s := range rec.Skipped {
		skips = append(skips, RecordSkip{RecordID: rec.ID, Path: s.Path, Reason: s.Reason})
	}

	return d.Cli.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&Record{
			ID:          rec.ID,
			Method:      string(rec.Method),
			Destination: rec.Destination,
			Location:    rec.Location,
			SizeBytes:   rec.SizeBytes,
			Status:      string(rec.Status),
			CreatedAt:   rec.CreatedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to create record: %w", err)
		}
		if len(files) > 0 {
			if err := tx.CreateInBatches(files, iterateBatchSize).Error; err != nil {
				return fmt.Errorf("failed to create record files: %w", err)
			}
		}
		if len(skips) > 0 {
			if err := tx.CreateInBatches(skips, iterateBatchSize).Error; err != nil {
				return fmt.Errorf("failed to create record skips: %w", err)
			}
		}
		return nil
	})
}

func (d *Database) FindRecord(ctx context.Context, id string) (*backup.Record, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	d.Logger.Debug().Str("id", id).Msg("find record")

	var r Record
	err := d.Cli.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no backup with id %s", backuperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	rec := toRecord(r)

	for offset := 0; ; offset += iterateBatchSize {
		var batch []RecordFile
		err := d.Cli.WithContext(ctx).
			Where("record_id = ?", id).
			Order("path").
			Limit(iterateBatchSize).
			Offset(offset).
			Find(&batch).Error
		if err != nil {
			return nil, err
		}
		for _, f := range batch {
			rec.Files = append(rec.Files, asset.Entry{
				Path:    f.Path,
				Size:    f.Size,
				Mode:    fs.FileMode(f.Mode),
				ModTime: f.ModTime,
				Hash:    uint64(f.Hash),
			})
		}
		if len(batch) < iterateBatchSize {
			break
		}
	}

	var skips []RecordSkip
	if err := d.Cli.WithContext(ctx).Where("record_id = ?", id).Order("path").Find(&skips).Error; err != nil {
		return nil, err
	}
	for _, s := range skips {
		rec.Skipped = append(rec.Skipped, asset.Skip{Path: s.Path, Reason: s.Reason})
	}
	return &rec, nil
}

func (d *Database) ListRecords(ctx context.Context, filter backup.RecordFilter) ([]backup.Record, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	query := d.Cli.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if filter.Method != "" {
		query = query.Where("method = ?", string(filter.Method))
	}
	if filter.Destination != "" {
		query = query.Where("destination = ?", filter.Destination)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []Record
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]backup.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, toRecord(r))
	}
	return out, nil
}

func (d *Database) DeleteRecord(ctx context.Context, id string) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	d.Logger.Info().Str("id", id).Msg("deleting record")

	return d.Cli.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Children first.
		if err := tx.Where("record_id = ?", id).Delete(&RecordFile{}).Error; err != nil {
			return fmt.Errorf("failed to delete record files: %w", err)
		}
		if err := tx.Where("record_id = ?", id).Delete(&RecordSkip{}).Error; err != nil {
			return fmt.Errorf("failed to delete record skips: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&Record{}).Error; err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		return nil
	})
}

func (d *Database) AppendRun(ctx context.Context, run backup.RunEntry) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	return d.Cli.WithContext(ctx).Create(&RunLog{
		ID:          run.ID,
		RecordID:    run.RecordID,
		Method:      string(run.Method),
		Destination: run.Destination,
		Status:      string(run.Status),
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		SizeBytes:   run.SizeBytes,
	}).Error
}

func (d *Database) ListRuns(ctx context.Context, limit int) ([]backup.RunEntry, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	query := d.Cli.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []RunLog
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]backup.RunEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, backup.RunEntry{
			ID:          r.ID,
			RecordID:    r.RecordID,
			Method:      config.Method(r.Method),
			Destination: r.Destination,
			Status:      backup.Status(r.Status),
			Error:       r.Error,
			StartedAt:   r.StartedAt,
			FinishedAt:  r.FinishedAt,
			SizeBytes:   r.SizeBytes,
		})
	}
	return out, nil
}

func toRecord(r Record) backup.Record {
	return backup.Record{
		ID:          r.ID,
		Method:      config.Method(r.Method),
		Destination: r.Destination,
		Location:    r.Location,
		SizeBytes:   r.SizeBytes,
		CreatedAt:   r.CreatedAt,
		Status:      backup.Status(r.Status),
	}
}
