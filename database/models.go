package database

import (
	"time"
)

type Record struct {
	ID          string `gorm:"primaryKey"`
	Method      string `gorm:"index:idx_record_target"`
	Destination string `gorm:"index:idx_record_target"`
	Location    string
	SizeBytes   int64
	Status      string
	CreatedAt   time.Time `gorm:"index"`
}

type RecordFile struct {
	RecordID string `gorm:"primaryKey"`
	Path     string `gorm:"primaryKey"`
	Size     int64
	Mode     uint32
	Hash     int64
	ModTime  time.Time
}

type RecordSkip struct {
	RecordID string `gorm:"primaryKey"`
	Path     string `gorm:"primaryKey"`
	Reason   string
}

type RunLog struct {
	ID          string `gorm:"primaryKey"`
	RecordID    string
	Method      string
	Destination string
	Status      string
	Error       string
	StartedAt   time.Time `gorm:"index"`
	FinishedAt  time.Time
	SizeBytes   int64
}

// Models lists every table for migrations.
func Models() []any {
	return []any{&Record{}, &RecordFile{}, &RecordSkip{}, &RunLog{}}
}
