package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/asset"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/strategy"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial" // some source files were skipped
	StatusFailed  Status = "failed"  // run entries only, never on a Record
)

// IDLayout formats backup identifiers from the UTC creation time.
const IDLayout = "20060102T150405.000Z"

// Record describes one stored backup. It is written once, at the end of a
// successful or partial run, and only removed by retention.
type Record struct {
	ID          string
	Method      config.Method
	Destination string
	Location    string // archive name, remote object name or repository snapshot id
	SizeBytes   int64
	CreatedAt   time.Time
	Status      Status
	Skipped     []asset.Skip
	Files       []asset.Entry
}

func (r Record) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", r.ID)
	e.Str("method", string(r.Method))
	e.Str("destination", r.Destination)
	e.Str("location", r.Location)
	e.Int64("size", r.SizeBytes)
	e.Str("status", string(r.Status))
	e.Int("files_count", len(r.Files))
	if len(r.Skipped) > 0 {
		e.Int("skipped", len(r.Skipped))
	}
}

func (r Record) artifact() strategy.Artifact {
	return strategy.Artifact{
		Location: r.Location,
		Size:     r.SizeBytes,
		Entries:  r.Files,
	}
}

// RunEntry is the audit log line for one run, including failed ones.
type RunEntry struct {
	ID          string
	RecordID    string // empty when the run failed
	Method      config.Method
	Destination string
	Status      Status
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
	SizeBytes   int64
}

type RecordFilter struct {
	Method      config.Method // empty for any
	Destination string        // empty for any
	Limit       int           // 0 for no limit
}

// Store persists records and run entries.
type Store interface {
	SaveRecord(ctx context.Context, rec Record) error
	// FindRecord returns the record with its file manifest, or an error
	// wrapping backuperr.ErrNotFound.
	FindRecord(ctx context.Context, id string) (*Record, error)
	// ListRecords returns records newest first, without their file manifests.
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	DeleteRecord(ctx context.Context, id string) error
	AppendRun(ctx context.Context, run RunEntry) error
	// ListRuns returns run entries newest first.
	ListRuns(ctx context.Context, limit int) ([]RunEntry, error)
}
