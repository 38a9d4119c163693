package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backup"
)

func listCommand(ctx context.Context, args Command, logger zerolog.Logger, out io.Writer) error {
	db, err := openDatabase(args.Database, logger)
	if err != nil {
		return err
	}
	switch {
	case args.List.Files != "":
		return listFiles(ctx, db, args.List.Files, out)
	case args.List.Runs:
		return listRuns(ctx, db, args.List.Limit, out)
	default:
		return listRecords(ctx, db, args.List.Limit, out)
	}
}

func listRecords(ctx context.Context, store backup.Store, limit int, out io.Writer) error {
	records, err := store.ListRecords(ctx, backup.RecordFilter{Limit: limit})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tMETHOD\tDESTINATION\tSIZE\tLOCATION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Method, r.Destination, units.HumanSize(float64(r.SizeBytes)), r.Location)
	}
	return w.Flush()
}

func listRuns(ctx context.Context, store backup.Store, limit int, out io.Writer) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tTOOK\tBACKUP\tDESTINATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Format(time.RFC3339), r.Status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.RecordID, r.Destination, r.Error)
	}
	return w.Flush()
}

func listFiles(ctx context.Context, store backup.Store, id string, out io.Writer) error {
	rec, err := store.FindRecord(ctx, id)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tMODIFIED")
	for _, f := range rec.Files {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Path, units.HumanSize(float64(f.Size)), f.ModTime.Format(time.RFC3339))
	}
	for _, s := range rec.Skipped {
		fmt.Fprintf(w, "%s\tskipped\t%s\n", s.Path, s.Reason)
	}
	return w.Flush()
}
