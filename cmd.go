package main

type Command struct {
	Config   string `help:"config file path" short:"c" env:"DEVBACKUP_CONFIG" type:"path"`
	Database string `help:"database path" short:"d" env:"DEVBACKUP_DATABASE" required:"" type:"path"`
	LogFile  string `help:"also write JSON logs to this file, rotated by size" type:"path"`

	Version struct{} `cmd:"" help:"Print version information."`
	Run     struct{} `cmd:"" help:"Run one backup of the configured source paths."`
	Restore struct {
		ID     string   `arg:"" help:"backup id"`
		Paths  []string `arg:"" optional:"" help:"files or directories to restore, all when omitted"`
		Force  bool     `help:"overwrite local files that differ from the backup"`
		Into   string   `help:"restore under this directory instead of the original paths" type:"path"`
		DryRun bool     `help:"don't write any files, just print the output"`
	} `cmd:"" help:"Restore files from a backup."`
	List struct {
		Runs  bool   `help:"list the run log instead of backups"`
		Files string `help:"list the files stored in this backup" placeholder:"ID"`
		Limit int    `help:"maximum number of entries, 0 for all" default:"0"`
	} `cmd:"" help:"List backups, runs or backed up files."`
	Verify struct {
		ID string `arg:"" help:"backup id"`
	} `cmd:"" help:"Check that the stored data of a backup is intact."`
	Prune struct {
		DryRun bool `help:"don't delete anything, just print what would be removed"`
	} `cmd:"" help:"Apply the retention count to the configured destination."`
	Daemon struct {
		Listen string `help:"serve the status API on this address, e.g. 127.0.0.1:8765"`
	} `cmd:"" help:"Run scheduled backups as a service."`
}
