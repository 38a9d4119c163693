package asset

import (
	"io/fs"
	"time"

	"github.com/rs/zerolog"
)

type Asset interface {
	zerolog.LogObjectMarshaler
	Path() string // absolute path on the host
	Name() string // base name of the file
	Size() int64  // length in bytes for regular files
	Mode() fs.FileMode
	ModTime() time.Time
}

// Entry describes one file stored in a backup.
// Hash is zero when the storing strategy does not compute content hashes.
type Entry struct {
	Path    string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	Hash    uint64
}

func (e Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("path", e.Path)
	ev.Int64("size", e.Size)
	if e.Hash != 0 {
		ev.Uint64("hash", e.Hash)
	}
}

// Skip is a path left out of a backup and why.
type Skip struct {
	Path   string
	Reason string
}

func (s Skip) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", s.Path)
	e.Str("reason", s.Reason)
}

// EntryOf converts a scanned asset into a manifest entry without a hash.
func EntryOf(a Asset) Entry {
	return Entry{
		Path:    a.Path(),
		Size:    a.Size(),
		Mode:    a.Mode(),
		ModTime: a.ModTime(),
	}
}
