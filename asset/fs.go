package asset

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var ErrNotRegular = errors.New("not a regular file")

func NewFromFS(path string, info fs.FileInfo) (Asset, error) {
	mode := info.Mode()
	if !mode.IsRegular() {
		return nil, ErrNotRegular
	}

	asset := &fsAsset{
		path: path,
		info: info,
	}

	return asset, nil
}

type fsAsset struct {
	path string
	info fs.FileInfo
}

// Name implements Asset.
func (a *fsAsset) Name() string {
	return a.info.Name()
}

// Size implements Asset.
func (a *fsAsset) Size() int64 {
	return a.info.Size()
}

// Mode implements Asset.
func (a *fsAsset) Mode() fs.FileMode {
	return a.info.Mode()
}

// ModTime implements Asset.
func (a *fsAsset) ModTime() time.Time {
	return a.info.ModTime()
}

// MarshalZerologObject implements Asset.
func (a *fsAsset) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", a.path)
	e.Str("name", a.info.Name())
	e.Int64("size", a.info.Size())
}

// Path implements Asset.
func (a *fsAsset) Path() string {
	return a.path
}

// checkReadable opens and closes the file, so permission problems show up
// during the scan instead of halfway through writing an archive.
func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
