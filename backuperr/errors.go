// Package backuperr holds the error classes surfaced by backup, restore and verify.
//
// Errors are wrapped with both the class and the cause, e.g.
//
//	fmt.Errorf("%w: could not write archive: %w", backuperr.ErrIO, err)
//
// so callers can use errors.Is with either.
package backuperr

import "errors"

var (
	// Invalid or missing configuration, unreachable destination. Not retried.
	ErrConfig = errors.New("config error")
	// Local storage failure (disk full, unwritable). Not retried.
	ErrIO = errors.New("io error")
	// Credentials rejected by a repository or transport.
	ErrAuth = errors.New("auth error")
	// Repository tool failure.
	ErrRepository = errors.New("repository error")
	// Backup data does not match what was recorded, or cannot be read.
	ErrCorruption = errors.New("corruption error")
	// Backup identifier or remote object does not exist.
	ErrNotFound = errors.New("not found")
	// Remote transfer failed.
	ErrTransport = errors.New("transport error")
	// Another run holds the destination lock.
	ErrBusy = errors.New("destination busy")
)

// Ordered by precedence when an error chain carries more than one class.
var classes = []error{
	ErrBusy,
	ErrConfig,
	ErrAuth,
	ErrNotFound,
	ErrCorruption,
	ErrRepository,
	ErrTransport,
	ErrIO,
}

// Class returns the error class err belongs to, or nil if it has none.
func Class(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range classes {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}
