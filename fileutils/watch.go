package fileutils

import (
	"context"
	"time"
)

// WatchFile polls the content hash of path on every tick and emits when it changes.
// A file that temporarily cannot be read is reported through onErr and does not
// count as a change. The returned channel is closed when ctx is done.
func WatchFile(ctx context.Context, path string, ticks <-chan time.Time, onErr func(err error)) (<-chan struct{}, error) {
	ch := make(chan struct{})

	lastHash, err := ComputeFileHash(path)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				newHash, err := ComputeFileHash(path)
				if err != nil {
					onErr(err)
					continue
				}
				if lastHash == newHash {
					continue
				}
				lastHash = newHash
				select {
				case ch <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
