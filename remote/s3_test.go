package remote_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/remote"
)

// fakeS3 serves a single bucket with path-style addressing.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	denied  bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denied {
		w.WriteHeader(http.StatusForbidden)
		if r.Method != http.MethodHead {
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
		}
		return
	}

	bucketPath := "/" + f.bucket
	if !strings.HasPrefix(r.URL.Path, bucketPath) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, bucketPath), "/")
	if key == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3(t *testing.T) (*remote.S3, *fakeS3) {
	fake := &fakeS3{bucket: "devbox", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	target, err := remote.Parse("s3://devbox/backups")
	require.NoError(t, err)

	s, err := remote.NewS3(target,
		config.Credentials{AccessKeyID: "key", SecretAccessKey: "secret"},
		config.Remote{Endpoint: srv.URL, Region: "eu-west-1"},
		zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	return s, fake
}

func TestS3_Roundtrip(t *testing.T) {
	s, fake := newTestS3(t)
	ctx := context.Background()

	require.NoError(t, s.Check(ctx))

	local := filepath.Join(t.TempDir(), "a.tar.gz")
	content := []byte("compressed snapshot")
	require.NoError(t, os.WriteFile(local, content, 0600))

	require.NoError(t, s.Push(ctx, local, "a.tar.gz"))
	assert.Equal(t, content, fake.objects["backups/a.tar.gz"])

	obj, err := s.Stat(ctx, "a.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), obj.Size)

	var buf bytes.Buffer
	require.NoError(t, s.Pull(ctx, "a.tar.gz", &buf))
	assert.Equal(t, content, buf.Bytes())

	require.NoError(t, s.Delete(ctx, "a.tar.gz"))
	_, err = s.Stat(ctx, "a.tar.gz")
	assert.ErrorIs(t, err, backuperr.ErrNotFound)
}

func TestS3_Errors(t *testing.T) {
	s, fake := newTestS3(t)
	ctx := context.Background()

	var buf bytes.Buffer
	err := s.Pull(ctx, "missing.tar.gz", &buf)
	assert.ErrorIs(t, err, backuperr.ErrNotFound)

	fake.mu.Lock()
	fake.denied = true
	fake.mu.Unlock()

	err = s.Check(ctx)
	assert.ErrorIs(t, err, backuperr.ErrAuth)
}
