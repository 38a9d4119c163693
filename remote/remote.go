// Package remote moves finished backup artifacts to and from off-host storage.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/executor"
)

type Scheme string

const (
	SchemeS3     Scheme = "s3"
	SchemeSFTP   Scheme = "sftp"
	SchemeRclone Scheme = "rclone"
)

// Target is a parsed remote destination.
//
//	s3://bucket/prefix
//	sftp://user@host:22/path
//	rclone:remote:path
type Target struct {
	Scheme Scheme
	Bucket string // s3
	Host   string // sftp
	Port   int    // sftp
	User   string // sftp
	Remote string // rclone remote name
	Path   string // key prefix or directory, may be empty
}

func (t Target) String() string {
	switch t.Scheme {
	case SchemeS3:
		return fmt.Sprintf("s3://%s/%s", t.Bucket, t.Path)
	case SchemeSFTP:
		return fmt.Sprintf("sftp://%s@%s:%d%s", t.User, t.Host, t.Port, t.Path)
	case SchemeRclone:
		return fmt.Sprintf("rclone:%s:%s", t.Remote, t.Path)
	}
	return ""
}

func Parse(destination string) (Target, error) {
	if rest, ok := strings.CutPrefix(destination, "rclone:"); ok {
		name, p, found := strings.Cut(rest, ":")
		if !found || name == "" {
			return Target{}, fmt.Errorf("%w: rclone destination must look like rclone:remote:path, got %q", backuperr.ErrConfig, destination)
		}
		return Target{Scheme: SchemeRclone, Remote: name, Path: strings.Trim(p, "/")}, nil
	}

	u, err := url.Parse(destination)
	if err != nil {
		return Target{}, fmt.Errorf("%w: invalid remote destination: %w", backuperr.ErrConfig, err)
	}
	switch Scheme(u.Scheme) {
	case SchemeS3:
		if u.Host == "" {
			return Target{}, fmt.Errorf("%w: s3 destination has no bucket: %q", backuperr.ErrConfig, destination)
		}
		return Target{Scheme: SchemeS3, Bucket: u.Host, Path: strings.Trim(u.Path, "/")}, nil
	case SchemeSFTP:
		if u.Hostname() == "" {
			return Target{}, fmt.Errorf("%w: sftp destination has no host: %q", backuperr.ErrConfig, destination)
		}
		port := 22
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return Target{}, fmt.Errorf("%w: invalid sftp port: %w", backuperr.ErrConfig, err)
			}
		}
		p := u.Path
		if p == "" {
			p = "."
		}
		return Target{Scheme: SchemeSFTP, Host: u.Hostname(), Port: port, User: u.User.Username(), Path: p}, nil
	}
	return Target{}, fmt.Errorf("%w: unsupported remote destination %q", backuperr.ErrConfig, destination)
}

type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
}

func (o Object) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", o.Name)
	e.Int64("size", o.Size)
	e.Time("mod_time", o.ModTime)
}

// Transport stores whole files by name under the target's path.
// Errors carry backuperr.ErrTransport, ErrAuth or ErrNotFound.
type Transport interface {
	Name() string
	// Check verifies the destination is reachable with the configured credentials.
	Check(ctx context.Context) error
	Push(ctx context.Context, localPath string, name string) error
	Pull(ctx context.Context, name string, w io.Writer) error
	Stat(ctx context.Context, name string) (Object, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

type Options struct {
	Credentials config.Credentials
	Remote      config.Remote
	Executor    executor.Executor // rclone only
	// Downloads are staged here by transports that cannot stream, instead of
	// the system temp dir.
	TempDir string
	Logger  zerolog.Logger
}

// Open connects to the transport for target.
func Open(ctx context.Context, target Target, opts Options) (Transport, error) {
	logger := opts.Logger.With().Str("transport", string(target.Scheme)).Str("remote", target.String()).Logger()
	switch target.Scheme {
	case SchemeS3:
		return NewS3(target, opts.Credentials, opts.Remote, logger)
	case SchemeSFTP:
		return DialSFTP(ctx, target, opts.Credentials, opts.Remote, logger)
	case SchemeRclone:
		return NewRclone(target, opts.Executor, opts.Credentials, opts.Remote, logger, WithTempDir(opts.TempDir))
	}
	return nil, fmt.Errorf("%w: unsupported transport %q", backuperr.ErrConfig, target.Scheme)
}
