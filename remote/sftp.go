package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
)

const sftpDialTimeout = 30 * time.Second

// SFTP stores files in a directory on an SSH server.
type SFTP struct {
	ssh    *ssh.Client
	client *sftp.Client
	dir    string
	logger zerolog.Logger
}

func DialSFTP(ctx context.Context, target Target, creds config.Credentials, opts config.Remote, logger zerolog.Logger) (*SFTP, error) {
	knownHostsPath := opts.KnownHostsFile
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: no known_hosts_file configured: %w", backuperr.ErrConfig, err)
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	hostKeyCallback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: could not load known hosts: %w", backuperr.ErrConfig, err)
	}

	auth, err := sshAuth(creds)
	if err != nil {
		return nil, err
	}

	user := target.User
	if user == "" {
		user = creds.Username
	}
	sshConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         sftpDialTimeout,
	}

	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	logger.Debug().Str("addr", addr).Str("user", user).Msg("connecting to ssh server")

	d := net.Dialer{Timeout: sftpDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: could not connect to %s: %w", backuperr.ErrTransport, addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, sshError(err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("%w: could not start sftp session: %w", backuperr.ErrTransport, err)
	}

	t := newSFTP(client, target.Path, logger)
	t.ssh = sshClient
	return t, nil
}

func newSFTP(client *sftp.Client, dir string, logger zerolog.Logger) *SFTP {
	return &SFTP{client: client, dir: dir, logger: logger}
}

func sshAuth(creds config.Credentials) ([]ssh.AuthMethod, error) {
	if creds.PrivateKeyFile != "" {
		keyData, err := os.ReadFile(creds.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: could not read ssh key: %w", backuperr.ErrConfig, err)
		}
		var signer ssh.Signer
		if creds.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(creds.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: could not parse ssh key: %w", backuperr.ErrConfig, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if creds.Password != "" {
		return []ssh.AuthMethod{ssh.Password(creds.Password)}, nil
	}
	return nil, fmt.Errorf("%w: sftp destination needs a private_key_file or password", backuperr.ErrConfig)
}

func sshError(err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) || strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: ssh handshake: %w", backuperr.ErrAuth, err)
	}
	return fmt.Errorf("%w: ssh handshake: %w", backuperr.ErrTransport, err)
}

func sftpError(op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: sftp %s: %w", backuperr.ErrNotFound, op, err)
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: sftp %s: %w", backuperr.ErrAuth, op, err)
	}
	return fmt.Errorf("%w: sftp %s: %w", backuperr.ErrTransport, op, err)
}

func (s *SFTP) Name() string {
	return string(SchemeSFTP)
}

func (s *SFTP) path(name string) string {
	return path.Join(s.dir, name)
}

func (s *SFTP) Check(ctx context.Context) error {
	if err := s.client.MkdirAll(s.dir); err != nil {
		return sftpError("create directory", err)
	}
	return nil
}

// Push uploads to a hidden partial name and renames it once complete.
func (s *SFTP) Push(ctx context.Context, localPath string, name string) (err error) {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}
	defer func() {
		err = errors.Join(err, src.Close())
	}()

	if err := s.client.MkdirAll(s.dir); err != nil {
		return sftpError("create directory", err)
	}

	partial := s.path("." + name + ".part")
	dst, err := s.client.Create(partial)
	if err != nil {
		return sftpError("create", err)
	}
	s.logger.Info().Str("path", s.path(name)).Msg("uploading file")

	written, err := copyContext(ctx, dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := s.client.Remove(partial); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("path", partial).Msg("could not remove partial upload")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return sftpError("upload", err)
	}

	if err := s.client.Rename(partial, s.path(name)); err != nil {
		return sftpError("rename", err)
	}
	s.logger.Debug().Int64("bytes", written).Str("path", s.path(name)).Msg("upload complete")
	return nil
}

func (s *SFTP) Pull(ctx context.Context, name string, w io.Writer) error {
	f, err := s.client.Open(s.path(name))
	if err != nil {
		return sftpError("open", err)
	}
	defer f.Close()

	if _, err := copyContext(ctx, w, f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return sftpError("download", err)
	}
	return nil
}

func (s *SFTP) Stat(ctx context.Context, name string) (Object, error) {
	info, err := s.client.Stat(s.path(name))
	if err != nil {
		return Object{}, sftpError("stat", err)
	}
	return Object{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (s *SFTP) Delete(ctx context.Context, name string) error {
	if err := s.client.Remove(s.path(name)); err != nil {
		return sftpError("delete", err)
	}
	return nil
}

func (s *SFTP) Close() error {
	err := s.client.Close()
	if s.ssh != nil {
		err = errors.Join(err, s.ssh.Close())
	}
	return err
}

// copyContext copies in chunks so a cancelled context stops a long transfer.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
