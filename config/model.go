package config

import (
	"github.com/rs/zerolog"
)

type Method string

const (
	MethodLocal      Method = "local"      // tar.gz snapshot on local disk
	MethodRepository Method = "repository" // deduplicating restic repository
	MethodRemote     Method = "remote"     // local snapshot pushed to object storage
)

func (m Method) Valid() bool {
	switch m {
	case MethodLocal, MethodRepository, MethodRemote:
		return true
	}
	return false
}

type Config struct {
	Method           Method       `json:"method" yaml:"method"`
	SourcePaths      []string     `json:"source_paths" yaml:"source_paths"`
	Destination      string       `json:"destination" yaml:"destination"`
	Schedule         string       `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	RetentionCount   int          `json:"retention_count,omitempty" yaml:"retention_count,omitempty"`
	Credentials      Credentials  `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	ArchivePrefix    string       `json:"archive_prefix,omitempty" yaml:"archive_prefix,omitempty"`
	Excludes         []string     `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	MinFreeSpace     SizeArgument `json:"min_free_space,omitempty" yaml:"min_free_space,omitempty"`
	CompressionLevel int          `json:"compression_level,omitempty" yaml:"compression_level,omitempty"`
	StateDir         string       `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	Encryption       Encryption   `json:"encryption,omitempty" yaml:"encryption,omitempty"`
	Repository       Repository   `json:"repository,omitempty" yaml:"repository,omitempty"`
	Remote           Remote       `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// Credentials are handed to the repository tool or remote transport as-is.
type Credentials struct {
	Password        string            `json:"password,omitempty" yaml:"password,omitempty"`
	PasswordFile    string            `json:"password_file,omitempty" yaml:"password_file,omitempty"`
	Username        string            `json:"username,omitempty" yaml:"username,omitempty"`
	PrivateKeyFile  string            `json:"private_key_file,omitempty" yaml:"private_key_file,omitempty"`
	AccessKeyID     string            `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string            `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	SessionToken    string            `json:"session_token,omitempty" yaml:"session_token,omitempty"`
	Env             map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

type Encryption struct {
	Recipients   []string `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	IdentityFile string   `json:"identity_file,omitempty" yaml:"identity_file,omitempty"`
}

func (e Encryption) Enabled() bool {
	return len(e.Recipients) > 0
}

type Repository struct {
	Binary    string `json:"binary,omitempty" yaml:"binary,omitempty"`
	ExtraArgs string `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
}

type Remote struct {
	Binary         string `json:"binary,omitempty" yaml:"binary,omitempty"` // rclone only
	ExtraArgs      string `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
	Region         string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	KnownHostsFile string `json:"known_hosts_file,omitempty" yaml:"known_hosts_file,omitempty"`
	KeepLocal      bool   `json:"keep_local,omitempty" yaml:"keep_local,omitempty"`
}

func (c Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("method", string(c.Method))
	e.Strs("source_paths", c.SourcePaths)
	e.Str("destination", c.Destination)
	e.Int("retention_count", c.RetentionCount)

	if c.Schedule != "" {
		e.Str("schedule", c.Schedule)
	}
	if c.ArchivePrefix != "" {
		e.Str("archive_prefix", c.ArchivePrefix)
	}
	if len(c.Excludes) > 0 {
		e.Strs("excludes", c.Excludes)
	}
	if c.MinFreeSpace.Size > 0 {
		e.Int64("min_free_space", c.MinFreeSpace.Size)
	}
	if c.Encryption.Enabled() {
		e.Int("encryption_recipients", len(c.Encryption.Recipients))
	}
	// Never log secrets, only which kind is set.
	e.Bool("has_password", c.Credentials.Password != "" || c.Credentials.PasswordFile != "")
	e.Bool("has_access_key", c.Credentials.AccessKeyID != "")
}
