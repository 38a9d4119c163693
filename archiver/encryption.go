package archiver

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/stupid-simple/devbackup/backuperr"
)

const (
	Extension          = ".tar.gz"
	EncryptedExtension = ".tar.gz.age"
)

// FileName is the artifact name for a backup id.
func FileName(prefix, id string, encrypted bool) string {
	if encrypted {
		return prefix + id + EncryptedExtension
	}
	return prefix + id + Extension
}

func IsEncrypted(name string) bool {
	return strings.HasSuffix(name, EncryptedExtension)
}

// ParseRecipients parses age X25519 public keys ("age1...").
func ParseRecipients(values []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(values))
	for _, v := range values {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid encryption recipient: %w", backuperr.ErrConfig, err)
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}

// LoadIdentities reads an age identity file, one secret key per line.
func LoadIdentities(path string) (ids []age.Identity, err error) {
	if path == "" {
		return nil, fmt.Errorf("%w: encrypted backup needs an identity_file", backuperr.ErrConfig)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open identity file: %w", backuperr.ErrConfig, err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	ids, err = age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse identity file: %w", backuperr.ErrConfig, err)
	}
	return ids, nil
}
