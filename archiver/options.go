package archiver

import (
	"compress/gzip"

	"filippo.io/age"
)

type WriteOption func(o *writeOptions)

type writeOptions struct {
	level      int
	recipients []age.Recipient
}

// Gzip level between 1 and 9. Out of range values fall back to the gzip default.
func WithCompressionLevel(level int) WriteOption {
	return func(o *writeOptions) {
		if level < gzip.BestSpeed || level > gzip.BestCompression {
			level = gzip.DefaultCompression
		}
		o.level = level
	}
}

// Encrypt the archive to every recipient.
func WithRecipients(recipients ...age.Recipient) WriteOption {
	return func(o *writeOptions) {
		o.recipients = recipients
	}
}

type ReadOption func(o *readOptions)

type readOptions struct {
	identities []age.Identity
}

// Decrypt the archive with the first matching identity.
// Without identities the archive is read as plain gzip.
func WithIdentities(identities ...age.Identity) ReadOption {
	return func(o *readOptions) {
		o.identities = identities
	}
}
