package fileutils

import (
	"errors"
	"io"
	"os"

	"github.com/cespare/xxhash"
)

// ComputeHash returns the hash of the reader.
// It will read the entire contents of the reader. It will not close the reader.
func ComputeHash(r io.Reader) (uint64, error) {
	hash := xxhash.New()
	_, err := io.Copy(hash, r)
	if err != nil {
		return 0, err
	}
	return hash.Sum64(), nil
}

// ComputeFileHash returns the hash of the file at path.
func ComputeFileHash(path string) (hash uint64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}

	defer func() {
		closeErr := file.Close()
		err = errors.Join(err, closeErr)
	}()

	return ComputeHash(file)
}

// HashString is the hash of s, used to derive stable file names from arbitrary strings.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// SameContent reports whether two regular files have the same size and hash.
func SameContent(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	hashA, err := ComputeFileHash(a)
	if err != nil {
		return false, err
	}
	hashB, err := ComputeFileHash(b)
	if err != nil {
		return false, err
	}
	return hashA == hashB, nil
}
