package fileutils

import "os"

// Returns nil if dirPath is a directory and is writable.
func VerifyWritable(dirPath string) error {
	fil, err := os.CreateTemp(dirPath, ".devbackup-writable-")
	if err != nil {
		return err
	}
	err = fil.Close()
	if err != nil {
		return err
	}
	err = os.Remove(fil.Name())
	if err != nil {
		return err
	}
	return nil
}

// Exists reports whether anything is present at path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
