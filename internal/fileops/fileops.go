// Package fileops is the thin filesystem layer under storage.
//
// Implementations do no caching. NotFound is reported with errors that
// satisfy errors.Is(err, fs.ErrNotExist), except where noted.
package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Default permissions for files and directories created by OS.
const (
	FilePerm = 0o644
	DirPerm  = 0o755
)

// FS is the set of file operations storage depends on.
type FS interface {
	// Exists reports whether path exists. (false, nil) when absent.
	Exists(path string) (bool, error)

	// Stat returns file info, or an fs.ErrNotExist error when absent.
	Stat(path string) (fs.FileInfo, error)

	// ReadFile returns the whole file content.
	ReadFile(path string) ([]byte, error)

	// WriteFile creates or truncates path and writes data.
	WriteFile(path string, data []byte) error

	// MkdirAll creates dir and all parents. Idempotent.
	MkdirAll(dir string) error

	// Remove deletes path. An absent path is not an error.
	Remove(path string) error
}

// OS implements FS on top of the os package.
type OS struct{}

var _ FS = OS{}

func (OS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

func (OS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OS) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, FilePerm)
}

func (OS) MkdirAll(dir string) error {
	return os.MkdirAll(dir, DirPerm)
}

func (OS) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// EnsureParent creates the parent directory of path.
func EnsureParent(fsys FS, path string) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

// IsNotExist reports whether err means the file is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
