// Package fingerprint derives cheap change-detection values for the backing
// file. Values are xxhash digests; they are not cryptographic.
package fingerprint

import (
	"encoding/binary"
	"fmt"
	"io/fs"

	"github.com/cespare/xxhash/v2"

	"jsonkv/internal/fileops"
)

// Value is a file fingerprint. Compare with ==.
type Value uint64

func (v Value) String() string {
	return fmt.Sprintf("%016x", uint64(v))
}

// Strategy computes the current fingerprint of path. ok is false when the
// file does not exist.
type Strategy interface {
	Of(fsys fileops.FS, path string) (v Value, ok bool, err error)
}

// FromInfo fingerprints file metadata: size, modification time and mode.
// Access time is never part of the input.
func FromInfo(info fs.FileInfo) Value {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(info.Size()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(info.ModTime().UnixNano()))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(info.Mode()))
	return Value(xxhash.Sum64(buf[:]))
}

// FromBytes fingerprints raw content.
func FromBytes(b []byte) Value {
	return Value(xxhash.Sum64(b))
}

// Stat fingerprints file metadata. One stat call, no read.
type Stat struct{}

func (Stat) Of(fsys fileops.FS, path string) (Value, bool, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		if fileops.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("fingerprint stat: %w", err)
	}
	return FromInfo(info), true, nil
}

// Content fingerprints the file bytes. Immune to coarse mtime granularity at
// the cost of reading the file on every check.
type Content struct{}

func (Content) Of(fsys fileops.FS, path string) (Value, bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if fileops.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("fingerprint content: %w", err)
	}
	return FromBytes(data), true, nil
}

// ForMode maps a config mode name to a Strategy. Unknown modes get Stat.
func ForMode(mode string) Strategy {
	if mode == "content" {
		return Content{}
	}
	return Stat{}
}
