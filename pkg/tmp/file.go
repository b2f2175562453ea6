// Package tmp provides a scratch file that removes itself on Close, so
// that the fetch and metadata packages can leave a partially-written
// download or decompression target behind on every error path without
// naming it in a defer of their own.
package tmp

import "os"

// File wraps an *os.File; its Close both closes the handle and removes
// the file, so a scratch file left in place after an error is always a
// file someone forgot to rename, never one this package forgot to
// clean up.
type File struct {
	*os.File
}

// NewFile creates a new scratch file in dir matching pattern (in the
// sense of [os.CreateTemp]'s "*" substitution).
func NewFile(dir, pattern string) (*File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &File{f}, nil
}

// Close closes the file handle and removes the file from the
// filesystem. The caller must rename the file away first if it is
// meant to survive.
func (t *File) Close() error {
	if err := t.File.Close(); err != nil {
		return err
	}
	return os.Remove(t.File.Name())
}
