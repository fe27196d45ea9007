package atomicfile

import (
	"errors"
	"os"
	"path/filepath"
)

// File writes to a temporary file in the target directory and renames it
// into place on Commit. Consumers of the target path never observe a
// partially written file.
type File struct {
	name string
	tmp  *os.File
}

func New(name string) (*File, error) {
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".tmp*")
	if err != nil {
		return nil, err
	}
	return &File{name: name, tmp: tmp}, nil
}

func (f *File) Write(p []byte) (int, error) {
	return f.tmp.Write(p)
}

// Close discards the temporary file unless Commit already ran. Safe to defer
// alongside Commit.
func (f *File) Close() error {
	if f.tmp == nil {
		return nil
	}
	f.tmp.Close()
	os.Remove(f.tmp.Name())
	f.tmp = nil
	return nil
}

func (f *File) Commit() error {
	if f.tmp == nil {
		return errors.New("file is closed")
	}
	if err := f.tmp.Chmod(0644); err != nil {
		return err
	}
	if err := f.tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.tmp.Name(), f.name); err != nil {
		return err
	}
	f.tmp = nil
	return nil
}

// WriteFile atomically replaces name with data.
func WriteFile(name string, data []byte, perm os.FileMode) error {
	f, err := New(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Commit(); err != nil {
		return err
	}
	return os.Chmod(name, perm)
}
