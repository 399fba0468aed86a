// Package storage provides mimepart.Storage implementations backed by go-billy
// filesystems, in memory or on disk.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/mazrean/mimepart"
)

// Billy stores each file part as its own file in a billy.Filesystem.
// Files are named by a random UUID; the part's filename only contributes
// its extension.
type Billy struct {
	fs  billy.Filesystem
	dir string
}

var _ mimepart.Storage = (*Billy)(nil)

func NewBilly(fs billy.Filesystem, dir string) *Billy {
	return &Billy{
		fs:  fs,
		dir: dir,
	}
}

// NewMemory keeps stored parts in an in-memory filesystem.
func NewMemory() *Billy {
	return NewBilly(memfs.New(), "uploads")
}

// NewOS keeps stored parts under dir on the local disk.
func NewOS(dir string) *Billy {
	return NewBilly(osfs.New(dir), "")
}

// Filesystem returns the underlying filesystem.
func (b *Billy) Filesystem() billy.Filesystem {
	return b.fs
}

func (b *Billy) Create(header mimepart.Header) (mimepart.Sink, error) {
	if b.dir != "" {
		if err := b.fs.MkdirAll(b.dir, 0o755); err != nil {
			return nil, fmt.Errorf("billy: mkdirall %q: %w", b.dir, err)
		}
	}

	name := path.Join(b.dir, uuid.NewString()+path.Ext(path.Base(header.FileName())))
	f, err := b.fs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("billy: create %q: %w", name, err)
	}

	return &sink{
		fs:   b.fs,
		file: f,
		name: name,
	}, nil
}

type sink struct {
	fs   billy.Filesystem
	file billy.File
	name string
	size int64
}

func (s *sink) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	s.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("billy: write %q: %w", s.name, err)
	}

	return n, nil
}

func (s *sink) Commit() (mimepart.Handle, error) {
	if err := s.file.Close(); err != nil {
		return nil, errors.Join(
			fmt.Errorf("billy: close %q: %w", s.name, err),
			s.fs.Remove(s.name),
		)
	}

	return &File{
		fs:   s.fs,
		name: s.name,
		size: s.size,
	}, nil
}

func (s *sink) Abort() error {
	closeErr := s.file.Close()
	removeErr := s.fs.Remove(s.name)
	if closeErr != nil || removeErr != nil {
		return fmt.Errorf("billy: abort %q: %w", s.name, errors.Join(closeErr, removeErr))
	}

	return nil
}

// File is the handle of a stored part.
type File struct {
	fs   billy.Filesystem
	name string
	size int64
}

var _ mimepart.Handle = (*File)(nil)

// Name returns the path of the stored file inside the filesystem.
func (f *File) Name() string {
	return f.name
}

func (f *File) Size() int64 {
	return f.size
}

func (f *File) Open() (io.ReadSeekCloser, error) {
	file, err := f.fs.Open(f.name)
	if err != nil {
		return nil, fmt.Errorf("billy: open %q: %w", f.name, err)
	}

	return file, nil
}

func (f *File) Remove() error {
	err := f.fs.Remove(f.name)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("billy: remove %q: %w", f.name, err)
	}

	return nil
}
