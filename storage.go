package mimepart

import (
	"errors"
	"fmt"
	"io"
	"os"
)

//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=internal/mock/storage.go -package=mock

// Storage creates sinks for file parts that do not fit in memory.
// Create is called once per stored part, before any content is written.
type Storage interface {
	Create(header Header) (Sink, error)
}

// Sink receives the content of one file part.
// Exactly one of Commit and Abort is called after the last Write.
type Sink interface {
	io.Writer
	Commit() (Handle, error)
	Abort() error
}

// Handle refers to content a Sink committed.
type Handle interface {
	Open() (io.ReadSeekCloser, error)
	Remove() error
}

// TempFileStorage writes each stored part to its own temporary file.
type TempFileStorage struct {
	// Dir is passed to os.CreateTemp. Empty means os.TempDir().
	Dir string
	// Pattern is passed to os.CreateTemp. Empty means "mimepart-*".
	Pattern string
}

func (s *TempFileStorage) Create(Header) (Sink, error) {
	pattern := s.Pattern
	if pattern == "" {
		pattern = "mimepart-*"
	}

	f, err := os.CreateTemp(s.Dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return &tempFileSink{file: f}, nil
}

type tempFileSink struct {
	file *os.File
}

func (s *tempFileSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

func (s *tempFileSink) Commit() (Handle, error) {
	if err := s.file.Close(); err != nil {
		return nil, errors.Join(err, os.Remove(s.file.Name()))
	}

	return TempFile{Path: s.file.Name()}, nil
}

func (s *tempFileSink) Abort() error {
	// Close the file handle first
	closeErr := s.file.Close()

	// Remove the temporary file from disk
	removeErr := os.Remove(s.file.Name())

	// Return combined errors if any
	if closeErr != nil || removeErr != nil {
		return errors.Join(closeErr, removeErr)
	}

	return nil
}

// TempFile is the Handle of a part stored by TempFileStorage.
type TempFile struct {
	Path string
}

func (f TempFile) Open() (io.ReadSeekCloser, error) {
	return os.Open(f.Path)
}

func (f TempFile) Remove() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}
