package mimepart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/mazrean/mimepart/internal/myio"
)

// Part is one section of a multipart body: a *Field, a *File or a *Nested.
type Part interface {
	Name() string
	Header() Header
	part()
}

// Field is a part held in memory.
type Field struct {
	name           string
	header         Header
	content        []byte
	defaultCharset string
}

func (f *Field) Name() string   { return f.name }
func (f *Field) Header() Header { return f.header }
func (*Field) part()            {}

// Bytes returns the raw content.
func (f *Field) Bytes() []byte {
	return f.content
}

// Text decodes the content to a string using the charset parameter of the
// part's Content-Type, or the parser's default charset.
func (f *Field) Text() (string, error) {
	charset := f.defaultCharset
	if _, params, err := mime.ParseMediaType(f.header.ContentType()); err == nil && params["charset"] != "" {
		charset = params["charset"]
	}

	return decodeText(f.content, charset)
}

func decodeText(content []byte, charset string) (string, error) {
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8", "us-ascii":
		if !utf8.Valid(content) {
			return "", newError(KindUTF8, errors.New("invalid UTF-8 sequence"))
		}
		return string(content), nil
	}

	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil {
		return "", newError(KindDecoding, fmt.Errorf("unknown charset %q: %w", charset, err))
	}
	if enc == nil {
		return "", newError(KindDecoding, fmt.Errorf("unsupported charset %q", charset))
	}

	decoded, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return "", newError(KindDecoding, fmt.Errorf("failed to decode %s: %w", charset, err))
	}

	return string(decoded), nil
}

// File is a part carrying a filename (or always, with WithAlwaysUseFiles).
// Small files are kept in memory, larger ones live behind a storage Handle.
type File struct {
	name        string
	header      Header
	fileName    string
	contentType string
	size        int64
	content     []byte
	handle      Handle
}

func (f *File) Name() string   { return f.name }
func (f *File) Header() Header { return f.header }
func (*File) part()            {}

func (f *File) FileName() string { return f.fileName }

// ContentType returns the Content-Type header as sent, text/plain when absent.
func (f *File) ContentType() string { return f.contentType }

func (f *File) Size() int64 { return f.size }

// InMemory reports whether the content is held in memory rather than in storage.
func (f *File) InMemory() bool { return f.handle == nil }

// Handle returns the storage handle, nil for in-memory files.
func (f *File) Handle() Handle { return f.handle }

func (f *File) Open() (io.ReadSeekCloser, error) {
	if f.handle == nil {
		return myio.NopSeekCloser(bytes.NewReader(f.content)), nil
	}

	r, err := f.handle.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open stored file: %w", err)
	}

	return r, nil
}

// Remove releases the stored content. It is a no-op for in-memory files.
func (f *File) Remove() error {
	if f.handle == nil {
		return nil
	}

	return f.handle.Remove()
}

// Nested is a part whose content is itself a multipart body.
type Nested struct {
	name      string
	header    Header
	mediaType string
	boundary  string
	parts     Parts
}

func (n *Nested) Name() string   { return n.name }
func (n *Nested) Header() Header { return n.header }
func (*Nested) part()            {}

func (n *Nested) MediaType() string { return n.mediaType }
func (n *Nested) Boundary() string  { return n.boundary }
func (n *Nested) Parts() Parts      { return n.parts }

// Parts is the ordered result of a parse.
type Parts []Part

// Value returns the content of the first field named name.
func (ps Parts) Value(name string) (string, bool) {
	f, ok := ps.Field(name)
	if !ok {
		return "", false
	}

	return string(f.content), true
}

// Field returns the first field named name.
func (ps Parts) Field(name string) (*Field, bool) {
	for _, p := range ps {
		if f, ok := p.(*Field); ok && f.name == name {
			return f, true
		}
	}

	return nil, false
}

// File returns the first file named name.
func (ps Parts) File(name string) (*File, bool) {
	files := ps.Files(name)
	if len(files) == 0 {
		return nil, false
	}

	return files[0], true
}

// Files returns all files named name, in order.
func (ps Parts) Files(name string) []*File {
	var files []*File
	for _, p := range ps {
		if f, ok := p.(*File); ok && f.name == name {
			files = append(files, f)
		}
	}

	return files
}

// RemoveAll removes every stored file, nested parts included.
func (ps Parts) RemoveAll() error {
	var errs []error
	for _, p := range ps {
		switch p := p.(type) {
		case *File:
			if err := p.Remove(); err != nil {
				errs = append(errs, err)
			}
		case *Nested:
			if err := p.parts.RemoveAll(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
