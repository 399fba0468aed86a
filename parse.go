package mimepart

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"sync"

	"github.com/mazrean/mimepart/internal/hookgate"
)

// Parse parses the multipart body read from r.
func Parse(r io.Reader, boundary string, options ...ParserOption) (Parts, error) {
	return NewParser(boundary, options...).Parse(r)
}

// ParseContentType checks that v is a multipart media type with a boundary.
func ParseContentType(v string) (mediaType, boundary string, err error) {
	if strings.TrimSpace(v) == "" {
		return "", "", ErrNoRequestContentType
	}

	mediaType, params, err := mime.ParseMediaType(v)
	if err != nil {
		return "", "", newError(KindNotMultipart, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", "", newError(KindNotMultipart, fmt.Errorf("media type %q", mediaType))
	}

	boundary = params["boundary"]
	if boundary == "" {
		return "", "", ErrBoundaryNotSpecified
	}

	return mediaType, boundary, nil
}

// Message is a MIME message read by ReadMessage.
type Message struct {
	Header    Header
	MediaType string
	Boundary  string
	Parts     Parts
}

// ReadMessage reads a header block from r, takes the boundary from its
// Content-Type and parses the multipart body that follows.
func ReadMessage(r io.Reader, options ...ParserOption) (*Message, error) {
	p := NewParser("", options...)

	br := bufio.NewReaderSize(r, minBufferSize)
	header, err := readHeaderBlock(br, p.maxHeaderSize, KindEOFInMainHeaders)
	if err != nil {
		return nil, err
	}

	mediaType, boundary, err := ParseContentType(header.ContentType())
	if err != nil {
		return nil, err
	}
	p.boundary = boundary
	p.mediaType = mediaType

	parts, err := p.Parse(br)
	if err != nil {
		return nil, err
	}

	return &Message{
		Header:    header,
		MediaType: mediaType,
		Boundary:  boundary,
		Parts:     parts,
	}, nil
}

// Parse parses the multipart body read from r. On error nothing is returned
// and every file stored so far has been removed.
func (p *Parser) Parse(r io.Reader) (parts Parts, err error) {
	if p.boundary == "" {
		return nil, ErrBoundaryNotSpecified
	}

	st := p.newParseState()
	defer func() {
		closeErr := st.Close()
		// capture the error of Close()
		if closeErr != nil {
			if err != nil {
				err = errors.Join(err, closeErr)
			} else {
				err = closeErr
			}
		}
		if err != nil {
			parts = nil
			st.logger.Debug("multipart parse failed",
				slog.String("kind", KindOf(err).String()),
				slog.String("error", err.Error()))
		}
	}()

	parts, err = st.parseParts(newScanner(r, p.boundary), p.mediaType, 0)

	return
}

// parseState is owned by a single Parse call.
type parseState struct {
	parserConfig
	gate *hookgate.Gate[string, *streamParam, *File]
	seen Parts
}

func (p *Parser) newParseState() *parseState {
	st := &parseState{
		parserConfig: p.parserConfig,
	}

	hooks := make(map[string]hookgate.Hook[string, *streamParam, *File], len(p.hookMap))
	for name, hook := range p.hookMap {
		hooks[name] = gateHook{
			st:   st,
			hook: hook,
		}
	}
	st.gate = hookgate.New(hooks, st.spool)

	return st
}

// Close removes content spooled for hooks that never ran.
func (st *parseState) Close() error {
	var errs []error
	for _, f := range st.gate.Pending() {
		if err := f.Remove(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (st *parseState) parseParts(s *scanner, mediaType string, depth uint) (parts Parts, err error) {
	defer func() {
		if err == nil {
			return
		}
		if removeErr := parts.RemoveAll(); removeErr != nil {
			err = errors.Join(err, removeErr)
		}
		parts = nil
	}()

	last, err := s.skipPreamble()
	if err != nil {
		return nil, err
	}

	for !last {
		if st.maxParts == 0 {
			return parts, ErrTooManyParts
		}
		st.maxParts--

		header, err := readHeaderBlock(s.br, st.maxHeaderSize, KindEOFInPartHeaders)
		if err != nil {
			return parts, err
		}

		n := uint(header.Len())
		if st.maxHeaders < n {
			return parts, ErrTooManyHeaders
		}
		st.maxHeaders -= n

		info, err := st.classify(header, mediaType)
		if err != nil {
			return parts, err
		}

		pr := s.part()
		part, err := st.readPart(pr, info, depth)
		if err != nil {
			return parts, err
		}
		if part != nil {
			parts = append(parts, part)
			st.seen = append(st.seen, part)
		}

		err = st.gate.Arrive(info.name)
		if err != nil {
			return parts, fmt.Errorf("failed to run satisfied hook: %w", err)
		}

		last = pr.last()
	}

	return parts, nil
}

func (st *parseState) readPart(pr *partReader, info partInfo, depth uint) (Part, error) {
	if info.kind == partNested {
		return st.readNested(pr, info, depth)
	}

	if st.gate.Has(info.name) {
		return nil, st.runHook(pr, info)
	}

	if info.kind == partFile {
		return st.readFile(pr, info)
	}

	return st.readField(pr, info)
}

func (st *parseState) readField(pr *partReader, info partInfo) (*Field, error) {
	if DataSize(len(info.name)) > st.maxMemSize {
		return nil, ErrTooLargeForm
	}
	st.maxMemSize -= DataSize(len(info.name))

	b := new(bytes.Buffer)
	n, err := io.CopyN(b, pr, int64(st.maxMemSize)+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, st.bodyError(pr, err, false)
	}
	if DataSize(n) > st.maxMemSize {
		return nil, ErrTooLargeForm
	}
	st.maxMemSize -= DataSize(n)

	st.logger.Debug("parsed multipart field",
		slog.String("name", info.name),
		slog.Int64("size", n))

	return &Field{
		name:           info.name,
		header:         info.header,
		content:        b.Bytes(),
		defaultCharset: st.defaultCharset,
	}, nil
}

var bufPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// readFile keeps the content in memory while it fits under the file memory
// limit and moves it to the storage otherwise.
func (st *parseState) readFile(pr *partReader, info partInfo) (*File, error) {
	buf, ok := bufPool.Get().(*bytes.Buffer)
	if !ok {
		buf = new(bytes.Buffer)
	}
	buf.Reset()
	defer bufPool.Put(buf)

	memLimit := min(st.maxMemFileSize, st.maxMemSize)
	n, err := io.CopyN(buf, pr, int64(memLimit)+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, st.bodyError(pr, err, true)
	}

	f := &File{
		name:        info.name,
		header:      info.header,
		fileName:    info.header.FileName(),
		contentType: info.contentType,
	}

	if DataSize(n) <= memLimit {
		st.maxMemSize -= DataSize(n)
		f.content = bytes.Clone(buf.Bytes())
		f.size = n

		st.logger.Debug("parsed multipart file",
			slog.String("name", f.name),
			slog.String("filename", f.fileName),
			slog.Int64("size", n))

		return f, nil
	}

	sink, err := st.storage.Create(info.header)
	if err != nil {
		return nil, newError(KindIO, fmt.Errorf("failed to create sink: %w", err))
	}

	size, err := st.store(sink, buf, pr)
	if err != nil {
		if abortErr := sink.Abort(); abortErr != nil {
			err = errors.Join(err, abortErr)
		}
		return nil, err
	}

	handle, err := sink.Commit()
	if err != nil {
		return nil, newError(KindIO, fmt.Errorf("failed to commit sink: %w", err))
	}
	f.handle = handle
	f.size = size

	st.logger.Debug("stored multipart file",
		slog.String("name", f.name),
		slog.String("filename", f.fileName),
		slog.Int64("size", size))

	return f, nil
}

func (st *parseState) store(sink Sink, buf *bytes.Buffer, pr *partReader) (int64, error) {
	bufSize, err := io.Copy(sink, buf)
	if err != nil {
		return 0, newError(KindIO, fmt.Errorf("failed to write: %w", err))
	}

	remainSize, err := io.Copy(sink, pr)
	if err != nil {
		return 0, st.bodyError(pr, err, true)
	}

	return bufSize + remainSize, nil
}

func (st *parseState) readNested(pr *partReader, info partInfo, depth uint) (*Nested, error) {
	if depth >= st.maxDepth {
		return nil, ErrTooDeep
	}

	st.logger.Debug("parsing nested multipart",
		slog.String("name", info.name),
		slog.String("media_type", info.mediaType),
		slog.Uint64("depth", uint64(depth+1)))

	parts, err := st.parseParts(newScanner(pr, info.boundary), info.mediaType, depth+1)
	if err != nil {
		if pr.truncated || pr.srcErr != nil {
			return nil, st.bodyError(pr, err, false)
		}
		return nil, err
	}

	// the epilogue of the nested body runs up to our own delimiter
	if err := pr.drain(); err != nil {
		return nil, errors.Join(st.bodyError(pr, err, false), parts.RemoveAll())
	}

	return &Nested{
		name:      info.name,
		header:    info.header,
		mediaType: info.mediaType,
		boundary:  info.boundary,
		parts:     parts,
	}, nil
}

// bodyError picks the most specific error for a failure while reading a part:
// truncation of the source beats anything reported on top of it.
func (st *parseState) bodyError(pr *partReader, err error, file bool) error {
	switch {
	case pr.truncated && file:
		return newError(KindEOFInFile, nil)
	case pr.truncated:
		return newError(KindEOFInPart, nil)
	case pr.srcErr != nil:
		return newError(KindIO, pr.srcErr)
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	return newError(KindIO, err)
}
