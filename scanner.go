package mimepart

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const minBufferSize = 4096

var (
	crlf     = []byte("\r\n")
	lf       = []byte("\n")
	dashDash = []byte("--")
)

type delimKind uint8

const (
	delimNone delimKind = iota
	delimNext
	delimLast
	delimBad
	delimShort
)

type delimiter struct {
	kind delimKind
	// size is the number of bytes the delimiter line occupies, including the
	// preceding line break when there is one.
	size int
}

// scanner reads one multipart body. The line terminator is fixed by the
// first boundary line: CRLF, or bare LF for lenient producers.
type scanner struct {
	br             *bufio.Reader
	nl             []byte
	dashBoundary   []byte
	nlDashBoundary []byte
}

func newScanner(r io.Reader, boundary string) *scanner {
	size := max(minBufferSize, 2*(len(boundary)+8))

	return &scanner{
		br:           bufio.NewReaderSize(r, size),
		dashBoundary: []byte("--" + boundary),
	}
}

func (s *scanner) setLineBreak(nl []byte) {
	s.nl = nl
	s.nlDashBoundary = append(append([]byte{}, nl...), s.dashBoundary...)
}

// skipPreamble discards everything before the first boundary line and
// consumes that line. last is true when the first boundary is already the
// closing one.
func (s *scanner) skipPreamble() (last bool, err error) {
	atLineStart := true
	for {
		line, err := s.br.ReadSlice('\n')
		if atLineStart && bytes.HasPrefix(line, s.dashBoundary) {
			return s.firstBoundary(line[len(s.dashBoundary):], err)
		}

		switch {
		case err == nil:
			atLineStart = true
		case errors.Is(err, bufio.ErrBufferFull):
			atLineStart = false
		case errors.Is(err, io.EOF):
			return false, ErrEOFBeforeFirstBoundary
		default:
			return false, newError(KindIO, err)
		}
	}
}

func (s *scanner) firstBoundary(rest []byte, readErr error) (bool, error) {
	if bytes.HasPrefix(rest, dashDash) {
		return true, nil
	}
	if readErr != nil {
		if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, bufio.ErrBufferFull) {
			return false, newError(KindIO, readErr)
		}
		return false, newError(KindNoCRLFAfterBoundary, fmt.Errorf("boundary line %q", rest))
	}

	nl := lf
	rest = rest[:len(rest)-1]
	if bytes.HasSuffix(rest, []byte("\r")) {
		nl = crlf
		rest = rest[:len(rest)-1]
	}
	if len(bytes.TrimLeft(rest, " \t")) != 0 {
		return false, newError(KindNoCRLFAfterBoundary, fmt.Errorf("unexpected %q after boundary", rest))
	}
	s.setLineBreak(nl)

	return false, nil
}

// tail classifies the bytes following --boundary inside the body.
// It returns the number of bytes belonging to the delimiter line.
func (s *scanner) tail(rest []byte) (delimKind, int) {
	if bytes.HasPrefix(rest, dashDash) {
		return delimLast, len(dashDash)
	}
	if len(rest) == 0 || (len(rest) == 1 && rest[0] == '-') {
		return delimShort, 0
	}

	padding := len(rest) - len(bytes.TrimLeft(rest, " \t"))
	rest = rest[padding:]
	switch {
	case bytes.HasPrefix(rest, s.nl):
		return delimNext, padding + len(s.nl)
	case bytes.HasPrefix(s.nl, rest):
		return delimShort, 0
	}

	return delimBad, 0
}

// scan reports how many leading bytes of buf are part content. When content
// ends at a delimiter, the delimiter is returned too. atStart is true while
// nothing of the part has been emitted, where the delimiter may follow
// the header block without a line break of its own.
func (s *scanner) scan(buf []byte, atStart bool, readErr error) (int, delimiter, error) {
	if atStart {
		if len(buf) < len(s.dashBoundary) && bytes.HasPrefix(s.dashBoundary, buf) {
			if readErr != nil {
				return len(buf), delimiter{}, readErr
			}
			return 0, delimiter{}, nil
		}
		if bytes.HasPrefix(buf, s.dashBoundary) {
			return s.delimiterAt(buf, 0, len(s.dashBoundary), readErr)
		}
	}

	if i := bytes.Index(buf, s.nlDashBoundary); i >= 0 {
		return s.delimiterAt(buf, i, len(s.nlDashBoundary), readErr)
	}
	if readErr != nil {
		return len(buf), delimiter{}, readErr
	}

	// hold back a suffix that could be the start of a delimiter
	n := len(buf)
	for i := max(0, len(buf)-len(s.nlDashBoundary)+1); i < len(buf); i++ {
		if bytes.HasPrefix(s.nlDashBoundary, buf[i:]) {
			n = i
			break
		}
	}

	return n, delimiter{}, nil
}

func (s *scanner) delimiterAt(buf []byte, i, prefix int, readErr error) (int, delimiter, error) {
	kind, size := s.tail(buf[i+prefix:])
	switch kind {
	case delimNext, delimLast:
		return i, delimiter{kind: kind, size: prefix + size}, nil
	case delimShort:
		if i > 0 {
			return i, delimiter{}, nil
		}
		if readErr == nil && len(buf) < s.br.Size() {
			return 0, delimiter{}, nil
		}
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return i, delimiter{}, readErr
		}
	}

	return i, delimiter{}, newError(KindNoCRLFAfterBoundary, fmt.Errorf("unexpected %q after boundary", truncate(buf[i+prefix:], 16)))
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}

	return b
}

// partReader yields the content of the current part and stops at the next
// delimiter, which it consumes.
type partReader struct {
	s       *scanner
	n       int // content bytes at the head of the buffer that are safe to return
	delim   delimiter
	err     error
	readErr error
	total   int64
	done    bool

	// truncated is set when the source ended before the delimiter.
	truncated bool
	// srcErr is a read error of the source itself.
	srcErr error
}

func (s *scanner) part() *partReader {
	return &partReader{s: s}
}

func (pr *partReader) Read(d []byte) (int, error) {
	br := pr.s.br

	for pr.n == 0 && pr.err == nil && pr.delim.kind == delimNone {
		peek, _ := br.Peek(br.Buffered())
		pr.n, pr.delim, pr.err = pr.s.scan(peek, pr.total == 0, pr.readErr)
		if pr.err != nil && pr.err == pr.readErr {
			pr.err = pr.sourceError(pr.err)
		}
		if pr.n == 0 && pr.err == nil && pr.delim.kind == delimNone {
			// force buffered I/O to read more into buffer
			_, pr.readErr = br.Peek(len(peek) + 1)
		}
	}

	if pr.n == 0 {
		if pr.delim.kind != delimNone {
			if !pr.done {
				if _, err := br.Discard(pr.delim.size); err != nil {
					return 0, err
				}
				pr.done = true
			}
			return 0, io.EOF
		}
		return 0, pr.err
	}

	n := min(len(d), pr.n)
	n, _ = br.Read(d[:n])
	pr.total += int64(n)
	pr.n -= n

	return n, nil
}

func (pr *partReader) sourceError(err error) error {
	if errors.Is(err, io.EOF) {
		pr.truncated = true
		return io.ErrUnexpectedEOF
	}
	pr.srcErr = err

	return err
}

// last reports whether the part ended at the closing delimiter.
func (pr *partReader) last() bool {
	return pr.delim.kind == delimLast
}

// drain discards the rest of the part.
func (pr *partReader) drain() error {
	_, err := io.Copy(io.Discard, pr)
	return err
}
