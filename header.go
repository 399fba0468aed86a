package mimepart

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strings"
)

// Header is a parsed header block. Lookups are case-insensitive.
type Header struct {
	disposition       string
	dispositionParams map[string]string
	header            textproto.MIMEHeader
	keys              []string
}

func newHeader(h textproto.MIMEHeader, keys []string) Header {
	var (
		disposition string
		params      map[string]string
	)
	if v := h.Get("Content-Disposition"); v != "" {
		var err error
		disposition, params, err = mime.ParseMediaType(v)
		if err != nil {
			disposition = ""
			params = nil
		}
	}
	if params == nil {
		params = make(map[string]string)
	}

	return Header{
		disposition:       disposition,
		dispositionParams: params,
		header:            h,
		keys:              keys,
	}
}

// Get returns the first value associated with the given key.
// If there are no values associated with the key, Get returns "".
func (h Header) Get(key string) string {
	return h.header.Get(key)
}

// Values returns all values associated with the given key.
func (h Header) Values(key string) []string {
	return h.header.Values(key)
}

// Keys returns the canonical header names in the order they first appeared.
func (h Header) Keys() []string {
	return h.keys
}

// Len returns the number of header values in the block.
func (h Header) Len() int {
	n := 0
	for _, values := range h.header {
		n += len(values)
	}

	return n
}

// ContentType returns the value of the "Content-Type" header field.
// If there are no values associated with the key, ContentType returns "".
func (h Header) ContentType() string {
	return h.header.Get("Content-Type")
}

// Disposition returns the lower-cased disposition type, e.g. "form-data".
func (h Header) Disposition() string {
	return h.disposition
}

// Name returns the value of the "name" parameter in the "Content-Disposition" header field.
// If there are no values associated with the key, Name returns "".
func (h Header) Name() string {
	return h.dispositionParams["name"]
}

// FileName returns the value of the "filename" parameter in the "Content-Disposition" header field.
// If there are no values associated with the key, FileName returns "".
func (h Header) FileName() string {
	return h.dispositionParams["filename"]
}

func (h Header) hasFileName() bool {
	_, ok := h.dispositionParams["filename"]
	return ok
}

// readHeaderBlock consumes header lines up to and including the blank line.
// eofKind is reported when the source ends before the blank line.
func readHeaderBlock(br *bufio.Reader, maxSize DataSize, eofKind Kind) (Header, error) {
	var (
		block []byte
		keys  []string
		line  []byte
	)
	seen := make(map[string]struct{})
	for {
		chunk, err := br.ReadSlice('\n')
		if DataSize(len(block)+len(line)+len(chunk)) > maxSize {
			return Header{}, ErrHeaderTooLarge
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return Header{}, newError(eofKind, nil)
		default:
			return Header{}, newError(KindIO, err)
		}

		content := bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r"))
		if len(content) == 0 {
			break
		}

		switch {
		case content[0] == ' ' || content[0] == '\t':
			if len(keys) == 0 {
				return Header{}, newError(KindPartialHeaders, fmt.Errorf("continuation line before any header: %q", content))
			}
		default:
			i := bytes.IndexByte(content, ':')
			if i < 0 {
				return Header{}, newError(KindPartialHeaders, fmt.Errorf("header line without colon: %q", content))
			}
			key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(string(content[:i])))
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}

		block = append(block, content...)
		block = append(block, '\r', '\n')
		line = line[:0]
	}
	block = append(block, '\r', '\n')

	mh, err := textproto.NewReader(bufio.NewReader(bytes.NewReader(block))).ReadMIMEHeader()
	if err != nil {
		return Header{}, newError(KindHeaderSyntax, err)
	}

	return newHeader(mh, keys), nil
}
