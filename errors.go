package mimepart

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a parse failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindNoRequestContentType is returned when there is no Content-Type to take the boundary from.
	KindNoRequestContentType
	// KindNotMultipart is returned when the top-level media type is not multipart.
	KindNotMultipart
	// KindBoundaryNotSpecified is returned when the Content-Type has no boundary parameter.
	KindBoundaryNotSpecified
	// KindPartialHeaders is returned when a header block contains a line that is not a header.
	KindPartialHeaders
	KindEOFInMainHeaders
	KindEOFBeforeFirstBoundary
	KindNoCRLFAfterBoundary
	KindEOFInPartHeaders
	KindEOFInFile
	KindEOFInPart
	// KindMissingDisposition is returned when a form-data part has no Content-Disposition name.
	KindMissingDisposition
	// KindHeaderSyntax wraps a header grammar error from net/textproto.
	KindHeaderSyntax
	// KindIO wraps a read error of the source or a write error of a storage sink.
	KindIO
	// KindUTF8 is returned by Field.Text when a UTF-8 field holds invalid bytes.
	KindUTF8
	// KindDecoding is returned by Field.Text when the charset cannot be decoded.
	KindDecoding
	KindTooManyParts
	KindTooManyHeaders
	KindHeaderTooLarge
	KindTooLargeForm
	KindTooDeep
)

var kindMessages = [...]string{
	KindUnknown:                "unknown error",
	KindNoRequestContentType:   "no request Content-Type",
	KindNotMultipart:           "not a multipart",
	KindBoundaryNotSpecified:   "boundary not specified",
	KindPartialHeaders:         "partial headers",
	KindEOFInMainHeaders:       "EOF in main headers",
	KindEOFBeforeFirstBoundary: "EOF before first boundary",
	KindNoCRLFAfterBoundary:    "no CR-LF after boundary",
	KindEOFInPartHeaders:       "EOF in part headers",
	KindEOFInFile:              "EOF in file",
	KindEOFInPart:              "EOF in part",
	KindMissingDisposition:     "missing Content-Disposition name",
	KindHeaderSyntax:           "header syntax",
	KindIO:                     "io",
	KindUTF8:                   "utf8",
	KindDecoding:               "decoding",
	KindTooManyParts:           "too many parts",
	KindTooManyHeaders:         "too many headers",
	KindHeaderTooLarge:         "header block too large",
	KindTooLargeForm:           "too large form",
	KindTooDeep:                "multipart nested too deep",
}

func (k Kind) String() string {
	if int(k) < len(kindMessages) {
		return kindMessages[k]
	}

	return fmt.Sprintf("Kind(%d)", k)
}

// Malformed reports whether the kind means the input itself is bad,
// as opposed to a failure of the source, a sink or the environment.
func (k Kind) Malformed() bool {
	switch k {
	case KindIO, KindUnknown:
		return false
	}

	return true
}

// Error is returned by every parse operation.
// Err holds the underlying cause, if any.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}

	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind, so errors.Is(err, ErrEOFInPart) works
// regardless of the attached cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

var (
	ErrNoRequestContentType   = &Error{Kind: KindNoRequestContentType}
	ErrNotMultipart           = &Error{Kind: KindNotMultipart}
	ErrBoundaryNotSpecified   = &Error{Kind: KindBoundaryNotSpecified}
	ErrPartialHeaders         = &Error{Kind: KindPartialHeaders}
	ErrEOFInMainHeaders       = &Error{Kind: KindEOFInMainHeaders}
	ErrEOFBeforeFirstBoundary = &Error{Kind: KindEOFBeforeFirstBoundary}
	ErrNoCRLFAfterBoundary    = &Error{Kind: KindNoCRLFAfterBoundary}
	ErrEOFInPartHeaders       = &Error{Kind: KindEOFInPartHeaders}
	ErrEOFInFile              = &Error{Kind: KindEOFInFile}
	ErrEOFInPart              = &Error{Kind: KindEOFInPart}
	ErrMissingDisposition     = &Error{Kind: KindMissingDisposition}
	ErrHeaderSyntax           = &Error{Kind: KindHeaderSyntax}
	ErrIO                     = &Error{Kind: KindIO}
	ErrUTF8                   = &Error{Kind: KindUTF8}
	ErrDecoding               = &Error{Kind: KindDecoding}
	// ErrTooManyParts is returned when the parts are more than MaxParts.
	ErrTooManyParts = &Error{Kind: KindTooManyParts}
	// ErrTooManyHeaders is returned when the headers are more than MaxHeaders.
	ErrTooManyHeaders = &Error{Kind: KindTooManyHeaders}
	// ErrHeaderTooLarge is returned when a header block is larger than MaxHeaderSize.
	ErrHeaderTooLarge = &Error{Kind: KindHeaderTooLarge}
	// ErrTooLargeForm is returned when the form is too large for the parser to handle within the memory limit.
	ErrTooLargeForm = &Error{Kind: KindTooLargeForm}
	// ErrTooDeep is returned when nested multipart bodies exceed MaxDepth.
	ErrTooDeep = &Error{Kind: KindTooDeep}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// StatusCode maps a parse error to the HTTP status a server should answer with.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch kind := KindOf(err); {
	case kind == KindTooLargeForm, kind == KindHeaderTooLarge, kind == KindTooManyParts, kind == KindTooManyHeaders:
		return http.StatusRequestEntityTooLarge
	case kind == KindNoRequestContentType, kind == KindNotMultipart:
		return http.StatusUnsupportedMediaType
	case kind.Malformed():
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}
