package httpform

import (
	"context"
	"io"
	"net/http"

	"github.com/mazrean/mimepart"
	"github.com/mazrean/mimepart/internal/myio"
)

type Parser struct {
	*mimepart.Parser
	ctx    context.Context
	reader io.Reader
}

// NewParser checks the request Content-Type and prepares a parser for its body.
// The errors are those of mimepart.ParseContentType.
func NewParser(req *http.Request, options ...mimepart.ParserOption) (*Parser, error) {
	mediaType, boundary, err := mimepart.ParseContentType(req.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	options = append([]mimepart.ParserOption{mimepart.WithMediaType(mediaType)}, options...)

	return &Parser{
		Parser: mimepart.NewParser(boundary, options...),
		ctx:    req.Context(),
		reader: req.Body,
	}, nil
}

// Parse parses the request body. Reading stops once the request context is done.
func (p *Parser) Parse() (mimepart.Parts, error) {
	return p.Parser.Parse(myio.ContextReader(p.ctx, p.reader))
}

// Error writes the status mimepart.StatusCode picks for err.
func Error(w http.ResponseWriter, err error) {
	code := mimepart.StatusCode(err)
	http.Error(w, http.StatusText(code), code)
}
