package ginform

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/mazrean/mimepart"
	"github.com/mazrean/mimepart/internal/myio"
)

type Parser struct {
	*mimepart.Parser
	c      *gin.Context
	reader io.Reader
}

func NewParser(c *gin.Context, options ...mimepart.ParserOption) (*Parser, error) {
	mediaType, boundary, err := mimepart.ParseContentType(c.GetHeader("Content-Type"))
	if err != nil {
		return nil, err
	}

	options = append([]mimepart.ParserOption{mimepart.WithMediaType(mediaType)}, options...)

	return &Parser{
		Parser: mimepart.NewParser(boundary, options...),
		c:      c,
		reader: c.Request.Body,
	}, nil
}

func (p *Parser) Parse() (mimepart.Parts, error) {
	return p.Parser.Parse(myio.ContextReader(p.c.Request.Context(), p.reader))
}

// AbortWithError aborts the request with the status mimepart.StatusCode picks for err.
func AbortWithError(c *gin.Context, err error) {
	_ = c.AbortWithError(mimepart.StatusCode(err), err)
}
