package echoform

import (
	"io"

	"github.com/labstack/echo/v4"

	"github.com/mazrean/mimepart"
	"github.com/mazrean/mimepart/internal/myio"
)

type Parser struct {
	*mimepart.Parser
	c      echo.Context
	reader io.Reader
}

func NewParser(c echo.Context, options ...mimepart.ParserOption) (*Parser, error) {
	mediaType, boundary, err := mimepart.ParseContentType(c.Request().Header.Get(echo.HeaderContentType))
	if err != nil {
		return nil, HTTPError(err)
	}

	options = append([]mimepart.ParserOption{mimepart.WithMediaType(mediaType)}, options...)

	return &Parser{
		Parser: mimepart.NewParser(boundary, options...),
		c:      c,
		reader: c.Request().Body,
	}, nil
}

func (p *Parser) Parse() (mimepart.Parts, error) {
	parts, err := p.Parser.Parse(myio.ContextReader(p.c.Request().Context(), p.reader))
	if err != nil {
		return nil, HTTPError(err)
	}

	return parts, nil
}

// HTTPError converts a parse error into an *echo.HTTPError carrying the matching status.
func HTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(mimepart.StatusCode(err), err.Error()).SetInternal(err)
}
