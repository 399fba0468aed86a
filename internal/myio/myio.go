// Package myio holds small io adapters shared by the parser and its adapters.
package myio

import (
	"context"
	"io"
)

type nopSeekCloser struct {
	io.ReadSeeker
}

// NopSeekCloser returns r with a Close method that does nothing.
func NopSeekCloser(r io.ReadSeeker) io.ReadSeekCloser {
	return nopSeekCloser{r}
}

func (nopSeekCloser) Close() error { return nil }

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

// ContextReader returns a reader that fails with ctx.Err() once ctx is done.
// A Read already blocked in r is not interrupted.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}

	return cr.r.Read(p)
}
