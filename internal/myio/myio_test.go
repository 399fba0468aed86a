package myio_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/mazrean/mimepart/internal/myio"
)

func TestContextReader(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	r := myio.ContextReader(ctx, strings.NewReader("abcdef"))

	buf := make([]byte, 3)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(buf[:n]) != "abc" {
		t.Errorf("unexpected content: %q", buf[:n])
	}

	cancel()

	_, err = r.Read(buf)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNopSeekCloser(t *testing.T) {
	t.Parallel()

	rsc := myio.NopSeekCloser(strings.NewReader("hello"))
	if _, err := rsc.Seek(1, io.SeekStart); err != nil {
		t.Fatalf("failed to seek: %v", err)
	}
	b, err := io.ReadAll(rsc)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(b) != "ello" {
		t.Errorf("unexpected content: %q", b)
	}
	if err := rsc.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}
