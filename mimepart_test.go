package mimepart_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"mime/multipart"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"github.com/mazrean/mimepart"
	"github.com/mazrean/mimepart/internal/mock"
)

func ExampleNewParser() {
	buf := strings.NewReader(`
--boundary
Content-Disposition: form-data; name="field"

value
--boundary
Content-Disposition: form-data; name="stream"; filename="file.txt"
Content-Type: text/plain

large file contents
--boundary--`)

	parser := mimepart.NewParser("boundary")

	err := parser.Register("stream", func(r io.Reader, header mimepart.Header, parsed mimepart.Parts) error {
		fmt.Println("---stream---")
		fmt.Printf("file name: %s\n", header.FileName())
		fmt.Printf("Content-Type: %s\n", header.ContentType())
		field, _ := parsed.Value("field")
		fmt.Printf("field: %s\n", field)
		fmt.Println()

		_, err := io.Copy(os.Stdout, r)
		if err != nil {
			return fmt.Errorf("failed to copy: %w", err)
		}

		return nil
	}, mimepart.WithRequiredPart("field"))
	if err != nil {
		log.Fatal(err)
	}

	parts, err := parser.Parse(buf)
	if err != nil {
		log.Fatal(err)
	}
	defer parts.RemoveAll()

	fmt.Printf("\n\n")
	fmt.Println("---parts---")
	for _, part := range parts {
		fmt.Println(part.Name())
	}

	// Output:
	// ---stream---
	// file name: file.txt
	// Content-Type: text/plain
	// field: value
	//
	// large file contents
	//
	// ---parts---
	// field
}

func ExampleParse() {
	body := "--B\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n" +
		"\r\n" +
		"hello\r\n" +
		"--B--\r\n"

	parts, err := mimepart.Parse(strings.NewReader(body), "B")
	if err != nil {
		log.Fatal(err)
	}

	v, _ := parts.Value("a")
	fmt.Println(len(parts), v)

	// Output:
	// 1 hello
}

const boundary = "boundary"

func sampleForm(fileSize mimepart.DataSize, boundary string, reverse bool) (io.Reader, error) {
	b := bytes.NewBuffer(nil)

	mw := multipart.NewWriter(b)
	defer mw.Close()

	mw.SetBoundary(boundary)

	if !reverse {
		mw.WriteField("field", "value")
	}

	mh := make(textproto.MIMEHeader)
	mh.Set("Content-Disposition", `form-data; name="stream"; filename="file.txt"`)
	mh.Set("Content-Type", "text/plain")
	w, err := mw.CreatePart(mh)
	if err != nil {
		return nil, fmt.Errorf("failed to create part: %w", err)
	}
	_, err = io.CopyN(w, strings.NewReader(strings.Repeat("a", int(fileSize))), int64(fileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to copy: %w", err)
	}

	if reverse {
		mw.WriteField("field", "value")
	}

	return b, nil
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	binary := make([]byte, 100*int(mimepart.KB))
	if _, err := rand.NewChaCha8([32]byte{1}).Read(binary); err != nil {
		t.Fatal(err)
	}

	fields := map[string]string{
		"plain":    "value",
		"empty":    "",
		"trick":    "x--rt-boundary--y\r\n--rt-boundar\r\n-\r\n--",
		"newlines": "\r\n\r\n",
	}

	b := &bytes.Buffer{}
	mw := multipart.NewWriter(b)
	if err := mw.SetBoundary("rt-boundary"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"plain", "empty", "trick", "newlines"} {
		if err := mw.WriteField(name, fields[name]); err != nil {
			t.Fatal(err)
		}
	}
	w, err := mw.CreateFormFile("upload", "random.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(binary); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	parts, err := mimepart.Parse(b, "rt-boundary",
		mimepart.WithMaxMemFileSize(mimepart.KB),
		mimepart.WithStorage(&mimepart.TempFileStorage{Dir: dir}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer parts.RemoveAll()

	if len(parts) != len(fields)+1 {
		t.Fatalf("unexpected number of parts: %d", len(parts))
	}
	for name, want := range fields {
		got, ok := parts.Value(name)
		if !ok {
			t.Errorf("field %q missing", name)
			continue
		}
		if got != want {
			t.Errorf("field %q: got %q, want %q", name, got, want)
		}
	}

	f, ok := parts.File("upload")
	if !ok {
		t.Fatal("file missing")
	}
	if f.InMemory() {
		t.Error("file should be stored")
	}
	if f.FileName() != "random.bin" || f.ContentType() != "application/octet-stream" {
		t.Errorf("unexpected file header: %q %q", f.FileName(), f.ContentType())
	}

	r, err := f.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, binary) {
		t.Errorf("file content differs: got %d bytes, want %d", len(got), len(binary))
	}
}

func TestConcurrentParse(t *testing.T) {
	t.Parallel()

	parser := mimepart.NewParser(boundary, mimepart.WithMaxParts(3))
	err := parser.Register("stream", func(r io.Reader, _ mimepart.Header, parsed mimepart.Parts) error {
		id, _ := parsed.Value("id")
		b, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		if string(b) != "content of "+id {
			return fmt.Errorf("stream of %s got %q", id, b)
		}

		return nil
	}, mimepart.WithRequiredPart("id"))
	if err != nil {
		t.Fatal(err)
	}

	var eg errgroup.Group
	for i := range 32 {
		eg.Go(func() error {
			b := &bytes.Buffer{}
			mw := multipart.NewWriter(b)
			mw.SetBoundary(boundary)
			w, err := mw.CreateFormFile("stream", "file.txt")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "content of %d", i)
			mw.WriteField("id", fmt.Sprint(i))
			mw.Close()

			parts, err := parser.Parse(b)
			if err != nil {
				return fmt.Errorf("parse %d: %w", i, err)
			}
			if id, _ := parts.Value("id"); id != fmt.Sprint(i) {
				return fmt.Errorf("parse %d: got id %q", i, id)
			}
			if len(parts) != 1 {
				return fmt.Errorf("parse %d: got %d parts", i, len(parts))
			}

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		t.Error(err)
	}
}

const storedBody = "--B\r\n" +
	"Content-Disposition: form-data; name=\"f\"; filename=\"f.bin\"\r\n" +
	"\r\n" +
	"stored content\r\n" +
	"--B--\r\n"

func TestStorageErrors(t *testing.T) {
	t.Parallel()

	errStorage := errors.New("storage failure")

	tests := []struct {
		description string
		setup       func(storage *mock.MockStorage, sink *mock.MockSink)
	}{
		{
			description: "create",
			setup: func(storage *mock.MockStorage, _ *mock.MockSink) {
				storage.EXPECT().Create(gomock.Any()).Return(nil, errStorage)
			},
		},
		{
			description: "write",
			setup: func(storage *mock.MockStorage, sink *mock.MockSink) {
				storage.EXPECT().Create(gomock.Any()).Return(sink, nil)
				sink.EXPECT().Write(gomock.Any()).Return(0, errStorage)
				sink.EXPECT().Abort().Return(nil)
			},
		},
		{
			description: "commit",
			setup: func(storage *mock.MockStorage, sink *mock.MockSink) {
				storage.EXPECT().Create(gomock.Any()).Return(sink, nil)
				sink.EXPECT().Write(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
					return len(p), nil
				}).AnyTimes()
				sink.EXPECT().Commit().Return(nil, errStorage)
			},
		},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			storage := mock.NewMockStorage(ctrl)
			sink := mock.NewMockSink(ctrl)
			test.setup(storage, sink)

			_, err := mimepart.Parse(strings.NewReader(storedBody), "B",
				mimepart.WithMaxMemFileSize(0),
				mimepart.WithStorage(storage),
			)
			if !errors.Is(err, errStorage) {
				t.Fatalf("unexpected error: %v", err)
			}
			if kind := mimepart.KindOf(err); kind != mimepart.KindIO {
				t.Errorf("unexpected kind: %s", kind)
			}
		})
	}
}

func TestStorageAbortOnTruncation(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	storage := mock.NewMockStorage(ctrl)
	sink := mock.NewMockSink(ctrl)

	storage.EXPECT().Create(gomock.Any()).Return(sink, nil)
	sink.EXPECT().Write(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		return len(p), nil
	}).AnyTimes()
	sink.EXPECT().Abort().Return(nil)

	_, err := mimepart.Parse(strings.NewReader(strings.TrimSuffix(storedBody, "\r\n--B--\r\n")), "B",
		mimepart.WithMaxMemFileSize(0),
		mimepart.WithStorage(storage),
	)
	if !errors.Is(err, mimepart.ErrEOFInFile) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStorageRemovedOnLaterError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	storage := mock.NewMockStorage(ctrl)
	sink := mock.NewMockSink(ctrl)
	handle := mock.NewMockHandle(ctrl)

	stored := &bytes.Buffer{}
	storage.EXPECT().Create(gomock.Any()).DoAndReturn(func(header mimepart.Header) (mimepart.Sink, error) {
		if header.FileName() != "f.bin" {
			t.Errorf("unexpected file name: %s", header.FileName())
		}
		return sink, nil
	})
	sink.EXPECT().Write(gomock.Any()).DoAndReturn(stored.Write).AnyTimes()
	sink.EXPECT().Commit().Return(handle, nil)
	handle.EXPECT().Remove().Return(nil)

	body := strings.TrimSuffix(storedBody, "--B--\r\n") +
		"--B\r\n" +
		"Content-Disposition: form-data; name=\"cut\"\r\n" +
		"\r\n" +
		"trunc"

	_, err := mimepart.Parse(strings.NewReader(body), "B",
		mimepart.WithMaxMemFileSize(0),
		mimepart.WithStorage(storage),
	)
	if !errors.Is(err, mimepart.ErrEOFInPart) {
		t.Errorf("unexpected error: %v", err)
	}
	if stored.String() != "stored content" {
		t.Errorf("unexpected stored content: %q", stored.String())
	}
}

func TestStoredFileHandle(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	storage := mock.NewMockStorage(ctrl)
	sink := mock.NewMockSink(ctrl)
	handle := mock.NewMockHandle(ctrl)

	storage.EXPECT().Create(gomock.Any()).Return(sink, nil)
	sink.EXPECT().Write(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		return len(p), nil
	}).AnyTimes()
	sink.EXPECT().Commit().Return(handle, nil)
	handle.EXPECT().Remove().Return(nil)

	parts, err := mimepart.Parse(strings.NewReader(storedBody), "B",
		mimepart.WithMaxMemFileSize(4),
		mimepart.WithStorage(storage),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, ok := parts.File("f")
	if !ok {
		t.Fatal("file missing")
	}
	if f.InMemory() || f.Handle() != handle {
		t.Error("file should be behind the committed handle")
	}
	if f.Size() != int64(len("stored content")) {
		t.Errorf("unexpected size: %d", f.Size())
	}

	if err := parts.RemoveAll(); err != nil {
		t.Errorf("failed to remove: %v", err)
	}
}

func BenchmarkMimepart(b *testing.B) {
	b.Run("1MB", func(b *testing.B) {
		benchmarkMimepart(b, 1*mimepart.MB, false)
	})
	b.Run("10MB", func(b *testing.B) {
		benchmarkMimepart(b, 10*mimepart.MB, false)
	})
	b.Run("100MB", func(b *testing.B) {
		benchmarkMimepart(b, 100*mimepart.MB, false)
	})

	b.Run("1MB Reverse", func(b *testing.B) {
		benchmarkMimepart(b, 1*mimepart.MB, true)
	})
	b.Run("10MB Reverse", func(b *testing.B) {
		benchmarkMimepart(b, 10*mimepart.MB, true)
	})
	b.Run("100MB Reverse", func(b *testing.B) {
		benchmarkMimepart(b, 100*mimepart.MB, true)
	})
}

func benchmarkMimepart(b *testing.B, fileSize mimepart.DataSize, reverse bool) {
	parser := mimepart.NewParser(boundary)

	err := parser.Register("stream", func(r io.Reader, _ mimepart.Header, parsed mimepart.Parts) error {
		_, _ = parsed.Value("field")

		_, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to copy: %w", err)
		}

		return nil
	}, mimepart.WithRequiredPart("field"))
	if err != nil {
		b.Fatal(err)
	}

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		r, err := sampleForm(fileSize, boundary, reverse)
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()

		parts, err := parser.Parse(r)
		if err != nil {
			b.Fatal(err)
		}
		parts.RemoveAll()
	}
}

func BenchmarkStdMultipart_ReadForm(b *testing.B) {
	// default value in http package
	const maxMemory = 32 * mimepart.MB

	b.Run("1MB", func(b *testing.B) {
		benchmarkStdMultipart_ReadForm(b, 1*mimepart.MB, maxMemory)
	})
	b.Run("10MB", func(b *testing.B) {
		benchmarkStdMultipart_ReadForm(b, 10*mimepart.MB, maxMemory)
	})
	b.Run("100MB", func(b *testing.B) {
		benchmarkStdMultipart_ReadForm(b, 100*mimepart.MB, maxMemory)
	})
}

func benchmarkStdMultipart_ReadForm(b *testing.B, fileSize mimepart.DataSize, maxMemory mimepart.DataSize) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		r, err := sampleForm(fileSize, boundary, false)
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()

		func() {
			mr := multipart.NewReader(r, boundary)
			form, err := mr.ReadForm(int64(maxMemory))
			if err != nil {
				b.Fatal(err)
			}
			defer form.RemoveAll()

			f, err := form.File["stream"][0].Open()
			if err != nil {
				b.Fatal(err)
			}
			defer f.Close()

			_, err = io.Copy(io.Discard, f)
			if err != nil {
				b.Fatal(err)
			}
		}()
	}
}
