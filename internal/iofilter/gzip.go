package iofilter

import (
	"compress/gzip"
	"io"

	"pig/internal/xerr"
)

// GzipWrite compresses bytes written through it, stdlib compress/gzip —
// the repository's on-disk compression format is gzip, a wire-format
// constraint rather than a library preference.
type GzipWrite struct {
	gz   *gzip.Writer
	next io.WriteCloser
}

// NewGzipWrite wraps next, compressing at level (0-9; gzip.DefaultCompression for <0).
func NewGzipWrite(level int, next io.WriteCloser) (*GzipWrite, error) {
	gz, err := gzip.NewWriterLevel(next, level)
	if err != nil {
		return nil, xerr.Wrap(xerr.OptionInvalidValue, err, "invalid gzip level %d", level)
	}
	return &GzipWrite{gz: gz, next: next}, nil
}

func (g *GzipWrite) Write(p []byte) (int, error) {
	n, err := g.gz.Write(p)
	if err != nil {
		return n, xerr.Wrap(xerr.FileWrite, err, "gzip compress")
	}
	return n, nil
}

func (g *GzipWrite) Close() error {
	if err := g.gz.Close(); err != nil {
		return xerr.Wrap(xerr.FileWrite, err, "gzip flush trailer")
	}
	return g.next.Close()
}

func (g *GzipWrite) Result() interface{} { return nil }

// GzipRead decompresses bytes read from next.
type GzipRead struct {
	gz   *gzip.Reader
	next io.ReadCloser
}

func NewGzipRead(next io.ReadCloser) (*GzipRead, error) {
	gz, err := gzip.NewReader(next)
	if err != nil {
		return nil, xerr.Wrap(xerr.FileRead, err, "open gzip stream")
	}
	return &GzipRead{gz: gz, next: next}, nil
}

func (g *GzipRead) Read(p []byte) (int, error) {
	n, err := g.gz.Read(p)
	if err != nil && err != io.EOF {
		return n, xerr.Wrap(xerr.FileRead, err, "gzip decompress")
	}
	return n, err
}

func (g *GzipRead) Close() error {
	g.gz.Close()
	return g.next.Close()
}

func (g *GzipRead) Result() interface{} { return nil }
