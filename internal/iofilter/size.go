package iofilter

import (
	"io"

	"go.uber.org/atomic"
)

// SizeWrite tallies bytes written, passing them through unchanged. The
// counter is go.uber.org/atomic so a caller may read Result() from
// another goroutine (e.g. the executor reporting progress) while the
// copy is still running.
type SizeWrite struct {
	next io.WriteCloser
	n    atomic.Uint64
}

func NewSizeWrite(next io.WriteCloser) *SizeWrite { return &SizeWrite{next: next} }

func (s *SizeWrite) Write(p []byte) (int, error) {
	n, err := s.next.Write(p)
	s.n.Add(uint64(n))
	return n, err
}

func (s *SizeWrite) Close() error { return s.next.Close() }

// Result returns the total bytes written, as uint64.
func (s *SizeWrite) Result() interface{} { return s.n.Load() }

// SizeRead tallies bytes read from next.
type SizeRead struct {
	next io.ReadCloser
	n    atomic.Uint64
}

func NewSizeRead(next io.ReadCloser) *SizeRead { return &SizeRead{next: next} }

func (s *SizeRead) Read(p []byte) (int, error) {
	n, err := s.next.Read(p)
	s.n.Add(uint64(n))
	return n, err
}

func (s *SizeRead) Close() error { return s.next.Close() }

func (s *SizeRead) Result() interface{} { return s.n.Load() }
