package binder

import (
	"io"
	"sync"
)

// WriterSurface presents a track by writing its Annex-B stream to an
// io.Writer such as stdout, a file or a pipe into a player.
type WriterSurface struct {
	name string

	mu      sync.Mutex
	w       io.Writer
	written int64
}

// NewWriterSurface creates a surface named name writing to w. A nil w
// discards everything.
func NewWriterSurface(name string, w io.Writer) *WriterSurface {
	if w == nil {
		w = io.Discard
	}
	return &WriterSurface{name: name, w: w}
}

func (s *WriterSurface) Name() string { return s.name }

func (s *WriterSurface) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.w.Write(p)
	s.written += int64(n)
	return n, err
}

// Clear resets the byte counter. The underlying writer is left open; the
// owner closes it.
func (s *WriterSurface) Clear() {
	s.mu.Lock()
	s.written = 0
	s.mu.Unlock()
}

// Written returns the bytes presented since the last Clear.
func (s *WriterSurface) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
