package document

import (
	"bytes"
	"sync"
)

// StreamFactory is the thread-safe allocator of cached streams: each
// Stream is owned by a single reference's processing and released in
// finalize. It pools buffers so a high-throughput crawl
// does not churn one allocation per reference. Nothing in the
// dependency stack wraps a pooled byte-buffer allocator; sync.Pool is
// stdlib and the right tool for this narrow concern — see DESIGN.md.
type StreamFactory struct {
	pool sync.Pool
}

// NewStreamFactory constructs a StreamFactory.
func NewStreamFactory() *StreamFactory {
	return &StreamFactory{
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// NewStream allocates a Stream backed by a pooled buffer.
func (f *StreamFactory) NewStream() *Stream {
	buf, _ := f.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return &Stream{factory: f, buf: buf}
}

// Stream is a reference-scoped content buffer. Write during import,
// Bytes to read back, Release to return it to the factory's pool.
type Stream struct {
	factory *StreamFactory
	buf     *bytes.Buffer
	mu      sync.Mutex
}

// Write appends p to the stream's content.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return 0, nil
	}
	return s.buf.Write(p)
}

// Bytes returns the content written so far.
func (s *Stream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return nil
	}
	return s.buf.Bytes()
}

// Release returns the backing buffer to the factory's pool. Safe to call
// more than once.
func (s *Stream) Release() {
	s.mu.Lock()
	buf := s.buf
	s.buf = nil
	s.mu.Unlock()
	if buf != nil && s.factory != nil {
		s.factory.pool.Put(buf)
	}
}
