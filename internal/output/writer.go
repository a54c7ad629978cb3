package output

import (
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Formatter formats an Event into bytes for output.
// buf is a reusable buffer: implementations append to it and return the
// result. Callers can pass buf[:0] to reuse the underlying array.
type Formatter interface {
	Format(buf []byte, ev Event) []byte
}

// Writer writes to a file descriptor with writev, so a batch of formatted
// events goes out in one syscall.
type Writer struct {
	fd int
}

// NewWriter creates a Writer for f.
func NewWriter(f *os.File) *Writer {
	return &Writer{fd: int(f.Fd())}
}

// Write implements io.Writer.
func (w *Writer) Write(data []byte) (int, error) {
	total := len(data)
	if err := w.WriteBatch([][]byte{data}); err != nil {
		return total - len(data), err
	}
	return total, nil
}

// WriteBatch writes every buffer in order, retrying short writes.
func (w *Writer) WriteBatch(bufs [][]byte) error {
	for len(bufs) > 0 {
		if len(bufs[0]) == 0 {
			bufs = bufs[1:]
			continue
		}
		n, err := unix.Writev(w.fd, bufs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		for n > 0 && len(bufs) > 0 {
			if n >= len(bufs[0]) {
				n -= len(bufs[0])
				bufs = bufs[1:]
				continue
			}
			bufs[0] = bufs[0][n:]
			n = 0
		}
	}
	return nil
}

// StreamSink formats events and writes them to an io.Writer. Result
// events are buffered and flushed in batches at every lifecycle event; a
// *Writer receives each batch as one writev call.
type StreamSink struct {
	mu      sync.Mutex
	w       io.Writer
	f       Formatter
	pending [][]byte
	matched bool
	err     error
}

// NewStreamSink creates a StreamSink.
func NewStreamSink(w io.Writer, f Formatter) *StreamSink {
	return &StreamSink{w: w, f: f}
}

func (s *StreamSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Type == EventResult && ev.Err == nil && len(ev.Matches) > 0 {
		s.matched = true
	}
	data := s.f.Format(nil, ev)
	if len(data) > 0 {
		s.pending = append(s.pending, data)
	}
	if ev.Type != EventResult || len(s.pending) >= 64 {
		s.flush()
	}
}

// Flush writes any buffered output.
func (s *StreamSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flush()
	return s.err
}

// Matched reports whether any result with a match was emitted.
func (s *StreamSink) Matched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matched
}

func (s *StreamSink) flush() {
	if len(s.pending) == 0 || s.err != nil {
		s.pending = s.pending[:0]
		return
	}
	if bw, ok := s.w.(*Writer); ok {
		s.err = bw.WriteBatch(s.pending)
	} else {
		for _, p := range s.pending {
			if _, err := s.w.Write(p); err != nil {
				s.err = err
				break
			}
		}
	}
	s.pending = s.pending[:0]
}
