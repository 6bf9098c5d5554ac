// Package bytestream provides the bounded one-producer/one-consumer byte
// pipe used by every Store's update/get_part contract. It behaves like
// io.Pipe but with an explicit bounded capacity: writes block once the
// configured number of in-flight bytes is exceeded, providing the
// back-pressure the store decorators rely on, and either side can be closed
// independently with an explicit error that the other side observes.
package bytestream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosedPipe is returned by Read/Write after the opposite end has closed
// the pipe with no explicit error (a "drop close").
var ErrClosedPipe = errors.New("bytestream: read/write on closed pipe")

// defaultCapacity bounds how many bytes may be buffered between a Write
// returning and the matching Read draining them, before Write blocks.
const defaultCapacity = 4 << 20 // 4 MiB

// chunk is a single buffered write awaiting a reader.
type chunk struct {
	data []byte
	err  error // non-nil only on the final, empty "EOF" chunk
}

// Pipe is a bounded byte channel with one writer and one reader. The zero
// value is not usable; construct with New.
type Pipe struct {
	capacity int64
	chunks   chan chunk

	mu       sync.Mutex
	pending  int64 // bytes written but not yet Read
	readErr  error // sticky error returned to future Writes once set
	writeErr error // sticky error returned to future Reads once set
	closed   bool

	leftover []byte // unread tail of a chunk larger than the reader's buffer

	notifyRead  chan struct{}
	writeClosed chan struct{}
}

// New creates a Pipe with the given back-pressure capacity in bytes. A
// non-positive capacity uses defaultCapacity.
func New(capacity int64) *Pipe {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Pipe{
		capacity:    capacity,
		chunks:      make(chan chunk, 64),
		notifyRead:  make(chan struct{}, 1),
		writeClosed: make(chan struct{}),
	}
}

// Write is the producer side's write call. It blocks until the
// reader has drained enough of the backlog to stay under capacity, or until
// ctx is done.
func (p *Pipe) Write(ctx context.Context, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.pending+int64(len(data)) <= p.capacity || p.pending == 0 {
			p.pending += int64(len(data))
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.notifyRead:
		case <-p.writeClosed:
			return 0, ErrClosedPipe
		}
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	select {
	case p.chunks <- chunk{data: cp}:
		return len(data), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// CloseWrite signals EOF (err == nil) or a terminal write-side error to the
// reader. It must be called exactly once by the producer when done.
func (p *Pipe) CloseWrite(err error) {
	if err == nil {
		err = io.EOF
	}
	select {
	case p.chunks <- chunk{err: err}:
	default:
		// Reader already gone; deliver asynchronously so CloseWrite never blocks.
		go func() { p.chunks <- chunk{err: err} }()
	}
}

// Read is the consumer side's read call. Once the final buffered chunk has
// been delivered, it returns io.EOF (or the writer's close error) on that
// and every later call.
func (p *Pipe) Read(ctx context.Context, buf []byte) (int, error) {
	if len(p.leftover) > 0 {
		n := copy(buf, p.leftover)
		p.leftover = p.leftover[n:]
		return n, nil
	}

	p.mu.Lock()
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	p.mu.Unlock()

	select {
	case c := <-p.chunks:
		if c.err != nil {
			p.mu.Lock()
			p.readErr = c.err
			p.mu.Unlock()
			return 0, c.err
		}
		n := copy(buf, c.data)
		p.mu.Lock()
		p.pending -= int64(len(c.data))
		p.mu.Unlock()
		p.signalReader()
		if n < len(c.data) {
			// Caller's buffer was smaller than the chunk; keep the remainder
			// so the next Read returns it before any later chunk.
			p.leftover = c.data[n:]
		}
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// CloseRead signals to any blocked or future Write that the reader has gone
// away. Subsequent Writes observe ErrClosedPipe (or the provided err).
func (p *Pipe) CloseRead(err error) {
	if err == nil {
		err = ErrClosedPipe
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.writeErr = err
	p.mu.Unlock()
	close(p.writeClosed)
}

func (p *Pipe) signalReader() {
	select {
	case p.notifyRead <- struct{}{}:
	default:
	}
}

// CopyTo drains the pipe into w until EOF, honoring ctx. It is a convenience
// used by stores that just want to forward bytes without touching the
// back-pressure machinery directly.
func (p *Pipe) CopyTo(ctx context.Context, w io.Writer) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := p.Read(ctx, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// FillFrom pumps bytes from r into the pipe until r is exhausted, then calls
// CloseWrite. Intended to be run in its own goroutine by the producer.
func (p *Pipe) FillFrom(ctx context.Context, r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := p.Write(ctx, buf[:n]); werr != nil {
				p.CloseWrite(werr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.CloseWrite(nil)
			} else {
				p.CloseWrite(err)
			}
			return
		}
	}
}
