package stream

import (
	"context"
	"fmt"
	"io"
	"sync"

	"chatgraph/agent"

	"github.com/sirupsen/logrus"
)

// DefaultHighWaterMark is the number of encoded frames buffered ahead of a
// slow client before Send blocks.
const DefaultHighWaterMark = 1024

type flusher interface {
	Flush()
}

// Transport writes frames to a client connection. A single writer goroutine
// drains a bounded queue so the producer is throttled by the client, never
// the other way round. The first write error closes the transport; later
// sends fail with agent.ErrTransportClosed.
type Transport struct {
	w       io.Writer
	queue   chan []byte
	closing chan struct{}
	done    chan struct{}
	logger  logrus.FieldLogger

	mu      sync.Mutex
	err     error
	closed  bool
	written int
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHighWaterMark sets the queue capacity in frames.
func WithHighWaterMark(n int) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.queue = make(chan []byte, n)
		}
	}
}

// WithTransportLogger sets the logger used for write and close failures.
func WithTransportLogger(logger logrus.FieldLogger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport starts a transport over w. If w implements Flush (as
// echo.Response and http.ResponseWriter do) every frame is flushed.
func NewTransport(w io.Writer, opts ...TransportOption) *Transport {
	t := &Transport{
		w:       w,
		queue:   make(chan []byte, DefaultHighWaterMark),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.writeLoop()
	return t
}

// Send queues one frame, blocking while the queue is full. ctx only bounds
// the wait for room in the queue.
func (t *Transport) Send(ctx context.Context, f Frame) error {
	data, err := Encode(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Type, err)
	}

	select {
	case <-t.done:
		return t.closedErr()
	case <-t.closing:
		return t.closedErr()
	default:
	}

	// A free slot wins over a cancelled ctx so frames of an execution that is
	// being stopped (a tool_end after its tool_start) still go out in order.
	select {
	case t.queue <- data:
		return nil
	default:
	}

	select {
	case t.queue <- data:
		return nil
	case <-t.done:
		return t.closedErr()
	case <-t.closing:
		return t.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the write error that closed the transport, if any.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Written returns the number of frames delivered to the writer.
func (t *Transport) Written() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// Close flushes queued frames and stops the writer. It is safe to call more
// than once and always waits for the writer goroutine. The returned error is
// meant for logging only; the connection is ending anyway.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.closing)
	}
	t.mu.Unlock()

	<-t.done
	return t.Err()
}

func (t *Transport) closedErr() error {
	if err := t.Err(); err != nil {
		return fmt.Errorf("%w: %v", agent.ErrTransportClosed, err)
	}
	return agent.ErrTransportClosed
}

func (t *Transport) writeLoop() {
	defer close(t.done)
	for {
		select {
		case data := <-t.queue:
			if !t.write(data) {
				return
			}
		case <-t.closing:
			for {
				select {
				case data := <-t.queue:
					if !t.write(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (t *Transport) write(data []byte) (ok bool) {
	defer func() {
		// Flushing a connection the client already dropped can panic in
		// some ResponseWriter implementations.
		if r := recover(); r != nil {
			t.setErr(fmt.Errorf("flush failed: %v", r))
			ok = false
		}
	}()

	if _, err := t.w.Write(data); err != nil {
		t.setErr(err)
		return false
	}
	if f, isFlusher := t.w.(flusher); isFlusher {
		f.Flush()
	}

	t.mu.Lock()
	t.written++
	t.mu.Unlock()
	return true
}

func (t *Transport) setErr(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	t.logger.WithError(err).Info("Stream write failed, closing transport")
}
