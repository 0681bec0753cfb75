package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/shaharia-lab/mcpclient/observability"
)

// Transport moves newline-delimited JSON-RPC messages between the client and
// a server.
type Transport interface {
	// Start makes the transport ready to exchange messages.
	Start(ctx context.Context) error
	// Send writes one message. The message must not contain a newline.
	Send(ctx context.Context, msg []byte) error
	// Messages yields inbound lines in arrival order. Every call returns a
	// new sequence that continues where the previous one stopped. Only one
	// sequence may be consumed at a time.
	Messages() iter.Seq2[[]byte, error]
	// Done is closed once the transport can no longer deliver messages.
	Done() <-chan struct{}
	// Err explains why Done was closed.
	Err() error
	// Close releases the transport. It is safe to call more than once.
	Close() error
}

// StreamTransport frames messages over a reader and a writer. StdIOTransport
// runs one over the pipes of a child process.
type StreamTransport struct {
	reader       *bufio.Reader
	readerCloser io.Closer
	writer       io.WriteCloser
	writeMu      sync.Mutex
	logger       observability.Logger

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	mu        sync.RWMutex
	err       error
	closed    bool
}

// NewStreamTransport creates a StreamTransport reading from r and writing to
// w. If r is also an io.Closer it is closed by Close.
func NewStreamTransport(r io.Reader, w io.WriteCloser, logger observability.Logger) *StreamTransport {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	t := &StreamTransport{
		reader: bufio.NewReader(r),
		writer: w,
		logger: logger,
		done:   make(chan struct{}),
	}
	if rc, ok := r.(io.Closer); ok {
		t.readerCloser = rc
	}
	return t
}

// Start reports whether the transport is still usable. Streams are connected
// on construction.
func (t *StreamTransport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return t.Err()
	default:
		return nil
	}
}

func (t *StreamTransport) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.IndexByte(msg, '\n') >= 0 {
		return fmt.Errorf("message contains a newline and cannot be framed")
	}
	if t.isClosed() {
		return ErrTransportClosed
	}

	frame := make([]byte, 0, len(msg)+1)
	frame = append(frame, msg...)
	frame = append(frame, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(frame); err != nil {
		if t.isClosed() {
			return ErrTransportClosed
		}
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (t *StreamTransport) Messages() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			line, err := t.reader.ReadBytes('\n')
			if err != nil {
				if len(bytes.TrimSpace(line)) > 0 {
					t.logger.WithFields(map[string]interface{}{"bytes": len(line)}).
						Debug("Discarding unterminated trailing message")
				}
				if t.isClosed() {
					return
				}
				t.finish(err)
				if errors.Is(err, io.EOF) {
					return
				}
				yield(nil, err)
				return
			}

			line = bytes.TrimRight(line, "\r\n")
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}

func (t *StreamTransport) Done() <-chan struct{} {
	return t.done
}

func (t *StreamTransport) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		err = t.closeWriter()
		if t.readerCloser != nil {
			if rerr := t.readerCloser.Close(); rerr != nil && err == nil {
				err = rerr
			}
		}
		t.finish(ErrTransportClosed)
	})
	return err
}

// closeWriter signals end of input to the peer. It does not take writeMu so
// that a Send blocked on a full pipe is released.
func (t *StreamTransport) closeWriter() error {
	if err := t.writer.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

func (t *StreamTransport) finish(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *StreamTransport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
