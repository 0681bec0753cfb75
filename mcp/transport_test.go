package mcp

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func collect(t *testing.T, tr *StreamTransport) []string {
	t.Helper()
	var out []string
	for line, err := range tr.Messages() {
		require.NoError(t, err)
		out = append(out, string(line))
	}
	return out
}

func TestStreamTransport_FramesPartialReads(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewStreamTransport(pr, nopWriteCloser{io.Discard}, nil)

	go func() {
		// One message split across writes, a CRLF line, blank lines and
		// two messages in a single write.
		for _, chunk := range []string{
			`{"jsonrpc":"2.0",`, `"method":"a"}` + "\n",
			"\n   \n",
			`{"jsonrpc":"2.0","method":"b"}` + "\r\n",
			`{"id":1}` + "\n" + `{"id":2}` + "\n",
			`{"trailing":`,
		} {
			_, _ = pw.Write([]byte(chunk))
		}
		_ = pw.Close()
	}()

	got := collect(t, tr)
	assert.Equal(t, []string{
		`{"jsonrpc":"2.0","method":"a"}`,
		`{"jsonrpc":"2.0","method":"b"}`,
		`{"id":1}`,
		`{"id":2}`,
	}, got)

	<-tr.Done()
	assert.ErrorIs(t, tr.Err(), io.EOF)
}

func TestStreamTransport_MessagesIsRestartable(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewStreamTransport(pr, nopWriteCloser{io.Discard}, nil)

	go func() {
		_, _ = pw.Write([]byte("one\ntwo\nthree\n"))
		_ = pw.Close()
	}()

	for line := range tr.Messages() {
		assert.Equal(t, "one", string(line))
		break
	}
	assert.Equal(t, []string{"two", "three"}, collect(t, tr))
}

func TestStreamTransport_Send(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewStreamTransport(eofReader{}, pw, nil)

	lines := make(chan string, 2)
	go func() {
		r := bufio.NewReader(pr)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	require.NoError(t, tr.Send(context.Background(), []byte(`{"a":1}`)))
	assert.Equal(t, "{\"a\":1}\n", <-lines)

	err := tr.Send(context.Background(), []byte("{\"a\":\n1}"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Send(ctx, []byte(`{}`)), context.Canceled)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(context.Background(), []byte(`{}`)), ErrTransportClosed)

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
}

func TestStreamTransport_CloseUnblocksReader(t *testing.T) {
	pr, _ := io.Pipe()
	_, pw := io.Pipe()
	tr := NewStreamTransport(pr, pw, nil)

	done := make(chan []string)
	go func() { done <- collect(t, tr) }()

	require.NoError(t, tr.Close())
	select {
	case got := <-done:
		assert.Empty(t, got)
	case <-time.After(time.Second):
		t.Fatal("Messages did not end after Close")
	}
	assert.ErrorIs(t, tr.Err(), ErrTransportClosed)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
