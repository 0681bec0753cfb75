package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type noReplyMarker struct{}

// noReply tells the fake server to leave a request unanswered.
var noReply = noReplyMarker{}

type handlerFunc func(req *Request) (interface{}, *RPCError)

// fakeServer is an in-process MCP server connected to the client through
// io.Pipe. It records every line the client writes.
type fakeServer struct {
	reader  *bufio.Reader
	writer  io.WriteCloser
	writeMu sync.Mutex

	mu       sync.Mutex
	lines    [][]byte
	bytesIn  int
	handlers map[string]handlerFunc
}

func newFakeServer(t *testing.T) (*fakeServer, Transport) {
	t.Helper()

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	s := &fakeServer{
		reader:   bufio.NewReader(serverIn),
		writer:   serverOut,
		handlers: map[string]handlerFunc{},
	}
	s.handle(MethodInitialize, initializeWith(ProtocolVersion20250618, Capabilities{
		CapabilityTools:   map[string]interface{}{"listChanged": true},
		CapabilityLogging: map[string]interface{}{},
	}))
	s.handle(MethodPing, func(*Request) (interface{}, *RPCError) {
		return struct{}{}, nil
	})

	go s.serve()

	t.Cleanup(func() {
		_ = serverOut.Close()
		_ = serverIn.Close()
	})
	return s, NewStreamTransport(clientIn, clientOut, nil)
}

func initializeWith(version ProtocolVersion, caps Capabilities) handlerFunc {
	return func(*Request) (interface{}, *RPCError) {
		return InitializeResult{
			ProtocolVersion: version,
			Capabilities:    caps,
			ServerInfo:      Implementation{Name: "fake-server", Version: "1.0.0"},
		}, nil
	}
}

func (s *fakeServer) serve() {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			return
		}

		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.bytesIn += len(line)
		s.mu.Unlock()

		msg, err := ParseMessage(line)
		if err != nil || msg.Kind() != MessageRequest {
			continue
		}

		s.mu.Lock()
		h, ok := s.handlers[msg.Method]
		s.mu.Unlock()

		req := msg.Request()
		if !ok {
			s.replyError(req.ID, CodeMethodNotFound, "method not found")
			continue
		}

		result, rpcErr := h(req)
		switch {
		case rpcErr != nil:
			s.replyError(req.ID, rpcErr.Code, rpcErr.Message)
		case result == noReply:
		default:
			s.reply(req.ID, result)
		}
	}
}

func (s *fakeServer) handle(method string, h handlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// setToolPages serves tools/list in pages chained by cursors "page-1", "page-2", ...
func (s *fakeServer) setToolPages(pages ...[]Tool) {
	s.handle(MethodToolsList, func(req *Request) (interface{}, *RPCError) {
		var params ListToolsParams
		_ = json.Unmarshal(req.Params, &params)

		idx := 0
		if params.Cursor != "" {
			if _, err := fmt.Sscanf(params.Cursor, "page-%d", &idx); err != nil {
				return nil, &RPCError{Code: CodeInvalidParams, Message: "bad cursor"}
			}
		}
		if idx >= len(pages) {
			return ListToolsResult{Tools: []Tool{}}, nil
		}

		result := ListToolsResult{Tools: pages[idx]}
		if idx+1 < len(pages) {
			result.NextCursor = fmt.Sprintf("page-%d", idx+1)
		}
		return result, nil
	})
}

func (s *fakeServer) write(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.writeLine(string(data))
}

func (s *fakeServer) writeLine(line string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = io.WriteString(s.writer, line+"\n")
}

func (s *fakeServer) reply(id RequestID, result interface{}) {
	raw, err := json.Marshal(result)
	if err != nil {
		panic(err)
	}
	s.write(Response{JSONRPC: JSONRPCVersion, ID: id, Result: raw})
}

func (s *fakeServer) replyError(id RequestID, code int, message string) {
	s.write(Response{JSONRPC: JSONRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (s *fakeServer) notify(method string, params interface{}) {
	raw, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}
	s.write(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: raw})
}

func (s *fakeServer) closeOutput() {
	_ = s.writer.Close()
}

// received returns every message the client sent with the given method, in order.
func (s *fakeServer) received(method string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Message
	for _, line := range s.lines {
		msg, err := ParseMessage(line)
		if err == nil && msg.Method == method {
			out = append(out, msg)
		}
	}
	return out
}

// responses returns every response the client sent to server initiated requests.
func (s *fakeServer) responses() []*Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Response
	for _, line := range s.lines {
		msg, err := ParseMessage(line)
		if err == nil && msg.Kind() == MessageResponse {
			out = append(out, msg.Response())
		}
	}
	return out
}

func (s *fakeServer) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, line := range s.lines {
		if msg, err := ParseMessage(line); err == nil && msg.Method != "" {
			out = append(out, msg.Method)
		}
	}
	return out
}

func (s *fakeServer) stats() (lines int, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines), s.bytesIn
}

func (s *fakeServer) waitForRequests(t *testing.T, method string, n int) []*Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.received(method)) >= n
	}, 2*time.Second, 5*time.Millisecond, "server did not receive %d %s requests", n, method)
	return s.received(method)
}

func newReadyClient(t *testing.T, config ClientConfig) (*Client, *fakeServer) {
	t.Helper()

	srv, transport := newFakeServer(t)
	client := NewClientWithTransport(config, transport)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	require.Equal(t, StateReady, client.State())
	return client, srv
}
