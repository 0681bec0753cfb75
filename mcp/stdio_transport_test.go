package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaharia-lab/mcpclient/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperModeEnv = "MCPCLIENT_TEST_HELPER_MODE"

// helperTransport re-executes the test binary as an MCP server running the
// given mode.
func helperTransport(mode string) TransportConfig {
	return TransportConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=^TestHelperMCPServer$"},
		Env:     map[string]string{helperModeEnv: mode},
	}
}

// TestHelperMCPServer is not a real test. It is the server side of the
// subprocess tests below.
func TestHelperMCPServer(t *testing.T) {
	mode := os.Getenv(helperModeEnv)
	if mode == "" {
		t.Skip("helper process only")
	}

	switch mode {
	case "exit":
		fmt.Fprintln(os.Stderr, "refusing to start")
		os.Exit(3)
	case "stubborn":
		// Ignores stdin EOF so the client has to kill it.
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	runHelperServer()
	os.Exit(0)
}

func runHelperServer() {
	fmt.Fprintln(os.Stderr, "helper server starting")

	out := json.NewEncoder(os.Stdout)
	reply := func(id RequestID, result interface{}) {
		raw, _ := json.Marshal(result)
		_ = out.Encode(Response{JSONRPC: JSONRPCVersion, ID: id, Result: raw})
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		msg, err := ParseMessage(scanner.Bytes())
		if err != nil || msg.Kind() != MessageRequest {
			continue
		}
		req := msg.Request()

		switch req.Method {
		case MethodInitialize:
			reply(req.ID, InitializeResult{
				ProtocolVersion: ProtocolVersion20250618,
				Capabilities:    Capabilities{CapabilityTools: map[string]interface{}{}},
				ServerInfo:      Implementation{Name: "helper", Version: "0.0.1"},
			})
		case MethodPing:
			reply(req.ID, struct{}{})
		case MethodToolsList:
			reply(req.ID, ListToolsResult{Tools: []Tool{
				{Name: "echo", InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`)},
				{Name: "whereami", InputSchema: json.RawMessage(`{"type":"object"}`)},
			}})
		case MethodToolsCall:
			var params CallToolParams
			_ = json.Unmarshal(req.Params, &params)

			var text string
			switch params.Name {
			case "echo":
				var args struct {
					Message string `json:"message"`
				}
				_ = json.Unmarshal(params.Arguments, &args)
				text = args.Message
			case "whereami":
				wd, _ := os.Getwd()
				text = os.Getenv("MCPCLIENT_TEST_VALUE") + "|" + filepath.Base(wd)
			}
			reply(req.ID, CallToolResult{Content: []ToolResultContent{{Type: ContentTypeText, Text: text}}})
		default:
			_ = out.Encode(Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Error:   &RPCError{Code: CodeMethodNotFound, Message: "method not found"},
			})
		}
	}
}

func TestStdIOTransport_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	tc := helperTransport("server")
	tc.Env["MCPCLIENT_TEST_VALUE"] = "from-env"
	tc.Dir = dir

	client := NewClient(ClientConfig{Transport: tc, HandshakeTimeout: 10 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	assert.Equal(t, ProtocolVersion20250618, client.ProtocolVersion())
	assert.Equal(t, "helper", client.ServerInfo().Name)

	n, err := client.DiscoverTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	result, err := client.Registry().Call(ctx, "echo", json.RawMessage(`{"message":"hello"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Text())

	_, err = client.Registry().Call(ctx, "echo", json.RawMessage(`{"msg":"hello"}`))
	assert.True(t, IsKind(err, KindValidation))

	result, err = client.Registry().Call(ctx, "whereami", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env|"+filepath.Base(dir), result.Text())

	require.NoError(t, client.Ping(ctx))

	require.NoError(t, client.Close())
	assert.Equal(t, StateClosed, client.State())
	assert.ErrorIs(t, client.Err(), ErrSessionClosed)
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var transitionPattern = regexp.MustCompile(`Session state changed .*from=(\w+) .*to=(\w+)`)

// transitions extracts the "from->to" state changes from a debug log.
func transitions(log string) []string {
	var out []string
	for _, line := range strings.Split(log, "\n") {
		if m := transitionPattern.FindStringSubmatch(line); m != nil {
			out = append(out, m[1]+"->"+m[2])
		}
	}
	return out
}

func TestStdIOTransport_CommandNotFound(t *testing.T) {
	logs := &syncBuffer{}
	client := NewClient(ClientConfig{
		Transport: TransportConfig{Command: filepath.Join(t.TempDir(), "no-such-server")},
		Logger:    observability.NewDefaultLoggerWithWriter(logs, observability.DebugLevel),
	})

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransport), "got %v", err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
	assert.Equal(t, StateClosed, client.State())
	assert.NoError(t, client.Close())

	// The process never started, so the handshake states are skipped.
	assert.Equal(t, []string{"disconnected->connecting", "connecting->closed"}, transitions(logs.String()))
}

func TestStdIOTransport_EmptyCommand(t *testing.T) {
	client := NewClient(ClientConfig{})
	err := client.Connect(context.Background())
	assert.True(t, IsKind(err, KindTransport), "got %v", err)
	assert.Equal(t, StateClosed, client.State())
}

func TestStdIOTransport_ProcessExitsImmediately(t *testing.T) {
	logs := &syncBuffer{}
	client := NewClient(ClientConfig{
		Transport:        helperTransport("exit"),
		HandshakeTimeout: 20 * time.Second,
		Logger:           observability.NewDefaultLoggerWithWriter(logs, observability.DebugLevel),
	})

	start := time.Now()
	err := client.Connect(context.Background())
	require.Error(t, err)

	assert.True(t, IsKind(err, KindTransport), "got %v", err)
	assert.False(t, IsKind(err, KindTimeout))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, StateClosed, client.State())

	// The spawn succeeded, so the session passes through Handshaking and
	// Closing and never reaches Ready.
	assert.Equal(t, []string{
		"disconnected->connecting",
		"connecting->handshaking",
		"handshaking->closing",
		"closing->closed",
	}, transitions(logs.String()))
}

func TestStdIOTransport_CloseKillsUnresponsiveProcess(t *testing.T) {
	tc := helperTransport("stubborn")
	tc.GracePeriod = 200 * time.Millisecond
	tr := NewStdIOTransport(tc, nil)

	require.NoError(t, tr.Start(context.Background()))

	start := time.Now()
	require.NoError(t, tr.Close())
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-tr.Done():
	default:
		t.Fatal("process still running after Close")
	}
	assert.Error(t, tr.Err())

	assert.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(context.Background(), []byte(`{}`)), ErrTransportClosed)
}

func TestStdIOTransport_StartTwice(t *testing.T) {
	tr := NewStdIOTransport(helperTransport("server"), nil)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	assert.Error(t, tr.Start(context.Background()))
}

func TestTransportConfig_CloneIsIndependent(t *testing.T) {
	orig := TransportConfig{Command: "srv", Args: []string{"a"}, Env: map[string]string{"K": "v"}}
	tr := NewStdIOTransport(orig, nil)

	orig.Args[0] = "changed"
	orig.Env["K"] = "changed"

	assert.Equal(t, []string{"a"}, tr.config.Args)
	assert.Equal(t, "v", tr.config.Env["K"])
	assert.Equal(t, defaultGracePeriod, tr.config.GracePeriod)
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"PATH=/bin", "HOME=/root"}, map[string]string{"Z": "1", "HOME": "/tmp"})
	assert.Equal(t, []string{"PATH=/bin", "HOME=/root", "HOME=/tmp", "Z=1"}, got)

	base := []string{"A=1"}
	assert.Equal(t, base, mergeEnv(base, nil))
}
