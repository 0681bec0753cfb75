package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaharia-lab/mcpclient/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "MCPCLIENT_CMD_HELPER"

// TestHelperServer is the MCP server the CLI tests spawn.
func TestHelperServer(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process only")
	}

	out := json.NewEncoder(os.Stdout)
	reply := func(id mcp.RequestID, result interface{}) {
		raw, _ := json.Marshal(result)
		_ = out.Encode(mcp.Response{JSONRPC: mcp.JSONRPCVersion, ID: id, Result: raw})
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		msg, err := mcp.ParseMessage(scanner.Bytes())
		if err != nil || msg.Kind() != mcp.MessageRequest {
			continue
		}
		req := msg.Request()

		switch req.Method {
		case mcp.MethodInitialize:
			reply(req.ID, mcp.InitializeResult{
				ProtocolVersion: mcp.ProtocolVersion20250618,
				Capabilities:    mcp.Capabilities{mcp.CapabilityTools: map[string]interface{}{}},
				ServerInfo:      mcp.Implementation{Name: "cli-helper", Version: "1.0.0"},
			})
		case mcp.MethodToolsList:
			reply(req.ID, mcp.ListToolsResult{Tools: []mcp.Tool{
				{Name: "echo", Description: "Echo a message", InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`)},
				{Name: "fail", Description: "Always fails"},
				{Name: "hidden", Description: "Not allowed"},
			}})
		case mcp.MethodToolsCall:
			var params mcp.CallToolParams
			_ = json.Unmarshal(req.Params, &params)
			if params.Name == "fail" {
				reply(req.ID, mcp.CallToolResult{IsError: true, Content: []mcp.ToolResultContent{{Type: mcp.ContentTypeText, Text: "boom"}}})
				continue
			}
			var args struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(params.Arguments, &args)
			reply(req.ID, mcp.CallToolResult{Content: []mcp.ToolResultContent{{Type: mcp.ContentTypeText, Text: args.Message}}})
		default:
			_ = out.Encode(mcp.Response{
				JSONRPC: mcp.JSONRPCVersion,
				ID:      req.ID,
				Error:   &mcp.RPCError{Code: mcp.CodeMethodNotFound, Message: "method not found"},
			})
		}
	}
	os.Exit(0)
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
log:
  backend: none
journal:
  path: %q
servers:
  helper:
    command: %q
    args: ["-test.run=^TestHelperServer$"]
    env:
      %s: "1"
    handshake_timeout: 10s
    allowed_tools: [echo, fail]
`, filepath.Join(dir, "journal.db"), os.Args[0], helperEnv)

	path := filepath.Join(dir, "mcpclient.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	err := run(ctx, &stdout, &stderr, args)
	return stdout.String(), err
}

func TestRun_Usage(t *testing.T) {
	out, err := runCLI(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage: mcpclient")

	_, err = runCLI(t, "frobnicate")
	assert.ErrorContains(t, err, "unknown command")

	_, err = runCLI(t, "-verbose", "list")
	assert.ErrorContains(t, err, "unknown flag")

	_, err = runCLI(t, "-o", "yaml", "list")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = runCLI(t, "call")
	assert.ErrorContains(t, err, "usage: mcpclient call")
}

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-config=c.yaml", "-server", "s1", "-o=json", "call", "echo", `{"message":"hi"}`})
	require.NoError(t, err)
	assert.Equal(t, options{
		configPath: "c.yaml",
		serverName: "s1",
		outputFmt:  "json",
		command:    "call",
		args:       []string{"echo", `{"message":"hi"}`},
	}, opts)
}

func TestRun_EndToEnd(t *testing.T) {
	path := writeTestConfig(t)

	out, err := runCLI(t, "-config", path, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "Echo a message")
	assert.NotContains(t, out, "hidden")

	out, err = runCLI(t, "-config", path, "call", "echo", `{"message":"hello there"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello there\n", out)

	_, err = runCLI(t, "-config", path, "call", "echo", `{"msg":1}`)
	assert.True(t, mcp.IsKind(err, mcp.KindValidation), "got %v", err)

	out, err = runCLI(t, "-config", path, "call", "fail")
	assert.True(t, mcp.IsKind(err, mcp.KindToolExecution), "got %v", err)
	assert.Equal(t, "boom\n", out)

	_, err = runCLI(t, "-config", path, "call", "hidden")
	assert.True(t, mcp.IsKind(err, mcp.KindValidation), "got %v", err)

	out, err = runCLI(t, "-config", path, "-o", "json", "history", "echo")
	require.NoError(t, err)
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "echo", entries[0]["tool"])
	assert.Equal(t, false, entries[0]["success"])
	assert.Equal(t, true, entries[1]["success"])
}

func TestRun_ConfigErrors(t *testing.T) {
	_, err := runCLI(t, "-config", filepath.Join(t.TempDir(), "missing.yaml"), "list")
	assert.ErrorContains(t, err, "config file not found")
}
