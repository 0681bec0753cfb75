// Package mcp implements the client side of the Model Context Protocol over
// a child process speaking newline-delimited JSON-RPC 2.0 on stdin/stdout.
//
// A Client spawns the server, negotiates a protocol version, discovers the
// server's tools into a ToolRegistry and brokers concurrent tool calls.
// Every failure is reported as an *Error whose Kind tells transport faults,
// protocol violations, timeouts, argument validation failures and tool
// execution failures apart.
//
// Example:
//
//	package main
//
//	import (
//		"context"
//		"encoding/json"
//		"fmt"
//		"log"
//
//		"github.com/shaharia-lab/mcpclient/mcp"
//	)
//
//	func main() {
//		client := mcp.NewClient(mcp.ClientConfig{
//			Transport: mcp.TransportConfig{
//				Command: "npx",
//				Args:    []string{"-y", "@modelcontextprotocol/server-everything"},
//			},
//		})
//		defer client.Close()
//
//		ctx := context.Background()
//		if err := client.Connect(ctx); err != nil {
//			log.Fatal(err)
//		}
//		if _, err := client.DiscoverTools(ctx); err != nil {
//			log.Fatal(err)
//		}
//
//		result, err := client.Registry().Call(ctx, "echo", json.RawMessage(`{"message":"hello"}`))
//		if err != nil {
//			log.Fatal(err)
//		}
//		if !result.Success {
//			log.Fatal(result.Error)
//		}
//		fmt.Println(result.Text())
//	}
package mcp
