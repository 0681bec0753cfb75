package mcp

import (
	"encoding/json"
	"strings"
)

// ConnectionState is the lifecycle state of a client session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Method names used by the client.
const (
	MethodInitialize  = "initialize"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodSetLogLevel = "logging/setLevel"

	NotifyInitialized  = "notifications/initialized"
	NotifyCancelled    = "notifications/cancelled"
	NotifyLogMessage   = "notifications/message"
	NotifyToolsChanged = "notifications/tools/list_changed"
	NotifyProgress     = "notifications/progress"
)

const (
	ContentTypeText         = "text"
	ContentTypeImage        = "image"
	ContentTypeAudio        = "audio"
	ContentTypeResource     = "resource"
	ContentTypeResourceLink = "resource_link"

	CapabilityTools    = "tools"
	CapabilityLogging  = "logging"
	CapabilityRoots    = "roots"
	CapabilitySampling = "sampling"

	defaultClientName    = "mcpclient"
	defaultClientVersion = "0.1.0"
)

// Implementation names a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities is a feature map as exchanged during initialize.
type Capabilities map[string]interface{}

// Has reports whether the named capability was advertised.
func (c Capabilities) Has(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c[name]
	return ok
}

// Sub returns the nested options of a capability, or nil.
func (c Capabilities) Sub(name string) map[string]interface{} {
	if v, ok := c[name].(map[string]interface{}); ok {
		return v
	}
	return nil
}

type InitializeParams struct {
	ProtocolVersion ProtocolVersion `json:"protocolVersion"`
	Capabilities    Capabilities    `json:"capabilities"`
	ClientInfo      Implementation  `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion ProtocolVersion `json:"protocolVersion"`
	Capabilities    Capabilities    `json:"capabilities"`
	ServerInfo      Implementation  `json:"serverInfo"`
	Instructions    string          `json:"instructions,omitempty"`
}

// Tool is a tool definition as advertised by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolResultContent is one content block of a tool result: text, image,
// audio, an embedded resource or a resource link.
type ToolResultContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// Resource holds the contents of an embedded resource block.
	Resource *ResourceContents `json:"resource,omitempty"`

	// resource_link blocks.
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	Annotations json.RawMessage `json:"annotations,omitempty"`
	Meta        json.RawMessage `json:"_meta,omitempty"`
}

// ResourceContents is a resource embedded in a tool result. Exactly one of
// Text and Blob (base64) is normally set.
type ResourceContents struct {
	URI      string          `json:"uri"`
	MimeType string          `json:"mimeType,omitempty"`
	Text     string          `json:"text,omitempty"`
	Blob     string          `json:"blob,omitempty"`
	Meta     json.RawMessage `json:"_meta,omitempty"`
}

type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the wire result of tools/call.
type CallToolResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolCallResult is what callers get back from a tool invocation. A failed
// execution is data, not a Go error: Success is false and Error has
// KindToolExecution.
type ToolCallResult struct {
	Success bool
	Content []ToolResultContent
	Error   *Error
}

// Text joins the text blocks of the result.
func (r *ToolCallResult) Text() string {
	return joinText(r.Content)
}

func joinText(content []ToolResultContent) string {
	var parts []string
	for _, c := range content {
		if c.Type == ContentTypeText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

type SetLevelParams struct {
	Level LogLevel `json:"level"`
}

type LogMessageParams struct {
	Level  LogLevel        `json:"level"`
	Logger string          `json:"logger,omitempty"`
	Data   json.RawMessage `json:"data"`
}
