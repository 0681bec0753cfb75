package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the only protocol version accepted on the wire.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RequestID is a JSON-RPC id kept as its raw JSON text, so that 7 and "7"
// never collide. The zero value means "no id".
type RequestID string

// NewRequestID returns the id for an integer counter value.
func NewRequestID(n int64) RequestID {
	return RequestID(strconv.FormatInt(n, 10))
}

// IsZero reports whether the id is absent or null.
func (id RequestID) IsZero() bool {
	return id == "" || id == "null"
}

// MarshalJSON writes the raw id, or null when absent.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

// UnmarshalJSON keeps the compacted id text. Only numbers and strings are valid ids.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid request id %s", data)
	}
	*id = RequestID(data)
	return nil
}

// Request represents a JSON-RPC request message.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Notification represents a JSON-RPC notification message.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MessageKind classifies an inbound message.
type MessageKind int

const (
	MessageInvalid MessageKind = iota
	MessageRequest
	MessageResponse
	MessageNotification
)

func (k MessageKind) String() string {
	switch k {
	case MessageRequest:
		return "request"
	case MessageResponse:
		return "response"
	case MessageNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is the union envelope every inbound line is decoded into before
// it is routed.
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *RPCError        `json:"error,omitempty"`

	id RequestID
}

var errMalformedEnvelope = errors.New("malformed JSON-RPC envelope")

// ParseMessage decodes one line and checks that it is a well formed
// request, response or notification.
func ParseMessage(line []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	if msg.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("%w: unsupported jsonrpc version %q", errMalformedEnvelope, msg.JSONRPC)
	}
	if msg.ID != nil {
		if err := msg.id.UnmarshalJSON(*msg.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
		}
	}
	if msg.Kind() == MessageInvalid {
		return nil, fmt.Errorf("%w: neither request, response nor notification", errMalformedEnvelope)
	}
	return &msg, nil
}

// Kind reports how the message should be routed.
func (m *Message) Kind() MessageKind {
	hasResult := len(m.Result) > 0
	hasError := m.Error != nil

	if m.Method != "" {
		if hasResult || hasError {
			return MessageInvalid
		}
		if m.ID != nil && !m.id.IsZero() {
			return MessageRequest
		}
		if m.ID == nil {
			return MessageNotification
		}
		return MessageInvalid
	}

	// A response carries exactly one of result and error. Error replies to
	// unparseable requests may carry a null id.
	if hasResult == hasError {
		return MessageInvalid
	}
	if m.ID == nil && !hasError {
		return MessageInvalid
	}
	return MessageResponse
}

// RequestID returns the normalised id, or the zero id when absent.
func (m *Message) RequestID() RequestID {
	return m.id
}

// Response converts a response message.
func (m *Message) Response() *Response {
	return &Response{JSONRPC: m.JSONRPC, ID: m.id, Result: m.Result, Error: m.Error}
}

// Request converts a server to client request message.
func (m *Message) Request() *Request {
	return &Request{JSONRPC: m.JSONRPC, ID: m.id, Method: m.Method, Params: m.Params}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
