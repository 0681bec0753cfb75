package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the category of an *Error.
type ErrorKind int

const (
	// KindTransport covers spawn failures, broken pipes and process exit.
	KindTransport ErrorKind = iota + 1
	// KindProtocol covers malformed messages, failed negotiation and JSON-RPC error replies.
	KindProtocol
	// KindTimeout is a request whose deadline elapsed before a response arrived.
	KindTimeout
	// KindValidation is a tool call whose arguments failed the input schema. Nothing was sent.
	KindValidation
	// KindToolExecution is a tool that ran and reported failure.
	KindToolExecution
	// KindCancelled is a request abandoned by its caller.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindValidation:
		return "validation"
	case KindToolExecution:
		return "tool execution"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrSessionClosed is the cause attached to requests failed by Client.Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotReady is returned for requests issued before the handshake completed.
	ErrNotReady = errors.New("session not ready")
	// ErrTransportClosed is returned by Send after the transport was closed.
	ErrTransportClosed = errors.New("transport closed")
)

// Error is the single error type surfaced by the client.
type Error struct {
	Kind    ErrorKind
	Method  string
	ID      RequestID
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("mcp ")
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Method != "" {
		b.WriteString(" [")
		b.WriteString(e.Method)
		if !e.ID.IsZero() {
			b.WriteString(" id=")
			b.WriteString(string(e.ID))
		}
		b.WriteString("]")
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether issuing the same request again may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout:
		return true
	case KindTransport:
		return !errors.Is(e.Err, ErrSessionClosed)
	default:
		return false
	}
}

// withRequest returns a copy of e bound to method and id.
func (e *Error) withRequest(method string, id RequestID) *Error {
	cp := *e
	cp.Method = method
	cp.ID = id
	return &cp
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether err is an *Error worth retrying.
func Retryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// Translate maps err onto the error taxonomy. *Error values pass through
// unchanged; anything unrecognised is treated as a transport fault.
func Translate(method string, id RequestID, err error) *Error {
	if err == nil {
		return nil
	}

	var mcpErr *Error
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	e := &Error{Kind: KindTransport, Method: method, ID: id, Err: err}

	var rpcErr *RPCError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = KindTimeout
		e.Message = "deadline exceeded"
	case errors.Is(err, context.Canceled):
		e.Kind = KindCancelled
		e.Message = "request cancelled"
	case errors.As(err, &rpcErr):
		e.Kind = KindProtocol
		e.Code = rpcErr.Code
		e.Message = rpcErr.Message
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, errMalformedEnvelope):
		e.Kind = KindProtocol
		e.Message = "malformed message"
	}
	return e
}

func newError(kind ErrorKind, method, message string, err error) *Error {
	return &Error{Kind: kind, Method: method, Message: message, Err: err}
}
