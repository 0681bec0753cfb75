package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shaharia-lab/mcpclient/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
	defaultMalformedBurst   = 10
	defaultMalformedRefill  = time.Second
)

// NotificationHandler receives server notifications. Handlers run on the
// dispatch goroutine and must not block or issue requests synchronously.
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage)

// ErrorHandler receives session scoped faults: malformed messages, stray
// error replies and the cause of an unexpected shutdown. The shutdown cause
// is delivered after the session reaches Closed, so a handler may call Close.
type ErrorHandler func(err error)

// ClientConfig configures a Client. Zero values get defaults.
type ClientConfig struct {
	ClientName    string
	ClientVersion string

	Transport TransportConfig

	// ProtocolVersions the client accepts. Defaults to SupportedProtocolVersions.
	ProtocolVersions []ProtocolVersion
	Capabilities     Capabilities

	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration

	// MalformedBurst malformed messages are tolerated after the handshake,
	// refilled at one per MalformedRefill. Exceeding the budget closes the session.
	MalformedBurst  int
	MalformedRefill time.Duration

	// AutoRefreshTools rediscovers tools on notifications/tools/list_changed.
	AutoRefreshTools bool

	ErrorHandlers        []ErrorHandler
	NotificationHandlers []NotificationHandler

	Logger observability.Logger
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.ClientName == "" {
		c.ClientName = defaultClientName
	}
	if c.ClientVersion == "" {
		c.ClientVersion = defaultClientVersion
	}
	if len(c.ProtocolVersions) == 0 {
		c.ProtocolVersions = SupportedProtocolVersions
	}
	c.ProtocolVersions = append([]ProtocolVersion(nil), c.ProtocolVersions...)
	if c.Capabilities == nil {
		c.Capabilities = Capabilities{}
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.MalformedBurst <= 0 {
		c.MalformedBurst = defaultMalformedBurst
	}
	if c.MalformedRefill <= 0 {
		c.MalformedRefill = defaultMalformedRefill
	}
	if c.Logger == nil {
		c.Logger = observability.NewNullLogger()
	}
	c.Transport = c.Transport.clone()
	c.ErrorHandlers = append([]ErrorHandler(nil), c.ErrorHandlers...)
	c.NotificationHandlers = append([]NotificationHandler(nil), c.NotificationHandlers...)
	return c
}

// Client is one MCP session with one server.
type Client struct {
	config    ClientConfig
	sessionID string
	logger    observability.Logger
	transport Transport
	pending   *correlator
	registry  *ToolRegistry
	malformed *rate.Limiter

	mu              sync.RWMutex
	state           ConnectionState
	protocolVersion ProtocolVersion
	serverInfo      Implementation
	serverCaps      Capabilities
	instructions    string
	cause           error

	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error
	refreshing atomic.Bool
}

// NewClient creates a client that spawns the configured server process on Connect.
func NewClient(config ClientConfig) *Client {
	config = config.withDefaults()
	return newClient(config, nil)
}

// NewClientWithTransport creates a client over an existing transport.
func NewClientWithTransport(config ClientConfig, transport Transport) *Client {
	config = config.withDefaults()
	return newClient(config, transport)
}

func newClient(config ClientConfig, transport Transport) *Client {
	sessionID := uuid.NewString()
	logger := config.Logger.WithFields(map[string]interface{}{"session_id": sessionID})
	if transport == nil {
		transport = NewStdIOTransport(config.Transport, logger)
	}

	c := &Client{
		config:    config,
		sessionID: sessionID,
		logger:    logger,
		transport: transport,
		pending:   newCorrelator(logger),
		malformed: rate.NewLimiter(rate.Every(config.MalformedRefill), config.MalformedBurst),
		state:     StateDisconnected,
		done:      make(chan struct{}),
	}
	c.registry = NewToolRegistry(c, logger)
	return c
}

// Connect starts the transport and performs the initialize handshake. On
// success the session is Ready; on failure it is Closed and the transport
// released.
func (c *Client) Connect(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "Client.Connect")
	span.SetAttributes(attribute.String("session_id", c.sessionID))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	if err = c.transition(StateDisconnected, StateConnecting); err != nil {
		return err
	}

	if err = c.transport.Start(ctx); err != nil {
		e := Translate("", "", err)
		c.shutdown(e, false)
		err = e
		return err
	}

	c.setState(StateHandshaking)
	go c.readLoop()

	hctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	if err = c.handshake(hctx); err != nil {
		e := Translate(MethodInitialize, "", err)
		if e.Kind == KindTimeout {
			e = &Error{Kind: KindTimeout, Method: MethodInitialize, Message: fmt.Sprintf("handshake did not complete within %s", c.config.HandshakeTimeout), Err: err}
		}
		c.shutdown(e, false)
		err = c.failure(e)
		return err
	}

	if err = c.transition(StateHandshaking, StateReady); err != nil {
		err = c.failure(err)
		return err
	}

	span.SetAttributes(attribute.String("protocol_version", string(c.ProtocolVersion())))
	c.logger.WithFields(map[string]interface{}{
		"protocol_version": c.ProtocolVersion(),
		"server":           c.ServerInfo().Name,
		"server_version":   c.ServerInfo().Version,
	}).Info("MCP session ready")
	return nil
}

// failure prefers the session's recorded cause, so that callers see the
// process exit rather than the initialize request it interrupted.
func (c *Client) failure(fallback error) error {
	if cause := c.Err(); cause != nil {
		return cause
	}
	return fallback
}

func (c *Client) handshake(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: LatestProtocolVersion(c.config.ProtocolVersions),
		Capabilities:    c.config.Capabilities,
		ClientInfo:      Implementation{Name: c.config.ClientName, Version: c.config.ClientVersion},
	}

	raw, err := c.call(ctx, MethodInitialize, params, c.config.HandshakeTimeout)
	if err != nil {
		return err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return &Error{Kind: KindProtocol, Method: MethodInitialize, Message: "invalid initialize result", Err: err}
	}
	if result.ProtocolVersion == "" {
		return newError(KindProtocol, MethodInitialize, "initialize result has no protocolVersion", nil)
	}

	version, err := NegotiateVersion(c.config.ProtocolVersions, []ProtocolVersion{result.ProtocolVersion})
	if err != nil {
		return newError(KindProtocol, MethodInitialize, "protocol version negotiation failed", err)
	}

	c.mu.Lock()
	c.protocolVersion = version
	c.serverInfo = result.ServerInfo
	c.serverCaps = result.Capabilities
	c.instructions = result.Instructions
	c.mu.Unlock()

	if err := c.notify(ctx, NotifyInitialized, nil); err != nil {
		return err
	}
	return nil
}

// Request sends a request and waits for its result. The session must be Ready.
func (c *Client) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := c.requireReady(method); err != nil {
		return nil, err
	}
	return c.call(ctx, method, params, c.config.RequestTimeout)
}

// Notify sends a notification. The session must be Ready.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	if err := c.requireReady(method); err != nil {
		return err
	}
	return c.notify(ctx, method, params)
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, MethodPing, nil)
	return err
}

// SetLogLevel asks the server to send log notifications at level and above.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	if !level.Valid() {
		return newError(KindValidation, MethodSetLogLevel, fmt.Sprintf("invalid log level %q", level), nil)
	}
	if err := c.requireReady(MethodSetLogLevel); err != nil {
		return err
	}
	if !c.ServerCapabilities().Has(CapabilityLogging) {
		return newError(KindProtocol, MethodSetLogLevel, "server does not support logging", nil)
	}
	_, err := c.call(ctx, MethodSetLogLevel, SetLevelParams{Level: level}, c.config.RequestTimeout)
	return err
}

// ListTools fetches a single page of tools/list.
func (c *Client) ListTools(ctx context.Context, cursor string) (*ListToolsResult, error) {
	raw, err := c.Request(ctx, MethodToolsList, ListToolsParams{Cursor: cursor})
	if err != nil {
		return nil, err
	}
	var result ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &Error{Kind: KindProtocol, Method: MethodToolsList, Message: "invalid tools/list result", Err: err}
	}
	return &result, nil
}

// CallTool sends tools/call without schema validation. Use the registry for
// validated calls. A tool failure, reported either through isError or as a
// JSON-RPC error reply, is returned as an unsuccessful result with a nil error.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error) {
	ctx, span := observability.StartSpan(ctx, "Client.CallTool")
	span.SetAttributes(attribute.String("tool_name", name))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	var raw json.RawMessage
	raw, err = c.Request(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args})
	if err != nil {
		var rpcErr *RPCError
		var e *Error
		if errors.As(err, &e) && e.Kind == KindProtocol && errors.As(err, &rpcErr) {
			err = nil
			return &ToolCallResult{
				Success: false,
				Error: &Error{
					Kind:    KindToolExecution,
					Method:  MethodToolsCall,
					ID:      e.ID,
					Code:    rpcErr.Code,
					Message: rpcErr.Message,
					Err:     rpcErr,
				},
			}, nil
		}
		return nil, err
	}

	var result CallToolResult
	if err = json.Unmarshal(raw, &result); err != nil {
		err = &Error{Kind: KindProtocol, Method: MethodToolsCall, Message: "invalid tools/call result", Err: err}
		return nil, err
	}

	if result.IsError {
		span.SetAttributes(attribute.Bool("tool_error", true))
		msg := joinText(result.Content)
		if msg == "" {
			msg = fmt.Sprintf("tool %q reported an error", name)
		}
		return &ToolCallResult{
			Success: false,
			Content: result.Content,
			Error:   &Error{Kind: KindToolExecution, Method: MethodToolsCall, Message: msg},
		}, nil
	}
	return &ToolCallResult{Success: true, Content: result.Content}, nil
}

// Registry returns the session's tool registry.
func (c *Client) Registry() *ToolRegistry {
	return c.registry
}

// DiscoverTools refreshes the registry from the server.
func (c *Client) DiscoverTools(ctx context.Context) (int, error) {
	return c.registry.Discover(ctx)
}

// call allocates an id, registers it, sends the request and waits.
func (c *Client) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	ctx, span := observability.StartSpan(ctx, "Client.call", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("rpc.method", method))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	var rawParams json.RawMessage
	rawParams, err = marshalParams(params)
	if err != nil {
		err = &Error{Kind: KindValidation, Method: method, Message: "cannot encode params", Err: err}
		return nil, err
	}

	id := c.pending.allocate()
	span.SetAttributes(attribute.String("rpc.id", string(id)))

	data, merr := json.Marshal(Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: rawParams})
	if merr != nil {
		err = &Error{Kind: KindValidation, Method: method, ID: id, Message: "cannot encode request", Err: merr}
		return nil, err
	}

	var p *pendingRequest
	p, err = c.pending.register(id, method, timeout)
	if err != nil {
		return nil, err
	}

	if serr := c.transport.Send(ctx, data); serr != nil {
		e := Translate(method, id, serr).withRequest(method, id)
		c.pending.fail(id, e)
		if e.Kind == KindTransport {
			c.shutdown(e, false)
		}
	}

	var resp *Response
	resp, err = c.await(ctx, p)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		err = &Error{
			Kind:    KindProtocol,
			Method:  method,
			ID:      id,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Err:     resp.Error,
		}
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) await(ctx context.Context, p *pendingRequest) (*Response, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		e := Translate(p.method, p.id, ctx.Err()).withRequest(p.method, p.id)
		if c.pending.fail(p.id, e) && p.method != MethodInitialize {
			go c.sendCancelled(p.id, e.Message)
		}
		<-p.done
	}
	return p.resp, p.err
}

func (c *Client) sendCancelled(id RequestID, reason string) {
	if c.State() != StateReady {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()
	if err := c.notify(ctx, NotifyCancelled, CancelledParams{RequestID: id, Reason: reason}); err != nil {
		c.logger.WithErr(err).Debug("Failed to send cancellation notice")
	}
}

func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	rawParams, err := marshalParams(params)
	if err != nil {
		return &Error{Kind: KindValidation, Method: method, Message: "cannot encode params", Err: err}
	}
	data, err := json.Marshal(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: rawParams})
	if err != nil {
		return &Error{Kind: KindValidation, Method: method, Message: "cannot encode notification", Err: err}
	}
	if err := c.transport.Send(ctx, data); err != nil {
		e := Translate(method, "", err).withRequest(method, "")
		if e.Kind == KindTransport {
			c.shutdown(e, false)
		}
		return e
	}
	return nil
}

func (c *Client) requireReady(method string) error {
	c.mu.RLock()
	state, cause := c.state, c.cause
	c.mu.RUnlock()

	switch state {
	case StateReady:
		return nil
	case StateClosing, StateClosed:
		if cause == nil {
			cause = &Error{Kind: KindTransport, Err: ErrSessionClosed}
		}
		return Translate(method, "", cause).withRequest(method, "")
	default:
		return &Error{
			Kind:    KindProtocol,
			Method:  method,
			Message: fmt.Sprintf("cannot send %s in state %s", method, state),
			Err:     ErrNotReady,
		}
	}
}

// readLoop is the single consumer of inbound messages.
func (c *Client) readLoop() {
	for line, err := range c.transport.Messages() {
		if err != nil {
			c.shutdown(&Error{Kind: KindTransport, Message: "read from server failed", Err: err}, false)
			return
		}
		c.dispatch(line)

		select {
		case <-c.done:
			return
		default:
		}
	}

	cause := c.transport.Err()
	if cause == nil {
		cause = ErrTransportClosed
	}
	c.shutdown(&Error{Kind: KindTransport, Message: "server connection lost", Err: cause}, false)
}

func (c *Client) dispatch(line []byte) {
	msg, err := ParseMessage(line)
	if err != nil {
		c.handleMalformed(line, err)
		return
	}

	switch msg.Kind() {
	case MessageResponse:
		resp := msg.Response()
		if resp.ID.IsZero() {
			c.reportError(&Error{
				Kind:    KindProtocol,
				Code:    resp.Error.Code,
				Message: "server returned an error without a request id: " + resp.Error.Message,
				Err:     resp.Error,
			})
			return
		}
		c.pending.resolve(resp)
	case MessageNotification:
		c.handleNotification(msg.Method, msg.Params)
	case MessageRequest:
		// Replies are written off the dispatch goroutine so a peer that is
		// itself blocked writing to us cannot deadlock the session.
		go c.handleServerRequest(msg.Request())
	}
}

func (c *Client) handleMalformed(line []byte, err error) {
	e := &Error{Kind: KindProtocol, Message: "malformed message from server", Err: err}
	c.logger.WithErr(err).WithFields(map[string]interface{}{"bytes": len(line)}).Warn("Malformed message from server")

	if c.State() == StateHandshaking {
		c.shutdown(e, false)
		return
	}
	c.reportError(e)
	if !c.malformed.Allow() {
		c.shutdown(&Error{Kind: KindProtocol, Message: "too many malformed messages from server", Err: err}, false)
	}
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	switch method {
	case NotifyLogMessage:
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.reportError(&Error{Kind: KindProtocol, Method: method, Message: "invalid log notification", Err: err})
		} else {
			logServerMessage(c.logger, p)
		}
	case NotifyToolsChanged:
		if c.config.AutoRefreshTools && c.State() == StateReady {
			go c.refreshTools()
		}
	}

	ctx := context.Background()
	for _, h := range c.config.NotificationHandlers {
		h(ctx, method, params)
	}
}

func (c *Client) refreshTools() {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer c.refreshing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := c.registry.Discover(ctx); err != nil {
		c.logger.WithErr(err).Warn("Tool list refresh failed")
		c.reportError(err)
	}
}

func (c *Client) handleServerRequest(req *Request) {
	resp := Response{JSONRPC: JSONRPCVersion, ID: req.ID}
	if req.Method == MethodPing {
		resp.Result = json.RawMessage("{}")
	} else {
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.WithErr(err).Error("Failed to encode reply to server request")
		return
	}
	if err := c.transport.Send(context.Background(), data); err != nil {
		c.logger.WithErr(err).WithFields(map[string]interface{}{"method": req.Method}).
			Warn("Failed to reply to server request")
	}
}

func (c *Client) reportError(err error) {
	for _, h := range c.config.ErrorHandlers {
		h(err)
	}
}

// Close cancels every pending request and releases the transport. It is
// safe to call more than once and from any state.
func (c *Client) Close() error {
	c.shutdown(&Error{Kind: KindTransport, Message: "client closed", Err: ErrSessionClosed}, true)
	return c.closeErr
}

func (c *Client) shutdown(cause *Error, requested bool) {
	ran := false
	c.closeOnce.Do(func() {
		ran = true
		c.mu.Lock()
		from := c.state
		c.cause = cause
		// A session that never started its transport goes straight to Closed.
		closing := from != StateConnecting && from != StateDisconnected
		if closing {
			c.state = StateClosing
		}
		c.mu.Unlock()

		if closing {
			c.logTransition(from, StateClosing)
			from = StateClosing
		}

		n := c.pending.cancelAll(cause)
		if n > 0 {
			c.logger.WithFields(map[string]interface{}{"pending": n}).Debug("Cancelled pending requests")
		}

		if err := c.transport.Close(); err != nil {
			c.closeErr = err
			c.logger.WithErr(err).Debug("Transport close reported an error")
		}

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.logTransition(from, StateClosed)
		close(c.done)
	})

	// Handlers may call Close, so they run after the once has completed.
	if ran && !requested {
		c.logger.WithErr(cause).Error("MCP session closed")
		c.reportError(cause)
	}
}

// Done is closed when the session reaches Closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the session closed, or nil while it is open.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cause
}

func (c *Client) transition(from, to ConnectionState) error {
	c.mu.Lock()
	if c.state != from {
		state := c.state
		c.mu.Unlock()
		return &Error{
			Kind:    KindProtocol,
			Message: fmt.Sprintf("cannot move to %s from state %s", to, state),
			Err:     ErrNotReady,
		}
	}
	c.state = to
	c.mu.Unlock()
	c.logTransition(from, to)
	return nil
}

func (c *Client) setState(to ConnectionState) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	c.logTransition(from, to)
}

func (c *Client) logTransition(from, to ConnectionState) {
	c.logger.WithFields(map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	}).Debug("Session state changed")
}

func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) SessionID() string {
	return c.sessionID
}

func (c *Client) ProtocolVersion() ProtocolVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolVersion
}

func (c *Client) ServerInfo() Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) ServerCapabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

func (c *Client) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}
