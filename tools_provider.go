package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaharia-lab/mcpclient/journal"
	"github.com/shaharia-lab/mcpclient/mcp"
	"github.com/shaharia-lab/mcpclient/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ToolHandler runs an in-process tool.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*mcp.ToolCallResult, error)

// LocalTool is a tool implemented in the calling process.
type LocalTool struct {
	mcp.Tool
	Handler ToolHandler
}

// ToolSource is anything exposing a tool registry, usually a connected *mcp.Client.
type ToolSource interface {
	Registry() *mcp.ToolRegistry
	SessionID() string
}

// ToolsProvider merges local tools with the tools of one or more MCP sessions
// and executes them by name. Local tools shadow remote tools with the same name.
type ToolsProvider struct {
	mu      sync.RWMutex
	local   map[string]LocalTool
	sources []ToolSource

	allowed  map[string]struct{}
	recorder journal.Recorder
	logger   observability.Logger
}

// ToolsProviderOption configures a ToolsProvider.
type ToolsProviderOption func(*ToolsProvider)

// WithLogger sets the provider logger.
func WithLogger(logger observability.Logger) ToolsProviderOption {
	return func(p *ToolsProvider) {
		p.logger = logger
	}
}

// WithJournal records every execution to r.
func WithJournal(r journal.Recorder) ToolsProviderOption {
	return func(p *ToolsProvider) {
		p.recorder = r
	}
}

// WithAllowedTools restricts listing and execution to the named tools.
// An empty list allows everything.
func WithAllowedTools(names ...string) ToolsProviderOption {
	return func(p *ToolsProvider) {
		if len(names) == 0 {
			p.allowed = nil
			return
		}
		p.allowed = make(map[string]struct{}, len(names))
		for _, n := range names {
			p.allowed[n] = struct{}{}
		}
	}
}

// NewToolsProvider creates a provider with no tools.
func NewToolsProvider(opts ...ToolsProviderOption) *ToolsProvider {
	p := &ToolsProvider{
		local:  make(map[string]LocalTool),
		logger: observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddTools registers local tools. Names must be unique and every tool needs a handler.
func (p *ToolsProvider) AddTools(tools ...LocalTool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("local tool has no name")
		}
		if t.Handler == nil {
			return fmt.Errorf("local tool %q has no handler", t.Name)
		}
		if _, exists := p.local[t.Name]; exists {
			return fmt.Errorf("local tool %q already registered", t.Name)
		}
	}
	for _, t := range tools {
		p.local[t.Name] = t
	}
	return nil
}

// AddMCPClient adds a session whose registry is consulted after local tools.
// Sources are searched in the order they were added.
func (p *ToolsProvider) AddMCPClient(source ToolSource) error {
	if source == nil || source.Registry() == nil {
		return fmt.Errorf("tool source has no registry")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, source)
	return nil
}

// ListTools returns every allowed tool sorted by name. When a name appears
// more than once only the first definition is returned.
func (p *ToolsProvider) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]struct{})
	tools := make([]mcp.Tool, 0, len(p.local))
	add := func(t mcp.Tool) {
		if _, dup := seen[t.Name]; dup || !p.isAllowed(t.Name) {
			return
		}
		seen[t.Name] = struct{}{}
		tools = append(tools, t)
	}

	for _, t := range p.local {
		add(t.Tool)
	}
	for _, src := range p.sources {
		for _, rt := range src.Registry().List() {
			add(rt.Tool)
		}
	}

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

func (p *ToolsProvider) isAllowed(name string) bool {
	if p.allowed == nil {
		return true
	}
	_, ok := p.allowed[name]
	return ok
}

// ExecuteTool runs the named tool. Local tools are tried first, then each MCP
// source in order. A tool that runs and fails is reported in the result.
func (p *ToolsProvider) ExecuteTool(ctx context.Context, params mcp.CallToolParams) (result *mcp.ToolCallResult, err error) {
	ctx, span := observability.StartSpan(ctx, "ToolsProvider.ExecuteTool")
	span.SetAttributes(
		attribute.String("tool_name", params.Name),
		attribute.String("arguments", string(params.Arguments)),
	)
	defer func() { observability.EndSpan(span, err) }()

	startTime := time.Now()
	entry := journal.Entry{
		Tool:      params.Name,
		Arguments: params.Arguments,
		StartedAt: startTime.UTC(),
	}
	defer func() {
		entry.Duration = time.Since(startTime)
		span.SetAttributes(attribute.Float64("execution_time_ms", float64(entry.Duration.Milliseconds())))
		p.record(ctx, entry, result, err)
	}()

	if !p.isAllowed(params.Name) {
		return nil, &mcp.Error{
			Kind:    mcp.KindValidation,
			Method:  mcp.MethodToolsCall,
			Message: fmt.Sprintf("tool %q is not allowed", params.Name),
		}
	}

	p.mu.RLock()
	local, isLocal := p.local[params.Name]
	localCount := len(p.local)
	sources := append([]ToolSource(nil), p.sources...)
	p.mu.RUnlock()

	span.AddEvent("CheckingLocalTools",
		trace.WithAttributes(attribute.Int("local_tools_count", localCount)))

	if isLocal {
		entry.Source = journal.SourceLocal
		span.SetAttributes(attribute.Bool("is_local_tool", true))
		return p.runLocal(ctx, local, params.Arguments)
	}

	for i, src := range sources {
		tool, ok := src.Registry().Get(params.Name)
		if !ok {
			continue
		}
		span.AddEvent("FoundMCPTool", trace.WithAttributes(attribute.Int("source_index", i)))
		span.SetAttributes(attribute.Bool("is_mcp_tool", true))

		entry.Source = journal.SourceMCP
		entry.SessionID = src.SessionID()
		return tool.Call(ctx, params.Arguments)
	}

	span.SetAttributes(attribute.Bool("tool_found", false))
	return nil, &mcp.Error{
		Kind:    mcp.KindValidation,
		Method:  mcp.MethodToolsCall,
		Message: fmt.Sprintf("tool not found: %s", params.Name),
	}
}

func (p *ToolsProvider) runLocal(ctx context.Context, tool LocalTool, args json.RawMessage) (*mcp.ToolCallResult, error) {
	execCtx, execSpan := observability.StartSpan(ctx, "ExecuteTool.Handler")
	execSpan.SetAttributes(attribute.String("tool_name", tool.Name))

	result, err := tool.Handler(execCtx, args)
	if err == nil && result == nil {
		result = &mcp.ToolCallResult{Success: true}
	}
	if err == nil {
		execSpan.SetAttributes(
			attribute.Bool("success", result.Success),
			attribute.Int("content_length", len(result.Content)),
		)
	}
	observability.EndSpan(execSpan, err)
	return result, err
}

func (p *ToolsProvider) record(ctx context.Context, entry journal.Entry, result *mcp.ToolCallResult, err error) {
	if p.recorder == nil {
		return
	}

	switch {
	case err != nil:
		entry.ErrorMessage = err.Error()
		var mcpErr *mcp.Error
		if errors.As(err, &mcpErr) {
			entry.ErrorKind = mcpErr.Kind.String()
		}
	case result != nil:
		entry.Success = result.Success
		entry.Output = result.Text()
		if result.Error != nil {
			entry.ErrorKind = result.Error.Kind.String()
			entry.ErrorMessage = result.Error.Message
		}
	}
	if recErr := p.recorder.Record(context.WithoutCancel(ctx), entry); recErr != nil {
		p.logger.WithErr(recErr).WithFields(map[string]interface{}{"tool": entry.Tool}).Warn("Failed to record tool call")
	}
}
