package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaharia-lab/mcpclient/observability"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// ToolSession is the part of a session the registry and its tools use.
// Tools hold it for invocation only; they never own the session.
type ToolSession interface {
	ListTools(ctx context.Context, cursor string) (*ListToolsResult, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error)
}

// RegisteredTool is a discovered tool bound to the session that advertised it.
type RegisteredTool struct {
	Tool

	schema  *gojsonschema.Schema
	session ToolSession
}

// Validate checks args against the tool's input schema without sending anything.
func (t *RegisteredTool) Validate(args json.RawMessage) error {
	normalized, err := normalizeArguments(args)
	if err != nil {
		return t.validationError(err)
	}
	if err := validateArguments(t.schema, normalized); err != nil {
		return t.validationError(err)
	}
	return nil
}

// Call validates args and invokes the tool. Validation failures return a
// KindValidation error and write nothing to the server. A tool that runs and
// fails is reported in the result, not as an error.
func (t *RegisteredTool) Call(ctx context.Context, args json.RawMessage) (*ToolCallResult, error) {
	normalized, err := normalizeArguments(args)
	if err != nil {
		return nil, t.validationError(err)
	}
	if err := validateArguments(t.schema, normalized); err != nil {
		return nil, t.validationError(err)
	}
	return t.session.CallTool(ctx, t.Name, normalized)
}

func (t *RegisteredTool) validationError(err error) *Error {
	return &Error{
		Kind:    KindValidation,
		Method:  MethodToolsCall,
		Message: fmt.Sprintf("arguments for tool %q rejected", t.Name),
		Err:     err,
	}
}

type toolSnapshot struct {
	byName       map[string]*RegisteredTool
	sorted       []*RegisteredTool
	generation   uint64
	discoveredAt time.Time
}

// ToolRegistry holds the tools of the most recent completed discovery. The
// whole set is replaced in one atomic store, so readers always see a
// consistent snapshot.
type ToolRegistry struct {
	session    ToolSession
	logger     observability.Logger
	snapshot   atomic.Pointer[toolSnapshot]
	discoverMu sync.Mutex
}

// NewToolRegistry creates an empty registry backed by session. Client builds
// one per session; other ToolSession implementations can use it directly.
func NewToolRegistry(session ToolSession, logger observability.Logger) *ToolRegistry {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	r := &ToolRegistry{session: session, logger: logger}
	r.snapshot.Store(&toolSnapshot{byName: map[string]*RegisteredTool{}})
	return r
}

// Discover lists every tool page from the server and replaces the registry
// contents. On any failure the previous contents are kept.
func (r *ToolRegistry) Discover(ctx context.Context) (int, error) {
	ctx, span := observability.StartSpan(ctx, "ToolRegistry.Discover")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	r.discoverMu.Lock()
	defer r.discoverMu.Unlock()

	var tools []Tool
	tools, err = r.fetchAll(ctx)
	if err != nil {
		return 0, err
	}

	var next *toolSnapshot
	next, err = r.build(tools)
	if err != nil {
		return 0, err
	}

	prev := r.snapshot.Load()
	next.generation = prev.generation + 1
	r.snapshot.Store(next)

	span.SetAttributes(attribute.Int("tools_count", len(next.sorted)))
	r.logger.WithFields(map[string]interface{}{
		"tools":      len(next.sorted),
		"generation": next.generation,
	}).Info("Tool registry updated")

	return len(next.sorted), nil
}

func (r *ToolRegistry) fetchAll(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	seen := map[string]bool{}
	cursor := ""
	for {
		page, err := r.session.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)

		if page.NextCursor == "" {
			return tools, nil
		}
		if seen[page.NextCursor] {
			return nil, newError(KindProtocol, MethodToolsList,
				fmt.Sprintf("server repeated pagination cursor %q", page.NextCursor), nil)
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}
}

func (r *ToolRegistry) build(tools []Tool) (*toolSnapshot, error) {
	snap := &toolSnapshot{
		byName:       make(map[string]*RegisteredTool, len(tools)),
		sorted:       make([]*RegisteredTool, 0, len(tools)),
		discoveredAt: time.Now(),
	}

	for _, tool := range tools {
		if tool.Name == "" {
			return nil, newError(KindProtocol, MethodToolsList, "server advertised a tool without a name", nil)
		}
		if _, dup := snap.byName[tool.Name]; dup {
			return nil, newError(KindProtocol, MethodToolsList,
				fmt.Sprintf("server advertised tool %q more than once", tool.Name), nil)
		}

		schema, err := compileSchema(tool.InputSchema)
		if err != nil {
			return nil, newError(KindProtocol, MethodToolsList,
				fmt.Sprintf("tool %q has an unusable input schema", tool.Name), err)
		}

		rt := &RegisteredTool{Tool: tool, schema: schema, session: r.session}
		snap.byName[tool.Name] = rt
		snap.sorted = append(snap.sorted, rt)
	}

	sort.Slice(snap.sorted, func(i, j int) bool { return snap.sorted[i].Name < snap.sorted[j].Name })
	return snap, nil
}

// Get returns the named tool from the current snapshot.
func (r *ToolRegistry) Get(name string) (*RegisteredTool, bool) {
	t, ok := r.snapshot.Load().byName[name]
	return t, ok
}

// List returns every tool of one snapshot, sorted by name.
func (r *ToolRegistry) List() []*RegisteredTool {
	snap := r.snapshot.Load()
	out := make([]*RegisteredTool, len(snap.sorted))
	copy(out, snap.sorted)
	return out
}

func (r *ToolRegistry) Len() int {
	return len(r.snapshot.Load().sorted)
}

// Generation counts completed discoveries.
func (r *ToolRegistry) Generation() uint64 {
	return r.snapshot.Load().generation
}

// Call looks up a tool by name and invokes it.
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, &Error{
			Kind:    KindValidation,
			Method:  MethodToolsCall,
			Message: fmt.Sprintf("unknown tool %q", name),
		}
	}
	return tool.Call(ctx, args)
}
