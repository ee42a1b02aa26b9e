package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sipeed/picocode/pkg/logger"
	"github.com/sipeed/picocode/pkg/providers"
	"github.com/sipeed/picocode/pkg/utils"
)

// ErrDuplicateTool is returned when a spec name is already registered.
var ErrDuplicateTool = errors.New("duplicate tool")

type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Spec
	schemas map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Spec),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a spec. The parameter schema is compiled here so malformed
// schemas fail at boot, not mid-conversation.
func (r *Registry) Register(spec *Spec) error {
	if spec == nil || spec.Name == "" {
		return fmt.Errorf("tool spec must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}

	compiled, err := compileSchema(spec.Name, spec.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: %w", spec.Name, err)
	}

	r.tools[spec.Name] = spec
	r.schemas[spec.Name] = compiled
	return nil
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameter schema: %w", err)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return compiled, nil
}

func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// List returns registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNamesLocked()
}

// sortedNamesLocked keeps iteration deterministic. This matters for KV
// cache stability: map-order tool definitions would invalidate the LLM's
// prefix cache on every call.
func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defs returns the subset of each spec sent to the LLM, sorted by name.
func (r *Registry) Defs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.sortedNamesLocked()
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		spec := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
		})
	}
	return defs
}

// Validate checks argsJSON against the tool's parameter schema without
// executing anything. Used by the scheduler before the confirmation gate.
func (r *Registry) Validate(name, argsJSON string) error {
	if _, ok := r.Get(name); !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}

	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()

	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	var decoded any
	if err := json.Unmarshal([]byte(argsJSON), &decoded); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

// Execute validates argsJSON against the tool's schema and runs the
// executor. Executor panics and validation failures come back as failed
// Results, never as Go errors: the LLM is expected to read the error text
// and self-correct.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string, ec ExecContext) (res Result) {
	spec, ok := r.Get(name)
	if !ok {
		return Errorf("Unknown tool: %s", name)
	}

	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()

	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}

	var decoded any
	if err := json.Unmarshal([]byte(argsJSON), &decoded); err != nil {
		return Errorf("invalid tool arguments: %v", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return Errorf("invalid tool arguments: %v", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("tool", "Tool executor panicked", map[string]any{
				"tool":  name,
				"panic": fmt.Sprintf("%v", rec),
			})
			res = Errorf("tool %s crashed: %v", name, rec)
		}
	}()

	start := time.Now()
	res = spec.Run(ctx, json.RawMessage(argsJSON), ec)
	duration := time.Since(start)

	if res.OK {
		logger.InfoCF("tool", "Tool execution completed", map[string]any{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
		})
	} else {
		logger.ErrorCF("tool", "Tool execution failed", map[string]any{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
			"error":       utils.Truncate(res.Error, 200),
		})
	}
	return res
}

// RenderForLLM produces the stable string placed in the tool message for
// the next LLM turn.
func (r *Registry) RenderForLLM(name string, res Result) string {
	if !res.OK {
		msg := res.Error
		if msg == "" {
			msg = "tool failed"
		}
		return "Error: " + msg
	}

	var body string
	if spec, ok := r.Get(name); ok && spec.Render != nil {
		body = spec.Render(res)
	} else {
		body = defaultRender(res)
	}

	if res.Warning != "" {
		body += "\n[warning] " + res.Warning
	}
	return body
}

func defaultRender(res Result) string {
	switch data := res.Data.(type) {
	case nil:
		return "(no output)"
	case string:
		if data == "" {
			return "(no output)"
		}
		return data
	default:
		encoded, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(encoded)
	}
}
