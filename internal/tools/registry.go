package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Param describes one named argument of a Function. Type is a JSON Schema
// primitive ("string", "integer", "number", "boolean", "array", "object");
// an empty Type accepts any value.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
}

type Handler func(ctx context.Context, args Args) (any, error)

// Function is a single callable exposed under "<category>.<Name>".
type Function struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

type entry struct {
	category string
	fn       Function
	params   map[string]Param
	schema   *jsonschema.Schema
}

// Registry maps qualified tool names to typed handlers. Registration
// happens at startup; lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byCat   map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		byCat:   make(map[string][]string),
	}
}

// RegisterCategory adds every function of a category. A duplicate
// qualified name is an error and nothing from the batch is registered.
func (r *Registry) RegisterCategory(category string, fns []Function) error {
	if category == "" || strings.Contains(category, ".") {
		return fmt.Errorf("invalid category name %q", category)
	}

	compiled := make([]*entry, 0, len(fns))
	for _, fn := range fns {
		if fn.Name == "" || fn.Handler == nil {
			return fmt.Errorf("category %s: function name and handler are required", category)
		}
		e, err := compileEntry(category, fn)
		if err != nil {
			return err
		}
		compiled = append(compiled, e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range compiled {
		if _, exists := r.entries[e.qualifiedName()]; exists {
			return fmt.Errorf("tool %s already registered", e.qualifiedName())
		}
	}
	for _, e := range compiled {
		r.entries[e.qualifiedName()] = e
		r.byCat[category] = append(r.byCat[category], e.qualifiedName())
	}
	return nil
}

func (e *entry) qualifiedName() string {
	return e.category + "." + e.fn.Name
}

func compileEntry(category string, fn Function) (*entry, error) {
	e := &entry{category: category, fn: fn, params: make(map[string]Param, len(fn.Params))}

	props := make(map[string]any, len(fn.Params))
	for _, p := range fn.Params {
		if _, dup := e.params[p.Name]; dup {
			return nil, fmt.Errorf("tool %s: duplicate parameter %s", e.qualifiedName(), p.Name)
		}
		e.params[p.Name] = p
		if p.Type == "" {
			props[p.Name] = map[string]any{}
		} else {
			props[p.Name] = map[string]any{"type": p.Type}
		}
	}

	doc := map[string]any{"type": "object", "properties": props}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("tool %s: add schema resource: %w", e.qualifiedName(), err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", e.qualifiedName(), err)
	}
	e.schema = schema
	return e, nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Name: name, Available: r.Names()}
	}
	return e, nil
}

// Call binds args to the named function and runs it. Binding failures
// never reach the handler. No retries happen here.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	bound, err := e.bind(args)
	if err != nil {
		return nil, err
	}

	result, err := e.fn.Handler(ctx, bound)
	if err != nil {
		return nil, &ExecutionError{Name: name, Err: err}
	}
	return result, nil
}

// Validate reports whether args would bind to the named function.
func (r *Registry) Validate(name string, args map[string]any) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	_, err = e.bind(args)
	return err
}

func (e *entry) bind(args map[string]any) (Args, error) {
	name := e.qualifiedName()

	given := make(map[string]any, len(args))
	var unexpected []string
	for k, v := range args {
		p, known := e.params[k]
		if !known {
			unexpected = append(unexpected, k)
			continue
		}
		if v == nil && !p.Required {
			continue
		}
		given[k] = v
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, &InvalidArgumentsError{Name: name, Reason: "unexpected argument(s): " + strings.Join(unexpected, ", ")}
	}

	var missing []string
	for _, p := range e.fn.Params {
		if v, ok := given[p.Name]; p.Required && (!ok || v == nil) {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &InvalidArgumentsError{Name: name, Reason: "missing required argument(s): " + strings.Join(missing, ", ")}
	}

	normalized, err := normalize(given)
	if err != nil {
		return nil, &InvalidArgumentsError{Name: name, Reason: err.Error()}
	}
	if err := e.schema.Validate(normalized); err != nil {
		return nil, &InvalidArgumentsError{Name: name, Reason: err.Error()}
	}

	bound := Args(normalized.(map[string]any))
	for _, p := range e.fn.Params {
		if _, ok := bound[p.Name]; !ok && p.Default != nil {
			bound[p.Name] = p.Default
		}
	}
	return bound, nil
}

// normalize turns arbitrary Go values into the generic JSON shapes the
// schema validator understands.
func normalize(v map[string]any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("arguments are not JSON-serializable: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Names lists every qualified name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cats := make([]string, 0, len(r.byCat))
	for c := range r.byCat {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// ByCategory returns qualified names grouped by category in registration
// order.
func (r *Registry) ByCategory() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.byCat))
	for c, names := range r.byCat {
		out[c] = append([]string(nil), names...)
	}
	return out
}

// Search does a case-insensitive substring match over names and
// descriptions.
func (r *Registry) Search(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hits []string
	for n, e := range r.entries {
		if strings.Contains(strings.ToLower(n), q) || strings.Contains(strings.ToLower(e.fn.Description), q) {
			hits = append(hits, n)
		}
	}
	sort.Strings(hits)
	return hits
}

// Documentation renders every function with its signature, one category
// block at a time. The planner embeds this in its system prompt.
func (r *Registry) Documentation() string {
	var sb strings.Builder
	byCat := r.ByCategory()
	for _, cat := range r.Categories() {
		fmt.Fprintf(&sb, "%s:\n", cat)
		for _, name := range byCat[cat] {
			r.mu.RLock()
			e := r.entries[name]
			r.mu.RUnlock()
			fmt.Fprintf(&sb, "- %s(%s): %s\n", name, signature(e.fn.Params), e.fn.Description)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func signature(params []Param) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		s := p.Name
		if p.Type != "" {
			s += ": " + p.Type
		}
		switch {
		case p.Required:
		case p.Default != nil:
			b, _ := json.Marshal(p.Default)
			s += " = " + string(b)
		default:
			s += " (optional)"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
