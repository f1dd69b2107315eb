// Package tooling implements the tool registry and dispatch surface: a
// declarative registry of tools, the tag grammar that recognizes
// model-emitted tool calls, argument marshaling, and executor dispatch.
package tooling

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/vassal/pkg/models"
)

// Registry is the closed set of tools available for a given run; nothing
// registers or unregisters once the Governor starts executing.
type Registry struct {
	tools    map[string]models.ToolDescriptor
	order    []string
	mu       sync.RWMutex
	compiled sync.Map // name -> *jsonschemav5.Schema
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]models.ToolDescriptor)}
}

// Register adds a tool descriptor, failing with InvalidArgument if the name
// is already taken.
func (r *Registry) Register(desc models.ToolDescriptor) *models.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if desc.Name == "" {
		return models.NewError(models.ErrInvalidArgument, "tool name must not be empty")
	}
	if _, exists := r.tools[desc.Name]; exists {
		return models.NewError(models.ErrInvalidArgument, "duplicate tool name %q", desc.Name)
	}
	r.tools[desc.Name] = desc
	r.order = append(r.order, desc.Name)
	return nil
}

// Find returns the descriptor for name, or false if unregistered.
func (r *Registry) Find(name string) (models.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// All returns every registered descriptor in registration order.
func (r *Registry) All() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// ReflectSchema builds a JSON-schema document for a Go struct describing a
// tool's parameters, so descriptors registered from in-process Go code get
// their schemas derived from the argument type instead of hand-written.
func ReflectSchema(args any) json.RawMessage {
	r := &jsonschema.Reflector{FieldNameTag: "json"}
	schema := r.Reflect(args)
	data, err := json.Marshal(schema)
	if err != nil {
		// Reflection of a concrete Go struct cannot fail at runtime; a
		// failure here indicates a tool registered with an unreflectable
		// argument type, a programming error caught in tests.
		panic(fmt.Sprintf("tooling: reflect schema: %v", err))
	}
	return data
}

// compiledSchema compiles and caches the jsonschema/v5 validator for a
// descriptor's Schema so repeated dispatches skip recompilation.
func (r *Registry) compiledSchema(desc models.ToolDescriptor) (*jsonschemav5.Schema, error) {
	if cached, ok := r.compiled.Load(desc.Name); ok {
		return cached.(*jsonschemav5.Schema), nil
	}
	compiled, err := jsonschemav5.CompileString(desc.Name+".schema.json", string(desc.Schema))
	if err != nil {
		return nil, err
	}
	r.compiled.Store(desc.Name, compiled)
	return compiled, nil
}

// ValidateArgs validates args against desc's declared schema.
func (r *Registry) ValidateArgs(desc models.ToolDescriptor, args json.RawMessage) error {
	if len(desc.Schema) == 0 {
		return nil
	}
	schema, err := r.compiledSchema(desc)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", desc.Name, err)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("args invalid: %w", err)
	}
	return nil
}
