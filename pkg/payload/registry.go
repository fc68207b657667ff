// Package payload validates action inputs/outputs/results against per-type
// JSON Schemas. Action payloads are tagged by action_type; a type with no
// registered schema is unrecognized and fails structural verification.
package payload

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Registry maps action types to compiled JSON Schema validators.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles and installs a schema for an action type, replacing any
// previous schema for that type.
func (r *Registry) Register(actionType, schemaJSON string) error {
	schema, err := jsonschema.CompileString(actionType+".schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("schema for action type %q failed to compile: %w", actionType, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[actionType] = schema
	return nil
}

// Known reports whether an action type has a registered schema.
func (r *Registry) Known(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[actionType]
	return ok
}

// Types returns the registered action types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	return types
}

// Validate checks a payload against the schema for its action type.
// Unregistered types are rejected: untyped payloads do not pass structural
// verification.
func (r *Registry) Validate(actionType string, p contracts.Payload) error {
	r.mu.RLock()
	schema, ok := r.schemas[actionType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unrecognized action type %q", actionType)
	}
	if err := schema.Validate(map[string]any(p)); err != nil {
		return fmt.Errorf("payload for action type %q invalid: %w", actionType, err)
	}
	return nil
}
