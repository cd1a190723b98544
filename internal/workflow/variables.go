package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var workflowVariableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// VariableName identifies a stored deploy variable.
type VariableName string

// NewVariableName normalizes and validates variable identifiers.
func NewVariableName(raw string) (VariableName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("variable name cannot be empty")
	}
	if !workflowVariableNamePattern.MatchString(trimmed) {
		return "", fmt.Errorf("variable name %q must match %s", trimmed, workflowVariableNamePattern.String())
	}
	return VariableName(trimmed), nil
}

// LazyValueFunction computes a variable on first use.
type LazyValueFunction func(executionContext context.Context) (string, error)

type lazyValue struct {
	mutex    sync.Mutex
	compute  LazyValueFunction
	computed bool
	value    string
}

func (lazy *lazyValue) get(executionContext context.Context) (string, error) {
	lazy.mutex.Lock()
	defer lazy.mutex.Unlock()
	if lazy.computed {
		return lazy.value, nil
	}
	value, computeError := lazy.compute(executionContext)
	if computeError != nil {
		return "", computeError
	}
	lazy.value = strings.TrimSpace(value)
	lazy.computed = true
	return lazy.value, nil
}

// VariableStore holds raw variable values: template strings, string lists, or lazily computed values.
// Seeded values come from the command line and cannot be replaced by the manifest or by tasks.
type VariableStore struct {
	mutex  sync.RWMutex
	values map[VariableName]variableEntry
}

type variableEntry struct {
	value  any
	locked bool
}

// NewVariableStore constructs an empty variable store.
func NewVariableStore() *VariableStore {
	return &VariableStore{values: make(map[VariableName]variableEntry)}
}

// Seed assigns an immutable user-provided value.
func (store *VariableStore) Seed(name VariableName, value string) {
	store.set(name, value, true)
}

// Set assigns a template string.
func (store *VariableStore) Set(name VariableName, value string) {
	store.set(name, value, false)
}

// SetList assigns a list value; each element is rendered as a template on use.
func (store *VariableStore) SetList(name VariableName, values []string) {
	store.set(name, append([]string(nil), values...), false)
}

// SetLazy assigns a value computed once, on first use.
func (store *VariableStore) SetLazy(name VariableName, compute LazyValueFunction) {
	store.set(name, &lazyValue{compute: compute}, false)
}

// SetValue assigns a raw manifest value, converting scalars to strings and sequences to lists.
func (store *VariableStore) SetValue(name VariableName, raw any) {
	switch typed := raw.(type) {
	case []any:
		values := make([]string, 0, len(typed))
		for _, element := range typed {
			values = append(values, scalarString(element))
		}
		store.SetList(name, values)
	case []string:
		store.SetList(name, typed)
	default:
		store.Set(name, scalarString(raw))
	}
}

func (store *VariableStore) set(name VariableName, value any, locked bool) {
	if store == nil {
		return
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	entry, exists := store.values[name]
	if exists && entry.locked && !locked {
		return
	}
	store.values[name] = variableEntry{value: value, locked: locked}
}

func (store *VariableStore) lookup(name VariableName) (any, bool) {
	if store == nil {
		return nil, false
	}
	store.mutex.RLock()
	entry, exists := store.values[name]
	store.mutex.RUnlock()
	return entry.value, exists
}

// Has reports whether name is defined.
func (store *VariableStore) Has(name VariableName) bool {
	_, exists := store.lookup(name)
	return exists
}

// Names returns the defined variable names.
func (store *VariableStore) Names() []string {
	if store == nil {
		return nil
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	names := make([]string, 0, len(store.values))
	for name := range store.values {
		names = append(names, string(name))
	}
	return names
}

func scalarString(raw any) string {
	switch typed := raw.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}
