package workflow

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	railerrors "github.com/tyemirov/railcap/internal/errors"
)

const variableCycleSeparatorConstant = " -> "

// VariableResolver renders templates against a VariableStore, resolving referenced variables on demand.
type VariableResolver struct {
	store *VariableStore
}

// NewVariableResolver wraps the store.
func NewVariableResolver(store *VariableStore) *VariableResolver {
	return &VariableResolver{store: store}
}

// Store exposes the underlying variable store.
func (resolver *VariableResolver) Store() *VariableStore {
	return resolver.store
}

// Render interpolates rawTemplate. Referencing an undefined variable or a cycle of variables is an error.
func (resolver *VariableResolver) Render(executionContext context.Context, rawTemplate string) (string, error) {
	resolution := newVariableResolution(resolver.store)
	return resolution.render(executionContext, rawTemplate)
}

// RenderList interpolates every element.
func (resolver *VariableResolver) RenderList(executionContext context.Context, rawTemplates []string) ([]string, error) {
	resolution := newVariableResolution(resolver.store)
	rendered := make([]string, 0, len(rawTemplates))
	for _, rawTemplate := range rawTemplates {
		value, renderError := resolution.render(executionContext, rawTemplate)
		if renderError != nil {
			return nil, renderError
		}
		rendered = append(rendered, value)
	}
	return rendered, nil
}

// Value resolves a single variable to a string; lists are joined with spaces.
func (resolver *VariableResolver) Value(executionContext context.Context, name VariableName) (string, error) {
	resolution := newVariableResolution(resolver.store)
	value, resolveError := resolution.resolve(executionContext, string(name))
	if resolveError != nil {
		return "", resolveError
	}
	if list, isList := value.([]string); isList {
		return strings.Join(list, " "), nil
	}
	return value.(string), nil
}

type variableResolution struct {
	store    *VariableStore
	resolved map[string]any
	visiting []string
}

func newVariableResolution(store *VariableStore) *variableResolution {
	return &variableResolution{store: store, resolved: make(map[string]any)}
}

func (resolution *variableResolution) render(executionContext context.Context, rawTemplate string) (string, error) {
	if !containsTemplate(rawTemplate) {
		return rawTemplate, nil
	}

	parsedTemplate, parseError := parseValueTemplate(rawTemplate)
	if parseError != nil {
		return "", railerrors.Wrap(railerrors.OperationVariableResolve, rawTemplate, railerrors.ErrVariableUndefined, parseError)
	}

	data := make(map[string]any)
	for _, name := range referencedVariables(parsedTemplate) {
		value, resolveError := resolution.resolve(executionContext, name)
		if resolveError != nil {
			return "", resolveError
		}
		data[name] = value
	}

	var buffer bytes.Buffer
	if executeError := parsedTemplate.Execute(&buffer, data); executeError != nil {
		return "", railerrors.Wrap(railerrors.OperationVariableResolve, rawTemplate, railerrors.ErrVariableUndefined, executeError)
	}
	return buffer.String(), nil
}

func (resolution *variableResolution) resolve(executionContext context.Context, name string) (any, error) {
	if value, cached := resolution.resolved[name]; cached {
		return value, nil
	}

	for visitIndex, visiting := range resolution.visiting {
		if visiting == name {
			chain := append(append([]string(nil), resolution.visiting[visitIndex:]...), name)
			return nil, railerrors.WrapMessage(railerrors.OperationVariableResolve, name, railerrors.ErrVariableCycle, strings.Join(chain, variableCycleSeparatorConstant))
		}
	}

	rawValue, defined := resolution.store.lookup(VariableName(name))
	if !defined {
		return nil, railerrors.WrapMessage(railerrors.OperationVariableResolve, name, railerrors.ErrVariableUndefined, fmt.Sprintf("variable %q is not defined", name))
	}

	resolution.visiting = append(resolution.visiting, name)
	defer func() {
		resolution.visiting = resolution.visiting[:len(resolution.visiting)-1]
	}()

	var resolvedValue any
	switch typed := rawValue.(type) {
	case string:
		rendered, renderError := resolution.render(executionContext, typed)
		if renderError != nil {
			return nil, renderError
		}
		resolvedValue = rendered
	case []string:
		renderedList := make([]string, 0, len(typed))
		for _, element := range typed {
			rendered, renderError := resolution.render(executionContext, element)
			if renderError != nil {
				return nil, renderError
			}
			renderedList = append(renderedList, rendered)
		}
		resolvedValue = renderedList
	case *lazyValue:
		computed, computeError := typed.get(executionContext)
		if computeError != nil {
			return nil, computeError
		}
		resolvedValue = computed
	default:
		resolvedValue = scalarString(typed)
	}

	resolution.resolved[name] = resolvedValue
	return resolvedValue, nil
}
