package workflow

import (
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"
)

const (
	templateDelimiterConstant  = "{{"
	templateMissingKeyConstant = "missingkey=error"
	templateNameConstant       = "value"
	joinFunctionNameConstant   = "join"
)

var templateFunctions = template.FuncMap{
	joinFunctionNameConstant: joinValues,
}

func parseValueTemplate(rawTemplate string) (*template.Template, error) {
	return template.New(templateNameConstant).Option(templateMissingKeyConstant).Funcs(templateFunctions).Parse(rawTemplate)
}

func containsTemplate(raw string) bool {
	return strings.Contains(raw, templateDelimiterConstant)
}

// joinValues joins a list variable; a plain string is returned unchanged.
func joinValues(values any, separator string) (string, error) {
	switch typed := values.(type) {
	case []string:
		return strings.Join(typed, separator), nil
	case string:
		return typed, nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, value := range typed {
			parts = append(parts, fmt.Sprint(value))
		}
		return strings.Join(parts, separator), nil
	default:
		return "", fmt.Errorf("join expects a list, got %T", values)
	}
}

// referencedVariables lists the top-level fields ({{ .name }}) a template reads, in first-use order.
func referencedVariables(parsedTemplate *template.Template) []string {
	if parsedTemplate == nil || parsedTemplate.Tree == nil {
		return nil
	}
	collector := fieldCollector{seen: make(map[string]struct{})}
	collector.walk(parsedTemplate.Tree.Root)
	return collector.names
}

type fieldCollector struct {
	seen  map[string]struct{}
	names []string
}

func (collector *fieldCollector) add(name string) {
	if _, exists := collector.seen[name]; exists {
		return
	}
	collector.seen[name] = struct{}{}
	collector.names = append(collector.names, name)
}

func (collector *fieldCollector) walk(node parse.Node) {
	switch typed := node.(type) {
	case nil:
		return
	case *parse.ListNode:
		if typed == nil {
			return
		}
		for _, child := range typed.Nodes {
			collector.walk(child)
		}
	case *parse.ActionNode:
		collector.walk(typed.Pipe)
	case *parse.PipeNode:
		if typed == nil {
			return
		}
		for _, command := range typed.Cmds {
			collector.walk(command)
		}
	case *parse.CommandNode:
		for _, argument := range typed.Args {
			collector.walk(argument)
		}
	case *parse.FieldNode:
		if len(typed.Ident) > 0 {
			collector.add(typed.Ident[0])
		}
	case *parse.ChainNode:
		collector.walk(typed.Node)
	case *parse.IfNode:
		collector.walkBranch(&typed.BranchNode)
	case *parse.RangeNode:
		collector.walkBranch(&typed.BranchNode)
	case *parse.WithNode:
		collector.walkBranch(&typed.BranchNode)
	case *parse.TemplateNode:
		collector.walk(typed.Pipe)
	}
}

func (collector *fieldCollector) walkBranch(branch *parse.BranchNode) {
	collector.walk(branch.Pipe)
	collector.walk(branch.List)
	collector.walk(branch.ElseList)
}
