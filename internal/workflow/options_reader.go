package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	optionCommandKeyConstant          = "command"
	optionCheckKeyConstant            = "check"
	optionSinceKeyConstant            = "since"
	optionSkipMessageKeyConstant      = "skip_message"
	optionSourceKeyConstant           = "source"
	optionDestinationKeyConstant      = "destination"
	optionMessageKeyConstant          = "message"
	optionTaskKeyConstant             = "task"
	optionPathKeyConstant             = "path"
	optionMissingMessagesKeyConstant  = "missing_messages"
	optionMismatchMessagesKeyConstant = "mismatch_messages"
	optionBranchKeyConstant           = "branch"
	optionNameKeyConstant             = "name"
	optionValueKeyConstant            = "value"
	optionKeepKeyConstant             = "keep"
)

type optionReader struct {
	entries map[string]any
}

func newOptionReader(raw map[string]any) optionReader {
	normalized := make(map[string]any, len(raw))
	for key, value := range raw {
		normalized[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return optionReader{entries: normalized}
}

// stringValue keeps surrounding whitespace: messages are printed verbatim.
func (reader optionReader) stringValue(key string) (string, bool, error) {
	value, exists := reader.entries[key]
	if !exists || value == nil {
		return "", false, nil
	}
	switch typed := value.(type) {
	case string:
		return typed, true, nil
	case fmt.Stringer:
		return typed.String(), true, nil
	case int, int64, float64, bool:
		return fmt.Sprint(typed), true, nil
	default:
		return "", true, fmt.Errorf("option %s must be a string", key)
	}
}

func (reader optionReader) stringSlice(key string) ([]string, bool, error) {
	value, exists := reader.entries[key]
	if !exists || value == nil {
		return nil, false, nil
	}
	switch typed := value.(type) {
	case string:
		return []string{typed}, true, nil
	case []string:
		return append([]string(nil), typed...), true, nil
	case []any:
		values := make([]string, 0, len(typed))
		for _, entry := range typed {
			text, isString := entry.(string)
			if !isString {
				return nil, true, fmt.Errorf("option %s entries must be strings", key)
			}
			values = append(values, text)
		}
		return values, true, nil
	default:
		return nil, true, fmt.Errorf("option %s must be a list of strings", key)
	}
}

func parsePositiveInteger(name string, raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, parseError := strconv.Atoi(trimmed)
	if parseError != nil || parsed < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, trimmed)
	}
	return parsed, nil
}
