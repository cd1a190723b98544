package workflow

import (
	"errors"
	"fmt"
	"strings"

	railerrors "github.com/tyemirov/railcap/internal/errors"
)

const (
	unknownErrorCodeConstant                = "unknown_error"
	unknownErrorMessageConstant             = "unknown error"
	formattedErrorTemplateConstant          = "%s: %s %s"
	formattedErrorNoSubjectTemplateConstant = "%s: %s"
	operationSubjectPrefixTemplateConstant  = "%s[%s]:"
	operationPrefixTemplateConstant         = "%s:"
	errorCodeWordSeparatorConstant          = "_"
)

// FormatOperationError renders err as "code: subject message" for the terminal.
// Errors that carry no operation context are returned as their plain message.
func FormatOperationError(err error) string {
	if err == nil {
		return ""
	}

	var operationError railerrors.OperationError
	if !errors.As(err, &operationError) {
		return err.Error()
	}

	code := strings.TrimSpace(operationError.Code())
	if len(code) == 0 {
		code = strings.TrimSpace(string(operationError.Operation()))
	}
	if len(code) == 0 {
		code = unknownErrorCodeConstant
	}

	message := strings.TrimSpace(operationError.Message())
	if len(message) == 0 {
		message = deriveOperationErrorMessage(operationError, code)
	}
	if len(message) == 0 || strings.EqualFold(message, code) {
		message = humanizeErrorCode(code)
	}

	subject := strings.TrimSpace(operationError.Subject())
	if len(subject) == 0 {
		return fmt.Sprintf(formattedErrorNoSubjectTemplateConstant, code, message)
	}
	return fmt.Sprintf(formattedErrorTemplateConstant, code, subject, message)
}

func deriveOperationErrorMessage(operationError railerrors.OperationError, code string) string {
	raw := strings.TrimSpace(operationError.Error())
	if len(raw) == 0 {
		return ""
	}

	subject := strings.TrimSpace(operationError.Subject())
	operation := strings.TrimSpace(string(operationError.Operation()))

	if len(operation) > 0 && len(subject) > 0 {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, fmt.Sprintf(operationSubjectPrefixTemplateConstant, operation, subject)))
	} else if len(operation) > 0 {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, fmt.Sprintf(operationPrefixTemplateConstant, operation)))
	}

	return strings.TrimSpace(strings.TrimPrefix(raw, fmt.Sprintf(operationPrefixTemplateConstant, code)))
}

func humanizeErrorCode(code string) string {
	if len(code) == 0 {
		return unknownErrorMessageConstant
	}
	return strings.TrimSpace(strings.ReplaceAll(code, errorCodeWordSeparatorConstant, " "))
}
