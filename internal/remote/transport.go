package remote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tyemirov/railcap/internal/execshell"
)

// CommandRequest describes one command sent to a host.
type CommandRequest struct {
	Script        string
	StandardInput []byte
	RequestPTY    bool
	OutputWriter  io.Writer
}

// CommandResult captures what a host returned for a command.
type CommandResult struct {
	StandardOutput string
	StandardError  string
	ExitCode       int
}

// Transport executes commands on remote hosts.
type Transport interface {
	Execute(executionContext context.Context, endpoint Endpoint, request CommandRequest) (CommandResult, error)
	Close() error
}

// CommandFailedError reports a command that exited non-zero on a host.
type CommandFailedError struct {
	Host    string
	Command string
	Result  CommandResult
}

// Error describes the failure with the first lines of output.
func (commandError CommandFailedError) Error() string {
	baseMessage := fmt.Sprintf("command %q exited with code %d on %s", commandError.Command, commandError.Result.ExitCode, commandError.Host)
	detail := execshell.SummarizeOutput(commandError.Result.StandardError, commandError.Result.StandardOutput)
	if len(detail) == 0 {
		return baseMessage
	}
	return fmt.Sprintf("%s: %s", baseMessage, detail)
}

// ConnectionError reports a failure to reach or authenticate against a host.
type ConnectionError struct {
	Host  string
	Cause error
}

// Error describes the connection failure.
func (connectionError ConnectionError) Error() string {
	return fmt.Sprintf("ssh connection to %s failed: %v", connectionError.Host, connectionError.Cause)
}

// Unwrap exposes the underlying error.
func (connectionError ConnectionError) Unwrap() error {
	return connectionError.Cause
}

// QuoteShellArgument wraps value in single quotes for POSIX shells.
func QuoteShellArgument(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
