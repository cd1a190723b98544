package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	sudoCommandPrefixConstant               = "sudo "
	sudoPasswordCommandPrefixConstant       = "sudo -S -p '' "
	uploadCommandTemplateConstant           = "cat > %s"
	remoteCommandStartMessageConstant       = "remote command starting"
	remoteCommandSuccessMessageConstant     = "remote command completed"
	remoteCommandFailureMessageConstant     = "remote command returned non-zero status"
	remoteCommandErrorMessageConstant       = "remote command execution error"
	humanStartTemplateConstant              = "[%s] executing %q"
	humanSuccessTemplateConstant            = "[%s] finished %q"
	humanFailureTemplateConstant            = "[%s] %q failed with exit code %d"
	humanErrorTemplateConstant              = "[%s] %q failed: %v"
	commandFieldNameConstant                = "command"
	exitCodeFieldNameConstant               = "exit_code"
	standardErrorFieldNameConstant          = "stderr"
	executorTransportMissingMessageConstant = "remote executor transport not configured"
	executorLoggerMissingMessageConstant    = "remote executor logger not configured"
	uploadDestinationMissingMessageConstant = "upload destination required"
)

var (
	// ErrTransportNotConfigured indicates the executor was built without a transport.
	ErrTransportNotConfigured = errors.New(executorTransportMissingMessageConstant)
	// ErrExecutorLoggerNotConfigured indicates the executor was built without a logger.
	ErrExecutorLoggerNotConfigured = errors.New(executorLoggerMissingMessageConstant)
	// ErrUploadDestinationMissing indicates Upload was called without a remote path.
	ErrUploadDestinationMissing = errors.New(uploadDestinationMissingMessageConstant)
)

// ExecutorOptions tunes how commands are sent.
type ExecutorOptions struct {
	RequestPTY           bool
	SudoPassword         string
	HumanReadableLogging bool
	Output               io.Writer
}

// Executor runs commands through a Transport with lifecycle logging and typed failures.
type Executor struct {
	transport   Transport
	logger      *zap.Logger
	options     ExecutorOptions
	outputMutex sync.Mutex
}

// NewExecutor builds an Executor for the transport.
func NewExecutor(logger *zap.Logger, transport Transport, options ExecutorOptions) (*Executor, error) {
	if logger == nil {
		return nil, ErrExecutorLoggerNotConfigured
	}
	if transport == nil {
		return nil, ErrTransportNotConfigured
	}
	return &Executor{transport: transport, logger: logger, options: options}, nil
}

// Run executes script on the endpoint, streaming output with a host prefix.
func (executor *Executor) Run(executionContext context.Context, endpoint Endpoint, script string) (CommandResult, error) {
	return executor.execute(executionContext, endpoint, script, CommandRequest{Script: script, RequestPTY: executor.options.RequestPTY}, true)
}

// Capture executes script without a pty and returns its standard output.
func (executor *Executor) Capture(executionContext context.Context, endpoint Endpoint, script string) (string, error) {
	result, executionError := executor.execute(executionContext, endpoint, script, CommandRequest{Script: script}, false)
	if executionError != nil {
		return "", executionError
	}
	return result.StandardOutput, nil
}

// Sudo executes script under sudo. A configured password is fed on stdin with an empty prompt.
func (executor *Executor) Sudo(executionContext context.Context, endpoint Endpoint, script string) (CommandResult, error) {
	request := CommandRequest{Script: sudoCommandPrefixConstant + script, RequestPTY: executor.options.RequestPTY}
	if len(executor.options.SudoPassword) > 0 {
		request.Script = sudoPasswordCommandPrefixConstant + script
		request.StandardInput = []byte(executor.options.SudoPassword + "\n")
	}
	return executor.execute(executionContext, endpoint, sudoCommandPrefixConstant+script, request, true)
}

// Upload writes content to destination on the endpoint.
func (executor *Executor) Upload(executionContext context.Context, endpoint Endpoint, content []byte, destination string) error {
	trimmedDestination := strings.TrimSpace(destination)
	if len(trimmedDestination) == 0 {
		return ErrUploadDestinationMissing
	}
	script := fmt.Sprintf(uploadCommandTemplateConstant, QuoteShellArgument(trimmedDestination))
	request := CommandRequest{Script: script, StandardInput: content}
	_, executionError := executor.execute(executionContext, endpoint, script, request, false)
	return executionError
}

// Close releases the underlying transport.
func (executor *Executor) Close() error {
	return executor.transport.Close()
}

func (executor *Executor) execute(executionContext context.Context, endpoint Endpoint, displayCommand string, request CommandRequest, streamOutput bool) (CommandResult, error) {
	var lineWriter *PrefixedLineWriter
	if streamOutput && executor.options.Output != nil {
		lineWriter = NewPrefixedLineWriter(executor.options.Output, &executor.outputMutex, endpoint.Label)
		request.OutputWriter = lineWriter
	}

	if executor.options.HumanReadableLogging {
		executor.logger.Info(fmt.Sprintf(humanStartTemplateConstant, endpoint.Label, displayCommand))
	} else {
		executor.logger.Info(remoteCommandStartMessageConstant,
			zap.String(hostFieldNameConstant, endpoint.Label),
			zap.String(commandFieldNameConstant, displayCommand),
		)
	}

	result, transportError := executor.transport.Execute(executionContext, endpoint, request)
	if lineWriter != nil {
		_ = lineWriter.Flush()
	}

	if transportError != nil {
		if executor.options.HumanReadableLogging {
			executor.logger.Error(fmt.Sprintf(humanErrorTemplateConstant, endpoint.Label, displayCommand, transportError))
		} else {
			executor.logger.Error(remoteCommandErrorMessageConstant,
				zap.String(hostFieldNameConstant, endpoint.Label),
				zap.String(commandFieldNameConstant, displayCommand),
				zap.Error(transportError),
			)
		}
		return CommandResult{}, transportError
	}

	if result.ExitCode != 0 {
		if executor.options.HumanReadableLogging {
			executor.logger.Warn(fmt.Sprintf(humanFailureTemplateConstant, endpoint.Label, displayCommand, result.ExitCode))
		} else {
			executor.logger.Warn(remoteCommandFailureMessageConstant,
				zap.String(hostFieldNameConstant, endpoint.Label),
				zap.String(commandFieldNameConstant, displayCommand),
				zap.Int(exitCodeFieldNameConstant, result.ExitCode),
				zap.String(standardErrorFieldNameConstant, result.StandardError),
			)
		}
		return result, CommandFailedError{Host: endpoint.Label, Command: displayCommand, Result: result}
	}

	if executor.options.HumanReadableLogging {
		executor.logger.Info(fmt.Sprintf(humanSuccessTemplateConstant, endpoint.Label, displayCommand))
	} else {
		executor.logger.Info(remoteCommandSuccessMessageConstant,
			zap.String(hostFieldNameConstant, endpoint.Label),
			zap.String(commandFieldNameConstant, displayCommand),
		)
	}
	return result, nil
}
