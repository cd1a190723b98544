package execshell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
)

// OSCommandRunner executes commands as local processes.
type OSCommandRunner struct{}

// NewOSCommandRunner constructs a runner backed by os/exec.
func NewOSCommandRunner() OSCommandRunner {
	return OSCommandRunner{}
}

// Run executes the command and captures its output; a non-zero exit is reported through ExitCode.
func (runner OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	if executionContext == nil {
		executionContext = context.Background()
	}
	process := exec.CommandContext(executionContext, string(command.Name), command.Details.Arguments...)
	if workingDirectory := strings.TrimSpace(command.Details.WorkingDirectory); len(workingDirectory) > 0 {
		process.Dir = workingDirectory
	}
	if len(command.Details.EnvironmentVariables) > 0 {
		environment := os.Environ()
		for key, value := range command.Details.EnvironmentVariables {
			environment = append(environment, key+"="+value)
		}
		process.Env = environment
	}
	if len(command.Details.StandardInput) > 0 {
		process.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	var standardOutput bytes.Buffer
	var standardError bytes.Buffer
	if command.Details.OutputWriter != nil {
		process.Stdout = io.MultiWriter(&standardOutput, command.Details.OutputWriter)
	} else {
		process.Stdout = &standardOutput
	}
	process.Stderr = &standardError

	runError := process.Run()
	result := ExecutionResult{
		StandardOutput: standardOutput.String(),
		StandardError:  standardError.String(),
	}
	if runError == nil {
		return result, nil
	}

	var exitError *exec.ExitError
	if errors.As(runError, &exitError) {
		result.ExitCode = exitError.ExitCode()
		return result, nil
	}
	return ExecutionResult{}, runError
}
