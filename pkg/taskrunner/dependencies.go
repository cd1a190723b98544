package taskrunner

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/railcap/internal/execshell"
	"github.com/tyemirov/railcap/internal/gitrepo"
	"github.com/tyemirov/railcap/internal/remote"
	"github.com/tyemirov/railcap/internal/workflow"
)

const sudoPasswordEnvironmentVariableConstant = "RAILCAP_SUDO_PASSWORD"

// DependenciesConfig captures providers required to build workflow dependencies.
type DependenciesConfig struct {
	LoggerProvider               func() *zap.Logger
	HumanReadableLoggingProvider func() bool
	CommandRunner                execshell.CommandRunner
	Transport                    remote.Transport
}

// DependenciesOptions allows per-command overrides when resolving workflow dependencies.
type DependenciesOptions struct {
	Command      *cobra.Command
	Output       io.Writer
	Errors       io.Writer
	DryRun       bool
	RequestPTY   bool
	SudoPassword string
	SSH          remote.SSHConfiguration
}

// DependenciesResult exposes resolved collaborators along with their workflow wrapper.
// Close releases pooled SSH connections and must be called once the run ends.
type DependenciesResult struct {
	Workflow          workflow.Dependencies
	ShellExecutor     *execshell.ShellExecutor
	RepositoryManager *gitrepo.RepositoryManager
	RemoteExecutor    *remote.Executor
}

// Close releases the remote transport.
func (result DependenciesResult) Close() error {
	if result.RemoteExecutor == nil {
		return nil
	}
	return result.RemoteExecutor.Close()
}

// BuildDependencies resolves the local shell, git, and remote collaborators for a deploy run.
// Dry runs record remote commands instead of connecting.
func BuildDependencies(config DependenciesConfig, options DependenciesOptions) (DependenciesResult, error) {
	logger := resolveLogger(config.LoggerProvider)
	humanReadable := false
	if config.HumanReadableLoggingProvider != nil {
		humanReadable = config.HumanReadableLoggingProvider()
	}

	commandRunner := config.CommandRunner
	if commandRunner == nil {
		commandRunner = execshell.NewOSCommandRunner()
	}
	shellExecutor, shellError := execshell.NewShellExecutor(logger, commandRunner, humanReadable)
	if shellError != nil {
		return DependenciesResult{}, fmt.Errorf("taskrunner.dependencies.shell_executor: %w", shellError)
	}

	repositoryManager, managerError := gitrepo.NewRepositoryManager(shellExecutor)
	if managerError != nil {
		return DependenciesResult{}, fmt.Errorf("taskrunner.dependencies.git_manager: %w", managerError)
	}

	outputWriter := resolveWriter(options.Output, options.Command, true)
	errorWriter := resolveWriter(options.Errors, options.Command, false)

	transport, transportError := resolveTransport(config.Transport, logger, outputWriter, options)
	if transportError != nil {
		return DependenciesResult{}, fmt.Errorf("taskrunner.dependencies.transport: %w", transportError)
	}

	sudoPassword := options.SudoPassword
	if len(sudoPassword) == 0 {
		sudoPassword = os.Getenv(sudoPasswordEnvironmentVariableConstant)
	}
	remoteExecutor, remoteError := remote.NewExecutor(logger, transport, remote.ExecutorOptions{
		RequestPTY:           options.RequestPTY,
		SudoPassword:         sudoPassword,
		HumanReadableLogging: humanReadable,
		Output:               outputWriter,
	})
	if remoteError != nil {
		return DependenciesResult{}, errors.Join(fmt.Errorf("taskrunner.dependencies.remote_executor: %w", remoteError), transport.Close())
	}

	workflowDependencies := workflow.Dependencies{
		Logger:               logger,
		RemoteExecutor:       remoteExecutor,
		LocalExecutor:        shellExecutor,
		RevisionResolver:     repositoryManager,
		Output:               outputWriter,
		Errors:               errorWriter,
		HumanReadableLogging: humanReadable,
	}

	return DependenciesResult{
		Workflow:          workflowDependencies,
		ShellExecutor:     shellExecutor,
		RepositoryManager: repositoryManager,
		RemoteExecutor:    remoteExecutor,
	}, nil
}

func resolveTransport(provided remote.Transport, logger *zap.Logger, output io.Writer, options DependenciesOptions) (remote.Transport, error) {
	if provided != nil {
		return provided, nil
	}
	if options.DryRun {
		return remote.NewDryRunTransport(output), nil
	}
	return remote.NewSSHTransport(logger, options.SSH)
}

func resolveLogger(provider func() *zap.Logger) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func resolveWriter(provided io.Writer, command *cobra.Command, useStdout bool) io.Writer {
	if provided != nil {
		return provided
	}
	if command != nil {
		if useStdout {
			if writer := command.OutOrStdout(); writer != nil && writer != io.Discard {
				return writer
			}
		} else {
			if writer := command.ErrOrStderr(); writer != nil && writer != io.Discard {
				return writer
			}
		}
	}
	if useStdout {
		return os.Stdout
	}
	return os.Stderr
}
