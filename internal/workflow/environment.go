package workflow

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/railcap/internal/execshell"
	"github.com/tyemirov/railcap/internal/manifest"
	"github.com/tyemirov/railcap/internal/remote"
)

// RemoteExecutor runs commands on deploy hosts.
type RemoteExecutor interface {
	Run(executionContext context.Context, endpoint remote.Endpoint, script string) (remote.CommandResult, error)
	Capture(executionContext context.Context, endpoint remote.Endpoint, script string) (string, error)
	Sudo(executionContext context.Context, endpoint remote.Endpoint, script string) (remote.CommandResult, error)
	Upload(executionContext context.Context, endpoint remote.Endpoint, content []byte, destination string) error
}

// LocalExecutor runs shell scripts on the deploying workstation.
type LocalExecutor interface {
	ExecuteShellScript(executionContext context.Context, script string, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// RevisionResolver answers questions about the local checkout and the remote repository.
type RevisionResolver interface {
	HeadRevision(executionContext context.Context, repositoryPath string) (string, error)
	TrackingRevision(executionContext context.Context, repositoryPath string, branchName string) (string, error)
	LsRemote(executionContext context.Context, workingDirectory string, repository string, branchName string) (string, error)
}

// Dependencies supplies the collaborators a run needs.
type Dependencies struct {
	Logger               *zap.Logger
	RemoteExecutor       RemoteExecutor
	LocalExecutor        LocalExecutor
	RevisionResolver     RevisionResolver
	Output               io.Writer
	Errors               io.Writer
	Clock                func() time.Time
	HumanReadableLogging bool
}

// RuntimeOptions carries command-line choices for one run.
type RuntimeOptions struct {
	WorkingDirectory  string
	Hosts             []string
	Roles             []string
	VariableOverrides map[string]string
	MaxParallelHosts  int
	SSHPort           int
	DryRun            bool
}

// Environment is the state shared by every task and step of one run.
type Environment struct {
	Logger               *zap.Logger
	Registry             *TaskRegistry
	Variables            *VariableResolver
	Hosts                []manifest.Host
	Remote               RemoteExecutor
	Local                LocalExecutor
	Revisions            RevisionResolver
	Output               io.Writer
	Errors               io.Writer
	Reporter             *RunReporter
	Options              RuntimeOptions
	HumanReadableLogging bool

	invocationStack []string
	outputMutex     sync.Mutex
}

func (environment *Environment) hostOverrides() HostOverrides {
	return HostOverrides{Hosts: environment.Options.Hosts, Roles: environment.Options.Roles}
}

func (environment *Environment) writeOutput(text string) {
	if environment.Output == nil {
		return
	}
	environment.outputMutex.Lock()
	defer environment.outputMutex.Unlock()
	_, _ = io.WriteString(environment.Output, text)
}
