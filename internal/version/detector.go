package version

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/railcap/internal/execshell"
)

const (
	unknownVersionConstant                    = "unknown"
	develVersionConstant                      = "(devel)"
	revisionSettingKeyConstant                = "vcs.revision"
	modifiedSettingKeyConstant                = "vcs.modified"
	shortRevisionLengthConstant               = 12
	dirtySuffixConstant                       = "-dirty"
	gitDescribeSubcommandConstant             = "describe"
	gitTagsFlagConstant                       = "--tags"
	gitAlwaysFlagConstant                     = "--always"
	gitDirtyFlagConstant                      = "--dirty"
	gitTerminalPromptEnvironmentNameConstant  = "GIT_TERMINAL_PROMPT"
	gitTerminalPromptEnvironmentValueConstant = "0"
	gitRunnerMissingMessageConstant           = "git runner not configured"
	versionLineTemplateConstant               = "railcap %s"
	revisionLineTemplateConstant              = " (%s)"
)

// linkedVersion is set at build time with -ldflags "-X github.com/tyemirov/railcap/internal/version.linkedVersion=v1.0.0".
var linkedVersion string

// BuildInfoProvider exposes runtime build metadata.
type BuildInfoProvider interface {
	Read() (*debug.BuildInfo, bool)
}

// GitRunner runs git in a working directory.
type GitRunner interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// Info describes the running binary.
type Info struct {
	Version  string
	Revision string
}

// String renders the version line printed by the version command.
func (info Info) String() string {
	line := fmt.Sprintf(versionLineTemplateConstant, info.Version)
	if len(info.Revision) > 0 && info.Revision != info.Version {
		line += fmt.Sprintf(revisionLineTemplateConstant, info.Revision)
	}
	return line
}

// Dependencies describes the collaborators required for version detection.
type Dependencies struct {
	BuildInfoProvider BuildInfoProvider
	GitRunner         GitRunner
	SourceDirectory   string
	LinkedVersion     string
}

// Detect resolves version information. Precedence: linked version, module version, git describe of SourceDirectory.
func Detect(executionContext context.Context, dependencies Dependencies) Info {
	provider := dependencies.BuildInfoProvider
	if provider == nil {
		provider = runtimeBuildInfoProvider{}
	}
	linked := strings.TrimSpace(dependencies.LinkedVersion)
	if len(linked) == 0 {
		linked = strings.TrimSpace(linkedVersion)
	}

	info := Info{Version: linked}
	if buildInfo, available := provider.Read(); available && buildInfo != nil {
		info.Revision = revisionFromBuildInfo(buildInfo)
		if len(info.Version) == 0 {
			moduleVersion := strings.TrimSpace(buildInfo.Main.Version)
			if len(moduleVersion) > 0 && moduleVersion != develVersionConstant {
				info.Version = moduleVersion
			}
		}
	}

	if len(info.Version) == 0 && len(strings.TrimSpace(dependencies.SourceDirectory)) > 0 {
		runner := dependencies.GitRunner
		if runner == nil {
			runner = defaultGitRunner()
		}
		info.Version = describeVersion(executionContext, runner, dependencies.SourceDirectory)
	}

	if len(info.Version) == 0 {
		info.Version = unknownVersionConstant
	}
	return info
}

func revisionFromBuildInfo(buildInfo *debug.BuildInfo) string {
	revision := ""
	modified := false
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case revisionSettingKeyConstant:
			revision = strings.TrimSpace(setting.Value)
		case modifiedSettingKeyConstant:
			modified = setting.Value == "true"
		}
	}
	if len(revision) > shortRevisionLengthConstant {
		revision = revision[:shortRevisionLengthConstant]
	}
	if len(revision) > 0 && modified {
		revision += dirtySuffixConstant
	}
	return revision
}

func describeVersion(executionContext context.Context, runner GitRunner, sourceDirectory string) string {
	if runner == nil {
		return ""
	}
	result, describeError := runner.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:            []string{gitDescribeSubcommandConstant, gitTagsFlagConstant, gitAlwaysFlagConstant, gitDirtyFlagConstant},
		WorkingDirectory:     sourceDirectory,
		EnvironmentVariables: map[string]string{gitTerminalPromptEnvironmentNameConstant: gitTerminalPromptEnvironmentValueConstant},
	})
	if describeError != nil {
		return ""
	}
	return strings.TrimSpace(result.StandardOutput)
}

type runtimeBuildInfoProvider struct{}

func (runtimeBuildInfoProvider) Read() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}

type unavailableGitRunner struct{}

func (unavailableGitRunner) ExecuteGit(context.Context, execshell.CommandDetails) (execshell.ExecutionResult, error) {
	return execshell.ExecutionResult{}, errors.New(gitRunnerMissingMessageConstant)
}

func defaultGitRunner() GitRunner {
	shellExecutor, creationError := execshell.NewShellExecutor(zap.NewNop(), execshell.NewOSCommandRunner(), false)
	if creationError != nil {
		return unavailableGitRunner{}
	}
	return shellExecutor
}
