package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/railcap/internal/manifest"
	flagutils "github.com/tyemirov/railcap/internal/utils/flags"
	"github.com/tyemirov/railcap/internal/workflow"
	"github.com/tyemirov/railcap/pkg/taskrunner"
)

const (
	runCommandUseNameConstant                    = "run <task> [task...]"
	runCommandShortDescriptionConstant           = "Run deploy tasks in order"
	runCommandLongDescriptionConstant            = "run executes each named task with its before and after hooks, stopping at the first failure."
	tasksCommandUseNameConstant                  = "tasks"
	tasksCommandAliasConstant                    = "T"
	tasksCommandShortDescriptionConstant         = "List the available deploy tasks"
	tasksCommandLongDescriptionConstant          = "tasks lists built-in and Deployfile tasks with their descriptions."
	taskListingLineTemplateConstant              = "%s %-*s # %s\n"
	runCompletedMessageConstant                  = "deploy run finished"
	manifestLoadedMessageConstant                = "deploy manifest loaded"
	embeddedManifestMessageConstant              = "no Deployfile found, using the bundled deploy recipe"
	embeddedManifestSourceConstant               = "embedded:" + manifest.DefaultFileName
	variableOverridesMessageConstant             = "variable overrides applied"
	manifestPathFieldConstant                    = "manifest"
	taskCountFieldConstant                       = "tasks"
	hostCountFieldConstant                       = "hosts"
	durationFieldConstant                        = "duration"
	failureCountFieldConstant                    = "failures"
	variableNamesFieldConstant                   = "variables"
	workingDirectoryResolveErrorTemplateConstant = "unable to determine working directory: %w"
	dependencyCloseErrorTemplateConstant         = "unable to close remote connections: %w"
	taskListingOutputMissingMessageConstant      = "task listing output not configured"
)

func (application *Application) registerCommands(cobraCommand *cobra.Command) {
	runCommand := &cobra.Command{
		Use:           runCommandUseNameConstant,
		Short:         runCommandShortDescriptionConstant,
		Long:          runCommandLongDescriptionConstant,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runTasks(command, arguments)
		},
	}
	cobraCommand.AddCommand(runCommand)

	tasksCommand := &cobra.Command{
		Use:           tasksCommandUseNameConstant,
		Aliases:       []string{tasksCommandAliasConstant},
		Short:         tasksCommandShortDescriptionConstant,
		Long:          tasksCommandLongDescriptionConstant,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.listTasks(command)
		},
	}
	cobraCommand.AddCommand(tasksCommand)
}

func (application *Application) loadManifest(command *cobra.Command) (manifest.Manifest, string, error) {
	manifestPath := application.resolveManifestPath()
	if manifestContext, available := application.commandContextAccessor.ManifestContext(command.Context()); available {
		manifestPath = manifestContext.Path
	}

	deployManifest, loadError := manifest.Load(manifestPath)
	if loadError != nil {
		if !application.embeddedManifestFallbackAllowed(manifestPath, loadError) {
			return manifest.Manifest{}, manifestPath, loadError
		}
		deployManifest, loadError = manifest.LoadDefault()
		if loadError != nil {
			return manifest.Manifest{}, embeddedManifestSourceConstant, loadError
		}
		application.logger.Debug(embeddedManifestMessageConstant, zap.String(manifestPathFieldConstant, manifestPath))
		manifestPath = embeddedManifestSourceConstant
	}

	application.logger.Debug(
		manifestLoadedMessageConstant,
		zap.String(manifestPathFieldConstant, manifestPath),
		zap.Int(taskCountFieldConstant, len(deployManifest.Tasks)),
		zap.Int(hostCountFieldConstant, len(deployManifest.Hosts)),
	)
	return deployManifest, manifestPath, nil
}

// embeddedManifestFallbackAllowed reports whether the bundled recipe stands in for a missing default-named manifest.
// An explicit --manifest never falls back.
func (application *Application) embeddedManifestFallbackAllowed(manifestPath string, loadError error) bool {
	if len(strings.TrimSpace(application.manifestFlagValue)) > 0 {
		return false
	}
	if !errors.Is(loadError, fs.ErrNotExist) {
		return false
	}
	return filepath.Base(manifestPath) == manifest.DefaultFileName
}

func (application *Application) runTasks(command *cobra.Command, taskNames []string) (runError error) {
	deployManifest, _, loadError := application.loadManifest(command)
	if loadError != nil {
		return loadError
	}

	variableOverrides, overrideError := parseVariableOverrides(application.variableOverrideValues)
	if overrideError != nil {
		return overrideError
	}
	if len(variableOverrides) > 0 {
		application.logger.Debug(variableOverridesMessageConstant, zap.Strings(variableNamesFieldConstant, sortedVariableNames(variableOverrides)))
	}

	executionFlags, flagsAvailable := application.commandContextAccessor.ExecutionFlags(command.Context())
	if !flagsAvailable {
		executionFlags = flagutils.CollectExecutionFlags(command)
		if !executionFlags.DryRunSet {
			executionFlags.DryRun = application.configuration.Common.DryRun
		}
	}

	workingDirectory, workingDirectoryError := application.workingDirectoryResolver()
	if workingDirectoryError != nil {
		return fmt.Errorf(workingDirectoryResolveErrorTemplateConstant, workingDirectoryError)
	}

	dependencies, dependenciesError := taskrunner.BuildDependencies(
		taskrunner.DependenciesConfig{
			LoggerProvider:               func() *zap.Logger { return application.logger },
			HumanReadableLoggingProvider: application.humanReadableLoggingEnabled,
			CommandRunner:                application.commandRunner,
			Transport:                    application.transport,
		},
		taskrunner.DependenciesOptions{
			Command:    command,
			DryRun:     executionFlags.DryRun,
			RequestPTY: deployManifest.SSH.PTYEnabled(),
			SSH:        application.configuration.SSH.transportConfiguration(deployManifest.SSH),
		},
	)
	if dependenciesError != nil {
		return dependenciesError
	}
	defer func() {
		if closeError := dependencies.Close(); closeError != nil && runError == nil {
			runError = fmt.Errorf(dependencyCloseErrorTemplateConstant, closeError)
		}
	}()

	executor := taskrunner.Resolve(nil, dependencies.Workflow)
	outcome, executionError := executor.Run(command.Context(), deployManifest, taskNames, workflow.RuntimeOptions{
		WorkingDirectory:  workingDirectory,
		Hosts:             executionFlags.Hosts,
		Roles:             executionFlags.Roles,
		VariableOverrides: variableOverrides,
		MaxParallelHosts:  application.configuration.SSH.MaxParallelHosts,
		SSHPort:           application.configuration.SSH.Port,
		DryRun:            executionFlags.DryRun,
	})

	application.logger.Debug(
		runCompletedMessageConstant,
		zap.Strings(taskCountFieldConstant, taskNames),
		zap.Int(hostCountFieldConstant, outcome.HostCount),
		zap.Duration(durationFieldConstant, outcome.Duration),
		zap.Int(failureCountFieldConstant, len(outcome.Failures)),
	)
	return executionError
}

func (application *Application) listTasks(command *cobra.Command) error {
	deployManifest, _, loadError := application.loadManifest(command)
	if loadError != nil {
		return loadError
	}

	registry, registryError := workflow.NewTaskRegistry(deployManifest)
	if registryError != nil {
		return registryError
	}

	return writeTaskListing(command.OutOrStdout(), registry.Tasks())
}

func writeTaskListing(output io.Writer, tasks []manifest.Task) error {
	if output == nil {
		return errors.New(taskListingOutputMissingMessageConstant)
	}

	nameWidth := 0
	for _, task := range tasks {
		if len(task.Name) > nameWidth {
			nameWidth = len(task.Name)
		}
	}

	for _, task := range tasks {
		description := strings.TrimSpace(task.Description)
		if _, writeError := fmt.Fprintf(output, taskListingLineTemplateConstant, applicationNameConstant, nameWidth, task.Name, description); writeError != nil {
			return writeError
		}
	}
	return nil
}
