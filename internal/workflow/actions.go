package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	railerrors "github.com/tyemirov/railcap/internal/errors"
	"github.com/tyemirov/railcap/internal/execshell"
	"github.com/tyemirov/railcap/internal/manifest"
	"github.com/tyemirov/railcap/internal/remote"
)

const (
	actionRemoteRun          = "remote.run"
	actionRemoteSudo         = "remote.sudo"
	actionRemoteTrySudo      = "remote.try_sudo"
	actionRemotePut          = "remote.put"
	actionRemoteRunIfChanged = "remote.run_if_changed"
	actionLocalSystem        = "local.system"
	actionLocalRequireFile   = "local.require_file"
	actionScmVerifySync      = "scm.verify_sync"
	actionMessagePrint       = "message.print"
	actionTaskInvoke         = "task.invoke"
	actionVariablesSet       = "variables.set"
	actionReleasesCleanup    = "releases.cleanup"
	actionReleasesRollback   = "releases.rollback"
)

const (
	dryRunLocalCommandMessageConstant      = "dry run: skipping local command"
	assetsSkippedMessageConstant           = "skipping command: no changes since revision"
	commandFieldNameConstant               = "command"
	hostFieldNameConstant                  = "host"
	sinceFieldNameConstant                 = "since"
	missingOptionTemplateConstant          = "%s requires option %q"
	invalidOptionTemplateConstant          = "%s option %q: %v"
	missingFileHaltTemplateConstant        = "%s does not exist"
	revisionMismatchHaltTemplateConstant   = "HEAD %s is not origin/%s %s"
	localExecutorMissingMessageConstant    = "local executor not configured"
	revisionResolverMissingMessageConstant = "revision resolver not configured"
	remoteExecutorMissingMessageConstant   = "remote executor not configured"
	outputLineTerminatorConstant           = "\n"
)

type stepHandler struct {
	remote  bool
	execute func(executionContext context.Context, environment *Environment, invocation stepInvocation) error
}

func stepHandlerFor(action string) (stepHandler, bool) {
	switch action {
	case actionRemoteRun:
		return stepHandler{remote: true, execute: executeRemoteRun}, true
	case actionRemoteSudo:
		return stepHandler{remote: true, execute: executeRemoteSudo}, true
	case actionRemoteTrySudo:
		return stepHandler{remote: true, execute: executeRemoteTrySudo}, true
	case actionRemotePut:
		return stepHandler{remote: true, execute: executeRemotePut}, true
	case actionRemoteRunIfChanged:
		return stepHandler{remote: true, execute: executeRemoteRunIfChanged}, true
	case actionLocalSystem:
		return stepHandler{execute: executeLocalSystem}, true
	case actionLocalRequireFile:
		return stepHandler{execute: executeLocalRequireFile}, true
	case actionScmVerifySync:
		return stepHandler{execute: executeScmVerifySync}, true
	case actionMessagePrint:
		return stepHandler{execute: executeMessagePrint}, true
	case actionTaskInvoke:
		return stepHandler{execute: executeTaskInvoke}, true
	case actionVariablesSet:
		return stepHandler{execute: executeVariablesSet}, true
	case actionReleasesCleanup:
		return stepHandler{remote: true, execute: executeReleasesCleanup}, true
	case actionReleasesRollback:
		return stepHandler{remote: true, execute: executeReleasesRollback}, true
	default:
		return stepHandler{}, false
	}
}

type stepInvocation struct {
	task    manifest.Task
	hosts   []manifest.Host
	action  string
	options optionReader
}

func (environment *Environment) executeStep(executionContext context.Context, task manifest.Task, hosts []manifest.Host, taskStep manifest.Step) error {
	handler, exists := stepHandlerFor(taskStep.Action)
	if !exists {
		return railerrors.WrapMessage(railerrors.OperationStepExecute, task.Name, railerrors.ErrUnknownAction, fmt.Sprintf("unknown action %q", taskStep.Action))
	}
	invocation := stepInvocation{task: task, hosts: hosts, action: taskStep.Action, options: newOptionReader(taskStep.Options)}
	if executeError := handler.execute(executionContext, environment, invocation); executeError != nil {
		return executeError
	}
	environment.Reporter.Report(Event{Level: EventLevelInfo, Code: EventCodeStepComplete, Task: task.Name, Message: taskStep.Action})
	return nil
}

// rawString returns the option without interpolation.
func (invocation stepInvocation) rawString(key string, required bool) (string, bool, error) {
	value, present, readError := invocation.options.stringValue(key)
	if readError != nil {
		return "", false, railerrors.WrapMessage(railerrors.OperationStepExecute, invocation.task.Name, railerrors.ErrStepOptionInvalid, fmt.Sprintf(invalidOptionTemplateConstant, invocation.action, key, readError))
	}
	if !present && required {
		return "", false, railerrors.WrapMessage(railerrors.OperationStepExecute, invocation.task.Name, railerrors.ErrStepOptionMissing, fmt.Sprintf(missingOptionTemplateConstant, invocation.action, key))
	}
	return value, present, nil
}

func (invocation stepInvocation) requiredString(executionContext context.Context, environment *Environment, key string) (string, error) {
	value, _, readError := invocation.rawString(key, true)
	if readError != nil {
		return "", readError
	}
	return environment.Variables.Render(executionContext, value)
}

func (invocation stepInvocation) optionalString(executionContext context.Context, environment *Environment, key string, fallback string) (string, error) {
	value, present, readError := invocation.rawString(key, false)
	if readError != nil {
		return "", readError
	}
	if !present {
		value = fallback
	}
	return environment.Variables.Render(executionContext, value)
}

func (invocation stepInvocation) renderedList(executionContext context.Context, environment *Environment, key string) ([]string, error) {
	values, _, readError := invocation.options.stringSlice(key)
	if readError != nil {
		return nil, railerrors.WrapMessage(railerrors.OperationStepExecute, invocation.task.Name, railerrors.ErrStepOptionInvalid, fmt.Sprintf(invalidOptionTemplateConstant, invocation.action, key, readError))
	}
	return environment.Variables.RenderList(executionContext, values)
}

type hostOperation func(executionContext context.Context, endpoint remote.Endpoint) error

// forEachHost runs operation on every host in parallel, bounded by MaxParallelHosts.
// The first failure cancels the remaining hosts; hosts not yet started are skipped.
func (environment *Environment) forEachHost(executionContext context.Context, task manifest.Task, hosts []manifest.Host, operation hostOperation) error {
	if environment.Remote == nil {
		return railerrors.WrapMessage(railerrors.OperationRemoteCommand, task.Name, railerrors.ErrTransportUnavailable, remoteExecutorMissingMessageConstant)
	}

	endpoints := make([]remote.Endpoint, 0, len(hosts))
	for _, host := range hosts {
		endpoint, endpointError := environment.endpointFor(executionContext, host)
		if endpointError != nil {
			return endpointError
		}
		endpoints = append(endpoints, endpoint)
	}

	group, groupContext := errgroup.WithContext(executionContext)
	if environment.Options.MaxParallelHosts > 0 {
		group.SetLimit(environment.Options.MaxParallelHosts)
	}
	for _, endpoint := range endpoints {
		if groupContext.Err() != nil {
			break
		}
		group.Go(func() error {
			if contextError := groupContext.Err(); contextError != nil {
				return contextError
			}
			if operationError := operation(groupContext, endpoint); operationError != nil {
				environment.Reporter.Report(Event{Level: EventLevelError, Code: EventCodeHostFailed, Task: task.Name, Host: endpoint.Label, Message: operationError.Error()})
				return remoteFailure(endpoint, operationError)
			}
			environment.Reporter.Report(Event{Level: EventLevelInfo, Code: EventCodeHostComplete, Task: task.Name, Host: endpoint.Label})
			return nil
		})
	}
	return group.Wait()
}

func remoteFailure(endpoint remote.Endpoint, failure error) error {
	var operationError railerrors.OperationError
	if errors.As(failure, &operationError) {
		return failure
	}
	var connectionError remote.ConnectionError
	if errors.As(failure, &connectionError) {
		return railerrors.Wrap(railerrors.OperationRemoteCommand, endpoint.Label, railerrors.ErrTransportUnavailable, failure)
	}
	return railerrors.Wrap(railerrors.OperationRemoteCommand, endpoint.Label, railerrors.ErrRemoteCommandFailed, failure)
}

func (environment *Environment) useSudo(executionContext context.Context) (bool, error) {
	rawValue, valueError := environment.Variables.Value(executionContext, variableUseSudo)
	if valueError != nil {
		return false, valueError
	}
	enabled, parseError := strconv.ParseBool(strings.TrimSpace(rawValue))
	if parseError != nil {
		return false, railerrors.WrapMessage(railerrors.OperationVariableResolve, variableUseSudo, railerrors.ErrStepOptionInvalid, fmt.Sprintf("use_sudo must be true or false, got %q", rawValue))
	}
	return enabled, nil
}

// trySudo runs script under sudo when use_sudo is set, as the login user otherwise.
func (environment *Environment) trySudo(executionContext context.Context, endpoint remote.Endpoint, script string, useSudo bool) error {
	if useSudo {
		_, sudoError := environment.Remote.Sudo(executionContext, endpoint, script)
		return sudoError
	}
	_, runError := environment.Remote.Run(executionContext, endpoint, script)
	return runError
}

func executeRemoteRun(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	command, commandError := invocation.requiredString(executionContext, environment, optionCommandKeyConstant)
	if commandError != nil {
		return commandError
	}
	return environment.forEachHost(executionContext, invocation.task, invocation.hosts, func(hostContext context.Context, endpoint remote.Endpoint) error {
		_, runError := environment.Remote.Run(hostContext, endpoint, command)
		return runError
	})
}

func executeRemoteSudo(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	command, commandError := invocation.requiredString(executionContext, environment, optionCommandKeyConstant)
	if commandError != nil {
		return commandError
	}
	return environment.forEachHost(executionContext, invocation.task, invocation.hosts, func(hostContext context.Context, endpoint remote.Endpoint) error {
		_, sudoError := environment.Remote.Sudo(hostContext, endpoint, command)
		return sudoError
	})
}

func executeRemoteTrySudo(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	command, commandError := invocation.requiredString(executionContext, environment, optionCommandKeyConstant)
	if commandError != nil {
		return commandError
	}
	useSudo, sudoError := environment.useSudo(executionContext)
	if sudoError != nil {
		return sudoError
	}
	return environment.forEachHost(executionContext, invocation.task, invocation.hosts, func(hostContext context.Context, endpoint remote.Endpoint) error {
		return environment.trySudo(hostContext, endpoint, command, useSudo)
	})
}

func executeRemotePut(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	source, sourceError := invocation.requiredString(executionContext, environment, optionSourceKeyConstant)
	if sourceError != nil {
		return sourceError
	}
	destination, destinationError := invocation.requiredString(executionContext, environment, optionDestinationKeyConstant)
	if destinationError != nil {
		return destinationError
	}
	content, readError := os.ReadFile(environment.localPath(source))
	if readError != nil {
		return railerrors.Wrap(railerrors.OperationLocalCommand, source, railerrors.ErrLocalCommandFailed, readError)
	}
	return environment.forEachHost(executionContext, invocation.task, invocation.hosts, func(hostContext context.Context, endpoint remote.Endpoint) error {
		return environment.Remote.Upload(hostContext, endpoint, content, destination)
	})
}

// executeRemoteRunIfChanged runs command unless the check, captured on the first host, reports zero changes
// since the revision held in the "since" variable. An empty revision always runs the command.
func executeRemoteRunIfChanged(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	sinceVariable, _, sinceError := invocation.rawString(optionSinceKeyConstant, false)
	if sinceError != nil {
		return sinceError
	}
	if len(strings.TrimSpace(sinceVariable)) == 0 {
		sinceVariable = variableCurrentRevision
	}
	sinceRevision, revisionError := environment.Variables.Value(executionContext, VariableName(strings.TrimSpace(sinceVariable)))
	if revisionError != nil {
		return revisionError
	}
	command, commandError := invocation.requiredString(executionContext, environment, optionCommandKeyConstant)
	if commandError != nil {
		return commandError
	}

	if len(strings.TrimSpace(sinceRevision)) > 0 && len(invocation.hosts) > 0 {
		check, checkError := invocation.requiredString(executionContext, environment, optionCheckKeyConstant)
		if checkError != nil {
			return checkError
		}
		skipMessage, skipError := invocation.optionalString(executionContext, environment, optionSkipMessageKeyConstant, assetsSkippedMessageConstant)
		if skipError != nil {
			return skipError
		}
		if environment.Remote == nil {
			return railerrors.WrapMessage(railerrors.OperationRemoteCommand, invocation.task.Name, railerrors.ErrTransportUnavailable, remoteExecutorMissingMessageConstant)
		}
		endpoint, endpointError := environment.endpointFor(executionContext, invocation.hosts[0])
		if endpointError != nil {
			return endpointError
		}
		output, captureError := environment.Remote.Capture(executionContext, endpoint, check)
		if captureError != nil {
			return remoteFailure(endpoint, captureError)
		}
		if changeCount, parseError := strconv.Atoi(strings.TrimSpace(output)); parseError == nil && changeCount == 0 {
			environment.Logger.Info(skipMessage,
				zap.String(taskFieldNameConstant, invocation.task.Name),
				zap.String(sinceFieldNameConstant, sinceRevision),
			)
			environment.Reporter.Report(Event{Level: EventLevelInfo, Code: EventCodeStepSkipped, Task: invocation.task.Name, Message: skipMessage})
			environment.printLine(skipMessage)
			return nil
		}
	}

	return environment.forEachHost(executionContext, invocation.task, invocation.hosts, func(hostContext context.Context, endpoint remote.Endpoint) error {
		_, runError := environment.Remote.Run(hostContext, endpoint, command)
		return runError
	})
}

func executeLocalSystem(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	command, commandError := invocation.requiredString(executionContext, environment, optionCommandKeyConstant)
	if commandError != nil {
		return commandError
	}
	if environment.Options.DryRun {
		environment.Logger.Info(dryRunLocalCommandMessageConstant,
			zap.String(taskFieldNameConstant, invocation.task.Name),
			zap.String(commandFieldNameConstant, command),
		)
		return nil
	}
	if environment.Local == nil {
		return railerrors.WrapMessage(railerrors.OperationLocalCommand, invocation.task.Name, railerrors.ErrLocalCommandFailed, localExecutorMissingMessageConstant)
	}
	details := execshell.CommandDetails{WorkingDirectory: environment.Options.WorkingDirectory, OutputWriter: environment.Output}
	if _, executionError := environment.Local.ExecuteShellScript(executionContext, command, details); executionError != nil {
		return railerrors.Wrap(railerrors.OperationLocalCommand, invocation.task.Name, railerrors.ErrLocalCommandFailed, executionError)
	}
	return nil
}

func executeLocalRequireFile(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	path, pathError := invocation.requiredString(executionContext, environment, optionPathKeyConstant)
	if pathError != nil {
		return pathError
	}
	messages, messagesError := invocation.renderedList(executionContext, environment, optionMissingMessagesKeyConstant)
	if messagesError != nil {
		return messagesError
	}
	if _, statError := os.Stat(environment.localPath(path)); statError == nil {
		return nil
	}
	return environment.halt(invocation.task, messages, fmt.Sprintf(missingFileHaltTemplateConstant, path))
}

func executeScmVerifySync(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	branch, branchError := invocation.optionalString(executionContext, environment, optionBranchKeyConstant, "{{ .branch }}")
	if branchError != nil {
		return branchError
	}
	messages, messagesError := invocation.renderedList(executionContext, environment, optionMismatchMessagesKeyConstant)
	if messagesError != nil {
		return messagesError
	}
	if environment.Revisions == nil {
		return railerrors.WrapMessage(railerrors.OperationLocalCommand, invocation.task.Name, railerrors.ErrLocalCommandFailed, revisionResolverMissingMessageConstant)
	}

	headRevision, headError := environment.Revisions.HeadRevision(executionContext, environment.Options.WorkingDirectory)
	if headError != nil {
		return railerrors.Wrap(railerrors.OperationLocalCommand, invocation.task.Name, railerrors.ErrLocalCommandFailed, headError)
	}
	trackingRevision, trackingError := environment.Revisions.TrackingRevision(executionContext, environment.Options.WorkingDirectory, branch)
	if trackingError != nil {
		return railerrors.Wrap(railerrors.OperationLocalCommand, invocation.task.Name, railerrors.ErrLocalCommandFailed, trackingError)
	}
	if headRevision == trackingRevision {
		return nil
	}
	return environment.halt(invocation.task, messages, fmt.Sprintf(revisionMismatchHaltTemplateConstant, headRevision, branch, trackingRevision))
}

func executeMessagePrint(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	message, messageError := invocation.requiredString(executionContext, environment, optionMessageKeyConstant)
	if messageError != nil {
		return messageError
	}
	environment.printLine(message)
	return nil
}

func executeTaskInvoke(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	taskName, taskError := invocation.requiredString(executionContext, environment, optionTaskKeyConstant)
	if taskError != nil {
		return taskError
	}
	return environment.InvokeTask(executionContext, strings.TrimSpace(taskName))
}

// executeVariablesSet stores the value uninterpolated so it resolves against later state.
func executeVariablesSet(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	rawName, _, nameError := invocation.rawString(optionNameKeyConstant, true)
	if nameError != nil {
		return nameError
	}
	value, _, valueError := invocation.rawString(optionValueKeyConstant, true)
	if valueError != nil {
		return valueError
	}
	name, validationError := NewVariableName(rawName)
	if validationError != nil {
		return railerrors.Wrap(railerrors.OperationStepExecute, invocation.task.Name, railerrors.ErrStepOptionInvalid, validationError)
	}
	environment.Variables.Store().Set(name, value)
	return nil
}

// halt prints the warning lines and stops the run.
func (environment *Environment) halt(task manifest.Task, messages []string, reason string) error {
	for _, message := range messages {
		environment.printLine(message)
	}
	environment.Reporter.Report(Event{Level: EventLevelWarn, Code: EventCodeRunHalted, Task: task.Name, Message: reason})
	return railerrors.WrapMessage(railerrors.OperationTaskInvoke, task.Name, railerrors.ErrRunHalted, reason)
}

// printLine writes text followed by a newline unless it already ends with one.
func (environment *Environment) printLine(text string) {
	if !strings.HasSuffix(text, outputLineTerminatorConstant) {
		text += outputLineTerminatorConstant
	}
	environment.writeOutput(text)
}

func (environment *Environment) localPath(path string) string {
	if filepath.IsAbs(path) || len(environment.Options.WorkingDirectory) == 0 {
		return path
	}
	return filepath.Join(environment.Options.WorkingDirectory, path)
}
