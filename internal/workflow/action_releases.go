package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	railerrors "github.com/tyemirov/railcap/internal/errors"
	"github.com/tyemirov/railcap/internal/remote"
)

const (
	releaseRemovalCommandPrefixConstant = "rm -rf"
	releasePathTemplateConstant         = "%s/%s"
	rollbackSymlinkCommandConstant      = "rm -f {{ .current_path }} && ln -s {{ .previous_release }} {{ .current_path }}"
	noReleasesToRemoveMessageConstant   = "no old releases to clean up"
	releasesRemovedMessageConstant      = "removing old releases"
	rollbackUnavailableMessageConstant  = "there are no older releases to rollback to"
	keptReleasesFieldNameConstant       = "kept"
	deployedReleasesFieldNameConstant   = "deployed"
	defaultKeepReleasesTemplateConstant = "{{ .keep_releases }}"
)

// selectReleasesToRemove returns the oldest releases beyond the newest keep.
// Release names are timestamps, so lexical order is chronological.
func selectReleasesToRemove(releases []string, keep int) []string {
	sorted := append([]string(nil), releases...)
	sort.Strings(sorted)
	if keep < 0 || len(sorted) <= keep {
		return nil
	}
	return sorted[:len(sorted)-keep]
}

func (environment *Environment) listReleases(executionContext context.Context, endpoint remote.Endpoint) ([]string, error) {
	command, renderError := environment.Variables.Render(executionContext, listReleasesCommandConstant)
	if renderError != nil {
		return nil, renderError
	}
	output, captureError := environment.Remote.Capture(executionContext, endpoint, command)
	if captureError != nil {
		return nil, remoteFailure(endpoint, captureError)
	}
	releases := strings.Fields(output)
	sort.Strings(releases)
	return releases, nil
}

func executeReleasesCleanup(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	rawKeep, keepError := invocation.optionalString(executionContext, environment, optionKeepKeyConstant, defaultKeepReleasesTemplateConstant)
	if keepError != nil {
		return keepError
	}
	keep, parseError := parsePositiveInteger(optionKeepKeyConstant, rawKeep)
	if parseError != nil {
		return railerrors.Wrap(railerrors.OperationReleaseLifecycle, invocation.task.Name, railerrors.ErrStepOptionInvalid, parseError)
	}
	releasesPath, pathError := environment.Variables.Value(executionContext, variableReleasesPath)
	if pathError != nil {
		return pathError
	}
	useSudo, sudoError := environment.useSudo(executionContext)
	if sudoError != nil {
		return sudoError
	}

	return environment.forEachHost(executionContext, invocation.task, invocation.hosts, func(hostContext context.Context, endpoint remote.Endpoint) error {
		releases, listError := environment.listReleases(hostContext, endpoint)
		if listError != nil {
			return listError
		}
		removable := selectReleasesToRemove(releases, keep)
		if len(removable) == 0 {
			environment.Logger.Info(noReleasesToRemoveMessageConstant, zap.String(hostFieldNameConstant, endpoint.Label))
			return nil
		}

		environment.Logger.Info(releasesRemovedMessageConstant,
			zap.String(hostFieldNameConstant, endpoint.Label),
			zap.Int(keptReleasesFieldNameConstant, keep),
			zap.Int(deployedReleasesFieldNameConstant, len(releases)),
		)
		removalPaths := make([]string, 0, len(removable))
		for _, release := range removable {
			removalPaths = append(removalPaths, fmt.Sprintf(releasePathTemplateConstant, releasesPath, release))
		}
		command := releaseRemovalCommandPrefixConstant + " " + strings.Join(removalPaths, " ")
		return environment.trySudo(hostContext, endpoint, command, useSudo)
	})
}

// executeReleasesRollback points current at the release before the newest one, read from the first release host.
// It records previous_release and rollback_release for the steps that follow.
func executeReleasesRollback(executionContext context.Context, environment *Environment, invocation stepInvocation) error {
	if environment.Remote == nil {
		return railerrors.WrapMessage(railerrors.OperationRemoteCommand, invocation.task.Name, railerrors.ErrTransportUnavailable, remoteExecutorMissingMessageConstant)
	}
	if len(invocation.hosts) == 0 {
		return railerrors.WrapMessage(railerrors.OperationReleaseLifecycle, invocation.task.Name, railerrors.ErrRollbackUnavailable, rollbackUnavailableMessageConstant)
	}
	endpoint, endpointError := environment.endpointFor(executionContext, invocation.hosts[0])
	if endpointError != nil {
		return endpointError
	}
	releases, listError := environment.listReleases(executionContext, endpoint)
	if listError != nil {
		return listError
	}
	if len(releases) < 2 {
		return railerrors.WrapMessage(railerrors.OperationReleaseLifecycle, invocation.task.Name, railerrors.ErrRollbackUnavailable, rollbackUnavailableMessageConstant)
	}

	releasesPath, pathError := environment.Variables.Value(executionContext, variableReleasesPath)
	if pathError != nil {
		return pathError
	}
	store := environment.Variables.Store()
	store.Set(variablePreviousRelease, fmt.Sprintf(releasePathTemplateConstant, releasesPath, releases[len(releases)-2]))
	store.Set(variableRollbackRelease, releases[len(releases)-1])

	command, renderError := environment.Variables.Render(executionContext, rollbackSymlinkCommandConstant)
	if renderError != nil {
		return renderError
	}
	useSudo, sudoError := environment.useSudo(executionContext)
	if sudoError != nil {
		return sudoError
	}
	return environment.forEachHost(executionContext, invocation.task, invocation.hosts, func(hostContext context.Context, endpoint remote.Endpoint) error {
		return environment.trySudo(hostContext, endpoint, command, useSudo)
	})
}
