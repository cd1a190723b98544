package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	railerrors "github.com/tyemirov/railcap/internal/errors"
	"github.com/tyemirov/railcap/internal/manifest"
	"github.com/tyemirov/railcap/internal/remote"
)

const (
	variableUser                    = "user"
	variableUseSudo                 = "use_sudo"
	variableRepository              = "repository"
	variableBranch                  = "branch"
	variableReleasesPath            = "releases_path"
	variableCurrentPath             = "current_path"
	variableReleaseName             = "release_name"
	variableLatestRelease           = "latest_release"
	variableCurrentRevision         = "current_revision"
	variableRealRevision            = "real_revision"
	variablePreviousRelease         = "previous_release"
	variableRollbackRelease         = "rollback_release"
	releaseNameLayoutConstant       = "20060102150405"
	revisionFileCommandConstant     = "cat {{ .current_path }}/REVISION"
	listReleasesCommandConstant     = "ls -x {{ .releases_path }}"
	userEnvironmentVariableConstant = "USER"
	realRevisionSubjectConstant     = "ls-remote"
)

var defaultVariableValues = map[string]string{
	"scm":              "git",
	"deploy_via":       "remote_cache",
	"branch":           "master",
	"use_sudo":         "true",
	"keep_releases":    "5",
	"rake":             "{{ .bundle_cmd }} exec rake",
	"rails_env":        "production",
	"asset_env":        "RAILS_GROUPS=assets",
	"repository_cache": "cached-copy",
	"sync_host":        "{{ .application }}",
	"deploy_to":        "/u/apps/{{ .application }}",
	"releases_path":    "{{ .deploy_to }}/releases",
	"shared_path":      "{{ .deploy_to }}/shared",
	"current_path":     "{{ .deploy_to }}/current",
	"release_path":     "{{ .releases_path }}/{{ .release_name }}",
	"latest_release":   "{{ .current_path }}",
	"bundle_cmd":       "bundle",
	"bundle_dir":       "{{ .shared_path }}/bundle",
	"bundle_flags":     "--deployment --quiet",
}

var defaultListVariableValues = map[string][]string{
	"bundle_without":      {"development", "test"},
	"assets_dependencies": {"app/assets", "lib/assets", "vendor/assets", "Gemfile.lock", "config/routes.rb"},
}

// populateVariables layers command-line overrides, engine defaults, runtime values and manifest variables.
// Overrides are seeded first and stay fixed; manifest values replace defaults.
func populateVariables(environment *Environment, deployManifest manifest.Manifest, clock func() time.Time) error {
	store := environment.Variables.Store()

	overrideNames := make([]string, 0, len(environment.Options.VariableOverrides))
	for name := range environment.Options.VariableOverrides {
		overrideNames = append(overrideNames, name)
	}
	sort.Strings(overrideNames)
	for _, rawName := range overrideNames {
		name, nameError := NewVariableName(rawName)
		if nameError != nil {
			return railerrors.Wrap(railerrors.OperationVariableResolve, rawName, railerrors.ErrManifestInvalid, nameError)
		}
		store.Seed(name, environment.Options.VariableOverrides[rawName])
	}

	for name, value := range defaultVariableValues {
		store.Set(VariableName(name), value)
	}
	for name, values := range defaultListVariableValues {
		store.SetList(VariableName(name), values)
	}

	store.Set(variableReleaseName, clock().UTC().Format(releaseNameLayoutConstant))
	store.SetLazy(variableCurrentRevision, environment.captureCurrentRevision)
	store.SetLazy(variableRealRevision, environment.resolveRealRevision)
	store.SetLazy(variablePreviousRelease, environment.capturePreviousRelease)

	manifestNames := make([]string, 0, len(deployManifest.Variables))
	for name := range deployManifest.Variables {
		manifestNames = append(manifestNames, name)
	}
	sort.Strings(manifestNames)
	for _, rawName := range manifestNames {
		name, nameError := NewVariableName(rawName)
		if nameError != nil {
			return railerrors.Wrap(railerrors.OperationManifestLoad, rawName, railerrors.ErrManifestInvalid, nameError)
		}
		store.SetValue(name, deployManifest.Variables[rawName])
	}
	return nil
}

// releaseHost is the first host that carries releases; revision and release listings are read from it.
func (environment *Environment) releaseHost() (manifest.Host, bool) {
	hosts := SelectHosts(environment.Hosts, HostFilter{ExceptNoRelease: true}, environment.hostOverrides())
	if len(hosts) == 0 {
		return manifest.Host{}, false
	}
	return hosts[0], true
}

// captureCurrentRevision reads the REVISION file of the deployed release. No deployed release yields "".
func (environment *Environment) captureCurrentRevision(executionContext context.Context) (string, error) {
	host, found := environment.releaseHost()
	if !found || environment.Remote == nil {
		return "", nil
	}
	endpoint, endpointError := environment.endpointFor(executionContext, host)
	if endpointError != nil {
		return "", endpointError
	}
	command, renderError := environment.Variables.Render(executionContext, revisionFileCommandConstant)
	if renderError != nil {
		return "", renderError
	}
	output, captureError := environment.Remote.Capture(executionContext, endpoint, command)
	if captureError != nil {
		var commandError remote.CommandFailedError
		if errors.As(captureError, &commandError) {
			return "", nil
		}
		return "", remoteFailure(endpoint, captureError)
	}
	return output, nil
}

// resolveRealRevision asks the repository which commit the deploy branch points at.
func (environment *Environment) resolveRealRevision(executionContext context.Context) (string, error) {
	if environment.Revisions == nil {
		return "", railerrors.WrapMessage(railerrors.OperationLocalCommand, realRevisionSubjectConstant, railerrors.ErrLocalCommandFailed, revisionResolverMissingMessageConstant)
	}
	repository, repositoryError := environment.Variables.Value(executionContext, variableRepository)
	if repositoryError != nil {
		return "", repositoryError
	}
	branch, branchError := environment.Variables.Value(executionContext, variableBranch)
	if branchError != nil {
		return "", branchError
	}
	revision, resolveError := environment.Revisions.LsRemote(executionContext, environment.Options.WorkingDirectory, repository, branch)
	if resolveError != nil {
		return "", railerrors.Wrap(railerrors.OperationLocalCommand, realRevisionSubjectConstant, railerrors.ErrLocalCommandFailed, resolveError)
	}
	return revision, nil
}

// capturePreviousRelease returns the path of the release before the newest one, or "" when there is none.
func (environment *Environment) capturePreviousRelease(executionContext context.Context) (string, error) {
	host, found := environment.releaseHost()
	if !found || environment.Remote == nil {
		return "", nil
	}
	endpoint, endpointError := environment.endpointFor(executionContext, host)
	if endpointError != nil {
		return "", endpointError
	}
	releases, listError := environment.listReleases(executionContext, endpoint)
	if listError != nil {
		return "", listError
	}
	if len(releases) < 2 {
		return "", nil
	}
	releasesPath, pathError := environment.Variables.Value(executionContext, variableReleasesPath)
	if pathError != nil {
		return "", pathError
	}
	return fmt.Sprintf("%s/%s", releasesPath, releases[len(releases)-2]), nil
}

// endpointFor resolves the SSH destination for host, defaulting the login to the user variable.
func (environment *Environment) endpointFor(executionContext context.Context, host manifest.Host) (remote.Endpoint, error) {
	defaultUser := os.Getenv(userEnvironmentVariableConstant)
	if environment.Variables.Store().Has(variableUser) {
		resolvedUser, userError := environment.Variables.Value(executionContext, variableUser)
		if userError != nil {
			return remote.Endpoint{}, userError
		}
		defaultUser = strings.TrimSpace(resolvedUser)
	}
	endpoint, parseError := remote.ParseEndpoint(host.Address, defaultUser, environment.Options.SSHPort)
	if parseError != nil {
		return remote.Endpoint{}, railerrors.Wrap(railerrors.OperationRemoteCommand, host.Address, railerrors.ErrManifestInvalid, parseError)
	}
	return endpoint, nil
}
