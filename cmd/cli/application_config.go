package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tyemirov/railcap/internal/manifest"
	"github.com/tyemirov/railcap/internal/remote"
)

const (
	variableOverrideSeparatorConstant         = "="
	variableOverrideInvalidTemplateConstant   = "variable override %q must use key=value"
	variableOverrideDuplicateTemplateConstant = "variable %q overridden more than once"
)

// VariableOverrideError reports a malformed --set value.
type VariableOverrideError struct {
	Value  string
	Reason string
}

// Error implements the error interface.
func (overrideError VariableOverrideError) Error() string {
	return overrideError.Reason
}

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common   ApplicationCommonConfiguration   `mapstructure:"common"`
	SSH      ApplicationSSHConfiguration      `mapstructure:"ssh"`
	Manifest ApplicationManifestConfiguration `mapstructure:"manifest"`
}

// ApplicationCommonConfiguration stores logging and execution defaults shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	DryRun    bool   `mapstructure:"dry_run"`
}

// ApplicationSSHConfiguration controls connections to deploy hosts.
type ApplicationSSHConfiguration struct {
	Port                  int           `mapstructure:"port"`
	IdentityFiles         []string      `mapstructure:"identity_files"`
	KnownHosts            []string      `mapstructure:"known_hosts"`
	StrictHostKeyChecking bool          `mapstructure:"strict_host_key_checking"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	MaxParallelHosts      int           `mapstructure:"max_parallel_hosts"`
}

// ApplicationManifestConfiguration locates the deploy manifest.
type ApplicationManifestConfiguration struct {
	Path string `mapstructure:"path"`
}

type configurationInitializationPlan struct {
	DirectoryPath string
	FilePath      string
}

// transportConfiguration combines configured SSH settings with the manifest's session defaults.
func (configuration ApplicationSSHConfiguration) transportConfiguration(options manifest.SSHOptions) remote.SSHConfiguration {
	return remote.SSHConfiguration{
		IdentityFiles:         append([]string(nil), configuration.IdentityFiles...),
		KnownHostsFiles:       append([]string(nil), configuration.KnownHosts...),
		StrictHostKeyChecking: configuration.StrictHostKeyChecking,
		ConnectTimeout:        configuration.ConnectTimeout,
		ForwardAgent:          options.AgentForwardingEnabled(),
		AgentSocketPath:       os.Getenv(sshAuthSocketEnvironmentVariableConstant),
	}
}

// resolveManifestPath prefers the flag, then configuration, then Deployfile.yaml in the working directory.
func resolveManifestPath(flagValue string, configuredPath string, workingDirectory string) string {
	candidate := strings.TrimSpace(flagValue)
	if len(candidate) == 0 {
		candidate = strings.TrimSpace(configuredPath)
	}
	if len(candidate) == 0 {
		candidate = manifest.DefaultFileName
	}
	if filepath.IsAbs(candidate) || len(workingDirectory) == 0 {
		return candidate
	}
	return filepath.Join(workingDirectory, candidate)
}

// parseVariableOverrides turns repeated key=value flags into a map.
func parseVariableOverrides(rawValues []string) (map[string]string, error) {
	if len(rawValues) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(rawValues))
	for _, rawValue := range rawValues {
		separatorIndex := strings.Index(rawValue, variableOverrideSeparatorConstant)
		if separatorIndex <= 0 {
			return nil, VariableOverrideError{Value: rawValue, Reason: fmt.Sprintf(variableOverrideInvalidTemplateConstant, rawValue)}
		}
		name := strings.TrimSpace(rawValue[:separatorIndex])
		if len(name) == 0 {
			return nil, VariableOverrideError{Value: rawValue, Reason: fmt.Sprintf(variableOverrideInvalidTemplateConstant, rawValue)}
		}
		if _, duplicate := overrides[name]; duplicate {
			return nil, VariableOverrideError{Value: rawValue, Reason: fmt.Sprintf(variableOverrideDuplicateTemplateConstant, name)}
		}
		overrides[name] = rawValue[separatorIndex+1:]
	}
	return overrides, nil
}

func sortedVariableNames(overrides map[string]string) []string {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
