package flags

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const (
	// DryRunFlagName exposes the shared dry-run flag name.
	DryRunFlagName = "dry-run"
	// DryRunFlagUsage describes the shared dry-run flag purpose.
	DryRunFlagUsage = "Print the commands that would run without contacting any host"
	// HostsFlagName exposes the shared host filter flag name.
	HostsFlagName = "hosts"
	// HostsFlagUsage describes the shared host filter flag purpose.
	HostsFlagUsage = "Restrict execution to these hosts (repeatable; overrides HOSTS)"
	// RolesFlagName exposes the shared role filter flag name.
	RolesFlagName = "roles"
	// RolesFlagUsage describes the shared role filter flag purpose.
	RolesFlagUsage = "Restrict execution to hosts with these roles (repeatable; overrides ROLES)"
	// SetFlagName exposes the variable override flag name.
	SetFlagName = "set"
	// SetFlagShorthand provides the shorthand for the variable override flag.
	SetFlagShorthand = "s"
	// SetFlagUsage describes the variable override flag purpose.
	SetFlagUsage = "Override a manifest variable (key=value, repeatable)"
	// HostsEnvironmentVariable names the environment variable consulted for host filters.
	HostsEnvironmentVariable = "HOSTS"
	// RolesEnvironmentVariable names the environment variable consulted for role filters.
	RolesEnvironmentVariable = "ROLES"

	choiceUsageTemplate = "%s (one of: %s; default %s)"
)

// FilterFlagDefinition captures configuration for host and role filter flags.
type FilterFlagDefinition struct {
	Name    string
	Usage   string
	Enabled bool
}

// FilterFlagDefinitions groups the host and role filter definitions.
type FilterFlagDefinitions struct {
	Hosts FilterFlagDefinition
	Roles FilterFlagDefinition
}

// FilterFlagValues stores host and role filter flag values.
type FilterFlagValues struct {
	Hosts []string
	Roles []string
}

// BindFilterFlags attaches host and role filter flags to the provided command using persistent scope.
func BindFilterFlags(command *cobra.Command, defaults FilterFlagValues, definitions FilterFlagDefinitions) *FilterFlagValues {
	values := FilterFlagValues{
		Hosts: append([]string{}, defaults.Hosts...),
		Roles: append([]string{}, defaults.Roles...),
	}
	if command == nil {
		return &values
	}

	persistentFlagSet := command.PersistentFlags()
	if definitions.Hosts.Enabled && len(definitions.Hosts.Name) > 0 && persistentFlagSet.Lookup(definitions.Hosts.Name) == nil {
		persistentFlagSet.StringSliceVar(&values.Hosts, definitions.Hosts.Name, values.Hosts, definitions.Hosts.Usage)
	}
	if definitions.Roles.Enabled && len(definitions.Roles.Name) > 0 && persistentFlagSet.Lookup(definitions.Roles.Name) == nil {
		persistentFlagSet.StringSliceVar(&values.Roles, definitions.Roles.Name, values.Roles, definitions.Roles.Usage)
	}

	return &values
}

// FormatChoiceUsage renders usage text for flags that accept an enumerated value.
func FormatChoiceUsage(defaultValue string, choices []string, usage string) string {
	return fmt.Sprintf(choiceUsageTemplate, strings.TrimSpace(usage), strings.Join(choices, ", "), defaultValue)
}
