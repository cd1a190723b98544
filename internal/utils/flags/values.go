package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tyemirov/railcap/internal/utils"
)

const (
	boolFlagParseErrorTemplate = "unable to parse flag %q: %w"
	listSeparator              = ","
)

// ErrFlagNotDefined indicates that the requested flag is not present on the command.
var ErrFlagNotDefined = errors.New("flag not defined")

func BoolFlag(command *cobra.Command, name string) (bool, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return false, false, ErrFlagNotDefined
	}
	value, err := flagSet.GetBool(name)
	if err == nil {
		return value, flag.Changed, nil
	}

	if flag.Value == nil {
		return false, false, err
	}

	parsedValue, parseError := parseToggleValue(flag.Value.String())
	if parseError != nil {
		return false, false, fmt.Errorf(boolFlagParseErrorTemplate, name, parseError)
	}

	return parsedValue, flag.Changed, nil
}

func StringFlag(command *cobra.Command, name string) (string, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return "", false, ErrFlagNotDefined
	}
	value, err := flagSet.GetString(name)
	if err != nil {
		return "", false, err
	}
	return value, flag.Changed, nil
}

func StringSliceFlag(command *cobra.Command, name string) ([]string, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return nil, false, ErrFlagNotDefined
	}
	values, err := flagSet.GetStringSlice(name)
	if err != nil {
		return nil, false, err
	}
	return values, flag.Changed, nil
}

func locateFlag(command *cobra.Command, name string) (*pflag.FlagSet, *pflag.Flag) {
	if command == nil {
		return nil, nil
	}

	candidateSets := []*pflag.FlagSet{
		command.Flags(),
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	if root := command.Root(); root != nil {
		candidateSets = append(candidateSets, root.PersistentFlags())
	}

	for _, set := range candidateSets {
		if set == nil {
			continue
		}
		if flag := set.Lookup(name); flag != nil {
			return set, flag
		}
	}

	return nil, nil
}

// CollectExecutionFlags inspects the command's flags to produce execution flag values.
// HOSTS and ROLES environment variables apply when the matching flag was not set.
func CollectExecutionFlags(command *cobra.Command) utils.ExecutionFlags {
	executionFlags := utils.ExecutionFlags{}
	if command == nil {
		return executionFlags
	}

	if dryRunValue, dryRunChanged, dryRunError := BoolFlag(command, DryRunFlagName); dryRunError == nil {
		executionFlags.DryRun = dryRunValue
		executionFlags.DryRunSet = dryRunChanged
	}

	if hostValues, hostsChanged, hostsError := StringSliceFlag(command, HostsFlagName); hostsError == nil && hostsChanged {
		executionFlags.Hosts = SplitList(hostValues)
		executionFlags.HostsSet = len(executionFlags.Hosts) > 0
	}
	if !executionFlags.HostsSet {
		executionFlags.Hosts = SplitList([]string{os.Getenv(HostsEnvironmentVariable)})
		executionFlags.HostsSet = len(executionFlags.Hosts) > 0
	}

	if roleValues, rolesChanged, rolesError := StringSliceFlag(command, RolesFlagName); rolesError == nil && rolesChanged {
		executionFlags.Roles = SplitList(roleValues)
		executionFlags.RolesSet = len(executionFlags.Roles) > 0
	}
	if !executionFlags.RolesSet {
		executionFlags.Roles = SplitList([]string{os.Getenv(RolesEnvironmentVariable)})
		executionFlags.RolesSet = len(executionFlags.Roles) > 0
	}

	return executionFlags
}

// ResolveExecutionFlags returns execution flags from context or flag values, indicating whether any overrides are provided.
func ResolveExecutionFlags(command *cobra.Command) (utils.ExecutionFlags, bool) {
	contextAccessor := utils.NewCommandContextAccessor()
	if command != nil {
		if flags, available := contextAccessor.ExecutionFlags(command.Context()); available {
			return flags, true
		}
	}

	executionFlags := CollectExecutionFlags(command)
	available := executionFlags.DryRunSet || executionFlags.HostsSet || executionFlags.RolesSet
	return executionFlags, available
}

// SplitList flattens comma separated entries, trimming blanks and duplicates.
func SplitList(rawValues []string) []string {
	seen := make(map[string]struct{})
	values := make([]string, 0, len(rawValues))
	for _, rawValue := range rawValues {
		for _, entry := range strings.Split(rawValue, listSeparator) {
			trimmed := strings.TrimSpace(entry)
			if len(trimmed) == 0 {
				continue
			}
			if _, duplicate := seen[trimmed]; duplicate {
				continue
			}
			seen[trimmed] = struct{}{}
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
