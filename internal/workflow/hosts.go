package workflow

import (
	"strings"

	"github.com/tyemirov/railcap/internal/manifest"
)

// HostFilter narrows the declared hosts for one task.
type HostFilter struct {
	Roles           []string
	ExceptNoRelease bool
	OnlyPrimary     bool
}

// HostOverrides replaces the manifest's view from the command line (--hosts/HOSTS, --roles/ROLES).
type HostOverrides struct {
	Hosts []string
	Roles []string
}

// SelectHosts applies the task filter and any overrides, keeping declaration order.
// A hosts override bypasses role matching and may name hosts absent from the manifest.
// A roles override replaces the task's own roles.
func SelectHosts(declared []manifest.Host, filter HostFilter, overrides HostOverrides) []manifest.Host {
	if hostOverrides := nonEmpty(overrides.Hosts); len(hostOverrides) > 0 {
		selected := make([]manifest.Host, 0, len(hostOverrides))
		for _, address := range hostOverrides {
			host, found := findHost(declared, address)
			if !found {
				host = manifest.Host{Address: address}
			}
			if filter.ExceptNoRelease && host.NoRelease {
				continue
			}
			selected = append(selected, host)
		}
		return selected
	}

	roles := filter.Roles
	if roleOverrides := nonEmpty(overrides.Roles); len(roleOverrides) > 0 {
		roles = roleOverrides
	}

	selected := make([]manifest.Host, 0, len(declared))
	for _, host := range declared {
		if len(roles) > 0 && !hostHasAnyRole(host, roles) {
			continue
		}
		if filter.ExceptNoRelease && host.NoRelease {
			continue
		}
		if filter.OnlyPrimary && !host.Primary {
			continue
		}
		selected = append(selected, host)
	}
	return selected
}

func hostFilterForTask(task manifest.Task) HostFilter {
	return HostFilter{Roles: task.Roles, ExceptNoRelease: task.ExceptNoRelease, OnlyPrimary: task.OnlyPrimary}
}

func hostHasAnyRole(host manifest.Host, roles []string) bool {
	for _, role := range roles {
		if host.HasRole(role) {
			return true
		}
	}
	return false
}

func findHost(declared []manifest.Host, address string) (manifest.Host, bool) {
	for _, host := range declared {
		if host.Address == address {
			return host, true
		}
	}
	return manifest.Host{}, false
}

func nonEmpty(values []string) []string {
	filtered := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); len(trimmed) > 0 {
			filtered = append(filtered, trimmed)
		}
	}
	return filtered
}
