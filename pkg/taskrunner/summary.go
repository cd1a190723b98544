package taskrunner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tyemirov/railcap/internal/workflow"
)

// RenderSummaryLine returns the summary line printed after multi-host runs.
func RenderSummaryLine(data workflow.SummaryData) string {
	if data.TotalHosts <= 1 {
		return ""
	}

	parts := []string{
		fmt.Sprintf("Summary: total.hosts=%d", data.TotalHosts),
		fmt.Sprintf("tasks=%d", data.TaskCount),
	}

	if len(data.EventCounts) > 0 {
		keys := make([]string, 0, len(data.EventCounts))
		for key := range data.EventCounts {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", key, data.EventCounts[key]))
		}
	}

	warnCount := data.LevelCounts[workflow.EventLevelWarn]
	errorCount := data.LevelCounts[workflow.EventLevelError]

	parts = append(parts, fmt.Sprintf("%s=%d", workflow.EventLevelWarn, warnCount))
	parts = append(parts, fmt.Sprintf("%s=%d", workflow.EventLevelError, errorCount))

	durationHuman := strings.TrimSpace(data.DurationHuman)
	if durationHuman == "" {
		durationHuman = "0s"
	}

	parts = append(parts, fmt.Sprintf("duration_human=%s", durationHuman))
	parts = append(parts, fmt.Sprintf("duration_ms=%d", data.DurationMilliseconds))

	return strings.Join(parts, " ")
}
