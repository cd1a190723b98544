package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRunReporterAggregatesEvents(testInstance *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	currentTime := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	reporter := NewRunReporter(zap.New(core), func() time.Time { return currentTime })

	reporter.Report(Event{Code: EventCodeTaskStart, Task: "deploy"})
	reporter.Report(Event{Code: EventCodeHostComplete, Task: "deploy", Host: "web1"})
	reporter.Report(Event{Code: EventCodeHostComplete, Task: "deploy", Host: "web2"})
	reporter.Report(Event{Level: EventLevelError, Code: EventCodeHostFailed, Task: "deploy", Host: "web2", Message: "exit 1"})
	reporter.Report(Event{Level: "warn", Code: EventCodeRunHalted, Task: "deploy:check_revision"})
	currentTime = currentTime.Add(1500 * time.Millisecond)

	summary := reporter.SummaryData()
	require.Equal(testInstance, 2, summary.TotalHosts)
	require.Equal(testInstance, 1, summary.TaskCount)
	require.Equal(testInstance, 2, summary.EventCounts[EventCodeHostComplete])
	require.Equal(testInstance, 1, summary.LevelCounts[EventLevelError])
	require.Equal(testInstance, 1, summary.LevelCounts[EventLevelWarn])
	require.Equal(testInstance, "1.5s", summary.DurationHuman)
	require.Equal(testInstance, int64(1500), summary.DurationMilliseconds)

	require.Equal(testInstance, 1, recorded.FilterLevelExact(zapcore.ErrorLevel).Len())
	require.Equal(testInstance, 1, recorded.FilterLevelExact(zapcore.WarnLevel).Len())
	failure := recorded.FilterLevelExact(zapcore.ErrorLevel).All()[0]
	require.Equal(testInstance, "web2", failure.ContextMap()["host"])
	require.Equal(testInstance, "exit 1", failure.ContextMap()["message"])
}
