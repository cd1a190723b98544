package taskrunner

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/railcap/internal/manifest"
	"github.com/tyemirov/railcap/internal/workflow"
)

type fakeExecutor struct {
	outcome   workflow.ExecutionOutcome
	err       error
	taskNames []string
}

func (executor *fakeExecutor) Run(_ context.Context, _ manifest.Manifest, taskNames []string, _ workflow.RuntimeOptions) (workflow.ExecutionOutcome, error) {
	executor.taskNames = append(executor.taskNames, taskNames...)
	return executor.outcome, executor.err
}

func TestRenderSummaryLineSkipsSingleHost(t *testing.T) {
	summary := RenderSummaryLine(workflow.SummaryData{TotalHosts: 1, TaskCount: 4})
	require.Equal(t, "", summary)
}

func TestRenderSummaryLineFormatsCounts(t *testing.T) {
	data := workflow.SummaryData{
		TotalHosts:           2,
		TaskCount:            5,
		EventCounts:          map[string]int{workflow.EventCodeHostComplete: 8, workflow.EventCodeTaskStart: 5},
		LevelCounts:          map[workflow.EventLevel]int{workflow.EventLevelWarn: 1, workflow.EventLevelError: 0},
		DurationHuman:        "1s",
		DurationMilliseconds: 1000,
	}
	summary := RenderSummaryLine(data)
	require.Equal(t, "Summary: total.hosts=2 tasks=5 host_complete=8 task_start=5 WARN=1 ERROR=0 duration_human=1s duration_ms=1000", summary)
}

func TestSummaryExecutorPrintsSummaryForMultipleHosts(t *testing.T) {
	buffer := &bytes.Buffer{}
	delegate := &fakeExecutor{
		outcome: workflow.ExecutionOutcome{
			ReporterSummaryData: workflow.SummaryData{
				TotalHosts:           2,
				DurationHuman:        "100ms",
				DurationMilliseconds: 100,
			},
		},
	}
	executor := Resolve(func(workflow.Dependencies) Executor { return delegate }, workflow.Dependencies{Errors: buffer})

	_, err := executor.Run(context.Background(), manifest.Manifest{}, []string{"deploy"}, workflow.RuntimeOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"deploy"}, delegate.taskNames)
	require.Contains(t, buffer.String(), "Summary: total.hosts=2")
}

func TestSummaryExecutorPrintsSummaryOnFailure(t *testing.T) {
	buffer := &bytes.Buffer{}
	failure := errors.New("deploy failed")
	executor := summaryExecutor{
		delegate: &fakeExecutor{
			outcome: workflow.ExecutionOutcome{ReporterSummaryData: workflow.SummaryData{TotalHosts: 3}},
			err:     failure,
		},
		dependencies: workflow.Dependencies{Output: buffer},
	}

	_, err := executor.Run(context.Background(), manifest.Manifest{}, []string{"deploy"}, workflow.RuntimeOptions{})
	require.ErrorIs(t, err, failure)
	require.Contains(t, buffer.String(), "Summary: total.hosts=3")
}

func TestResolveFallsBackToWorkflowRunner(t *testing.T) {
	buffer := &bytes.Buffer{}
	executor := Resolve(func(workflow.Dependencies) Executor { return nil }, workflow.Dependencies{Output: buffer})

	deployManifest := manifest.Manifest{Tasks: []manifest.Task{{
		Name:  "notes:hello",
		Steps: []manifest.Step{{Action: "message.print", Options: map[string]any{"message": "hello"}}},
	}}}
	outcome, err := executor.Run(context.Background(), deployManifest, []string{"notes:hello"}, workflow.RuntimeOptions{})
	require.NoError(t, err)
	require.Len(t, outcome.TaskOutcomes, 1)
	require.Equal(t, "hello\n", buffer.String())
}
