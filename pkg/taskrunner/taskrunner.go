package taskrunner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tyemirov/railcap/internal/manifest"
	"github.com/tyemirov/railcap/internal/workflow"
)

// Executor runs deploy tasks from a manifest.
type Executor interface {
	Run(ctx context.Context, deployManifest manifest.Manifest, taskNames []string, options workflow.RuntimeOptions) (workflow.ExecutionOutcome, error)
}

// Factory constructs an Executor given workflow dependencies.
type Factory func(workflow.Dependencies) Executor

// Resolve returns either the provided factory result or the default workflow task runner,
// wrapped so multi-host runs end with a summary line.
func Resolve(factory Factory, dependencies workflow.Dependencies) Executor {
	var base Executor
	if factory != nil {
		base = factory(dependencies)
	}
	if base == nil {
		base = workflow.NewTaskRunner(dependencies)
	}
	return summaryExecutor{
		delegate:     base,
		dependencies: dependencies,
	}
}

type summaryExecutor struct {
	delegate     Executor
	dependencies workflow.Dependencies
}

func (executor summaryExecutor) Run(ctx context.Context, deployManifest manifest.Manifest, taskNames []string, options workflow.RuntimeOptions) (workflow.ExecutionOutcome, error) {
	outcome, err := executor.delegate.Run(ctx, deployManifest, taskNames, options)
	executor.printSummary(outcome)
	return outcome, err
}

func (executor summaryExecutor) printSummary(outcome workflow.ExecutionOutcome) {
	writer := executor.summaryWriter()
	if writer == nil {
		return
	}

	summary := RenderSummaryLine(outcome.ReporterSummaryData)
	if len(strings.TrimSpace(summary)) == 0 {
		return
	}
	fmt.Fprintln(writer, summary)
}

func (executor summaryExecutor) summaryWriter() io.Writer {
	if executor.dependencies.Errors != nil {
		return executor.dependencies.Errors
	}
	if executor.dependencies.Output != nil {
		return executor.dependencies.Output
	}
	return nil
}
