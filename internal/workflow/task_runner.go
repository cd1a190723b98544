package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	railerrors "github.com/tyemirov/railcap/internal/errors"
	"github.com/tyemirov/railcap/internal/manifest"
)

const (
	runIdentifierFieldNameConstant     = "run_id"
	taskFieldNameConstant              = "task"
	hostCountFieldNameConstant         = "hosts"
	taskStartedMessageConstant         = "task started"
	taskCompletedMessageConstant       = "task completed"
	humanTaskStartedTemplateConstant   = "executing `%s'"
	humanTaskCompletedTemplateConstant = "`%s' finished in %s"
	recursionSeparatorConstant         = " -> "
	durationFieldNameConstant          = "duration"
)

// TaskRunner executes tasks from a deploy manifest.
type TaskRunner struct {
	dependencies Dependencies
}

// NewTaskRunner constructs a TaskRunner with the provided dependencies.
func NewTaskRunner(dependencies Dependencies) TaskRunner {
	return TaskRunner{dependencies: dependencies}
}

// Run invokes each named task in order, with its hooks, against the manifest's hosts.
// Every name is checked before anything executes; the first failing task stops the run.
func (runner TaskRunner) Run(executionContext context.Context, deployManifest manifest.Manifest, taskNames []string, options RuntimeOptions) (ExecutionOutcome, error) {
	clock := runner.dependencies.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := runner.dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runIdentifier := uuid.NewString()
	logger = logger.With(zap.String(runIdentifierFieldNameConstant, runIdentifier))
	outcome := ExecutionOutcome{RunID: runIdentifier, StartTime: clock()}

	registry, registryError := NewTaskRegistry(deployManifest)
	if registryError != nil {
		return runner.finish(outcome, nil, clock), registryError
	}
	if actionError := validateStepActions(registry); actionError != nil {
		return runner.finish(outcome, nil, clock), actionError
	}
	for _, taskName := range taskNames {
		if _, exists := registry.Lookup(taskName); !exists {
			return runner.finish(outcome, nil, clock), railerrors.Wrap(railerrors.OperationTaskInvoke, taskName, railerrors.ErrTaskNotFound, nil)
		}
	}

	reporter := NewRunReporter(logger, clock)
	environment := &Environment{
		Logger:               logger,
		Registry:             registry,
		Variables:            NewVariableResolver(NewVariableStore()),
		Hosts:                append([]manifest.Host(nil), deployManifest.Hosts...),
		Remote:               runner.dependencies.RemoteExecutor,
		Local:                runner.dependencies.LocalExecutor,
		Revisions:            runner.dependencies.RevisionResolver,
		Output:               runner.dependencies.Output,
		Errors:               runner.dependencies.Errors,
		Reporter:             reporter,
		Options:              options,
		HumanReadableLogging: runner.dependencies.HumanReadableLogging,
	}
	if populateError := populateVariables(environment, deployManifest, clock); populateError != nil {
		return runner.finish(outcome, reporter, clock), populateError
	}

	for _, taskName := range taskNames {
		taskStart := clock()
		invokeError := environment.InvokeTask(executionContext, taskName)
		taskOutcome := TaskOutcome{Name: taskName, Duration: clock().Sub(taskStart), Failed: invokeError != nil, Error: invokeError}
		outcome.TaskOutcomes = append(outcome.TaskOutcomes, taskOutcome)
		if invokeError != nil {
			outcome.Failures = append(outcome.Failures, TaskFailure{Name: taskName, Message: FormatOperationError(invokeError), Error: invokeError})
			return runner.finish(outcome, reporter, clock), invokeError
		}
	}

	return runner.finish(outcome, reporter, clock), nil
}

func (runner TaskRunner) finish(outcome ExecutionOutcome, reporter *RunReporter, clock func() time.Time) ExecutionOutcome {
	outcome.EndTime = clock()
	outcome.Duration = outcome.EndTime.Sub(outcome.StartTime)
	outcome.ReporterSummaryData = reporter.SummaryData()
	outcome.HostCount = outcome.ReporterSummaryData.TotalHosts
	return outcome
}

// InvokeTask runs the before hooks of name, its steps, then its after hooks.
// A task may run several times in one run, but never while it is already executing.
func (environment *Environment) InvokeTask(executionContext context.Context, name string) error {
	task, exists := environment.Registry.Lookup(name)
	if !exists {
		return railerrors.Wrap(railerrors.OperationTaskInvoke, name, railerrors.ErrTaskNotFound, nil)
	}

	for _, activeTask := range environment.invocationStack {
		if activeTask == name {
			chain := append(append([]string(nil), environment.invocationStack...), name)
			return railerrors.WrapMessage(railerrors.OperationTaskInvoke, name, railerrors.ErrTaskRecursion, strings.Join(chain, recursionSeparatorConstant))
		}
	}
	environment.invocationStack = append(environment.invocationStack, name)
	defer func() {
		environment.invocationStack = environment.invocationStack[:len(environment.invocationStack)-1]
	}()

	for _, hookTask := range environment.Registry.BeforeHooks(name) {
		if hookError := environment.InvokeTask(executionContext, hookTask); hookError != nil {
			return hookError
		}
	}

	if stepsError := environment.executeTaskSteps(executionContext, task); stepsError != nil {
		return stepsError
	}

	for _, hookTask := range environment.Registry.AfterHooks(name) {
		if hookError := environment.InvokeTask(executionContext, hookTask); hookError != nil {
			return hookError
		}
	}
	return nil
}

func (environment *Environment) executeTaskSteps(executionContext context.Context, task manifest.Task) error {
	taskStart := time.Now()
	hosts := SelectHosts(environment.Hosts, hostFilterForTask(task), environment.hostOverrides())
	if len(hosts) == 0 && taskRequiresHosts(task) {
		return railerrors.WrapMessage(railerrors.OperationTaskInvoke, task.Name, railerrors.ErrNoMatchingHosts, fmt.Sprintf("no hosts match roles %v", task.Roles))
	}

	environment.Reporter.Report(Event{Level: EventLevelInfo, Code: EventCodeTaskStart, Task: task.Name})
	if environment.HumanReadableLogging {
		environment.Logger.Info(fmt.Sprintf(humanTaskStartedTemplateConstant, task.Name))
	} else {
		environment.Logger.Info(taskStartedMessageConstant,
			zap.String(taskFieldNameConstant, task.Name),
			zap.Int(hostCountFieldNameConstant, len(hosts)),
		)
	}

	for stepIndex := range task.Steps {
		if stepError := environment.executeStep(executionContext, task, hosts, task.Steps[stepIndex]); stepError != nil {
			return stepError
		}
	}

	elapsed := time.Since(taskStart).Round(time.Millisecond)
	environment.Reporter.Report(Event{Level: EventLevelInfo, Code: EventCodeTaskComplete, Task: task.Name})
	if environment.HumanReadableLogging {
		environment.Logger.Debug(fmt.Sprintf(humanTaskCompletedTemplateConstant, task.Name, elapsed))
	} else {
		environment.Logger.Debug(taskCompletedMessageConstant,
			zap.String(taskFieldNameConstant, task.Name),
			zap.Duration(durationFieldNameConstant, elapsed),
		)
	}
	return nil
}

func taskRequiresHosts(task manifest.Task) bool {
	for _, taskStep := range task.Steps {
		if handler, exists := stepHandlerFor(taskStep.Action); exists && handler.remote {
			return true
		}
	}
	return false
}

func validateStepActions(registry *TaskRegistry) error {
	for _, task := range registry.Tasks() {
		for _, taskStep := range task.Steps {
			if _, exists := stepHandlerFor(taskStep.Action); !exists {
				return railerrors.WrapMessage(railerrors.OperationStepExecute, task.Name, railerrors.ErrUnknownAction, fmt.Sprintf("unknown action %q", taskStep.Action))
			}
		}
	}
	return nil
}
