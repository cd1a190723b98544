package workflow

import (
	"fmt"
	"sort"

	railerrors "github.com/tyemirov/railcap/internal/errors"
	"github.com/tyemirov/railcap/internal/manifest"
)

// TaskRegistry holds the built-in lifecycle tasks merged with manifest tasks, plus hook bindings.
type TaskRegistry struct {
	tasks       map[string]manifest.Task
	beforeHooks map[string][]string
	afterHooks  map[string][]string
}

// NewTaskRegistry merges built-in tasks with the manifest's tasks and validates hook bindings.
// Manifest tasks replace built-in tasks of the same name.
func NewTaskRegistry(deployManifest manifest.Manifest) (*TaskRegistry, error) {
	registry := &TaskRegistry{
		tasks:       make(map[string]manifest.Task),
		beforeHooks: make(map[string][]string),
		afterHooks:  make(map[string][]string),
	}

	for _, builtinTask := range builtinTasks() {
		registry.tasks[builtinTask.Name] = builtinTask
	}
	for _, declaredTask := range deployManifest.Tasks {
		registry.tasks[declaredTask.Name] = declaredTask
	}

	for _, hook := range deployManifest.Hooks {
		if _, exists := registry.tasks[hook.Event]; !exists {
			return nil, railerrors.WrapMessage(railerrors.OperationManifestLoad, hook.Event, railerrors.ErrHookTaskUnknown, fmt.Sprintf("%s hook event %q is not a known task", hook.When, hook.Event))
		}
		if _, exists := registry.tasks[hook.Task]; !exists {
			return nil, railerrors.WrapMessage(railerrors.OperationManifestLoad, hook.Task, railerrors.ErrHookTaskUnknown, fmt.Sprintf("%s %s hook references unknown task %q", hook.When, hook.Event, hook.Task))
		}
		switch hook.When {
		case manifest.HookBefore:
			registry.beforeHooks[hook.Event] = append(registry.beforeHooks[hook.Event], hook.Task)
		case manifest.HookAfter:
			registry.afterHooks[hook.Event] = append(registry.afterHooks[hook.Event], hook.Task)
		}
	}

	return registry, nil
}

// Lookup returns the task registered under name.
func (registry *TaskRegistry) Lookup(name string) (manifest.Task, bool) {
	task, exists := registry.tasks[name]
	return task, exists
}

// BeforeHooks lists the tasks bound before event, in declaration order.
func (registry *TaskRegistry) BeforeHooks(event string) []string {
	return append([]string(nil), registry.beforeHooks[event]...)
}

// AfterHooks lists the tasks bound after event, in declaration order.
func (registry *TaskRegistry) AfterHooks(event string) []string {
	return append([]string(nil), registry.afterHooks[event]...)
}

// Tasks returns every registered task sorted by name.
func (registry *TaskRegistry) Tasks() []manifest.Task {
	tasks := make([]manifest.Task, 0, len(registry.tasks))
	for _, task := range registry.tasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(leftIndex int, rightIndex int) bool {
		return tasks[leftIndex].Name < tasks[rightIndex].Name
	})
	return tasks
}
