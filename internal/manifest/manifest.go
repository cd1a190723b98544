package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	manifestLoadErrorTemplateConstant    = "failed to load deploy manifest: %w"
	manifestParseErrorTemplateConstant   = "failed to parse deploy manifest: %w"
	manifestPathRequiredMessageConstant  = "deploy manifest path must be provided"
	hostAddressMissingTemplateConstant   = "host %d missing address"
	hostDuplicateTemplateConstant        = "host %q declared more than once"
	taskNameMissingTemplateConstant      = "task %d missing name"
	taskNameInvalidTemplateConstant      = "task name %q must match %s"
	taskDuplicateTemplateConstant        = "task %q declared more than once"
	stepActionMissingTemplateConstant    = "task %q step %d missing action"
	hookWhenInvalidTemplateConstant      = "hook %d must use when: before or when: after, got %q"
	hookEventMissingTemplateConstant     = "hook %d missing event"
	hookTaskMissingTemplateConstant      = "hook %d missing task"
	variableNameInvalidTemplateConstant  = "variable name %q must match %s"
	roleNameInvalidTemplateConstant      = "role %q must match %s"
	tasksSequenceRequiredMessageConstant = "tasks block must be defined as a sequence"
)

// DefaultFileName is the manifest looked up in the working directory when no path is configured.
const DefaultFileName = "Deployfile.yaml"

var (
	taskNamePattern     = regexp.MustCompile(`^[a-z0-9_]+(:[a-z0-9_]+)*$`)
	variableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	roleNamePattern     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ErrManifestPathRequired indicates Load was called without a path.
var ErrManifestPathRequired = errors.New(manifestPathRequiredMessageConstant)

//go:embed Deployfile.yaml
var defaultManifestContent []byte

// DefaultContent returns the bundled deploy recipe.
func DefaultContent() []byte {
	return append([]byte(nil), defaultManifestContent...)
}

// HookTiming says whether a hook runs before or after its event.
type HookTiming string

// Supported hook timings.
const (
	HookBefore HookTiming = "before"
	HookAfter  HookTiming = "after"
)

// Manifest is the declarative deploy recipe: servers, settings, tasks and hook bindings.
type Manifest struct {
	Hosts     []Host         `yaml:"hosts"`
	Variables map[string]any `yaml:"variables"`
	SSH       SSHOptions     `yaml:"ssh"`
	Tasks     []Task         `yaml:"tasks"`
	Hooks     []Hook         `yaml:"hooks"`
}

// Host is one server and the roles it plays.
type Host struct {
	Address   string   `yaml:"address"`
	Roles     []string `yaml:"roles"`
	Primary   bool     `yaml:"primary"`
	NoRelease bool     `yaml:"no_release"`
}

// HasRole reports whether the host carries role.
func (host Host) HasRole(role string) bool {
	for _, candidate := range host.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// SSHOptions mirrors the session defaults applied to every command.
type SSHOptions struct {
	PTY          *bool `yaml:"pty"`
	ForwardAgent *bool `yaml:"forward_agent"`
}

// PTYEnabled defaults to true.
func (options SSHOptions) PTYEnabled() bool {
	return options.PTY == nil || *options.PTY
}

// AgentForwardingEnabled defaults to true.
func (options SSHOptions) AgentForwardingEnabled() bool {
	return options.ForwardAgent == nil || *options.ForwardAgent
}

// Task is a named, ordered list of steps with a host filter.
type Task struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Roles           []string `yaml:"roles"`
	ExceptNoRelease bool     `yaml:"except_no_release"`
	OnlyPrimary     bool     `yaml:"only_primary"`
	Steps           []Step   `yaml:"steps"`
}

// Step is one action plus its options.
type Step struct {
	Action  string         `yaml:"action"`
	Options map[string]any `yaml:"with"`
}

// Hook binds a task to run before or after another task.
type Hook struct {
	When  HookTiming `yaml:"when"`
	Event string     `yaml:"event"`
	Task  string     `yaml:"task"`
}

// Load reads and validates the manifest at filePath.
func Load(filePath string) (Manifest, error) {
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return Manifest{}, ErrManifestPathRequired
	}

	contentBytes, readError := os.ReadFile(trimmedPath)
	if readError != nil {
		return Manifest{}, fmt.Errorf(manifestLoadErrorTemplateConstant, readError)
	}
	return Parse(contentBytes)
}

// LoadDefault parses the bundled recipe.
func LoadDefault() (Manifest, error) {
	return Parse(defaultManifestContent)
}

// Parse decodes and validates manifest content.
func Parse(contentBytes []byte) (Manifest, error) {
	if sequenceError := ensureTasksSequence(contentBytes); sequenceError != nil {
		return Manifest{}, fmt.Errorf(manifestParseErrorTemplateConstant, sequenceError)
	}

	var parsed Manifest
	if unmarshalError := yaml.Unmarshal(contentBytes, &parsed); unmarshalError != nil {
		return Manifest{}, fmt.Errorf(manifestParseErrorTemplateConstant, unmarshalError)
	}

	parsed.normalize()
	if validationError := parsed.Validate(); validationError != nil {
		return Manifest{}, validationError
	}
	return parsed, nil
}

// Validate checks structural rules. Hook targets are checked against the task registry, which also knows built-in tasks.
func (deployManifest Manifest) Validate() error {
	seenHosts := make(map[string]struct{}, len(deployManifest.Hosts))
	for hostIndex, host := range deployManifest.Hosts {
		if len(host.Address) == 0 {
			return fmt.Errorf(hostAddressMissingTemplateConstant, hostIndex+1)
		}
		if _, duplicate := seenHosts[host.Address]; duplicate {
			return fmt.Errorf(hostDuplicateTemplateConstant, host.Address)
		}
		seenHosts[host.Address] = struct{}{}
		for _, role := range host.Roles {
			if !roleNamePattern.MatchString(role) {
				return fmt.Errorf(roleNameInvalidTemplateConstant, role, roleNamePattern.String())
			}
		}
	}

	for variableName := range deployManifest.Variables {
		if !variableNamePattern.MatchString(variableName) {
			return fmt.Errorf(variableNameInvalidTemplateConstant, variableName, variableNamePattern.String())
		}
	}

	seenTasks := make(map[string]struct{}, len(deployManifest.Tasks))
	for taskIndex, task := range deployManifest.Tasks {
		if len(task.Name) == 0 {
			return fmt.Errorf(taskNameMissingTemplateConstant, taskIndex+1)
		}
		if !taskNamePattern.MatchString(task.Name) {
			return fmt.Errorf(taskNameInvalidTemplateConstant, task.Name, taskNamePattern.String())
		}
		if _, duplicate := seenTasks[task.Name]; duplicate {
			return fmt.Errorf(taskDuplicateTemplateConstant, task.Name)
		}
		seenTasks[task.Name] = struct{}{}
		for stepIndex, step := range task.Steps {
			if len(step.Action) == 0 {
				return fmt.Errorf(stepActionMissingTemplateConstant, task.Name, stepIndex+1)
			}
		}
		for _, role := range task.Roles {
			if !roleNamePattern.MatchString(role) {
				return fmt.Errorf(roleNameInvalidTemplateConstant, role, roleNamePattern.String())
			}
		}
	}

	for hookIndex, hook := range deployManifest.Hooks {
		if hook.When != HookBefore && hook.When != HookAfter {
			return fmt.Errorf(hookWhenInvalidTemplateConstant, hookIndex+1, hook.When)
		}
		if len(hook.Event) == 0 {
			return fmt.Errorf(hookEventMissingTemplateConstant, hookIndex+1)
		}
		if len(hook.Task) == 0 {
			return fmt.Errorf(hookTaskMissingTemplateConstant, hookIndex+1)
		}
	}
	return nil
}

// FindTask returns the declared task with name.
func (deployManifest Manifest) FindTask(name string) (Task, bool) {
	for _, task := range deployManifest.Tasks {
		if task.Name == name {
			return task, true
		}
	}
	return Task{}, false
}

func (deployManifest *Manifest) normalize() {
	for hostIndex := range deployManifest.Hosts {
		host := &deployManifest.Hosts[hostIndex]
		host.Address = strings.TrimSpace(host.Address)
		host.Roles = trimAll(host.Roles)
	}
	for taskIndex := range deployManifest.Tasks {
		task := &deployManifest.Tasks[taskIndex]
		task.Name = strings.TrimSpace(task.Name)
		task.Description = strings.TrimSpace(task.Description)
		task.Roles = trimAll(task.Roles)
		for stepIndex := range task.Steps {
			task.Steps[stepIndex].Action = strings.TrimSpace(task.Steps[stepIndex].Action)
		}
	}
	for hookIndex := range deployManifest.Hooks {
		hook := &deployManifest.Hooks[hookIndex]
		hook.When = HookTiming(strings.ToLower(strings.TrimSpace(string(hook.When))))
		hook.Event = strings.TrimSpace(hook.Event)
		hook.Task = strings.TrimSpace(hook.Task)
	}
}

func trimAll(values []string) []string {
	trimmed := make([]string, 0, len(values))
	for _, value := range values {
		if candidate := strings.TrimSpace(value); len(candidate) > 0 {
			trimmed = append(trimmed, candidate)
		}
	}
	return trimmed
}

func ensureTasksSequence(contentBytes []byte) error {
	var tasksWrapper struct {
		Tasks yaml.Node `yaml:"tasks"`
	}

	if unmarshalError := yaml.Unmarshal(contentBytes, &tasksWrapper); unmarshalError != nil {
		return unmarshalError
	}

	if tasksWrapper.Tasks.Kind == 0 || tasksWrapper.Tasks.Kind == yaml.SequenceNode {
		return nil
	}
	return errors.New(tasksSequenceRequiredMessageConstant)
}
