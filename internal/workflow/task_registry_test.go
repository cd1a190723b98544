package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	railerrors "github.com/tyemirov/railcap/internal/errors"
	"github.com/tyemirov/railcap/internal/manifest"
)

func TestTaskRegistryManifestOverridesBuiltins(testInstance *testing.T) {
	registry, registryError := NewTaskRegistry(manifest.Manifest{Tasks: []manifest.Task{{
		Name:  "deploy:restart",
		Roles: []string{"app"},
		Steps: []manifest.Step{{Action: actionRemoteRun, Options: map[string]any{"command": "touch tmp/restart.txt"}}},
	}}})
	require.NoError(testInstance, registryError)

	restartTask, exists := registry.Lookup("deploy:restart")
	require.True(testInstance, exists)
	require.Equal(testInstance, []string{"app"}, restartTask.Roles)
	require.Len(testInstance, restartTask.Steps, 1)

	stopTask, exists := registry.Lookup("deploy:stop")
	require.True(testInstance, exists)
	require.Empty(testInstance, stopTask.Steps)
}

func TestTaskRegistryHooksKeepDeclarationOrder(testInstance *testing.T) {
	registry, registryError := NewTaskRegistry(loadDefaultManifest(testInstance))
	require.NoError(testInstance, registryError)

	require.Equal(testInstance, []string{"bundle:install"}, registry.BeforeHooks("deploy:finalize_update"))
	require.Equal(testInstance, []string{"deploy:symlink_config"}, registry.AfterHooks("deploy:finalize_update"))
	require.Equal(testInstance, []string{"deploy:check_revision"}, registry.BeforeHooks("deploy"))
	require.Equal(testInstance, []string{"deploy:cleanup"}, registry.AfterHooks("deploy"))
	require.Equal(testInstance, []string{"deploy:assets:precompile"}, registry.AfterHooks("deploy:update_code"))
	require.Equal(testInstance, []string{"deploy:setup_config"}, registry.AfterHooks("deploy:setup"))
	require.Empty(testInstance, registry.BeforeHooks("deploy:setup"))
}

func TestTaskRegistryHookOrderDrivesInvocation(testInstance *testing.T) {
	fixture := newRunnerFixture(testInstance)
	echoTask := func(name string) manifest.Task {
		return manifest.Task{Name: name, Steps: []manifest.Step{{Action: actionMessagePrint, Options: map[string]any{"message": name}}}}
	}
	deployManifest := manifest.Manifest{
		Tasks: []manifest.Task{echoTask("main"), echoTask("first:before"), echoTask("second:before"), echoTask("first:after"), echoTask("second:after")},
		Hooks: []manifest.Hook{
			{When: manifest.HookAfter, Event: "main", Task: "first:after"},
			{When: manifest.HookBefore, Event: "main", Task: "first:before"},
			{When: manifest.HookAfter, Event: "main", Task: "second:after"},
			{When: manifest.HookBefore, Event: "main", Task: "second:before"},
		},
	}

	_, runError := fixture.run(testInstance, deployManifest, "main")
	require.NoError(testInstance, runError)
	require.Equal(testInstance, "first:before\nsecond:before\nmain\nfirst:after\nsecond:after\n", fixture.output.String())
}

func TestTaskRegistryRejectsUnknownHookTargets(testInstance *testing.T) {
	testCases := []struct {
		name string
		hook manifest.Hook
	}{
		{name: "unknown task", hook: manifest.Hook{When: manifest.HookAfter, Event: "deploy", Task: "deploy:ghost"}},
		{name: "unknown event", hook: manifest.Hook{When: manifest.HookBefore, Event: "deploy:ghost", Task: "deploy:cleanup"}},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			_, registryError := NewTaskRegistry(manifest.Manifest{Hooks: []manifest.Hook{testCase.hook}})
			require.True(subtest, errors.Is(registryError, railerrors.ErrHookTaskUnknown))
		})
	}
}

func TestTaskRegistryListsEveryTask(testInstance *testing.T) {
	registry, registryError := NewTaskRegistry(loadDefaultManifest(testInstance))
	require.NoError(testInstance, registryError)

	names := make([]string, 0)
	for _, task := range registry.Tasks() {
		names = append(names, task.Name)
	}
	require.IsIncreasing(testInstance, names)
	require.Contains(testInstance, names, "deploy:rollback")
	require.Contains(testInstance, names, "db:move_to_shared")
	require.Len(testInstance, names, len(builtinTasks())+14-3)
}
