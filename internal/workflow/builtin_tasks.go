package workflow

import "github.com/tyemirov/railcap/internal/manifest"

const (
	taskDeploy               = "deploy"
	taskDeployUpdate         = "deploy:update"
	taskDeployUpdateCode     = "deploy:update_code"
	taskDeployFinalizeUpdate = "deploy:finalize_update"
	taskDeployCreateSymlink  = "deploy:create_symlink"
	taskDeploySetup          = "deploy:setup"
	taskDeployCleanup        = "deploy:cleanup"
	taskDeployRollback       = "deploy:rollback"
	taskDeployStart          = "deploy:start"
	taskDeployStop           = "deploy:stop"
	taskDeployRestart        = "deploy:restart"
)

func step(action string, options map[string]any) manifest.Step {
	return manifest.Step{Action: action, Options: options}
}

func invokeStep(taskName string) manifest.Step {
	return step(actionTaskInvoke, map[string]any{optionTaskKeyConstant: taskName})
}

// builtinTasks is the release lifecycle every manifest starts from. A manifest task with the same name replaces the built-in one.
func builtinTasks() []manifest.Task {
	return []manifest.Task{
		{
			Name:        taskDeploy,
			Description: "Deploys the project: updates the code, then restarts the application.",
			Steps:       []manifest.Step{invokeStep(taskDeployUpdate), invokeStep(taskDeployRestart)},
		},
		{
			Name:        taskDeployUpdate,
			Description: "Copies the project to the servers and points current at the new release.",
			Steps:       []manifest.Step{invokeStep(taskDeployUpdateCode), invokeStep(taskDeployCreateSymlink)},
		},
		{
			Name:            taskDeployUpdateCode,
			Description:     "Refreshes the remote cached copy and copies it into a new release directory.",
			ExceptNoRelease: true,
			Steps: []manifest.Step{
				step(actionVariablesSet, map[string]any{optionNameKeyConstant: variableLatestRelease, optionValueKeyConstant: "{{ .release_path }}"}),
				step(actionRemoteRun, map[string]any{optionCommandKeyConstant: "if [ -d {{ .shared_path }}/{{ .repository_cache }} ]; then " +
					"cd {{ .shared_path }}/{{ .repository_cache }} && git fetch -q origin && git fetch --tags -q origin && " +
					"git reset -q --hard {{ .real_revision }} && git clean -q -d -x -f; " +
					"else git clone -q {{ .repository }} {{ .shared_path }}/{{ .repository_cache }} && " +
					"cd {{ .shared_path }}/{{ .repository_cache }} && git checkout -q -b deploy {{ .real_revision }}; fi"}),
				step(actionRemoteRun, map[string]any{optionCommandKeyConstant: "cp -RPp {{ .shared_path }}/{{ .repository_cache }} {{ .release_path }} && " +
					"(echo {{ .real_revision }} > {{ .release_path }}/REVISION)"}),
				invokeStep(taskDeployFinalizeUpdate),
			},
		},
		{
			Name:            taskDeployFinalizeUpdate,
			Description:     "Makes the release group writable and links the shared log, system and pids directories into it.",
			ExceptNoRelease: true,
			Steps: []manifest.Step{
				step(actionRemoteTrySudo, map[string]any{optionCommandKeyConstant: "chmod -R -- g+w {{ .latest_release }}"}),
				step(actionRemoteRun, map[string]any{optionCommandKeyConstant: "rm -rf -- {{ .latest_release }}/log {{ .latest_release }}/public/system {{ .latest_release }}/tmp/pids && " +
					"mkdir -p -- {{ .latest_release }}/public {{ .latest_release }}/tmp && " +
					"ln -s -- {{ .shared_path }}/log {{ .latest_release }}/log && " +
					"ln -s -- {{ .shared_path }}/system {{ .latest_release }}/public/system && " +
					"ln -s -- {{ .shared_path }}/pids {{ .latest_release }}/tmp/pids"}),
			},
		},
		{
			Name:            taskDeployCreateSymlink,
			Description:     "Points the current symlink at the latest release.",
			ExceptNoRelease: true,
			Steps: []manifest.Step{
				step(actionRemoteRun, map[string]any{optionCommandKeyConstant: "rm -f {{ .current_path }} && ln -s {{ .latest_release }} {{ .current_path }}"}),
			},
		},
		{
			Name:            taskDeploySetup,
			Description:     "Prepares the servers for deployment by creating the releases and shared directories.",
			ExceptNoRelease: true,
			Steps: []manifest.Step{
				step(actionRemoteTrySudo, map[string]any{optionCommandKeyConstant: "mkdir -p {{ .deploy_to }} {{ .releases_path }} {{ .shared_path }} {{ .shared_path }}/system {{ .shared_path }}/log {{ .shared_path }}/pids"}),
				step(actionRemoteTrySudo, map[string]any{optionCommandKeyConstant: "chmod g+w {{ .deploy_to }} {{ .releases_path }} {{ .shared_path }} {{ .shared_path }}/system {{ .shared_path }}/log {{ .shared_path }}/pids"}),
			},
		},
		{
			Name:            taskDeployCleanup,
			Description:     "Removes all but the newest keep_releases releases.",
			ExceptNoRelease: true,
			Steps: []manifest.Step{
				step(actionReleasesCleanup, map[string]any{optionKeepKeyConstant: "{{ .keep_releases }}"}),
			},
		},
		{
			Name:            taskDeployRollback,
			Description:     "Points current back at the previous release, restarts, and removes the rolled back release.",
			ExceptNoRelease: true,
			Steps: []manifest.Step{
				step(actionReleasesRollback, nil),
				invokeStep(taskDeployRestart),
				step(actionRemoteTrySudo, map[string]any{optionCommandKeyConstant: "if [ \"$(readlink {{ .current_path }})\" != \"{{ .releases_path }}/{{ .rollback_release }}\" ]; then " +
					"rm -rf {{ .releases_path }}/{{ .rollback_release }}; fi"}),
			},
		},
		{Name: taskDeployStart, Description: "Starts the application. Does nothing unless overridden."},
		{Name: taskDeployStop, Description: "Stops the application. Does nothing unless overridden."},
		{Name: taskDeployRestart, Description: "Restarts the application. Does nothing unless overridden."},
	}
}
