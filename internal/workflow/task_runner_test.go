package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	railerrors "github.com/tyemirov/railcap/internal/errors"
	"github.com/tyemirov/railcap/internal/manifest"
	"github.com/tyemirov/railcap/internal/remote"
)

func TestTaskRunnerDeclaredTaskCommands(testInstance *testing.T) {
	testCases := []struct {
		name           string
		taskName       string
		expectedCalls  []remoteCall
		expectedOutput string
	}{
		{
			name:          "start",
			taskName:      "deploy:start",
			expectedCalls: []remoteCall{runOn("/etc/init.d/unicorn_application start")},
		},
		{
			name:          "stop",
			taskName:      "deploy:stop",
			expectedCalls: []remoteCall{runOn("/etc/init.d/unicorn_application stop")},
		},
		{
			name:          "restart",
			taskName:      "deploy:restart",
			expectedCalls: []remoteCall{runOn("/etc/init.d/unicorn_application restart")},
		},
		{
			name:     "symlink config",
			taskName: "deploy:symlink_config",
			expectedCalls: []remoteCall{
				runOn("ln -nfs " + testSharedPathConstant + "/config/database.yml " + testReleasePathConstant + "/config/database.yml"),
				runOn("ln -nfs " + testSharedPathConstant + "/public/uploads  " + testReleasePathConstant + "/public/uploads"),
			},
		},
		{
			name:     "migrate",
			taskName: "db:migrate",
			expectedCalls: []remoteCall{
				runOn("cd " + testCurrentPathConstant + "; rake db:migrate RAILS_ENV=production"),
				runOn("mkdir -p " + testSharedPathConstant + "/db && chmod -R u+rwX,g+rwX " + testSharedPathConstant + "/db"),
			},
			expectedOutput: "\n\n=== Migrating the Production Database! ===\n\n",
		},
		{
			name:     "create",
			taskName: "db:create",
			expectedCalls: []remoteCall{
				runOn("cd " + testCurrentPathConstant + "; rake db:create RAILS_ENV=production"),
				runOn("mkdir -p " + testSharedPathConstant + "/db && chmod -R u+rwX,g+rwX " + testSharedPathConstant + "/db"),
			},
			expectedOutput: "\n\n=== Creating the Production Database! ===\n\n",
		},
		{
			name:     "drop",
			taskName: "db:drop",
			expectedCalls: []remoteCall{
				runOn("cd " + testCurrentPathConstant + "; rake db:drop RAILS_ENV=production"),
				runOn("mkdir -p " + testSharedPathConstant + "/db && chmod -R u+rwX,g+rwX " + testSharedPathConstant + "/db"),
			},
			expectedOutput: "\n\n=== Destroying the Production Database! ===\n\n",
		},
		{
			name:           "migrate reset",
			taskName:       "db:migrate_reset",
			expectedCalls:  []remoteCall{runOn("cd " + testCurrentPathConstant + "; rake db:migrate:reset RAILS_ENV=production")},
			expectedOutput: "\n\n=== Resetting the Production Database! ===\n\n",
		},
		{
			name:           "seed",
			taskName:       "db:seed",
			expectedCalls:  []remoteCall{runOn("cd " + testCurrentPathConstant + "; rake db:seed RAILS_ENV=production")},
			expectedOutput: "\n\n=== Populating the Production Database! ===\n\n",
		},
		{
			name:     "move to shared",
			taskName: "db:move_to_shared",
			expectedCalls: []remoteCall{
				runOn("mv " + testCurrentPathConstant + "/db/production.sqlite3 " + testSharedPathConstant + "/db/production.sqlite3"),
				runOn("ln -nfs " + testSharedPathConstant + "/db/production.sqlite3 " + testCurrentPathConstant + "/db/production.sqlite3"),
				runOn("mkdir -p " + testSharedPathConstant + "/db && chmod -R u+rwX,g+rwX " + testSharedPathConstant + "/db"),
			},
			expectedOutput: "\n\n=== Moving the SQLite3 Production Database to the shared path! ===\n\n",
		},
		{
			name:     "bundle install",
			taskName: "bundle:install",
			expectedCalls: []remoteCall{
				runOn("cd " + testCurrentPathConstant + " && bundle install --gemfile " + testCurrentPathConstant + "/Gemfile --path " + testSharedPathConstant + "/bundle --deployment --quiet --without development test"),
			},
		},
		{
			name:     "cleanup without old releases",
			taskName: "deploy:cleanup",
			expectedCalls: []remoteCall{
				captureOn("ls -x " + testReleasesPathConstant),
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			fixture := newRunnerFixture(subtest)
			_, runError := fixture.run(subtest, loadDefaultManifest(subtest), testCase.taskName)
			require.NoError(subtest, runError)
			require.Equal(subtest, testCase.expectedCalls, fixture.remote.Calls())
			require.Equal(subtest, testCase.expectedOutput, fixture.output.String())
		})
	}
}

func TestTaskRunnerSetupRunsSetupConfigAfterward(testInstance *testing.T) {
	fixture := newRunnerFixture(testInstance)
	fixture.writeDatabaseConfiguration(testInstance)

	_, runError := fixture.run(testInstance, loadDefaultManifest(testInstance), "deploy:setup")
	require.NoError(testInstance, runError)

	directories := testDeployToConstant + " " + testReleasesPathConstant + " " + testSharedPathConstant + " " +
		testSharedPathConstant + "/system " + testSharedPathConstant + "/log " + testSharedPathConstant + "/pids"
	require.Equal(testInstance, []remoteCall{
		runOn("mkdir -p " + directories),
		runOn("chmod g+w " + directories),
		sudoOn("ln -nfs " + testCurrentPathConstant + "/config/nginx.conf /etc/nginx/sites-enabled/application"),
		sudoOn("ln -nfs " + testCurrentPathConstant + "/config/unicorn_init.sh /etc/init.d/unicorn_application"),
		runOn("mkdir -p " + testSharedPathConstant + "/config"),
		runOn("mkdir -p " + testSharedPathConstant + "/public/uploads"),
		{Kind: remoteCallUploadConstant, Host: testHostConstant, Command: testSharedPathConstant + "/config/database.yml", Content: testDatabaseYAMLConstant},
	}, fixture.remote.Calls())
	require.Equal(testInstance, "Now edit the config files in "+testSharedPathConstant+".\n", fixture.output.String())
}

func TestTaskRunnerDeployFullLifecycle(testInstance *testing.T) {
	fixture := newRunnerFixture(testInstance)
	fixture.remote.captureOutputs["ls -x "+testReleasesPathConstant] = "20240101000000 " + testReleaseNameConstant + "\n"

	outcome, runError := fixture.run(testInstance, loadDefaultManifest(testInstance), "deploy")
	require.NoError(testInstance, runError)

	cachedCopy := testSharedPathConstant + "/cached-copy"
	expectedCalls := []remoteCall{
		runOn("if [ -d " + cachedCopy + " ]; then cd " + cachedCopy + " && git fetch -q origin && git fetch --tags -q origin && " +
			"git reset -q --hard " + testRealRevisionConstant + " && git clean -q -d -x -f; " +
			"else git clone -q git@bitbucket.org:<user>/application.git " + cachedCopy + " && cd " + cachedCopy +
			" && git checkout -q -b deploy " + testRealRevisionConstant + "; fi"),
		runOn("cp -RPp " + cachedCopy + " " + testReleasePathConstant + " && (echo " + testRealRevisionConstant + " > " + testReleasePathConstant + "/REVISION)"),
		runOn("cd " + testReleasePathConstant + " && bundle install --gemfile " + testReleasePathConstant + "/Gemfile --path " + testSharedPathConstant + "/bundle --deployment --quiet --without development test"),
		runOn("chmod -R -- g+w " + testReleasePathConstant),
		runOn("rm -rf -- " + testReleasePathConstant + "/log " + testReleasePathConstant + "/public/system " + testReleasePathConstant + "/tmp/pids && " +
			"mkdir -p -- " + testReleasePathConstant + "/public " + testReleasePathConstant + "/tmp && " +
			"ln -s -- " + testSharedPathConstant + "/log " + testReleasePathConstant + "/log && " +
			"ln -s -- " + testSharedPathConstant + "/system " + testReleasePathConstant + "/public/system && " +
			"ln -s -- " + testSharedPathConstant + "/pids " + testReleasePathConstant + "/tmp/pids"),
		runOn("ln -nfs " + testSharedPathConstant + "/config/database.yml " + testReleasePathConstant + "/config/database.yml"),
		runOn("ln -nfs " + testSharedPathConstant + "/public/uploads  " + testReleasePathConstant + "/public/uploads"),
		captureOn("cat " + testCurrentPathConstant + "/REVISION"),
		runOn("cd " + testReleasePathConstant + " && bundle exec rake RAILS_ENV=production RAILS_GROUPS=assets assets:precompile"),
		runOn("rm -f " + testCurrentPathConstant + " && ln -s " + testReleasePathConstant + " " + testCurrentPathConstant),
		runOn("/etc/init.d/unicorn_application restart"),
		captureOn("ls -x " + testReleasesPathConstant),
	}
	require.Equal(testInstance, expectedCalls, fixture.remote.Calls())
	require.Equal(testInstance, []string{"master"}, fixture.revisions.trackedBranches)
	require.Equal(testInstance, 1, fixture.revisions.lsRemoteCalls)
	require.Len(testInstance, outcome.TaskOutcomes, 1)
	require.False(testInstance, outcome.TaskOutcomes[0].Failed)
	require.Equal(testInstance, 1, outcome.HostCount)
	require.NotEmpty(testInstance, outcome.RunID)
}

func TestTaskRunnerCheckRevision(testInstance *testing.T) {
	testCases := []struct {
		name           string
		head           string
		tracking       string
		expectHalt     bool
		expectedOutput string
	}{
		{
			name:     "in sync",
			head:     "abc",
			tracking: "abc",
		},
		{
			name:           "out of sync",
			head:           "abc",
			tracking:       "def",
			expectHalt:     true,
			expectedOutput: "WARNING: HEAD is not the same as origin/master\nRun `git push` to sync changes.\n",
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			fixture := newRunnerFixture(subtest)
			fixture.revisions.head = testCase.head
			fixture.revisions.tracking = testCase.tracking

			_, runError := fixture.run(subtest, loadDefaultManifest(subtest), "deploy")
			require.Equal(subtest, testCase.expectedOutput, fixture.output.String())
			if !testCase.expectHalt {
				require.NoError(subtest, runError)
				require.NotEmpty(subtest, fixture.remote.Calls())
				return
			}
			require.Error(subtest, runError)
			require.True(subtest, errors.Is(runError, railerrors.ErrRunHalted))
			require.Empty(subtest, fixture.remote.Calls())
		})
	}
}

func TestTaskRunnerAssetsPrecompile(testInstance *testing.T) {
	checkCommand := "cd " + testCurrentPathConstant + " && git log abc.. app/assets lib/assets vendor/assets Gemfile.lock config/routes.rb | wc -l"
	precompileCommand := "cd " + testCurrentPathConstant + " && bundle exec rake RAILS_ENV=production RAILS_GROUPS=assets assets:precompile"
	revisionCommand := "cat " + testCurrentPathConstant + "/REVISION"

	testCases := []struct {
		name           string
		revision       string
		revisionError  error
		changeCount    string
		expectedCalls  []remoteCall
		expectedOutput string
	}{
		{
			name:           "no asset changes skips",
			revision:       "abc\n",
			changeCount:    "0\n",
			expectedCalls:  []remoteCall{captureOn(revisionCommand), captureOn(checkCommand)},
			expectedOutput: "Skipping asset pre-compilation because there were no asset changes\n",
		},
		{
			name:          "asset changes precompile",
			revision:      "abc\n",
			changeCount:   "3\n",
			expectedCalls: []remoteCall{captureOn(revisionCommand), captureOn(checkCommand), runOn(precompileCommand)},
		},
		{
			name:          "first deploy precompiles",
			revisionError: remote.CommandFailedError{Host: testHostConstant, Command: revisionCommand, Result: remote.CommandResult{ExitCode: 1}},
			expectedCalls: []remoteCall{captureOn(revisionCommand), runOn(precompileCommand)},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			fixture := newRunnerFixture(subtest)
			if testCase.revisionError != nil {
				fixture.remote.captureErrors[revisionCommand] = testCase.revisionError
			} else {
				fixture.remote.captureOutputs[revisionCommand] = testCase.revision
			}
			fixture.remote.captureOutputs[checkCommand] = testCase.changeCount

			_, runError := fixture.run(subtest, loadDefaultManifest(subtest), "deploy:assets:precompile")
			require.NoError(subtest, runError)
			require.Equal(subtest, testCase.expectedCalls, fixture.remote.Calls())
			require.Equal(subtest, testCase.expectedOutput, fixture.output.String())
		})
	}
}

func TestTaskRunnerSyncYAML(testInstance *testing.T) {
	banner := "\n\n=== Syncing database yaml to the production server! ===\n\n"

	testInstance.Run("uploads with rsync", func(subtest *testing.T) {
		fixture := newRunnerFixture(subtest)
		fixture.writeDatabaseConfiguration(subtest)

		_, runError := fixture.run(subtest, loadDefaultManifest(subtest), "db:sync_yaml")
		require.NoError(subtest, runError)
		require.Equal(subtest, []string{"rsync -vr --exclude='.DS_Store' config/database.yml user@application:" + testSharedPathConstant + "/config/"}, fixture.local.scripts)
		require.Equal(subtest, fixture.workspace, fixture.local.details[0].WorkingDirectory)
		require.Equal(subtest, banner, fixture.output.String())
	})

	testInstance.Run("halts without database.yml", func(subtest *testing.T) {
		fixture := newRunnerFixture(subtest)

		_, runError := fixture.run(subtest, loadDefaultManifest(subtest), "db:sync_yaml")
		require.Error(subtest, runError)
		require.Equal(subtest, string(railerrors.ErrRunHalted), railerrors.CodeOf(runError))
		require.Empty(subtest, fixture.local.scripts)
		require.Equal(subtest, banner+"There is no config/database.yml.\n \n", fixture.output.String())
	})
}

func TestTaskRunnerCleanupRemovesOldestReleases(testInstance *testing.T) {
	fixture := newRunnerFixture(testInstance)
	fixture.remote.captureOutputs["ls -x "+testReleasesPathConstant] = "r7 r1 r3\nr2 r5 r4 r6\n"

	_, runError := fixture.run(testInstance, loadDefaultManifest(testInstance), "deploy:cleanup")
	require.NoError(testInstance, runError)
	require.Equal(testInstance, []remoteCall{
		captureOn("ls -x " + testReleasesPathConstant),
		runOn("rm -rf " + testReleasesPathConstant + "/r1 " + testReleasesPathConstant + "/r2"),
	}, fixture.remote.Calls())
}

func TestTaskRunnerRollback(testInstance *testing.T) {
	listCommand := "ls -x " + testReleasesPathConstant

	testInstance.Run("repoints current", func(subtest *testing.T) {
		fixture := newRunnerFixture(subtest)
		fixture.remote.captureOutputs[listCommand] = "20240101000000 20240102000000 20240103000000"

		_, runError := fixture.run(subtest, loadDefaultManifest(subtest), "deploy:rollback")
		require.NoError(subtest, runError)
		require.Equal(subtest, []remoteCall{
			captureOn(listCommand),
			runOn("rm -f " + testCurrentPathConstant + " && ln -s " + testReleasesPathConstant + "/20240102000000 " + testCurrentPathConstant),
			runOn("/etc/init.d/unicorn_application restart"),
			runOn("if [ \"$(readlink " + testCurrentPathConstant + ")\" != \"" + testReleasesPathConstant + "/20240103000000\" ]; then " +
				"rm -rf " + testReleasesPathConstant + "/20240103000000; fi"),
		}, fixture.remote.Calls())
	})

	testInstance.Run("single release is unavailable", func(subtest *testing.T) {
		fixture := newRunnerFixture(subtest)
		fixture.remote.captureOutputs[listCommand] = "20240101000000\n"

		_, runError := fixture.run(subtest, loadDefaultManifest(subtest), "deploy:rollback")
		require.True(subtest, errors.Is(runError, railerrors.ErrRollbackUnavailable))
		require.Equal(subtest, []remoteCall{captureOn(listCommand)}, fixture.remote.Calls())
	})
}

func TestTaskRunnerRejectsUnknownTasksBeforeRunning(testInstance *testing.T) {
	fixture := newRunnerFixture(testInstance)

	outcome, runError := fixture.run(testInstance, loadDefaultManifest(testInstance), "deploy:start", "deploy:nope")
	require.True(testInstance, errors.Is(runError, railerrors.ErrTaskNotFound))
	require.Equal(testInstance, "task_not_found: deploy:nope task not found", FormatOperationError(runError))
	require.Empty(testInstance, fixture.remote.Calls())
	require.Empty(testInstance, outcome.TaskOutcomes)
}

func TestTaskRunnerFailures(testInstance *testing.T) {
	hosts := []manifest.Host{{Address: "app1", Roles: []string{"app"}}}
	testCases := []struct {
		name           string
		deployManifest manifest.Manifest
		taskName       string
		expectedError  error
	}{
		{
			name: "no matching hosts",
			deployManifest: manifest.Manifest{Hosts: hosts, Tasks: []manifest.Task{{
				Name:  "db:check",
				Roles: []string{"db"},
				Steps: []manifest.Step{{Action: actionRemoteRun, Options: map[string]any{"command": "true"}}},
			}}},
			taskName:      "db:check",
			expectedError: railerrors.ErrNoMatchingHosts,
		},
		{
			name: "recursion",
			deployManifest: manifest.Manifest{Hosts: hosts, Tasks: []manifest.Task{{
				Name:  "loop",
				Steps: []manifest.Step{{Action: actionTaskInvoke, Options: map[string]any{"task": "loop"}}},
			}}},
			taskName:      "loop",
			expectedError: railerrors.ErrTaskRecursion,
		},
		{
			name: "unknown action",
			deployManifest: manifest.Manifest{Hosts: hosts, Tasks: []manifest.Task{{
				Name:  "custom",
				Steps: []manifest.Step{{Action: "remote.teleport"}},
			}}},
			taskName:      "custom",
			expectedError: railerrors.ErrUnknownAction,
		},
		{
			name: "missing option",
			deployManifest: manifest.Manifest{Hosts: hosts, Tasks: []manifest.Task{{
				Name:  "custom",
				Steps: []manifest.Step{{Action: actionRemoteRun}},
			}}},
			taskName:      "custom",
			expectedError: railerrors.ErrStepOptionMissing,
		},
		{
			name: "undefined variable",
			deployManifest: manifest.Manifest{Hosts: hosts, Tasks: []manifest.Task{{
				Name:  "custom",
				Steps: []manifest.Step{{Action: actionRemoteRun, Options: map[string]any{"command": "echo {{ .missing }}"}}},
			}}},
			taskName:      "custom",
			expectedError: railerrors.ErrVariableUndefined,
		},
		{
			name: "hook references unknown task",
			deployManifest: manifest.Manifest{Hosts: hosts, Hooks: []manifest.Hook{
				{When: manifest.HookAfter, Event: "deploy", Task: "deploy:ghost"},
			}},
			taskName:      "deploy",
			expectedError: railerrors.ErrHookTaskUnknown,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			fixture := newRunnerFixture(subtest)
			_, runError := fixture.run(subtest, testCase.deployManifest, testCase.taskName)
			require.Error(subtest, runError)
			require.True(subtest, errors.Is(runError, testCase.expectedError), fmt.Sprintf("unexpected error %v", runError))
		})
	}
}

func TestTaskRunnerRemoteFailureStopsSequence(testInstance *testing.T) {
	fixture := newRunnerFixture(testInstance)
	failingCommand := "cd " + testCurrentPathConstant + "; rake db:migrate RAILS_ENV=production"
	fixture.remote.runErrors[failingCommand] = remote.CommandFailedError{
		Host:    testHostConstant,
		Command: failingCommand,
		Result:  remote.CommandResult{ExitCode: 1, StandardError: "rake aborted!"},
	}

	outcome, runError := fixture.run(testInstance, loadDefaultManifest(testInstance), "db:migrate")
	require.True(testInstance, errors.Is(runError, railerrors.ErrRemoteCommandFailed))
	require.Equal(testInstance, []remoteCall{runOn(failingCommand)}, fixture.remote.Calls())
	require.Len(testInstance, outcome.Failures, 1)
	require.Contains(testInstance, outcome.Failures[0].Message, "remote_command_failed: "+testHostConstant)

	var commandError remote.CommandFailedError
	require.True(testInstance, errors.As(runError, &commandError))
	require.Equal(testInstance, 1, commandError.Result.ExitCode)
}

func TestTaskRunnerVariableOverridesWin(testInstance *testing.T) {
	fixture := newRunnerFixture(testInstance)

	_, runError := fixture.runner.Run(context.Background(), loadDefaultManifest(testInstance), []string{"deploy:start"}, RuntimeOptions{
		WorkingDirectory:  fixture.workspace,
		VariableOverrides: map[string]string{"application": "shop"},
	})
	require.NoError(testInstance, runError)
	require.Equal(testInstance, []remoteCall{runOn("/etc/init.d/unicorn_shop start")}, fixture.remote.Calls())
}
