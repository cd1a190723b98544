package workflow

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/railcap/internal/execshell"
	"github.com/tyemirov/railcap/internal/manifest"
	"github.com/tyemirov/railcap/internal/remote"
)

const (
	testReleaseNameConstant   = "20240102030405"
	testHostConstant          = "192.168.0.1"
	testDeployToConstant      = "/home/user/apps/application"
	testSharedPathConstant    = testDeployToConstant + "/shared"
	testCurrentPathConstant   = testDeployToConstant + "/current"
	testReleasesPathConstant  = testDeployToConstant + "/releases"
	testReleasePathConstant   = testReleasesPathConstant + "/" + testReleaseNameConstant
	testRealRevisionConstant  = "0123456789abcdef0123456789abcdef01234567"
	testDatabaseYAMLConstant  = "production:\n  adapter: sqlite3\n"
	remoteCallRunConstant     = "run"
	remoteCallCaptureConstant = "capture"
	remoteCallSudoConstant    = "sudo"
	remoteCallUploadConstant  = "upload"
)

var testClockTime = time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)

type remoteCall struct {
	Kind    string
	Host    string
	Command string
	Content string
}

type recordingRemoteExecutor struct {
	mutex          sync.Mutex
	calls          []remoteCall
	captureOutputs map[string]string
	captureErrors  map[string]error
	runErrors      map[string]error
	hostRunErrors  map[string]error
}

func newRecordingRemoteExecutor() *recordingRemoteExecutor {
	return &recordingRemoteExecutor{
		captureOutputs: make(map[string]string),
		captureErrors:  make(map[string]error),
		runErrors:      make(map[string]error),
		hostRunErrors:  make(map[string]error),
	}
}

func (executor *recordingRemoteExecutor) record(call remoteCall) {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	executor.calls = append(executor.calls, call)
}

func (executor *recordingRemoteExecutor) Run(_ context.Context, endpoint remote.Endpoint, script string) (remote.CommandResult, error) {
	executor.record(remoteCall{Kind: remoteCallRunConstant, Host: endpoint.Label, Command: script})
	if runError, exists := executor.runErrors[script]; exists {
		return remote.CommandResult{}, runError
	}
	if hostError, exists := executor.hostRunErrors[endpoint.Label]; exists {
		return remote.CommandResult{ExitCode: 1}, hostError
	}
	return remote.CommandResult{}, nil
}

func (executor *recordingRemoteExecutor) Capture(_ context.Context, endpoint remote.Endpoint, script string) (string, error) {
	executor.record(remoteCall{Kind: remoteCallCaptureConstant, Host: endpoint.Label, Command: script})
	if captureError, exists := executor.captureErrors[script]; exists {
		return "", captureError
	}
	return executor.captureOutputs[script], nil
}

func (executor *recordingRemoteExecutor) Sudo(_ context.Context, endpoint remote.Endpoint, script string) (remote.CommandResult, error) {
	executor.record(remoteCall{Kind: remoteCallSudoConstant, Host: endpoint.Label, Command: script})
	return remote.CommandResult{}, nil
}

func (executor *recordingRemoteExecutor) Upload(_ context.Context, endpoint remote.Endpoint, content []byte, destination string) error {
	executor.record(remoteCall{Kind: remoteCallUploadConstant, Host: endpoint.Label, Command: destination, Content: string(content)})
	return nil
}

func (executor *recordingRemoteExecutor) Calls() []remoteCall {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	return append([]remoteCall(nil), executor.calls...)
}

type recordingLocalExecutor struct {
	scripts []string
	details []execshell.CommandDetails
	err     error
}

func (executor *recordingLocalExecutor) ExecuteShellScript(_ context.Context, script string, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	executor.scripts = append(executor.scripts, script)
	executor.details = append(executor.details, details)
	if executor.err != nil {
		return execshell.ExecutionResult{}, executor.err
	}
	return execshell.ExecutionResult{}, nil
}

type stubRevisionResolver struct {
	head            string
	tracking        string
	remoteRevision  string
	trackedBranches []string
	lsRemoteCalls   int
}

func (resolver *stubRevisionResolver) HeadRevision(_ context.Context, _ string) (string, error) {
	return resolver.head, nil
}

func (resolver *stubRevisionResolver) TrackingRevision(_ context.Context, _ string, branchName string) (string, error) {
	resolver.trackedBranches = append(resolver.trackedBranches, branchName)
	return resolver.tracking, nil
}

func (resolver *stubRevisionResolver) LsRemote(_ context.Context, _ string, _ string, _ string) (string, error) {
	resolver.lsRemoteCalls++
	return resolver.remoteRevision, nil
}

type runnerFixture struct {
	remote    *recordingRemoteExecutor
	local     *recordingLocalExecutor
	revisions *stubRevisionResolver
	output    *bytes.Buffer
	runner    TaskRunner
	workspace string
}

func newRunnerFixture(testInstance *testing.T) *runnerFixture {
	testInstance.Helper()
	fixture := &runnerFixture{
		remote:    newRecordingRemoteExecutor(),
		local:     &recordingLocalExecutor{},
		revisions: &stubRevisionResolver{head: "same", tracking: "same", remoteRevision: testRealRevisionConstant},
		output:    &bytes.Buffer{},
		workspace: testInstance.TempDir(),
	}
	fixture.runner = NewTaskRunner(Dependencies{
		Logger:           zap.NewNop(),
		RemoteExecutor:   fixture.remote,
		LocalExecutor:    fixture.local,
		RevisionResolver: fixture.revisions,
		Output:           fixture.output,
		Errors:           fixture.output,
		Clock:            func() time.Time { return testClockTime },
	})
	return fixture
}

func (fixture *runnerFixture) writeDatabaseConfiguration(testInstance *testing.T) {
	testInstance.Helper()
	configurationDirectory := filepath.Join(fixture.workspace, "config")
	require.NoError(testInstance, os.MkdirAll(configurationDirectory, 0o755))
	require.NoError(testInstance, os.WriteFile(filepath.Join(configurationDirectory, "database.yml"), []byte(testDatabaseYAMLConstant), 0o600))
}

func (fixture *runnerFixture) run(testInstance *testing.T, deployManifest manifest.Manifest, taskNames ...string) (ExecutionOutcome, error) {
	testInstance.Helper()
	return fixture.runner.Run(context.Background(), deployManifest, taskNames, RuntimeOptions{WorkingDirectory: fixture.workspace, MaxParallelHosts: 4})
}

func loadDefaultManifest(testInstance *testing.T) manifest.Manifest {
	testInstance.Helper()
	deployManifest, loadError := manifest.LoadDefault()
	require.NoError(testInstance, loadError)
	return deployManifest
}

func runOn(command string) remoteCall {
	return remoteCall{Kind: remoteCallRunConstant, Host: testHostConstant, Command: command}
}

func sudoOn(command string) remoteCall {
	return remoteCall{Kind: remoteCallSudoConstant, Host: testHostConstant, Command: command}
}

func captureOn(command string) remoteCall {
	return remoteCall{Kind: remoteCallCaptureConstant, Host: testHostConstant, Command: command}
}
