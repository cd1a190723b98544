// Package taskrunner hosts the shared abstractions for building and executing railcap
// deploy tasks. It exposes the `Executor` interface plus helpers (`Factory`,
// `Resolve`) so CLI packages can inject workflow.Dependencies once and obtain a
// runner, while unit tests can swap in fakes. BuildDependencies wires the SSH or
// dry-run transport, the local shell executor, and the git revision resolver.
package taskrunner
