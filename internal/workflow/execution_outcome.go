package workflow

import "time"

// ExecutionOutcome captures what a run did.
type ExecutionOutcome struct {
	RunID               string
	StartTime           time.Time
	EndTime             time.Time
	Duration            time.Duration
	HostCount           int
	TaskOutcomes        []TaskOutcome
	Failures            []TaskFailure
	ReporterSummaryData SummaryData
}

// TaskOutcome reports one top-level task requested on the command line.
type TaskOutcome struct {
	Name     string
	Duration time.Duration
	Failed   bool
	Error    error
}

// TaskFailure captures a formatted failure for user-facing reporting.
type TaskFailure struct {
	Name    string
	Message string
	Error   error
}
