package workflow

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event codes emitted while a run progresses.
const (
	EventCodeTaskStart    = "task_start"
	EventCodeTaskComplete = "task_complete"
	EventCodeStepComplete = "step_complete"
	EventCodeStepSkipped  = "step_skipped"
	EventCodeHostComplete = "host_complete"
	EventCodeHostFailed   = "host_failed"
	EventCodeRunHalted    = "run_halted"
)

const (
	reporterEventMessageConstant  = "deploy event"
	reporterEventCodeFieldName    = "event"
	reporterEventHostFieldName    = "host"
	reporterEventTaskFieldName    = "task"
	reporterEventMessageFieldName = "message"
	unknownEventCodeConstant      = "unknown"
)

// EventLevel describes the severity of a reported event.
type EventLevel string

// Supported event levels.
const (
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

// Event captures one step of run progress.
type Event struct {
	Level   EventLevel
	Code    string
	Task    string
	Host    string
	Message string
}

// SummaryData captures aggregated run metrics.
type SummaryData struct {
	TotalHosts           int                `json:"total_hosts"`
	TaskCount            int                `json:"task_count"`
	EventCounts          map[string]int     `json:"event_counts"`
	LevelCounts          map[EventLevel]int `json:"level_counts"`
	DurationHuman        string             `json:"duration_human"`
	DurationMilliseconds int64              `json:"duration_ms"`
}

// RunReporter logs events and aggregates counts for the end-of-run summary.
type RunReporter struct {
	logger    *zap.Logger
	now       func() time.Time
	startTime time.Time

	mutex       sync.Mutex
	eventCounts map[string]int
	levelCounts map[EventLevel]int
	seenHosts   map[string]struct{}
	taskCount   int
}

// NewRunReporter constructs a reporter; a nil clock uses time.Now.
func NewRunReporter(logger *zap.Logger, now func() time.Time) *RunReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &RunReporter{
		logger:      logger,
		now:         now,
		startTime:   now(),
		eventCounts: make(map[string]int),
		levelCounts: make(map[EventLevel]int),
		seenHosts:   make(map[string]struct{}),
	}
}

// Report records the event and logs it at the matching level.
func (reporter *RunReporter) Report(event Event) {
	if reporter == nil {
		return
	}

	level := normalizeLevel(event.Level)
	code := strings.TrimSpace(event.Code)
	if len(code) == 0 {
		code = unknownEventCodeConstant
	}
	host := strings.TrimSpace(event.Host)

	reporter.mutex.Lock()
	reporter.eventCounts[code]++
	reporter.levelCounts[level]++
	if len(host) > 0 {
		reporter.seenHosts[host] = struct{}{}
	}
	if code == EventCodeTaskStart {
		reporter.taskCount++
	}
	reporter.mutex.Unlock()

	fields := []zap.Field{
		zap.String(reporterEventCodeFieldName, code),
		zap.String(reporterEventTaskFieldName, event.Task),
	}
	if len(host) > 0 {
		fields = append(fields, zap.String(reporterEventHostFieldName, host))
	}
	if message := strings.TrimSpace(event.Message); len(message) > 0 {
		fields = append(fields, zap.String(reporterEventMessageFieldName, message))
	}

	switch level {
	case EventLevelError:
		reporter.logger.Error(reporterEventMessageConstant, fields...)
	case EventLevelWarn:
		reporter.logger.Warn(reporterEventMessageConstant, fields...)
	default:
		reporter.logger.Debug(reporterEventMessageConstant, fields...)
	}
}

// SummaryData produces a snapshot of the aggregated metrics.
func (reporter *RunReporter) SummaryData() SummaryData {
	if reporter == nil {
		return SummaryData{EventCounts: map[string]int{}, LevelCounts: map[EventLevel]int{}, DurationHuman: "0s"}
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	duration := reporter.now().Sub(reporter.startTime)
	if duration < 0 {
		duration = 0
	}

	eventCounts := make(map[string]int, len(reporter.eventCounts))
	for code, count := range reporter.eventCounts {
		eventCounts[code] = count
	}
	levelCounts := make(map[EventLevel]int, len(reporter.levelCounts))
	for level, count := range reporter.levelCounts {
		levelCounts[level] = count
	}

	rounded := duration.Round(time.Millisecond)
	if rounded == 0 && duration > 0 {
		rounded = time.Millisecond
	}

	return SummaryData{
		TotalHosts:           len(reporter.seenHosts),
		TaskCount:            reporter.taskCount,
		EventCounts:          eventCounts,
		LevelCounts:          levelCounts,
		DurationHuman:        rounded.String(),
		DurationMilliseconds: rounded.Milliseconds(),
	}
}

func normalizeLevel(level EventLevel) EventLevel {
	switch EventLevel(strings.ToUpper(strings.TrimSpace(string(level)))) {
	case EventLevelWarn:
		return EventLevelWarn
	case EventLevelError:
		return EventLevelError
	default:
		return EventLevelInfo
	}
}
