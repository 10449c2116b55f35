package actions

import (
	"log/slog"
)

// LogReporter reports failed actions to a structured logger
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter. If logger is nil, slog.Default() is used.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(action PendingAction, err error) {
	r.logger.Error("post action failed",
		"stable_id", action.Post.StableID,
		"platform", action.Post.Platform,
		"intent", action.Intent.String(),
		"downtime", IsNetworkDowntime(err),
		"error", err)
}

// ReporterFunc adapts a function to ErrorReporter
type ReporterFunc func(action PendingAction, err error)

func (f ReporterFunc) Report(action PendingAction, err error) { f(action, err) }
