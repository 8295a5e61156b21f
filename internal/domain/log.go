package domain

import "time"

// LogLevel tags the severity of a pipeline log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// LogPhase distinguishes build-phase entries from deploy-phase entries.
type LogPhase string

const (
	PhaseBuild  LogPhase = "build"
	PhaseDeploy LogPhase = "deploy"
)

// PipelineLog is an immutable append-only log line belonging to one build.
type PipelineLog struct {
	ID        string
	ProjectID string
	BuildID   string
	Phase     LogPhase
	Body      string
	Level     LogLevel
	CreatedAt time.Time
}
