package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrJobNotFound is returned when a status query names an unknown job
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when an operation requires a non-terminal job
	ErrJobTerminal = errors.New("job already in terminal state")

	// ErrJobCanceled is the cause recorded on jobs stopped by a cancel request
	ErrJobCanceled = errors.New("canceled by request")

	// ErrShutdown is the cause recorded on jobs still queued when the orchestrator stops
	ErrShutdown = errors.New("orchestrator stopped before the job was admitted")

	// ErrAlertNotFound is returned for unknown alert ids
	ErrAlertNotFound = errors.New("alert not found")

	// ErrOrchestratorStopped is returned when submitting to a stopped orchestrator
	ErrOrchestratorStopped = errors.New("orchestrator is stopped")
)

// ServiceInvocationError reports that a named capability failed or returned an error.
type ServiceInvocationError struct {
	Stage   string
	Service string
	Err     error
}

func (e *ServiceInvocationError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("service %s in stage %s failed: %v", e.Service, e.Stage, e.Err)
}

func (e *ServiceInvocationError) Unwrap() error {
	return e.Err
}

// QualityGateError reports unmet declarative thresholds for a stage.
type QualityGateError struct {
	Stage  string
	Reason string
}

func (e *QualityGateError) Error() string {
	return fmt.Sprintf("quality gate failed for stage %s: %s", e.Stage, e.Reason)
}

// TimeoutWarning is advisory: a stage exceeded its budget but was not stopped.
type TimeoutWarning struct {
	JobID   string
	Stage   string
	Elapsed time.Duration
	Budget  time.Duration
}

func (e *TimeoutWarning) Error() string {
	return fmt.Sprintf("stage %s of job %s running for %s exceeds timeout %s", e.Stage, e.JobID, e.Elapsed.Round(time.Millisecond), e.Budget)
}

// ConfigurationError reports a malformed pipeline definition. It is only
// produced at load or reload time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid pipeline configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid pipeline configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
