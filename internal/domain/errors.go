package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMonitorNotFound       = errors.New("monitor not found")
	ErrAlertNotFound         = errors.New("alert not found")
	ErrAggregationNotFound   = errors.New("aggregation not found")
	ErrCheckInProgress       = errors.New("check already in progress")
	ErrNonMonotonicTimestamp = errors.New("snapshot timestamp must be strictly after the latest stored snapshot")
	ErrInvalidFeedback       = errors.New("invalid feedback")
	ErrModelNotTrained       = errors.New("model not trained")
)

// InsufficientDataError is returned when a metric has too few points to fit.
type InsufficientDataError struct {
	Metric string
	Have   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d points, need %d", e.Metric, e.Have, e.Need)
}

// AnalysisRunnerError wraps a failure of the external analysis runner.
type AnalysisRunnerError struct {
	MonitorID string
	Err       error
}

func (e *AnalysisRunnerError) Error() string {
	return fmt.Sprintf("analysis runner failed for %s: %v", e.MonitorID, e.Err)
}

func (e *AnalysisRunnerError) Unwrap() error { return e.Err }

// StoreUnavailableError wraps a backing store failure. It is never converted
// into an empty result.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable (%s): %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// StaleModelWarning annotates findings produced by a model whose latest
// observation is older than the allowed age.
type StaleModelWarning struct {
	Metric string
}

func (w StaleModelWarning) Error() string {
	return fmt.Sprintf("model for %s is stale", w.Metric)
}
