// Package runner invokes the external analysis that produces snapshots.
package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

// MonitorConfig is what the runner needs to analyse one monitor.
type MonitorConfig struct {
	MonitorID     string   `json:"monitor_id"`
	Company       string   `json:"company"`
	Industry      string   `json:"industry"`
	PriorityTypes []string `json:"priority_types,omitempty"`
	Metrics       []string `json:"metrics,omitempty"`
}

// Runner produces a fresh snapshot. The caller stamps identity and time.
type Runner interface {
	Run(ctx context.Context, cfg MonitorConfig) (*domain.Snapshot, error)
}

// Func adapts a function to Runner.
type Func func(ctx context.Context, cfg MonitorConfig) (*domain.Snapshot, error)

func (f Func) Run(ctx context.Context, cfg MonitorConfig) (*domain.Snapshot, error) {
	return f(ctx, cfg)
}

// Static replays a fixed sequence of snapshots, repeating the last one once
// the sequence is exhausted. It backs simulations and tests.
type Static struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
	next      int
	err       error
}

// NewStatic builds a Static runner.
func NewStatic(snapshots ...domain.Snapshot) *Static {
	return &Static{snapshots: snapshots}
}

// Push appends snapshots to the sequence.
func (s *Static) Push(snapshots ...domain.Snapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshots...)
	s.mu.Unlock()
}

// SetError makes every following Run fail with err until cleared with nil.
func (s *Static) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Static) Run(ctx context.Context, cfg MonitorConfig) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.AnalysisRunnerError{MonitorID: cfg.MonitorID, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, &domain.AnalysisRunnerError{MonitorID: cfg.MonitorID, Err: s.err}
	}
	if len(s.snapshots) == 0 {
		return nil, &domain.AnalysisRunnerError{MonitorID: cfg.MonitorID, Err: errors.New("no snapshot configured")}
	}
	idx := s.next
	if idx >= len(s.snapshots) {
		idx = len(s.snapshots) - 1
	} else {
		s.next++
	}
	snap := s.snapshots[idx].Clone()
	return &snap, nil
}

var (
	_ Runner = (*Static)(nil)
	_ Runner = Func(nil)
)
