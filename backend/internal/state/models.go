package state

import (
	"fmt"
	"time"
)

// SyncStatus is the progress of the background pipeline as reported by the
// sync endpoints
type SyncStatus struct {
	Running  bool      `json:"running"`
	CycleID  string    `json:"cycle_id,omitempty"`
	Progress string    `json:"progress"`
	Percent  int       `json:"percent"` // -1 when the last run failed
	Error    string    `json:"error,omitempty"`
	LastSync time.Time `json:"last_sync,omitempty"`
}

// StageResult records one finished stage of a cycle
type StageResult struct {
	Stage    string        `json:"stage"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
	Summary  any           `json:"summary,omitempty"`
}

// CycleReport is the outcome of one pipeline run
type CycleReport struct {
	CycleID   string        `json:"cycle_id"`
	StartedAt time.Time     `json:"started_at"`
	Finished  time.Time     `json:"finished_at"`
	Stages    []StageResult `json:"stages"`
}

// Validate checks that the report names a cycle and that every stage is named
func (r *CycleReport) Validate() error {
	if r.CycleID == "" {
		return ErrInvalidReport{Field: "cycle_id", Reason: "cannot be empty"}
	}
	for i, s := range r.Stages {
		if s.Stage == "" {
			return ErrInvalidStage{Index: i, Err: fmt.Errorf("name cannot be empty")}
		}
	}
	return nil
}

// Stage returns the result of the named stage
func (r *CycleReport) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Errors

type ErrInvalidReport struct {
	Field  string
	Reason string
}

func (e ErrInvalidReport) Error() string {
	return fmt.Sprintf("invalid cycle report: %s - %s", e.Field, e.Reason)
}

type ErrInvalidStage struct {
	Index int
	Err   error
}

func (e ErrInvalidStage) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid stage at index %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("invalid stage: %v", e.Err)
}
