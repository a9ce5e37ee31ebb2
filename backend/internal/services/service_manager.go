package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"edukg/backend/internal/constants"
	"edukg/backend/internal/state"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress
	ErrAlreadyRunning = errors.New("sync already running")
	// ErrStopped is returned by Start once StopAll has begun
	ErrStopped = errors.New("sync manager stopped")
)

// Runner executes one pipeline cycle, reporting progress as it goes
type Runner interface {
	Run(ctx context.Context, progress func(stage string, percent int)) (*state.CycleReport, error)
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, progress func(stage string, percent int)) (*state.CycleReport, error)

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, progress func(stage string, percent int)) (*state.CycleReport, error) {
	return f(ctx, progress)
}

// SyncManager runs the pipeline in the background, one run at a time, and
// optionally on a fixed interval.
type SyncManager struct {
	logger *zap.Logger
	runner Runner

	mu         sync.Mutex
	status     state.SyncStatus
	lastReport *state.CycleReport
	runCancel  context.CancelFunc
	autoCancel context.CancelFunc
	stopped    bool
	wg         sync.WaitGroup
}

// NewSyncManager creates a sync manager
func NewSyncManager(logger *zap.Logger, runner Runner) *SyncManager {
	return &SyncManager{
		logger: logger,
		runner: runner,
		status: state.SyncStatus{Progress: constants.ProgressIdle},
	}
}

// Start launches a run in the background
func (sm *SyncManager) Start() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.stopped {
		return ErrStopped
	}
	if sm.status.Running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	sm.runCancel = cancel
	sm.status = state.SyncStatus{
		Running:  true,
		Progress: constants.StageMastery,
		LastSync: sm.status.LastSync,
	}

	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		defer cancel()
		sm.run(ctx)
	}()

	sm.logger.Info("Sync started")
	return nil
}

func (sm *SyncManager) run(ctx context.Context) {
	report, err := sm.runner.Run(ctx, func(stage string, percent int) {
		sm.mu.Lock()
		sm.status.Progress = stage
		sm.status.Percent = percent
		sm.mu.Unlock()
	})

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.status.Running = false
	sm.runCancel = nil
	if report != nil {
		sm.status.CycleID = report.CycleID
	}
	if err != nil {
		sm.status.Progress = constants.ProgressFailed
		sm.status.Percent = constants.PercentFailed
		sm.status.Error = err.Error()
		// Only log if it's not a normal stop
		if ctx.Err() == nil {
			sm.logger.Error("Sync failed", zap.Error(err))
		}
		return
	}
	sm.lastReport = report
	sm.status.Progress = constants.ProgressDone
	sm.status.Percent = constants.PercentCompleted
	sm.status.Error = ""
	sm.status.LastSync = time.Now().UTC()
	sm.logger.Info("Sync finished", zap.String("cycle", sm.status.CycleID))
}

// Status returns a snapshot of the current status
func (sm *SyncManager) Status() state.SyncStatus {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status
}

// LastReport returns the report of the last successful run
func (sm *SyncManager) LastReport() *state.CycleReport {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastReport
}

// IsRunning reports whether a run is in progress
func (sm *SyncManager) IsRunning() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status.Running
}

// StartAuto starts a run every interval; ticks that land while a run is in
// progress are skipped.
func (sm *SyncManager) StartAuto(interval time.Duration) {
	if interval <= 0 {
		return
	}
	sm.mu.Lock()
	if sm.autoCancel != nil || sm.stopped {
		sm.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sm.autoCancel = cancel
	sm.wg.Add(1)
	sm.mu.Unlock()

	go func() {
		defer sm.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sm.Start(); errors.Is(err, ErrStopped) {
					return
				} else if err != nil {
					sm.logger.Debug("Auto sync skipped", zap.Error(err))
				}
			}
		}
	}()

	sm.logger.Info("Auto sync enabled", zap.Duration("interval", interval))
}

// StopAll cancels the running sync and the auto-sync loop and waits for
// them to exit. Later Start calls return ErrStopped.
func (sm *SyncManager) StopAll() {
	sm.mu.Lock()
	sm.stopped = true
	if sm.runCancel != nil {
		sm.runCancel()
	}
	if sm.autoCancel != nil {
		sm.autoCancel()
		sm.autoCancel = nil
	}
	sm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		sm.logger.Info("Sync stopped")
	case <-time.After(5 * time.Second):
		sm.logger.Warn("Sync did not stop gracefully")
	}
}
