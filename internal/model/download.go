// Package model tracks the optional local-model download as a process-wide
// state machine and exposes it over HTTP.
package model

import (
	"context"
	"log/slog"
	"sync"
)

// Status is the download state machine position.
type Status string

// Download states. A terminal state is superseded only by a fresh Start;
// status is never silently reset mid-flight.
const (
	StatusIdle        Status = "idle"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Snapshot is a read-only view of the download state at one point in time.
type Snapshot struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Puller transfers the model artifact, reporting progress along the way.
type Puller interface {
	Pull(ctx context.Context, report func(percent int, message string)) error
}

// Tracker owns the single process-wide download state. At most one download
// task runs at a time.
type Tracker struct {
	puller Puller

	mu       sync.Mutex
	status   Status
	progress int
	message  string
}

// NewTracker creates an idle tracker.
func NewTracker(p Puller) *Tracker {
	return &Tracker{puller: p, status: StatusIdle}
}

// Start begins a download unless one is already running. While a download
// is in flight it returns the current snapshot without starting a second
// task, so repeated calls are safe.
func (t *Tracker) Start() Snapshot {
	t.mu.Lock()
	if t.status == StatusDownloading {
		snap := t.snapshotLocked()
		t.mu.Unlock()
		return snap
	}

	t.status = StatusDownloading
	t.progress = 0
	t.message = "Starting download..."
	snap := t.snapshotLocked()
	t.mu.Unlock()

	slog.Info("Model download started")
	go t.run()
	return snap
}

// Progress returns a read-only snapshot of the download state. It never
// blocks on the in-flight download.
func (t *Tracker) Progress() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{Status: t.status, Progress: t.progress, Message: t.message}
}

func (t *Tracker) run() {
	err := t.puller.Pull(context.Background(), t.report)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.status = StatusFailed
		t.message = err.Error()
		slog.Warn("Model download failed", "error", err)
		return
	}
	t.status = StatusCompleted
	t.progress = 100
	t.message = "Model downloaded successfully"
	slog.Info("Model download completed")
}

// report advances progress monotonically while downloading; percent is
// clamped to [0,100] and regressions are ignored.
func (t *Tracker) report(percent int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusDownloading {
		return
	}
	if percent > 100 {
		percent = 100
	}
	if percent > t.progress {
		t.progress = percent
	}
	if message != "" {
		t.message = message
	}
}
