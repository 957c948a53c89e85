// Package types holds the transient values shared across skysync
// components: the engine state machine states, transfer direction, and the
// live progress snapshot pushed to observers. Persisted entities live in
// internal/store.
package types

import (
	"fmt"
	"time"
)

// SyncStatus is the orchestrator state machine state.
type SyncStatus int

const (
	StatusIdle SyncStatus = iota
	StatusQueued
	StatusInitialDeltaSync
	StatusIncrementalDeltaSync
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusPaused
)

func (s SyncStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusQueued:
		return "queued"
	case StatusInitialDeltaSync:
		return "initial_delta_sync"
	case StatusIncrementalDeltaSync:
		return "incremental_delta_sync"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusPaused:
		return "paused"
	default:
		return fmt.Sprintf("SyncStatus(%d)", int(s))
	}
}

// Terminal reports whether the state ends a run.
func (s SyncStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPaused
}

// Direction records which way the last transfer for an item went.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionUpload
	DirectionDownload
)

func (d Direction) String() string {
	switch d {
	case DirectionUpload:
		return "upload"
	case DirectionDownload:
		return "download"
	default:
		return "none"
	}
}

// SyncState is the immutable progress snapshot broadcast to observers
// during a run. It is rebuilt for every run and never persisted.
type SyncState struct {
	AccountID         string
	Status            SyncStatus
	TotalItems        int
	CompletedItems    int
	FailedItems       int
	TotalBytes        int64
	CompletedBytes    int64
	UploadsInFlight   int
	DownloadsInFlight int
	ConflictsFound    int
	BytesPerSecond    float64
	ETA               time.Duration
	CurrentActivity   string
	StartedAt         time.Time
	UpdatedAt         time.Time
}

// PercentComplete returns overall progress in [0, 100].
func (s SyncState) PercentComplete() float64 {
	if s.TotalItems == 0 {
		return 0
	}
	return float64(s.CompletedItems+s.FailedItems) / float64(s.TotalItems) * 100
}
