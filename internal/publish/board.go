// Package publish holds the latest scan snapshot and serves it to the
// dashboard.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"panelwatch/internal/components/assert"
	"panelwatch/internal/components/chrono"
	"panelwatch/internal/components/telemetry"
	"panelwatch/internal/store"
	"panelwatch/internal/withdrawal"

	"github.com/shopspring/decimal"
)

const (
	report_board_publish = "board.publish"
	report_board_restore = "board.restore"
)

// Tag is the operator-facing state of the scanner.
type Tag string

const (
	TagStarting      Tag = "starting"
	TagAwaitingLogin Tag = "awaiting_login"
	TagScanning      Tag = "scanning"
	TagDegraded      Tag = "degraded"
	TagStopped       Tag = "stopped"
	TagError         Tag = "error"
)

const maxRecentErrors = 10

// Snapshot is what readers of the board see. A snapshot is never modified
// once it is on the board.
type Snapshot struct {
	Tag                 Tag                    `json:"tag"`
	Message             string                 `json:"message,omitempty"`
	Phase               string                 `json:"phase"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
	Result              *withdrawal.ScanResult `json:"result,omitempty"`
	LastScan            time.Time              `json:"last_scan"`
	ScanCount           int                    `json:"scan_count"`
	UpdatedAt           time.Time              `json:"updated_at"`
	Errors              []string               `json:"errors"`
}

// BucketSummary is the count and sum of one status.
type BucketSummary struct {
	Status        withdrawal.Status `json:"status"`
	Count         int               `json:"count"`
	Visible       int               `json:"visible"`
	Total         decimal.Decimal   `json:"total"`
	Failed        bool              `json:"failed,omitempty"`
	CountMismatch bool              `json:"count_mismatch,omitempty"`
}

// Summaries returns one summary per status, zero valued before the first
// scan.
func (s Snapshot) Summaries() []BucketSummary {
	out := make([]BucketSummary, len(withdrawal.Statuses))
	for i, status := range withdrawal.Statuses {
		out[i] = BucketSummary{Status: status, Total: decimal.Zero}
		if s.Result == nil {
			continue
		}
		b, ok := s.Result.Bucket(status)
		if !ok {
			continue
		}
		out[i] = BucketSummary{
			Status:        status,
			Count:         b.DeclaredCount,
			Visible:       len(b.Records),
			Total:         b.SumAmount,
			Failed:        b.Failed,
			CountMismatch: b.CountMismatch,
		}
	}
	return out
}

// Board is a single-writer, many-reader holder of the current snapshot.
// Every write replaces the snapshot wholesale.
type Board struct {
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex

	clock   chrono.API
	tel     telemetry.API
	persist store.SnapshotStore
}

// NewBoard creates a board, persist may be nil in which case snapshots are
// only kept in memory.
func NewBoard(clock chrono.API, tel telemetry.API, persist store.SnapshotStore) *Board {
	assert.NotNil(clock)
	assert.NotNil(tel)

	b := &Board{
		clock:   clock,
		tel:     telemetry.NewScopedAPI("board", tel),
		persist: persist,
	}
	b.current.Store(&Snapshot{
		Tag:       TagStarting,
		Phase:     string(TagStarting),
		UpdatedAt: clock.Now(),
		Errors:    []string{},
	})
	return b
}

// Current returns the latest snapshot.
func (b *Board) Current() Snapshot {
	return *b.current.Load()
}

// update copies the current snapshot, applies fn to the copy and swaps it in.
func (b *Board) update(fn func(next *Snapshot)) Snapshot {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	next := *b.current.Load()
	next.Errors = append([]string(nil), next.Errors...)
	fn(&next)
	next.UpdatedAt = b.clock.Now()
	b.current.Store(&next)
	return next
}

func appendError(errs []string, msg string) []string {
	errs = append(errs, msg)
	if len(errs) > maxRecentErrors {
		errs = errs[len(errs)-maxRecentErrors:]
	}
	return errs
}

// Publish records a new tag and message, along with result when it is not
// nil. The snapshot is persisted when the board has a store.
func (b *Board) Publish(ctx context.Context, result *withdrawal.ScanResult, tag Tag, message string) {
	snapshot := b.update(func(next *Snapshot) {
		next.Tag = tag
		next.Message = message
		if result != nil {
			next.Result = result
			next.LastScan = result.FinishedAt
			next.ScanCount++
			for _, bucket := range result.Buckets {
				if bucket.Failed {
					next.Errors = appendError(next.Errors, fmt.Sprintf("%s: %s", bucket.Status, bucket.Error))
				}
			}
		}
		if tag == TagError && message != "" {
			next.Errors = appendError(next.Errors, message)
		}
	})

	if b.persist == nil {
		return
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		b.tel.ReportBroken(report_board_publish, err)
		return
	}
	err = b.persist.SaveSnapshot(ctx, encoded)
	if err != nil {
		b.tel.ReportWarning(report_board_publish, err)
	}
}

// SetPhase records the orchestrator phase without touching the result.
func (b *Board) SetPhase(phase string, failures int) {
	b.update(func(next *Snapshot) {
		next.Phase = phase
		next.ConsecutiveFailures = failures
	})
}

// Restore loads the last persisted snapshot so the dashboard has data
// before the first scan completes. The restored tag is always starting.
func (b *Board) Restore(ctx context.Context) error {
	if b.persist == nil {
		return nil
	}
	raw, err := b.persist.LoadSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	var saved Snapshot
	err = json.Unmarshal(raw, &saved)
	if err != nil {
		b.tel.ReportWarning(report_board_restore, err)
		return nil
	}

	b.update(func(next *Snapshot) {
		next.Result = saved.Result
		next.LastScan = saved.LastScan
		next.ScanCount = saved.ScanCount
		if saved.Errors != nil {
			next.Errors = saved.Errors
		}
	})
	return nil
}
