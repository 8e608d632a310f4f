package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/tabclean/internal/engine"
)

// ErrRunNotFound is returned by History.Get for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the stored summary of one cleaning pass.
type RunRecord struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"sessionId"`
	SourceName  string              `json:"sourceName"`
	RuleCount   int                 `json:"ruleCount"`
	Applied     int                 `json:"applied"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	Disabled    int                 `json:"disabled"`
	RowsIn      int                 `json:"rowsIn"`
	RowsOut     int                 `json:"rowsOut"`
	Diagnostics []engine.Diagnostic `json:"diagnostics"`
	Events      []engine.Event      `json:"events"`
	Client      Client              `json:"client"`
	StartedAt   time.Time           `json:"startedAt"`
	Duration    time.Duration       `json:"duration"`
}

// newRunRecord summarizes a pass result.
func newRunRecord(sessionID string, ruleCount, rowsIn int, res *engine.Result, events []engine.Event, client Client) RunRecord {
	return RunRecord{
		ID:          res.RunID,
		SessionID:   sessionID,
		SourceName:  res.Dataset.Metadata.SourceName,
		RuleCount:   ruleCount,
		Applied:     res.Applied,
		Skipped:     res.Skipped,
		Failed:      res.Failed,
		Disabled:    res.Disabled,
		RowsIn:      rowsIn,
		RowsOut:     len(res.Dataset.Rows),
		Diagnostics: res.Diagnostics,
		Events:      events,
		Client:      client,
		StartedAt:   res.StartedAt,
		Duration:    res.Duration,
	}
}

// History stores cleaning runs.
type History interface {
	Record(ctx context.Context, run RunRecord) error
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
	Get(ctx context.Context, id string) (RunRecord, error)
	// Prune removes runs started before cutoff and returns how many it removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryHistory keeps the most recent runs in memory. It is used when no
// database is configured.
type MemoryHistory struct {
	mu    sync.RWMutex
	runs  []RunRecord
	limit int
}

// NewMemoryHistory creates a store holding at most limit runs. A limit of
// zero or less keeps every run.
func NewMemoryHistory(limit int) *MemoryHistory {
	return &MemoryHistory{limit: limit}
}

func (h *MemoryHistory) Record(_ context.Context, run RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("record run: missing id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append(h.runs, run)
	if h.limit > 0 && len(h.runs) > h.limit {
		h.runs = append([]RunRecord(nil), h.runs[len(h.runs)-h.limit:]...)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (h *MemoryHistory) Recent(_ context.Context, limit int) ([]RunRecord, error) {
	h.mu.RLock()
	out := make([]RunRecord, len(h.runs))
	copy(out, h.runs)
	h.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *MemoryHistory) Get(_ context.Context, id string) (RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.runs) - 1; i >= 0; i-- {
		if h.runs[i].ID == id {
			return h.runs[i], nil
		}
	}
	return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

func (h *MemoryHistory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.runs[:0]
	var removed int64
	for _, r := range h.runs {
		if r.StartedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	h.runs = kept
	return removed, nil
}
