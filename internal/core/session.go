package core

import (
	"errors"
	"sync"
	"time"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/engine"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

var (
	// ErrSessionNotFound is returned for an unknown or expired session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when MaxSessions live sessions exist.
	ErrTooManySessions = errors.New("too many sessions open")
	// ErrRuleLimit is returned when a rule list would exceed MaxRules.
	ErrRuleLimit = errors.New("rule limit reached")
	// ErrFileTooLarge is returned when an upload exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")
	// ErrNoFile is returned when an upload has no body.
	ErrNoFile = errors.New("no file provided")
)

// session holds one uploaded dataset, its rule list and the last pass.
// mu serializes rule edits and passes on the session.
type session struct {
	mu sync.Mutex

	id       string
	original *dataset.Dataset
	rules    []rules.Rule
	result   *engine.Result
	// stale is set when the rules changed after the last pass.
	stale bool

	createdAt time.Time
	lastUsed  time.Time
}

// RunSummary describes the last pass of a session.
type RunSummary struct {
	RunID       string              `json:"runId"`
	Applied     int                 `json:"applied"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	Disabled    int                 `json:"disabled"`
	RowsOut     int                 `json:"rowsOut"`
	Diagnostics []engine.Diagnostic `json:"diagnostics"`
	StartedAt   time.Time           `json:"startedAt"`
	Duration    time.Duration       `json:"duration"`
}

func summarize(res *engine.Result) *RunSummary {
	if res == nil {
		return nil
	}
	return &RunSummary{
		RunID:       res.RunID,
		Applied:     res.Applied,
		Skipped:     res.Skipped,
		Failed:      res.Failed,
		Disabled:    res.Disabled,
		RowsOut:     len(res.Dataset.Rows),
		Diagnostics: res.Diagnostics,
		StartedAt:   res.StartedAt,
		Duration:    res.Duration,
	}
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	ID           string           `json:"id"`
	Metadata     dataset.Metadata `json:"metadata"`
	Headers      []string         `json:"headers"`
	RuleCount    int              `json:"ruleCount"`
	EnabledRules int              `json:"enabledRules"`
	Stale        bool             `json:"stale"`
	LastRun      *RunSummary      `json:"lastRun,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastUsed     time.Time        `json:"lastUsed"`
}

// info must be called with s.mu held.
func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:           s.id,
		Metadata:     s.original.Metadata,
		Headers:      dataset.CloneHeaders(s.original.Headers),
		RuleCount:    len(s.rules),
		EnabledRules: len(rules.EnabledRules(s.rules)),
		Stale:        s.stale,
		LastRun:      summarize(s.result),
		CreatedAt:    s.createdAt,
		LastUsed:     s.lastUsed,
	}
}

// setRules must be called with s.mu held.
func (s *session) setRules(list []rules.Rule, now time.Time) {
	s.rules = list
	s.stale = true
	s.lastUsed = now
}

// copyRules returns the rule list as a slice the caller may keep.
func (s *session) copyRules() []rules.Rule {
	return append([]rules.Rule(nil), s.rules...)
}
