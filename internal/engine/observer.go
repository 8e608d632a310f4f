package engine

import (
	"sync"
	"time"

	"github.com/JonMunkholm/tabclean/internal/rules"
)

// EventType identifies what an Event reports.
type EventType string

const (
	EventApplied EventType = "applied"
	EventSkipped EventType = "skipped"
	EventFailed  EventType = "failed"
	EventAction  EventType = "action"
)

// Event is delivered to an Observer for every rule outcome and every logged
// cleaning action.
type Event struct {
	Type       EventType       `json:"type"`
	RunID      string          `json:"runId"`
	Index      int             `json:"index"`
	RuleID     string          `json:"ruleId"`
	RuleName   string          `json:"ruleName,omitempty"`
	Operation  rules.Operation `json:"operation"`
	Message    string          `json:"message,omitempty"`
	RowsBefore int             `json:"rowsBefore"`
	RowsAfter  int             `json:"rowsAfter"`
	Duration   time.Duration   `json:"duration"`
	Time       time.Time       `json:"time"`
}

// Observer receives pass events. Implementations must be safe for use by
// concurrent passes when the executor is shared.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Recorder is an Observer that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Actions returns the messages of the recorded action events.
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type == EventAction {
			out = append(out, e.Message)
		}
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// observers fans events out to several observers.
type observers []Observer

func (o observers) Observe(e Event) {
	for _, obs := range o {
		obs.Observe(e)
	}
}
