// Package engine runs an ordered list of cleaning rules against a dataset.
//
// A pass filters the enabled rules, validates each one, and applies it to a
// deep copy of the current table. A rule that fails validation is skipped; a
// rule whose operation errors or panics is rolled back. Neither stops the
// pass. The input dataset and rule list are never modified, and Run never
// returns an error: every problem is reported as a Diagnostic.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/logging"
	"github.com/JonMunkholm/tabclean/internal/ops"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// Executor applies rule lists. It holds no per-pass state and is safe to
// share between goroutines once constructed.
type Executor struct {
	logger   *slog.Logger
	observer Observer
	metrics  *Metrics
	now      func() time.Time
	funcs    map[rules.Operation]ops.Func
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Without it each pass logs through the request
// logger found in its context.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithObserver adds an observer. Several observers are notified in order.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o == nil {
			return
		}
		if e.observer == nil {
			e.observer = o
			return
		}
		if list, ok := e.observer.(observers); ok {
			e.observer = append(list, o)
			return
		}
		e.observer = observers{e.observer, o}
	}
}

// WithMetrics records Prometheus metrics for every pass.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithClock replaces time.Now, for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithOperation replaces the implementation of a known operation.
func WithOperation(op rules.Operation, fn ops.Func) Option {
	return func(e *Executor) {
		if e.funcs == nil {
			e.funcs = make(map[rules.Operation]ops.Func)
		}
		e.funcs[op] = fn
	}
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// With returns a copy of e with opts applied on top of its configuration.
// The copy shares e's metrics and logger; observers are added after e's.
func (e *Executor) With(opts ...Option) *Executor {
	c := *e
	if len(e.funcs) > 0 {
		c.funcs = make(map[rules.Operation]ops.Func, len(e.funcs))
		for op, fn := range e.funcs {
			c.funcs[op] = fn
		}
	}
	if list, ok := e.observer.(observers); ok {
		c.observer = append(observers(nil), list...)
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Result is the outcome of a pass.
type Result struct {
	RunID       string
	Dataset     *dataset.Dataset
	Diagnostics []Diagnostic
	Applied     int
	Skipped     int
	Failed      int
	Disabled    int
	StartedAt   time.Time
	Duration    time.Duration
}

// HasErrors reports whether any rule was skipped or rolled back.
func (r *Result) HasErrors() bool {
	return r.Skipped > 0 || r.Failed > 0
}

// Filter returns the diagnostics of the given kinds, or all of them when no
// kind is given.
func (r *Result) Filter(kinds ...DiagnosticKind) []Diagnostic {
	if len(kinds) == 0 {
		return r.Diagnostics
	}
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		for _, k := range kinds {
			if d.Kind == k {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// pass carries the state of one Run call.
type pass struct {
	*Executor
	log    *slog.Logger
	result *Result
}

// Run applies the enabled rules of list to ds, in order.
func (e *Executor) Run(ctx context.Context, ds *dataset.Dataset, list []rules.Rule) *Result {
	p := &pass{
		Executor: e,
		result: &Result{
			RunID:     uuid.NewString(),
			StartedAt: e.now(),
		},
	}
	p.log = e.logger
	if p.log == nil {
		p.log = logging.FromContext(ctx)
	}
	p.log = p.log.With("run_id", p.result.RunID)

	if ds == nil {
		p.structural("no dataset to clean")
		p.result.Dataset = dataset.New("", nil, nil)
		p.finish(0)
		return p.result
	}
	if len(ds.Headers) == 0 {
		p.structural("dataset has no headers")
	}

	current := ops.FromDataset(ds)
	enabled := rules.EnabledRules(list)
	p.result.Disabled = len(list) - len(enabled)

	for i, r := range enabled {
		if err := ctx.Err(); err != nil {
			p.structural(fmt.Sprintf("pass cancelled before rule %d of %d: %v", i+1, len(enabled), err))
			p.result.Skipped += len(enabled) - i
			break
		}
		current = p.step(i, r, current)
	}

	p.result.Dataset = &dataset.Dataset{
		Headers:  current.Headers,
		Rows:     current.Rows,
		Metadata: ds.Metadata,
	}
	p.result.Dataset.Refresh()
	p.finish(len(ds.Rows))
	return p.result
}

// step applies one rule and returns the table the next rule sees.
func (p *pass) step(i int, r rules.Rule, current ops.Table) ops.Table {
	log := p.log.With("rule_id", r.ID, "operation", string(r.Operation))

	if !r.Operation.Known() {
		msg := fmt.Sprintf("unknown operation %q", r.Operation)
		log.Warn("skipping rule", "reason", msg)
		p.add(ruleDiagnostic(KindUnknownOperation, r, msg))
		p.result.Skipped++
		p.metrics.rule(string(r.Operation), outcomeUnknown, 0)
		p.emit(EventSkipped, i, r, msg, len(current.Rows), len(current.Rows), 0)
		return current
	}

	if err := rules.Check(r); err != nil {
		log.Warn("skipping invalid rule", "error", err)
		p.add(ruleDiagnostic(KindValidation, r, err.Error()))
		p.result.Skipped++
		p.metrics.rule(string(r.Operation), outcomeInvalid, 0)
		p.emit(EventSkipped, i, r, err.Error(), len(current.Rows), len(current.Rows), 0)
		return current
	}

	fn := p.lookup(r.Operation)
	sink := &ruleSink{}
	start := p.now()
	next, err := apply(fn, current.Clone(), r, sink)
	elapsed := p.now().Sub(start)

	if err != nil {
		log.Warn("rule failed, rolled back", "error", err)
		p.add(ruleDiagnostic(KindRuleFailed, r, err.Error()))
		p.result.Failed++
		p.metrics.rule(string(r.Operation), outcomeFailed, elapsed)
		p.emit(EventFailed, i, r, err.Error(), len(current.Rows), len(current.Rows), elapsed)
		return current
	}

	for _, w := range sink.warnings {
		p.add(ruleDiagnostic(KindWarning, r, w))
	}
	for _, a := range sink.actions {
		line := ops.FormatAction(a.format, p.now(), a.action)
		log.Info("cleaning action", "action", a.action)
		p.emit(EventAction, i, r, line, len(next.Rows), len(next.Rows), 0)
	}

	log.Debug("rule applied",
		"rows_before", len(current.Rows),
		"rows_after", len(next.Rows),
		"warnings", len(sink.warnings),
		"duration", elapsed,
	)
	p.result.Applied++
	p.metrics.rule(string(r.Operation), outcomeApplied, elapsed)
	p.emit(EventApplied, i, r, "", len(current.Rows), len(next.Rows), elapsed)
	return next
}

func (e *Executor) lookup(op rules.Operation) ops.Func {
	if fn, ok := e.funcs[op]; ok {
		return fn
	}
	fn, _ := ops.Lookup(op)
	return fn
}

// apply runs fn and turns a panic into an error.
func apply(fn ops.Func, t ops.Table, r rules.Rule, w *ruleSink) (out ops.Table, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("operation panicked: %v", rec)
		}
	}()
	return fn(t, r.Field, rules.ParamsOrDefault(r), w)
}

func (p *pass) add(d Diagnostic) {
	p.result.Diagnostics = append(p.result.Diagnostics, d)
}

func (p *pass) structural(msg string) {
	p.log.Warn("cleaning pass problem", "reason", msg)
	p.add(Diagnostic{Kind: KindStructural, Message: msg})
}

func (p *pass) emit(typ EventType, i int, r rules.Rule, msg string, before, after int, d time.Duration) {
	if p.observer == nil {
		return
	}
	p.observer.Observe(Event{
		Type:       typ,
		RunID:      p.result.RunID,
		Index:      i,
		RuleID:     r.ID,
		RuleName:   r.Name,
		Operation:  r.Operation,
		Message:    msg,
		RowsBefore: before,
		RowsAfter:  after,
		Duration:   d,
		Time:       p.now(),
	})
}

func (p *pass) finish(rowsIn int) {
	p.result.Duration = p.now().Sub(p.result.StartedAt)
	p.metrics.pass(rowsIn, len(p.result.Dataset.Rows))
	p.log.Info("cleaning pass complete",
		"applied", p.result.Applied,
		"skipped", p.result.Skipped,
		"failed", p.result.Failed,
		"rows_in", rowsIn,
		"rows_out", len(p.result.Dataset.Rows),
		"duration", p.result.Duration,
	)
}

type loggedAction struct {
	action string
	format rules.LogFormat
}

// ruleSink collects the warnings and logged actions of one rule. They are
// only reported when the rule succeeds.
type ruleSink struct {
	warnings []string
	actions  []loggedAction
}

func (s *ruleSink) Warn(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

func (s *ruleSink) LogAction(action string, format rules.LogFormat) {
	s.actions = append(s.actions, loggedAction{action: action, format: format})
}
