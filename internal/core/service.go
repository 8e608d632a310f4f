package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabclean/internal/config"
	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/engine"
	"github.com/JonMunkholm/tabclean/internal/logging"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// ServiceConfig holds the limits the service enforces.
type ServiceConfig struct {
	MaxFileSize   int64
	MaxConcurrent int
	MaxWaitTime   time.Duration
	ParseTimeout  time.Duration
	PassTimeout   time.Duration
	SessionTTL    time.Duration
	MaxSessions   int
	MaxRules      int
	PreviewRows   int
	// DefaultRules seeds the rule list of every new session.
	DefaultRules []rules.Rule
}

// ServiceConfigFrom extracts the service limits from the application config.
func ServiceConfigFrom(cfg *config.Config) ServiceConfig {
	return ServiceConfig{
		MaxFileSize:   cfg.Upload.MaxFileSize,
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		MaxWaitTime:   cfg.Upload.MaxWaitTime,
		ParseTimeout:  cfg.Upload.Timeout,
		PassTimeout:   cfg.Engine.PassTimeout,
		SessionTTL:    cfg.Upload.SessionTTL,
		MaxSessions:   cfg.Upload.MaxSessions,
		MaxRules:      cfg.Engine.MaxRules,
		PreviewRows:   cfg.Upload.PreviewRows,
	}
}

func (c *ServiceConfig) applyDefaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 50 << 20
	}
	if c.ParseTimeout <= 0 {
		c.ParseTimeout = 2 * time.Minute
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = time.Minute
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 2 * time.Hour
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 100
	}
	if c.MaxRules <= 0 {
		c.MaxRules = 200
	}
	if c.PreviewRows <= 0 {
		c.PreviewRows = 50
	}
}

// Service owns the cleaning sessions: uploaded datasets, their rule lists,
// cleaning passes, previews, exports and the run history.
type Service struct {
	cfg     ServiceConfig
	catalog *rules.Catalog
	exec    *engine.Executor
	history History
	limiter *Limiter
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewService creates a Service. A nil history keeps runs in memory.
func NewService(cfg ServiceConfig, catalog *rules.Catalog, exec *engine.Executor, history History) *Service {
	cfg.applyDefaults()
	if history == nil {
		history = NewMemoryHistory(0)
	}
	if exec == nil {
		exec = engine.New()
	}
	return &Service{
		cfg:      cfg,
		catalog:  catalog,
		exec:     exec,
		history:  history,
		limiter:  NewLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Catalog returns the rule template catalog.
func (s *Service) Catalog() *rules.Catalog {
	return s.catalog
}

// PreviewRows returns the preview page size.
func (s *Service) PreviewRows() int {
	return s.cfg.PreviewRows
}

// LimiterStatus reports the upload and pass slots in use.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForPasses blocks until running uploads and passes finish, for
// graceful shutdown.
func (s *Service) WaitForPasses(ctx context.Context) error {
	return s.limiter.Drain(ctx)
}

// Upload parses a CSV or dataset JSON file and opens a session on it.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader) (SessionInfo, error) {
	if r == nil {
		return SessionInfo{}, ErrNoFile
	}
	log := logging.WithFields(ctx, "file", name)

	var ds *dataset.Dataset
	err := s.limiter.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ParseTimeout)
		defer cancel()

		data, err := io.ReadAll(io.LimitReader(dataset.ContextReader(ctx, r), s.cfg.MaxFileSize+1))
		if err != nil {
			return fmt.Errorf("read upload: %w", err)
		}
		if int64(len(data)) > s.cfg.MaxFileSize {
			return fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return fmt.Errorf("%s: %w", name, dataset.ErrNoData)
		}

		ds, err = parseUpload(ctx, name, data)
		if err != nil {
			return err
		}
		return ds.Validate()
	})
	if err != nil {
		log.Warn("upload rejected", "error", err)
		return SessionInfo{}, err
	}

	now := s.now()
	sess := &session{
		id:        uuid.NewString(),
		original:  ds,
		rules:     append([]rules.Rule(nil), s.cfg.DefaultRules...),
		stale:     true,
		createdAt: now,
		lastUsed:  now,
	}

	s.mu.Lock()
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.sweepLocked(now)
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("%w: limit is %d", ErrTooManySessions, s.cfg.MaxSessions)
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	log.Info("session opened",
		"session_id", sess.id,
		"rows", ds.Metadata.RowCount,
		"columns", ds.Metadata.ColumnCount,
	)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.info(), nil
}

func parseUpload(ctx context.Context, name string, data []byte) (*dataset.Dataset, error) {
	if strings.EqualFold(filepath.Ext(name), ".json") {
		return dataset.ParseJSONContext(ctx, bytes.NewReader(data), name)
	}
	return dataset.ParseContext(ctx, bytes.NewReader(data), name)
}

// get returns a live session and marks it used.
func (s *Service) get(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// withSession runs fn with the session locked.
func (s *Service) withSession(id string, fn func(*session) error) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastUsed = s.now()
	return fn(sess)
}

// Session returns a snapshot of the session.
func (s *Service) Session(id string) (SessionInfo, error) {
	var info SessionInfo
	err := s.withSession(id, func(sess *session) error {
		info = sess.info()
		return nil
	})
	return info, err
}

// Sessions lists live sessions, most recently used first.
func (s *Service) Sessions() []SessionInfo {
	s.mu.RLock()
	list := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.RUnlock()

	out := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		sess.mu.Lock()
		out = append(out, sess.info())
		sess.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out
}

// CloseSession discards a session.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// SweepSessions closes sessions idle for longer than the session TTL and
// returns how many it closed.
func (s *Service) SweepSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *Service) sweepLocked(now time.Time) int {
	removed := 0
	for id, sess := range s.sessions {
		// TryLock skips sessions in the middle of a pass; they are in use.
		if !sess.mu.TryLock() {
			continue
		}
		expired := now.Sub(sess.lastUsed) > s.cfg.SessionTTL
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Clean runs the session's rule list against its original dataset and keeps
// the result for preview and export. Rule problems are reported in the
// result; an error means the pass could not run at all.
func (s *Service) Clean(ctx context.Context, id string) (*engine.Result, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}

	var res *engine.Result
	err = s.limiter.Do(ctx, func(ctx context.Context) error {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		res = s.cleanLocked(ctx, sess)
		return nil
	})
	return res, err
}

// cleanLocked must be called with sess.mu held.
func (s *Service) cleanLocked(ctx context.Context, sess *session) *engine.Result {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PassTimeout)
	defer cancel()

	list := sess.copyRules()
	rec := &engine.Recorder{}
	res := s.exec.With(engine.WithObserver(rec)).Run(ctx, sess.original, list)

	sess.result = res
	sess.stale = false
	sess.lastUsed = s.now()

	run := newRunRecord(sess.id, len(list), len(sess.original.Rows), res, rec.Events(), ClientFromContext(ctx))
	s.record(ctx, run)
	return res
}

// record stores a run. History failures are logged and never fail the pass.
func (s *Service) record(ctx context.Context, run RunRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, run); err != nil {
		logging.FromContext(ctx).Error("failed to record cleaning run",
			"run_id", run.ID,
			"session_id", run.SessionID,
			"error", err,
		)
	}
}

// cleaned returns the session's current result, running a pass first when
// there is none or the rules changed since.
func (s *Service) cleaned(ctx context.Context, id string) (*engine.Result, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.result != nil && !sess.stale {
		res := sess.result
		sess.lastUsed = s.now()
		sess.mu.Unlock()
		return res, nil
	}
	sess.mu.Unlock()

	return s.Clean(ctx, id)
}

// ExportFile is a cleaned dataset ready to be written.
type ExportFile struct {
	Name        string
	ContentType string
	Format      dataset.ExportFormat
	Dataset     *dataset.Dataset
}

// Write encodes the dataset to w.
func (f *ExportFile) Write(w io.Writer) error {
	return dataset.Export(w, f.Dataset, f.Format)
}

// Export prepares the cleaned dataset of a session in the given format,
// cleaning it first if needed.
func (s *Service) Export(ctx context.Context, id string, format dataset.ExportFormat) (*ExportFile, error) {
	res, err := s.cleaned(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ExportFile{
		Name:        format.FileName(res.Dataset.Metadata.SourceName, s.now()),
		ContentType: format.ContentType(),
		Format:      format,
		Dataset:     res.Dataset,
	}, nil
}

// History returns up to limit recent runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]RunRecord, error) {
	return s.history.Recent(ctx, limit)
}

// Run returns one recorded run.
func (s *Service) Run(ctx context.Context, runID string) (RunRecord, error) {
	return s.history.Get(ctx, runID)
}
