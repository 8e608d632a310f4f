package web

import (
	"bytes"
	"net/http"
	"time"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/engine"
	"github.com/JonMunkholm/tabclean/internal/logging"
)

// CleanResponse summarizes a cleaning pass.
type CleanResponse struct {
	RunID       string              `json:"runId"`
	Applied     int                 `json:"applied"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	Disabled    int                 `json:"disabled"`
	Headers     []string            `json:"headers"`
	RowCount    int                 `json:"rowCount"`
	Diagnostics []engine.Diagnostic `json:"diagnostics"`
	Duration    string              `json:"duration"`
}

func toCleanResponse(res *engine.Result) CleanResponse {
	diags := res.Diagnostics
	if diags == nil {
		diags = []engine.Diagnostic{}
	}
	return CleanResponse{
		RunID:       res.RunID,
		Applied:     res.Applied,
		Skipped:     res.Skipped,
		Failed:      res.Failed,
		Disabled:    res.Disabled,
		Headers:     res.Dataset.Headers,
		RowCount:    len(res.Dataset.Rows),
		Diagnostics: diags,
		Duration:    res.Duration.Round(time.Microsecond).String(),
	}
}

// handleClean runs the session's rules over the original dataset.
func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	res, err := s.service.Clean(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("cleaning pass finished",
		"session_id", id,
		"run_id", res.RunID,
		"applied", res.Applied,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	w.Header().Set("X-Run-ID", res.RunID)
	writeJSON(w, r, http.StatusOK, toCleanResponse(res))
}

// handlePreview returns ?page= (1-based) of the original and cleaned rows.
// With ?clean=true the rules run first when they changed.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.Preview(r.Context(), sessionID(r), parseIntParam(r, "page", 1), parseBoolParam(r, "clean"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// handleExport downloads the cleaned dataset as ?format=csv|json|tde.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := dataset.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	file, err := s.service.Export(r.Context(), sessionID(r), format)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Encode fully before writing so an encoding error can still be reported.
	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		s.fail(w, r, err)
		return
	}
	attachment(w, file.Name, file.ContentType)
	_, _ = buf.WriteTo(w)
}

// handleHistory returns up to ?limit= recent runs (default 50).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.History(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Run(r.Context(), chiParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}
