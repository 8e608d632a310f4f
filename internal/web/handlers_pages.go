package web

import (
	"net/http"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/tabclean/internal/web/templates"
)

// renderPage buffers the component and answers 500 if rendering fails.
func renderPage(w http.ResponseWriter, r *http.Request, c templ.Component) {
	templ.Handler(c).ServeHTTP(w, r)
}

// handleDashboard renders the upload form and open sessions.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	renderPage(w, r, templates.Dashboard(templates.DashboardData{
		Sessions:    s.service.Sessions(),
		MaxFileSize: s.cfg.Upload.MaxFileSize,
		Limiter:     s.service.LimiterStatus(),
	}))
}

// handleSessionPage renders a session's rules and first preview page.
func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	info, err := s.service.Session(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.service.Rules(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	preview, err := s.service.Preview(r.Context(), id, 1, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	renderPage(w, r, templates.SessionPage(templates.SessionData{
		Info:      info,
		Rules:     list,
		Templates: s.service.Catalog().Templates(),
		Preview:   preview,
	}))
}

// handlePreviewPartial renders the preview panel alone for the page script.
func (s *Server) handlePreviewPartial(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.Preview(r.Context(), sessionID(r), parseIntParam(r, "page", 1), parseBoolParam(r, "clean"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	renderPage(w, r, templates.PreviewPanel(p))
}

// handleHistoryPage lists recent cleaning runs.
func (s *Server) handleHistoryPage(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.History(r.Context(), parseIntParam(r, "limit", 100))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	renderPage(w, r, templates.HistoryPage(runs))
}
