package web

import (
	"fmt"
	"net/http"

	"github.com/JonMunkholm/tabclean/internal/rules"
)

// handleCatalog lists the rule templates users can pick from.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Catalog().Templates())
}

func (s *Server) handleCatalogTemplate(w http.ResponseWriter, r *http.Request) {
	id := chiParam(r, "templateID")
	t, ok := s.service.Catalog().Template(id)
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: %q", rules.ErrUnknownTemplate, id))
		return
	}
	writeJSON(w, r, http.StatusOK, t)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.Rules(sessionID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

// AddRuleRequest creates a rule from a catalog template.
type AddRuleRequest struct {
	Template   string         `json:"template"`
	Field      string         `json:"field"`
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req AddRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rule, err := s.service.AddRule(sessionID(r), req.Template, req.Field, req.Parameters)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rule)
}

// handleReplaceRules replaces the whole list with a JSON rule array or a
// {"rules": [...]} document. Invalid rules are kept; the next pass reports
// and skips them.
func (s *Server) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	list, err := rules.ReadRules(r.Body, rules.FileJSON)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id := sessionID(r)
	if err := s.service.ReplaceRules(id, list); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleListRules(w, r)
}

// handleImportRules replaces the list from an uploaded JSON or YAML rule file.
func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	format, err := parseRuleFormat(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	list, err := s.service.ImportRules(sessionID(r), r.Body, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

// handleExportRules downloads the rule list as rules.json or rules.yaml.
func (s *Server) handleExportRules(w http.ResponseWriter, r *http.Request) {
	format, err := parseRuleFormat(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.service.Rules(sessionID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	contentType := "application/json"
	if format == rules.FileYAML {
		contentType = "application/yaml"
	}
	attachment(w, "rules."+string(format), contentType)
	if err := rules.WriteRules(w, list, format); err != nil {
		s.fail(w, r, err)
	}
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.service.ToggleRule(sessionID(r), ruleID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rule)
}

func (s *Server) handleSetRuleEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Enabled == nil {
		s.fail(w, r, fmt.Errorf("%w: enabled is required", rules.ErrInvalidParams))
		return
	}
	rule, err := s.service.SetRuleEnabled(sessionID(r), ruleID(r), *req.Enabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rule)
}

// handleMoveRule moves a rule to a zero-based position.
func (s *Server) handleMoveRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To *int `json:"to"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.To == nil {
		s.fail(w, r, fmt.Errorf("%w: to is required", rules.ErrInvalidParams))
		return
	}
	if err := s.service.MoveRule(sessionID(r), ruleID(r), *req.To); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleListRules(w, r)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveRule(sessionID(r), ruleID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
