package web

// handlers_common.go holds request parsing and response helpers shared by
// the handlers.

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/spf13/cast"

	"github.com/JonMunkholm/tabclean/internal/rules"
)

// maxJSONBody bounds JSON request bodies (rule lists and parameter bags).
const maxJSONBody = 4 << 20

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseBoolParam accepts true/false, 1/0 and similar spellings.
func parseBoolParam(r *http.Request, name string) bool {
	b, err := cast.ToBoolE(strings.TrimSpace(r.URL.Query().Get(name)))
	return err == nil && b
}

// parseRuleFormat reads the rule file format from ?format=, falling back to
// the request Content-Type.
func parseRuleFormat(r *http.Request) (rules.FileFormat, error) {
	f := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if f == "" {
		ct := r.Header.Get("Content-Type")
		if strings.Contains(ct, "yaml") {
			return rules.FileYAML, nil
		}
		return rules.FileJSON, nil
	}
	switch f {
	case "json":
		return rules.FileJSON, nil
	case "yaml", "yml":
		return rules.FileYAML, nil
	default:
		return "", fmt.Errorf("unsupported rule file format %q", f)
	}
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

func chiParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func ruleID(r *http.Request) string {
	return chi.URLParam(r, "ruleID")
}

// decodeJSON decodes a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: request body: %v", rules.ErrInvalidParams, err)
	}
	return nil
}

// writeJSON renders v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// attachment sets the headers for a file download.
func attachment(w http.ResponseWriter, name, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}
