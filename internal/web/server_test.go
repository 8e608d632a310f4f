package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabclean/internal/config"
	"github.com/JonMunkholm/tabclean/internal/core"
	"github.com/JonMunkholm/tabclean/internal/engine"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

const peopleCSV = "Age,Name\n30, Bob \n,Amy\n30, Bob \n"

type testServer struct {
	t   *testing.T
	srv *Server
}

func newTestServer(t *testing.T, env map[string]string) *testServer {
	t.Helper()
	vars := map[string]string{"RATE_LIMIT_ENABLED": "false"}
	for k, v := range env {
		vars[k] = v
	}
	cfg, err := config.LoadFrom(config.MapLookup(vars))
	require.NoError(t, err)

	catalog, err := rules.DefaultCatalog()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics, err := engine.NewMetrics(reg)
	require.NoError(t, err)
	exec := engine.New(
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithMetrics(metrics),
	)

	service := core.NewService(core.ServiceConfigFrom(cfg), catalog, exec, core.NewMemoryHistory(10))
	srv, err := NewServer(service, cfg, WithGatherer(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testServer{t: t, srv: srv}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) request(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.do(req)
}

func multipartUpload(t *testing.T, field, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (ts *testServer) upload(name, content string) core.SessionInfo {
	ts.t.Helper()
	rec := ts.do(multipartUpload(ts.t, "file", name, content))
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())

	var info core.SessionInfo
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &info))
	return info
}

func (ts *testServer) addRule(id, template, field string) rules.Rule {
	ts.t.Helper()
	body := fmt.Sprintf(`{"template":%q,"field":%q}`, template, field)
	rec := ts.request(http.MethodPost, "/api/sessions/"+id+"/rules", body)
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())

	var raw struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &raw))
	return rules.Rule{ID: raw.ID, Enabled: raw.Enabled}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestUploadCleanExport(t *testing.T) {
	ts := newTestServer(t, nil)

	info := ts.upload("people.csv", peopleCSV)
	assert.Equal(t, []string{"Age", "Name"}, info.Headers)
	assert.Equal(t, 3, info.Metadata.RowCount)

	ts.addRule(info.ID, "trimWhitespace", "Name")
	ts.addRule(info.ID, "removeNulls", "Age")
	ts.addRule(info.ID, "removeDuplicates", "")

	rec := ts.request(http.MethodPost, "/api/sessions/"+info.ID+"/clean", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res CleanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, res.RunID, rec.Header().Get("X-Run-ID"))

	rec = ts.request(http.MethodGet, "/api/sessions/"+info.ID+"/export?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "people_cleaned_")
	assert.Equal(t, "Age,Name\n30,Bob\n", rec.Body.String())

	rec = ts.request(http.MethodGet, "/api/sessions/"+info.ID+"/export?format=tde", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.tableau.extract", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".tde")

	rec = ts.request(http.MethodGet, "/api/sessions/"+info.ID+"/export?format=xlsx", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FILE006", decodeError(t, rec).Code)
}

func TestUpload_RawBody(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions?name=raw.csv", strings.NewReader(peopleCSV))
	req.Header.Set("Content-Type", "text/csv")
	rec := ts.do(req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/api/sessions/"))
	assert.Contains(t, rec.Body.String(), `"sourceName":"raw.csv"`)
}

func TestUpload_Errors(t *testing.T) {
	ts := newTestServer(t, map[string]string{"UPLOAD_MAX_FILE_SIZE": "1024"})

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantErr  string
	}{
		{"no file field", multipartUpload(t, "", "", ""), http.StatusBadRequest, "FILE004"},
		{"header only", multipartUpload(t, "file", "a.csv", "a,b\n"), http.StatusBadRequest, "FILE005"},
		{"invalid json", multipartUpload(t, "file", "a.json", "{"), http.StatusBadRequest, "FILE002"},
		{"too large", multipartUpload(t, "file", "a.csv", "a\n"+strings.Repeat("x\n", 2048)), http.StatusRequestEntityTooLarge, "FILE001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.req)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Code)
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	info := ts.upload("people.csv", peopleCSV)

	rec := ts.request(http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []core.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)

	rec = ts.request(http.MethodGet, "/api/sessions/"+info.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(http.MethodDelete, "/api/sessions/"+info.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(http.MethodGet, "/api/sessions/"+info.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SES001", decodeError(t, rec).Code)
}

func TestRuleEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	info := ts.upload("people.csv", peopleCSV)
	base := "/api/sessions/" + info.ID

	trim := ts.addRule(info.ID, "trimWhitespace", "Name")
	nulls := ts.addRule(info.ID, "removeNulls", "Age")
	assert.True(t, trim.Enabled)

	t.Run("toggle", func(t *testing.T) {
		rec := ts.request(http.MethodPost, base+"/rules/"+trim.ID+"/toggle", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"enabled":false`)

		rec = ts.request(http.MethodPut, base+"/rules/"+trim.ID+"/enabled", `{"enabled":true}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"enabled":true`)

		rec = ts.request(http.MethodPut, base+"/rules/"+trim.ID+"/enabled", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "RULE001", decodeError(t, rec).Code)
	})

	t.Run("move", func(t *testing.T) {
		rec := ts.request(http.MethodPost, base+"/rules/"+nulls.ID+"/move", `{"to":0}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var ids []struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
		require.Len(t, ids, 2)
		assert.Equal(t, nulls.ID, ids[0].ID)
		assert.Equal(t, trim.ID, ids[1].ID)
	})

	t.Run("add errors", func(t *testing.T) {
		rec := ts.request(http.MethodPost, base+"/rules", `{"template":"nope","field":"Name"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "RULE003", decodeError(t, rec).Code)

		rec = ts.request(http.MethodPost, base+"/rules", `{"template":"trimWhitespace","field":"Missing"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "RULE001", decodeError(t, rec).Code)

		rec = ts.request(http.MethodPost, base+"/rules", `{"template":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("export yaml", func(t *testing.T) {
		rec := ts.request(http.MethodGet, base+"/rules/export?format=yaml", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "rules.yaml")
		assert.Contains(t, rec.Body.String(), "rules:")
		assert.Contains(t, rec.Body.String(), trim.ID)

		rec = ts.request(http.MethodGet, base+"/rules/export?format=xml", "")
		assert.Equal(t, "FILE006", decodeError(t, rec).Code)
	})

	t.Run("import yaml", func(t *testing.T) {
		doc := "rules:\n  - operation: trim\n    field: Name\n  - operation: remove_nulls\n    field: Age\n    enabled: false\n"
		req := httptest.NewRequest(http.MethodPost, base+"/rules/import?format=yaml", strings.NewReader(doc))
		rec := ts.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"operation":"remove_nulls"`)
		assert.Contains(t, rec.Body.String(), `"enabled":false`)

		req = httptest.NewRequest(http.MethodPost, base+"/rules/import?format=yaml", strings.NewReader("rules: [: bad"))
		rec = ts.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "RULE006", decodeError(t, rec).Code)
	})

	t.Run("replace and remove", func(t *testing.T) {
		rec := ts.request(http.MethodPut, base+"/rules", `[{"id":"r1","operation":"trim","field":"Name"},{"operation":"bogus"}]`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var list []struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 2)
		assert.Equal(t, "r1", list[0].ID)
		assert.NotEmpty(t, list[1].ID)

		rec = ts.request(http.MethodDelete, base+"/rules/r1", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.request(http.MethodDelete, base+"/rules/r1", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "RULE004", decodeError(t, rec).Code)
	})
}

func TestPreviewAndHistory(t *testing.T) {
	ts := newTestServer(t, map[string]string{"PREVIEW_ROWS": "2"})
	info := ts.upload("people.csv", peopleCSV)
	ts.addRule(info.ID, "trimWhitespace", "Name")

	rec := ts.request(http.MethodGet, "/api/sessions/"+info.ID+"/preview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p core.Preview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Nil(t, p.Cleaned)
	assert.Equal(t, 2, p.TotalPages)
	assert.Equal(t, 1, p.Original.NullCounts["Age"])

	rec = ts.request(http.MethodGet, "/api/sessions/"+info.ID+"/preview?clean=true&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.NotNil(t, p.Cleaned)
	assert.Equal(t, 2, p.Page)
	require.Len(t, p.Cleaned.Rows, 1)
	assert.Equal(t, "Bob", p.Cleaned.Rows[0]["Name"])
	require.NotNil(t, p.LastRun)

	rec = ts.request(http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []core.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, p.LastRun.RunID, runs[0].ID)
	assert.Equal(t, "192.0.2.1", runs[0].Client.IP)

	rec = ts.request(http.MethodGet, "/api/history/"+runs[0].ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(http.MethodGet, "/api/history/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DB008", decodeError(t, rec).Code)
}

func TestPages(t *testing.T) {
	ts := newTestServer(t, nil)
	info := ts.upload("people<1>.csv", peopleCSV)
	ts.addRule(info.ID, "trimWhitespace", "Name")

	rec := ts.request(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "people&lt;1&gt;.csv")
	assert.NotContains(t, rec.Body.String(), "people<1>.csv")

	rec = ts.request(http.MethodGet, "/session/"+info.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-session="`+info.ID+`"`)
	assert.Contains(t, body, "Trim Whitespace on Name")
	assert.Contains(t, body, "Run cleaning pass")

	req := httptest.NewRequest(http.MethodGet, "/session/"+info.ID+"/preview?clean=true", nil)
	req.Header.Set("HX-Request", "true")
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cleaned")
	assert.Contains(t, rec.Body.String(), "Last pass: 1 applied")

	rec = ts.request(http.MethodGet, "/session/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SES001")
	assert.Contains(t, rec.Body.String(), "<!DOCTYPE html>")

	req = httptest.NewRequest(http.MethodGet, "/session/missing/preview", nil)
	req.Header.Set("HX-Request", "true")
	rec = ts.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `class="alert alert-error"`)
	assert.NotContains(t, rec.Body.String(), "<!DOCTYPE html>")

	rec = ts.request(http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "people&lt;1&gt;.csv")
	assert.Contains(t, rec.Body.String(), "192.0.2.1")

	rec = ts.request(http.MethodGet, "/static/app.css", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCatalogStatusAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(http.MethodGet, "/api/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var templates []rules.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &templates))
	assert.NotEmpty(t, templates)

	rec = ts.request(http.MethodGet, "/api/catalog/trimWhitespace", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.request(http.MethodGet, "/api/catalog/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.request(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, len(templates), status.Templates)
	assert.Equal(t, 4, status.Limiter.MaxConcurrent)

	info := ts.upload("people.csv", peopleCSV)
	ts.addRule(info.ID, "trimWhitespace", "Name")
	rec = ts.request(http.MethodPost, "/api/sessions/"+info.ID+"/clean", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tabclean_passes_total 1")
	assert.Contains(t, rec.Body.String(), `tabclean_rule_applications_total{operation="trim",outcome="applied"} 1`)

	rec = ts.request(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, contentSecurityPolicy, rec.Header().Get("Content-Security-Policy"))
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, map[string]string{"REQUIRE_API_KEY": "true", "API_KEYS": "secret"})

	rec := ts.request(http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)

	// Pages stay public.
	assert.Equal(t, http.StatusOK, ts.request(http.MethodGet, "/", "").Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"RATE_LIMIT_ENABLED": "true",
		"RATE_LIMIT_UPLOAD":  "1",
	})

	ts.upload("a.csv", peopleCSV)

	rec := ts.do(multipartUpload(t, "file", "b.csv", peopleCSV))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)

	// Other endpoints use the general limit.
	assert.Equal(t, http.StatusOK, ts.request(http.MethodGet, "/api/sessions", "").Code)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, map[string]string{"CORS_ALLOWED_ORIGINS": "https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := ts.do(req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", rules.ErrRuleNotFound), http.StatusNotFound},
		{core.ErrRunNotFound, http.StatusNotFound},
		{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{core.ErrTooManyPasses, http.StatusServiceUnavailable},
		{core.ErrTooManySessions, http.StatusServiceUnavailable},
		{core.ErrRuleLimit, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{rules.ErrInvalidParams, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
