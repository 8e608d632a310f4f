package templates

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/tabclean/internal/core"
	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// DashboardData feeds the landing page.
type DashboardData struct {
	Sessions    []core.SessionInfo
	MaxFileSize int64
	Limiter     core.LimiterStatus
}

// SessionData feeds the session page.
type SessionData struct {
	Info      core.SessionInfo
	Rules     []rules.Rule
	Templates []rules.Template
	Preview   *core.Preview
}

const timeLayout = "2006-01-02 15:04:05"

// Dashboard lists open sessions and offers the upload form.
func Dashboard(d DashboardData) templ.Component {
	return Layout("Sessions", component(func(ctx context.Context, h *html) {
		h.raw(`<section class="card"><h1>Clean a file</h1>`)
		h.raw(`<form id="upload-form" action="/api/sessions" method="post" enctype="multipart/form-data">`)
		h.raw(`<input type="file" name="file" accept=".csv,.json,text/csv,application/json" required>`)
		h.raw(`<button type="submit">Upload</button>`)
		h.rawf(`<p class="hint">CSV with a header row, or dataset JSON. Up to %s. %d of %d slots free.</p>`,
			templ.EscapeString(byteSize(d.MaxFileSize)), d.Limiter.Available, d.Limiter.MaxConcurrent)
		h.raw(`<div id="upload-error"></div></form></section>`)

		h.raw(`<section class="card"><h2>Open sessions</h2>`)
		if len(d.Sessions) == 0 {
			h.raw(`<p class="empty">No open sessions.</p></section>`)
			return
		}
		h.raw(`<table class="grid"><thead><tr><th>File</th><th>Rows</th><th>Columns</th><th>Rules</th><th>Last pass</th><th>Last used</th></tr></thead><tbody>`)
		for _, s := range d.Sessions {
			h.raw(`<tr><td><a href="/session/`)
			h.text(s.ID)
			h.raw(`">`)
			h.text(s.Metadata.SourceName)
			h.raw(`</a></td><td>`)
			h.raw(strconv.Itoa(s.Metadata.RowCount))
			h.raw(`</td><td>`)
			h.raw(strconv.Itoa(s.Metadata.ColumnCount))
			h.rawf(`</td><td>%d / %d enabled</td><td>`, s.EnabledRules, s.RuleCount)
			if s.LastRun == nil {
				h.raw(`never`)
			} else {
				h.rawf(`%d applied, %d skipped, %d failed`, s.LastRun.Applied, s.LastRun.Skipped, s.LastRun.Failed)
				if s.Stale {
					h.raw(` <span class="badge">stale</span>`)
				}
			}
			h.raw(`</td><td>`)
			h.text(s.LastUsed.Format(timeLayout))
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table></section>`)
	}))
}

// SessionPage shows the rule list, the add-rule form and the preview.
func SessionPage(d SessionData) templ.Component {
	return Layout(d.Info.Metadata.SourceName, component(func(ctx context.Context, h *html) {
		h.raw(`<div id="session" data-session="`)
		h.text(d.Info.ID)
		h.raw(`"><section class="card"><h1>`)
		h.text(d.Info.Metadata.SourceName)
		h.rawf(`</h1><p class="hint">%d rows, %d columns, loaded `, d.Info.Metadata.RowCount, d.Info.Metadata.ColumnCount)
		h.text(d.Info.Metadata.LoadedAt.Format(timeLayout))
		h.raw(`</p><div class="actions">`)
		h.raw(`<button data-action="clean">Run cleaning pass</button>`)
		for _, f := range []dataset.ExportFormat{dataset.FormatCSV, dataset.FormatJSON, dataset.FormatTDE} {
			h.raw(`<a class="button" href="/api/sessions/`)
			h.text(d.Info.ID)
			h.raw(`/export?format=`)
			h.text(string(f))
			h.raw(`">Export `)
			h.text(string(f))
			h.raw(`</a>`)
		}
		h.raw(`<button data-action="close" class="danger">Close session</button>`)
		h.raw(`</div><div id="session-error"></div></section>`)

		h.render(ctx, RulesPanel(d.Info.ID, d.Rules))
		h.render(ctx, addRuleForm(d.Info.Headers, d.Templates))
		h.raw(`<section class="card" id="preview">`)
		if d.Preview != nil {
			h.render(ctx, PreviewPanel(d.Preview))
		}
		h.raw(`</section></div>`)
	}))
}

// RulesPanel renders the ordered rule list.
func RulesPanel(sessionID string, list []rules.Rule) templ.Component {
	return component(func(_ context.Context, h *html) {
		h.raw(`<section class="card" id="rules"><h2>Rules</h2>`)
		h.raw(`<div class="actions"><a class="button" href="/api/sessions/`)
		h.text(sessionID)
		h.raw(`/rules/export?format=json">Download JSON</a><a class="button" href="/api/sessions/`)
		h.text(sessionID)
		h.raw(`/rules/export?format=yaml">Download YAML</a>`)
		h.raw(`<label class="button">Import<input type="file" data-action="import" accept=".json,.yaml,.yml" hidden></label></div>`)
		if len(list) == 0 {
			h.raw(`<p class="empty">No rules yet. Add one below.</p></section>`)
			return
		}
		h.raw(`<ol class="rules">`)
		for i, r := range list {
			cls := "rule"
			if !r.Enabled {
				cls += " disabled"
			}
			if !rules.Validate(r) {
				cls += " invalid"
			}
			h.rawf(`<li class="%s" data-rule="`, cls)
			h.text(r.ID)
			h.raw(`"><span class="name">`)
			h.text(r.Name)
			h.raw(`</span> <code>`)
			h.text(r.Operation.String())
			h.raw(`</code>`)
			if r.Field != "" {
				h.raw(` on <code>`)
				h.text(r.Field)
				h.raw(`</code>`)
			}
			if err := rules.Check(r); err != nil {
				h.raw(` <span class="badge warn" title="`)
				h.text(err.Error())
				h.raw(`">invalid</span>`)
			}
			h.raw(`<span class="controls">`)
			if i > 0 {
				h.rawf(`<button data-action="move" data-to="%d" title="Move up">&uarr;</button>`, i-1)
			}
			if i < len(list)-1 {
				h.rawf(`<button data-action="move" data-to="%d" title="Move down">&darr;</button>`, i+1)
			}
			label := "Disable"
			if !r.Enabled {
				label = "Enable"
			}
			h.rawf(`<button data-action="toggle">%s</button>`, label)
			h.raw(`<button data-action="remove" class="danger">Remove</button></span></li>`)
		}
		h.raw(`</ol></section>`)
	})
}

func addRuleForm(headers []string, templates []rules.Template) templ.Component {
	return component(func(_ context.Context, h *html) {
		h.raw(`<section class="card"><h2>Add rule</h2><form id="rule-form">`)
		h.raw(`<label>Template <select name="template" required>`)
		for _, t := range templates {
			defaults, _ := json.Marshal(t.Defaults())
			h.raw(`<option value="`)
			h.text(t.ID)
			h.raw(`" data-defaults="`)
			h.text(string(defaults))
			h.raw(`" title="`)
			h.text(t.Description)
			h.raw(`">`)
			h.text(t.Name)
			h.raw(`</option>`)
		}
		h.raw(`</select></label><label>Column <select name="field"><option value="">(none)</option>`)
		for _, c := range headers {
			h.raw(`<option>`)
			h.text(c)
			h.raw(`</option>`)
		}
		h.raw(`</select></label><label>Parameters (JSON) <textarea name="parameters" rows="4">{}</textarea></label>`)
		h.raw(`<button type="submit">Add</button></form></section>`)
	})
}

// PreviewPanel renders one page of original and cleaned rows.
func PreviewPanel(p *core.Preview) templ.Component {
	return component(func(ctx context.Context, h *html) {
		h.raw(`<h2>Preview</h2>`)
		if p.LastRun != nil {
			h.rawf(`<p class="hint">Last pass: %d applied, %d skipped, %d failed, %d disabled in `,
				p.LastRun.Applied, p.LastRun.Skipped, p.LastRun.Failed, p.LastRun.Disabled)
			h.text(p.LastRun.Duration.Round(time.Microsecond).String())
			if p.Stale {
				h.raw(` <span class="badge">rules changed since</span>`)
			}
			h.raw(`</p>`)
			if len(p.LastRun.Diagnostics) > 0 {
				h.raw(`<ul class="diagnostics">`)
				for _, d := range p.LastRun.Diagnostics {
					h.raw(`<li class="`)
					h.text(string(d.Kind))
					h.raw(`">`)
					h.text(d.String())
					h.raw(`</li>`)
				}
				h.raw(`</ul>`)
			}
		}
		h.rawf(`<nav class="pager" data-page="%d" data-pages="%d">`, p.Page, p.TotalPages)
		if p.Page > 1 {
			h.rawf(`<button data-action="page" data-to="%d">Previous</button>`, p.Page-1)
		}
		h.rawf(` Page %d of %d `, p.Page, p.TotalPages)
		if p.Page < p.TotalPages {
			h.rawf(`<button data-action="page" data-to="%d">Next</button>`, p.Page+1)
		}
		h.raw(`</nav><div class="side-by-side">`)
		h.render(ctx, previewTable("Original", &p.Original))
		if p.Cleaned != nil {
			h.render(ctx, previewTable("Cleaned", p.Cleaned))
		} else {
			h.raw(`<div><h3>Cleaned</h3><p class="empty">Run a cleaning pass to see the result.</p></div>`)
		}
		h.raw(`</div>`)
	})
}

func previewTable(title string, t *core.PreviewTable) templ.Component {
	return component(func(_ context.Context, h *html) {
		h.raw(`<div><h3>`)
		h.text(title)
		h.rawf(` <small>%d rows</small></h3><table class="grid"><thead><tr>`, t.TotalRows)
		for _, c := range t.Headers {
			h.raw(`<th>`)
			h.text(c)
			if n := t.NullCounts[c]; n > 0 {
				h.rawf(` <span class="nulls" title="empty cells">%d</span>`, n)
			}
			h.raw(`</th>`)
		}
		h.raw(`</tr></thead><tbody>`)
		for _, row := range t.Rows {
			h.raw(`<tr>`)
			for _, c := range t.Headers {
				v := row[c]
				if dataset.IsBlank(v) || dataset.IsNaN(v) {
					h.raw(`<td class="null"></td>`)
					continue
				}
				h.raw(`<td>`)
				h.text(dataset.Format(v))
				h.raw(`</td>`)
			}
			h.raw(`</tr>`)
		}
		h.raw(`</tbody></table></div>`)
	})
}

// HistoryPage lists recorded cleaning runs.
func HistoryPage(runs []core.RunRecord) templ.Component {
	return Layout("Run history", component(func(_ context.Context, h *html) {
		h.raw(`<section class="card"><h1>Run history</h1>`)
		if len(runs) == 0 {
			h.raw(`<p class="empty">No cleaning runs recorded.</p></section>`)
			return
		}
		h.raw(`<table class="grid"><thead><tr><th>Started</th><th>File</th><th>Rules</th><th>Applied</th><th>Skipped</th><th>Failed</th><th>Rows</th><th>Duration</th><th>Client</th></tr></thead><tbody>`)
		for _, r := range runs {
			h.raw(`<tr><td><a href="/api/history/`)
			h.text(r.ID)
			h.raw(`">`)
			h.text(r.StartedAt.Format(timeLayout))
			h.raw(`</a></td><td>`)
			h.text(r.SourceName)
			h.rawf(`</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d &rarr; %d</td><td>`,
				r.RuleCount, r.Applied, r.Skipped, r.Failed, r.RowsIn, r.RowsOut)
			h.text(r.Duration.Round(time.Microsecond).String())
			h.raw(`</td><td>`)
			h.text(r.Client.IP)
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table></section>`)
	}))
}

func byteSize(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return strconv.FormatInt(n/mb, 10) + " MB"
	}
	return strconv.FormatInt(n, 10) + " bytes"
}
