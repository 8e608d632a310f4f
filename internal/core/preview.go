package core

import (
	"context"

	"github.com/JonMunkholm/tabclean/internal/dataset"
)

// Preview is one page of the original and cleaned rows side by side.
type Preview struct {
	SessionID  string        `json:"sessionId"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
	Original   PreviewTable  `json:"original"`
	Cleaned    *PreviewTable `json:"cleaned,omitempty"`
	Stale      bool          `json:"stale"`
	LastRun    *RunSummary   `json:"lastRun,omitempty"`
}

// PreviewTable is a page of one dataset plus per-column null counts over
// the whole dataset.
type PreviewTable struct {
	Headers    []string       `json:"headers"`
	Rows       []dataset.Row  `json:"rows"`
	TotalRows  int            `json:"totalRows"`
	NullCounts map[string]int `json:"nullCounts"`
}

// Preview returns page (1-based) of the session. With clean set, a pass runs
// first when the rules changed since the last one.
func (s *Service) Preview(ctx context.Context, id string, page int, clean bool) (*Preview, error) {
	if clean {
		if _, err := s.cleaned(ctx, id); err != nil {
			return nil, err
		}
	}

	var p *Preview
	err := s.withSession(id, func(sess *session) error {
		size := s.cfg.PreviewRows
		total := len(sess.original.Rows)
		if sess.result != nil && len(sess.result.Dataset.Rows) > total {
			total = len(sess.result.Dataset.Rows)
		}
		pages := (total + size - 1) / size
		if pages == 0 {
			pages = 1
		}
		if page < 1 {
			page = 1
		}
		if page > pages {
			page = pages
		}

		p = &Preview{
			SessionID:  sess.id,
			Page:       page,
			PageSize:   size,
			TotalPages: pages,
			Original:   previewTable(sess.original, page, size),
			Stale:      sess.stale,
			LastRun:    summarize(sess.result),
		}
		if sess.result != nil {
			cleaned := previewTable(sess.result.Dataset, page, size)
			p.Cleaned = &cleaned
		}
		return nil
	})
	return p, err
}

func previewTable(ds *dataset.Dataset, page, size int) PreviewTable {
	start := (page - 1) * size
	end := start + size
	if start > len(ds.Rows) {
		start = len(ds.Rows)
	}
	if end > len(ds.Rows) {
		end = len(ds.Rows)
	}
	return PreviewTable{
		Headers:    dataset.CloneHeaders(ds.Headers),
		Rows:       dataset.CloneRows(ds.Rows[start:end]),
		TotalRows:  len(ds.Rows),
		NullCounts: NullCounts(ds),
	}
}

// NullCounts counts null or empty cells per column.
func NullCounts(ds *dataset.Dataset) map[string]int {
	counts := make(map[string]int, len(ds.Headers))
	for _, h := range ds.Headers {
		counts[h] = 0
	}
	for _, r := range ds.Rows {
		for _, h := range ds.Headers {
			if dataset.IsBlank(r[h]) || dataset.IsNaN(r[h]) {
				counts[h]++
			}
		}
	}
	return counts
}
