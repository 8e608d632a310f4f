package templates

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabclean/internal/core"
	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

func renderString(t *testing.T, fn func(*bytes.Buffer) error) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, fn(&buf))
	return buf.String()
}

func TestErrorAlert_Escapes(t *testing.T) {
	out := renderString(t, func(b *bytes.Buffer) error {
		return ErrorAlert("<bad>", "retry & wait", "ERR000").Render(context.Background(), b)
	})
	assert.Contains(t, out, "&lt;bad&gt;")
	assert.Contains(t, out, "retry &amp; wait")
	assert.Contains(t, out, "Code: ERR000")
	assert.NotContains(t, out, "<bad>")
}

func TestSessionPage(t *testing.T) {
	ds := dataset.New("people.csv", []string{"Name"}, []dataset.Row{{"Name": "Bob"}, {"Name": ""}})
	list := []rules.Rule{
		{ID: "r1", Name: "Trim", Field: "Name", Operation: rules.OpTrim, Enabled: true, Params: rules.TrimParams{}},
		{ID: "r2", Name: "Broken", Operation: rules.OpTrim, Enabled: false, Params: rules.TrimParams{}},
	}
	preview := &core.Preview{
		SessionID:  "s1",
		Page:       1,
		PageSize:   50,
		TotalPages: 1,
		Original: core.PreviewTable{
			Headers:    ds.Headers,
			Rows:       ds.Rows,
			TotalRows:  2,
			NullCounts: core.NullCounts(ds),
		},
	}

	out := renderString(t, func(b *bytes.Buffer) error {
		return SessionPage(SessionData{
			Info:    core.SessionInfo{ID: "s1", Metadata: ds.Metadata, Headers: ds.Headers},
			Rules:   list,
			Preview: preview,
		}).Render(context.Background(), b)
	})

	assert.Contains(t, out, `data-session="s1"`)
	assert.Contains(t, out, `<li class="rule" data-rule="r1">`)
	assert.Contains(t, out, `<li class="rule disabled invalid" data-rule="r2">`)
	assert.Contains(t, out, `<td class="null"></td>`)
	assert.Contains(t, out, "Run a cleaning pass to see the result.")
	assert.Contains(t, out, "/api/sessions/s1/export?format=tde")
}

func TestByteSize(t *testing.T) {
	assert.Equal(t, "50 MB", byteSize(50<<20))
	assert.Equal(t, "512 bytes", byteSize(512))
}
