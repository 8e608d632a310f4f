package ops

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/tabclean/internal/rules"
)

// LogActions records a checkpoint message. The table is returned unchanged.
func LogActions(t Table, field string, p rules.Params, w Warner) (Table, error) {
	lp, err := paramsAs[rules.LogParams](p)
	if err != nil {
		return t, err
	}

	msg := lp.Message
	if msg == "" {
		msg = fmt.Sprintf("checkpoint: %d rows, %d columns", len(t.Rows), len(t.Headers))
		if field != "" {
			msg = fmt.Sprintf("%s (%s)", msg, field)
		}
	}
	if al, ok := w.(ActionLogger); ok {
		al.LogAction(msg, lp.Format)
	}
	return t, nil
}

// FormatAction renders a logged action as "[timestamp] action" or as a JSON
// object with timestamp and action keys.
func FormatAction(format rules.LogFormat, ts time.Time, action string) string {
	stamp := ts.UTC().Format(time.RFC3339Nano)
	if format == rules.LogJSON {
		data, err := json.Marshal(struct {
			Timestamp string `json:"timestamp"`
			Action    string `json:"action"`
		}{stamp, action})
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("[%s] %s", stamp, action)
}
