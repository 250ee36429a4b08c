package alert

import (
	"fmt"
	"strings"

	"reminderd/internal/eventbus"
)

// FromEvent maps a bus event to an operator alert. Events that operators do
// not need to see return ok=false.
func FromEvent(e eventbus.Event) (Alert, bool) {
	switch e.Type {
	case eventbus.TypeRetriesExhausted:
		d, ok := e.Data.(eventbus.Delivery)
		if !ok {
			return Alert{}, false
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Reminder gave up after %d attempts\n", d.RetryCount)
		fmt.Fprintf(&b, "session: %s\n", d.SessionID)
		fmt.Fprintf(&b, "recipient: %s\n", d.RecipientID)
		fmt.Fprintf(&b, "type: %s", d.Type)
		if d.Err != "" {
			fmt.Fprintf(&b, "\nlast error: %s", truncate(d.Err, 300))
		}
		return Alert{
			Severity: Critical,
			Key:      "exhausted|" + d.SessionID + "|" + d.RecipientID + "|" + d.Type,
			Text:     b.String(),
		}, true

	case eventbus.TypeTickPanicked:
		m, _ := e.Data.(map[string]any)
		p := fmt.Sprint(m["panic"])
		return Alert{
			Severity: Critical,
			Key:      "tick.panic|" + p,
			Text:     fmt.Sprintf("Reminder tick %v panicked: %s", m["tick_id"], truncate(p, 300)),
		}, true

	case eventbus.TypeConfigReloadError:
		return Alert{
			Severity: Warning,
			Key:      "config.reload",
			Text:     "Config reload rejected, keeping the previous config: " + truncate(fmt.Sprint(e.Data), 500),
		}, true
	}
	return Alert{}, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
