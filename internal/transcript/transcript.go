// Package transcript appends chat messages, including the textual summary
// line a finished call leaves behind.
package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/carelinkhq/carecall/internal/media"
)

// Appender records a message in a chat's transcript.
type Appender interface {
	AppendMessage(ctx context.Context, chatID, text, authorID, authorName, authorRole string) error
}

// CallSummary formats the single transcript line a call leaves behind,
// e.g. "Video call ended • Duration: 5m 12s".
func CallSummary(kind media.Kind, d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	mins, secs := total/60, total%60

	var dur string
	if mins > 0 {
		dur = fmt.Sprintf("%dm %ds", mins, secs)
	} else {
		dur = fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%s call ended • Duration: %s", kind.Label(), dur)
}
