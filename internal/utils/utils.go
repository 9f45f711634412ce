package utils

import (
	"context"
	"strings"
	"time"
)

// WaitFor blocks for d or until ctx is done, whichever comes first.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TruncateForLog shortens the provided string to the specified limit, appending an ellipsis when truncated.
// Whitespace runs are collapsed so multi-line texts stay on one log line.
func TruncateForLog(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
