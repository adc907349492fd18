package strings

import (
	"strings"
)

// MaxConditionMessageLen bounds the message stored in a status condition.
// Engine failures can carry whole plan outputs; the full text goes to the
// event sink instead.
const MaxConditionMessageLen = 1024

// MaxSummaryLen bounds one-line summaries used in notifications.
const MaxSummaryLen = 120

// MinTruncateLen is the minimum maxLen value for TruncateMessage.
// Values smaller than this would not leave room for meaningful content plus "...".
const MinTruncateLen = 4

// TruncateMessage collapses all whitespace runs into single spaces and cuts
// the result to maxLen runes, ending with "..." when it was shortened.
func TruncateMessage(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// Summary returns the first non-empty line of s, truncated to MaxSummaryLen.
func Summary(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return TruncateMessage(line, MaxSummaryLen)
		}
	}
	return ""
}
