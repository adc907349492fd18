package status

import (
	"time"

	"kblocks/internal/api"
	kstrings "kblocks/pkg/strings"
)

// Clock pins the timestamps of a single reconciliation pass so every condition
// written during the pass carries the same lastProbeTime and lastTransitionTime.
type Clock struct {
	start time.Time
}

// NewClock captures t as the pass start time.
func NewClock(t time.Time) Clock {
	return Clock{start: t.UTC()}
}

// Timestamp returns the pinned time in RFC 3339.
func (c Clock) Timestamp() string {
	return c.start.Format(time.RFC3339)
}

// Start returns the pinned time.
func (c Clock) Start() time.Time {
	return c.start
}

// Ready builds a Ready condition stamped with the pass start time.
func (c Clock) Ready(ready bool, reason, message string) api.Condition {
	s := api.ConditionFalse
	if ready {
		s = api.ConditionTrue
	}
	ts := c.Timestamp()
	return api.Condition{
		Type:               api.ConditionReady,
		Status:             s,
		LastTransitionTime: ts,
		LastProbeTime:      ts,
		Reason:             reason,
		Message:            kstrings.TruncateMessage(message, kstrings.MaxConditionMessageLen),
	}
}

// FindCondition returns the condition of the given type from a status document.
func FindCondition(status map[string]interface{}, conditionType string) (map[string]interface{}, bool) {
	if conditionType == "" {
		return nil, false
	}
	for _, c := range conditionList(status[conditionsKey]) {
		if m, ok := c.(map[string]interface{}); ok && conditionType == m["type"] {
			return m, true
		}
	}
	return nil, false
}

// IsReady reports whether the status carries Ready=True.
func IsReady(status map[string]interface{}) bool {
	c, ok := FindCondition(status, api.ConditionReady)
	return ok && c["status"] == api.ConditionTrue
}
