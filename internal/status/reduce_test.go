package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(t, s string, extra ...string) map[string]interface{} {
	m := map[string]interface{}{"type": t, "status": s}
	for i := 0; i+1 < len(extra); i += 2 {
		m[extra[i]] = extra[i+1]
	}
	return m
}

func TestReduce_KeepsUntouchedConditions(t *testing.T) {
	current := map[string]interface{}{
		"conditions": []interface{}{cond("A", "bar"), cond("B", "qux")},
	}
	delta := map[string]interface{}{
		"conditions": []interface{}{cond("A", "baz", "reason", "q")},
	}

	patch := Reduce(current, delta)

	assert.Equal(t, map[string]interface{}{
		"conditions": []interface{}{
			cond("A", "baz", "reason", "q"),
			cond("B", "qux"),
		},
	}, patch)
}

func TestReduce_NonConditionFields(t *testing.T) {
	current := map[string]interface{}{"foo": "bar", "baz": "qux"}
	delta := map[string]interface{}{"foo": "baz"}

	assert.Equal(t, map[string]interface{}{"foo": "baz"}, Reduce(current, delta))
}

func TestReduce_NoConditionsInDelta(t *testing.T) {
	current := map[string]interface{}{
		"conditions": []interface{}{cond("Ready", "True")},
	}
	patch := Reduce(current, map[string]interface{}{"url": "https://x"})

	_, has := patch["conditions"]
	assert.False(t, has)
	assert.Equal(t, "https://x", patch["url"])
}

func TestReduce_NewConditionOnEmptyStatus(t *testing.T) {
	patch := Reduce(nil, map[string]interface{}{
		"conditions": []interface{}{cond("Ready", "False")},
	})
	assert.Equal(t, []interface{}{cond("Ready", "False")}, patch["conditions"])
}

func TestReduce_DuplicateTypeInDeltaKeepsLast(t *testing.T) {
	patch := Reduce(nil, map[string]interface{}{
		"conditions": []interface{}{cond("Ready", "False"), cond("Ready", "True")},
	})
	assert.Equal(t, []interface{}{cond("Ready", "True")}, patch["conditions"])
}

func TestReduce_DoesNotAliasInputs(t *testing.T) {
	nested := map[string]interface{}{"host": "a"}
	delta := map[string]interface{}{"endpoint": nested}

	patch := Reduce(nil, delta)
	patch["endpoint"].(map[string]interface{})["host"] = "b"

	assert.Equal(t, "a", nested["host"])
}

func TestClock_ReadyUsesPinnedTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(start)

	ready := c.Ready(true, "Succeeded", "")
	notReady := c.Ready(false, "Progressing", "Resolving references")

	assert.Equal(t, "2026-03-01T12:00:00Z", ready.LastProbeTime)
	assert.Equal(t, ready.LastProbeTime, notReady.LastTransitionTime)
	assert.Equal(t, "True", ready.Status)
	assert.Equal(t, "False", notReady.Status)
}

func TestIsReady(t *testing.T) {
	s := WithConditions(map[string]interface{}{"url": "u"}, NewClock(time.Now()).Ready(true, "", ""))
	require.True(t, IsReady(s))

	s = WithConditions(nil, NewClock(time.Now()).Ready(false, "", "pending"))
	assert.False(t, IsReady(s))
	assert.False(t, IsReady(nil))
}
