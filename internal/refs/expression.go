package refs

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// refPattern matches ${ref://<resource>/<name>/<field>[?timeout=<seconds>]}.
var refPattern = regexp.MustCompile(`\$\{ref://([^/}\s]+)/([^/}\s]+)/([^}?\s]+)(?:\?timeout=(\d+))?\}`)

// Expression is a parsed reference placeholder.
type Expression struct {
	// Raw is the placeholder text exactly as it appears in the document.
	Raw string

	// Resource is the kubectl-style resource, e.g. queues.acme.com.
	Resource schema.GroupResource

	// Name of the referenced object, looked up in the referencing object's namespace.
	Name string

	// Field is a dot-separated path under the referenced object's status.
	Field string

	// Timeout overrides the resolver's default wait when non-zero.
	Timeout time.Duration
}

// FieldPath returns the full path of the referenced value.
func (e Expression) FieldPath() []string {
	return append([]string{"status"}, strings.Split(e.Field, ".")...)
}

// Parse finds every expression in s, in order of appearance.
func Parse(s string) []Expression {
	matches := refPattern.FindAllStringSubmatch(s, -1)
	out := make([]Expression, 0, len(matches))
	for _, m := range matches {
		e := Expression{
			Raw:      m[0],
			Resource: schema.ParseGroupResource(m[1]),
			Name:     m[2],
			Field:    m[3],
		}
		if m[4] != "" {
			if secs, err := strconv.Atoi(m[4]); err == nil {
				e.Timeout = time.Duration(secs) * time.Second
			}
		}
		out = append(out, e)
	}
	return out
}

// skippedKeys are top-level subtrees never scanned or rewritten.
var skippedKeys = map[string]bool{
	"metadata": true,
	"status":   true,
}

// Collect walks every string leaf of doc outside metadata and status and
// returns the unique expressions, sorted by their raw text.
func Collect(doc map[string]interface{}) []Expression {
	found := make(map[string]Expression)
	for k, v := range doc {
		if skippedKeys[k] {
			continue
		}
		collect(v, found)
	}

	out := make([]Expression, 0, len(found))
	for _, e := range found {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Raw < out[j].Raw })
	return out
}

func collect(value interface{}, found map[string]Expression) {
	switch v := value.(type) {
	case string:
		for _, e := range Parse(v) {
			found[e.Raw] = e
		}
	case map[string]interface{}:
		for _, val := range v {
			collect(val, found)
		}
	case []interface{}:
		for _, val := range v {
			collect(val, found)
		}
	}
}

// Substitute returns a copy of doc with every placeholder found in values
// replaced by its value. Substituted text is not scanned again. metadata and
// status are copied untouched.
func Substitute(doc map[string]interface{}, values map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if skippedKeys[k] {
			out[k] = copyValue(v, nil)
			continue
		}
		out[k] = copyValue(v, values)
	}
	return out
}

func copyValue(value interface{}, values map[string]string) interface{} {
	switch v := value.(type) {
	case string:
		if values == nil {
			return v
		}
		return refPattern.ReplaceAllStringFunc(v, func(raw string) string {
			if val, ok := values[raw]; ok {
				return val
			}
			return raw
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = copyValue(val, values)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = copyValue(val, values)
		}
		return out
	default:
		return v
	}
}
