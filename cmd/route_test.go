package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"kblocks/internal/api"
	"kblocks/internal/partition"
)

func TestSplitKey(t *testing.T) {
	ns, name := splitKey("prod/api")
	assert.Equal(t, "prod", ns)
	assert.Equal(t, "api", name)

	ns, name = splitKey("orders")
	assert.Equal(t, "default", ns)
	assert.Equal(t, "orders", name)
}

// rowOf returns the rendered table line mentioning key.
func rowOf(t *testing.T, out, key string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, key) {
			return line
		}
	}
	t.Fatalf("no row for %s in:\n%s", key, out)
	return ""
}

func TestRenderRoutes(t *testing.T) {
	var buf bytes.Buffer
	renderRoutes(&buf, []string{"default/orders", "assets", "kube-system/dns"}, 8)
	out := buf.String()

	assert.Contains(t, rowOf(t, out, "default/orders"), fmt.Sprintf(" %d ", partition.Index("default", "orders", 8)))
	assert.Contains(t, rowOf(t, out, "default/assets"), fmt.Sprintf(" %d ", partition.Index("default", "assets", 8)))
	assert.Contains(t, rowOf(t, out, "kube-system/dns"), fmt.Sprintf(" %d ", partition.Index("kube-system", "dns", 8)))
}

func TestRouteCommand(t *testing.T) {
	out, err := execute(t, "", "route", "--partitions", "4", "prod/api")
	require.NoError(t, err)
	assert.Contains(t, rowOf(t, out, "prod/api"), fmt.Sprintf(" %d ", partition.Index("prod", "api", 4)))
}

func TestRenderQueue(t *testing.T) {
	ctx := context.Background()
	q := partition.NewMemoryQueue()
	defer q.Close()

	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	obj.SetName("orders")
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Append(ctx, 1, api.ChangeEvent{WatchKind: api.WatchAdded, Object: obj}))
	}
	require.NoError(t, q.Claim(ctx, 1, "worker-a", time.Minute))

	var buf bytes.Buffer
	require.NoError(t, renderQueue(ctx, &buf, q, 2, time.Now()))
	out := buf.String()

	row := rowOf(t, out, "worker-a")
	assert.Contains(t, row, " 3 ")
	assert.Contains(t, row, "expires in")
}
