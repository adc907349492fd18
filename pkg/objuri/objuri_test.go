package objuri

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestParse(t *testing.T) {
	id, err := Parse("kblocks://acme.com/v1/queues/prod/team-a/orders")
	require.NoError(t, err)

	assert.Equal(t, Identity{
		Group:     "acme.com",
		Version:   "v1",
		Plural:    "queues",
		System:    "prod",
		Namespace: "team-a",
		Name:      "orders",
	}, id)
	assert.Equal(t, "kblocks://acme.com/v1/queues/prod/team-a/orders", id.String())
	assert.Equal(t, "acme.com/v1/queues", id.Type())
	assert.Equal(t, "team-a/orders", id.Key())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"wrong scheme", "http://acme.com/v1/queues/prod/team-a/orders"},
		{"missing name", "kblocks://acme.com/v1/queues/prod/team-a"},
		{"empty segment", "kblocks://acme.com/v1//prod/team-a/orders"},
		{"trailing segment", "kblocks://acme.com/v1/queues/prod/team-a/orders/extra"},
		{"trailing slash", "kblocks://acme.com/v1/queues/prod/team-a/orders/"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.uri)
			require.Error(t, err)

			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestChannel_IdentityDefaultsNamespace(t *testing.T) {
	c := Channel{Group: "acme.com", Version: "v1", Plural: "queues", System: "prod"}

	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	obj.SetName("cluster-wide")

	id := FromObject(c, obj)
	assert.Equal(t, DefaultNamespace, id.Namespace)
	assert.Equal(t, c, id.Channel())

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}
