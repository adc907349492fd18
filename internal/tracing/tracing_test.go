package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_Disabled(t *testing.T) {
	shutdown, err := Configure(context.Background(), Options{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_Enabled(t *testing.T) {
	// the exporter connects lazily, so no collector is needed
	shutdown, err := Configure(context.Background(), Options{
		Enabled:  true,
		Endpoint: "http://127.0.0.1:4318",
		System:   "test",
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nothing was recorded, so shutdown has nothing to flush
	_ = shutdown(ctx)
}
