// internal/observability/tracing_test.go
package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "aihouse", "test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
