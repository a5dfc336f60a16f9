package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestTraceProviderRegistersGlobally(t *testing.T) {
	lc := fxtest.NewLifecycle(t)

	tp := newTraceProvider(lc, zap.NewNop())
	require.NotNil(t, tp)

	assert.Same(t, tp, otel.GetTracerProvider())

	lc.RequireStart()
	lc.RequireStop()
}
