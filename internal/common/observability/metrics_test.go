package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"rag-workers/internal/common/logger"
)

func TestObservability_ZeroValueIsSafe(t *testing.T) {
	o := &Observability{}

	assert.NotPanics(t, func() {
		o.RecordJobProcessed(context.Background(), "completed")
		o.RecordJobDuration(context.Background(), time.Second, "completed")
		o.Shutdown()
	})
	assert.False(t, o.TracingEnabled())
}

func TestNew_WithoutJaeger(t *testing.T) {
	o := New("rag-workers-test", "", nil)
	defer o.Shutdown()

	assert.False(t, o.TracingEnabled())
	assert.NotPanics(t, func() {
		o.RecordJobProcessed(context.Background(), "completed")
		o.RecordJobDuration(context.Background(), 15*time.Millisecond, "completed")
	})
}

func TestNewTracerProvider_LogsThroughLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := logger.NewZapAdapter(zap.New(core))

	tp := newTracerProvider("rag-workers-test", "http://localhost:14268/api/traces", log)
	require.NotNil(t, tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	entries := logs.FilterMessage("tracing enabled").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "http://localhost:14268/api/traces", entries[0].ContextMap()["endpoint"])
}
