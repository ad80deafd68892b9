package camunda

import (
	"context"
	"testing"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"rag-workers/internal/common/config"
)

func TestStartWorker_Disabled(t *testing.T) {
	jw := StartWorker(nil, "rag-query", config.WorkerConfig{Enabled: false}, nil, zap.NewNop())
	assert.Nil(t, jw)
}

func TestStopWorkers_SkipsDisabled(t *testing.T) {
	assert.NotPanics(t, func() {
		StopWorkers(zap.NewNop(), map[string]worker.JobWorker{"rag-query": nil})
	})
}

func TestConnect_RequiresAddress(t *testing.T) {
	_, err := Connect(context.Background(), ClientConfig{})
	assert.Error(t, err)
}
