// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rag-workers/internal/common/camunda"
	"rag-workers/internal/common/config"
	"rag-workers/internal/common/logger"
	"rag-workers/internal/common/observability"
	"rag-workers/internal/ragclient"
	ragquery "rag-workers/internal/workers/rag/rag-query"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("ragQueryURL", cfg.RAG.QueryURL),
	)

	obs := observability.New(cfg.App.Name, cfg.Observability.JaegerEndpoint, log)
	defer obs.Shutdown()

	var zeebeClient zbc.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebeClient, err = camunda.Connect(context.Background(), camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	ragClient := ragclient.NewClient(ragclient.Config{
		QueryURL: cfg.RAG.QueryURL,
		Timeout:  cfg.RAG.TimeoutDuration(),
	}, log)

	wcfg := config.GetWorkerConfig(cfg, ragquery.TaskType)
	handler, err := ragquery.NewHandler(ragquery.HandlerOptions{
		Config: &ragquery.Config{
			Timeout:           config.GetDuration(wcfg.Timeout),
			DefaultLang:       cfg.RAG.DefaultLang,
			DefaultNumResults: cfg.RAG.DefaultNumResults,
			MaxRetries:        wcfg.MaxRetries,
		},
		Backend:       ragClient,
		Logger:        log,
		Observability: obs,
	})
	if err != nil {
		zapLog.Fatal("failed to create rag-query handler", zap.Error(err))
	}
	workers := map[string]worker.JobWorker{
		ragquery.TaskType: camunda.StartWorker(zeebeClient, ragquery.TaskType, wcfg, handler.Handle, zapLog),
	}

	go serveHealth(cfg.Observability.MetricsAddr, zapLog)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	camunda.StopWorkers(zapLog, workers)
	if err := zeebeClient.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}
	zapLog.Info("Worker manager stopped gracefully")
}

func serveHealth(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", statusHandler("healthy"))
	mux.HandleFunc("/ready", statusHandler("ready"))
	mux.Handle("/metrics", promhttp.Handler())

	log.Info("Health/Metrics server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error("Health/Metrics server failed", zap.Error(err))
	}
}

func statusHandler(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}
