// internal/workers/rag/rag-query/handler.go
package ragquery

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"rag-workers/internal/common/errors"
	"rag-workers/internal/common/logger"
	"rag-workers/internal/common/metrics"
	"rag-workers/internal/common/observability"
	"rag-workers/internal/common/validation"
	"rag-workers/internal/ragclient"
)

const (
	TaskType = "rag-query"
)

// Backend is the part of ragclient.Client the worker needs.
type Backend interface {
	CallBackend(ctx context.Context, question, langCode string, numAnswers ...int) string
}

type HandlerOptions struct {
	Config        *Config
	Backend       Backend
	Logger        logger.Logger
	Observability *observability.Observability
}

type Handler struct {
	config       *Config
	backend      Backend
	logger       logger.Logger
	obs          *observability.Observability
	errorHandler *errors.ErrorHandler
	schema       *validation.Schema
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", TaskType, err)
	}

	schema, err := validation.CompileSchema(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.With(map[string]interface{}{"taskType": TaskType})

	obs := opts.Observability
	if obs == nil {
		obs = &observability.Observability{}
	}

	return &Handler{
		config:       cfg,
		backend:      opts.Backend,
		logger:       log,
		obs:          obs,
		errorHandler: errors.NewErrorHandler(log, cfg.MaxRetries),
		schema:       schema,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	requestID := uuid.NewString()
	log := h.logger.With(map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
		"requestId":   requestID,
	})
	log.Info("processing job", nil)

	started := time.Now()
	done := metrics.TrackJob(TaskType)

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job.Variables)
	if err != nil {
		stdErr := errors.AsStandardError(err)
		done(string(stdErr.Code))
		h.recordJob(ctx, started, "failed")
		h.errorHandler.HandleJobError(ctx, client, job, stdErr)
		return
	}

	output := h.execute(ctx, input)
	output.RequestID = requestID

	if !output.BackendOK {
		log.Warn("rag backend returned an error text", map[string]interface{}{
			"answer": output.Answer,
		})
	}

	if err := h.completeJob(ctx, client, job, output); err != nil {
		log.Error("failed to complete job", map[string]interface{}{"error": err.Error()})
		done(string(errors.ErrCodeInternal))
		h.recordJob(ctx, started, "failed")
		h.errorHandler.HandleJobError(ctx, client, job, errors.NewInternalError(err))
		return
	}

	done("")
	h.recordJob(ctx, started, "completed")
	log.Info("job completed", map[string]interface{}{
		"backendOk":  output.BackendOK,
		"durationMs": time.Since(started).Milliseconds(),
	})
}

// parseInput validates the job variables against inputSchema and coerces
// numResults to an int, filling lang and numResults defaults.
func (h *Handler) parseInput(variables string) (*Input, error) {
	if strings.TrimSpace(variables) == "" {
		variables = "{}"
	}

	result, err := h.schema.ValidateJSON(variables)
	if err != nil {
		return nil, errors.NewRAGInputInvalidError(fmt.Sprintf("parse variables: %v", err))
	}
	if !result.Valid {
		return nil, errors.NewRAGInputInvalidError(result.Summary())
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(variables), &raw); err != nil {
		return nil, errors.NewRAGInputInvalidError(fmt.Sprintf("parse variables: %v", err))
	}

	input := &Input{
		Question:   cast.ToString(raw["question"]),
		Lang:       h.config.DefaultLang,
		NumResults: h.config.DefaultNumResults,
	}
	if lang, ok := raw["lang"].(string); ok && lang != "" {
		input.Lang = lang
	}
	if v, ok := raw["numResults"]; ok && v != nil {
		n, err := toNumResults(v)
		if err != nil {
			return nil, errors.NewRAGInputInvalidError(fmt.Sprintf("numResults: %v", err))
		}
		input.NumResults = n
	}

	return input, nil
}

// toNumResults coerces a decoded JSON number or numeric string to an int.
// Numbers that do not fit an int are rejected rather than truncated.
func toNumResults(v interface{}) (int, error) {
	if f, ok := v.(float64); ok {
		if math.IsNaN(f) || f >= float64(math.MaxInt) || f < float64(math.MinInt) {
			return 0, fmt.Errorf("%v is out of range", f)
		}
	}
	return cast.ToIntE(v)
}

func (h *Handler) execute(ctx context.Context, input *Input) *Output {
	answer := h.backend.CallBackend(ctx, input.Question, input.Lang, input.NumResults)
	return &Output{
		Answer:    answer,
		BackendOK: !ragclient.IsBackendError(answer),
	}
}

// Execute runs the query outside of a Zeebe job.
func (h *Handler) Execute(ctx context.Context, input *Input) *Output {
	return h.execute(ctx, input)
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("build complete command: %w", err)
	}

	_, err = cmd.Send(ctx)
	return err
}

func (h *Handler) recordJob(ctx context.Context, started time.Time, status string) {
	h.obs.RecordJobProcessed(ctx, status)
	h.obs.RecordJobDuration(ctx, time.Since(started), status)
}
