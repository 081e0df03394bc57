// internal/workers/agent/route-turn/handler.go
package routeturn

import (
	"context"

	"agent-engine/internal/agent/router"
	"agent-engine/internal/common/camunda"
	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "agent-route-turn"
)

// TurnRouter is satisfied by *router.Router.
type TurnRouter interface {
	Route(ctx context.Context, turn router.Turn) (*models.RouteDecision, error)
}

type Handler struct {
	config *Config
	router TurnRouter
	errors *errors.ErrorHandler
	logger logger.Logger
}

func NewHandler(config *Config, r TurnRouter, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		router: r,
		errors: errors.NewErrorHandler(log),
		logger: log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := ParseInput(job.Variables)
	if err != nil {
		h.errors.HandleJobError(ctx, client, job, err)
		return err
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.errors.HandleJobError(ctx, client, job, err)
		return err
	}

	return camunda.CompleteJob(ctx, client, job, output)
}

// ParseInput decodes and validates job variables.
func ParseInput(variables string) (*Input, error) {
	turn, err := router.DecodeTurn([]byte(variables))
	if err != nil {
		return nil, err
	}
	return &Input{
		CompanyID:      turn.CompanyID,
		ConversationID: turn.ConversationID,
		Text:           turn.Text,
		Flags:          turn.Flags,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	decision, err := h.router.Route(ctx, router.Turn{
		CompanyID:      input.CompanyID,
		ConversationID: input.ConversationID,
		Text:           input.Text,
		Flags:          input.Flags,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("turn routed", map[string]interface{}{
		"companyId":  input.CompanyID,
		"decision":   decision.Decision,
		"outcome":    decision.Outcome,
		"source":     decision.Source,
		"confidence": decision.Confidence,
		"latencyMs":  decision.LatencyMs,
	})
	return &Output{RouteDecision: *decision}, nil
}
