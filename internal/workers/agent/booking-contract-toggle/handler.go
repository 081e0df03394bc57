// internal/workers/agent/booking-contract-toggle/handler.go
package bookingcontracttoggle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agent-engine/internal/agent/rollout"
	"agent-engine/internal/common/camunda"
	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "booking-contract-toggle"
)

// Toggler is satisfied by *rollout.Toggler.
type Toggler interface {
	SetBookingV2(ctx context.Context, companyID string, enabled bool) (*rollout.Result, error)
}

type Handler struct {
	config  *Config
	toggler Toggler
	errors  *errors.ErrorHandler
	logger  logger.Logger
}

func NewHandler(config *Config, toggler Toggler, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		toggler: toggler,
		errors:  errors.NewErrorHandler(log),
		logger:  log,
	}
}

// Handle completes the job on success. A rejected enable is thrown as the
// BOOKING_ENABLE_REJECTED BPMN error so the process can route to review.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		err = errors.NewInvalidRouteInputError(fmt.Sprintf("parse input: %v", err))
		h.errors.HandleJobError(ctx, client, job, err)
		return err
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.errors.HandleJobError(ctx, client, job, err)
		return err
	}
	return camunda.CompleteJob(ctx, client, job, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.CompanyID) == "" {
		return nil, errors.NewInvalidRouteInputError("companyId is required")
	}
	if input.Enabled == nil {
		return nil, errors.NewInvalidRouteInputError("enabled is required")
	}

	res, err := h.toggler.SetBookingV2(ctx, input.CompanyID, *input.Enabled)
	if err != nil {
		return nil, err
	}

	h.logger.Info("booking toggle applied", map[string]interface{}{
		"companyId":   input.CompanyID,
		"enabled":     res.Enabled,
		"changed":     res.Changed,
		"requestedBy": input.RequestedBy,
	})
	return &Output{Result: *res}, nil
}
