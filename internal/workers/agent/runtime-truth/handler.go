// internal/workers/agent/runtime-truth/handler.go
package runtimetruth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agent-engine/internal/common/camunda"
	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "agent-runtime-truth"
)

// Reporter is satisfied by *runtimetruth.Reporter in the agent tree.
type Reporter interface {
	Report(ctx context.Context, companyID string) (*models.RuntimeHealth, error)
}

type Handler struct {
	config   *Config
	reporter Reporter
	errors   *errors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, reporter Reporter, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		reporter: reporter,
		errors:   errors.NewErrorHandler(log),
		logger:   log,
	}
}

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

	report, err := h.reporter.Report(ctx, input.CompanyID)
	if err != nil {
		return nil, err
	}

	h.logger.Info("runtime truth evaluated", map[string]interface{}{
		"companyId": input.CompanyID,
		"grade":     report.Grade,
		"reasons":   report.Reasons,
	})
	return &Output{
		RuntimeHealth: *report,
		Operable:      report.Grade != models.HealthRed,
	}, nil
}
