// internal/workers/agent/runtime-truth/handler_test.go
package runtimetruth

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"agent-engine/internal/agent/companyconfig"
	agenttruth "agent-engine/internal/agent/runtimetruth"
	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func operableConfig(companyID string) *models.CompanyConfig {
	return &models.CompanyConfig{
		CompanyID:  companyID,
		QAEntries:  []models.QAEntry{{ID: "hours", Question: "hours?", Answer: "9 to 5"}},
		Thresholds: &models.Thresholds{Accept: 0.8, Escalate: 0.3},
		Providers:  []models.ProviderDescriptor{{ID: "primary", Kind: "http", TimeoutMs: 1500}},
		Templates: map[string]string{
			models.TemplateFallbackGeneric: "Sorry.",
			models.TemplateEscalationOffer: "Want a person?",
		},
		SlotLibrary: []models.SlotDefinition{{ID: "name", Type: models.SlotTypeText, Required: true}},
		SlotGroups:  []models.SlotGroup{{ID: "core", SlotIDs: []string{"name"}}},
	}
}

func newHandler(t *testing.T, cfgs ...*models.CompanyConfig) *Handler {
	loader := companyconfig.NewLoader(companyconfig.NewMemorySource(cfgs...), logger.NewNoOpLogger())
	reporter := agenttruth.NewReporter(loader, logger.NewNoOpLogger())
	return NewHandler(&Config{Timeout: 5 * time.Second}, reporter, logger.NewTestLogger(t))
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute(t *testing.T) {
	green := operableConfig("green")
	green.FeatureFlags = map[string]bool{models.FlagBookingContractV2: true}

	red := operableConfig("red")
	red.Thresholds = nil

	tests := []struct {
		name         string
		companyID    string
		wantGrade    models.HealthGrade
		wantOperable bool
	}{
		{name: "V2 live with clean contract", companyID: "green", wantGrade: models.HealthGreen, wantOperable: true},
		{name: "operable on legacy booking", companyID: "yellow", wantGrade: models.HealthYellow, wantOperable: true},
		{name: "thresholds missing", companyID: "red", wantGrade: models.HealthRed, wantOperable: false},
	}

	h := newHandler(t, green, operableConfig("yellow"), red)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := h.Execute(context.Background(), &Input{CompanyID: tt.companyID})
			require.NoError(t, err)
			assert.Equal(t, tt.wantGrade, out.Grade)
			assert.Equal(t, tt.wantOperable, out.Operable)
			assert.Equal(t, tt.companyID, out.CompanyID)
		})
	}
}

func TestHandler_Execute_Validation(t *testing.T) {
	h := newHandler(t)

	_, err := h.Execute(context.Background(), &Input{CompanyID: "  "})
	assert.Equal(t, errors.ErrCodeInvalidRouteInput, errors.CodeOf(err))

	_, err = h.Execute(context.Background(), &Input{CompanyID: "ghost"})
	assert.True(t, stderrors.Is(err, errors.ErrConfigMissing))
}
