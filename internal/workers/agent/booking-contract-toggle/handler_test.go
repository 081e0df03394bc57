// internal/workers/agent/booking-contract-toggle/handler_test.go
package bookingcontracttoggle

import (
	"context"
	"testing"
	"time"

	"agent-engine/internal/agent/companyconfig"
	"agent-engine/internal/agent/rollout"
	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func boolPtr(b bool) *bool { return &b }

func contractConfig(companyID string, refs ...string) *models.CompanyConfig {
	return &models.CompanyConfig{
		CompanyID:   companyID,
		SlotLibrary: []models.SlotDefinition{{ID: "name", Type: models.SlotTypeText, Required: true}},
		SlotGroups:  []models.SlotGroup{{ID: "core", SlotIDs: append([]string{"name"}, refs...)}},
	}
}

func newHandler(t *testing.T, cfgs ...*models.CompanyConfig) (*Handler, *companyconfig.Loader) {
	src := companyconfig.NewMemorySource(cfgs...)
	loader := companyconfig.NewLoader(src, logger.NewNoOpLogger())
	toggler := rollout.NewToggler(loader, src, loader, nil, logger.NewNoOpLogger())
	return NewHandler(&Config{Timeout: 5 * time.Second}, toggler, logger.NewTestLogger(t)), loader
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Enable(t *testing.T) {
	h, loader := newHandler(t, contractConfig("acme"))

	out, err := h.Execute(context.Background(), &Input{CompanyID: "acme", Enabled: boolPtr(true), RequestedBy: "ops"})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, models.BookingSourceCompiledV2, out.Source)

	snap, err := loader.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, snap.Config.BookingContract.Enabled)
}

func TestHandler_Execute_RejectedEnableIsBPMNError(t *testing.T) {
	h, _ := newHandler(t, contractConfig("acme", "po_number"))

	_, err := h.Execute(context.Background(), &Input{CompanyID: "acme", Enabled: boolPtr(true)})
	require.Error(t, err)

	std := errors.Normalize(err)
	bpmn := errors.ConvertToBPMNError(std)
	assert.Equal(t, "BOOKING_ENABLE_REJECTED", bpmn.Code)
	assert.Zero(t, bpmn.Retries)
	assert.Equal(t, []string{"po_number"}, bpmn.ErrorVariables["missingSlotRefs"])
}

func TestHandler_Execute_Validation(t *testing.T) {
	h, _ := newHandler(t, contractConfig("acme"))

	tests := []struct {
		name  string
		input *Input
	}{
		{name: "missing company", input: &Input{Enabled: boolPtr(true)}},
		{name: "missing enabled", input: &Input{CompanyID: "acme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Execute(context.Background(), tt.input)
			assert.Equal(t, errors.ErrCodeInvalidRouteInput, errors.CodeOf(err))
		})
	}
}
