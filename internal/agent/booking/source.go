package booking

import (
	"agent-engine/internal/common/errors"
	"agent-engine/internal/models"
)

// SelectSource picks the booking path for a company. V2 off always means the
// legacy list. V2 on serves the compiled contract only while preview is
// clean; otherwise the legacy list is used and the returned reason says why.
func SelectSource(cfg *models.CompanyConfig, preview models.CompiledPreview) (models.BookingSource, string) {
	if !cfg.BookingV2Enabled() {
		return models.BookingSourceLegacy, ""
	}
	if !preview.Clean() {
		return models.BookingSourceLegacy, models.ReasonBookingContractInvalid
	}
	return models.BookingSourceCompiledV2, ""
}

// Plan builds the slot list for a booking-intent turn. preview must be the
// compiled contract for the turn's flags.
func Plan(cfg *models.CompanyConfig, preview models.CompiledPreview) *models.BookingPlan {
	source, reason := SelectSource(cfg, preview)
	plan := &models.BookingPlan{Source: source, FallbackReason: reason}

	if source == models.BookingSourceLegacy {
		plan.SlotIDs = append([]string{}, cfg.LegacyBookingSlots...)
	} else {
		plan.SlotIDs = append([]string{}, preview.ActiveSlotIDs...)
	}
	if reason != "" {
		plan.MissingSlotRefs = append([]string{}, preview.MissingSlotRefs...)
	}

	byID := make(map[string]models.SlotDefinition, len(cfg.SlotLibrary))
	for _, s := range cfg.SlotLibrary {
		byID[s.ID] = s
	}
	for _, id := range plan.SlotIDs {
		if s, ok := byID[id]; ok {
			plan.Slots = append(plan.Slots, s)
		}
	}
	return plan
}

// EnableGuard decides whether the V2 toggle may move to enabled. Disabling
// is always allowed.
func EnableGuard(companyID string, enable bool, base models.CompiledPreview) error {
	if !enable {
		return nil
	}
	if base.Clean() {
		return nil
	}
	return errors.NewBookingEnableRejectedError(companyID, base.MissingSlotRefs, len(base.ActiveSlotIDs))
}
