// Package rollout flips the per-company booking contract V2 switch behind the
// compile guard.
package rollout

import (
	"context"

	"agent-engine/internal/agent/booking"
	"agent-engine/internal/agent/companyconfig"
	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/metrics"
	"agent-engine/internal/models"
)

// SnapshotLoader is satisfied by *companyconfig.Loader.
type SnapshotLoader interface {
	Load(ctx context.Context, companyID string) (*companyconfig.Snapshot, error)
}

// RejectionNotifier is satisfied by *escalation.Notifier.
type RejectionNotifier interface {
	BookingEnableRejected(ctx context.Context, companyID string, target models.EscalationTarget, rejection error) error
}

// Result describes a completed toggle.
type Result struct {
	CompanyID string                 `json:"companyId"`
	Enabled   bool                   `json:"enabled"`
	Changed   bool                   `json:"changed"`
	Source    models.BookingSource   `json:"bookingSource"`
	Preview   models.CompiledPreview `json:"bookingPreview"`
}

type Toggler struct {
	loader      SnapshotLoader
	flags       companyconfig.FlagWriter
	invalidator companyconfig.Invalidator
	notifier    RejectionNotifier
	logger      logger.Logger
}

func NewToggler(loader SnapshotLoader, flags companyconfig.FlagWriter, invalidator companyconfig.Invalidator, notifier RejectionNotifier, log logger.Logger) *Toggler {
	return &Toggler{
		loader:      loader,
		flags:       flags,
		invalidator: invalidator,
		notifier:    notifier,
		logger:      log.WithFields(map[string]interface{}{"component": "booking-rollout"}),
	}
}

// SetBookingV2 enables or disables the compiled booking contract for one
// company. Enabling is refused unless the base preview is clean; disabling
// always succeeds and affects no other company.
func (t *Toggler) SetBookingV2(ctx context.Context, companyID string, enabled bool) (*Result, error) {
	action := "disable"
	if enabled {
		action = "enable"
	}

	snap, err := t.loader.Load(ctx, companyID)
	if err != nil {
		metrics.BookingToggles.WithLabelValues(action, "error").Inc()
		return nil, err
	}
	preview := snap.BasePreview()

	if err := booking.EnableGuard(companyID, enabled, preview); err != nil {
		metrics.BookingToggles.WithLabelValues(action, "rejected").Inc()
		t.logger.Warn("booking V2 enable rejected", map[string]interface{}{
			"companyId":       companyID,
			"missingSlotRefs": preview.MissingSlotRefs,
			"activeSlots":     len(preview.ActiveSlotIDs),
		})
		if t.notifier != nil {
			if nerr := t.notifier.BookingEnableRejected(ctx, companyID, snap.Config.Escalation, err); nerr != nil {
				t.logger.Warn("rejection notice failed", map[string]interface{}{
					"companyId": companyID,
					"error":     nerr.Error(),
				})
			}
		}
		return nil, err
	}

	result := &Result{CompanyID: companyID, Enabled: enabled, Preview: preview}

	if snap.Config.BookingV2Enabled() == enabled {
		metrics.BookingToggles.WithLabelValues(action, "unchanged").Inc()
		result.Source, _ = booking.SelectSource(snap.Config, preview)
		return result, nil
	}

	if err := t.flags.SetFeatureFlag(ctx, companyID, models.FlagBookingContractV2, enabled); err != nil {
		metrics.BookingToggles.WithLabelValues(action, "error").Inc()
		return nil, errors.NewFlagWriteFailedError(models.FlagBookingContractV2, err)
	}
	if err := t.invalidator.InvalidateCompany(ctx, companyID, companyconfig.OriginToggle); err != nil {
		// The flag is written; peers pick it up on their next invalidation.
		metrics.BookingToggles.WithLabelValues(action, "error").Inc()
		if _, ok := errors.AsStandard(err); ok {
			return nil, err
		}
		return nil, errors.NewInvalidationFailedError(companyID, err)
	}

	metrics.BookingToggles.WithLabelValues(action, "applied").Inc()
	result.Changed = true
	if enabled {
		result.Source = models.BookingSourceCompiledV2
	} else {
		result.Source = models.BookingSourceLegacy
	}

	t.logger.Info("booking V2 toggled", map[string]interface{}{
		"companyId": companyID,
		"enabled":   enabled,
	})
	return result, nil
}
