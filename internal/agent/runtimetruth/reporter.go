// Package runtimetruth grades whether a company's agent can actually run as
// configured. It reads the loader's snapshot and keeps no state of its own.
package runtimetruth

import (
	"context"

	"agent-engine/internal/agent/booking"
	"agent-engine/internal/agent/companyconfig"
	"agent-engine/internal/agent/gate"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/metrics"
	"agent-engine/internal/models"
)

// SnapshotLoader is satisfied by *companyconfig.Loader.
type SnapshotLoader interface {
	Load(ctx context.Context, companyID string) (*companyconfig.Snapshot, error)
}

type Reporter struct {
	loader SnapshotLoader
	logger logger.Logger
}

func NewReporter(loader SnapshotLoader, log logger.Logger) *Reporter {
	return &Reporter{
		loader: loader,
		logger: log.WithFields(map[string]interface{}{"component": "runtime-truth"}),
	}
}

// Report grades the company's current snapshot. Only a load failure is
// returned as an error.
func (r *Reporter) Report(ctx context.Context, companyID string) (*models.RuntimeHealth, error) {
	snap, err := r.loader.Load(ctx, companyID)
	if err != nil {
		return nil, err
	}
	h := Evaluate(snap)
	metrics.RuntimeHealthReports.WithLabelValues(string(h.Grade)).Inc()
	r.logger.Debug("runtime truth reported", map[string]interface{}{
		"companyId":  companyID,
		"grade":      h.Grade,
		"reasons":    h.Reasons,
		"generation": h.Generation,
	})
	return h, nil
}

// Evaluate grades one snapshot.
//
// RED when the agent cannot operate (thresholds, providers, scenarios or
// templates missing) or when V2 is live on an unclean contract. YELLOW when
// operable on the legacy booking path. GREEN otherwise.
func Evaluate(snap *companyconfig.Snapshot) *models.RuntimeHealth {
	cfg := snap.Config
	preview := snap.BasePreview()

	var blocking []string
	switch err := gate.Validate(cfg.Thresholds); {
	case cfg.Thresholds == nil:
		blocking = append(blocking, models.ReasonThresholdsMissing)
	case err != nil:
		blocking = append(blocking, models.ReasonThresholdsInvalid)
	}
	if len(cfg.Providers) == 0 {
		blocking = append(blocking, models.ReasonProvidersMissing)
	}
	if len(cfg.QAEntries) == 0 {
		blocking = append(blocking, models.ReasonNoScenarios)
	}
	for _, key := range models.RequiredTemplates {
		if cfg.Templates[key] == "" {
			blocking = append(blocking, models.ReasonTemplateMissing+":"+key)
		}
	}

	bookingIssues := bookingReasons(preview)
	source, _ := booking.SelectSource(cfg, preview)
	v2 := cfg.BookingV2Enabled()

	h := &models.RuntimeHealth{
		CompanyID: cfg.CompanyID,
		Booking: models.BookingTruth{
			Enabled:         v2,
			Source:          source,
			CompiledPreview: models.NewPreviewTruth(preview),
		},
		Generation: snap.Generation,
		LoadedAt:   snap.LoadedAt,
		Reasons:    []string{},
	}

	switch {
	case len(blocking) > 0 || (v2 && !preview.Clean()):
		h.Grade = models.HealthRed
		h.Reasons = append(h.Reasons, blocking...)
		h.Reasons = append(h.Reasons, bookingIssues...)
	case !v2:
		h.Grade = models.HealthYellow
		h.Reasons = append(h.Reasons, models.ReasonBookingV2Disabled)
		h.Reasons = append(h.Reasons, bookingIssues...)
	default:
		h.Grade = models.HealthGreen
	}
	return h
}

func bookingReasons(p models.CompiledPreview) []string {
	switch {
	case p.Status == models.PreviewUnconfigured:
		return []string{models.ReasonBookingUnconfigured}
	case len(p.MissingSlotRefs) > 0 && len(p.ActiveSlotIDs) == 0:
		return []string{models.ReasonBookingMissingRefs, models.ReasonBookingNoActiveSlots}
	case len(p.MissingSlotRefs) > 0:
		return []string{models.ReasonBookingMissingRefs}
	case len(p.ActiveSlotIDs) == 0:
		return []string{models.ReasonBookingNoActiveSlots}
	}
	return nil
}
