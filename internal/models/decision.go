package models

import "time"

// Outcome of routing one turn.
type Outcome string

const (
	OutcomeAnsweredFromKnowledge Outcome = "answered-from-knowledge"
	OutcomeAnsweredFromModel     Outcome = "answered-from-model"
	OutcomeEscalated             Outcome = "escalated"
)

// Decision is the confidence gate's verdict for a turn. A degraded turn
// whose fallback chain is exhausted ends as Escalate.
type Decision string

const (
	DecisionAccept   Decision = "Accept"
	DecisionDegrade  Decision = "Degrade"
	DecisionEscalate Decision = "Escalate"
)

// Answer sources recorded on every decision.
const (
	SourceKnowledge = "knowledge"
	SourceModel     = "model"
	SourceFallback  = "fallback_generic"
)

// RouteDecision is the observable result of one routed turn.
type RouteDecision struct {
	Decision   Decision     `json:"decision"`
	Outcome    Outcome      `json:"outcome"`
	AnswerText string       `json:"answerText"`
	Source     string       `json:"source"`
	Confidence float64      `json:"confidenceScore"`
	ProviderID string       `json:"providerId,omitempty"`
	MatchedID  string       `json:"matchedEntryId,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Booking    *BookingPlan `json:"booking,omitempty"`
	LatencyMs  int64        `json:"latencyMs"`
	Generation uint64       `json:"configGeneration"`
}

// HealthGrade summarizes a company's runtime readiness.
type HealthGrade string

const (
	HealthGreen  HealthGrade = "GREEN"
	HealthYellow HealthGrade = "YELLOW"
	HealthRed    HealthGrade = "RED"
)

// Runtime truth reasons.
const (
	ReasonThresholdsMissing    = "THRESHOLDS_MISSING"
	ReasonThresholdsInvalid    = "THRESHOLDS_INVALID"
	ReasonProvidersMissing     = "PROVIDERS_MISSING"
	ReasonNoScenarios          = "NO_SCENARIOS"
	ReasonTemplateMissing      = "TEMPLATE_MISSING"
	ReasonBookingV2Disabled    = "BOOKING_V2_DISABLED"
	ReasonBookingMissingRefs   = "BOOKING_MISSING_SLOT_REFS"
	ReasonBookingNoActiveSlots = "BOOKING_NO_ACTIVE_SLOTS"
	ReasonBookingUnconfigured  = "BOOKING_UNCONFIGURED"
)

// ReasonBookingContractInvalid marks a booking plan that fell back to the
// legacy list while V2 was on.
const ReasonBookingContractInvalid = "BOOKING_CONTRACT_INVALID"

// RuntimeHealth is the per-company readiness report.
type RuntimeHealth struct {
	CompanyID  string       `json:"companyId"`
	Grade      HealthGrade  `json:"healthGrade"`
	Reasons    []string     `json:"reasons"`
	Booking    BookingTruth `json:"booking"`
	Generation uint64       `json:"configGeneration"`
	LoadedAt   time.Time    `json:"loadedAt"`
}

// BookingTruth is the booking part of a readiness report. Source is the path
// a booking-intent turn takes right now, which is legacy whenever V2 is on
// but the preview is not clean.
type BookingTruth struct {
	Enabled         bool          `json:"enabled"`
	Source          BookingSource `json:"source"`
	CompiledPreview PreviewTruth  `json:"compiledPreview"`
}

// PreviewTruth is the base compiled preview as reported to operators.
type PreviewTruth struct {
	ActiveSlotIDsOrdered []string      `json:"activeSlotIdsOrdered"`
	MissingSlotRefs      []string      `json:"missingSlotRefs"`
	Status               PreviewStatus `json:"status"`
}

func NewPreviewTruth(p CompiledPreview) PreviewTruth {
	return PreviewTruth{
		ActiveSlotIDsOrdered: append([]string{}, p.ActiveSlotIDs...),
		MissingSlotRefs:      append([]string{}, p.MissingSlotRefs...),
		Status:               p.Status,
	}
}
