package models

import "time"

// FlagBookingContractV2 is the company-scoped switch that moves booking onto
// the compiled contract. It is dark until explicitly true.
const FlagBookingContractV2 = "bookingContractV2Enabled"

// Template keys the routing layer and runtime truth rely on.
const (
	TemplateFallbackGeneric = "fallback_generic"
	TemplateEscalationOffer = "escalation_offer"
)

// RequiredTemplates must all be present for a company to be operable.
var RequiredTemplates = []string{TemplateFallbackGeneric, TemplateEscalationOffer}

// CompanyConfig is one tenant's agent configuration. A loaded value is never
// mutated; changes produce a new document and a new snapshot.
type CompanyConfig struct {
	CompanyID          string               `json:"companyId" yaml:"companyId"`
	QAEntries          []QAEntry            `json:"qaEntries,omitempty" yaml:"qaEntries,omitempty"`
	Thresholds         *Thresholds          `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Providers          []ProviderDescriptor `json:"providers,omitempty" yaml:"providers,omitempty"`
	FeatureFlags       map[string]bool      `json:"featureFlags,omitempty" yaml:"featureFlags,omitempty"`
	SlotLibrary        []SlotDefinition     `json:"slotLibrary,omitempty" yaml:"slotLibrary,omitempty"`
	SlotGroups         []SlotGroup          `json:"slotGroups,omitempty" yaml:"slotGroups,omitempty"`
	BookingContract    BookingContract      `json:"bookingContract" yaml:"bookingContract"`
	LegacyBookingSlots []string             `json:"legacyBookingSlots,omitempty" yaml:"legacyBookingSlots,omitempty"`
	BookingKeywords    []string             `json:"bookingKeywords,omitempty" yaml:"bookingKeywords,omitempty"`
	Templates          map[string]string    `json:"templates,omitempty" yaml:"templates,omitempty"`
	Escalation         EscalationTarget     `json:"escalation" yaml:"escalation"`
	UpdatedAt          time.Time            `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Thresholds drive the confidence gate. A nil *Thresholds means the company
// has not configured them.
type Thresholds struct {
	Accept   float64 `json:"accept" yaml:"accept"`
	Escalate float64 `json:"escalate" yaml:"escalate"`
}

// QAEntry is one knowledge scenario.
type QAEntry struct {
	ID       string            `json:"id" yaml:"id"`
	Question string            `json:"question" yaml:"question"`
	Answer   string            `json:"answer" yaml:"answer"`
	Keywords []string          `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsBookingIntent reports whether the entry is tagged intent=booking.
func (q QAEntry) IsBookingIntent() bool {
	return q.Metadata["intent"] == "booking"
}

// ProviderDescriptor declares one language-model provider in fallback order.
type ProviderDescriptor struct {
	ID               string `json:"id" yaml:"id"`
	Kind             string `json:"kind" yaml:"kind"` // http | gemini
	Model            string `json:"model,omitempty" yaml:"model,omitempty"`
	TimeoutMs        int    `json:"timeoutMs" yaml:"timeoutMs"`
	FailureThreshold int    `json:"failureThreshold,omitempty" yaml:"failureThreshold,omitempty"`
	CooldownMs       int    `json:"cooldownMs,omitempty" yaml:"cooldownMs,omitempty"`
}

func (p ProviderDescriptor) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

func (p ProviderDescriptor) Cooldown() time.Duration {
	return time.Duration(p.CooldownMs) * time.Millisecond
}

// EscalationTarget is where escalations and rejections are announced.
type EscalationTarget struct {
	SNSTopicARN   string `json:"snsTopicArn,omitempty" yaml:"snsTopicArn,omitempty"`
	OperatorEmail string `json:"operatorEmail,omitempty" yaml:"operatorEmail,omitempty"`
}

// BookingContract carries the contract version. Enabled mirrors the
// FlagBookingContractV2 feature flag and is filled in by Normalize.
type BookingContract struct {
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Enabled bool   `json:"enabled" yaml:"-"`
}

// FlagEnabled treats a missing flag as false.
func (c *CompanyConfig) FlagEnabled(name string) bool {
	if c == nil || c.FeatureFlags == nil {
		return false
	}
	return c.FeatureFlags[name]
}

// BookingV2Enabled reports whether the compiled contract is the live booking path.
func (c *CompanyConfig) BookingV2Enabled() bool {
	return c.FlagEnabled(FlagBookingContractV2)
}

// Normalize syncs derived fields. Loaders call it once before publishing.
func (c *CompanyConfig) Normalize() {
	c.BookingContract.Enabled = c.BookingV2Enabled()
}

// BookingConfigured reports whether the company declared any booking contract at all.
func (c *CompanyConfig) BookingConfigured() bool {
	return len(c.SlotLibrary) > 0 || len(c.SlotGroups) > 0
}

// Clone returns a deep copy so callers may derive a new document without
// touching a published snapshot.
func (c *CompanyConfig) Clone() *CompanyConfig {
	if c == nil {
		return nil
	}
	out := *c

	out.QAEntries = make([]QAEntry, len(c.QAEntries))
	for i, e := range c.QAEntries {
		e.Keywords = append([]string(nil), e.Keywords...)
		e.Metadata = cloneStringMap(e.Metadata)
		out.QAEntries[i] = e
	}
	if c.Thresholds != nil {
		t := *c.Thresholds
		out.Thresholds = &t
	}
	out.Providers = append([]ProviderDescriptor(nil), c.Providers...)
	if c.FeatureFlags != nil {
		out.FeatureFlags = make(map[string]bool, len(c.FeatureFlags))
		for k, v := range c.FeatureFlags {
			out.FeatureFlags[k] = v
		}
	}
	out.SlotLibrary = make([]SlotDefinition, len(c.SlotLibrary))
	for i, s := range c.SlotLibrary {
		s.DependsOn = append([]string(nil), s.DependsOn...)
		out.SlotLibrary[i] = s
	}
	out.SlotGroups = make([]SlotGroup, len(c.SlotGroups))
	for i, g := range c.SlotGroups {
		g.SlotIDs = append([]string(nil), g.SlotIDs...)
		g.When = g.When.clone()
		out.SlotGroups[i] = g
	}
	out.LegacyBookingSlots = append([]string(nil), c.LegacyBookingSlots...)
	out.BookingKeywords = append([]string(nil), c.BookingKeywords...)
	out.Templates = cloneStringMap(c.Templates)
	return &out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
