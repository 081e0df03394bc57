package models

// Slot value types.
const (
	SlotTypeText     = "text"
	SlotTypePhone    = "phone"
	SlotTypeAddress  = "address"
	SlotTypeDateTime = "datetime"
	SlotTypeEmail    = "email"
	SlotTypeNumber   = "number"
)

// SlotDefinition is one entry of the company slot library.
type SlotDefinition struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label" yaml:"label"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
	// DependsOn lists branch flags that must all be true for the slot to be emitted.
	DependsOn []string `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
}

// SlotGroup is an ordered list of slot references gated by an optional predicate.
type SlotGroup struct {
	ID      string     `json:"id" yaml:"id"`
	SlotIDs []string   `json:"slotIds" yaml:"slotIds"`
	When    *Predicate `json:"when,omitempty" yaml:"when,omitempty"`
}

// Predicate over branch flags. A missing flag reads as false.
type Predicate struct {
	AllOf  []string `json:"allOf,omitempty" yaml:"allOf,omitempty"`
	AnyOf  []string `json:"anyOf,omitempty" yaml:"anyOf,omitempty"`
	NoneOf []string `json:"noneOf,omitempty" yaml:"noneOf,omitempty"`
}

// Eval returns true for a nil predicate.
func (p *Predicate) Eval(flags map[string]bool) bool {
	if p == nil {
		return true
	}
	for _, f := range p.AllOf {
		if !flags[f] {
			return false
		}
	}
	if len(p.AnyOf) > 0 {
		hit := false
		for _, f := range p.AnyOf {
			if flags[f] {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, f := range p.NoneOf {
		if flags[f] {
			return false
		}
	}
	return true
}

// Flags returns every flag name the predicate reads.
func (p *Predicate) Flags() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.AllOf)+len(p.AnyOf)+len(p.NoneOf))
	out = append(out, p.AllOf...)
	out = append(out, p.AnyOf...)
	out = append(out, p.NoneOf...)
	return out
}

func (p *Predicate) clone() *Predicate {
	if p == nil {
		return nil
	}
	return &Predicate{
		AllOf:  append([]string(nil), p.AllOf...),
		AnyOf:  append([]string(nil), p.AnyOf...),
		NoneOf: append([]string(nil), p.NoneOf...),
	}
}

// PreviewStatus classifies a compiled preview.
type PreviewStatus string

const (
	PreviewConfigured    PreviewStatus = "CONFIGURED"
	PreviewNotConfigured PreviewStatus = "NOT_CONFIGURED"
	PreviewUnconfigured  PreviewStatus = "UNCONFIGURED"
)

// CompiledPreview is the derived booking contract for one flag set.
type CompiledPreview struct {
	ActiveSlotIDs   []string      `json:"activeSlotIds"`
	MissingSlotRefs []string      `json:"missingSlotRefs"`
	Status          PreviewStatus `json:"status"`
}

// Clean means no missing references and at least one active slot.
func (p CompiledPreview) Clean() bool {
	return len(p.MissingSlotRefs) == 0 && len(p.ActiveSlotIDs) > 0
}

// BookingSource tags where the booking slot list came from.
type BookingSource string

const (
	BookingSourceLegacy     BookingSource = "legacy"
	BookingSourceCompiledV2 BookingSource = "compiled_v2"
)

// BookingPlan is the slot list a booking-intent turn should collect.
type BookingPlan struct {
	Source  BookingSource    `json:"source"`
	SlotIDs []string         `json:"slotIds"`
	Slots   []SlotDefinition `json:"slots,omitempty"`

	// FallbackReason is set when V2 is on but the turn was served the
	// legacy list because the compiled contract is not clean.
	FallbackReason  string   `json:"fallbackReason,omitempty"`
	MissingSlotRefs []string `json:"missingSlotRefs,omitempty"`
}
