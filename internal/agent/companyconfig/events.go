package companyconfig

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agent-engine/internal/common/messaging"
)

// RoutingKeyConfigChanged is published by whatever owns the company documents.
const RoutingKeyConfigChanged = "company.config.changed"

// ConfigChangedEvent announces that one company's document was edited.
type ConfigChangedEvent struct {
	EventID    string    `json:"eventId"`
	CompanyID  string    `json:"companyId"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ConfigChangedHandler invalidates the named company. An event without a
// company is poison; an invalidation error is returned so the delivery is
// retried.
func ConfigChangedHandler(inv Invalidator) func(context.Context, ConfigChangedEvent) error {
	return func(ctx context.Context, ev ConfigChangedEvent) error {
		if strings.TrimSpace(ev.CompanyID) == "" {
			return fmt.Errorf("%w: event %q has no companyId", messaging.ErrPoison, ev.EventID)
		}
		return inv.InvalidateCompany(ctx, ev.CompanyID, OriginEvent)
	}
}
