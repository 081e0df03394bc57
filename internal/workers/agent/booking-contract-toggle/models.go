// internal/workers/agent/booking-contract-toggle/models.go
package bookingcontracttoggle

import "agent-engine/internal/agent/rollout"

type Input struct {
	CompanyID string `json:"companyId"`
	Enabled   *bool  `json:"enabled"`
	// RequestedBy is recorded in the log only.
	RequestedBy string `json:"requestedBy,omitempty"`
}

type Output struct {
	rollout.Result
}
