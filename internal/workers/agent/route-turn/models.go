// internal/workers/agent/route-turn/models.go
package routeturn

import "agent-engine/internal/models"

type Input struct {
	CompanyID      string          `json:"companyId"`
	ConversationID string          `json:"conversationId,omitempty"`
	Text           string          `json:"text"`
	Flags          map[string]bool `json:"flags,omitempty"`
}

// Output flattens the decision into process variables.
type Output struct {
	models.RouteDecision
}
