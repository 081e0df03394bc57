// internal/workers/agent/runtime-truth/models.go
package runtimetruth

import "agent-engine/internal/models"

type Input struct {
	CompanyID string `json:"companyId"`
}

type Output struct {
	models.RuntimeHealth
	Operable bool `json:"operable"`
}
