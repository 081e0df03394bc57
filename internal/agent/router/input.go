package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/validation"
)

// Text may be empty; Route escalates it with EMPTY_TEXT.
var turnSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["companyId", "text"],
	"properties": {
		"companyId": {"type": "string", "minLength": 1},
		"conversationId": {"type": "string"},
		"text": {"type": "string"},
		"flags": {"type": "object", "additionalProperties": {"type": "boolean"}}
	}
}`)

// DecodeTurn validates raw JSON and decodes it into a Turn.
func DecodeTurn(raw []byte) (Turn, error) {
	result, err := turnSchema.ValidateJSON(raw)
	if err != nil {
		return Turn{}, errors.NewInvalidRouteInputError(err.Error())
	}
	if !result.Valid {
		return Turn{}, errors.NewInvalidRouteInputError(strings.Join(result.GetErrorMessages(), "; "))
	}

	var turn Turn
	if err := json.Unmarshal(raw, &turn); err != nil {
		return Turn{}, errors.NewInvalidRouteInputError(fmt.Sprintf("parse input: %v", err))
	}
	return turn, nil
}
