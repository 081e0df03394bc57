package registry

// CompanyDocumentSchema is the JSON schema every company agent document must
// satisfy before it can become a snapshot. Thresholds, providers and
// templates are optional here on purpose: their absence is reported by
// runtime truth instead of blocking the load.
const CompanyDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["companyId"],
  "properties": {
    "companyId": {"type": "string", "minLength": 1},
    "qaEntries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "question", "answer"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "question": {"type": "string", "minLength": 1},
          "answer": {"type": "string"},
          "keywords": {"type": "array", "items": {"type": "string"}},
          "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    },
    "thresholds": {
      "type": "object",
      "required": ["accept", "escalate"],
      "properties": {
        "accept": {"type": "number", "minimum": 0, "maximum": 1},
        "escalate": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "providers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"type": "string", "enum": ["http", "gemini"]},
          "model": {"type": "string"},
          "timeoutMs": {"type": "integer", "minimum": 0},
          "failureThreshold": {"type": "integer", "minimum": 0},
          "cooldownMs": {"type": "integer", "minimum": 0}
        }
      }
    },
    "featureFlags": {"type": "object", "additionalProperties": {"type": "boolean"}},
    "slotLibrary": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "label": {"type": "string"},
          "type": {"type": "string", "enum": ["text", "phone", "address", "datetime", "email", "number"]},
          "required": {"type": "boolean"},
          "dependsOn": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "slotGroups": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "slotIds"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "slotIds": {"type": "array", "items": {"type": "string"}},
          "when": {
            "type": "object",
            "properties": {
              "allOf": {"type": "array", "items": {"type": "string"}},
              "anyOf": {"type": "array", "items": {"type": "string"}},
              "noneOf": {"type": "array", "items": {"type": "string"}}
            },
            "additionalProperties": false
          }
        }
      }
    },
    "bookingContract": {
      "type": "object",
      "properties": {"version": {"type": "string"}}
    },
    "legacyBookingSlots": {"type": "array", "items": {"type": "string"}},
    "bookingKeywords": {"type": "array", "items": {"type": "string"}},
    "templates": {"type": "object", "additionalProperties": {"type": "string"}},
    "escalation": {
      "type": "object",
      "properties": {
        "snsTopicArn": {"type": "string"},
        "operatorEmail": {"type": "string"}
      }
    }
  }
}`
