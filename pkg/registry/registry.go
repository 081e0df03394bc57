// Package registry reads company agent documents (YAML or JSON), validates
// them against CompanyDocumentSchema and turns them into CompanyConfig values.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/validation"
	"agent-engine/internal/models"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var documentSchema = validation.MustCompile(CompanyDocumentSchema)

// FormatForPath infers the document format from a file extension.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	}
	return "", false
}

// LoadDocument reads and parses one document from disk.
func LoadDocument(path string) (*models.CompanyConfig, error) {
	format, ok := FormatForPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported document extension: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDocument(data, format)
}

// ParseDocument validates and decodes a document. Both formats are routed
// through the same JSON representation so schema and struct tags agree.
func ParseDocument(data []byte, format Format) (*models.CompanyConfig, error) {
	raw, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}

	result, err := documentSchema.ValidateJSON(raw)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		var head struct {
			CompanyID string `json:"companyId"`
		}
		_ = json.Unmarshal(raw, &head)
		return nil, errors.NewConfigInvalidError(head.CompanyID, result.GetErrorMessages())
	}

	var cfg models.CompanyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

func toJSON(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return data, nil
	case FormatYAML:
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
		if doc == nil {
			return nil, fmt.Errorf("empty document")
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("document is not representable as JSON: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// MarshalDocument renders a config in the requested format.
func MarshalDocument(cfg *models.CompanyConfig, format Format) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if format == FormatJSON {
		return raw, nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}
