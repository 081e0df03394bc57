package companyconfig

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"agent-engine/internal/models"
	"agent-engine/pkg/registry"
)

const (
	selectDocumentQuery = `SELECT document, updated_at FROM company_agent_configs WHERE company_id = $1`
	selectFlagsQuery    = `SELECT flag_name, enabled FROM company_feature_flags WHERE company_id = $1`
	upsertFlagQuery     = `INSERT INTO company_feature_flags (company_id, flag_name, enabled, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (company_id, flag_name) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()`
	listCompaniesQuery = `SELECT company_id FROM company_agent_configs ORDER BY company_id`
)

// PostgresSource reads documents from company_agent_configs. Rows in
// company_feature_flags override the document's featureFlags.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Fetch(ctx context.Context, companyID string) (*models.CompanyConfig, error) {
	var raw []byte
	var cfg *models.CompanyConfig
	var updatedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, selectDocumentQuery, companyID).Scan(&raw, &updatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query company document: %w", err)
	}

	cfg, err = registry.ParseDocument(raw, registry.FormatJSON)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		cfg.UpdatedAt = updatedAt.Time
	}

	rows, err := s.db.QueryContext(ctx, selectFlagsQuery, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature flags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan feature flag: %w", err)
		}
		if cfg.FeatureFlags == nil {
			cfg.FeatureFlags = make(map[string]bool)
		}
		cfg.FeatureFlags[name] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feature flags: %w", err)
	}

	cfg.Normalize()
	return cfg, nil
}

func (s *PostgresSource) SetFeatureFlag(ctx context.Context, companyID, flag string, enabled bool) error {
	if _, err := s.db.ExecContext(ctx, upsertFlagQuery, companyID, flag, enabled); err != nil {
		return fmt.Errorf("failed to upsert feature flag: %w", err)
	}
	return nil
}

// ListCompanies returns every company with a document.
func (s *PostgresSource) ListCompanies(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listCompaniesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
