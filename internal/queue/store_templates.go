package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateTemplate inserts a template and returns it with identifiers populated.
func (s *Store) CreateTemplate(ctx context.Context, tpl *Template) (*Template, error) {
	if tpl == nil {
		return nil, errors.New("template is nil")
	}
	if tpl.TenantID == "" {
		return nil, errors.New("template requires tenant id")
	}
	if tpl.Name == "" {
		return nil, errors.New("template requires a name")
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO templates (
            tenant_id, name, priority, rules_json, processing_json,
            metadata_json, output_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tpl.TenantID,
		tpl.Name,
		tpl.Priority,
		orEmptyObject(tpl.RulesJSON),
		orEmptyObject(tpl.ProcessingJSON),
		orEmptyObject(tpl.MetadataJSON),
		orEmptyObject(tpl.OutputJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetTemplate(ctx, id)
}

// GetTemplate fetches a template by identifier.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// UpdateTemplate persists rule and fragment changes.
func (s *Store) UpdateTemplate(ctx context.Context, tpl *Template) error {
	if tpl == nil {
		return errors.New("template is nil")
	}
	tpl.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE templates
         SET name = ?, priority = ?, rules_json = ?, processing_json = ?,
             metadata_json = ?, output_json = ?, updated_at = ?
         WHERE id = ?`,
		tpl.Name,
		tpl.Priority,
		orEmptyObject(tpl.RulesJSON),
		orEmptyObject(tpl.ProcessingJSON),
		orEmptyObject(tpl.MetadataJSON),
		orEmptyObject(tpl.OutputJSON),
		tpl.UpdatedAt.Format(time.RFC3339Nano),
		tpl.ID,
	); err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return nil
}

// TemplatesForTenant lists a tenant's templates ordered by creation time.
func (s *Store) TemplatesForTenant(ctx context.Context, tenantID string) ([]*Template, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+templateColumns+` FROM templates WHERE tenant_id = ? ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// DeleteTemplate removes a template and, in the same transaction, detaches
// every item that referenced it. Detached items fall back to tenant defaults
// and are flagged for re-match so an assignment is never left dangling.
func (s *Store) DeleteTemplate(ctx context.Context, id int64) (int64, error) {
	ctx = ensureContext(ctx)

	var detached int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete template tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		timestamp := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := tx.ExecContext(
			ctx,
			`UPDATE items SET template_id = NULL, needs_rematch = 1, updated_at = ?
             WHERE template_id = ?`,
			timestamp,
			id,
		)
		if err != nil {
			return fmt.Errorf("detach items: %w", err)
		}
		if detached, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete template: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return detached, nil
}

// AssignTemplate records a match decision for an item and clears the
// re-match flag.
func (s *Store) AssignTemplate(ctx context.Context, itemID int64, templateID *int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE items SET template_id = ?, needs_rematch = 0, updated_at = ? WHERE id = ?`,
		nullableInt64(templateID),
		time.Now().UTC().Format(time.RFC3339Nano),
		itemID,
	); err != nil {
		return fmt.Errorf("assign template: %w", err)
	}
	return nil
}

// ItemsNeedingRematch lists a tenant's items flagged after a template change.
func (s *Store) ItemsNeedingRematch(ctx context.Context, tenantID string) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM items WHERE tenant_id = ? AND needs_rematch = 1 ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("items needing rematch: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func orEmptyObject(value string) string {
	if value == "" {
		return "{}"
	}
	return value
}
