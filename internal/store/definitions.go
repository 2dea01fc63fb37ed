package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned by point reads for absent rows.
var ErrNotFound = errors.New("not found")

// UpsertDefinition registers a definition under a name, replacing any
// previous definition with the same name. Names are NFC-normalized so
// uniqueness is canonical regardless of how the client composed the
// string.
//
// Redeploying an existing name keeps the definition id stable; running
// instances keep pointing at the same row and pick up the new tree on
// their next load.
func (s *Store) UpsertDefinition(ctx context.Context, name string, definitionJSON []byte) (Definition, error) {
	name = norm.NFC.String(name)
	now := ms(time.Now())
	id := uuid.NewString()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, name, definition_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			definition_json = excluded.definition_json,
			updated_at = excluded.updated_at
	`, id, name, string(definitionJSON), now, now)
	if err != nil {
		return Definition{}, fmt.Errorf("upsert definition %q: %w", name, err)
	}

	return s.GetDefinition(ctx, name)
}

// GetDefinition fetches a definition by name.
func (s *Store) GetDefinition(ctx context.Context, name string) (Definition, error) {
	name = norm.NFC.String(name)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, definition_json, created_at, updated_at
		FROM workflow_definitions WHERE name = ?
	`, name)
	return scanDefinition(row)
}

// GetDefinitionByID fetches a definition by id.
func (s *Store) GetDefinitionByID(ctx context.Context, id string) (Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, definition_json, created_at, updated_at
		FROM workflow_definitions WHERE id = ?
	`, id)
	return scanDefinition(row)
}

// ListDefinitions returns all definitions ordered by name.
func (s *Store) ListDefinitions(ctx context.Context) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, definition_json, created_at, updated_at
		FROM workflow_definitions ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		d, err := scanDefinitionRows(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func scanDefinition(row *sql.Row) (Definition, error) {
	var d Definition
	var defJSON string
	var created, updated int64
	err := row.Scan(&d.ID, &d.Name, &defJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Definition{}, ErrNotFound
	}
	if err != nil {
		return Definition{}, fmt.Errorf("scan definition: %w", err)
	}
	d.DefinitionJSON = []byte(defJSON)
	d.CreatedAt = time.UnixMilli(created).UTC()
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	return d, nil
}

func scanDefinitionRows(rows *sql.Rows) (Definition, error) {
	var d Definition
	var defJSON string
	var created, updated int64
	if err := rows.Scan(&d.ID, &d.Name, &defJSON, &created, &updated); err != nil {
		return Definition{}, fmt.Errorf("scan definition: %w", err)
	}
	d.DefinitionJSON = []byte(defJSON)
	d.CreatedAt = time.UnixMilli(created).UTC()
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	return d, nil
}
