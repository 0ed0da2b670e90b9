package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/estately/dealflow/pkg/domain"
)

// PostgresInstances implements InstanceStore on PostgreSQL. Deployments
// that keep the roster in SQLite can still share form and contract
// instances across agency nodes through a central Postgres.
type PostgresInstances struct {
	db *sql.DB
}

func NewPostgresInstances(db *sql.DB) *PostgresInstances {
	return &PostgresInstances{db: db}
}

// Migrate applies the instances schema. The unique index is the
// provisioning de-duplication key.
func (s *PostgresInstances) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		definition_id TEXT NOT NULL,
		definition_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		person_id TEXT NOT NULL DEFAULT '',
		title TEXT,
		content TEXT,
		status TEXT NOT NULL,
		assignees JSONB,
		signed_by JSONB,
		signatures JSONB,
		data JSONB,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		UNIQUE(definition_key, scope_id, person_id)
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate instances: %w", err)
	}
	return nil
}

func (s *PostgresInstances) CreateInstance(ctx context.Context, in domain.Instance) (domain.Instance, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	assignees, signedBy, sigs, data, err := marshalInstanceJSON(in)
	if err != nil {
		return domain.Instance{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, definition_id, definition_key, kind, scope_id, person_id,
			title, content, status, assignees, signed_by, signatures, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (definition_key, scope_id, person_id) DO NOTHING`,
		in.ID, in.DefinitionID, in.DefinitionKey, string(in.Kind), in.ScopeID, in.PersonID,
		in.Title, in.Content, string(in.Status), assignees, signedBy, sigs, data,
		in.CreatedAt, in.UpdatedAt)
	if err != nil {
		return domain.Instance{}, pgErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Instance{}, fmt.Errorf("instance %s in scope %s: %w",
			in.DefinitionKey, in.ScopeID, domain.ErrAlreadyAssigned)
	}
	return in, nil
}

func (s *PostgresInstances) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, definition_id, definition_key, kind, scope_id, person_id,
			title, content, status, assignees, signed_by, signatures, data, created_at, updated_at
		FROM instances WHERE id = $1`, id)
	in, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Instance{}, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return in, err
}

func (s *PostgresInstances) UpdateInstance(ctx context.Context, in domain.Instance) error {
	assignees, signedBy, sigs, data, err := marshalInstanceJSON(in)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE instances SET person_id = $1, title = $2, content = $3, status = $4,
			assignees = $5, signed_by = $6, signatures = $7, data = $8, updated_at = $9
		WHERE id = $10`,
		in.PersonID, in.Title, in.Content, string(in.Status),
		assignees, signedBy, sigs, data, in.UpdatedAt, in.ID)
	if err != nil {
		return pgErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("instance %s: %w", in.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresInstances) DeleteInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return pgErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresInstances) ListInstancesByScope(ctx context.Context, scopeID string) ([]domain.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, definition_id, definition_key, kind, scope_id, person_id,
			title, content, status, assignees, signed_by, signatures, data, created_at, updated_at
		FROM instances WHERE scope_id = $1 ORDER BY created_at`, scopeID)
	if err != nil {
		return nil, pgErr(err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Instance
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, pgErr(rows.Err())
}

func pgErr(err error) error {
	if err == nil {
		return nil
	}
	var perr *pq.Error
	if errors.As(err, &perr) && perr.Code == "23505" {
		return fmt.Errorf("%w: %v", domain.ErrAlreadyAssigned, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
