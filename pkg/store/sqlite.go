package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/estately/dealflow/pkg/domain"

	_ "modernc.org/sqlite"
)

// SQLite implements all four store contracts on a single SQLite database.
// The schema carries UNIQUE constraints on the provisioning de-duplication
// keys, so concurrent read-check-then-write provisioning runs cannot
// create duplicate records.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an open database handle and applies the schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS people (
		id TEXT PRIMARY KEY,
		name TEXT,
		first_name TEXT,
		last_name TEXT,
		email TEXT,
		phone TEXT,
		address TEXT,
		birthday TEXT,
		birth_place TEXT,
		id_number TEXT,
		vat_number TEXT,
		bank_account TEXT,
		role TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS obligations (
		person_id TEXT NOT NULL,
		definition_id TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		title TEXT,
		description TEXT,
		status TEXT NOT NULL,
		assigned_at DATETIME,
		completed_at DATETIME,
		due_date DATETIME,
		UNIQUE(person_id, definition_id, scope_id)
	);
	CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		definition_id TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		storage_key TEXT,
		name TEXT,
		submitted_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS scopes (
		id TEXT PRIMARY KEY,
		title TEXT,
		seller_id TEXT,
		buyer_id TEXT,
		manager_id TEXT,
		status TEXT NOT NULL,
		address TEXT,
		price INTEGER,
		handover_date DATETIME
	);
	CREATE TABLE IF NOT EXISTS definitions (
		id TEXT PRIMARY KEY,
		def_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT,
		description TEXT,
		auto_assign_to TEXT,
		auto_add BOOLEAN NOT NULL DEFAULT 0,
		auto_create_task BOOLEAN NOT NULL DEFAULT 0,
		allowed_types TEXT,
		is_global BOOLEAN NOT NULL DEFAULT 0,
		schema JSON,
		default_data JSON,
		need_sig_seller BOOLEAN NOT NULL DEFAULT 0,
		need_sig_buyer BOOLEAN NOT NULL DEFAULT 0,
		template TEXT
	);
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
		assignees JSON,
		signed_by JSON,
		signatures JSON,
		data JSON,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE(definition_key, scope_id, person_id)
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const personCols = `id, name, first_name, last_name, email, phone, address,
	birthday, birth_place, id_number, vat_number, bank_account, role`

// RosterStore.

func (s *SQLite) ListPeople(ctx context.Context) ([]domain.Person, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+personCols+` FROM people`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	for i := range out {
		if err := s.loadLogs(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLite) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personCols+` FROM people WHERE id = ?`, id)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Person{}, fmt.Errorf("person %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Person{}, err
	}
	if err := s.loadLogs(ctx, &p); err != nil {
		return domain.Person{}, err
	}
	return p, nil
}

// PutPerson inserts or replaces a roster profile. Logs are unaffected.
func (s *SQLite) PutPerson(ctx context.Context, p domain.Person) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO people (`+personCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.FirstName, p.LastName, p.Email, p.Phone, p.Address,
		p.Birthday, p.BirthPlace, p.IDNumber, p.VATNumber, p.BankAccount, string(p.Role))
	return storeErr(err)
}

func (s *SQLite) AppendAssignedObligation(ctx context.Context, personID string, o domain.AssignedObligation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO obligations (person_id, definition_id, scope_id, title, description, status, assigned_at, completed_at, due_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		personID, o.DefinitionID, o.ScopeID, o.Title, o.Description, string(o.Status),
		o.AssignedAt, nullTime(o.CompletedAt), nullTime(o.DueDate))
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("obligation %s in scope %s for %s: %w",
			o.DefinitionID, o.ScopeID, personID, domain.ErrAlreadyAssigned)
	}
	return storeErr(err)
}

func (s *SQLite) UpdateObligationStatus(ctx context.Context, personID, definitionID, scopeID string, status domain.TaskStatus) error {
	var completed any
	if status == domain.TaskCompleted {
		completed = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE obligations SET status = ?, completed_at = ?
		WHERE person_id = ? AND definition_id = ? AND scope_id = ?`,
		string(status), completed, personID, definitionID, scopeID)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("obligation %s in scope %s for %s: %w", definitionID, scopeID, personID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLite) AppendEvidence(ctx context.Context, personID string, e domain.Evidence) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, person_id, definition_id, scope_id, storage_key, name, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, personID, e.DefinitionID, e.ScopeID, e.StorageKey, e.Name, e.SubmittedAt)
	return storeErr(err)
}

func (s *SQLite) RemoveEvidence(ctx context.Context, personID, evidenceID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM evidence WHERE id = ? AND person_id = ?`, evidenceID, personID)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("evidence %s for %s: %w", evidenceID, personID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLite) loadLogs(ctx context.Context, p *domain.Person) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition_id, scope_id, title, description, status, assigned_at, completed_at, due_date
		FROM obligations WHERE person_id = ? ORDER BY assigned_at`, p.ID)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var o domain.AssignedObligation
		var status string
		var completed, due sql.NullTime
		if err := rows.Scan(&o.DefinitionID, &o.ScopeID, &o.Title, &o.Description, &status, &o.AssignedAt, &completed, &due); err != nil {
			return storeErr(err)
		}
		o.Status = domain.TaskStatus(status)
		if completed.Valid {
			o.CompletedAt = completed.Time
		}
		if due.Valid {
			o.DueDate = due.Time
		}
		p.AssignedObligations = append(p.AssignedObligations, o)
	}
	if err := rows.Err(); err != nil {
		return storeErr(err)
	}

	erows, err := s.db.QueryContext(ctx, `
		SELECT id, definition_id, scope_id, storage_key, name, submitted_at
		FROM evidence WHERE person_id = ? ORDER BY submitted_at`, p.ID)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = erows.Close() }()
	for erows.Next() {
		var e domain.Evidence
		if err := erows.Scan(&e.ID, &e.DefinitionID, &e.ScopeID, &e.StorageKey, &e.Name, &e.SubmittedAt); err != nil {
			return storeErr(err)
		}
		p.SubmittedEvidence = append(p.SubmittedEvidence, e)
	}
	return storeErr(erows.Err())
}

// ScopeStore.

func (s *SQLite) ListScopes(ctx context.Context) ([]domain.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, seller_id, buyer_id, manager_id, status, address, price, handover_date FROM scopes`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Scope
	for rows.Next() {
		sc, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, storeErr(rows.Err())
}

func (s *SQLite) GetScope(ctx context.Context, id string) (domain.Scope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, seller_id, buyer_id, manager_id, status, address, price, handover_date
		FROM scopes WHERE id = ?`, id)
	sc, err := scanScope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Scope{}, fmt.Errorf("scope %s: %w", id, domain.ErrNotFound)
	}
	return sc, err
}

// PutScope inserts a scope.
func (s *SQLite) PutScope(ctx context.Context, sc domain.Scope) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scopes (id, title, seller_id, buyer_id, manager_id, status, address, price, handover_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Title, sc.SellerID, sc.BuyerID, sc.ManagerID, string(sc.Status),
		sc.Address, sc.Price, nullTime(sc.HandoverDate))
	return storeErr(err)
}

func (s *SQLite) UpdateScope(ctx context.Context, sc domain.Scope) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scopes SET title = ?, seller_id = ?, buyer_id = ?, manager_id = ?, status = ?, address = ?, price = ?, handover_date = ?
		WHERE id = ?`,
		sc.Title, sc.SellerID, sc.BuyerID, sc.ManagerID, string(sc.Status),
		sc.Address, sc.Price, nullTime(sc.HandoverDate), sc.ID)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("scope %s: %w", sc.ID, domain.ErrNotFound)
	}
	return nil
}

// DefinitionStore.

const definitionCols = `id, def_key, kind, title, description, auto_assign_to, auto_add,
	auto_create_task, allowed_types, is_global, schema, default_data,
	need_sig_seller, need_sig_buyer, template`

func (s *SQLite) ListDefinitions(ctx context.Context, kind domain.Kind) ([]domain.Definition, error) {
	query := `SELECT ` + definitionCols + ` FROM definitions`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, storeErr(rows.Err())
}

func (s *SQLite) GetDefinition(ctx context.Context, kind domain.Kind, id string) (domain.Definition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+definitionCols+` FROM definitions WHERE id = ?`, id)
	d, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && kind != "" && d.Kind != kind) {
		return domain.Definition{}, fmt.Errorf("definition %s: %w", id, domain.ErrNotFound)
	}
	return d, err
}

// PutDefinition inserts or replaces a definition.
func (s *SQLite) PutDefinition(ctx context.Context, d domain.Definition) error {
	roles := make([]string, len(d.AutoAssignTo))
	for i, r := range d.AutoAssignTo {
		roles[i] = string(r)
	}
	schema, err := json.Marshal(d.Schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	defaults, err := json.Marshal(d.DefaultData)
	if err != nil {
		return fmt.Errorf("marshal default data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO definitions (`+definitionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Key, string(d.Kind), d.Title, d.Description,
		strings.Join(roles, ","), d.AutoAddToNewScopes, d.AutoCreateTask,
		strings.Join(d.AllowedEvidenceTypes, ","), d.IsGlobal,
		string(schema), string(defaults),
		d.NeedSignatureFromSeller, d.NeedSignatureFromBuyer, d.Template)
	return storeErr(err)
}

// InstanceStore.

const instanceCols = `id, definition_id, definition_key, kind, scope_id, person_id,
	title, content, status, assignees, signed_by, signatures, data, created_at, updated_at`

func (s *SQLite) CreateInstance(ctx context.Context, in domain.Instance) (domain.Instance, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	assignees, signedBy, sigs, data, err := marshalInstanceJSON(in)
	if err != nil {
		return domain.Instance{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instances (`+instanceCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.DefinitionID, in.DefinitionKey, string(in.Kind), in.ScopeID, in.PersonID,
		in.Title, in.Content, string(in.Status), assignees, signedBy, sigs, data,
		in.CreatedAt, in.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return domain.Instance{}, fmt.Errorf("instance %s in scope %s: %w",
			in.DefinitionKey, in.ScopeID, domain.ErrAlreadyAssigned)
	}
	if err != nil {
		return domain.Instance{}, storeErr(err)
	}
	return in, nil
}

func (s *SQLite) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM instances WHERE id = ?`, id)
	in, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Instance{}, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return in, err
}

func (s *SQLite) UpdateInstance(ctx context.Context, in domain.Instance) error {
	assignees, signedBy, sigs, data, err := marshalInstanceJSON(in)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE instances SET person_id = ?, title = ?, content = ?, status = ?,
			assignees = ?, signed_by = ?, signatures = ?, data = ?, updated_at = ?
		WHERE id = ?`,
		in.PersonID, in.Title, in.Content, string(in.Status),
		assignees, signedBy, sigs, data, in.UpdatedAt, in.ID)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("instance %s: %w", in.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLite) DeleteInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLite) ListInstancesByScope(ctx context.Context, scopeID string) ([]domain.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceCols+` FROM instances WHERE scope_id = ? ORDER BY created_at`, scopeID)
	if err != nil {
		return nil, storeErr(err)
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
	return out, storeErr(rows.Err())
}

// Scan helpers.

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(r rowScanner) (domain.Person, error) {
	var p domain.Person
	var role string
	err := r.Scan(&p.ID, &p.Name, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
		&p.Address, &p.Birthday, &p.BirthPlace, &p.IDNumber, &p.VATNumber, &p.BankAccount, &role)
	if err != nil {
		return domain.Person{}, storeErr(err)
	}
	p.Role = domain.Role(role)
	return p, nil
}

func scanScope(r rowScanner) (domain.Scope, error) {
	var sc domain.Scope
	var status string
	var handover sql.NullTime
	err := r.Scan(&sc.ID, &sc.Title, &sc.SellerID, &sc.BuyerID, &sc.ManagerID,
		&status, &sc.Address, &sc.Price, &handover)
	if err != nil {
		return domain.Scope{}, storeErr(err)
	}
	sc.Status = domain.ScopeStatus(status)
	if handover.Valid {
		sc.HandoverDate = handover.Time
	}
	return sc, nil
}

func scanDefinition(r rowScanner) (domain.Definition, error) {
	var d domain.Definition
	var kind, roles, allowed, schema, defaults string
	err := r.Scan(&d.ID, &d.Key, &kind, &d.Title, &d.Description, &roles,
		&d.AutoAddToNewScopes, &d.AutoCreateTask, &allowed, &d.IsGlobal,
		&schema, &defaults, &d.NeedSignatureFromSeller, &d.NeedSignatureFromBuyer, &d.Template)
	if err != nil {
		return domain.Definition{}, storeErr(err)
	}
	d.Kind = domain.Kind(kind)
	for _, raw := range strings.Split(roles, ",") {
		if raw == "" {
			continue
		}
		d.AutoAssignTo = append(d.AutoAssignTo, domain.Role(raw))
	}
	if allowed != "" {
		d.AllowedEvidenceTypes = strings.Split(allowed, ",")
	}
	if schema != "" && schema != "null" {
		if err := json.Unmarshal([]byte(schema), &d.Schema); err != nil {
			return domain.Definition{}, fmt.Errorf("unmarshal schema: %w", err)
		}
	}
	if defaults != "" && defaults != "null" {
		if err := json.Unmarshal([]byte(defaults), &d.DefaultData); err != nil {
			return domain.Definition{}, fmt.Errorf("unmarshal default data: %w", err)
		}
	}
	return d, nil
}

func scanInstance(r rowScanner) (domain.Instance, error) {
	var in domain.Instance
	var kind, status, assignees, signedBy, sigs, data string
	err := r.Scan(&in.ID, &in.DefinitionID, &in.DefinitionKey, &kind, &in.ScopeID, &in.PersonID,
		&in.Title, &in.Content, &status, &assignees, &signedBy, &sigs, &data,
		&in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return domain.Instance{}, storeErr(err)
	}
	in.Kind = domain.Kind(kind)
	in.Status = domain.InstanceStatus(status)
	for _, f := range []struct {
		raw string
		dst any
	}{
		{assignees, &in.Assignees},
		{signedBy, &in.SignedBy},
		{sigs, &in.Signatures},
		{data, &in.Data},
	} {
		if f.raw == "" || f.raw == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return domain.Instance{}, fmt.Errorf("unmarshal instance field: %w", err)
		}
	}
	return in, nil
}

func marshalInstanceJSON(in domain.Instance) (assignees, signedBy, sigs, data string, err error) {
	parts := make([]string, 4)
	for i, v := range []any{in.Assignees, in.SignedBy, in.Signatures, in.Data} {
		b, merr := json.Marshal(v)
		if merr != nil {
			return "", "", "", "", fmt.Errorf("marshal instance field: %w", merr)
		}
		parts[i] = string(b)
	}
	return parts[0], parts[1], parts[2], parts[3], nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
