// Package store defines the engine's boundary contracts to the backing
// data store and provides memory, SQLite and PostgreSQL implementations.
// The store is where the provisioning de-duplication key is enforced:
// at most one assigned obligation per (definition, scope) per person and
// at most one instance per (definition key, scope, person).
package store

import (
	"context"

	"github.com/estately/dealflow/pkg/domain"
)

// RosterStore persists people and their obligation and evidence logs.
type RosterStore interface {
	ListPeople(ctx context.Context) ([]domain.Person, error)
	GetPerson(ctx context.Context, id string) (domain.Person, error)
	// AppendAssignedObligation adds an entry to the person's log. It
	// returns domain.ErrAlreadyAssigned when an entry with the same
	// (DefinitionID, ScopeID) already exists.
	AppendAssignedObligation(ctx context.Context, personID string, o domain.AssignedObligation) error
	UpdateObligationStatus(ctx context.Context, personID, definitionID, scopeID string, status domain.TaskStatus) error
	AppendEvidence(ctx context.Context, personID string, e domain.Evidence) error
	RemoveEvidence(ctx context.Context, personID, evidenceID string) error
}

// ScopeStore persists transactions.
type ScopeStore interface {
	ListScopes(ctx context.Context) ([]domain.Scope, error)
	GetScope(ctx context.Context, id string) (domain.Scope, error)
	UpdateScope(ctx context.Context, s domain.Scope) error
}

// DefinitionStore persists administrator-owned obligation definitions.
type DefinitionStore interface {
	ListDefinitions(ctx context.Context, kind domain.Kind) ([]domain.Definition, error)
	GetDefinition(ctx context.Context, kind domain.Kind, id string) (domain.Definition, error)
}

// InstanceStore persists form and contract obligation instances.
type InstanceStore interface {
	// CreateInstance persists a new instance. It returns
	// domain.ErrAlreadyAssigned when an instance with the same
	// (DefinitionKey, ScopeID, PersonID) already exists.
	CreateInstance(ctx context.Context, in domain.Instance) (domain.Instance, error)
	GetInstance(ctx context.Context, id string) (domain.Instance, error)
	UpdateInstance(ctx context.Context, in domain.Instance) error
	DeleteInstance(ctx context.Context, id string) error
	ListInstancesByScope(ctx context.Context, scopeID string) ([]domain.Instance, error)
}
