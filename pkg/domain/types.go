// Package domain holds the shared data model of the entitlement and
// fulfillment engine: people, scopes (transactions), obligation
// definitions, materialized obligation instances, and submitted evidence.
package domain

import "time"

// Scope sentinels. ScopePersonal marks obligations assigned outside any
// transaction; ScopeGlobal marks vault evidence valid across all scopes.
const (
	ScopePersonal = "personal"
	ScopeGlobal   = "global"
)

// ScopeStatus is the lifecycle state of a transaction.
type ScopeStatus string

const (
	ScopeDraft         ScopeStatus = "DRAFT"
	ScopeActive        ScopeStatus = "ACTIVE"
	ScopeUnderContract ScopeStatus = "UNDER_CONTRACT"
	ScopeSold          ScopeStatus = "SOLD"
	ScopeArchived      ScopeStatus = "ARCHIVED"
)

// ActiveLike reports whether the scope still accepts new obligations.
func (s ScopeStatus) ActiveLike() bool {
	return s == ScopeActive || s == ScopeUnderContract
}

// Scope is a single real-estate transaction grouping a seller, buyer and
// managing agent. Participant references are optional; a scope may exist
// before a buyer is known.
type Scope struct {
	ID           string
	Title        string
	SellerID     string
	BuyerID      string
	ManagerID    string
	Status       ScopeStatus
	Address      string
	Price        int64
	HandoverDate time.Time // zero means not yet agreed
}

// ParticipantID returns the person occupying the given role on the scope,
// or "" when the position is vacant.
func (s Scope) ParticipantID(r Role) string {
	switch r {
	case RoleSeller:
		return s.SellerID
	case RoleBuyer:
		return s.BuyerID
	case RoleAdmin:
		return s.ManagerID
	}
	return ""
}

// Occupies reports whether the person holds any position on the scope.
func (s Scope) Occupies(personID string) bool {
	return personID != "" &&
		(s.SellerID == personID || s.BuyerID == personID || s.ManagerID == personID)
}

// TaskStatus is the two-state lifecycle of document and task obligations.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskCompleted TaskStatus = "COMPLETED"
)

// AssignedObligation is one entry in a person's obligation log. At most
// one entry exists per (DefinitionID, ScopeID) per person; stores enforce
// this as the provisioning de-duplication key.
type AssignedObligation struct {
	DefinitionID string
	ScopeID      string
	Title        string
	Description  string
	Status       TaskStatus
	AssignedAt   time.Time
	CompletedAt  time.Time // zero until completed
	DueDate      time.Time // zero means no deadline
}

// Evidence is an uploaded artifact proving a requirement was fulfilled.
// StorageKey is opaque to the engine; only the blob store interprets it.
type Evidence struct {
	ID           string
	DefinitionID string
	ScopeID      string // a concrete scope ID or ScopeGlobal
	StorageKey   string
	Name         string
	SubmittedAt  time.Time
}

// Person is a roster entry with its two append-only logs.
type Person struct {
	ID          string
	Name        string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Address     string
	Birthday    string
	BirthPlace  string
	IDNumber    string
	VATNumber   string
	BankAccount string
	Role        Role

	AssignedObligations []AssignedObligation
	SubmittedEvidence   []Evidence
}

// ObligationFor returns the person's obligation entry for the key, if any.
func (p Person) ObligationFor(definitionID, scopeID string) (AssignedObligation, bool) {
	for _, o := range p.AssignedObligations {
		if o.DefinitionID == definitionID && o.ScopeID == scopeID {
			return o, true
		}
	}
	return AssignedObligation{}, false
}
