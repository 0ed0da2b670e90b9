package domain

import "time"

// Kind discriminates the three obligation definition families.
type Kind string

const (
	KindDocument Kind = "DOCUMENT"
	KindForm     Kind = "FORM"
	KindContract Kind = "CONTRACT"
)

// Definition is an administrator-owned obligation template. Definitions
// are immutable during a provisioning run; orchestrators work from a
// read-only snapshot.
type Definition struct {
	ID          string
	Key         string
	Kind        Kind
	Title       string
	Description string

	// Targeting.
	AutoAssignTo       []Role
	AutoAddToNewScopes bool
	AutoCreateTask     bool

	// Document payload.
	AllowedEvidenceTypes []string
	IsGlobal             bool

	// Form payload.
	Schema      map[string]any
	DefaultData map[string]any

	// Forms and contracts.
	NeedSignatureFromSeller bool
	NeedSignatureFromBuyer  bool

	// Contract payload.
	Template string
}

// RequiredSignatureRoles lists the roles whose signature the definition
// demands, in a fixed seller-first order.
func (d Definition) RequiredSignatureRoles() []Role {
	var roles []Role
	if d.NeedSignatureFromSeller {
		roles = append(roles, RoleSeller)
	}
	if d.NeedSignatureFromBuyer {
		roles = append(roles, RoleBuyer)
	}
	return roles
}

// InstanceStatus covers all obligation-instance state machines. Documents
// and tasks use Pending/Completed; forms run Draft through
// Completed/Closed/Rejected; contracts run PendingSignature/Signed.
type InstanceStatus string

const (
	StatusPending          InstanceStatus = "PENDING"
	StatusCompleted        InstanceStatus = "COMPLETED"
	StatusDraft            InstanceStatus = "DRAFT"
	StatusAssigned         InstanceStatus = "ASSIGNED"
	StatusSubmitted        InstanceStatus = "SUBMITTED"
	StatusClosed           InstanceStatus = "CLOSED"
	StatusRejected         InstanceStatus = "REJECTED"
	StatusPendingSignature InstanceStatus = "PENDING_SIGNATURE"
	StatusSigned           InstanceStatus = "SIGNED"
)

// Signature is one signer's mark on a form instance.
type Signature struct {
	PersonID   string
	StorageKey string
	SignedAt   time.Time
}

// Instance is the materialized obligation record created per
// (definition, person-or-scope). Form and contract instances live in the
// instance store; document obligations live on the person's log.
type Instance struct {
	ID            string
	DefinitionID  string
	DefinitionKey string
	Kind          Kind
	ScopeID       string
	PersonID      string // "" for an unassigned draft
	Title         string
	Content       string // rendered contract text
	Status        InstanceStatus

	// Contract signing state.
	Assignees []string
	SignedBy  []string

	// Form state.
	Signatures map[Role]Signature
	Data       map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullySigned reports whether every assignee's ID appears in SignedBy.
func (i Instance) FullySigned() bool {
	if len(i.Assignees) == 0 {
		return false
	}
	signed := make(map[string]bool, len(i.SignedBy))
	for _, id := range i.SignedBy {
		signed[id] = true
	}
	for _, id := range i.Assignees {
		if !signed[id] {
			return false
		}
	}
	return true
}

// Actor is the identity on whose behalf a synchronization operation runs.
type Actor struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the actor holds administrative privileges.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
