// Package lifecycle moves obligation records through their state
// machines and enforces who may move them. Every operation is a total
// function over (current status, actor); an illegal transition returns
// domain.ErrAuthorizationDenied or a state error and changes nothing.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/estately/dealflow/pkg/blob"
	"github.com/estately/dealflow/pkg/domain"
	"github.com/estately/dealflow/pkg/forms"
	"github.com/estately/dealflow/pkg/fulfillment"
	"github.com/estately/dealflow/pkg/store"
)

// Synchronizer applies status transitions. Validator may be nil to skip
// schema validation on form submissions.
type Synchronizer struct {
	Roster    store.RosterStore
	Instances store.InstanceStore
	Defs      store.DefinitionStore
	Blobs     blob.Store
	Validator *forms.Validator
	Now       func() time.Time
	Logger    *slog.Logger
}

func New(roster store.RosterStore, instances store.InstanceStore, defs store.DefinitionStore, blobs blob.Store) *Synchronizer {
	return &Synchronizer{
		Roster:    roster,
		Instances: instances,
		Defs:      defs,
		Blobs:     blobs,
		Validator: forms.NewValidator(),
		Now:       time.Now,
		Logger:    slog.Default().With("component", "lifecycle"),
	}
}

func (s *Synchronizer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func ownerOrAdmin(actor domain.Actor, ownerID string) bool {
	return actor.IsAdmin() || actor.ID == ownerID
}

// Documents and tasks.

// CompleteDocument marks a person's document or task obligation
// COMPLETED. The owner and administrators may complete.
func (s *Synchronizer) CompleteDocument(ctx context.Context, actor domain.Actor, personID, definitionID, scopeID string) error {
	if !ownerOrAdmin(actor, personID) {
		return fmt.Errorf("complete obligation %s for %s: %w", definitionID, personID, domain.ErrAuthorizationDenied)
	}
	return s.Roster.UpdateObligationStatus(ctx, personID, definitionID, scopeID, domain.TaskCompleted)
}

// UndoDocument reverts a completed obligation to PENDING and deletes
// the evidence backing it, blob bytes included. A global definition's
// obligation may have been completed by vault evidence, so that is
// deleted too; otherwise the detector would report the requirement
// satisfied while the obligation reads pending. The owner and
// administrators may undo.
func (s *Synchronizer) UndoDocument(ctx context.Context, actor domain.Actor, personID, definitionID, scopeID string) error {
	if !ownerOrAdmin(actor, personID) {
		return fmt.Errorf("undo obligation %s for %s: %w", definitionID, personID, domain.ErrAuthorizationDenied)
	}

	isGlobal := false
	def, err := s.Defs.GetDefinition(ctx, domain.KindDocument, definitionID)
	switch {
	case err == nil:
		isGlobal = def.IsGlobal
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	person, err := s.Roster.GetPerson(ctx, personID)
	if err != nil {
		return err
	}
	for _, ev := range person.SubmittedEvidence {
		if ev.DefinitionID != definitionID {
			continue
		}
		if ev.ScopeID != scopeID && !(isGlobal && ev.ScopeID == domain.ScopeGlobal) {
			continue
		}
		if s.Blobs != nil && ev.StorageKey != "" {
			if err := s.Blobs.Delete(ctx, ev.StorageKey); err != nil {
				s.Logger.Warn("evidence blob delete failed",
					"evidence", ev.ID, "key", ev.StorageKey, "error", err)
			}
		}
		if err := s.Roster.RemoveEvidence(ctx, personID, ev.ID); err != nil {
			return err
		}
	}
	return s.Roster.UpdateObligationStatus(ctx, personID, definitionID, scopeID, domain.TaskPending)
}

// SubmitEvidence uploads evidence bytes, records the vault entry, and
// completes the linked obligation when one exists. Owners and
// administrators may submit.
func (s *Synchronizer) SubmitEvidence(ctx context.Context, actor domain.Actor, personID string, def domain.Definition, scopeID, name string, data []byte) (domain.Evidence, error) {
	if !ownerOrAdmin(actor, personID) {
		return domain.Evidence{}, fmt.Errorf("submit evidence for %s: %w", personID, domain.ErrAuthorizationDenied)
	}

	key, err := s.Blobs.Put(ctx, data)
	if err != nil {
		return domain.Evidence{}, err
	}
	ev := domain.Evidence{
		DefinitionID: def.ID,
		ScopeID:      scopeID,
		StorageKey:   key,
		Name:         name,
		SubmittedAt:  s.now(),
	}
	if err := s.Roster.AppendEvidence(ctx, personID, ev); err != nil {
		return domain.Evidence{}, err
	}

	person, err := s.Roster.GetPerson(ctx, personID)
	if err != nil {
		return ev, err
	}
	obScope := scopeID
	if def.IsGlobal && scopeID == domain.ScopeGlobal {
		obScope = domain.ScopePersonal
	}
	if _, ok := person.ObligationFor(def.ID, obScope); ok {
		if err := s.Roster.UpdateObligationStatus(ctx, personID, def.ID, obScope, domain.TaskCompleted); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// Forms.

func (s *Synchronizer) formDefinition(ctx context.Context, in domain.Instance) (domain.Definition, error) {
	return s.Defs.GetDefinition(ctx, in.Kind, in.DefinitionID)
}

// formLocked reports whether only administrators may still touch the
// form: terminal statuses and fully signed forms are locked.
func formLocked(in domain.Instance, def domain.Definition) bool {
	if in.Status == domain.StatusCompleted || in.Status == domain.StatusClosed {
		return true
	}
	return fulfillment.SignaturesSatisfy(def, in.Signatures)
}

// SubmitForm validates and stores a form submission. The assignee and
// administrators may submit; a locked form accepts only administrators.
func (s *Synchronizer) SubmitForm(ctx context.Context, actor domain.Actor, instanceID string, data map[string]any) (domain.Instance, error) {
	in, err := s.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if in.Kind != domain.KindForm {
		return domain.Instance{}, fmt.Errorf("instance %s is not a form", instanceID)
	}
	if !ownerOrAdmin(actor, in.PersonID) {
		return domain.Instance{}, fmt.Errorf("submit form %s: %w", instanceID, domain.ErrAuthorizationDenied)
	}

	def, err := s.formDefinition(ctx, in)
	if err != nil {
		return domain.Instance{}, err
	}
	if formLocked(in, def) && !actor.IsAdmin() {
		return domain.Instance{}, fmt.Errorf("form %s is locked: %w", instanceID, domain.ErrAuthorizationDenied)
	}

	merged := forms.MergeDefaults(def, data)
	if s.Validator != nil {
		if err := s.Validator.ValidateSubmission(def, merged); err != nil {
			return domain.Instance{}, err
		}
	}

	in.Data = merged
	in.Status = domain.StatusSubmitted
	in.UpdatedAt = s.now()
	if err := s.Instances.UpdateInstance(ctx, in); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// SignForm records one role's signature on a submitted form. Once every
// demanded role has signed, the form flips to COMPLETED.
func (s *Synchronizer) SignForm(ctx context.Context, actor domain.Actor, instanceID string, role domain.Role, storageKey string) (domain.Instance, error) {
	in, err := s.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if in.Kind != domain.KindForm {
		return domain.Instance{}, fmt.Errorf("instance %s is not a form", instanceID)
	}
	if in.Status != domain.StatusSubmitted {
		return domain.Instance{}, fmt.Errorf("form %s is %s, only a submitted form can be signed", instanceID, in.Status)
	}

	def, err := s.formDefinition(ctx, in)
	if err != nil {
		return domain.Instance{}, err
	}
	demanded := false
	for _, r := range def.RequiredSignatureRoles() {
		if r == role {
			demanded = true
			break
		}
	}
	if !demanded {
		return domain.Instance{}, fmt.Errorf("form %s does not demand a %s signature", instanceID, role)
	}
	if !actor.IsAdmin() && actor.Role != role {
		return domain.Instance{}, fmt.Errorf("sign form %s as %s: %w", instanceID, role, domain.ErrAuthorizationDenied)
	}

	if in.Signatures == nil {
		in.Signatures = make(map[domain.Role]domain.Signature)
	}
	in.Signatures[role] = domain.Signature{
		PersonID:   actor.ID,
		StorageKey: storageKey,
		SignedAt:   s.now(),
	}
	if fulfillment.SignaturesSatisfy(def, in.Signatures) {
		in.Status = domain.StatusCompleted
	}
	in.UpdatedAt = s.now()
	if err := s.Instances.UpdateInstance(ctx, in); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// UndoFormSignature removes one role's signature and reverts the form
// to SUBMITTED, never below. A signer may undo only their own mark, and
// once the form is locked (completed, closed, or fully signed) only an
// administrator may revert it, even the signer's own signature.
func (s *Synchronizer) UndoFormSignature(ctx context.Context, actor domain.Actor, instanceID string, role domain.Role) (domain.Instance, error) {
	in, err := s.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if in.Kind != domain.KindForm {
		return domain.Instance{}, fmt.Errorf("instance %s is not a form", instanceID)
	}
	sig, ok := in.Signatures[role]
	if !ok {
		return domain.Instance{}, fmt.Errorf("form %s has no %s signature: %w", instanceID, role, domain.ErrNotFound)
	}

	def, err := s.formDefinition(ctx, in)
	if err != nil {
		return domain.Instance{}, err
	}
	if formLocked(in, def) {
		if !actor.IsAdmin() {
			return domain.Instance{}, fmt.Errorf("undo signature on locked form %s: %w", instanceID, domain.ErrAuthorizationDenied)
		}
	} else if !ownerOrAdmin(actor, sig.PersonID) {
		return domain.Instance{}, fmt.Errorf("undo %s signature on form %s: %w", role, instanceID, domain.ErrAuthorizationDenied)
	}

	delete(in.Signatures, role)
	in.Status = domain.StatusSubmitted
	in.UpdatedAt = s.now()
	if err := s.Instances.UpdateInstance(ctx, in); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// CloseForm and RejectForm are administrative terminal transitions.

func (s *Synchronizer) CloseForm(ctx context.Context, actor domain.Actor, instanceID string) (domain.Instance, error) {
	return s.adminFormTransition(ctx, actor, instanceID, domain.StatusClosed)
}

func (s *Synchronizer) RejectForm(ctx context.Context, actor domain.Actor, instanceID string) (domain.Instance, error) {
	return s.adminFormTransition(ctx, actor, instanceID, domain.StatusRejected)
}

// UnlockForm reopens a terminal or fully signed form back to SUBMITTED.
func (s *Synchronizer) UnlockForm(ctx context.Context, actor domain.Actor, instanceID string) (domain.Instance, error) {
	return s.adminFormTransition(ctx, actor, instanceID, domain.StatusSubmitted)
}

func (s *Synchronizer) adminFormTransition(ctx context.Context, actor domain.Actor, instanceID string, target domain.InstanceStatus) (domain.Instance, error) {
	if !actor.IsAdmin() {
		return domain.Instance{}, fmt.Errorf("form transition to %s: %w", target, domain.ErrAuthorizationDenied)
	}
	in, err := s.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if in.Kind != domain.KindForm {
		return domain.Instance{}, fmt.Errorf("instance %s is not a form", instanceID)
	}
	in.Status = target
	in.UpdatedAt = s.now()
	if err := s.Instances.UpdateInstance(ctx, in); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// Contracts.

// SignContract adds the actor's signature. The actor must be an
// assignee who has not signed yet; once every assignee has signed the
// contract flips to SIGNED and locks.
func (s *Synchronizer) SignContract(ctx context.Context, actor domain.Actor, instanceID string) (domain.Instance, error) {
	in, err := s.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if in.Kind != domain.KindContract {
		return domain.Instance{}, fmt.Errorf("instance %s is not a contract", instanceID)
	}
	if in.Status == domain.StatusSigned {
		return domain.Instance{}, fmt.Errorf("contract %s is already fully signed", instanceID)
	}

	assigned := false
	for _, id := range in.Assignees {
		if id == actor.ID {
			assigned = true
			break
		}
	}
	if !assigned {
		return domain.Instance{}, fmt.Errorf("sign contract %s: %w", instanceID, domain.ErrAuthorizationDenied)
	}
	for _, id := range in.SignedBy {
		if id == actor.ID {
			return in, nil // signing twice is a no-op
		}
	}

	in.SignedBy = append(in.SignedBy, actor.ID)
	if in.FullySigned() {
		in.Status = domain.StatusSigned
	}
	in.UpdatedAt = s.now()
	if err := s.Instances.UpdateInstance(ctx, in); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// UndoContractSignature removes one signer's mark and reverts the
// contract to PENDING_SIGNATURE. Before full signature the signer or an
// administrator may undo; a SIGNED contract is locked to administrators,
// even for the signer's own mark.
func (s *Synchronizer) UndoContractSignature(ctx context.Context, actor domain.Actor, instanceID, personID string) (domain.Instance, error) {
	in, err := s.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if in.Kind != domain.KindContract {
		return domain.Instance{}, fmt.Errorf("instance %s is not a contract", instanceID)
	}

	if in.Status == domain.StatusSigned {
		if !actor.IsAdmin() {
			return domain.Instance{}, fmt.Errorf("undo signature on signed contract %s: %w", instanceID, domain.ErrAuthorizationDenied)
		}
	} else if !ownerOrAdmin(actor, personID) {
		return domain.Instance{}, fmt.Errorf("undo %s signature on contract %s: %w", personID, instanceID, domain.ErrAuthorizationDenied)
	}

	kept := in.SignedBy[:0]
	found := false
	for _, id := range in.SignedBy {
		if id == personID {
			found = true
			continue
		}
		kept = append(kept, id)
	}
	if !found {
		return domain.Instance{}, fmt.Errorf("contract %s has no signature from %s: %w", instanceID, personID, domain.ErrNotFound)
	}

	in.SignedBy = kept
	in.Status = domain.StatusPendingSignature
	in.UpdatedAt = s.now()
	if err := s.Instances.UpdateInstance(ctx, in); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// UnlockContract force-reverts a SIGNED contract to PENDING_SIGNATURE.
// Administrators only; signatures stay in place.
func (s *Synchronizer) UnlockContract(ctx context.Context, actor domain.Actor, instanceID string) (domain.Instance, error) {
	if !actor.IsAdmin() {
		return domain.Instance{}, fmt.Errorf("unlock contract %s: %w", instanceID, domain.ErrAuthorizationDenied)
	}
	in, err := s.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if in.Kind != domain.KindContract {
		return domain.Instance{}, fmt.Errorf("instance %s is not a contract", instanceID)
	}
	in.Status = domain.StatusPendingSignature
	in.UpdatedAt = s.now()
	if err := s.Instances.UpdateInstance(ctx, in); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}
