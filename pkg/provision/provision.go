// Package provision materializes obligation records from definitions.
// Runs are best-effort and idempotent: every write carries an
// idempotence key the store enforces, so re-running a partially failed
// batch converges instead of compounding.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/estately/dealflow/pkg/audience"
	"github.com/estately/dealflow/pkg/domain"
	"github.com/estately/dealflow/pkg/forms"
	"github.com/estately/dealflow/pkg/fulfillment"
	"github.com/estately/dealflow/pkg/lock"
	"github.com/estately/dealflow/pkg/render"
	"github.com/estately/dealflow/pkg/store"
)

// Provisioner creates missing obligation records. Locker and Limiter
// are optional; a nil Locker runs unserialized and a nil Limiter runs
// unpaced.
type Provisioner struct {
	Roster    store.RosterStore
	Instances store.InstanceStore
	Locker    lock.ScopeLocker
	Limiter   *rate.Limiter
	Agency    render.Agency
	Now       func() time.Time
	Logger    *slog.Logger

	createdCounter metric.Int64Counter
}

func New(roster store.RosterStore, instances store.InstanceStore) *Provisioner {
	meter := otel.Meter("dealflow.provision")
	counter, err := meter.Int64Counter("provision.records.created",
		metric.WithDescription("Obligation records created by provisioning runs"))
	if err != nil {
		counter = nil
	}
	return &Provisioner{
		Roster:         roster,
		Instances:      instances,
		Now:            time.Now,
		Logger:         slog.Default().With("component", "provision"),
		createdCounter: counter,
	}
}

func (p *Provisioner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Provisioner) pace(ctx context.Context) error {
	if p.Limiter == nil {
		return nil
	}
	if err := p.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (p *Provisioner) recordCreated(ctx context.Context, n int) {
	if p.createdCounter != nil && n > 0 {
		p.createdCounter.Add(ctx, int64(n))
	}
}

// Provision runs creation-time provisioning of every auto-add definition
// against one scope. It returns the number of records created plus any
// per-pair failures; a duplicate is a silent skip, not a failure.
func (p *Provisioner) Provision(ctx context.Context, defs []domain.Definition, scope domain.Scope, roster []domain.Person) (int, []error) {
	if p.Locker != nil {
		if err := p.Locker.Acquire(ctx, scope.ID); err != nil {
			return 0, []error{err}
		}
		defer func() { _ = p.Locker.Release(ctx, scope.ID) }()
	}

	var created int
	var errs []error
	for _, def := range defs {
		if !def.AutoAddToNewScopes {
			continue
		}
		n, defErrs := p.provisionDefinition(ctx, def, scope, roster)
		created += n
		errs = append(errs, defErrs...)
	}
	p.recordCreated(ctx, created)
	return created, errs
}

// Backfill rolls one definition out across existing scopes. A scope that
// already holds any instance of the definition's key is skipped whole,
// regardless of assignee, so repeated rollouts cannot compound.
func (p *Provisioner) Backfill(ctx context.Context, def domain.Definition, scopes []domain.Scope, roster []domain.Person) (int, []error) {
	var created int
	var errs []error
	for _, scope := range scopes {
		present, err := p.keyPresent(ctx, def, scope.ID, roster)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if present {
			p.logger().Debug("backfill skipping scope with existing records",
				"definition", def.Key, "scope", scope.ID)
			continue
		}

		if p.Locker != nil {
			if err := p.Locker.Acquire(ctx, scope.ID); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		n, scopeErrs := p.provisionDefinition(ctx, def, scope, roster)
		if p.Locker != nil {
			_ = p.Locker.Release(ctx, scope.ID)
		}
		created += n
		errs = append(errs, scopeErrs...)
	}
	p.recordCreated(ctx, created)
	return created, errs
}

// BulkAssignOptions tunes BulkAssign. CheckVault seeds COMPLETED status
// from evidence already in the person's vault.
type BulkAssignOptions struct {
	CheckVault bool
}

// BulkAssign provisions one definition for an arbitrary audience rule.
// Pairs that already hold a record are skipped; failures on one pair do
// not stop the rest.
func (p *Provisioner) BulkAssign(ctx context.Context, def domain.Definition, rule audience.Rule, roster []domain.Person, scopes []domain.Scope, opts BulkAssignOptions) (int, []error) {
	pairs := audience.Resolve(rule, roster, scopes)

	var created int
	var errs []error
	for _, pair := range pairs {
		n, err := p.createForPair(ctx, def, pair, opts.CheckVault)
		created += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	p.recordCreated(ctx, created)
	return created, errs
}

// provisionDefinition provisions one definition against one scope.
// Contracts are scope-level: one instance for the whole scope listing
// the demanded signers. Documents and forms are per resolved pair, with
// the unassigned-draft fallback when the definition carries no role
// restriction and the rule resolves nobody.
func (p *Provisioner) provisionDefinition(ctx context.Context, def domain.Definition, scope domain.Scope, roster []domain.Person) (int, []error) {
	if def.Kind == domain.KindContract {
		n, err := p.createContract(ctx, def, scope, roster)
		if err != nil {
			return n, []error{err}
		}
		return n, nil
	}

	rule := audience.Rule{
		Roles:          def.AutoAssignTo,
		ScopeSelection: audience.ScopesSelected,
		ScopeIDs:       []string{scope.ID},
	}
	pairs := audience.Resolve(rule, roster, []domain.Scope{scope})

	if len(pairs) == 0 {
		if len(def.AutoAssignTo) > 0 {
			// A role restriction with nobody in the position: the next
			// provisioning run picks it up once the position fills.
			return 0, nil
		}
		n, err := p.createUnassignedDraft(ctx, def, scope)
		if err != nil {
			return n, []error{err}
		}
		return n, nil
	}

	var created int
	var errs []error
	for _, pair := range pairs {
		n, err := p.createForPair(ctx, def, pair, true)
		created += n
		if err != nil {
			p.logger().Warn("provisioning pair failed",
				"definition", def.Key, "person", pair.Person.ID, "scope", pair.ScopeID, "error", err)
			errs = append(errs, err)
		}
	}
	return created, errs
}

// createForPair creates the record(s) one pair needs: a log obligation
// for documents, an instance for forms, plus the linked task when the
// definition asks for one. Returns how many records were created.
func (p *Provisioner) createForPair(ctx context.Context, def domain.Definition, pair audience.PersonScope, checkVault bool) (int, error) {
	if err := p.pace(ctx); err != nil {
		return 0, err
	}

	now := p.now()
	created := 0

	switch def.Kind {
	case domain.KindDocument:
		status := domain.TaskPending
		if checkVault && fulfillment.IsSatisfied(def, pair.Person, pair.ScopeID) {
			status = domain.TaskCompleted
		}
		ob := domain.AssignedObligation{
			DefinitionID: def.ID,
			ScopeID:      pair.ScopeID,
			Title:        def.Title,
			Description:  def.Description,
			Status:       status,
			AssignedAt:   now,
		}
		if status == domain.TaskCompleted {
			ob.CompletedAt = now
		}
		err := p.Roster.AppendAssignedObligation(ctx, pair.Person.ID, ob)
		if errors.Is(err, domain.ErrAlreadyAssigned) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		created++

	case domain.KindForm:
		in := domain.Instance{
			DefinitionID:  def.ID,
			DefinitionKey: def.Key,
			Kind:          domain.KindForm,
			ScopeID:       pair.ScopeID,
			PersonID:      pair.Person.ID,
			Title:         def.Title,
			Status:        domain.StatusAssigned,
			Data:          forms.MergeDefaults(def, nil),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, err := p.Instances.CreateInstance(ctx, in)
		switch {
		case errors.Is(err, domain.ErrAlreadyAssigned):
			// The instance may predate a linked task lost to a partial
			// failure, so fall through and retry the task below.
		case err != nil:
			return 0, err
		default:
			created++
		}

		if def.AutoCreateTask {
			task := domain.AssignedObligation{
				DefinitionID: def.ID,
				ScopeID:      pair.ScopeID,
				Title:        def.Title,
				Description:  def.Description,
				Status:       domain.TaskPending,
				AssignedAt:   now,
			}
			err := p.Roster.AppendAssignedObligation(ctx, pair.Person.ID, task)
			if err != nil && !errors.Is(err, domain.ErrAlreadyAssigned) {
				return created, err
			}
			if err == nil {
				created++
			}
		}

	default:
		return 0, fmt.Errorf("definition %s: kind %s is not pair-provisioned", def.Key, def.Kind)
	}

	return created, nil
}

// createContract creates the single per-scope contract instance with
// rendered content and the demanded signer list.
func (p *Provisioner) createContract(ctx context.Context, def domain.Definition, scope domain.Scope, roster []domain.Person) (int, error) {
	if err := p.pace(ctx); err != nil {
		return 0, err
	}

	var assignees []string
	for _, role := range def.RequiredSignatureRoles() {
		if id := scope.ParticipantID(role); id != "" {
			assignees = append(assignees, id)
		}
	}

	seller := personByID(roster, scope.SellerID)
	buyer := personByID(roster, scope.BuyerID)
	agent := personByID(roster, scope.ManagerID)

	now := p.now()
	bindings := render.Bindings(scope, seller, buyer, agent, p.Agency, now)
	content := render.Branded(render.Render(def.Template, bindings), p.Agency, scope.ID)

	in := domain.Instance{
		DefinitionID:  def.ID,
		DefinitionKey: def.Key,
		Kind:          domain.KindContract,
		ScopeID:       scope.ID,
		Title:         def.Title,
		Content:       content,
		Status:        domain.StatusPendingSignature,
		Assignees:     assignees,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := p.Instances.CreateInstance(ctx, in)
	if errors.Is(err, domain.ErrAlreadyAssigned) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// createUnassignedDraft is the provision-without-assignment fallback:
// the scope gets a draft record nobody owns yet.
func (p *Provisioner) createUnassignedDraft(ctx context.Context, def domain.Definition, scope domain.Scope) (int, error) {
	if err := p.pace(ctx); err != nil {
		return 0, err
	}

	now := p.now()
	in := domain.Instance{
		DefinitionID:  def.ID,
		DefinitionKey: def.Key,
		Kind:          def.Kind,
		ScopeID:       scope.ID,
		Title:         def.Title,
		Status:        domain.StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := p.Instances.CreateInstance(ctx, in)
	if errors.Is(err, domain.ErrAlreadyAssigned) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// keyPresent reports whether the scope already holds any record of the
// definition: instances by key, or for documents any log obligation.
func (p *Provisioner) keyPresent(ctx context.Context, def domain.Definition, scopeID string, roster []domain.Person) (bool, error) {
	instances, err := p.Instances.ListInstancesByScope(ctx, scopeID)
	if err != nil {
		return false, fmt.Errorf("backfill guard for scope %s: %w", scopeID, err)
	}
	for _, in := range instances {
		if in.DefinitionKey == def.Key {
			return true, nil
		}
	}
	if def.Kind == domain.KindDocument {
		for _, person := range roster {
			if _, ok := person.ObligationFor(def.ID, scopeID); ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func personByID(roster []domain.Person, id string) *domain.Person {
	if id == "" {
		return nil
	}
	for i := range roster {
		if roster[i].ID == id {
			return &roster[i]
		}
	}
	return nil
}
