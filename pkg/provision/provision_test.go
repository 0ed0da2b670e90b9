package provision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estately/dealflow/pkg/audience"
	"github.com/estately/dealflow/pkg/domain"
	"github.com/estately/dealflow/pkg/lock"
	"github.com/estately/dealflow/pkg/render"
	"github.com/estately/dealflow/pkg/store"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func newTestProvisioner(m *store.Memory) *Provisioner {
	p := New(m, m)
	p.Now = fixedNow
	p.Agency = render.Agency{Name: "Estately Amsterdam", Locale: "en"}
	return p
}

func activeScope() domain.Scope {
	return domain.Scope{
		ID:       "a1b2c3d4-0000-0000-0000-000000000001",
		SellerID: "s1",
		BuyerID:  "b1",
		Status:   domain.ScopeActive,
		Address:  "Herengracht 1",
		Price:    500000,
	}
}

func basicRoster() []domain.Person {
	return []domain.Person{
		{ID: "s1", Name: "Sam Seller", Role: domain.RoleSeller},
		{ID: "b1", Name: "Billie Buyer", Role: domain.RoleBuyer},
	}
}

func TestProvisionAssignsBothParticipants(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()
	roster := basicRoster()
	for _, p := range roster {
		m.PutPerson(p)
	}
	m.PutScope(scope)

	def := domain.Definition{
		ID: "doc-id-proof", Key: "id-proof", Kind: domain.KindDocument,
		Title:              "Proof of identity",
		AutoAssignTo:       []domain.Role{domain.RoleSeller, domain.RoleBuyer},
		AutoAddToNewScopes: true,
	}

	p := newTestProvisioner(m)
	created, errs := p.Provision(ctx, []domain.Definition{def}, scope, roster)
	assert.Empty(t, errs)
	assert.Equal(t, 2, created)

	for _, id := range []string{"s1", "b1"} {
		person, err := m.GetPerson(ctx, id)
		require.NoError(t, err)
		ob, ok := person.ObligationFor("doc-id-proof", scope.ID)
		require.True(t, ok, "person %s", id)
		assert.Equal(t, domain.TaskPending, ob.Status)
	}
}

func TestProvisionSeedsCompletedFromVault(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()
	roster := basicRoster()
	// Seller already holds vault evidence for the requirement.
	roster[0].SubmittedEvidence = []domain.Evidence{{
		ID: "ev1", DefinitionID: "doc-id-proof", ScopeID: scope.ID,
	}}
	for _, p := range roster {
		m.PutPerson(p)
	}

	def := domain.Definition{
		ID: "doc-id-proof", Key: "id-proof", Kind: domain.KindDocument,
		AutoAssignTo:       []domain.Role{domain.RoleSeller, domain.RoleBuyer},
		AutoAddToNewScopes: true,
	}

	p := newTestProvisioner(m)
	created, errs := p.Provision(ctx, []domain.Definition{def}, scope, roster)
	assert.Empty(t, errs)
	assert.Equal(t, 2, created)

	seller, _ := m.GetPerson(ctx, "s1")
	ob, _ := seller.ObligationFor("doc-id-proof", scope.ID)
	assert.Equal(t, domain.TaskCompleted, ob.Status)
	assert.Equal(t, fixedNow(), ob.CompletedAt)

	buyer, _ := m.GetPerson(ctx, "b1")
	ob, _ = buyer.ObligationFor("doc-id-proof", scope.ID)
	assert.Equal(t, domain.TaskPending, ob.Status)
}

func TestProvisionIdempotent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()
	roster := basicRoster()
	for _, p := range roster {
		m.PutPerson(p)
	}

	defs := []domain.Definition{
		{ID: "d1", Key: "id-proof", Kind: domain.KindDocument,
			AutoAssignTo: []domain.Role{domain.RoleSeller}, AutoAddToNewScopes: true},
		{ID: "f1", Key: "kyc", Kind: domain.KindForm,
			AutoAssignTo: []domain.Role{domain.RoleBuyer}, AutoAddToNewScopes: true},
		{ID: "c1", Key: "sale-contract", Kind: domain.KindContract,
			AutoAddToNewScopes: true, NeedSignatureFromSeller: true, NeedSignatureFromBuyer: true},
	}

	p := newTestProvisioner(m)
	first, errs := p.Provision(ctx, defs, scope, roster)
	assert.Empty(t, errs)
	assert.Equal(t, 3, first)

	// Re-running with identical inputs creates nothing and fails nothing.
	second, errs := p.Provision(ctx, defs, scope, roster)
	assert.Empty(t, errs)
	assert.Zero(t, second)
}

func TestProvisionSkipsNonAutoAdd(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	roster := basicRoster()
	for _, p := range roster {
		m.PutPerson(p)
	}

	def := domain.Definition{
		ID: "d1", Key: "manual-only", Kind: domain.KindDocument,
		AutoAssignTo: []domain.Role{domain.RoleSeller},
	}
	p := newTestProvisioner(m)
	created, errs := p.Provision(ctx, []domain.Definition{def}, activeScope(), roster)
	assert.Empty(t, errs)
	assert.Zero(t, created)
}

func TestProvisionUnassignedDraftFallback(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()
	scope.SellerID, scope.BuyerID = "", ""

	def := domain.Definition{
		ID: "f1", Key: "intake", Kind: domain.KindForm,
		AutoAddToNewScopes: true, // no role restriction
	}
	p := newTestProvisioner(m)
	created, errs := p.Provision(ctx, []domain.Definition{def}, scope, nil)
	assert.Empty(t, errs)
	assert.Equal(t, 1, created)

	list, err := m.ListInstancesByScope(ctx, scope.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusDraft, list[0].Status)
	assert.Empty(t, list[0].PersonID)
}

func TestProvisionRoleRestrictedVacancySkips(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()
	scope.BuyerID = "" // no buyer yet

	def := domain.Definition{
		ID: "f1", Key: "buyer-kyc", Kind: domain.KindForm,
		AutoAssignTo:       []domain.Role{domain.RoleBuyer},
		AutoAddToNewScopes: true,
	}
	p := newTestProvisioner(m)
	created, errs := p.Provision(ctx, []domain.Definition{def}, scope, basicRoster())
	assert.Empty(t, errs)
	assert.Zero(t, created, "vacant restricted position waits for the next run")

	list, _ := m.ListInstancesByScope(ctx, scope.ID)
	assert.Empty(t, list, "no unassigned draft when a role restriction applies")
}

func TestProvisionContractRendersContent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()
	roster := basicRoster()

	def := domain.Definition{
		ID: "c1", Key: "sale-contract", Kind: domain.KindContract,
		Title:                   "Sale contract",
		AutoAddToNewScopes:      true,
		NeedSignatureFromSeller: true,
		NeedSignatureFromBuyer:  true,
		Template:                "Sold by [seller.name] to {{buyer.name}} for [property.price].",
	}

	p := newTestProvisioner(m)
	created, errs := p.Provision(ctx, []domain.Definition{def}, scope, roster)
	assert.Empty(t, errs)
	assert.Equal(t, 1, created)

	list, err := m.ListInstancesByScope(ctx, scope.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	in := list[0]
	assert.Equal(t, domain.StatusPendingSignature, in.Status)
	assert.ElementsMatch(t, []string{"s1", "b1"}, in.Assignees)
	assert.Contains(t, in.Content, "Sold by Sam Seller to Billie Buyer for 500,000.")
	assert.Contains(t, in.Content, "Estately Amsterdam")
	assert.Contains(t, in.Content, "REF: A1B2C3D4")
}

func TestProvisionFormWithLinkedTask(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()
	roster := basicRoster()
	for _, p := range roster {
		m.PutPerson(p)
	}

	def := domain.Definition{
		ID: "f1", Key: "kyc", Kind: domain.KindForm,
		Title:              "KYC intake",
		AutoAssignTo:       []domain.Role{domain.RoleBuyer},
		AutoAddToNewScopes: true,
		AutoCreateTask:     true,
		DefaultData:        map[string]any{"dependents": 0},
	}

	p := newTestProvisioner(m)
	created, errs := p.Provision(ctx, []domain.Definition{def}, scope, roster)
	assert.Empty(t, errs)
	assert.Equal(t, 2, created, "form instance plus linked task")

	list, _ := m.ListInstancesByScope(ctx, scope.ID)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusAssigned, list[0].Status)
	assert.Equal(t, "b1", list[0].PersonID)
	assert.Equal(t, 0, list[0].Data["dependents"])

	buyer, _ := m.GetPerson(ctx, "b1")
	_, ok := buyer.ObligationFor("f1", scope.ID)
	assert.True(t, ok, "linked task shares the idempotence key")
}

func TestProvisionRerunRecoversLinkedTask(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()
	roster := basicRoster()

	def := domain.Definition{
		ID: "f1", Key: "kyc", Kind: domain.KindForm,
		Title:              "KYC intake",
		AutoAssignTo:       []domain.Role{domain.RoleBuyer},
		AutoAddToNewScopes: true,
		AutoCreateTask:     true,
	}
	p := newTestProvisioner(m)

	// First run: the buyer is missing from the store, so the form
	// instance is created but the linked task append fails mid-pair.
	created, errs := p.Provision(ctx, []domain.Definition{def}, scope, roster)
	assert.Equal(t, 1, created)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], domain.ErrNotFound)

	// After the roster heals, a re-run converges: the existing instance
	// is skipped and the lost task is created.
	for _, person := range roster {
		m.PutPerson(person)
	}
	created, errs = p.Provision(ctx, []domain.Definition{def}, scope, roster)
	assert.Empty(t, errs)
	assert.Equal(t, 1, created)

	buyer, err := m.GetPerson(ctx, "b1")
	require.NoError(t, err)
	_, ok := buyer.ObligationFor("f1", scope.ID)
	assert.True(t, ok, "re-run creates the linked task the first run lost")

	// A third run is a full no-op.
	created, errs = p.Provision(ctx, []domain.Definition{def}, scope, roster)
	assert.Empty(t, errs)
	assert.Zero(t, created)
}

func TestBackfillGuardsProvisionedScopes(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	roster := basicRoster()
	for _, p := range roster {
		m.PutPerson(p)
	}

	fresh := activeScope()
	stale := domain.Scope{ID: "scope-stale", SellerID: "s1", Status: domain.ScopeActive}
	// The stale scope already holds an instance of the key, assigned to
	// somebody entirely different.
	_, err := m.CreateInstance(ctx, domain.Instance{
		DefinitionKey: "kyc", Kind: domain.KindForm,
		ScopeID: stale.ID, PersonID: "someone-else", Status: domain.StatusAssigned,
	})
	require.NoError(t, err)

	def := domain.Definition{
		ID: "f1", Key: "kyc", Kind: domain.KindForm,
		AutoAssignTo: []domain.Role{domain.RoleSeller},
	}
	p := newTestProvisioner(m)
	created, errs := p.Backfill(ctx, def, []domain.Scope{fresh, stale}, roster)
	assert.Empty(t, errs)
	assert.Equal(t, 1, created, "only the fresh scope is provisioned")

	list, _ := m.ListInstancesByScope(ctx, stale.ID)
	assert.Len(t, list, 1, "guarded scope untouched")
}

func TestBackfillIgnoresAutoAddFlag(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	roster := basicRoster()
	for _, p := range roster {
		m.PutPerson(p)
	}
	scope := activeScope()

	// Backfill is explicit rollout; AutoAddToNewScopes does not gate it.
	def := domain.Definition{
		ID: "d1", Key: "late-requirement", Kind: domain.KindDocument,
		AutoAssignTo: []domain.Role{domain.RoleSeller},
	}
	p := newTestProvisioner(m)
	created, errs := p.Backfill(ctx, def, []domain.Scope{scope}, roster)
	assert.Empty(t, errs)
	assert.Equal(t, 1, created)
}

func TestProvisionPartialFailureContinues(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()
	roster := basicRoster()
	// Only the buyer exists in the store; appending to the missing
	// seller fails while the buyer still gets provisioned.
	m.PutPerson(roster[1])

	def := domain.Definition{
		ID: "d1", Key: "id-proof", Kind: domain.KindDocument,
		AutoAssignTo:       []domain.Role{domain.RoleSeller, domain.RoleBuyer},
		AutoAddToNewScopes: true,
	}
	p := newTestProvisioner(m)
	created, errs := p.Provision(ctx, []domain.Definition{def}, scope, roster)
	assert.Equal(t, 1, created)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], domain.ErrNotFound)
}

func TestProvisionRespectsScopeLock(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	scope := activeScope()

	locker := lock.NewMemoryLocker()
	require.NoError(t, locker.Acquire(ctx, scope.ID))

	p := newTestProvisioner(m)
	p.Locker = locker
	created, errs := p.Provision(ctx, nil, scope, nil)
	assert.Zero(t, created)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], lock.ErrLocked)
}

func TestBulkAssignWithRule(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	roster := []domain.Person{
		{ID: "s1", Role: domain.RoleSeller},
		{ID: "s2", Role: domain.RoleSeller},
		{ID: "b1", Role: domain.RoleBuyer},
	}
	for _, p := range roster {
		m.PutPerson(p)
	}

	def := domain.Definition{ID: "d1", Key: "tax-form", Kind: domain.KindDocument}
	rule := audience.Rule{
		Roles:          []domain.Role{domain.RoleSeller},
		ScopeSelection: audience.ScopesIgnore,
	}

	p := newTestProvisioner(m)
	created, errs := p.BulkAssign(ctx, def, rule, roster, nil, BulkAssignOptions{})
	assert.Empty(t, errs)
	assert.Equal(t, 2, created)

	s1, _ := m.GetPerson(ctx, "s1")
	ob, ok := s1.ObligationFor("d1", domain.ScopePersonal)
	require.True(t, ok)
	assert.Equal(t, domain.TaskPending, ob.Status)

	// Second run is a no-op.
	created, errs = p.BulkAssign(ctx, def, rule, roster, nil, BulkAssignOptions{})
	assert.Empty(t, errs)
	assert.Zero(t, created)
}

func TestBulkAssignCheckVault(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	roster := []domain.Person{{
		ID: "s1", Role: domain.RoleSeller,
		SubmittedEvidence: []domain.Evidence{{
			ID: "ev1", DefinitionID: "d1", ScopeID: domain.ScopeGlobal,
		}},
	}}
	m.PutPerson(roster[0])

	def := domain.Definition{ID: "d1", Key: "passport", Kind: domain.KindDocument, IsGlobal: true}
	rule := audience.Rule{ScopeSelection: audience.ScopesIgnore}

	p := newTestProvisioner(m)
	created, errs := p.BulkAssign(ctx, def, rule, roster, nil, BulkAssignOptions{CheckVault: true})
	assert.Empty(t, errs)
	assert.Equal(t, 1, created)

	s1, _ := m.GetPerson(ctx, "s1")
	ob, _ := s1.ObligationFor("d1", domain.ScopePersonal)
	assert.Equal(t, domain.TaskCompleted, ob.Status, "global vault evidence seeds completion")
}
