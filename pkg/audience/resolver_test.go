package audience

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/estately/dealflow/pkg/domain"
)

var (
	seller = domain.Person{ID: "s1", Name: "Sam", Role: domain.RoleSeller}
	buyer  = domain.Person{ID: "b1", Name: "Bea", Role: domain.RoleBuyer}
	agent  = domain.Person{ID: "a1", Name: "Ann", Role: domain.RoleAdmin}
)

func pairKeys(pairs []PersonScope) []string {
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.Person.ID+"@"+p.ScopeID)
	}
	sort.Strings(keys)
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolveSelectedUserIgnoreScopes(t *testing.T) {
	// Selecting one user with scope resolution IGNORE yields exactly one
	// personal pair for that user.
	pairs := Resolve(Rule{
		UserSelection:  UsersSelected,
		UserIDs:        []string{buyer.ID},
		ScopeSelection: ScopesIgnore,
	}, []domain.Person{seller, buyer}, nil)

	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].Person.ID != buyer.ID || pairs[0].ScopeID != domain.ScopePersonal {
		t.Errorf("unexpected pair %v", pairs[0])
	}
}

func TestResolveActiveOnly(t *testing.T) {
	scopes := []domain.Scope{
		{ID: "p1", SellerID: seller.ID, BuyerID: buyer.ID, Status: domain.ScopeActive},
		{ID: "p2", SellerID: seller.ID, Status: domain.ScopeSold},
		{ID: "p3", BuyerID: buyer.ID, Status: domain.ScopeUnderContract},
	}
	pairs := Resolve(Rule{ScopeSelection: ScopesActiveOnly}, []domain.Person{seller, buyer, agent}, scopes)

	got := pairKeys(pairs)
	want := []string{"b1@p1", "b1@p3", "s1@p1"}
	if !equalKeys(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveSelectedScopesIgnoresStatus(t *testing.T) {
	scopes := []domain.Scope{
		{ID: "p1", SellerID: seller.ID, Status: domain.ScopeSold},
		{ID: "p2", SellerID: seller.ID, Status: domain.ScopeActive},
	}
	pairs := Resolve(Rule{
		ScopeSelection: ScopesSelected,
		ScopeIDs:       []string{"p1"},
	}, []domain.Person{seller}, scopes)

	if !equalKeys(pairKeys(pairs), []string{"s1@p1"}) {
		t.Errorf("unexpected pairs %v", pairKeys(pairs))
	}
}

func TestResolveRoleRestriction(t *testing.T) {
	pairs := Resolve(Rule{
		Roles:          []domain.Role{domain.RoleSeller},
		ScopeSelection: ScopesIgnore,
	}, []domain.Person{seller, buyer, agent}, nil)

	if !equalKeys(pairKeys(pairs), []string{"s1@personal"}) {
		t.Errorf("unexpected pairs %v", pairKeys(pairs))
	}
}

func TestResolveOrLogicAdmitsSelectedUserFailingRoleMatch(t *testing.T) {
	// With OR logic the manual user selection alone admits a person even
	// when the role restriction does not match.
	pairs := Resolve(Rule{
		UserSelection:  UsersSelected,
		UserIDs:        []string{buyer.ID},
		Roles:          []domain.Role{domain.RoleSeller},
		ScopeSelection: ScopesIgnore,
		ScopeLogic:     LogicOr,
	}, []domain.Person{seller, buyer}, nil)

	got := pairKeys(pairs)
	want := []string{"b1@personal", "s1@personal"}
	if !equalKeys(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveAndLogicRequiresBoth(t *testing.T) {
	pairs := Resolve(Rule{
		UserSelection:  UsersSelected,
		UserIDs:        []string{buyer.ID},
		Roles:          []domain.Role{domain.RoleSeller},
		ScopeSelection: ScopesIgnore,
		ScopeLogic:     LogicAnd,
	}, []domain.Person{seller, buyer}, nil)

	if len(pairs) != 0 {
		t.Errorf("expected no pairs, got %v", pairKeys(pairs))
	}
}

func TestResolveEmptyInputs(t *testing.T) {
	if pairs := Resolve(Rule{}, nil, nil); len(pairs) != 0 {
		t.Errorf("expected empty result, got %v", pairs)
	}
}

func TestResolveNoDuplicatePairs(t *testing.T) {
	// A person occupying two positions on the same scope must still
	// produce a single pair for it.
	scopes := []domain.Scope{
		{ID: "p1", SellerID: seller.ID, ManagerID: seller.ID, Status: domain.ScopeActive},
	}
	pairs := Resolve(Rule{ScopeSelection: ScopesActiveOnly}, []domain.Person{seller}, scopes)
	if !equalKeys(pairKeys(pairs), []string{"s1@p1"}) {
		t.Errorf("unexpected pairs %v", pairKeys(pairs))
	}
}

func TestResolveOrderIndependent(t *testing.T) {
	roster := []domain.Person{seller, buyer, agent}
	scopes := []domain.Scope{
		{ID: "p1", SellerID: seller.ID, BuyerID: buyer.ID, ManagerID: agent.ID, Status: domain.ScopeActive},
		{ID: "p2", SellerID: seller.ID, Status: domain.ScopeUnderContract},
	}
	rule := Rule{ScopeSelection: ScopesActiveOnly, Roles: []domain.Role{domain.RoleSeller, domain.RoleBuyer}}

	want := pairKeys(Resolve(rule, roster, scopes))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		r := append([]domain.Person(nil), roster...)
		s := append([]domain.Scope(nil), scopes...)
		rng.Shuffle(len(r), func(i, j int) { r[i], r[j] = r[j], r[i] })
		rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		if got := pairKeys(Resolve(rule, r, s)); !equalKeys(got, want) {
			t.Fatalf("resolution depends on input order: %v vs %v", got, want)
		}
	}
}
