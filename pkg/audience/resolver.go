// Package audience resolves declarative targeting rules to concrete
// (person, scope) pairs. Resolution is pure: it reads only the roster and
// scope snapshots passed in.
package audience

import (
	"github.com/estately/dealflow/pkg/domain"
)

// UserSelection picks the base population of a rule.
type UserSelection string

const (
	// UsersAll targets the whole roster.
	UsersAll UserSelection = "ALL"
	// UsersSelected targets only the IDs listed on the rule.
	UsersSelected UserSelection = "SELECTED"
)

// ScopeSelection controls how scopes are resolved per person.
type ScopeSelection string

const (
	// ScopesIgnore produces exactly one pair per matched person, bound to
	// the personal sentinel scope.
	ScopesIgnore ScopeSelection = "IGNORE"
	// ScopesActiveOnly pairs each person with every active-like scope
	// where they occupy a position.
	ScopesActiveOnly ScopeSelection = "ACTIVE_ONLY"
	// ScopesSelected is ScopesActiveOnly restricted to the listed scope
	// IDs, independent of scope status.
	ScopesSelected ScopeSelection = "SELECTED"
)

// Logic combines two predicates.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Rule is a declarative audience description. The zero value of each
// field is the permissive default: all users, no role restriction,
// personal scope, AND logic.
type Rule struct {
	UserSelection UserSelection
	UserIDs       []string

	// Roles restricts by role; empty means no restriction.
	Roles []domain.Role

	ScopeSelection ScopeSelection
	ScopeIDs       []string

	// ScopeLogic folds the user-selection predicate into the combined
	// role-and-scope predicate. Role match is always ANDed with scope
	// match; only the user-selection fold is configurable.
	ScopeLogic Logic
}

// PersonScope is one resolved audience member.
type PersonScope struct {
	Person  domain.Person
	ScopeID string
}

// Resolve returns every (person, scope) pair the rule targets. No pair is
// duplicated; empty roster or scope inputs yield an empty result.
func Resolve(rule Rule, roster []domain.Person, scopes []domain.Scope) []PersonScope {
	selected := make(map[string]bool, len(rule.UserIDs))
	for _, id := range rule.UserIDs {
		selected[id] = true
	}
	wantScope := make(map[string]bool, len(rule.ScopeIDs))
	for _, id := range rule.ScopeIDs {
		wantScope[id] = true
	}

	var out []PersonScope
	seen := make(map[string]map[string]bool)

	for _, p := range roster {
		roleMatch := len(rule.Roles) == 0
		for _, r := range rule.Roles {
			if p.Role == r {
				roleMatch = true
				break
			}
		}

		resolved := resolveScopes(rule, p, scopes, wantScope)
		scopeMatch := len(resolved) > 0

		userMatch := rule.UserSelection != UsersSelected || selected[p.ID]

		base := roleMatch && scopeMatch
		include := base && userMatch
		if rule.ScopeLogic == LogicOr {
			include = base || userMatch
		}
		if !include {
			continue
		}

		for _, scopeID := range resolved {
			if seen[p.ID] == nil {
				seen[p.ID] = make(map[string]bool)
			}
			if seen[p.ID][scopeID] {
				continue
			}
			seen[p.ID][scopeID] = true
			out = append(out, PersonScope{Person: p, ScopeID: scopeID})
		}
	}
	return out
}

func resolveScopes(rule Rule, p domain.Person, scopes []domain.Scope, wantScope map[string]bool) []string {
	if rule.ScopeSelection == ScopesIgnore || rule.ScopeSelection == "" {
		return []string{domain.ScopePersonal}
	}

	var out []string
	for _, s := range scopes {
		if !s.Occupies(p.ID) {
			continue
		}
		switch rule.ScopeSelection {
		case ScopesActiveOnly:
			if s.Status.ActiveLike() {
				out = append(out, s.ID)
			}
		case ScopesSelected:
			if wantScope[s.ID] {
				out = append(out, s.ID)
			}
		}
	}
	return out
}
