// Package fulfillment decides whether an obligation is already satisfied
// by prior evidence. The detector never mutates state; provisioning uses
// it to seed initial status and synchronization uses it to flip
// pre-existing pending obligations to completed.
package fulfillment

import (
	"github.com/estately/dealflow/pkg/domain"
)

// IsSatisfied reports whether the definition is already fulfilled for the
// person in the given scope. Document requirements (and the tasks linked
// to them) consult the person's evidence log; form and contract
// definitions carry no prior evidence at provisioning time and report
// false here — their signature state lives on the instance and is checked
// with SignaturesSatisfy.
func IsSatisfied(def domain.Definition, person domain.Person, scopeID string) bool {
	switch def.Kind {
	case domain.KindDocument:
		return EvidenceSatisfies(def, person, scopeID)
	default:
		return false
	}
}

// EvidenceSatisfies reports whether the person's evidence log contains an
// entry for the requirement. A global requirement accepts evidence from
// any scope, including the global vault sentinel; otherwise the evidence
// scope must equal scopeID.
func EvidenceSatisfies(def domain.Definition, person domain.Person, scopeID string) bool {
	for _, e := range person.SubmittedEvidence {
		if e.DefinitionID != def.ID {
			continue
		}
		if def.IsGlobal || e.ScopeID == scopeID {
			return true
		}
	}
	return false
}

// SignaturesSatisfy reports whether the signature map covers every role
// the definition demands. A definition demanding no signatures is never
// satisfied by signatures alone.
func SignaturesSatisfy(def domain.Definition, sigs map[domain.Role]domain.Signature) bool {
	roles := def.RequiredSignatureRoles()
	if len(roles) == 0 {
		return false
	}
	for _, r := range roles {
		if _, ok := sigs[r]; !ok {
			return false
		}
	}
	return true
}
