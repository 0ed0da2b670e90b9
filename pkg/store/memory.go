package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/estately/dealflow/pkg/domain"
)

// Memory is a map-backed implementation of all four store contracts.
// It is the reference semantics for the SQL stores and the default test
// double. Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	people      map[string]*domain.Person
	scopes      map[string]*domain.Scope
	definitions map[string]*domain.Definition
	instances   map[string]*domain.Instance
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		people:      make(map[string]*domain.Person),
		scopes:      make(map[string]*domain.Scope),
		definitions: make(map[string]*domain.Definition),
		instances:   make(map[string]*domain.Instance),
	}
}

// Seed helpers. Existing entries with the same ID are replaced.

func (m *Memory) PutPerson(p domain.Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.people[p.ID] = &cp
}

func (m *Memory) PutScope(s domain.Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.scopes[s.ID] = &cp
}

func (m *Memory) PutDefinition(d domain.Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := d
	m.definitions[d.ID] = &cp
}

// RosterStore.

func (m *Memory) ListPeople(ctx context.Context) ([]domain.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Person, 0, len(m.people))
	for _, p := range m.people {
		out = append(out, clonePerson(*p))
	}
	return out, nil
}

func (m *Memory) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[id]
	if !ok {
		return domain.Person{}, fmt.Errorf("person %s: %w", id, domain.ErrNotFound)
	}
	return clonePerson(*p), nil
}

func (m *Memory) AppendAssignedObligation(ctx context.Context, personID string, o domain.AssignedObligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.people[personID]
	if !ok {
		return fmt.Errorf("person %s: %w", personID, domain.ErrNotFound)
	}
	for _, existing := range p.AssignedObligations {
		if existing.DefinitionID == o.DefinitionID && existing.ScopeID == o.ScopeID {
			return fmt.Errorf("obligation %s in scope %s for %s: %w",
				o.DefinitionID, o.ScopeID, personID, domain.ErrAlreadyAssigned)
		}
	}
	p.AssignedObligations = append(p.AssignedObligations, o)
	return nil
}

func (m *Memory) UpdateObligationStatus(ctx context.Context, personID, definitionID, scopeID string, status domain.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.people[personID]
	if !ok {
		return fmt.Errorf("person %s: %w", personID, domain.ErrNotFound)
	}
	for i := range p.AssignedObligations {
		o := &p.AssignedObligations[i]
		if o.DefinitionID == definitionID && o.ScopeID == scopeID {
			o.Status = status
			if status == domain.TaskCompleted {
				o.CompletedAt = time.Now().UTC()
			} else {
				o.CompletedAt = time.Time{}
			}
			return nil
		}
	}
	return fmt.Errorf("obligation %s in scope %s for %s: %w", definitionID, scopeID, personID, domain.ErrNotFound)
}

func (m *Memory) AppendEvidence(ctx context.Context, personID string, e domain.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.people[personID]
	if !ok {
		return fmt.Errorf("person %s: %w", personID, domain.ErrNotFound)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	p.SubmittedEvidence = append(p.SubmittedEvidence, e)
	return nil
}

func (m *Memory) RemoveEvidence(ctx context.Context, personID, evidenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.people[personID]
	if !ok {
		return fmt.Errorf("person %s: %w", personID, domain.ErrNotFound)
	}
	for i, e := range p.SubmittedEvidence {
		if e.ID == evidenceID {
			p.SubmittedEvidence = append(p.SubmittedEvidence[:i], p.SubmittedEvidence[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("evidence %s for %s: %w", evidenceID, personID, domain.ErrNotFound)
}

// ScopeStore.

func (m *Memory) ListScopes(ctx context.Context) ([]domain.Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Scope, 0, len(m.scopes))
	for _, s := range m.scopes {
		out = append(out, *s)
	}
	return out, nil
}

func (m *Memory) GetScope(ctx context.Context, id string) (domain.Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[id]
	if !ok {
		return domain.Scope{}, fmt.Errorf("scope %s: %w", id, domain.ErrNotFound)
	}
	return *s, nil
}

func (m *Memory) UpdateScope(ctx context.Context, s domain.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scopes[s.ID]; !ok {
		return fmt.Errorf("scope %s: %w", s.ID, domain.ErrNotFound)
	}
	cp := s
	m.scopes[s.ID] = &cp
	return nil
}

// DefinitionStore.

func (m *Memory) ListDefinitions(ctx context.Context, kind domain.Kind) ([]domain.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Definition
	for _, d := range m.definitions {
		if kind == "" || d.Kind == kind {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *Memory) GetDefinition(ctx context.Context, kind domain.Kind, id string) (domain.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.definitions[id]
	if !ok || (kind != "" && d.Kind != kind) {
		return domain.Definition{}, fmt.Errorf("definition %s: %w", id, domain.ErrNotFound)
	}
	return *d, nil
}

// InstanceStore.

func (m *Memory) CreateInstance(ctx context.Context, in domain.Instance) (domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.instances {
		if existing.DefinitionKey == in.DefinitionKey &&
			existing.ScopeID == in.ScopeID &&
			existing.PersonID == in.PersonID {
			return domain.Instance{}, fmt.Errorf("instance %s in scope %s: %w",
				in.DefinitionKey, in.ScopeID, domain.ErrAlreadyAssigned)
		}
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	cp := cloneInstance(in)
	m.instances[in.ID] = &cp
	return cloneInstance(cp), nil
}

func (m *Memory) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.instances[id]
	if !ok {
		return domain.Instance{}, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return cloneInstance(*in), nil
}

func (m *Memory) UpdateInstance(ctx context.Context, in domain.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[in.ID]; !ok {
		return fmt.Errorf("instance %s: %w", in.ID, domain.ErrNotFound)
	}
	cp := cloneInstance(in)
	m.instances[in.ID] = &cp
	return nil
}

func (m *Memory) DeleteInstance(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[id]; !ok {
		return fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	delete(m.instances, id)
	return nil
}

func (m *Memory) ListInstancesByScope(ctx context.Context, scopeID string) ([]domain.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Instance
	for _, in := range m.instances {
		if in.ScopeID == scopeID {
			out = append(out, cloneInstance(*in))
		}
	}
	return out, nil
}

func clonePerson(p domain.Person) domain.Person {
	p.AssignedObligations = append([]domain.AssignedObligation(nil), p.AssignedObligations...)
	p.SubmittedEvidence = append([]domain.Evidence(nil), p.SubmittedEvidence...)
	return p
}

func cloneInstance(in domain.Instance) domain.Instance {
	in.Assignees = append([]string(nil), in.Assignees...)
	in.SignedBy = append([]string(nil), in.SignedBy...)
	if in.Signatures != nil {
		sigs := make(map[domain.Role]domain.Signature, len(in.Signatures))
		for k, v := range in.Signatures {
			sigs[k] = v
		}
		in.Signatures = sigs
	}
	if in.Data != nil {
		data := make(map[string]any, len(in.Data))
		for k, v := range in.Data {
			data[k] = v
		}
		in.Data = data
	}
	return in
}
