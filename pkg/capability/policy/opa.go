// Package policy provides the default PolicyEngine: an in-process OPA
// (Open Policy Agent) rego evaluator over the (subject, domain, object,
// action) policy tuples and (subject, role, domain) role assignments
// described in spec.md §6. Grounded on jordigilh-kubernaut's go.mod
// dependency on github.com/open-policy-agent/opa; the "rebuild the
// document on every mutation, never mutate in place" idiom is carried
// over from the teacher's pkg/masking/pattern.go
// compileBuiltinPatterns/compileCustomPatterns pattern.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/domain"
)

const module = `
package hivemind.rbac

import rego.v1

default allow := false

# A policy tuple (role, domain, object, action) grants access to every
# subject holding that role in that domain. The wildcard action "*"
# grants any action on the object (the admin-gate pattern, spec §4.1).
allow if {
	some p in data.policies
	p.domain == input.domain
	p.object == input.object
	action_matches(p.action, input.action)
	some r in data.roles
	r.subject == input.subject
	r.domain == input.domain
	r.role == p.subject
}

action_matches(granted, _) if granted == "*"
action_matches(granted, requested) if granted == requested
`

// Engine implements capability.PolicyEngine. Policy and role tuples
// live in memory, owned exclusively by this type; callers persist them
// to Postgres themselves (spec §6: "persisted in Postgres and loaded
// into OPA's in-memory store on change") and replay them into
// RestorePolicies/RestoreRoles at startup.
type Engine struct {
	mu       sync.RWMutex
	policies []domain.PolicyTuple
	roles    []domain.RoleAssignment
	prepared rego.PreparedEvalQuery
}

var _ capability.PolicyEngine = (*Engine)(nil)

// NewEngine builds an empty engine. Call RestorePolicies/RestoreRoles
// to seed it from the durable store before serving traffic.
func NewEngine(ctx context.Context) (*Engine, error) {
	e := &Engine{}
	if err := e.rebuild(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// RestorePolicies replaces the in-memory policy tuple set, e.g. at
// process startup after loading rows from Postgres.
func (e *Engine) RestorePolicies(ctx context.Context, policies []domain.PolicyTuple) error {
	e.mu.Lock()
	e.policies = append([]domain.PolicyTuple(nil), policies...)
	e.mu.Unlock()
	return e.rebuild(ctx)
}

// RestoreRoles replaces the in-memory role-assignment set.
func (e *Engine) RestoreRoles(ctx context.Context, roles []domain.RoleAssignment) error {
	e.mu.Lock()
	e.roles = append([]domain.RoleAssignment(nil), roles...)
	e.mu.Unlock()
	return e.rebuild(ctx)
}

// rebuild recompiles the prepared query against a freshly built data
// document. Called while holding no lock; it takes its own read lock
// to snapshot state, builds the document, then swaps the prepared
// query under a write lock.
func (e *Engine) rebuild(ctx context.Context) error {
	e.mu.RLock()
	doc := map[string]any{
		"policies": e.policies,
		"roles":    e.roles,
	}
	e.mu.RUnlock()

	store := inmem.NewFromObject(doc)
	prepared, err := rego.New(
		rego.Query("data.hivemind.rbac.allow"),
		rego.Module("rbac.rego", module),
		rego.Store(store),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("policy: compile rego module: %w", err)
	}

	e.mu.Lock()
	e.prepared = prepared
	e.mu.Unlock()
	return nil
}

// Enforce evaluates whether subject may perform action on object within
// domain, per the compiled rbac.allow rule.
func (e *Engine) Enforce(ctx context.Context, subject, domainID, object, action string) (bool, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	input := map[string]any{
		"subject": subject,
		"domain":  domainID,
		"object":  object,
		"action":  action,
	}
	results, err := prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("policy: eval: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// AddPolicy appends a policy tuple and recompiles the evaluator.
func (e *Engine) AddPolicy(ctx context.Context, subject, domainID, object, action string) error {
	e.mu.Lock()
	e.policies = append(e.policies, domain.PolicyTuple{Subject: subject, Domain: domainID, Object: object, Action: action})
	e.mu.Unlock()
	return e.rebuild(ctx)
}

// RemovePolicy removes every matching policy tuple and recompiles.
func (e *Engine) RemovePolicy(ctx context.Context, subject, domainID, object, action string) error {
	e.mu.Lock()
	out := e.policies[:0]
	for _, p := range e.policies {
		if p.Subject == subject && p.Domain == domainID && p.Object == object && p.Action == action {
			continue
		}
		out = append(out, p)
	}
	e.policies = out
	e.mu.Unlock()
	return e.rebuild(ctx)
}

// AssignRole appends a role assignment and recompiles.
func (e *Engine) AssignRole(ctx context.Context, subject, role, domainID string) error {
	e.mu.Lock()
	e.roles = append(e.roles, domain.RoleAssignment{Subject: subject, Role: role, Domain: domainID})
	e.mu.Unlock()
	return e.rebuild(ctx)
}

// RevokeRole removes a matching role assignment and recompiles.
func (e *Engine) RevokeRole(ctx context.Context, subject, role, domainID string) error {
	e.mu.Lock()
	out := e.roles[:0]
	for _, r := range e.roles {
		if r.Subject == subject && r.Role == role && r.Domain == domainID {
			continue
		}
		out = append(out, r)
	}
	e.roles = out
	e.mu.Unlock()
	return e.rebuild(ctx)
}
