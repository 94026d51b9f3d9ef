package store

import (
	"context"
	"fmt"

	"github.com/hivemind/core/pkg/domain"
)

// PolicyRepo persists the RBAC tuples pkg/capability/policy's OPA
// engine is restored from at startup and kept in sync with on every
// ManageRoles mutation (spec.md §4.1, §6).
type PolicyRepo interface {
	ListPolicies(ctx context.Context) ([]domain.PolicyTuple, error)
	ListRoleAssignments(ctx context.Context) ([]domain.RoleAssignment, error)
	InsertPolicy(ctx context.Context, p domain.PolicyTuple) error
	DeletePolicy(ctx context.Context, p domain.PolicyTuple) error
	InsertRoleAssignment(ctx context.Context, r domain.RoleAssignment) error
	DeleteRoleAssignment(ctx context.Context, r domain.RoleAssignment) error
}

var _ PolicyRepo = (*PostgresStore)(nil)

func (s *PostgresStore) ListPolicies(ctx context.Context) ([]domain.PolicyTuple, error) {
	rows, err := s.client.DB().QueryxContext(ctx, `SELECT subject, domain, object, action FROM policy_tuples`)
	if err != nil {
		return nil, fmt.Errorf("store: list policies: %w", err)
	}
	defer rows.Close()

	var out []domain.PolicyTuple
	for rows.Next() {
		var p domain.PolicyTuple
		if err := rows.Scan(&p.Subject, &p.Domain, &p.Object, &p.Action); err != nil {
			return nil, fmt.Errorf("store: scan policy tuple: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRoleAssignments(ctx context.Context) ([]domain.RoleAssignment, error) {
	rows, err := s.client.DB().QueryxContext(ctx, `SELECT subject, role, domain FROM role_assignments`)
	if err != nil {
		return nil, fmt.Errorf("store: list role assignments: %w", err)
	}
	defer rows.Close()

	var out []domain.RoleAssignment
	for rows.Next() {
		var r domain.RoleAssignment
		if err := rows.Scan(&r.Subject, &r.Role, &r.Domain); err != nil {
			return nil, fmt.Errorf("store: scan role assignment: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertPolicy(ctx context.Context, p domain.PolicyTuple) error {
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO policy_tuples (subject, domain, object, action) VALUES ($1,$2,$3,$4)
		ON CONFLICT DO NOTHING`, p.Subject, p.Domain, p.Object, p.Action)
	if err != nil {
		return fmt.Errorf("store: insert policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePolicy(ctx context.Context, p domain.PolicyTuple) error {
	_, err := s.client.DB().ExecContext(ctx,
		`DELETE FROM policy_tuples WHERE subject = $1 AND domain = $2 AND object = $3 AND action = $4`,
		p.Subject, p.Domain, p.Object, p.Action)
	if err != nil {
		return fmt.Errorf("store: delete policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertRoleAssignment(ctx context.Context, r domain.RoleAssignment) error {
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO role_assignments (subject, role, domain) VALUES ($1,$2,$3)
		ON CONFLICT DO NOTHING`, r.Subject, r.Role, r.Domain)
	if err != nil {
		return fmt.Errorf("store: insert role assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRoleAssignment(ctx context.Context, r domain.RoleAssignment) error {
	_, err := s.client.DB().ExecContext(ctx,
		`DELETE FROM role_assignments WHERE subject = $1 AND role = $2 AND domain = $3`,
		r.Subject, r.Role, r.Domain)
	if err != nil {
		return fmt.Errorf("store: delete role assignment: %w", err)
	}
	return nil
}
