// Package service composes the ingestion, retrieval, access, and
// webhook layers into the eight boundary operations a transport
// adapter drives (spec.md §6). It is the one place request/response
// shapes are stable; every field below is named directly after the
// spec's boundary contract.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hivemind/core/pkg/access"
	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
	"github.com/hivemind/core/pkg/ingest"
	"github.com/hivemind/core/pkg/retrieval"
	"github.com/hivemind/core/pkg/store"
	"github.com/hivemind/core/pkg/webhook"
)

// MineStore is the subset of store.KnowledgeStore ListMine/DeleteMine/
// PublishKnowledge operate on.
type MineStore interface {
	ListByAgent(ctx context.Context, orgID, agentID string) ([]domain.KnowledgeItem, error)
	GetKnowledgeItem(ctx context.Context, orgID, id string) (*domain.KnowledgeItem, error)
	UpdateKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) error
	SoftDeleteKnowledgeItem(ctx context.Context, orgID, id, agentID string, deletedAt time.Time) error
}

// PolicyStore is the durable side of ManageRoles; capability.PolicyEngine
// is the in-memory side the Authorizer reads. Both are kept in sync on
// every mutation (spec.md §6: "persisted in Postgres ... loaded into
// OPA's in-memory store on change").
type PolicyStore interface {
	InsertPolicy(ctx context.Context, p domain.PolicyTuple) error
	DeletePolicy(ctx context.Context, p domain.PolicyTuple) error
	InsertRoleAssignment(ctx context.Context, r domain.RoleAssignment) error
	DeleteRoleAssignment(ctx context.Context, r domain.RoleAssignment) error
}

// Service is the composition of every core subsystem behind the
// stable request/response boundary of spec.md §6.
type Service struct {
	Ingest     *ingest.Pipeline
	Retrieval  *retrieval.Engine
	Authz      *access.Authorizer
	Mine       MineStore
	Signals    store.SignalRepo
	Policies   PolicyStore
	PolicyEng  capability.PolicyEngine
	Webhooks   *webhook.Dispatcher
	Embed      capability.EmbeddingProvider
	Now        func() time.Time
}

// New wires a Service. Panics if any required dependency is nil,
// matching the teacher's services.NewXService fail-fast constructor
// idiom — a misconfigured composition root should never get as far as
// serving a request.
func New(ingestPipeline *ingest.Pipeline, retrievalEngine *retrieval.Engine, authz *access.Authorizer, mine MineStore, signals store.SignalRepo, policies PolicyStore, policyEngine capability.PolicyEngine, webhooks *webhook.Dispatcher, embed capability.EmbeddingProvider, now func() time.Time) *Service {
	if ingestPipeline == nil {
		panic("service.New: ingestPipeline must not be nil")
	}
	if retrievalEngine == nil {
		panic("service.New: retrievalEngine must not be nil")
	}
	if authz == nil {
		panic("service.New: authz must not be nil")
	}
	if mine == nil {
		panic("service.New: mine must not be nil")
	}
	if signals == nil {
		panic("service.New: signals must not be nil")
	}
	if policies == nil {
		panic("service.New: policies must not be nil")
	}
	if policyEngine == nil {
		panic("service.New: policyEngine must not be nil")
	}
	if webhooks == nil {
		panic("service.New: webhooks must not be nil")
	}
	if embed == nil {
		panic("service.New: embed must not be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		Ingest: ingestPipeline, Retrieval: retrievalEngine, Authz: authz, Mine: mine,
		Signals: signals, Policies: policies, PolicyEng: policyEngine, Webhooks: webhooks,
		Embed: embed, Now: now,
	}
}

// AddKnowledgeInput is the AddKnowledge boundary operation's request.
type AddKnowledgeInput struct {
	Principal  domain.Principal
	Content    string
	Title      string
	Category   domain.Category
	Confidence float64
	Labels     []string
}

// AddKnowledge validates and runs content through the ingestion
// pipeline (spec.md §6). A successful dedup NOOP is reported through
// ingest.Result, not returned as an error.
func (s *Service) AddKnowledge(ctx context.Context, in AddKnowledgeInput) (ingest.Result, error) {
	if in.Content == "" {
		return ingest.Result{}, &herrors.ValidationError{Field: "content", Message: "must not be empty"}
	}
	if !in.Category.IsValid() {
		return ingest.Result{}, &herrors.ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", in.Category)}
	}
	confidence := in.Confidence
	if confidence == 0 {
		confidence = 1.0
	}

	result, err := s.Ingest.Run(ctx, ingest.Contribution{
		Principal:   in.Principal,
		Content:     in.Content,
		Title:       in.Title,
		Category:    in.Category,
		Confidence:  confidence,
		Labels:      in.Labels,
		Contributed: s.Now(),
	})
	if err != nil {
		return ingest.Result{}, err
	}

	// spec.md §4.7: fan-out fires on the approval path only. Every
	// insertAsCurrent call (auto-approve, dedup UPDATE, VERSION_FORK)
	// reports StatusAutoApproved; a queued pending row is not yet
	// approved and fans out nothing.
	if result.Status == ingest.StatusAutoApproved {
		s.Webhooks.Dispatch(ctx, webhook.EventKnowledgeApproved, in.Principal.OrgID, result.ItemID, string(in.Category))
	}
	return result, nil
}

// SearchKnowledgeInput is the SearchKnowledge boundary operation's request.
type SearchKnowledgeInput struct {
	Principal domain.Principal
	QueryText string
	Category  *domain.Category
	AtTime    *time.Time
	Version   string
	Limit     int
}

// SearchKnowledge embeds the query text and runs the hybrid retrieval
// engine (spec.md §6).
func (s *Service) SearchKnowledge(ctx context.Context, in SearchKnowledgeInput) ([]retrieval.Result, error) {
	if in.QueryText == "" {
		return nil, &herrors.ValidationError{Field: "query", Message: "must not be empty"}
	}

	embedding, err := s.Embed.Embed(ctx, in.QueryText)
	if err != nil {
		return nil, fmt.Errorf("service: embed query: %w", err)
	}

	return s.Retrieval.Search(ctx, retrieval.Request{
		Principal:      in.Principal,
		QueryText:      in.QueryText,
		QueryEmbedding: embedding,
		Category:       in.Category,
		AtTime:         in.AtTime,
		Version:        in.Version,
		Limit:          in.Limit,
	})
}

// FetchByID returns item and tamper-detection status (spec.md §6).
// Cross-tenant access to a private item is indistinguishable from a
// non-existent id (herrors.ErrNotFound) — retrieval.Engine already
// enforces this at the store-query level.
func (s *Service) FetchByID(ctx context.Context, principal domain.Principal, id string) (retrieval.FetchResult, error) {
	return s.Retrieval.FetchByID(ctx, principal, id)
}

// ListMine lists every current, non-deleted item principal contributed
// within its own org (spec.md §6).
func (s *Service) ListMine(ctx context.Context, principal domain.Principal) ([]domain.KnowledgeItem, error) {
	return s.Mine.ListByAgent(ctx, principal.OrgID, principal.AgentID)
}

// DeleteMine soft-deletes id, restricted to the contributing agent
// (spec.md §6/§4.4). A cross-tenant, not-own, or missing item is
// reported identically — ownership, not a policy grant, is what
// DeleteMine authorizes on, so no Authorizer round-trip is needed.
func (s *Service) DeleteMine(ctx context.Context, principal domain.Principal, id string) error {
	item, err := s.Mine.GetKnowledgeItem(ctx, principal.OrgID, id)
	if err != nil {
		return translateForbidden(err)
	}
	if item.SourceAgentID != principal.AgentID {
		return herrors.ErrNotFound
	}
	return s.Mine.SoftDeleteKnowledgeItem(ctx, principal.OrgID, id, principal.AgentID, s.Now())
}

// PublishKnowledge flips is_public on id, restricted to the
// contributing agent (spec.md §6). Content hash is never touched:
// publishing changes visibility, not content (spec.md §8: publish-
// then-unpublish round-trip leaves content_hash unchanged —
// UpdateKnowledgeItem never rewrites Content/ContentHash here).
func (s *Service) PublishKnowledge(ctx context.Context, principal domain.Principal, id string, public bool) (domain.KnowledgeItem, error) {
	item, err := s.Mine.GetKnowledgeItem(ctx, principal.OrgID, id)
	if err != nil {
		return domain.KnowledgeItem{}, translateForbidden(err)
	}
	if item.SourceAgentID != principal.AgentID {
		return domain.KnowledgeItem{}, herrors.ErrNotFound
	}

	item.IsPublic = public
	if err := s.Mine.UpdateKnowledgeItem(ctx, item); err != nil {
		return domain.KnowledgeItem{}, fmt.Errorf("service: publish knowledge: %w", err)
	}
	return *item, nil
}

// translateForbidden folds herrors.ErrForbidden into herrors.ErrNotFound
// at the boundary, per spec.md §6's "cross-org returns the same
// not-found response" and §7's existence-oracle guard.
func translateForbidden(err error) error {
	if errors.Is(err, herrors.ErrForbidden) {
		return herrors.ErrNotFound
	}
	return err
}

// ManageRolesAction is the closed enum of ManageRoles mutations
// (spec.md §6 names only "action, subject, role|policy" — the
// original system's four RBAC primitives, carried over unchanged).
type ManageRolesAction string

const (
	ActionAddPolicy     ManageRolesAction = "add_policy"
	ActionRemovePolicy  ManageRolesAction = "remove_policy"
	ActionAssignRole    ManageRolesAction = "assign_role"
	ActionRevokeRole    ManageRolesAction = "revoke_role"
)

// ManageRolesInput is the ManageRoles boundary operation's request.
// Exactly one of Policy or Role is read, depending on Action.
type ManageRolesInput struct {
	Principal domain.Principal
	Action    ManageRolesAction
	Policy    domain.PolicyTuple
	Role      domain.RoleAssignment
}

// ManageRoles requires the calling principal to hold the admin gate
// (namespace:<org_id>, "*") in its own org, then mutates both the
// durable PolicyStore and the in-memory PolicyEngine so the change is
// enforced immediately and survives restart.
func (s *Service) ManageRoles(ctx context.Context, in ManageRolesInput) error {
	if err := s.Authz.AuthorizeItem(ctx, in.Principal, in.Principal.OrgID, "rbac", "manage"); err != nil {
		return err
	}

	switch in.Action {
	case ActionAddPolicy:
		if err := s.Policies.InsertPolicy(ctx, in.Policy); err != nil {
			return fmt.Errorf("service: manage roles: %w", err)
		}
		return s.PolicyEng.AddPolicy(ctx, in.Policy.Subject, in.Policy.Domain, in.Policy.Object, in.Policy.Action)
	case ActionRemovePolicy:
		if err := s.Policies.DeletePolicy(ctx, in.Policy); err != nil {
			return fmt.Errorf("service: manage roles: %w", err)
		}
		return s.PolicyEng.RemovePolicy(ctx, in.Policy.Subject, in.Policy.Domain, in.Policy.Object, in.Policy.Action)
	case ActionAssignRole:
		if err := s.Policies.InsertRoleAssignment(ctx, in.Role); err != nil {
			return fmt.Errorf("service: manage roles: %w", err)
		}
		return s.PolicyEng.AssignRole(ctx, in.Role.Subject, in.Role.Role, in.Role.Domain)
	case ActionRevokeRole:
		if err := s.Policies.DeleteRoleAssignment(ctx, in.Role); err != nil {
			return fmt.Errorf("service: manage roles: %w", err)
		}
		return s.PolicyEng.RevokeRole(ctx, in.Role.Subject, in.Role.Role, in.Role.Domain)
	default:
		return &herrors.ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", in.Action)}
	}
}

// Outcome is the closed enum ReportOutcome accepts (spec.md §6).
type Outcome string

const (
	OutcomeSolved     Outcome = "solved"
	OutcomeDidNotHelp Outcome = "did_not_help"
)

// ReportOutcome records behavioral feedback on item_id, idempotent on
// (agent_id, run_id) (spec.md §6/§8). A second call with the same
// run_id reports already_recorded rather than double-counting.
func (s *Service) ReportOutcome(ctx context.Context, principal domain.Principal, itemID string, outcome Outcome, runID string) (recorded bool, err error) {
	signalType := domain.SignalOutcomeNotHelpful
	if outcome == OutcomeSolved {
		signalType = domain.SignalOutcomeSolved
	} else if outcome != OutcomeDidNotHelp {
		return false, &herrors.ValidationError{Field: "outcome", Message: fmt.Sprintf("unknown outcome %q", outcome)}
	}

	recorded, err = s.Signals.RecordOutcome(ctx, itemID, principal.AgentID, runID, signalType)
	if err != nil {
		return false, fmt.Errorf("service: report outcome: %w", err)
	}
	return recorded, nil
}
