// Package ingest drives a contribution through the ordered stages of
// spec.md §4.2: authn/authz, rate limiting, injection scanning, burst
// detection, PII stripping, content hashing, dedup/conflict
// resolution, and the approval gate. Each stage is its own file, one
// function per stage threading a State value, in the same
// one-file-per-stage shape as the teacher's pkg/agent/controller
// package.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/dedup"
	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/hmconfig"
	"github.com/hivemind/core/pkg/masking"
	"github.com/hivemind/core/pkg/store"
)

// Status is the outcome status returned to the caller (spec §4.2's
// Result envelope).
type Status string

const (
	StatusPending      Status = "pending"
	StatusAutoApproved Status = "auto_approved"
	StatusDuplicate    Status = "duplicate_detected"
	StatusRejected     Status = "rejected"
)

// Result is the ingestion pipeline's outcome.
type Result struct {
	Status      Status
	ItemID      string
	DuplicateOf string
	Reason      string
}

// Contribution is a raw, unvalidated submission.
type Contribution struct {
	Principal   domain.Principal
	Content     string
	Title       string
	Category    domain.Category
	Confidence  float64
	Labels      []string
	Contributed time.Time
}

// Authorizer checks whether the principal may contribute in its org.
type Authorizer interface {
	Authorize(ctx context.Context, principal domain.Principal, category domain.Category) error
}

// RateLimiter enforces the per-tier request-rate quota (spec §4.1).
type RateLimiter interface {
	CheckRate(ctx context.Context, principal domain.Principal, op string) error
}

// BurstChecker flags (never rejects) contributions that exceed the
// anti-sybil sliding-window threshold.
type BurstChecker interface {
	CheckBurst(ctx context.Context, orgID string) (flagged bool, err error)
}

// state is the value threaded through every pipeline stage.
type state struct {
	contribution    Contribution
	content         string // final cleaned content, code blocks reinjected
	contentHash     string
	embedding       []float32
	flagged         bool
	conflictFlagged bool
	dedupResult     dedup.Result
}

// Pipeline wires every stage's dependency.
type Pipeline struct {
	Authz     Authorizer
	RateLimit RateLimiter
	Burst     BurstChecker
	Injection capability.InjectionClassifier
	Masking   *masking.Pipeline
	Embedding capability.EmbeddingProvider
	Detector  *dedup.Detector
	Resolver  *dedup.Resolver
	Store     store.KnowledgeStore
	Pending   store.PendingRepo
	Cfg       hmconfig.Config
}

// Run drives contribution c through every stage in order. A reject or
// duplicate outcome is reported in Result, not returned as an error;
// only unexpected failures (capability/store errors other than the
// documented graceful degradations) are returned as err.
func (p *Pipeline) Run(ctx context.Context, c Contribution) (Result, error) {
	st := state{contribution: c}

	if err := p.stageAuthz(ctx, &st); err != nil {
		return Result{}, err
	}
	if err := p.stageRateLimit(ctx, &st); err != nil {
		return Result{}, err
	}
	if result, done, err := p.stageInjection(ctx, &st); done {
		return result, err
	}
	if err := p.stageBurst(ctx, &st); err != nil {
		return Result{}, err
	}
	if result, done, err := p.stageRedact(ctx, &st); done {
		return result, err
	}
	p.stageHash(&st)
	if err := p.stageEmbed(ctx, &st); err != nil {
		return Result{}, err
	}
	if result, done, err := p.stageDedup(ctx, &st); done {
		return result, err
	}
	return p.stageApprovalGate(ctx, &st)
}

func wrapStage(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ingest: %s: %w", name, err)
}
