package ingest

import (
	"context"
	"log/slog"
)

// stageRedact is stage 5 (spec §4.2): the two-pass, code-block-aware
// PII stripping pipeline. Pass 1 of masking.Pipeline.Redact fails
// closed: the narrative was never even scanned for PII, so an
// analyzer/anonymizer crash here is treated the same as "this content
// is mostly PII" and rejected under the same reason, rather than
// surfaced as a generic 500 — the submitter gets a consistent,
// actionable rejection instead of an opaque internal error.
func (p *Pipeline) stageRedact(ctx context.Context, st *state) (Result, bool, error) {
	res, err := p.Masking.Redact(ctx, st.contribution.Content)
	if err != nil {
		slog.ErrorContext(ctx, "ingest: masking pipeline failed, rejecting contribution", "error", err)
		return Result{Status: StatusRejected, Reason: "too_much_pii"}, true, nil
	}
	if res.Rejected {
		return Result{Status: StatusRejected, Reason: "too_much_pii"}, true, nil
	}
	st.content = res.Redacted
	return Result{}, false, nil
}
