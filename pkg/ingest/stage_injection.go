package ingest

import "context"

// stageInjection is stage 3 (spec §4.2): the raw, pre-redaction
// content is classified for prompt-injection content. Running before
// PII stripping matters — a prompt injection disguised as PII would
// otherwise be partially obfuscated before scanning and change the
// signal.
func (p *Pipeline) stageInjection(ctx context.Context, st *state) (Result, bool, error) {
	_, score, err := p.Injection.Classify(ctx, st.contribution.Content)
	if err != nil {
		return Result{}, true, wrapStage("injection", err)
	}
	if score >= p.Cfg.InjectionThreshold {
		return Result{Status: StatusRejected, Reason: "injection"}, true, nil
	}
	return Result{}, false, nil
}
