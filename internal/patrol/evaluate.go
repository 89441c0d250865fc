package patrol

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/llm"
)

var yesPattern = regexp.MustCompile(`(?i)^\s*yes\b`)

// evaluateLLMTriggers implements §4.12 step 4: every active llm_evaluated
// trigger (any source) that has already fired once gets re-evaluated; YES
// retires it, NO re-stamps triggered_at and leaves it active.
func (p *Patrol) evaluateLLMTriggers(ctx context.Context, u *domain.User) ([]string, error) {
	triggers, err := p.triggers.ListLLMEvaluatedFiredByUser(u.ID)
	if err != nil {
		return nil, fmt.Errorf("list fired llm-evaluated triggers: %w", err)
	}
	return p.evaluateAll(ctx, u, triggers)
}

// evaluateDeferredRequests implements §4.12 step 5: active llm_evaluated
// triggers sourced from a user request that have never fired yet.
func (p *Patrol) evaluateDeferredRequests(ctx context.Context, u *domain.User) ([]string, error) {
	triggers, err := p.triggers.ListDeferredRequestsByUser(u.ID)
	if err != nil {
		return nil, fmt.Errorf("list deferred requests: %w", err)
	}
	return p.evaluateAll(ctx, u, triggers)
}

func (p *Patrol) evaluateAll(ctx context.Context, u *domain.User, triggers []*domain.UserTrigger) ([]string, error) {
	var actions []string
	for _, t := range triggers {
		action, err := p.evaluateOne(ctx, u, t)
		if err != nil {
			p.log.Warn().Err(err).Int64("trigger_id", t.ID).Msg("evaluate llm trigger failed")
			continue
		}
		if action != "" {
			actions = append(actions, action)
		}
	}
	return actions, nil
}

func (p *Patrol) evaluateOne(ctx context.Context, u *domain.User, t *domain.UserTrigger) (string, error) {
	prompt := ""
	if t.EvalPrompt != nil {
		prompt = *t.EvalPrompt
	}

	var searchContext string
	if p.searcher != nil && prompt != "" {
		results, err := p.searcher.Search(ctx, prompt)
		if err != nil {
			p.log.Warn().Err(err).Msg("search for trigger evaluation failed")
		}
		var b strings.Builder
		for _, r := range results {
			b.WriteString("- " + r.Title + ": " + r.URL + "\n")
		}
		searchContext = b.String()
	}

	system := fmt.Sprintf(
		"You evaluate whether a watched situation has resolved. Respond with YES or NO followed by a 1-2 sentence reason.\n\nSituation: %s\n\nRecent search context:\n%s",
		t.Description, searchContext)
	messages := []llm.Message{{Role: "user", Content: prompt}}

	resp, err := p.llmSrc.Deep(ctx, system, messages)
	if err != nil {
		return "", fmt.Errorf("deep call: %w", err)
	}
	visible, _, _ := llm.SplitMeta(resp.Text)

	if yesPattern.MatchString(visible) {
		if err := p.triggers.Retire(t.ID); err != nil {
			return "", fmt.Errorf("retire trigger %d: %w", t.ID, err)
		}
		if err := p.msgr.SendText(ctx, u.ExternalID, visible, nil); err != nil {
			p.log.Warn().Err(err).Msg("send llm-evaluated resolution failed")
		}
		return "resolved trigger: " + t.Description, nil
	}

	if err := p.triggers.MarkTriggered(t.ID); err != nil {
		return "", fmt.Errorf("re-stamp trigger %d: %w", t.ID, err)
	}
	return "", nil
}
