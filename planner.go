package main

import (
	"context"
	"log/slog"
)

// Completer produces a completion for a prompt
type Completer interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// Planner gates completion requests behind the daily token budget
type Planner struct {
	completer  Completer
	budget     *TokenBudget
	configured bool
}

// NewPlanner creates a Planner. configured is false when no completion API key is set.
func NewPlanner(completer Completer, budget *TokenBudget, configured bool) *Planner {
	return &Planner{completer: completer, budget: budget, configured: configured}
}

// Generate builds the prompt, checks the budget, calls the completion service and records usage.
// Nothing is sent when the budget cannot cover the prompt plus reserved response tokens.
func (p *Planner) Generate(ctx context.Context, req PlanRequest) (Plan, error) {
	if !p.configured {
		return Plan{}, ErrMissingAPIKey
	}

	prompt := BuildPrompt(req.Title, req.Content, req.Permalink, req.Community)
	promptTokens := EstimateTokens(prompt)

	current, ok := p.budget.Admit(ctx, promptTokens, ReservedResponseTokens)
	if !ok {
		quotaDenialsTotal.Inc()
		slog.Warn("Daily token budget exhausted", "used", current.Tokens, "requested", promptTokens+ReservedResponseTokens, "limit", p.budget.Limit())
		return Plan{}, &QuotaExceededError{
			Used:      current.Tokens,
			Requested: promptTokens + ReservedResponseTokens,
			Limit:     p.budget.Limit(),
		}
	}

	completion, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		return Plan{}, err
	}

	usage := p.budget.Commit(ctx, promptTokens+completion.Tokens)
	slog.Info("Generated plan", "title", req.Title, "prompt_tokens", promptTokens, "completion_tokens", completion.Tokens, "used_today", usage.Tokens)

	return Plan{
		Title:            req.Title,
		Markdown:         completion.Text,
		PromptTokens:     promptTokens,
		CompletionTokens: completion.Tokens,
		Usage:            usage,
	}, nil
}

// Usage returns today's ledger
func (p *Planner) Usage(ctx context.Context) UsageLedger {
	return p.budget.Load(ctx)
}

// Limit returns the daily token cap
func (p *Planner) Limit() int {
	return p.budget.Limit()
}
