// Package router implements the LLM Router described in spec.md §4.5-4.7:
// resolving a tool name to a provider/model pair, holding provider
// credentials, logging call outcomes, and self-learning from them. The
// resolution shape (exact match, then prefix match, then fallback) is
// grounded on the teacher's pkg/routing Router interface, generalized from
// routing an HTTP request to a downstream agent into routing a task's tool
// name to an LLM provider/model.
package router

import (
	"context"
	"math/rand"
	"strings"

	"github.com/browseragent/taskqueue/internal/store"
)

// Reason names why a particular provider/model was selected, surfaced on
// /router/route/:tool for observability.
type Reason string

const (
	ReasonDefault         Reason = "default"
	ReasonOptimized       Reason = "optimized"
	ReasonFallback        Reason = "fallback"
	ReasonDowngradeTest   Reason = "downgrade_test"
	ReasonNoProvider      Reason = "no_available_provider"
)

// Decision is the resolved routing outcome for one tool invocation.
type Decision struct {
	ToolName string `json:"toolName"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Reason   Reason `json:"reason"`
}

// Table resolves tool names to provider/model pairs by consulting pinned
// overrides first, then the learned/default routing table, then a global
// fallback.
type Table struct {
	store    *store.Store
	fallback Decision
}

// NewTable builds a Table backed by st, with fallback used when nothing
// else resolves.
func NewTable(st *store.Store, fallbackProvider, fallbackModel string) *Table {
	return &Table{
		store: st,
		fallback: Decision{
			Provider: fallbackProvider,
			Model:    fallbackModel,
			Reason:   ReasonFallback,
		},
	}
}

// Resolve picks the provider/model for toolName following the precedence
// spec.md §4.6 defines: exact override, prefix override, exact default
// (learned from routing_optimizations), prefix default, then global
// fallback.
func (t *Table) Resolve(ctx context.Context, toolName string) (Decision, error) {
	if d, ok, err := t.resolveOverride(ctx, toolName); err != nil {
		return Decision{}, err
	} else if ok {
		return d, nil
	}

	if d, ok, err := t.resolveLearnedDefault(ctx, toolName); err != nil {
		return Decision{}, err
	} else if ok {
		if sample, sampled, err := t.maybeSampleDowngradeTest(ctx, toolName, d); err != nil {
			return Decision{}, err
		} else if sampled {
			return sample, nil
		}
		return d, nil
	}

	if t.fallback.Provider == "" {
		return Decision{ToolName: toolName, Reason: ReasonNoProvider}, nil
	}
	d := t.fallback
	d.ToolName = toolName
	return d, nil
}

// maybeSampleDowngradeTest routes roughly one in ten calls
// to an active downgrade test's candidate model, so the self-learner
// accumulates live outcomes for the cheaper tier without diverting most
// traffic away from the proven default.
func (t *Table) maybeSampleDowngradeTest(ctx context.Context, toolName string, current Decision) (Decision, bool, error) {
	tests, err := t.store.ListActiveDowngradeTests(ctx)
	if err != nil {
		return Decision{}, false, err
	}
	for _, test := range tests {
		if test.ToolName != toolName {
			continue
		}
		if rand.Intn(10) != 0 {
			return Decision{}, false, nil
		}
		return Decision{ToolName: toolName, Provider: test.Provider, Model: test.ToModel, Reason: ReasonDowngradeTest}, true, nil
	}
	return Decision{}, false, nil
}

func (t *Table) resolveOverride(ctx context.Context, toolName string) (Decision, bool, error) {
	if o, err := t.store.GetOverride(ctx, toolName); err != nil {
		return Decision{}, false, err
	} else if o != nil {
		return Decision{ToolName: toolName, Provider: o.Provider, Model: o.Model, Reason: ReasonOptimized}, true, nil
	}

	overrides, err := t.store.ListOverrides(ctx)
	if err != nil {
		return Decision{}, false, err
	}
	match, ok := bestPrefixMatch(toolName, overrides)
	if ok {
		return Decision{ToolName: toolName, Provider: match.Provider, Model: match.Model, Reason: ReasonOptimized}, true, nil
	}
	return Decision{}, false, nil
}

// resolveLearnedDefault consults the most recent routing_optimizations
// entry for toolName (or its longest matching prefix), the self-learner's
// running notion of the "current default" absent any pinned override.
func (t *Table) resolveLearnedDefault(ctx context.Context, toolName string) (Decision, bool, error) {
	opts, err := t.store.ListOptimizations(ctx, toolName, 1)
	if err != nil {
		return Decision{}, false, err
	}
	if len(opts) > 0 {
		o := opts[0]
		return Decision{ToolName: toolName, Provider: o.NewProvider, Model: o.NewModel, Reason: ReasonDefault}, true, nil
	}

	all, err := t.store.ListOptimizations(ctx, "", 500)
	if err != nil {
		return Decision{}, false, err
	}
	best := -1
	var bestDecision Decision
	for _, o := range all {
		if !strings.HasSuffix(o.ToolName, "*") {
			continue
		}
		prefix := strings.TrimSuffix(o.ToolName, "*")
		if strings.HasPrefix(toolName, prefix) && len(prefix) > best {
			best = len(prefix)
			bestDecision = Decision{ToolName: toolName, Provider: o.NewProvider, Model: o.NewModel, Reason: ReasonDefault}
		}
	}
	if best >= 0 {
		return bestDecision, true, nil
	}
	return Decision{}, false, nil
}

// bestPrefixMatch returns the override whose tool_pattern ("foo.*") has the
// longest matching prefix over toolName, preferring an exact match (a
// pattern with no trailing "*") whenever one exists.
func bestPrefixMatch(toolName string, overrides []store.RoutingOverride) (store.RoutingOverride, bool) {
	var best store.RoutingOverride
	bestLen := -1
	found := false
	for _, o := range overrides {
		if o.ToolPattern == toolName {
			return o, true
		}
		if !strings.HasSuffix(o.ToolPattern, "*") {
			continue
		}
		prefix := strings.TrimSuffix(o.ToolPattern, "*")
		if strings.HasPrefix(toolName, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			best = o
			found = true
		}
	}
	return best, found
}

// SetOverride pins toolName (or a "prefix*" pattern) to provider/model.
func (t *Table) SetOverride(ctx context.Context, toolPattern, provider, model, reason string) error {
	return t.store.UpsertOverride(ctx, store.RoutingOverride{
		ToolPattern: toolPattern,
		Provider:    provider,
		Model:       model,
		Reason:      reason,
	})
}

// ClearOverride removes a pinned override.
func (t *Table) ClearOverride(ctx context.Context, toolPattern string) error {
	return t.store.DeleteOverride(ctx, toolPattern)
}

// ListAll returns every pinned override. It does not include learned
// defaults or the fallback resolution for tools without an override.
func (t *Table) ListAll(ctx context.Context) ([]store.RoutingOverride, error) {
	return t.store.ListOverrides(ctx)
}
