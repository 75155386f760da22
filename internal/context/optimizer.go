// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"sort"
	"strings"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// STRATEGY
// =============================================================================

// Strategy selects how the optimizer reduces a context set to fit a budget.
type Strategy int

const (
	// StrategyNone returns the input unchanged even when over budget;
	// enforcement becomes the caller's responsibility.
	StrategyNone Strategy = iota

	// StrategyTruncate drops oldest items first and partially includes the
	// first overflowing item by trimming trailing lines.
	StrategyTruncate

	// StrategySummarize replaces evicted items' content with summaries
	// from an external summarizer before falling back to truncation.
	StrategySummarize

	// StrategySmart orders eviction by declared relevance and recency,
	// then applies truncate's partial-inclusion behavior.
	StrategySmart
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyTruncate:
		return "truncate"
	case StrategySummarize:
		return "summarize"
	case StrategySmart:
		return "smart"
	default:
		return "unknown"
	}
}

// =============================================================================
// SUMMARIZER
// =============================================================================

// Summarizer produces a shorter rendition of an item's content. The
// summarization mechanism itself is an external collaborator; the
// optimizer only orchestrates budget allocation around it.
type Summarizer interface {
	SummarizeItem(item model.ContextItem, targetTokens int) (string, error)
}

// =============================================================================
// OPTIMIZER
// =============================================================================

// TruncationMarker is appended to partially included content.
const TruncationMarker = "[... content truncated for token limit ...]"

// DefaultMinimumViableTokens is the floor below which partial inclusion is
// skipped: a remaining budget smaller than this cannot hold meaningful
// content, so the overflowing item is dropped instead.
const DefaultMinimumViableTokens = 50

// Optimizer trims context item sets to a token budget.
type Optimizer struct {
	// MinimumViableTokens overrides the partial-inclusion floor when > 0.
	MinimumViableTokens int

	// Summarizer backs StrategySummarize. When nil, that strategy behaves
	// like StrategyTruncate.
	Summarizer Summarizer
}

// NewOptimizer creates an optimizer with default settings.
func NewOptimizer() *Optimizer {
	return &Optimizer{MinimumViableTokens: DefaultMinimumViableTokens}
}

// Optimize returns a subset of items whose total token count fits within
// maxTokens, possibly with one item truncated. When the input already
// fits, it is returned unchanged regardless of strategy.
func (o *Optimizer) Optimize(items []model.ContextItem, maxTokens int, strategy Strategy) []model.ContextItem {
	if model.TotalTokens(items) <= maxTokens {
		return items
	}

	switch strategy {
	case StrategyNone:
		return items
	case StrategyTruncate:
		return o.truncate(items, maxTokens, byRecency)
	case StrategySummarize:
		return o.summarize(items, maxTokens)
	case StrategySmart:
		return o.truncate(items, maxTokens, byRelevanceThenRecency)
	default:
		return o.truncate(items, maxTokens, byRecency)
	}
}

func (o *Optimizer) floor() int {
	if o.MinimumViableTokens > 0 {
		return o.MinimumViableTokens
	}
	return DefaultMinimumViableTokens
}

// =============================================================================
// EVICTION ORDERING
// =============================================================================

// An ordering sorts items with keep-first priority.
type ordering func(items []model.ContextItem)

// byRecency keeps most-recently-modified content preferentially.
func byRecency(items []model.ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LastModified.After(items[j].LastModified)
	})
}

// byRelevanceThenRecency keeps items with higher declared relevance first,
// breaking ties by recency. Items without a relevance signal rank neutral.
func byRelevanceThenRecency(items []model.ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := smartScore(items[i]), smartScore(items[j])
		if ri != rj {
			return ri > rj
		}
		return items[i].LastModified.After(items[j].LastModified)
	})
}

func smartScore(item model.ContextItem) float64 {
	if item.Metadata.Relevance > 0 {
		return item.Metadata.Relevance
	}
	return 0.5
}

// =============================================================================
// TRUNCATE STRATEGY
// =============================================================================

// truncate accumulates items in keep-priority order while they fit. The
// first item that would overflow is partially included when the remaining
// budget is at least the minimum viable floor; everything after it is
// dropped, not merely skipped.
func (o *Optimizer) truncate(items []model.ContextItem, maxTokens int, order ordering) []model.ContextItem {
	sorted := model.CloneItems(items)
	order(sorted)

	result := make([]model.ContextItem, 0, len(sorted))
	remaining := maxTokens

	for _, item := range sorted {
		if item.TokenCount <= remaining {
			result = append(result, item)
			remaining -= item.TokenCount
			continue
		}
		if remaining >= o.floor() {
			result = append(result, truncateItem(item, remaining))
		}
		break
	}

	return result
}

// truncateItem trims trailing lines proportionally to the budget share and
// appends the truncation marker. The reported token count is set to exactly
// the remaining budget, not recomputed from the trimmed content; this
// guarantees the sum(tokenCount) <= maxTokens post-condition holds exactly.
func truncateItem(item model.ContextItem, budget int) model.ContextItem {
	lines := strings.Split(item.Content, "\n")

	keep := len(lines) * budget / item.TokenCount
	if keep < 1 {
		keep = 1
	}
	if keep > len(lines) {
		keep = len(lines)
	}

	truncated := item.Clone()
	truncated.Content = strings.Join(lines[:keep], "\n") + "\n" + TruncationMarker
	truncated.TokenCount = budget
	return truncated
}

// =============================================================================
// SUMMARIZE STRATEGY
// =============================================================================

// summarize keeps the most recent items whole while they fit, then asks the
// summarizer to shrink the remainder. Items whose summaries still do not
// fit are dropped. Without a summarizer the strategy degrades to truncate.
func (o *Optimizer) summarize(items []model.ContextItem, maxTokens int) []model.ContextItem {
	if o.Summarizer == nil {
		return o.truncate(items, maxTokens, byRecency)
	}

	sorted := model.CloneItems(items)
	byRecency(sorted)

	result := make([]model.ContextItem, 0, len(sorted))
	remaining := maxTokens

	for _, item := range sorted {
		if item.TokenCount <= remaining {
			result = append(result, item)
			remaining -= item.TokenCount
			continue
		}
		if remaining < o.floor() {
			break
		}

		summary, err := o.Summarizer.SummarizeItem(item, remaining)
		if err != nil {
			break
		}
		tokens := EstimateTokens(summary)
		if tokens > remaining {
			break
		}

		summarized := item.Clone()
		summarized.Content = summary
		summarized.TokenCount = tokens
		result = append(result, summarized)
		remaining -= tokens
	}

	return result
}
