// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package context resolves @ references into token-accounted context items
// and optimizes sets of items under a token budget.
package context

import "unicode/utf8"

// =============================================================================
// TOKEN ESTIMATOR
// =============================================================================

// EstimateTokens approximates the token count of text as
// max(1, characters/4), counting characters rather than bytes so that
// multi-byte text is not over-charged.
//
// This is a budgeting heuristic, not a tokenizer: it is deliberately
// approximate and makes no attempt at parity with any model's real
// tokenizer. Every token count in this package comes from this function.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
