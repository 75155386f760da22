// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// CONTEXT STORE
// =============================================================================

// Store is an ordered, insertion-order-preserving collection of context
// items, unique by id. It lives for a conversation and survives across
// sends until cleared.
//
// The store has no internal locking: the owning conversation controller is
// the single writer, and that discipline is a caller obligation.
type Store struct {
	items []model.ContextItem
	index map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Add inserts an item, or replaces an existing item with the same id in
// place at its original position. New ids append at the end.
func (s *Store) Add(item model.ContextItem) {
	if pos, ok := s.index[item.ID]; ok {
		s.items[pos] = item
		return
	}
	s.index[item.ID] = len(s.items)
	s.items = append(s.items, item)
}

// Remove deletes the item with the given id. Returns false when absent.
func (s *Store) Remove(id string) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.items); i++ {
		s.index[s.items[i].ID] = i
	}
	return true
}

// Clear removes every item.
func (s *Store) Clear() {
	s.items = nil
	s.index = make(map[string]int)
}

// Items returns an ordered snapshot of the current items.
func (s *Store) Items() []model.ContextItem {
	return model.CloneItems(s.items)
}

// Get returns the item with the given id.
func (s *Store) Get(id string) (model.ContextItem, bool) {
	pos, ok := s.index[id]
	if !ok {
		return model.ContextItem{}, false
	}
	return s.items[pos], true
}

// Len returns the number of items.
func (s *Store) Len() int {
	return len(s.items)
}

// TotalTokens returns the sum of member token counts.
func (s *Store) TotalTokens() int {
	return model.TotalTokens(s.items)
}
