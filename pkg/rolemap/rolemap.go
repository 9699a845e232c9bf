// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Package rolemap stores the association between role names, behavior
// identifiers and the objects currently playing each role.
package rolemap

import (
	"fmt"
	"sync"

	"github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/player"
)

// Entry is a single role assignment.
type Entry struct {
	Role       string
	BehaviorID string
	Player     any
}

// Map is an insertion-ordered role map. It is safe for concurrent reads while
// a single writer updates it.
type Map struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]Entry)}
}

// Update inserts or overwrites the entry for role. An overwritten role keeps
// its original position.
func (m *Map) Update(role, behaviorID string, p any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[role]; !ok {
		m.order = append(m.order, role)
	}
	m.entries[role] = Entry{Role: role, BehaviorID: behaviorID, Player: p}
}

// HasRole reports whether role has been declared.
func (m *Map) HasRole(role string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[role]
	return ok
}

// Entry returns the full entry for role.
func (m *Map) Entry(role string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[role]
	if !ok {
		return Entry{}, invalidRole(role)
	}
	return e, nil
}

// AssignedPlayer returns the current occupant of role.
func (m *Map) AssignedPlayer(role string) (any, error) {
	e, err := m.Entry(role)
	if err != nil {
		return nil, err
	}
	return e.Player, nil
}

// IsRolePlayer reports whether obj currently occupies some role. The original
// player under a composed occupant and the members of a collection occupant
// count as occupants too.
func (m *Map) IsRolePlayer(obj any) bool {
	if obj == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, role := range m.order {
		if occupies(m.entries[role].Player, obj) {
			return true
		}
	}
	return false
}

func occupies(occupant, obj any) bool {
	if occupant == nil {
		return false
	}
	if player.Same(occupant, obj) || player.Same(player.Unwrap(occupant), obj) {
		return true
	}
	if members, ok := player.Members(player.Unwrap(occupant)); ok {
		for _, member := range members {
			if player.Same(member, obj) || player.Same(player.Unwrap(member), obj) {
				return true
			}
		}
	}
	return false
}

// Each calls fn for every entry in insertion order until fn returns false.
// fn must not modify the map.
func (m *Map) Each(fn func(Entry) bool) {
	for _, e := range m.Entries() {
		if !fn(e) {
			return
		}
	}
}

// Entries returns a snapshot of all entries in insertion order.
func (m *Map) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.order))
	for i, role := range m.order {
		out[i] = m.entries[role]
	}
	return out
}

// Roles returns the role names in insertion order.
func (m *Map) Roles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Len returns the number of roles.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Reset discards every entry.
func (m *Map) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.entries = make(map[string]Entry)
}

func invalidRole(role string) error {
	return errors.New(errors.CodeInvalidRole, fmt.Sprintf("role '%s' is not present", role), nil).
		WithContext("role", role)
}
