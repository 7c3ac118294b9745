/************************************************************************************
 *
 * crescendo, A Go client library for Spacebar-compatible chat instances
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 The Crescendo Contributors
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package crescendo

import "sync"

// Entity is the single capability shared entities expose to the store:
// reporting their own snowflake identity.
type Entity interface {
	SnowflakeID() Snowflake
}

/*****************************
 *          Cell
 *****************************/

// Cell is one shared, mutable entity slot. All readers and writers of the
// entity go through the cell's reader-writer lock; inbound gateway events
// mutate the entity in place, so every holder of the cell observes updates.
type Cell struct {
	mu     sync.RWMutex
	entity Entity
}

// View runs fn with the entity under the read lock. Concurrent readers are
// allowed; fn must not retain the entity past the call.
func (c *Cell) View(fn func(Entity)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.entity)
}

// Update runs fn with the entity under the write lock.
func (c *Cell) Update(fn func(Entity)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.entity)
}

// ID returns the identity of the stored entity.
func (c *Cell) ID() Snowflake {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entity.SnowflakeID()
}

/*****************************
 *          Store
 *****************************/

// Store is the live object store of one gateway: a mapping from snowflake to
// the single cell holding that entity. At most one cell per snowflake exists
// within a gateway; cells are released to the garbage collector once the
// store and every observer drop them.
type Store struct {
	mu    sync.Mutex
	cells map[Snowflake]*Cell
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{cells: make(map[Snowflake]*Cell)}
}

// Observe registers an entity for live updates. If the store already holds a
// cell with the same id, the existing cell wins and the caller's entity is
// discarded; otherwise the entity is inserted. The returned cell is the one
// the gateway will keep mutating.
func (s *Store) Observe(entity Entity) *Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cell, ok := s.cells[entity.SnowflakeID()]; ok {
		return cell
	}
	cell := &Cell{entity: entity}
	s.cells[entity.SnowflakeID()] = cell
	return cell
}

// ObserveAndGet is Observe plus an immediate read of the winning cell's
// entity. The returned value is the live entity the cell holds, not a copy.
func (s *Store) ObserveAndGet(entity Entity) (*Cell, Entity) {
	cell := s.Observe(entity)
	var current Entity
	cell.View(func(e Entity) { current = e })
	return cell, current
}

// ObserveRecursive observes an entity and walks its composite fields,
// registering each nested entity for updates as well. Guilds contribute
// their channels, roles, emojis, webhooks and voice states.
func (s *Store) ObserveRecursive(entity Entity) *Cell {
	cell := s.Observe(entity)
	guild, ok := entity.(*Guild)
	if !ok {
		return cell
	}
	for _, ch := range guild.Channels {
		s.Observe(ch)
	}
	for _, r := range guild.Roles {
		s.Observe(r)
	}
	for _, e := range guild.Emojis {
		if e.ID != 0 {
			s.Observe(e)
		}
	}
	for _, w := range guild.Webhooks {
		s.Observe(w)
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID != 0 {
			s.Observe(vs)
		}
	}
	return cell
}

// Get returns the cell for an id, or nil when the store has none.
func (s *Store) Get(id Snowflake) *Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cells[id]
}

// Release drops the store's reference to an id. Outstanding cell holders
// keep the cell alive; the store just stops routing updates to it.
func (s *Store) Release(id Snowflake) {
	s.mu.Lock()
	delete(s.cells, id)
	s.mu.Unlock()
}

// Len returns the number of live cells.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cells)
}
