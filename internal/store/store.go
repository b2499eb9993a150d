// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the Conversation Store (spec §3/§4.2, C4): an
// in-memory, TTL-swept collection of threads keyed by UUID. The map-plus-
// per-entity-mutex layout is adapted from the teacher's
// pkg/session.inMemoryService, generalized from app/user/session keys to a
// single thread_id key and from an event log to a turn-capped slice.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
)

// MaxTurnsPerThread is the hard cap enforced by AppendTurn (spec §3
// invariant 7 / scenario S5).
const MaxTurnsPerThread = 20

// DefaultTTL is how long a thread survives without being accessed before
// Sweep reclaims it (spec §4.2 point 4).
const DefaultTTL = 3 * time.Hour

// Turn is a single exchange recorded on a Thread.
type Turn struct {
	Role            string // "user" or "assistant"
	Content         string
	ToolName        string
	ModelName       string
	FilesReferenced []string
	ImagesReferenced []string
	CreatedAt       time.Time
}

// Thread is a conversation's full turn history plus bookkeeping metadata.
type Thread struct {
	ThreadID               string
	ParentThreadID         string
	CreatedAt              time.Time
	LastAccessedAt         time.Time
	ToolNameFirst          string
	InitialRequestSnapshot map[string]any

	mu    sync.RWMutex
	turns []Turn
}

// Turns returns a defensive copy of the thread's recorded turns.
func (t *Thread) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Thread) turnCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

func (t *Thread) appendTurn(turn Turn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.turns) >= MaxTurnsPerThread {
		return coreerr.NewThreadCapacityExceededError(t.ThreadID, MaxTurnsPerThread)
	}
	t.turns = append(t.turns, turn)
	return nil
}

// Store is a concurrency-safe, in-memory collection of Threads. The
// store-wide mutex guards only the top-level map; per-thread mutation goes
// through Thread's own lock so a slow provider call never blocks unrelated
// thread lookups.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*Thread

	now func() time.Time // overridable for tests
}

func New() *Store {
	return &Store{
		threads: make(map[string]*Thread),
		now:     time.Now,
	}
}

// CreateThread starts a new thread, optionally rooted at a parent (for
// cross-tool continuation, spec scenario S2). The returned thread_id is a
// fresh UUID v4.
func (s *Store) CreateThread(toolName string, initialRequest map[string]any, parentThreadID string) *Thread {
	now := s.now()
	t := &Thread{
		ThreadID:               uuid.NewString(),
		ParentThreadID:         parentThreadID,
		CreatedAt:              now,
		LastAccessedAt:         now,
		ToolNameFirst:          toolName,
		InitialRequestSnapshot: initialRequest,
	}

	s.mu.Lock()
	s.threads[t.ThreadID] = t
	s.mu.Unlock()

	return t
}

// GetThread looks up a thread by ID. It validates UUID syntax before doing
// the map lookup, so a malformed ID is reported as ThreadNotFound the same
// way a syntactically valid but absent one is (spec §4.2 point 4).
func (s *Store) GetThread(threadID string) (*Thread, error) {
	if _, err := uuid.Parse(threadID); err != nil {
		return nil, coreerr.NewThreadNotFoundError(threadID)
	}

	s.mu.RLock()
	t, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, coreerr.NewThreadNotFoundError(threadID)
	}

	t.mu.Lock()
	t.LastAccessedAt = s.now()
	t.mu.Unlock()

	return t, nil
}

// AppendTurn records a turn on an existing thread, rejecting the 21st turn
// without mutating the thread (invariant 9).
func (s *Store) AppendTurn(threadID string, turn Turn) error {
	t, err := s.GetThread(threadID)
	if err != nil {
		return err
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	return t.appendTurn(turn)
}

// Sweep removes threads whose LastAccessedAt is older than DefaultTTL as of
// now, returning the count reclaimed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.threads {
		t.mu.RLock()
		lastAccessed := t.LastAccessedAt
		t.mu.RUnlock()
		if now.Sub(lastAccessed) > DefaultTTL {
			delete(s.threads, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live threads.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// LooksLikeThreadID is a quick syntax check used by callers deciding
// whether a continuation_id field is present and well-formed before
// dispatch ever reaches the store (spec §3 envelope validation).
func LooksLikeThreadID(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
