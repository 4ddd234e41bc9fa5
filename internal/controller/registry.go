// Copyright 2025 Arion Yau
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

package controller

import (
	"sort"
	"sync"

	"machinery/internal/network"
)

type registryEntry struct {
	session *Session
	queue   chan *CommandEnvelope
}

// Registry maps device identities to their single live session and its
// command queue. An identity is present exactly while its session is live.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*registryEntry
	queueDepth int
}

func NewRegistry(queueDepth int) *Registry {
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Registry{
		entries:    make(map[string]*registryEntry),
		queueDepth: queueDepth,
	}
}

// Register claims the identity for session and returns the queue its
// worker consumes. It fails with ErrDuplicateSession if another session
// holds the identity.
func (r *Registry) Register(session *Session) (<-chan *CommandEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[session.Identity]; exists {
		return nil, ErrDuplicateSession
	}
	entry := &registryEntry{
		session: session,
		queue:   make(chan *CommandEnvelope, r.queueDepth),
	}
	r.entries[session.Identity] = entry
	return entry.queue, nil
}

// Unregister releases the identity if it is still held by session. Once it
// returns no further envelope can reach the session's queue.
func (r *Registry) Unregister(session *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[session.Identity]
	if !exists || entry.session != session {
		return false
	}
	delete(r.entries, session.Identity)
	return true
}

// Release unregisters session and resolves every envelope still waiting
// in its queue with the timeout sentinel. It returns how many were
// resolved.
func (r *Registry) Release(session *Session, queue <-chan *CommandEnvelope) int {
	r.Unregister(session)

	// Unregister has returned, so nothing new can land in the queue
	pending := 0
	for {
		select {
		case env := <-queue:
			env.Sink.Resolve(network.TimeoutSentinel)
			pending++
		default:
			return pending
		}
	}
}

// Enqueue hands env to the identity's queue without blocking. It returns
// false if the identity has no live session or its queue is full.
func (r *Registry) Enqueue(identity string, env *CommandEnvelope) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[identity]
	if !exists {
		return false
	}
	select {
	case entry.queue <- env:
		return true
	default:
		return false
	}
}

// Submit wraps command in a fresh envelope and enqueues it
func (r *Registry) Submit(identity, command string) (*CommandEnvelope, bool) {
	env := NewCommandEnvelope(command)
	if !r.Enqueue(identity, env) {
		return nil, false
	}
	return env, true
}

func (r *Registry) Connected(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[identity]
	return exists
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sessions returns a snapshot of all live sessions ordered by identity
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	infos := make([]SessionInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		infos = append(infos, entry.session.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Identity < infos[j].Identity
	})
	return infos
}
