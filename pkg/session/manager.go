/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/protocol"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	errNotReady        = errors.New("session is not ready")
)

const (
	// DefaultIdleTTL is how long an untouched session survives before
	// the reaper closes it.
	DefaultIdleTTL = 10 * time.Minute

	reapInterval = 30 * time.Second
)

type endpointKey struct {
	protocol string
	address  string
}

// Manager owns all sessions. Repeat opens against the same
// (protocol, address) endpoint reuse the live session instead of
// stacking connections.
type Manager struct {
	registry *protocol.Registry
	dial     Dialer
	idleTTL  time.Duration
	log      logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	byTarget map[endpointKey]*Session
}

// NewManager builds a session manager over the protocol registry.
func NewManager(registry *protocol.Registry, dial Dialer, log logger.Logger) *Manager {
	return &Manager{
		registry: registry,
		dial:     dial,
		idleTTL:  DefaultIdleTTL,
		log:      log.WithComponent("session"),
		sessions: make(map[string]*Session),
		byTarget: make(map[endpointKey]*Session),
	}
}

// Open returns a READY session for the endpoint, reusing a live one when
// present. A FAILED or CLOSED cached session is evicted and replaced.
func (m *Manager) Open(ctx context.Context, protocolName, address string) (*Session, error) {
	spec, err := m.registry.Get(protocolName)
	if err != nil {
		return nil, err
	}

	key := endpointKey{protocol: protocolName, address: address}

	m.mu.Lock()
	if existing, ok := m.byTarget[key]; ok {
		if existing.State() == StateReady {
			m.mu.Unlock()

			m.log.Debug().
				Str("session_id", existing.ID).
				Str("address", address).
				Msg("reusing live session")

			return existing, nil
		}

		delete(m.byTarget, key)
		delete(m.sessions, existing.ID)
	}
	m.mu.Unlock()

	conn, err := m.dial(spec, address, m.log)
	if err != nil {
		return nil, err
	}

	sess := newSession(protocolName, address, spec, conn)

	if err := sess.connect(ctx); err != nil {
		_ = conn.Close()

		m.log.Error().
			Err(err).
			Str("protocol", protocolName).
			Str("address", address).
			Msg("session connect failed")

		return nil, err
	}

	m.mu.Lock()
	// Another caller may have connected the same endpoint while this one
	// was dialing. Keep the first session and discard ours.
	if existing, ok := m.byTarget[key]; ok && existing.State() == StateReady {
		m.mu.Unlock()

		_ = sess.close()

		m.log.Debug().
			Str("session_id", existing.ID).
			Str("address", address).
			Msg("reusing session established concurrently")

		return existing, nil
	}

	m.sessions[sess.ID] = sess
	m.byTarget[key] = sess
	m.mu.Unlock()

	m.log.Info().
		Str("session_id", sess.ID).
		Str("protocol", protocolName).
		Str("address", address).
		Msg("session established")

	return sess, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return sess, nil
}

// Close terminates a session and removes it from the reuse index.
func (m *Manager) Close(id string) error {
	m.mu.Lock()

	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}

	delete(m.sessions, id)
	delete(m.byTarget, endpointKey{protocol: sess.Protocol, address: sess.Address})
	m.mu.Unlock()

	m.log.Info().Str("session_id", id).Msg("session closed")

	return sess.close()
}

// CloseAll terminates every session. Used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))

	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	m.sessions = make(map[string]*Session)
	m.byTarget = make(map[endpointKey]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.close()
	}
}

// List snapshots all known sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}

	return out
}

// SetIdleTTL overrides the reaper's idle threshold.
func (m *Manager) SetIdleTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.idleTTL = ttl
}

// StartReaper closes idle sessions in the background until ctx is done.
func (m *Manager) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reap()
			}
		}
	}()
}

func (m *Manager) reap() {
	m.mu.RLock()
	ttl := m.idleTTL
	stale := make([]string, 0)

	for id, s := range m.sessions {
		if time.Since(s.idleSince()) > ttl || s.State() == StateFailed {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.log.Debug().Str("session_id", id).Msg("reaping idle session")

		if err := m.Close(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.log.Warn().Err(err).Str("session_id", id).Msg("reap close failed")
		}
	}
}

// Stats summarizes current session counts by state.
func (m *Manager) Stats() map[State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[State]int)
	for _, s := range m.sessions {
		out[s.State()]++
	}

	return out
}
