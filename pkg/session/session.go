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

// Package session owns protocol connection lifecycles: the per-device
// state machine, retry policy, session reuse and reading history.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/fieldgate/pkg/models"
)

// State is one step of the session lifecycle.
type State string

const (
	StateNew        State = "new"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateClosed     State = "closed"
)

// historyWindow is the number of recent readings a session retains for
// drift and pattern analysis.
const historyWindow = 10

// Session is one live connection to one device. All operations on a
// session serialize through its lock; concurrent callers queue rather
// than interleave frames.
type Session struct {
	ID       string
	Protocol string
	Address  string
	Spec     *models.ProtocolSpec

	mu       sync.Mutex
	state    State
	conn     Transport
	lastUsed time.Time

	// Frame correlation counters. Session-scoped so concurrent sessions
	// never share an id sequence.
	nextTx     uint16
	nextInvoke uint8

	// history is a ring of the most recent readings, keyed order oldest
	// to newest when read back.
	history [historyWindow]models.ReadingRecord
	count   int
	head    int
}

func newSession(protocol, address string, spec *models.ProtocolSpec, conn Transport) *Session {
	return &Session{
		ID:       uuid.New().String(),
		Protocol: protocol,
		Address:  address,
		Spec:     spec,
		state:    StateNew,
		conn:     conn,
		lastUsed: time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Conn exposes the underlying transport for protocol-specific calls.
// Callers must hold the session via Do.
func (s *Session) Conn() Transport {
	return s.conn
}

// NextTxID returns the next Modbus transaction id. Monotone within the
// session, wraps at 65535.
func (s *Session) NextTxID() uint16 {
	s.nextTx++
	return s.nextTx
}

// NextInvokeID returns the next BACnet invoke id. Monotone within the
// session, wraps at 255.
func (s *Session) NextInvokeID() uint8 {
	s.nextInvoke++
	return s.nextInvoke
}

// Record appends a reading to the rolling history window.
func (s *Session) Record(rec models.ReadingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.head] = rec
	s.head = (s.head + 1) % historyWindow

	if s.count < historyWindow {
		s.count++
	}
}

// History returns the retained readings, oldest first.
func (s *Session) History() []models.ReadingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ReadingRecord, 0, s.count)

	start := s.head - s.count
	if start < 0 {
		start += historyWindow
	}

	for i := 0; i < s.count; i++ {
		out = append(out, s.history[(start+i)%historyWindow])
	}

	return out
}

// HistoryFor returns the retained readings for one parameter, oldest
// first.
func (s *Session) HistoryFor(parameter string) []models.ReadingRecord {
	all := s.History()

	out := make([]models.ReadingRecord, 0, len(all))

	for _, r := range all {
		if r.Parameter == parameter {
			out = append(out, r)
		}
	}

	return out
}

// Do runs op with the session lock held, enforcing one in-flight
// operation per session. A context whose deadline has already elapsed
// fails before any I/O. Transport errors retry under the protocol spec's
// policy; decode errors and protocol exceptions surface immediately.
func (s *Session) Do(ctx context.Context, op func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return &models.TransportError{Op: "session", Addr: s.Address, Err: errNotReady}
	}

	s.lastUsed = time.Now()

	var err error

	for attempt := 0; attempt <= s.Spec.RetryCount; attempt++ {
		if ctxExpired(ctx) {
			return models.ErrCancelled
		}

		if attempt > 0 {
			select {
			case <-time.After(s.Spec.RetryBackoff):
			case <-ctx.Done():
				return models.ErrCancelled
			}
		}

		err = op(ctx)
		if err == nil {
			return nil
		}

		if !models.IsRetryable(err) {
			return err
		}
	}

	s.state = StateFailed

	return err
}

func ctxExpired(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		return true
	}

	if d, ok := ctx.Deadline(); ok && !d.After(time.Now()) {
		return true
	}

	return false
}

// connect drives NEW -> CONNECTING -> READY, or FAILED after the retry
// budget is spent.
func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateConnecting

	var err error

	for attempt := 0; attempt <= s.Spec.RetryCount; attempt++ {
		if ctxExpired(ctx) {
			s.state = StateFailed
			return models.ErrCancelled
		}

		if attempt > 0 {
			select {
			case <-time.After(s.Spec.RetryBackoff):
			case <-ctx.Done():
				s.state = StateFailed
				return models.ErrCancelled
			}
		}

		err = s.conn.Connect(ctx)
		if err == nil {
			s.state = StateReady
			return nil
		}

		if !models.IsRetryable(err) {
			break
		}
	}

	s.state = StateFailed

	return err
}

// close drives the session to CLOSED and releases the transport.
func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	s.state = StateClosed

	return s.conn.Close()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastUsed
}
