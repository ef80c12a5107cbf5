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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/protocol"
)

// fakeTransport counts connect attempts and can fail the first n of them.
type fakeTransport struct {
	connects     int
	closes       int
	failConnects int
	connectErr   error
}

func (f *fakeTransport) Connect(_ context.Context) error {
	f.connects++

	if f.connects <= f.failConnects {
		if f.connectErr != nil {
			return f.connectErr
		}

		return &models.TransportError{Op: "dial", Addr: "fake", Err: errors.New("refused")}
	}

	return nil
}

func (f *fakeTransport) Close() error {
	f.closes++
	return nil
}

func fastSpec() *models.ProtocolSpec {
	return &models.ProtocolSpec{
		Name:         "modbus",
		Timeout:      time.Second,
		RetryCount:   3,
		RetryBackoff: time.Millisecond,
	}
}

func readySession(t *testing.T, conn Transport) *Session {
	t.Helper()

	s := newSession("modbus", "127.0.0.1:502", fastSpec(), conn)
	require.NoError(t, s.connect(context.Background()))
	require.Equal(t, StateReady, s.State())

	return s
}

func TestSessionLifecycle(t *testing.T) {
	conn := &fakeTransport{}
	s := newSession("modbus", "127.0.0.1:502", fastSpec(), conn)

	assert.Equal(t, StateNew, s.State())
	require.NoError(t, s.connect(context.Background()))
	assert.Equal(t, StateReady, s.State())

	require.NoError(t, s.close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, conn.closes)
}

func TestConnectRetriesTransportErrors(t *testing.T) {
	conn := &fakeTransport{failConnects: 2}
	s := newSession("modbus", "127.0.0.1:502", fastSpec(), conn)

	require.NoError(t, s.connect(context.Background()))
	assert.Equal(t, 3, conn.connects)
}

func TestConnectExhaustionFails(t *testing.T) {
	conn := &fakeTransport{failConnects: 10}
	s := newSession("modbus", "127.0.0.1:502", fastSpec(), conn)

	err := s.connect(context.Background())

	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 4, conn.connects)
}

func TestDoRetriesOnlyTransportErrors(t *testing.T) {
	s := readySession(t, &fakeTransport{})

	attempts := 0
	err := s.Do(context.Background(), func(context.Context) error {
		attempts++
		return &models.TransportError{Op: "read", Addr: "fake", Err: errors.New("reset")}
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, StateFailed, s.State())
}

func TestDoSurfacesProtocolExceptionImmediately(t *testing.T) {
	s := readySession(t, &fakeTransport{})

	attempts := 0
	err := s.Do(context.Background(), func(context.Context) error {
		attempts++
		return &models.ProtocolException{Protocol: "modbus", Code: 0x02, Message: "illegal data address"}
	})

	var pe *models.ProtocolException
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, StateReady, s.State())
}

func TestDoExpiredDeadlineCancelsBeforeIO(t *testing.T) {
	s := readySession(t, &fakeTransport{})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	attempts := 0
	err := s.Do(ctx, func(context.Context) error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, models.ErrCancelled)
	assert.Zero(t, attempts)
}

func TestDoRejectsNonReadySession(t *testing.T) {
	s := newSession("modbus", "127.0.0.1:502", fastSpec(), &fakeTransport{})

	err := s.Do(context.Background(), func(context.Context) error { return nil })

	assert.True(t, models.IsRetryable(err))
}

func TestCorrelationCountersAreMonotone(t *testing.T) {
	s := readySession(t, &fakeTransport{})

	assert.Equal(t, uint16(1), s.NextTxID())
	assert.Equal(t, uint16(2), s.NextTxID())
	assert.Equal(t, uint8(1), s.NextInvokeID())
	assert.Equal(t, uint8(2), s.NextInvokeID())
}

func TestHistoryRingKeepsLastTen(t *testing.T) {
	s := readySession(t, &fakeTransport{})

	for i := 0; i < 15; i++ {
		s.Record(models.ReadingRecord{
			Timestamp: time.Now(),
			Parameter: "Temperature_Sensor_1",
			Value:     float64(i),
		})
	}

	hist := s.History()
	require.Len(t, hist, 10)
	assert.Equal(t, 5.0, hist[0].Value)
	assert.Equal(t, 14.0, hist[9].Value)
}

func TestHistoryForFiltersByParameter(t *testing.T) {
	s := readySession(t, &fakeTransport{})

	s.Record(models.ReadingRecord{Parameter: "Temperature_Sensor_1", Value: 22.5})
	s.Record(models.ReadingRecord{Parameter: "Humidity_Sensor_1", Value: 45})
	s.Record(models.ReadingRecord{Parameter: "Temperature_Sensor_1", Value: 23})

	hist := s.HistoryFor("Temperature_Sensor_1")
	require.Len(t, hist, 2)
	assert.Equal(t, 22.5, hist[0].Value)
	assert.Equal(t, 23.0, hist[1].Value)
}

func testDialer(conns map[string]*fakeTransport) Dialer {
	return func(_ *models.ProtocolSpec, address string, _ logger.Logger) (Transport, error) {
		if conn, ok := conns[address]; ok {
			return conn, nil
		}

		return &fakeTransport{}, nil
	}
}

func TestManagerReusesLiveSessions(t *testing.T) {
	m := NewManager(protocol.NewRegistry(), testDialer(nil), logger.NewTestLogger())

	a, err := m.Open(context.Background(), "modbus", "10.0.0.5:502")
	require.NoError(t, err)

	b, err := m.Open(context.Background(), "modbus", "10.0.0.5:502")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)

	c, err := m.Open(context.Background(), "modbus", "10.0.0.6:502")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestManagerConcurrentOpenSingleSession(t *testing.T) {
	m := NewManager(protocol.NewRegistry(), testDialer(nil), logger.NewTestLogger())

	const workers = 8

	var wg sync.WaitGroup

	sessions := make([]*Session, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			s, err := m.Open(context.Background(), "modbus", "10.0.0.5:502")
			assert.NoError(t, err)

			sessions[i] = s
		}(i)
	}

	wg.Wait()

	// All callers share one tracked session; losers of the dial race
	// get the winner's session back.
	require.Len(t, m.List(), 1)
	assert.Equal(t, map[State]int{StateReady: 1}, m.Stats())

	for _, s := range sessions[1:] {
		require.NotNil(t, s)
		assert.Equal(t, sessions[0].ID, s.ID)
	}
}

func TestManagerReplacesDeadSessions(t *testing.T) {
	m := NewManager(protocol.NewRegistry(), testDialer(nil), logger.NewTestLogger())

	a, err := m.Open(context.Background(), "modbus", "10.0.0.5:502")
	require.NoError(t, err)
	require.NoError(t, m.Close(a.ID))

	b, err := m.Open(context.Background(), "modbus", "10.0.0.5:502")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = m.Get(a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerRejectsUnknownProtocol(t *testing.T) {
	m := NewManager(protocol.NewRegistry(), testDialer(nil), logger.NewTestLogger())

	_, err := m.Open(context.Background(), "opc-ua", "10.0.0.5:4840")

	assert.ErrorIs(t, err, protocol.ErrUnknownProtocol)
}

func TestManagerReapsIdleSessions(t *testing.T) {
	m := NewManager(protocol.NewRegistry(), testDialer(nil), logger.NewTestLogger())
	m.SetIdleTTL(time.Nanosecond)

	s, err := m.Open(context.Background(), "modbus", "10.0.0.5:502")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	m.reap()

	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, StateClosed, s.State())
}

func TestManagerStats(t *testing.T) {
	m := NewManager(protocol.NewRegistry(), testDialer(nil), logger.NewTestLogger())

	for i := 0; i < 3; i++ {
		_, err := m.Open(context.Background(), "modbus", fmt.Sprintf("10.0.0.%d:502", i))
		require.NoError(t, err)
	}

	assert.Equal(t, map[State]int{StateReady: 3}, m.Stats())
}

func TestCloseAllEmptiesManager(t *testing.T) {
	m := NewManager(protocol.NewRegistry(), testDialer(nil), logger.NewTestLogger())

	s, err := m.Open(context.Background(), "bacnet", "10.0.0.5")
	require.NoError(t, err)

	m.CloseAll()

	assert.Empty(t, m.List())
	assert.Equal(t, StateClosed, s.State())
}
