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

package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/models"
)

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name      string
		transport models.Transport
		port      int
		timeout   time.Duration
		backoff   time.Duration
	}{
		{ProtocolREST, models.TransportTCP, 80, 30 * time.Second, 1 * time.Second},
		{ProtocolBACnet, models.TransportUDP, 47808, 5 * time.Second, 500 * time.Millisecond},
		{ProtocolModbus, models.TransportTCP, 502, 3 * time.Second, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := r.Get(tt.name)
			require.NoError(t, err)

			assert.Equal(t, tt.transport, spec.Transport)
			assert.Equal(t, tt.port, spec.DefaultPort)
			assert.Equal(t, tt.timeout, spec.Timeout)
			assert.Equal(t, 3, spec.RetryCount)
			assert.Equal(t, tt.backoff, spec.RetryBackoff)
		})
	}
}

func TestRegistryUnknownProtocol(t *testing.T) {
	_, err := NewRegistry().Get("profibus")

	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestRegistryLookupByPort(t *testing.T) {
	r := NewRegistry()

	spec, err := r.GetByPort(502)
	require.NoError(t, err)
	assert.Equal(t, ProtocolModbus, spec.Name)

	_, err = r.GetByPort(9999)
	assert.ErrorIs(t, err, ErrUnknownPort)
}

func TestRegistryNames(t *testing.T) {
	assert.ElementsMatch(t, []string{ProtocolREST, ProtocolBACnet, ProtocolModbus}, NewRegistry().Names())
}

func TestModbusOperationTemplates(t *testing.T) {
	spec, err := NewRegistry().Get(ProtocolModbus)
	require.NoError(t, err)

	assert.Equal(t, byte(0x03), spec.Operations["read-holding"].FunctionCode)
	assert.Equal(t, byte(0x06), spec.Operations["write-single-register"].FunctionCode)
}
