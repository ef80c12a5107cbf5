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

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithDefaults(t *testing.T) {
	log, err := New(nil)

	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "chatty"})

	assert.Error(t, err)
}

func TestWithComponentReturnsUsableLogger(t *testing.T) {
	log, err := New(&Config{Level: "error"})
	require.NoError(t, err)

	scoped := log.WithComponent("modbus")
	require.NotNil(t, scoped)

	// Must not panic when the level filters the event out.
	scoped.Debug().Str("k", "v").Msg("filtered")
}

func TestTestLoggerDiscardsEverything(t *testing.T) {
	log := NewTestLogger()

	log.Info().Msg("dropped")
	log.WithComponent("x").Error().Msg("dropped")
	log.WithFields(map[string]interface{}{"a": 1}).Warn().Msg("dropped")
}
