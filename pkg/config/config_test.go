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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

var errPortRequired = errors.New("port is required")

func (c *sampleConfig) Validate() error {
	if c.Port == 0 {
		return errPortRequired
	}

	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))

	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `{"name":"gateway","port":8090}`)

	var cfg sampleConfig
	require.NoError(t, NewConfig().LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "gateway", cfg.Name)
	assert.Equal(t, 8090, cfg.Port)
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	var cfg sampleConfig

	err := NewConfig().LoadAndValidate(context.Background(), filepath.Join(t.TempDir(), "absent.json"), &cfg)

	assert.Error(t, err)
}

func TestLoadAndValidateMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"name":`)

	var cfg sampleConfig

	err := NewConfig().LoadAndValidate(context.Background(), path, &cfg)

	assert.Error(t, err)
}

func TestLoadAndValidateRunsValidator(t *testing.T) {
	path := writeConfig(t, `{"name":"gateway"}`)

	var cfg sampleConfig

	err := NewConfig().LoadAndValidate(context.Background(), path, &cfg)

	assert.ErrorIs(t, err, errPortRequired)
}

func TestLoadAndValidateNilDestination(t *testing.T) {
	err := NewConfig().LoadAndValidate(context.Background(), "anything.json", nil)

	assert.Error(t, err)
}

func TestValidateConfigSkipsNonValidators(t *testing.T) {
	type plain struct{ Name string }

	assert.NoError(t, ValidateConfig(&plain{}))
}
