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

package descriptor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

// Store keeps descriptors in memory with a JSON file per descriptor
// under dir. Writes go to disk before the cache so a crash never leaves
// the cache ahead of the files.
type Store struct {
	dir string
	log logger.Logger

	mu    sync.RWMutex
	cache map[string]*models.DeviceDescriptor
}

// NewStore opens the store, loading any descriptors already on disk.
func NewStore(dir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create descriptor dir: %w", err)
	}

	s := &Store{
		dir:   dir,
		log:   log.WithComponent("descriptor"),
		cache: make(map[string]*models.DeviceDescriptor),
	}

	if err := s.loadAll(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) loadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read descriptor dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read descriptor %s: %w", e.Name(), err)
		}

		var d models.DeviceDescriptor
		if err := json.Unmarshal(data, &d); err != nil {
			s.log.Warn().Str("file", e.Name()).Err(err).Msg("skipping unreadable descriptor file")
			continue
		}

		if err := Validate(&d); err != nil {
			s.log.Warn().Str("file", e.Name()).Err(err).Msg("skipping invalid descriptor file")
			continue
		}

		s.cache[d.DeviceID] = &d
	}

	s.log.Info().Int("count", len(s.cache)).Msg("descriptor store loaded")

	return nil
}

// Put validates and persists a descriptor, replacing any previous
// version under the same device id.
func (s *Store) Put(d *models.DeviceDescriptor) error {
	if err := Validate(d); err != nil {
		return err
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	path := filepath.Join(s.dir, d.DeviceID+".json")
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit descriptor: %w", err)
	}

	s.mu.Lock()
	s.cache[d.DeviceID] = d
	s.mu.Unlock()

	s.log.Info().Str("device_id", d.DeviceID).Bool("partial", d.Partial).Msg("descriptor stored")

	return nil
}

// Get returns the descriptor for a device id.
func (s *Store) Get(deviceID string) (*models.DeviceDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.cache[deviceID]
	if !ok {
		return nil, models.ErrUnknownDevice
	}

	return d, nil
}

// GetByModel returns the descriptor for a manufacturer and model pair.
// The derived device id is tried first; descriptors stored under a
// custom id are matched on their identity fields.
func (s *Store) GetByModel(manufacturer, model string) (*models.DeviceDescriptor, error) {
	if d, err := s.Get(models.DeriveDeviceID(manufacturer, model)); err == nil {
		return d, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.cache {
		if strings.EqualFold(d.Manufacturer, manufacturer) && strings.EqualFold(d.Model, model) {
			return d, nil
		}
	}

	return nil, models.ErrUnknownDevice
}

// List returns all descriptors ordered by device id.
func (s *Store) List() []*models.DeviceDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.DeviceDescriptor, 0, len(s.cache))
	for _, d := range s.cache {
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })

	return out
}

// Delete removes a descriptor from disk and cache.
func (s *Store) Delete(deviceID string) error {
	s.mu.Lock()
	_, ok := s.cache[deviceID]
	delete(s.cache, deviceID)
	s.mu.Unlock()

	if !ok {
		return models.ErrUnknownDevice
	}

	if err := os.Remove(filepath.Join(s.dir, deviceID+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove descriptor file: %w", err)
	}

	return nil
}

// Count returns the number of stored descriptors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}
