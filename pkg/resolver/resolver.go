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

package resolver

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/fieldgate/pkg/descriptor"
	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/ml"
	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/vector"
)

const (
	// DefaultAcceptThreshold is the minimum top-1 cosine similarity for
	// a descriptor match.
	DefaultAcceptThreshold = 0.3

	cacheTTL     = 5 * time.Minute
	cacheMaxSize = 1024
)

type cacheEntry struct {
	deviceID string
	storedAt time.Time
}

// Resolver cascades coarse classification into semantic descriptor
// lookup, caching results per fingerprint digest so repeated sightings
// skip the embedding cost.
type Resolver struct {
	store     *descriptor.Store
	index     *vector.Index
	model     *ml.Linear
	threshold float64
	log       logger.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a resolver. model may be nil, which selects the rule-based
// classification path.
func New(store *descriptor.Store, index *vector.Index, model *ml.Linear, log logger.Logger) *Resolver {
	return &Resolver{
		store:     store,
		index:     index,
		model:     model,
		threshold: DefaultAcceptThreshold,
		log:       log.WithComponent("resolver"),
		cache:     make(map[string]cacheEntry),
	}
}

// SetThreshold overrides the acceptance threshold.
func (r *Resolver) SetThreshold(t float64) {
	r.threshold = t
}

// ClassifyDevice runs the coarse stage only.
func (r *Resolver) ClassifyDevice(fp *models.Fingerprint) Classification {
	c := Classify(r.model, fp)

	r.log.Debug().
		Str("protocol", c.Protocol).
		Float64("confidence", c.Confidence).
		Int("port", fp.Port).
		Msg("fingerprint classified")

	return c
}

// Resolve identifies the descriptor for a fingerprint, or
// ErrUnknownDevice when the best match falls below the acceptance
// threshold.
func (r *Resolver) Resolve(fp *models.Fingerprint) (*models.DeviceDescriptor, error) {
	digest := fp.Digest()

	if d, ok := r.cached(digest); ok {
		return d, nil
	}

	c := r.ClassifyDevice(fp)
	if c.Protocol == ClassUnknown {
		return nil, models.ErrUnknownDevice
	}

	query := queryText(c.Protocol, fp)

	matches, err := r.index.Search(vector.Embed(query), 1)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 || matches[0].Similarity < r.threshold {
		r.log.Debug().
			Str("query", query).
			Float64("threshold", r.threshold).
			Msg("no descriptor above acceptance threshold")

		return nil, models.ErrUnknownDevice
	}

	d, err := r.store.Get(matches[0].DeviceID)
	if err != nil {
		return nil, err
	}

	r.remember(digest, d.DeviceID)

	r.log.Info().
		Str("device_id", d.DeviceID).
		Float64("similarity", matches[0].Similarity).
		Msg("device resolved")

	return d, nil
}

// queryText assembles the semantic query from the classification and
// whatever the device advertised.
func queryText(protocolName string, fp *models.Fingerprint) string {
	parts := []string{protocolName}

	if fp.VendorID != nil {
		parts = append(parts, fmt.Sprintf("vendor %d", *fp.VendorID))
	}

	if fp.ModelHint != "" {
		parts = append(parts, fp.ModelHint)
	}

	if fp.Firmware != "" {
		parts = append(parts, fp.Firmware)
	}

	return strings.Join(parts, " ")
}

func (r *Resolver) cached(digest string) (*models.DeviceDescriptor, bool) {
	r.mu.Lock()
	entry, ok := r.cache[digest]
	r.mu.Unlock()

	if !ok || time.Since(entry.storedAt) > cacheTTL {
		return nil, false
	}

	d, err := r.store.Get(entry.deviceID)
	if err != nil {
		return nil, false
	}

	return d, true
}

func (r *Resolver) remember(digest, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.cache) >= cacheMaxSize {
		// Evict the oldest entry. The cache is small enough that a
		// linear scan beats the bookkeeping of an LRU list.
		var oldest string

		var oldestAt time.Time

		for k, e := range r.cache {
			if oldest == "" || e.storedAt.Before(oldestAt) {
				oldest = k
				oldestAt = e.storedAt
			}
		}

		delete(r.cache, oldest)
	}

	r.cache[digest] = cacheEntry{deviceID: deviceID, storedAt: time.Now()}
}

// InvalidateCache clears the fingerprint cache. Called after ingestion
// changes the descriptor corpus.
func (r *Resolver) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]cacheEntry)
}
