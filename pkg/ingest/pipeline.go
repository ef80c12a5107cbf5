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

package ingest

import (
	"fmt"

	"github.com/carverauto/fieldgate/pkg/descriptor"
	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/vector"
)

// Pipeline runs a document end to end: extract, parse, validate,
// persist, embed, index. A document that fails validation rejects
// before any store or index mutation.
type Pipeline struct {
	store     *descriptor.Store
	index     *vector.Index
	indexPath string
	log       logger.Logger
}

// NewPipeline wires the ingestion pipeline over the descriptor store
// and vector index.
func NewPipeline(store *descriptor.Store, index *vector.Index, indexPath string, log logger.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		index:     index,
		indexPath: indexPath,
		log:       log.WithComponent("ingest"),
	}
}

// IngestDocument transforms one vendor document into a stored, indexed
// descriptor.
func (p *Pipeline) IngestDocument(path string) (*models.DeviceDescriptor, error) {
	text, err := ExtractText(path)
	if err != nil {
		return nil, err
	}

	d, err := Parse(text)
	if err != nil {
		return nil, err
	}

	if d.DeviceID == "" {
		return nil, fmt.Errorf("%w: document does not identify manufacturer and model",
			models.ErrInvariantViolation)
	}

	if err := descriptor.Validate(d); err != nil {
		return nil, err
	}

	if err := p.store.Put(d); err != nil {
		return nil, err
	}

	summary := descriptor.Summary(d)
	if err := p.index.Add(d.DeviceID, summary, vector.Embed(summary)); err != nil {
		return nil, err
	}

	if p.indexPath != "" {
		if err := p.index.Save(p.indexPath); err != nil {
			return nil, fmt.Errorf("failed to persist index: %w", err)
		}
	}

	p.log.Info().
		Str("device_id", d.DeviceID).
		Str("protocol", d.ProtocolName).
		Int("parameters", len(d.Parameters)).
		Bool("partial", d.Partial).
		Msg("document ingested")

	return d, nil
}
