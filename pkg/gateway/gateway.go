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

// Package gateway is the root component: it owns the protocol registry,
// session manager, descriptor store, vector index, resolver, anomaly
// detector and query dispatcher, and exposes the tool operations.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/fieldgate/pkg/anomaly"
	"github.com/carverauto/fieldgate/pkg/descriptor"
	"github.com/carverauto/fieldgate/pkg/ingest"
	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/ml"
	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/protocol"
	"github.com/carverauto/fieldgate/pkg/protocol/bacnet"
	"github.com/carverauto/fieldgate/pkg/protocol/modbus"
	"github.com/carverauto/fieldgate/pkg/protocol/rest"
	"github.com/carverauto/fieldgate/pkg/query"
	"github.com/carverauto/fieldgate/pkg/resolver"
	"github.com/carverauto/fieldgate/pkg/session"
	"github.com/carverauto/fieldgate/pkg/vector"
)

const (
	// Version is reported by gateway_info.
	Version = "1.0.0"

	indexFileName = "descriptors.idx"

	// reportRetention bounds the per-device anomaly report history.
	reportRetention = 100
)

// binding is the per-session device context: the resolved descriptor
// and the maintenance log.
type binding struct {
	descriptor      *models.DeviceDescriptor
	lastMaintenance map[string]time.Time
}

// Gateway wires every component together with explicit ownership; no
// package-level state anywhere in the tree.
type Gateway struct {
	cfg      *Config
	registry *protocol.Registry
	sessions *session.Manager
	store    *descriptor.Store
	index    *vector.Index
	pipeline *ingest.Pipeline
	resolver *resolver.Resolver
	detector *anomaly.Detector
	queries  *query.Dispatcher
	log      logger.Logger

	mu       sync.RWMutex
	bindings map[string]*binding
	// reports retains recent anomaly reports per device id.
	reports map[string][]models.AnomalyReport
}

// New constructs the gateway from config. Model files are optional;
// absent models select the deterministic rule paths.
func New(cfg *Config, log logger.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := descriptor.NewStore(filepath.Join(cfg.StorageDir, "descriptors"), log)
	if err != nil {
		return nil, err
	}

	indexPath := filepath.Join(cfg.StorageDir, indexFileName)

	index, err := vector.Load(indexPath, vector.Dimension)
	if err != nil {
		return nil, err
	}

	deviceModel := loadOptionalModel(cfg.ModelDir, ml.DeviceModelFile, log)
	intentModel := loadOptionalModel(cfg.ModelDir, ml.IntentModelFile, log)
	scorerModel := loadOptionalModel(cfg.ModelDir, ml.ScorerModelFile, log)

	registry := protocol.NewRegistry()

	g := &Gateway{
		cfg:      cfg,
		registry: registry,
		store:    store,
		index:    index,
		pipeline: ingest.NewPipeline(store, index, indexPath, log),
		resolver: resolver.New(store, index, deviceModel, log),
		detector: anomaly.NewDetector(scorerModel, log),
		queries:  query.NewDispatcher(intentModel, log),
		log:      log.WithComponent("gateway"),
		bindings: make(map[string]*binding),
		reports:  make(map[string][]models.AnomalyReport),
	}

	g.sessions = session.NewManager(registry, g.dial, log)
	g.queries.SetParameters(g.parameterUnion())

	return g, nil
}

// Start launches the background session reaper.
func (g *Gateway) Start(ctx context.Context) {
	g.sessions.StartReaper(ctx)
	g.log.Info().Str("version", Version).Msg("gateway started")
}

// Shutdown closes every live session.
func (g *Gateway) Shutdown() {
	g.sessions.CloseAll()
	g.log.Info().Msg("gateway stopped")
}

// Sessions exposes the session manager to the HTTP surface.
func (g *Gateway) Sessions() *session.Manager {
	return g.sessions
}

// dial builds the protocol transport for an endpoint.
func (g *Gateway) dial(spec *models.ProtocolSpec, address string, log logger.Logger) (session.Transport, error) {
	switch spec.Name {
	case protocol.ProtocolModbus:
		return modbus.NewClient(withDefaultPort(address, g.cfg.ModbusPort), spec.Timeout, log), nil
	case protocol.ProtocolBACnet:
		return bacnet.NewClient(withDefaultPort(address, g.cfg.BACnetPort), spec.Timeout, log), nil
	case protocol.ProtocolREST:
		base := address
		if !strings.Contains(base, "://") {
			base = "http://" + base
		}

		return rest.NewClient(base, spec.Timeout, rest.AuthNone, "", log), nil
	default:
		return nil, protocol.ErrUnknownProtocol
	}
}

func withDefaultPort(address string, port int) string {
	if strings.Contains(address, ":") {
		return address
	}

	return fmt.Sprintf("%s:%d", address, port)
}

func loadOptionalModel(dir, name string, log logger.Logger) *ml.Linear {
	if dir == "" {
		return nil
	}

	m, err := ml.Load(filepath.Join(dir, name))
	if err != nil {
		if !errors.Is(err, ml.ErrModelAbsent) {
			log.Warn().Err(err).Str("model", name).Msg("model file unusable, using rule path")
		}

		return nil
	}

	log.Info().Str("model", name).Int("in", m.In).Int("out", m.Out).Msg("model loaded")

	return m
}

func (g *Gateway) parameterUnion() []string {
	seen := make(map[string]struct{})

	var names []string

	for _, d := range g.store.List() {
		for name := range d.Parameters {
			if _, ok := seen[name]; ok {
				continue
			}

			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	return names
}

func (g *Gateway) binding(sessionID string) (*binding, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	b, ok := g.bindings[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}

	return b, nil
}

func (g *Gateway) retainReports(deviceID string, reports []models.AnomalyReport) {
	if deviceID == "" || len(reports) == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	all := append(g.reports[deviceID], reports...)
	if len(all) > reportRetention {
		all = all[len(all)-reportRetention:]
	}

	g.reports[deviceID] = all
}
