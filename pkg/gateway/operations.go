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

package gateway

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/carverauto/fieldgate/pkg/anomaly"
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

// ImplementProtocol opens (or reuses) a session for a device and binds
// the best-matching descriptor. deviceHint may be a stored device id or
// free text matched against the descriptor corpus; an empty hint leaves
// the session unbound.
func (g *Gateway) ImplementProtocol(ctx context.Context, protocolName, deviceAddress, deviceHint string) (string, error) {
	sess, err := g.sessions.Open(ctx, protocolName, deviceAddress)
	if err != nil {
		return "", err
	}

	b := &binding{lastMaintenance: make(map[string]time.Time)}

	if deviceHint != "" {
		if d, err := g.store.Get(deviceHint); err == nil {
			b.descriptor = d
		} else if matches, err := g.index.Search(vector.Embed(deviceHint), 1); err == nil && len(matches) > 0 {
			if d, err := g.store.Get(matches[0].DeviceID); err == nil {
				b.descriptor = d
			}
		}
	}

	g.mu.Lock()
	g.bindings[sess.ID] = b
	g.mu.Unlock()

	return sess.ID, nil
}

// CloseSession terminates a session and drops its device binding.
func (g *Gateway) CloseSession(sessionID string) error {
	g.mu.Lock()
	delete(g.bindings, sessionID)
	g.mu.Unlock()

	return g.sessions.Close(sessionID)
}

// Read fetches one parameter over the session's protocol. The returned
// value carries the parameter's declared unit.
func (g *Gateway) Read(ctx context.Context, sessionID, parameterName string) (models.TypedValue, error) {
	sess, err := g.sessions.Get(sessionID)
	if err != nil {
		return models.TypedValue{}, err
	}

	b, err := g.binding(sessionID)
	if err != nil {
		return models.TypedValue{}, err
	}

	if b.descriptor == nil {
		return models.TypedValue{}, models.ErrUnknownDevice
	}

	spec, ok := b.descriptor.Parameter(parameterName)
	if !ok {
		return models.TypedValue{}, fmt.Errorf("%w: %s", models.ErrUnknownParameter, parameterName)
	}

	var value models.TypedValue

	err = sess.Do(ctx, func(ctx context.Context) error {
		var opErr error
		value, opErr = g.readParameter(ctx, sess, spec)

		return opErr
	})
	if err != nil {
		return models.TypedValue{}, err
	}

	value.Unit = spec.Unit

	sess.Record(models.ReadingRecord{
		Timestamp: time.Now(),
		Parameter: parameterName,
		Value:     value.AsFloat(),
	})

	return value, nil
}

func (g *Gateway) readParameter(ctx context.Context, sess *session.Session, spec *models.ParameterSpec) (models.TypedValue, error) {
	switch sess.Protocol {
	case protocol.ProtocolModbus:
		if spec.Register == nil {
			return models.TypedValue{}, fmt.Errorf("%w: %s has no register address", models.ErrUnknownParameter, spec.Name)
		}

		return g.readModbus(ctx, sess, spec)
	case protocol.ProtocolBACnet:
		if spec.Object == nil {
			return models.TypedValue{}, fmt.Errorf("%w: %s has no object reference", models.ErrUnknownParameter, spec.Name)
		}

		client := sess.Conn().(*bacnet.Client)

		return client.ReadProperty(ctx, sess.NextInvokeID(), *spec.Object, bacnet.PropPresentValue)
	case protocol.ProtocolREST:
		if spec.Endpoint == "" {
			return models.TypedValue{}, fmt.Errorf("%w: %s has no endpoint", models.ErrUnknownParameter, spec.Name)
		}

		client := sess.Conn().(*rest.Client)

		return client.Read(ctx, spec.Endpoint)
	default:
		return models.TypedValue{}, protocol.ErrUnknownProtocol
	}
}

func (g *Gateway) readModbus(ctx context.Context, sess *session.Session, spec *models.ParameterSpec) (models.TypedValue, error) {
	client := sess.Conn().(*modbus.Client)
	addr := spec.Register.Address

	if spec.Kind == models.KindBool {
		_, resp, err := client.ReadLogical(ctx, sess.NextTxID(), modbus.DefaultUnitID, addr, 1)
		if err != nil {
			return models.TypedValue{}, err
		}

		bits, err := resp.Bits(1)
		if err != nil {
			return models.TypedValue{}, err
		}

		return models.BoolValue(bits[0]), nil
	}

	f, err := client.ReadFloat(ctx, sess.NextTxID(), modbus.DefaultUnitID, addr, spec.Register.Scale)
	if err != nil {
		return models.TypedValue{}, err
	}

	if spec.Kind == models.KindInt {
		return models.IntValue(int64(f), ""), nil
	}

	return models.FloatValue(f, ""), nil
}

// ReadAddress reads a raw Modbus logical address through a session,
// bypassing the descriptor. Device exceptions surface unchanged.
func (g *Gateway) ReadAddress(ctx context.Context, sessionID string, logicalAddress, quantity int) ([]uint16, error) {
	sess, err := g.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Protocol != protocol.ProtocolModbus {
		return nil, protocol.ErrUnknownProtocol
	}

	var regs []uint16

	err = sess.Do(ctx, func(ctx context.Context) error {
		client := sess.Conn().(*modbus.Client)

		_, resp, opErr := client.ReadLogical(ctx, sess.NextTxID(), modbus.DefaultUnitID, logicalAddress, quantity)
		if opErr != nil {
			return opErr
		}

		regs, opErr = resp.Registers()

		return opErr
	})

	return regs, err
}

// Write sends a value to one parameter. Values outside the parameter's
// error range are rejected before any I/O.
func (g *Gateway) Write(ctx context.Context, sessionID, parameterName string, value models.TypedValue) error {
	sess, err := g.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	b, err := g.binding(sessionID)
	if err != nil {
		return err
	}

	if b.descriptor == nil {
		return models.ErrUnknownDevice
	}

	spec, ok := b.descriptor.Parameter(parameterName)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownParameter, parameterName)
	}

	if !spec.ErrorRange.Contains(value.AsFloat()) {
		return fmt.Errorf("%w: %g not in [%g, %g]", models.ErrOutOfRange,
			value.AsFloat(), spec.ErrorRange.Low, spec.ErrorRange.High)
	}

	return sess.Do(ctx, func(ctx context.Context) error {
		return g.writeParameter(ctx, sess, spec, value)
	})
}

func (g *Gateway) writeParameter(ctx context.Context, sess *session.Session, spec *models.ParameterSpec, value models.TypedValue) error {
	switch sess.Protocol {
	case protocol.ProtocolModbus:
		if spec.Register == nil {
			return fmt.Errorf("%w: %s has no register address", models.ErrUnknownParameter, spec.Name)
		}

		client := sess.Conn().(*modbus.Client)

		if spec.Kind == models.KindBool {
			return client.WriteCoil(ctx, sess.NextTxID(), modbus.DefaultUnitID, spec.Register.Address, value.Bool)
		}

		return client.WriteFloat(ctx, sess.NextTxID(), modbus.DefaultUnitID,
			spec.Register.Address, value.AsFloat(), spec.Register.Scale)
	case protocol.ProtocolBACnet:
		if spec.Object == nil {
			return fmt.Errorf("%w: %s has no object reference", models.ErrUnknownParameter, spec.Name)
		}

		client := sess.Conn().(*bacnet.Client)

		return client.WriteProperty(ctx, sess.NextInvokeID(), *spec.Object, bacnet.PropPresentValue, value)
	case protocol.ProtocolREST:
		if spec.Endpoint == "" {
			return fmt.Errorf("%w: %s has no endpoint", models.ErrUnknownParameter, spec.Name)
		}

		client := sess.Conn().(*rest.Client)

		return client.Write(ctx, spec.Endpoint, value)
	default:
		return protocol.ErrUnknownProtocol
	}
}

// ClassifyDevice runs the coarse fingerprint classifier.
func (g *Gateway) ClassifyDevice(fp *models.Fingerprint) resolver.Classification {
	return g.resolver.ClassifyDevice(fp)
}

// ResolveDescriptor identifies the descriptor for a fingerprint.
func (g *Gateway) ResolveDescriptor(fp *models.Fingerprint) (*models.DeviceDescriptor, error) {
	return g.resolver.Resolve(fp)
}

// CurrentReading is one poll's worth of values handed to anomaly
// detection.
type CurrentReading struct {
	Values    map[string]float64 `json:"values"`
	Timestamp time.Time          `json:"timestamp"`
}

// DetectAnomalies evaluates a reading against the session's descriptor
// and history. Reports are retained per device for AnomalySummary.
func (g *Gateway) DetectAnomalies(sessionID string, reading *CurrentReading) ([]models.AnomalyReport, error) {
	sess, err := g.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	b, err := g.binding(sessionID)
	if err != nil {
		return nil, err
	}

	if b.descriptor == nil {
		return nil, models.ErrUnknownDevice
	}

	ts := reading.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	names := make([]string, 0, len(reading.Values))
	for name := range reading.Values {
		names = append(names, name)
	}

	sort.Strings(names)

	var all []models.AnomalyReport

	for _, name := range names {
		value := reading.Values[name]
		obs := &anomaly.Observation{
			Parameter:       name,
			Value:           value,
			Timestamp:       ts,
			Values:          reading.Values,
			History:         sess.HistoryFor(name),
			LastMaintenance: b.lastMaintenance,
		}

		all = append(all, g.detector.Detect(b.descriptor, obs)...)

		sess.Record(models.ReadingRecord{Timestamp: ts, Parameter: name, Value: value})
	}

	g.retainReports(b.descriptor.DeviceID, all)

	return all, nil
}

// RecordMaintenance stamps a maintenance task as completed for the
// session's device.
func (g *Gateway) RecordMaintenance(sessionID, task string, when time.Time) error {
	b, err := g.binding(sessionID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	b.lastMaintenance[task] = when
	g.mu.Unlock()

	return nil
}

// IngestDocument runs the ingestion pipeline and refreshes every
// consumer of the descriptor corpus.
func (g *Gateway) IngestDocument(path string) (*models.DeviceDescriptor, error) {
	d, err := g.pipeline.IngestDocument(path)
	if err != nil {
		return nil, err
	}

	g.resolver.InvalidateCache()
	g.queries.SetParameters(g.parameterUnion())

	return d, nil
}

// SearchDescriptors runs a free-text similarity search over the corpus.
func (g *Gateway) SearchDescriptors(queryText string, topK int) ([]vector.Match, error) {
	return g.index.Search(vector.Embed(queryText), topK)
}

// ProcessQuery turns a natural-language request into an operation plan.
func (g *Gateway) ProcessQuery(text string) *query.Result {
	return g.queries.Process(text)
}

// Troubleshoot looks up an error code in the session's descriptor.
func (g *Gateway) Troubleshoot(sessionID, errorCode string) (models.ErrorCode, error) {
	b, err := g.binding(sessionID)
	if err != nil {
		return models.ErrorCode{}, err
	}

	if b.descriptor == nil {
		return models.ErrorCode{}, models.ErrUnknownDevice
	}

	entry, ok := b.descriptor.ErrorCodes[errorCode]
	if !ok {
		return models.ErrorCode{}, fmt.Errorf("%w: error code %s", models.ErrUnknownParameter, errorCode)
	}

	if len(entry.Remediation) == 0 {
		entry.Remediation = b.descriptor.Troubleshooting
	}

	return entry, nil
}

// AnomalySummary aggregates retained reports for one device by type and
// severity.
func (g *Gateway) AnomalySummary(deviceID string) map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	summary := make(map[string]int)

	for _, r := range g.reports[deviceID] {
		summary["type:"+string(r.Type)]++
		summary["severity:"+string(r.Severity)]++
		summary["total"]++
	}

	return summary
}

// Info reports the gateway's identity and capabilities.
type Info struct {
	Version     string         `json:"version"`
	Protocols   []string       `json:"protocols"`
	Descriptors int            `json:"descriptors"`
	Indexed     int            `json:"indexed"`
	Sessions    map[string]int `json:"sessions"`
}

// GatewayInfo summarizes the running gateway.
func (g *Gateway) GatewayInfo() Info {
	stats := make(map[string]int)
	for state, n := range g.sessions.Stats() {
		stats[string(state)] = n
	}

	return Info{
		Version:     Version,
		Protocols:   g.registry.Names(),
		Descriptors: g.store.Count(),
		Indexed:     g.index.Count(),
		Sessions:    stats,
	}
}
