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
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/protocol"
	"github.com/carverauto/fieldgate/pkg/protocol/modbus"
	"github.com/carverauto/fieldgate/pkg/query"
	"github.com/carverauto/fieldgate/pkg/session"
)

const thermostatManual = `Acme Controls TC-500 Installation Manual

Manufacturer: Acme Controls
Model: TC-500
Type: thermostat
Protocol: Modbus TCP

Register Map
30001  Temperature_Sensor_1  x100  unit: C  normal: 18-30  warning: 10-35  error: 0-40
40001  Setpoint  x100  unit: C  normal: 15-30  warning: 10-35  error: 5-40

Error Codes
E201 | temperature sensor open circuit
-> check sensor wiring at terminal block
E202 | humidity sensor out of calibration

Troubleshooting
- power cycle the controller

Maintenance Schedule
filter replacement: 3 months
`

// slave is a minimal Modbus/TCP device for end-to-end gateway tests.
type slave struct {
	listener net.Listener

	mu       sync.Mutex
	input    map[uint16]uint16
	holding  map[uint16]uint16
	failWire map[uint16]byte
}

func newSlave(t *testing.T) *slave {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &slave{
		listener: ln,
		input:    make(map[uint16]uint16),
		holding:  make(map[uint16]uint16),
		failWire: make(map[uint16]byte),
	}

	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })

	return s
}

func (s *slave) addr() string { return s.listener.Addr().String() }

func (s *slave) setInputFloat(wire uint16, v float64) {
	words := modbus.EncodeFloat(v, modbus.DefaultFloatScale)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.input[wire] = words[0]
	s.input[wire+1] = words[1]
}

func (s *slave) holdingFloat(wire uint16) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return modbus.DecodeFloat(s.holding[wire], s.holding[wire+1], modbus.DefaultFloatScale)
}

func (s *slave) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		go s.handle(conn)
	}
}

func (s *slave) handle(conn net.Conn) {
	defer conn.Close()

	for {
		header := make([]byte, 7)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		body := make([]byte, binary.BigEndian.Uint16(header[4:])-1)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		if _, err := conn.Write(s.respond(header, body)); err != nil {
			return
		}
	}
}

func (s *slave) respond(header, body []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := binary.BigEndian.Uint16(header[0:])
	unitID := header[6]
	function := body[0]
	wire := binary.BigEndian.Uint16(body[1:])

	if code, ok := s.failWire[wire]; ok {
		return slaveFrame(txID, unitID, function|0x80, []byte{code})
	}

	switch function {
	case modbus.FuncReadInput, modbus.FuncReadHolding:
		source := s.input
		if function == modbus.FuncReadHolding {
			source = s.holding
		}

		quantity := binary.BigEndian.Uint16(body[3:])
		data := make([]byte, 1+2*quantity)
		data[0] = byte(2 * quantity)

		for i := uint16(0); i < quantity; i++ {
			binary.BigEndian.PutUint16(data[1+2*i:], source[wire+i])
		}

		return slaveFrame(txID, unitID, function, data)
	case modbus.FuncWriteSingleRegister:
		s.holding[wire] = binary.BigEndian.Uint16(body[3:])

		return slaveFrame(txID, unitID, function, body[1:])
	default:
		return slaveFrame(txID, unitID, function|0x80, []byte{modbus.ExceptionIllegalFunction})
	}
}

func slaveFrame(txID uint16, unitID, function byte, data []byte) []byte {
	out := make([]byte, 8+len(data))
	binary.BigEndian.PutUint16(out[0:], txID)
	binary.BigEndian.PutUint16(out[4:], uint16(2+len(data)))
	out[6] = unitID
	out[7] = function
	copy(out[8:], data)

	return out
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	g, err := New(&Config{StorageDir: t.TempDir()}, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(g.Shutdown)

	return g
}

func ingestManual(t *testing.T, g *Gateway) *models.DeviceDescriptor {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tc500.txt")
	require.NoError(t, os.WriteFile(path, []byte(thermostatManual), 0o640))

	d, err := g.IngestDocument(path)
	require.NoError(t, err)

	return d
}

func openThermostat(t *testing.T, g *Gateway, s *slave) string {
	t.Helper()

	id, err := g.ImplementProtocol(context.Background(), protocol.ProtocolModbus, s.addr(), "acme_controls_tc-500")
	require.NoError(t, err)

	return id
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := &Config{StorageDir: t.TempDir()}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.ListenPort)
	assert.Equal(t, 8090, cfg.MCPPort)
	assert.Equal(t, 47808, cfg.BACnetPort)
	assert.Equal(t, 502, cfg.ModbusPort)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestConfigValidateRejectsMissingStorageDir(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
}

func TestConfigValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{StorageDir: t.TempDir(), MCPPort: 70000}

	assert.Error(t, cfg.Validate())
}

func TestImplementProtocolAndRead(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	s.setInputFloat(0, 22.5)

	id := openThermostat(t, g, s)

	v, err := g.Read(context.Background(), id, "Temperature_Sensor_1")
	require.NoError(t, err)
	assert.Equal(t, 22.5, v.AsFloat())
	assert.Equal(t, "C", v.Unit)
}

func TestImplementProtocolResolvesFuzzyHint(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	s.setInputFloat(0, 19.0)

	id, err := g.ImplementProtocol(context.Background(), protocol.ProtocolModbus, s.addr(), "Acme thermostat temperature")
	require.NoError(t, err)

	v, err := g.Read(context.Background(), id, "Temperature_Sensor_1")
	require.NoError(t, err)
	assert.Equal(t, 19.0, v.AsFloat())
}

func TestImplementProtocolUnknownProtocol(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.ImplementProtocol(context.Background(), "profibus", "127.0.0.1:1", "")

	assert.ErrorIs(t, err, protocol.ErrUnknownProtocol)
}

func TestReadWithoutBoundDescriptor(t *testing.T) {
	g := newTestGateway(t)
	s := newSlave(t)

	id, err := g.ImplementProtocol(context.Background(), protocol.ProtocolModbus, s.addr(), "")
	require.NoError(t, err)

	_, err = g.Read(context.Background(), id, "Temperature_Sensor_1")

	assert.ErrorIs(t, err, models.ErrUnknownDevice)
}

func TestReadUnknownParameter(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	_, err := g.Read(context.Background(), id, "Flux_Capacitor")

	assert.ErrorIs(t, err, models.ErrUnknownParameter)
}

func TestWriteRoundTrip(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	require.NoError(t, g.Write(context.Background(), id, "Setpoint", models.FloatValue(22.5, "C")))
	assert.Equal(t, 22.5, s.holdingFloat(0))
}

func TestWriteRejectsOutOfRangeBeforeIO(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	err := g.Write(context.Background(), id, "Setpoint", models.FloatValue(500, "C"))

	require.ErrorIs(t, err, models.ErrOutOfRange)
	assert.Equal(t, 0.0, s.holdingFloat(0))
}

func TestReadAddressSurfacesDeviceException(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	s.failWire[50] = modbus.ExceptionIllegalDataAddress

	id := openThermostat(t, g, s)

	_, err := g.ReadAddress(context.Background(), id, 30051, 1)

	var pe *models.ProtocolException
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, modbus.ExceptionIllegalDataAddress, pe.Code)
}

func TestReadAddressRawRegisters(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	s.setInputFloat(0, 22.5)

	id := openThermostat(t, g, s)

	regs, err := g.ReadAddress(context.Background(), id, 30001, 2)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, 22.5, modbus.DecodeFloat(regs[0], regs[1], modbus.DefaultFloatScale))
}

func TestDetectAnomaliesAgainstBinding(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	reports, err := g.DetectAnomalies(id, &CurrentReading{
		Values: map[string]float64{"Temperature_Sensor_1": 38.5},
	})
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.Equal(t, models.SeverityMedium, reports[0].Severity)

	reports, err = g.DetectAnomalies(id, &CurrentReading{
		Values: map[string]float64{"Temperature_Sensor_1": 42},
	})
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.Equal(t, models.SeverityCritical, reports[0].Severity)

	summary := g.AnomalySummary("acme_controls_tc-500")
	assert.GreaterOrEqual(t, summary["total"], 2)
	assert.GreaterOrEqual(t, summary["severity:critical"], 1)
}

func TestDetectAnomaliesReportsSortedByParameter(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	// Setpoint sits outside its error range, the temperature only
	// outside its warning range. Reports come back grouped by
	// parameter in lexical order regardless of map iteration.
	reports, err := g.DetectAnomalies(id, &CurrentReading{
		Values: map[string]float64{"Temperature_Sensor_1": 38.5, "Setpoint": 50},
	})
	require.NoError(t, err)
	require.NotEmpty(t, reports)

	var order []string

	for _, r := range reports {
		if len(order) == 0 || order[len(order)-1] != r.Parameter {
			order = append(order, r.Parameter)
		}
	}

	assert.Equal(t, []string{"Setpoint", "Temperature_Sensor_1"}, order)
	assert.Equal(t, models.SeverityCritical, reports[0].Severity)
}

func TestDetectAnomaliesUsesRecordedMaintenance(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, g.RecordMaintenance(id, "filter_replacement", now.AddDate(0, 0, -100)))

	reports, err := g.DetectAnomalies(id, &CurrentReading{
		Values:    map[string]float64{"Temperature_Sensor_1": 25},
		Timestamp: now,
	})
	require.NoError(t, err)

	var found bool

	for _, r := range reports {
		if r.Type == models.AnomalyMaintenance {
			found = true

			assert.Equal(t, models.SeverityMedium, r.Severity)
		}
	}

	assert.True(t, found)
}

func TestCloseSessionDropsBinding(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	require.NoError(t, g.CloseSession(id))

	_, err := g.Read(context.Background(), id, "Temperature_Sensor_1")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestTroubleshootKnownCode(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	entry, err := g.Troubleshoot(id, "E201")
	require.NoError(t, err)
	assert.Equal(t, "temperature sensor open circuit", entry.Description)
	assert.Contains(t, entry.Remediation, "check sensor wiring at terminal block")
}

func TestTroubleshootFallsBackToGeneralSteps(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	entry, err := g.Troubleshoot(id, "E202")
	require.NoError(t, err)
	assert.Contains(t, entry.Remediation, "power cycle the controller")
}

func TestTroubleshootUnknownCode(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	id := openThermostat(t, g, s)

	_, err := g.Troubleshoot(id, "E999")

	assert.ErrorIs(t, err, models.ErrUnknownParameter)
}

func TestIngestRefreshesQueryVocabulary(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	res := g.ProcessQuery("read temperature sensor 1 in room 4")

	assert.Equal(t, query.IntentGet, res.Intent)
	assert.Equal(t, "Temperature_Sensor_1", res.Parameter)
}

func TestSearchDescriptors(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	matches, err := g.SearchDescriptors("Acme thermostat temperature", 3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "acme_controls_tc-500", matches[0].DeviceID)
}

func TestGatewayInfo(t *testing.T) {
	g := newTestGateway(t)
	ingestManual(t, g)

	s := newSlave(t)
	openThermostat(t, g, s)

	info := g.GatewayInfo()

	assert.Equal(t, Version, info.Version)
	assert.ElementsMatch(t, []string{protocol.ProtocolModbus, protocol.ProtocolBACnet, protocol.ProtocolREST}, info.Protocols)
	assert.Equal(t, 1, info.Descriptors)
	assert.Equal(t, 1, info.Indexed)
	assert.Equal(t, 1, info.Sessions[string(session.StateReady)])
}

func TestClassifyDeviceByPort(t *testing.T) {
	g := newTestGateway(t)

	c := g.ClassifyDevice(&models.Fingerprint{Transport: models.TransportTCP, Port: 502})

	assert.Equal(t, protocol.ProtocolModbus, c.Protocol)
	assert.Equal(t, 0.9, c.Confidence)
}
