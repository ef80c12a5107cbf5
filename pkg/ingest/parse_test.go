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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/models"
)

const modbusManual = `Acme Controls TC-500 Installation Manual

Manufacturer: Acme Controls
Model: TC-500
Type: thermostat
Protocol: Modbus TCP

Register Map
30001  Temperature_Sensor_1  x100  unit: C  normal: 18-30  warning: 10-35  error: 0-40
30003  Humidity_Sensor_1  x100  unit: %  normal: 30-70  warning: 20-80  error: 10-95
40001  Setpoint  x100  unit: C  normal: 15-30  warning: 10-35  error: 5-40

Error Codes
E201 | temperature sensor open circuit
-> check sensor wiring at terminal block
-> replace sensor probe
E202 | humidity sensor out of calibration

Troubleshooting
- power cycle the controller
- verify network termination

Maintenance Schedule
filter replacement: 3 months
sensor calibration: 1 year
`

const bacnetManual = `FlowCo AHU-9 Air Handler

Manufacturer: FlowCo
Model: AHU-9
Type: air handler
Protocol: BACnet/IP

Object List
AI 1 Supply_Air_Temp  unit: C  normal: 10-20  warning: 5-25  error: 0-35
BV 3 Fan_Status
MSV 5 Operating_Mode
`

const restManual = `Vendor documentation

Manufacturer: WebTherm
Model: WT-1
Type: sensor
Protocol: REST

Endpoints
GET /api/v1/temperature
GET /api/v1/humidity
POST /api/v1/setpoint
`

func TestParseIsDeterministic(t *testing.T) {
	a, err := Parse(modbusManual)
	require.NoError(t, err)

	b, err := Parse(modbusManual)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestParseModbusManual(t *testing.T) {
	d, err := Parse(modbusManual)
	require.NoError(t, err)

	assert.Equal(t, "acme_controls_tc-500", d.DeviceID)
	assert.Equal(t, "Acme Controls", d.Manufacturer)
	assert.Equal(t, "TC-500", d.Model)
	assert.Equal(t, "thermostat", d.DeviceType)
	assert.Equal(t, "modbus", d.ProtocolName)
	assert.False(t, d.Partial)

	require.Len(t, d.Parameters, 3)

	temp := d.Parameters["Temperature_Sensor_1"]
	require.NotNil(t, temp)
	assert.Equal(t, models.KindFloat, temp.Kind)
	assert.Equal(t, "C", temp.Unit)
	assert.Equal(t, models.Interval{Low: 18, High: 30}, temp.NormalRange)
	assert.Equal(t, models.Interval{Low: 10, High: 35}, temp.WarningRange)
	assert.Equal(t, models.Interval{Low: 0, High: 40}, temp.ErrorRange)
	require.NotNil(t, temp.Register)
	assert.Equal(t, 30001, temp.Register.Address)
	assert.Equal(t, 100.0, temp.Register.Scale)

	assert.Equal(t, "Temperature_Sensor_1", d.RegisterMap[30001])
	assert.Equal(t, "Setpoint", d.RegisterMap[40001])
}

func TestParseErrorTableAttachesRemediationBackward(t *testing.T) {
	d, err := Parse(modbusManual)
	require.NoError(t, err)

	require.Len(t, d.ErrorCodes, 2)

	e201 := d.ErrorCodes["E201"]
	assert.Equal(t, "temperature sensor open circuit", e201.Description)
	require.Len(t, e201.Remediation, 2)
	assert.Equal(t, "check sensor wiring at terminal block", e201.Remediation[0])

	e202 := d.ErrorCodes["E202"]
	assert.Equal(t, "humidity sensor out of calibration", e202.Description)
	assert.Empty(t, e202.Remediation)
}

func TestParseTroubleshootingSteps(t *testing.T) {
	d, err := Parse(modbusManual)
	require.NoError(t, err)

	assert.Contains(t, d.Troubleshooting, "power cycle the controller")
	assert.Contains(t, d.Troubleshooting, "verify network termination")
}

func TestParseMaintenanceNormalizesToDays(t *testing.T) {
	d, err := Parse(modbusManual)
	require.NoError(t, err)

	assert.Equal(t, 90, d.MaintenanceSchedule["filter_replacement"])
	assert.Equal(t, 365, d.MaintenanceSchedule["sensor_calibration"])
}

func TestParseRejectsUnknownMaintenanceUnit(t *testing.T) {
	doc := `Manufacturer: Acme Controls
Model: TC-500
Type: thermostat
Protocol: Modbus TCP

Maintenance Schedule
belt inspection: 500 hours
`

	_, err := Parse(doc)

	assert.ErrorIs(t, err, models.ErrInvariantViolation)
}

func TestParseBACnetManual(t *testing.T) {
	d, err := Parse(bacnetManual)
	require.NoError(t, err)

	assert.Equal(t, "bacnet", d.ProtocolName)
	require.Len(t, d.Parameters, 3)

	supply := d.Parameters["Supply_Air_Temp"]
	require.NotNil(t, supply)
	assert.Equal(t, models.KindFloat, supply.Kind)
	require.NotNil(t, supply.Object)
	assert.Equal(t, "AI", supply.Object.ObjectType)
	assert.Equal(t, uint32(1), supply.Object.Instance)
	assert.Equal(t, models.Interval{Low: 10, High: 20}, supply.NormalRange)

	fan := d.Parameters["Fan_Status"]
	require.NotNil(t, fan)
	assert.Equal(t, models.KindBool, fan.Kind)
	assert.Equal(t, models.Interval{Low: 0, High: 1}, fan.NormalRange)

	mode := d.Parameters["Operating_Mode"]
	require.NotNil(t, mode)
	assert.Equal(t, models.KindEnum, mode.Kind)
	require.NotNil(t, mode.Object)
	assert.Equal(t, "MSV", mode.Object.ObjectType)
	assert.Equal(t, uint32(5), mode.Object.Instance)

	assert.Equal(t, "Supply_Air_Temp", d.ObjectMap["AI:1"])
	assert.Equal(t, "Operating_Mode", d.ObjectMap["MSV:5"])
}

func TestParseRESTManual(t *testing.T) {
	d, err := Parse(restManual)
	require.NoError(t, err)

	assert.Equal(t, "rest", d.ProtocolName)
	require.Len(t, d.Parameters, 3)

	temp := d.Parameters["temperature"]
	require.NotNil(t, temp)
	assert.Equal(t, "/api/v1/temperature", temp.Endpoint)

	// Defaults apply when the document gives no ranges.
	assert.Equal(t, models.Interval{Low: 0, High: 100}, temp.NormalRange)
	assert.Equal(t, models.Interval{Low: -20, High: 120}, temp.WarningRange)
	assert.Equal(t, models.Interval{Low: -50, High: 150}, temp.ErrorRange)

	assert.Equal(t, "/api/v1/setpoint", d.EndpointMap["setpoint"])
}

func TestParseInfersProtocolFromBody(t *testing.T) {
	doc := `Manufacturer: NoName
Model: NN-1
Type: sensor

The device communicates over BACnet networks.
`

	d, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "bacnet", d.ProtocolName)
}

func TestParseMarksPartialWhenIdentityMissing(t *testing.T) {
	doc := `Protocol: Modbus TCP

Register Map
30001  Temperature_Sensor_1  x100
`

	d, err := Parse(doc)
	require.NoError(t, err)
	assert.True(t, d.Partial)
	assert.Empty(t, d.DeviceID)
}

func TestParseMarksPartialWithoutParameters(t *testing.T) {
	doc := `Manufacturer: Acme Controls
Model: TC-501
Type: thermostat
Protocol: Modbus TCP
`

	d, err := Parse(doc)
	require.NoError(t, err)
	assert.True(t, d.Partial)
	assert.Equal(t, "acme_controls_tc-501", d.DeviceID)
}
