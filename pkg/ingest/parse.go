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
	"regexp"
	"strconv"
	"strings"

	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/protocol"
)

// Label catalogue. Each identity field tries its patterns in order and
// takes the first match, so parsing is deterministic for a fixed input.
var (
	manufacturerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*manufacturer\s*[:=]\s*(.+?)\s*$`),
		regexp.MustCompile(`(?im)^\s*brand\s*[:=]\s*(.+?)\s*$`),
		regexp.MustCompile(`(?im)^\s*company\s*[:=]\s*(.+?)\s*$`),
	}
	modelRes = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*model(?:\s*(?:number|no\.?))?\s*[:=]\s*(.+?)\s*$`),
		regexp.MustCompile(`(?im)^\s*part\s*(?:number|no\.?)\s*[:=]\s*(.+?)\s*$`),
		regexp.MustCompile(`(?im)^\s*product\s*[:=]\s*(.+?)\s*$`),
	}
	deviceTypeRe = regexp.MustCompile(`(?im)^\s*(?:device\s*)?type\s*[:=]\s*(.+?)\s*$`)
	protocolRe   = regexp.MustCompile(`(?im)^\s*protocol\s*[:=]\s*(.+?)\s*$`)

	bacnetObjectRe   = regexp.MustCompile(`(?m)\b(AI|AO|AV|BI|BO|BV|MSV)[\s:|-]+(\d{1,7})[\s:|-]+([A-Za-z_][\w]*)`)
	restEndpointRe   = regexp.MustCompile(`(?m)(?:GET|POST|PUT)?\s*(/(?:api|v\d)[\w\-/]*/([A-Za-z_][\w]*))`)
	modbusRegRe      = regexp.MustCompile(`(?m)^\s*(\d{1,5})\s*[|\t]?\s+([A-Za-z_][\w]*)(?:\s+(?:x|\*|scale\s*)(\d+))?`)
	errorRowRe       = regexp.MustCompile(`(?m)^\s*(E\d{3}|S\d{3}|0x[0-9A-Fa-f]{2})\s*[|:\-\t ]+\s*(.+?)\s*$`)
	maintenanceRe    = regexp.MustCompile(`(?im)^\s*([A-Za-z_][\w ]*?)\s*:\s*(\d+)\s*([A-Za-z]+)\s*$`)
	rangeRe          = regexp.MustCompile(`(?i)(normal|warning|error)\s*(?:range)?\s*[:=]?\s*\(?\s*(-?\d+(?:\.\d+)?)\s*(?:-|–|,|\s+to\s+)\s*(-?\d+(?:\.\d+)?)\s*\)?`)
	unitRe           = regexp.MustCompile(`(?i)\bunit\s*[:=]?\s*([^\s,|]+)`)
	remediationRowRe = regexp.MustCompile(`(?m)^\s*(?:->|\*|-)\s+(.+?)\s*$`)
)

// protocolAliases folds vendor spellings into the canonical protocol
// set.
var protocolAliases = map[string]string{
	"rest":       protocol.ProtocolREST,
	"http":       protocol.ProtocolREST,
	"rest/http":  protocol.ProtocolREST,
	"restful":    protocol.ProtocolREST,
	"bacnet":     protocol.ProtocolBACnet,
	"bacnet/ip":  protocol.ProtocolBACnet,
	"bacnet ip":  protocol.ProtocolBACnet,
	"modbus":     protocol.ProtocolModbus,
	"modbus/tcp": protocol.ProtocolModbus,
	"modbus tcp": protocol.ProtocolModbus,
	"modbus rtu": protocol.ProtocolModbus,
	"opc-ua":     "opc-ua",
	"opc ua":     "opc-ua",
	"opcua":      "opc-ua",
}

// maintenanceUnits normalizes schedule intervals to days. A maintenance
// row with a unit outside this table rejects the document.
var maintenanceUnits = map[string]int{
	"day": 1, "days": 1,
	"week": 7, "weeks": 7,
	"month": 30, "months": 30,
	"year": 365, "years": 365,
}

// Type-appropriate wide defaults applied when the document is silent on
// ranges. Nesting holds by construction.
var (
	defaultFloatNormal  = models.Interval{Low: 0, High: 100}
	defaultFloatWarning = models.Interval{Low: -20, High: 120}
	defaultFloatError   = models.Interval{Low: -50, High: 150}
	defaultBoolRange    = models.Interval{Low: 0, High: 1}
)

// Parse structures extracted text into a descriptor. Fields the
// document does not support stay absent and the descriptor is marked
// partial.
func Parse(text string) (*models.DeviceDescriptor, error) {
	d := &models.DeviceDescriptor{
		Parameters: make(map[string]*models.ParameterSpec),
		RawText:    text,
	}

	parseIdentity(d, text)

	if d.ProtocolName == "" {
		d.ProtocolName = inferProtocol(text)
	}

	switch d.ProtocolName {
	case protocol.ProtocolBACnet:
		parseBACnetObjects(d, text)
	case protocol.ProtocolModbus:
		parseModbusRegisters(d, text)
	case protocol.ProtocolREST:
		parseRESTEndpoints(d, text)
	}

	parseErrorTable(d, text)
	parseTroubleshooting(d, text)

	if err := parseMaintenance(d, text); err != nil {
		return nil, err
	}

	if d.Manufacturer != "" && d.Model != "" {
		d.DeviceID = models.DeriveDeviceID(d.Manufacturer, d.Model)
	}

	d.Partial = d.Manufacturer == "" || d.Model == "" || d.DeviceType == "" ||
		len(d.Parameters) == 0

	return d, nil
}

func parseIdentity(d *models.DeviceDescriptor, text string) {
	d.Manufacturer = firstMatch(manufacturerRes, text)
	d.Model = firstMatch(modelRes, text)

	if m := deviceTypeRe.FindStringSubmatch(text); m != nil {
		d.DeviceType = strings.TrimSpace(m[1])
	}

	if m := protocolRe.FindStringSubmatch(text); m != nil {
		d.ProtocolName = normalizeProtocol(m[1])
	}
}

func firstMatch(res []*regexp.Regexp, text string) string {
	for _, re := range res {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}

	return ""
}

func normalizeProtocol(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := protocolAliases[key]; ok {
		return canonical
	}

	// Substring pass for sentences like "supports BACnet/IP networks".
	for alias, canonical := range protocolAliases {
		if strings.Contains(key, alias) {
			return canonical
		}
	}

	return ""
}

func inferProtocol(text string) string {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "bacnet"):
		return protocol.ProtocolBACnet
	case strings.Contains(lower, "modbus"):
		return protocol.ProtocolModbus
	case strings.Contains(lower, "/api/") || strings.Contains(lower, "rest"):
		return protocol.ProtocolREST
	default:
		return ""
	}
}

func parseBACnetObjects(d *models.DeviceDescriptor, text string) {
	d.ObjectMap = make(map[string]string)

	for _, line := range strings.Split(text, "\n") {
		m := bacnetObjectRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		instance, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			continue
		}

		name := m[3]
		obj := &models.ObjectRef{ObjectType: m[1], Instance: uint32(instance)}

		p := newParameter(name, kindForObjectType(m[1]), line)
		p.Object = obj

		d.Parameters[name] = p
		d.ObjectMap[obj.String()] = name
	}

	if len(d.ObjectMap) == 0 {
		d.ObjectMap = nil
	}
}

func kindForObjectType(objType string) models.ValueKind {
	switch objType {
	case "BI", "BO", "BV":
		return models.KindBool
	case "MSV":
		return models.KindEnum
	default:
		return models.KindFloat
	}
}

func parseModbusRegisters(d *models.DeviceDescriptor, text string) {
	d.RegisterMap = make(map[int]string)

	for _, line := range strings.Split(text, "\n") {
		m := modbusRegRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		addr, err := strconv.Atoi(m[1])
		if err != nil || !validLogicalAddress(addr) {
			continue
		}

		name := m[2]
		scale := 0.0

		if m[3] != "" {
			if s, err := strconv.ParseFloat(m[3], 64); err == nil {
				scale = s
			}
		}

		p := newParameter(name, kindForAddress(addr), line)
		p.Register = &models.RegisterEntry{Address: addr, Scale: scale}

		d.Parameters[name] = p
		d.RegisterMap[addr] = name
	}

	if len(d.RegisterMap) == 0 {
		d.RegisterMap = nil
	}
}

func validLogicalAddress(addr int) bool {
	return (addr >= 1 && addr <= 9999) ||
		(addr >= 10001 && addr <= 19999) ||
		(addr >= 30001 && addr <= 39999) ||
		(addr >= 40001 && addr <= 49999)
}

func kindForAddress(addr int) models.ValueKind {
	if addr < 30001 {
		return models.KindBool
	}

	return models.KindFloat
}

func parseRESTEndpoints(d *models.DeviceDescriptor, text string) {
	d.EndpointMap = make(map[string]string)

	for _, line := range strings.Split(text, "\n") {
		m := restEndpointRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		path, name := m[1], m[2]
		if _, seen := d.Parameters[name]; seen {
			continue
		}

		p := newParameter(name, models.KindFloat, line)
		p.Endpoint = path

		d.Parameters[name] = p
		d.EndpointMap[name] = path
	}

	if len(d.EndpointMap) == 0 {
		d.EndpointMap = nil
	}
}

// newParameter builds a spec from one table line, reading ranges and a
// unit off the same line and falling back to wide defaults.
func newParameter(name string, kind models.ValueKind, line string) *models.ParameterSpec {
	p := &models.ParameterSpec{Name: name, Kind: kind}

	switch kind {
	case models.KindBool:
		p.NormalRange = defaultBoolRange
		p.WarningRange = defaultBoolRange
		p.ErrorRange = defaultBoolRange
	default:
		p.NormalRange = defaultFloatNormal
		p.WarningRange = defaultFloatWarning
		p.ErrorRange = defaultFloatError
	}

	for _, m := range rangeRe.FindAllStringSubmatch(line, -1) {
		low, err1 := strconv.ParseFloat(m[2], 64)
		high, err2 := strconv.ParseFloat(m[3], 64)

		if err1 != nil || err2 != nil || high < low {
			continue
		}

		r := models.Interval{Low: low, High: high}

		switch strings.ToLower(m[1]) {
		case "normal":
			p.NormalRange = r
		case "warning":
			p.WarningRange = r
		case "error":
			p.ErrorRange = r
		}
	}

	if m := unitRe.FindStringSubmatch(line); m != nil {
		p.Unit = m[1]
	}

	return p
}

// parseErrorTable collects error rows and attaches remediation lines to
// the nearest preceding error row. Remediation never attaches forward.
func parseErrorTable(d *models.DeviceDescriptor, text string) {
	codes := make(map[string]models.ErrorCode)

	var current string

	for _, line := range strings.Split(text, "\n") {
		if m := errorRowRe.FindStringSubmatch(line); m != nil {
			code := m[1]
			if _, seen := codes[code]; seen {
				current = code
				continue
			}

			codes[code] = models.ErrorCode{Description: strings.TrimSpace(m[2])}
			current = code

			continue
		}

		if m := remediationRowRe.FindStringSubmatch(line); m != nil && current != "" {
			entry := codes[current]
			entry.Remediation = append(entry.Remediation, m[1])
			codes[current] = entry

			continue
		}

		if strings.TrimSpace(line) == "" {
			current = ""
		}
	}

	if len(codes) > 0 {
		d.ErrorCodes = codes
	}
}

// parseTroubleshooting pulls the bulleted steps under a troubleshooting
// heading.
func parseTroubleshooting(d *models.DeviceDescriptor, text string) {
	lines := strings.Split(text, "\n")
	inSection := false

	for _, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))

		if strings.Contains(lower, "troubleshooting") {
			inSection = true
			continue
		}

		if !inSection {
			continue
		}

		if m := remediationRowRe.FindStringSubmatch(line); m != nil {
			d.Troubleshooting = append(d.Troubleshooting, m[1])
			continue
		}

		if strings.TrimSpace(line) == "" && len(d.Troubleshooting) > 0 {
			inSection = false
		}
	}
}

// parseMaintenance collects schedule rows inside a maintenance section,
// normalizing intervals to days. A row with an unrecognized unit rejects
// the whole document rather than guessing.
func parseMaintenance(d *models.DeviceDescriptor, text string) error {
	lines := strings.Split(text, "\n")
	schedule := make(map[string]int)
	inSection := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		if strings.Contains(lower, "maintenance") && !strings.Contains(lower, ":") {
			inSection = true
			continue
		}

		if !inSection {
			continue
		}

		if trimmed == "" {
			if len(schedule) > 0 {
				break
			}

			continue
		}

		m := maintenanceRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}

		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			continue
		}

		factor, ok := maintenanceUnits[strings.ToLower(m[3])]
		if !ok {
			return fmt.Errorf("%w: maintenance interval unit %q is not normalizable",
				models.ErrInvariantViolation, m[3])
		}

		task := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "_"))
		schedule[task] = n * factor
	}

	if len(schedule) > 0 {
		d.MaintenanceSchedule = schedule
	}

	return nil
}
