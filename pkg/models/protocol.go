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

package models

import "time"

// Transport is the wire transport of a protocol.
type Transport string

const (
	TransportUDP Transport = "udp"
	TransportTCP Transport = "tcp"
)

// DiscoveryMethod names how a protocol finds devices.
type DiscoveryMethod string

const (
	DiscoveryBroadcastWhoIs DiscoveryMethod = "broadcast-who-is"
	DiscoveryHTTPProbe      DiscoveryMethod = "http-probe"
	DiscoveryUnitIDProbe    DiscoveryMethod = "unit-id-probe"
)

// OperationTemplate carries the per-operation frame constants of a
// protocol (service choices for BACnet, function codes for Modbus, HTTP
// methods for REST).
type OperationTemplate struct {
	ServiceChoice byte   `json:"service_choice,omitempty"`
	FunctionCode  byte   `json:"function_code,omitempty"`
	HTTPMethod    string `json:"http_method,omitempty"`
}

// ProtocolSpec is the immutable description of one wire protocol. Specs
// are created at startup from the static registry and never mutated;
// protocol upgrades produce a new spec under a new name.
type ProtocolSpec struct {
	Name         string                       `json:"name"`
	Transport    Transport                    `json:"transport"`
	DefaultPort  int                          `json:"default_port"`
	Timeout      time.Duration                `json:"timeout"`
	RetryCount   int                          `json:"retry_count"`
	RetryBackoff time.Duration                `json:"retry_backoff"`
	Discovery    DiscoveryMethod              `json:"discovery"`
	Operations   map[string]OperationTemplate `json:"operations"`
}

// TypedValue is one value read from or written to a device, tagged with
// its declared kind and unit.
type TypedValue struct {
	Kind  ValueKind `json:"kind"`
	Float float64   `json:"float,omitempty"`
	Int   int64     `json:"int,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
	Str   string    `json:"str,omitempty"`
	Unit  string    `json:"unit,omitempty"`
}

// FloatValue builds a float TypedValue.
func FloatValue(v float64, unit string) TypedValue {
	return TypedValue{Kind: KindFloat, Float: v, Unit: unit}
}

// IntValue builds an int TypedValue.
func IntValue(v int64, unit string) TypedValue {
	return TypedValue{Kind: KindInt, Int: v, Unit: unit}
}

// BoolValue builds a bool TypedValue.
func BoolValue(v bool) TypedValue {
	return TypedValue{Kind: KindBool, Bool: v}
}

// AsFloat flattens the value to a float64 for range checks.
func (v TypedValue) AsFloat() float64 {
	switch v.Kind {
	case KindFloat:
		return v.Float
	case KindInt:
		return float64(v.Int)
	case KindBool:
		if v.Bool {
			return 1
		}

		return 0
	default:
		return 0
	}
}

// ReadingRecord is one observation retained in a session's rolling
// history window.
type ReadingRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Parameter string    `json:"parameter"`
	Value     float64   `json:"value"`
}
