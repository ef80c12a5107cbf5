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

// Package models holds the shared data model for the protocol gateway.
package models

import (
	"fmt"
	"strings"
)

// ValueKind is the declared type of a device parameter.
type ValueKind string

const (
	KindFloat ValueKind = "float"
	KindInt   ValueKind = "int"
	KindBool  ValueKind = "bool"
	KindEnum  ValueKind = "enum"
)

// Interval is a closed range [Low, High].
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether v lies inside the closed interval.
func (i Interval) Contains(v float64) bool {
	return v >= i.Low && v <= i.High
}

// ContainsInterval reports whether other is nested inside i.
func (i Interval) ContainsInterval(other Interval) bool {
	return i.Low <= other.Low && i.High >= other.High
}

// Center returns the midpoint of the interval.
func (i Interval) Center() float64 {
	return (i.Low + i.High) / 2
}

// Width returns the size of the interval.
func (i Interval) Width() float64 {
	return i.High - i.Low
}

// IsEmpty reports whether the interval contains no points.
func (i Interval) IsEmpty() bool {
	return i.High < i.Low
}

// RegisterEntry describes one Modbus register mapping. Address is the
// logical address (30001-3xxxx input, 40001-4xxxx holding, 1-n coils,
// 10001-n discrete inputs); the codec translates to zero-based wire
// addresses. Scale applies to float values packed into two registers.
type RegisterEntry struct {
	Address int     `json:"address"`
	Scale   float64 `json:"scale,omitempty"`
}

// ObjectRef identifies a BACnet object.
type ObjectRef struct {
	ObjectType string `json:"object_type"`
	Instance   uint32 `json:"instance"`
}

func (o ObjectRef) String() string {
	return fmt.Sprintf("%s:%d", o.ObjectType, o.Instance)
}

// ParameterSpec is the typed description of one readable or writable
// quantity on a device. Exactly one addressing hint is set, matching the
// descriptor's protocol.
type ParameterSpec struct {
	Name            string     `json:"name"`
	Kind            ValueKind  `json:"kind"`
	Unit            string     `json:"unit,omitempty"`
	NormalRange     Interval   `json:"normal_range"`
	WarningRange    Interval   `json:"warning_range"`
	ErrorRange      Interval   `json:"error_range"`
	Troubleshooting []string   `json:"troubleshooting,omitempty"`

	Register *RegisterEntry `json:"register,omitempty"`
	Object   *ObjectRef     `json:"object,omitempty"`
	Endpoint string         `json:"endpoint,omitempty"`
}

// ErrorCode is one documented device error with its remediation text.
type ErrorCode struct {
	Description string   `json:"description"`
	Remediation []string `json:"remediation,omitempty"`
}

// DeviceDescriptor is the learned truth about one device model, built
// from vendor documentation by the ingestion pipeline.
type DeviceDescriptor struct {
	DeviceID     string `json:"device_id"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	DeviceType   string `json:"device_type"`
	ProtocolName string `json:"protocol_name"`

	Parameters      map[string]*ParameterSpec `json:"parameters"`
	ErrorCodes      map[string]ErrorCode      `json:"error_codes,omitempty"`
	Troubleshooting []string                  `json:"troubleshooting_steps,omitempty"`
	// MaintenanceSchedule maps a task name to its interval in days.
	MaintenanceSchedule map[string]int `json:"maintenance_schedule,omitempty"`

	// RegisterMap (Modbus), ObjectMap (BACnet, keyed "AI:1") and
	// EndpointMap (REST) are protocol-specific reverse indexes into
	// Parameters.
	RegisterMap map[int]string    `json:"register_map,omitempty"`
	ObjectMap   map[string]string `json:"object_map,omitempty"`
	EndpointMap map[string]string `json:"endpoint_map,omitempty"`

	// RawText retains the source document for re-embedding.
	RawText string `json:"raw_text,omitempty"`

	// Partial marks a descriptor whose document did not support all
	// fields; absent fields are unknown, never silently defaulted.
	Partial bool `json:"partial,omitempty"`
}

// DeriveDeviceID builds the stable descriptor identity from manufacturer
// and model.
func DeriveDeviceID(manufacturer, model string) string {
	m := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(manufacturer), " ", "_"))
	md := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(model), " ", "_"))

	return m + "_" + md
}

// Parameter returns the named parameter spec, if present.
func (d *DeviceDescriptor) Parameter(name string) (*ParameterSpec, bool) {
	p, ok := d.Parameters[name]
	return p, ok
}
