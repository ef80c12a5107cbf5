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

// Package descriptor persists and validates device descriptors.
package descriptor

import (
	"fmt"

	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/protocol"
)

// Validate checks a descriptor's structural invariants: identity fields
// are present, ranges nest normal inside warning inside error, and each
// parameter's addressing hint matches the descriptor's protocol.
func Validate(d *models.DeviceDescriptor) error {
	if d.DeviceID == "" || d.Manufacturer == "" || d.Model == "" {
		return fmt.Errorf("%w: descriptor missing identity fields", models.ErrInvariantViolation)
	}

	switch d.ProtocolName {
	case protocol.ProtocolREST, protocol.ProtocolBACnet, protocol.ProtocolModbus:
	default:
		return fmt.Errorf("%w: descriptor protocol %q is not registered", models.ErrInvariantViolation, d.ProtocolName)
	}

	for name, p := range d.Parameters {
		if err := validateParameter(d.ProtocolName, name, p); err != nil {
			return err
		}
	}

	return nil
}

func validateParameter(protocolName, name string, p *models.ParameterSpec) error {
	if p == nil {
		return fmt.Errorf("%w: parameter %q has no spec", models.ErrInvariantViolation, name)
	}

	for label, r := range map[string]models.Interval{
		"normal":  p.NormalRange,
		"warning": p.WarningRange,
		"error":   p.ErrorRange,
	} {
		if r.IsEmpty() {
			return fmt.Errorf("%w: parameter %q %s range is inverted", models.ErrInvariantViolation, name, label)
		}
	}

	if !p.WarningRange.ContainsInterval(p.NormalRange) {
		return fmt.Errorf("%w: parameter %q normal range exceeds warning range", models.ErrInvariantViolation, name)
	}

	if !p.ErrorRange.ContainsInterval(p.WarningRange) {
		return fmt.Errorf("%w: parameter %q warning range exceeds error range", models.ErrInvariantViolation, name)
	}

	hints := 0
	if p.Register != nil {
		hints++
	}

	if p.Object != nil {
		hints++
	}

	if p.Endpoint != "" {
		hints++
	}

	if hints > 1 {
		return fmt.Errorf("%w: parameter %q carries multiple addressing hints", models.ErrInvariantViolation, name)
	}

	switch protocolName {
	case protocol.ProtocolModbus:
		if p.Object != nil || p.Endpoint != "" {
			return fmt.Errorf("%w: parameter %q addressing does not match modbus", models.ErrInvariantViolation, name)
		}
	case protocol.ProtocolBACnet:
		if p.Register != nil || p.Endpoint != "" {
			return fmt.Errorf("%w: parameter %q addressing does not match bacnet", models.ErrInvariantViolation, name)
		}
	case protocol.ProtocolREST:
		if p.Register != nil || p.Object != nil {
			return fmt.Errorf("%w: parameter %q addressing does not match rest", models.ErrInvariantViolation, name)
		}
	}

	return nil
}
