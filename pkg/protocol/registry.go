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

// Package protocol holds the immutable ProtocolSpec registry. The specs
// are configuration for the hand-crafted codecs, not code: the engine is
// table-driven over their timing and discovery fields.
package protocol

import (
	"errors"
	"time"

	"github.com/carverauto/fieldgate/pkg/models"
)

var (
	ErrUnknownProtocol = errors.New("unknown protocol")
	ErrUnknownPort     = errors.New("no protocol registered for port")
)

const (
	// ProtocolREST names the HTTP endpoint-mapping protocol.
	ProtocolREST = "rest"
	// ProtocolBACnet names BACnet/IP.
	ProtocolBACnet = "bacnet"
	// ProtocolModbus names Modbus/TCP.
	ProtocolModbus = "modbus"
)

// Registry owns the protocol specs. Immutable after construction.
type Registry struct {
	byName map[string]*models.ProtocolSpec
	byPort map[int]*models.ProtocolSpec
}

// NewRegistry builds the static spec registry.
func NewRegistry() *Registry {
	specs := []*models.ProtocolSpec{
		{
			Name:         ProtocolREST,
			Transport:    models.TransportTCP,
			DefaultPort:  80,
			Timeout:      30 * time.Second,
			RetryCount:   3,
			RetryBackoff: 1 * time.Second,
			Discovery:    models.DiscoveryHTTPProbe,
			Operations: map[string]models.OperationTemplate{
				"read":  {HTTPMethod: "GET"},
				"write": {HTTPMethod: "POST"},
			},
		},
		{
			Name:         ProtocolBACnet,
			Transport:    models.TransportUDP,
			DefaultPort:  47808,
			Timeout:      5 * time.Second,
			RetryCount:   3,
			RetryBackoff: 500 * time.Millisecond,
			Discovery:    models.DiscoveryBroadcastWhoIs,
			Operations: map[string]models.OperationTemplate{
				"who-is":         {ServiceChoice: 0x08},
				"read-property":  {ServiceChoice: 0x0C},
				"write-property": {ServiceChoice: 0x0F},
			},
		},
		{
			Name:         ProtocolModbus,
			Transport:    models.TransportTCP,
			DefaultPort:  502,
			Timeout:      3 * time.Second,
			RetryCount:   3,
			RetryBackoff: 250 * time.Millisecond,
			Discovery:    models.DiscoveryUnitIDProbe,
			Operations: map[string]models.OperationTemplate{
				"read-coils":            {FunctionCode: 0x01},
				"read-discrete-inputs":  {FunctionCode: 0x02},
				"read-holding":          {FunctionCode: 0x03},
				"read-input":            {FunctionCode: 0x04},
				"write-single-coil":     {FunctionCode: 0x05},
				"write-single-register": {FunctionCode: 0x06},
			},
		},
	}

	r := &Registry{
		byName: make(map[string]*models.ProtocolSpec, len(specs)),
		byPort: make(map[int]*models.ProtocolSpec, len(specs)),
	}

	for _, s := range specs {
		r.byName[s.Name] = s
		r.byPort[s.DefaultPort] = s
	}

	return r
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (*models.ProtocolSpec, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, ErrUnknownProtocol
	}

	return s, nil
}

// GetByPort returns the spec whose default port matches.
func (r *Registry) GetByPort(port int) (*models.ProtocolSpec, error) {
	s, ok := r.byPort[port]
	if !ok {
		return nil, ErrUnknownPort
	}

	return s, nil
}

// Names lists the registered protocol names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}

	return names
}
