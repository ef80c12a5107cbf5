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

// Package resolver identifies unknown devices: a coarse protocol
// classification from the fingerprint, then semantic refinement against
// the descriptor index.
package resolver

import (
	"hash/fnv"

	"github.com/carverauto/fieldgate/pkg/ml"
	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/protocol"
)

// Classifier output classes, in model output order.
var classes = []string{
	protocol.ProtocolBACnet,
	protocol.ProtocolModbus,
	protocol.ProtocolREST,
	"opc-ua",
	ClassUnknown,
}

// ClassUnknown is the coarse classification when no protocol fits.
const ClassUnknown = "unknown"

const featureCount = 16

// Classification is the coarse stage's result.
type Classification struct {
	Protocol   string
	Confidence float64
}

// Features flattens a fingerprint into the 16-wide vector the device
// classifier consumes: raw features, bucket one-hots, and interaction
// terms.
func Features(fp *models.Fingerprint) []float32 {
	f := make([]float32, featureCount)

	f[0] = boolFeature(fp.Transport == models.TransportUDP)
	f[1] = float32(fp.Port) / 65535
	f[2] = boolFeature(fp.Port == 47808)
	f[3] = boolFeature(fp.Port == 502)
	f[4] = boolFeature(fp.Port == 80 || fp.Port == 8000 || fp.Port == 8080)
	f[5] = latencyBucket(fp.ResponseLatency)
	f[6] = payloadBucket(fp.PayloadSize)
	f[7] = boolFeature(fp.HasJSON)

	if fp.VendorID != nil {
		f[8] = 1
		f[9] = float32(hash16(*fp.VendorID)) / 65535
	}

	f[10] = boolFeature(fp.ModelHint != "")
	f[11] = boolFeature(fp.Firmware != "")

	if fp.RequestCadence != nil {
		f[12] = float32(*fp.RequestCadence)
	}

	// Interactions: UDP on the BACnet port, TCP on the Modbus port,
	// JSON over an HTTP port.
	f[13] = f[0] * f[2]
	f[14] = (1 - f[0]) * f[3]
	f[15] = f[7] * f[4]

	return f
}

func boolFeature(b bool) float32 {
	if b {
		return 1
	}

	return 0
}

func latencyBucket(ms float64) float32 {
	switch {
	case ms <= 0:
		return 0
	case ms < 10:
		return 0.25
	case ms < 50:
		return 0.5
	case ms < 200:
		return 0.75
	default:
		return 1
	}
}

func payloadBucket(size int) float32 {
	switch {
	case size <= 0:
		return 0
	case size < 64:
		return 0.25
	case size < 256:
		return 0.5
	case size < 1024:
		return 0.75
	default:
		return 1
	}
}

func hash16(v uint16) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(v >> 8), byte(v)})

	return uint16(h.Sum32())
}

// Classify runs the device model when present, falling back to the
// deterministic port rules. Model ties resolve through the same port
// priors.
func Classify(model *ml.Linear, fp *models.Fingerprint) Classification {
	if model != nil {
		if idx, conf, err := model.Classify(Features(fp)); err == nil {
			c := Classification{Protocol: classes[idx], Confidence: conf}
			if c.Protocol != ClassUnknown {
				return c
			}
		}
	}

	return classifyByRules(fp)
}

// classifyByRules is the deterministic path: port priors first, then
// transport and payload hints.
func classifyByRules(fp *models.Fingerprint) Classification {
	switch fp.Port {
	case 47808:
		return Classification{Protocol: protocol.ProtocolBACnet, Confidence: 0.9}
	case 502:
		return Classification{Protocol: protocol.ProtocolModbus, Confidence: 0.9}
	case 80, 8000, 8080, 443:
		return Classification{Protocol: protocol.ProtocolREST, Confidence: 0.85}
	case 4840:
		return Classification{Protocol: "opc-ua", Confidence: 0.85}
	}

	if fp.Transport == models.TransportUDP {
		return Classification{Protocol: protocol.ProtocolBACnet, Confidence: 0.5}
	}

	if fp.HasJSON {
		return Classification{Protocol: protocol.ProtocolREST, Confidence: 0.6}
	}

	return Classification{Protocol: ClassUnknown, Confidence: 0.0}
}
