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

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint is the ephemeral feature vector extracted from first
// contact with an unknown device. Optional fields are pointers so absence
// is explicit rather than a zero value.
type Fingerprint struct {
	Transport       Transport `json:"transport"`
	Port            int       `json:"port"`
	ResponseLatency float64   `json:"response_latency_ms"`
	PayloadSize     int       `json:"payload_size"`
	HasJSON         bool      `json:"has_json"`

	VendorID       *uint16  `json:"vendor_id,omitempty"`
	ModelHint      string   `json:"model_hint,omitempty"`
	Firmware       string   `json:"firmware,omitempty"`
	RequestCadence *float64 `json:"request_cadence,omitempty"`
}

// Digest returns a stable identity for resolver caching. Latency and
// payload size are bucketed so repeated sightings of the same device hash
// identically.
func (f *Fingerprint) Digest() string {
	vendor := -1
	if f.VendorID != nil {
		vendor = int(*f.VendorID)
	}

	key := fmt.Sprintf("%s|%d|%d|%d|%t|%d|%s|%s",
		f.Transport, f.Port, latencyBucket(f.ResponseLatency), payloadBucket(f.PayloadSize),
		f.HasJSON, vendor, f.ModelHint, f.Firmware)

	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}

// latencyBucket coarsens response latency into order-of-magnitude bins.
func latencyBucket(ms float64) int {
	switch {
	case ms < 1:
		return 0
	case ms < 10:
		return 1
	case ms < 100:
		return 2
	case ms < 1000:
		return 3
	default:
		return 4
	}
}

// payloadBucket coarsens payload size into power-of-four bins.
func payloadBucket(size int) int {
	switch {
	case size < 64:
		return 0
	case size < 256:
		return 1
	case size < 1024:
		return 2
	case size < 4096:
		return 3
	default:
		return 4
	}
}
