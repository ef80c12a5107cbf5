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

// AnomalyType identifies the detection strategy that produced a report.
type AnomalyType string

const (
	AnomalyRange         AnomalyType = "range"
	AnomalyDrift         AnomalyType = "drift"
	AnomalyPattern       AnomalyType = "pattern"
	AnomalyMaintenance   AnomalyType = "maintenance-overdue"
	AnomalyEnvironmental AnomalyType = "environmental"
	AnomalyLearned       AnomalyType = "learned"
)

// AnomalySeverity orders anomaly reports by urgency.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// AnomalyReport is one detection result. Remediation is always drawn from
// descriptor data or a fixed playbook, never invented.
type AnomalyReport struct {
	AnomalyID           string          `json:"anomaly_id"`
	Type                AnomalyType     `json:"type"`
	Severity            AnomalySeverity `json:"severity"`
	Parameter           string          `json:"parameter"`
	CurrentValue        float64         `json:"current_value"`
	ExpectedRange       Interval        `json:"expected_range"`
	DeviationPct        float64         `json:"deviation_pct"`
	Description         string          `json:"description"`
	RootCauseHint       string          `json:"root_cause_hint,omitempty"`
	Remediation         []string        `json:"remediation_steps,omitempty"`
	MaintenanceRequired bool            `json:"maintenance_required"`
	Confidence          float64         `json:"confidence"`
	Timestamp           time.Time       `json:"timestamp"`
}
