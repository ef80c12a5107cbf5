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

// Package anomaly evaluates readings against documentation-derived
// baselines. Six strategies run per observation; each emits zero or
// more reports, and a failure in one never suppresses the others.
package anomaly

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/ml"
	"github.com/carverauto/fieldgate/pkg/models"
)

// Strategy confidence levels.
const (
	confRangeCritical = 0.95
	confRangeMedium   = 0.85
	confDrift         = 0.80
	confPattern       = 0.75
	confMaintenance   = 0.90
	confEnvironmental = 0.85
)

// Drift thresholds relative to the session baseline.
const (
	driftMediumPct = 20
	driftHighPct   = 50
)

// Pattern thresholds relative to the window mean.
const (
	patternStdPct  = 10
	patternJumpPct = 20
	patternMinSize = 3
)

// Environmental cross-check bounds.
const (
	envTempLimit     = 30
	envHumidityLimit = 80
)

// Learned scorer emission and severity steps.
const (
	learnedEmit     = 0.7
	learnedCritical = 0.9
	learnedHigh     = 0.7
	learnedMedium   = 0.5
)

// environmentalPlaybook is the fixed remediation for the cross-check;
// per-device text never overrides it.
var environmentalPlaybook = []string{
	"Verify HVAC cooling stage is engaged",
	"Check dehumidifier operation and drain line",
	"Inspect room for open dampers or failed exhaust fans",
}

// Observation is one reading in context: the value, its sibling values
// from the same poll, the session's history window for the parameter,
// and the maintenance log.
type Observation struct {
	Parameter string
	Value     float64
	Timestamp time.Time

	// Values holds every parameter captured in the same poll, keyed by
	// name. Used by the environmental cross-check.
	Values map[string]float64

	// History is the session's retained window for Parameter, oldest
	// first, not including the current value.
	History []models.ReadingRecord

	// LastMaintenance maps schedule task names to their last completion.
	LastMaintenance map[string]time.Time
}

// Detector runs the strategies. The scorer model is optional; when nil
// the learned strategy is disabled.
type Detector struct {
	scorer *ml.Linear
	log    logger.Logger
}

// NewDetector builds a detector. scorer may be nil.
func NewDetector(scorer *ml.Linear, log logger.Logger) *Detector {
	return &Detector{scorer: scorer, log: log.WithComponent("anomaly")}
}

// Detect evaluates one observation against its descriptor.
func (d *Detector) Detect(desc *models.DeviceDescriptor, obs *Observation) []models.AnomalyReport {
	spec, ok := desc.Parameters[obs.Parameter]

	var reports []models.AnomalyReport

	if ok {
		reports = append(reports, d.checkRange(spec, obs)...)
		reports = append(reports, d.checkDrift(spec, obs)...)
		reports = append(reports, d.checkPattern(spec, obs)...)
	}

	reports = append(reports, d.checkMaintenance(desc, obs)...)
	reports = append(reports, d.checkEnvironmental(obs)...)
	reports = append(reports, d.checkLearned(obs)...)

	return reports
}

func newReport(t models.AnomalyType, severity models.AnomalySeverity, obs *Observation) models.AnomalyReport {
	return models.AnomalyReport{
		AnomalyID:    uuid.New().String(),
		Type:         t,
		Severity:     severity,
		Parameter:    obs.Parameter,
		CurrentValue: obs.Value,
		Timestamp:    obs.Timestamp,
	}
}

// checkRange compares the value against the descriptor ranges. The
// intervals are closed, so a value sitting exactly on a boundary counts
// as inside.
func (d *Detector) checkRange(spec *models.ParameterSpec, obs *Observation) []models.AnomalyReport {
	v := obs.Value

	deviation := 0.0
	if w := spec.NormalRange.Width(); w > 0 {
		deviation = math.Abs(v-spec.NormalRange.Center()) / w * 100
	}

	switch {
	case !spec.ErrorRange.Contains(v):
		r := newReport(models.AnomalyRange, models.SeverityCritical, obs)
		r.ExpectedRange = spec.ErrorRange
		r.DeviationPct = deviation
		r.Description = fmt.Sprintf("%s %.2f is outside the error range [%g, %g]",
			obs.Parameter, v, spec.ErrorRange.Low, spec.ErrorRange.High)
		r.RootCauseHint = rootCauseHint(obs.Parameter, v, spec)
		r.Remediation = spec.Troubleshooting
		r.MaintenanceRequired = true
		r.Confidence = confRangeCritical

		return []models.AnomalyReport{r}

	case !spec.WarningRange.Contains(v):
		r := newReport(models.AnomalyRange, models.SeverityMedium, obs)
		r.ExpectedRange = spec.WarningRange
		r.DeviationPct = deviation
		r.Description = fmt.Sprintf("%s %.2f is outside the warning range [%g, %g]",
			obs.Parameter, v, spec.WarningRange.Low, spec.WarningRange.High)
		r.RootCauseHint = rootCauseHint(obs.Parameter, v, spec)
		r.Remediation = spec.Troubleshooting
		r.Confidence = confRangeMedium

		return []models.AnomalyReport{r}
	}

	return nil
}

// checkDrift compares the value against the first recorded observation
// for the parameter on this session.
func (d *Detector) checkDrift(spec *models.ParameterSpec, obs *Observation) []models.AnomalyReport {
	if len(obs.History) == 0 {
		return nil
	}

	baseline := obs.History[0].Value
	if baseline == 0 {
		return nil
	}

	pct := math.Abs(obs.Value-baseline) / math.Abs(baseline) * 100
	if pct <= driftMediumPct {
		return nil
	}

	severity := models.SeverityMedium
	if pct > driftHighPct {
		severity = models.SeverityHigh
	}

	r := newReport(models.AnomalyDrift, severity, obs)
	r.ExpectedRange = spec.NormalRange
	r.DeviationPct = pct
	r.Description = fmt.Sprintf("%s drifted %.1f%% from session baseline %.2f",
		obs.Parameter, pct, baseline)
	r.Remediation = spec.Troubleshooting
	r.MaintenanceRequired = severity == models.SeverityHigh
	r.Confidence = confDrift

	return []models.AnomalyReport{r}
}

// checkPattern inspects the rolling window for instability: high
// coefficient of variation or a large sample-to-sample jump.
func (d *Detector) checkPattern(spec *models.ParameterSpec, obs *Observation) []models.AnomalyReport {
	values := make([]float64, 0, len(obs.History)+1)
	for _, rec := range obs.History {
		values = append(values, rec.Value)
	}

	values = append(values, obs.Value)

	if len(values) < patternMinSize {
		return nil
	}

	mean, std := meanStd(values)
	if mean == 0 {
		return nil
	}

	absMean := math.Abs(mean)

	var reports []models.AnomalyReport

	if std > absMean*patternStdPct/100 {
		r := newReport(models.AnomalyPattern, models.SeverityMedium, obs)
		r.ExpectedRange = spec.NormalRange
		r.DeviationPct = std / absMean * 100
		r.Description = fmt.Sprintf("%s is unstable: std %.2f exceeds %d%% of window mean %.2f",
			obs.Parameter, std, patternStdPct, mean)
		r.Remediation = spec.Troubleshooting
		r.Confidence = confPattern

		reports = append(reports, r)
	}

	maxJump := 0.0
	for i := 1; i < len(values); i++ {
		if j := math.Abs(values[i] - values[i-1]); j > maxJump {
			maxJump = j
		}
	}

	if maxJump > absMean*patternJumpPct/100 {
		r := newReport(models.AnomalyPattern, models.SeverityMedium, obs)
		r.ExpectedRange = spec.NormalRange
		r.DeviationPct = maxJump / absMean * 100
		r.Description = fmt.Sprintf("%s jumped %.2f between consecutive readings, over %d%% of window mean",
			obs.Parameter, maxJump, patternJumpPct)
		r.Remediation = spec.Troubleshooting
		r.Confidence = confPattern

		reports = append(reports, r)
	}

	return reports
}

// checkMaintenance flags overdue schedule entries.
func (d *Detector) checkMaintenance(desc *models.DeviceDescriptor, obs *Observation) []models.AnomalyReport {
	var reports []models.AnomalyReport

	for task, intervalDays := range desc.MaintenanceSchedule {
		last, ok := obs.LastMaintenance[task]
		if !ok || intervalDays <= 0 {
			continue
		}

		elapsed := int(obs.Timestamp.Sub(last).Hours() / 24)
		if elapsed <= intervalDays {
			continue
		}

		severity := models.SeverityMedium
		if elapsed > 2*intervalDays {
			severity = models.SeverityHigh
		}

		r := newReport(models.AnomalyMaintenance, severity, obs)
		r.Description = fmt.Sprintf("maintenance task %q is %d days overdue (interval %d days)",
			task, elapsed-intervalDays, intervalDays)
		r.Remediation = []string{fmt.Sprintf("Perform scheduled maintenance: %s (every %d days)", task, intervalDays)}
		r.MaintenanceRequired = true
		r.Confidence = confMaintenance

		reports = append(reports, r)
	}

	return reports
}

// checkEnvironmental runs the documented temperature/humidity
// cross-check over sibling values from the same poll.
func (d *Detector) checkEnvironmental(obs *Observation) []models.AnomalyReport {
	temp, hasTemp := findValue(obs.Values, "temperature")
	humidity, hasHumidity := findValue(obs.Values, "humidity")

	if !hasTemp || !hasHumidity {
		return nil
	}

	if temp <= envTempLimit || humidity <= envHumidityLimit {
		return nil
	}

	r := newReport(models.AnomalyEnvironmental, models.SeverityMedium, obs)
	r.Description = fmt.Sprintf("temperature %.1f and humidity %.1f exceed the combined comfort envelope", temp, humidity)
	r.RootCauseHint = "combined temperature and humidity excursion beyond the comfort range suggests cooling or dehumidification loss"
	r.Remediation = environmentalPlaybook
	r.Confidence = confEnvironmental

	return []models.AnomalyReport{r}
}

// checkLearned runs the scorer model when configured. Best effort: a
// model evaluation failure disables only this strategy.
func (d *Detector) checkLearned(obs *Observation) []models.AnomalyReport {
	if d.scorer == nil {
		return nil
	}

	score, err := d.scorer.Score(learnedFeatures(obs))
	if err != nil {
		d.log.Warn().Err(err).Msg("anomaly scorer evaluation failed")
		return nil
	}

	if score <= learnedEmit {
		return nil
	}

	r := newReport(models.AnomalyLearned, learnedSeverity(score), obs)
	r.Description = fmt.Sprintf("learned scorer flagged %s at %.2f (score %.3f)",
		obs.Parameter, obs.Value, score)
	r.Confidence = score

	return []models.AnomalyReport{r}
}

func learnedSeverity(score float64) models.AnomalySeverity {
	switch {
	case score > learnedCritical:
		return models.SeverityCritical
	case score > learnedHigh:
		return models.SeverityHigh
	case score > learnedMedium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// rootCauseHint maps well-known parameter families to first-guess
// causes.
func rootCauseHint(parameter string, value float64, spec *models.ParameterSpec) string {
	name := strings.ToLower(parameter)

	switch {
	case strings.Contains(name, "temperature"):
		if value > spec.NormalRange.High {
			return "possible cooling failure or heat source near the sensor"
		}

		return "possible heating failure or sensor exposure to cold draft"
	case strings.Contains(name, "humidity"):
		if value > spec.NormalRange.High {
			return "possible dehumidifier failure or water ingress"
		}

		return "possible humidifier failure or excessive ventilation"
	case strings.Contains(name, "pressure"):
		return "possible filter clog, duct obstruction, or fan degradation"
	default:
		return ""
	}
}

func findValue(values map[string]float64, fragment string) (float64, bool) {
	for name, v := range values {
		if strings.Contains(strings.ToLower(name), fragment) {
			return v, true
		}
	}

	return 0, false
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}

	mean /= float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	std = math.Sqrt(sq / float64(len(values)-1))

	return mean, std
}

// learnedFeatures packs the observation into the scorer's 32-wide
// input: the value, window statistics, and cyclic time-of-day and
// day-of-week encodings.
func learnedFeatures(obs *Observation) []float32 {
	f := make([]float32, 32)

	f[0] = float32(obs.Value)

	if len(obs.History) > 0 {
		values := make([]float64, 0, len(obs.History))
		for _, rec := range obs.History {
			values = append(values, rec.Value)
		}

		mean := 0.0
		for _, v := range values {
			mean += v
		}

		mean /= float64(len(values))

		f[1] = float32(mean)
		f[2] = float32(values[0])
		f[3] = float32(values[len(values)-1])
		f[4] = float32(len(values)) / 10

		if mean != 0 {
			f[5] = float32((obs.Value - mean) / math.Abs(mean))
		}
	}

	hour := float64(obs.Timestamp.Hour()) + float64(obs.Timestamp.Minute())/60
	f[6] = float32(math.Sin(2 * math.Pi * hour / 24))
	f[7] = float32(math.Cos(2 * math.Pi * hour / 24))

	day := float64(obs.Timestamp.Weekday())
	f[8] = float32(math.Sin(2 * math.Pi * day / 7))
	f[9] = float32(math.Cos(2 * math.Pi * day / 7))

	f[10] = float32(len(obs.Values)) / 16

	return f
}
