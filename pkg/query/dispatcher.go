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

// Package query turns natural-language requests into operation plans:
// intent classification, entity extraction, and plan assembly. A rule
// path and an optional learned path must agree on the golden inputs in
// the package tests.
package query

import (
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/ml"
)

// Intent is the recognized request class.
type Intent string

const (
	IntentGet      Intent = "get"
	IntentSet      Intent = "set"
	IntentStatus   Intent = "status"
	IntentCompare  Intent = "compare"
	IntentTrend    Intent = "trend"
	IntentDiagnose Intent = "diagnose"
	IntentSchedule Intent = "schedule"
	IntentUnknown  Intent = "unknown"
)

// intentClasses orders intents to match the intent model's output rows.
var intentClasses = []Intent{
	IntentGet, IntentSet, IntentStatus, IntentCompare,
	IntentTrend, IntentDiagnose, IntentSchedule, IntentUnknown,
}

const intentFeatures = 64

// PlanStep is one operation the gateway should execute.
type PlanStep struct {
	Operation string   `json:"operation"`
	Parameter string   `json:"parameter,omitempty"`
	Location  string   `json:"location,omitempty"`
	Value     *float64 `json:"value,omitempty"`
}

// Result is the dispatcher's output for one request.
type Result struct {
	Intent    Intent     `json:"intent"`
	Parameter string     `json:"parameter,omitempty"`
	Locations []string   `json:"locations,omitempty"`
	Value     *float64   `json:"value,omitempty"`
	Plan      []PlanStep `json:"plan"`
}

var (
	locationRe = regexp.MustCompile(`(?i)\b(room|zone|floor|building)\s+(\w+)`)
	numberRe   = regexp.MustCompile(`(?i)\bto\s+(-?\d+(?:\.\d+)?)\b`)
	bareNumRe  = regexp.MustCompile(`(-?\d+\.\d+)`)
)

// intentKeywords drives the rule path. First matching intent in
// priority order wins.
var intentKeywords = []struct {
	intent Intent
	words  []string
}{
	{IntentCompare, []string{"compare", "difference between", "versus", " vs "}},
	{IntentTrend, []string{"trend", "history", "over time", "historical"}},
	{IntentSet, []string{"set ", "change ", "adjust ", "write ", "turn "}},
	{IntentDiagnose, []string{"diagnose", "troubleshoot", "what is wrong", "why is"}},
	{IntentSchedule, []string{"schedule", "maintenance due", "when was"}},
	{IntentStatus, []string{"status", "health", "how is", "state of"}},
	{IntentGet, []string{"what is", "what's", "read ", "get ", "show ", "current"}},
}

// Dispatcher extracts intent and entities. parameters is the union of
// parameter names across known descriptors, refreshed on ingest.
type Dispatcher struct {
	intentModel *ml.Linear
	parameters  []string
	log         logger.Logger
}

// NewDispatcher builds a dispatcher. intentModel may be nil, selecting
// the rule path.
func NewDispatcher(intentModel *ml.Linear, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		intentModel: intentModel,
		log:         log.WithComponent("query"),
	}
}

// SetParameters replaces the known parameter vocabulary. Names are
// matched longest first so "supply_temperature" beats "temperature".
func (d *Dispatcher) SetParameters(names []string) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	d.parameters = sorted
}

// Process turns a request into a plan.
func (d *Dispatcher) Process(text string) *Result {
	lower := strings.ToLower(text)

	res := &Result{
		Intent:    d.classifyIntent(lower),
		Parameter: d.matchParameter(lower),
		Locations: extractLocations(lower),
		Value:     extractValue(lower),
	}

	res.Plan = buildPlan(res)

	d.log.Debug().
		Str("intent", string(res.Intent)).
		Str("parameter", res.Parameter).
		Strs("locations", res.Locations).
		Msg("query dispatched")

	return res
}

func (d *Dispatcher) classifyIntent(lower string) Intent {
	if d.intentModel != nil {
		if idx, _, err := d.intentModel.Classify(intentFeatureVector(lower)); err == nil {
			if intent := intentClasses[idx]; intent != IntentUnknown {
				return intent
			}
		}
	}

	return classifyByKeywords(lower)
}

func classifyByKeywords(lower string) Intent {
	for _, entry := range intentKeywords {
		for _, w := range entry.words {
			if strings.Contains(lower, w) {
				return entry.intent
			}
		}
	}

	return IntentUnknown
}

// intentFeatureVector hashes word unigrams and bigrams into the
// model's input width.
func intentFeatureVector(lower string) []float32 {
	f := make([]float32, intentFeatures)
	words := strings.Fields(lower)

	bump := func(tok string) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		f[h.Sum32()%intentFeatures]++
	}

	for i, w := range words {
		bump(w)

		if i+1 < len(words) {
			bump(w + " " + words[i+1])
		}
	}

	return f
}

func (d *Dispatcher) matchParameter(lower string) string {
	for _, name := range d.parameters {
		needle := strings.ToLower(strings.ReplaceAll(name, "_", " "))
		if strings.Contains(lower, needle) || strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}

	// Fall back to the common HVAC vocabulary when no descriptor
	// parameter matches.
	for _, generic := range []string{"temperature", "humidity", "pressure", "setpoint", "airflow", "co2"} {
		if strings.Contains(lower, generic) {
			return generic
		}
	}

	return ""
}

func extractLocations(lower string) []string {
	var out []string

	for _, m := range locationRe.FindAllStringSubmatch(lower, -1) {
		out = append(out, m[1]+"_"+m[2])
	}

	return out
}

func extractValue(lower string) *float64 {
	m := numberRe.FindStringSubmatch(lower)
	if m == nil {
		m = bareNumRe.FindStringSubmatch(lower)
	}

	if m == nil {
		return nil
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}

	return &v
}

// buildPlan maps the extracted entities to gateway operations.
func buildPlan(res *Result) []PlanStep {
	switch res.Intent {
	case IntentGet, IntentTrend, IntentDiagnose:
		step := PlanStep{Operation: "read", Parameter: res.Parameter}
		if len(res.Locations) > 0 {
			step.Location = res.Locations[0]
		}

		return []PlanStep{step}

	case IntentSet:
		step := PlanStep{Operation: "write", Parameter: res.Parameter, Value: res.Value}
		if len(res.Locations) > 0 {
			step.Location = res.Locations[0]
		}

		return []PlanStep{step}

	case IntentCompare:
		steps := make([]PlanStep, 0, len(res.Locations))
		for _, loc := range res.Locations {
			steps = append(steps, PlanStep{Operation: "read", Parameter: res.Parameter, Location: loc})
		}

		if len(steps) == 0 {
			steps = append(steps, PlanStep{Operation: "read", Parameter: res.Parameter})
		}

		return steps

	case IntentStatus, IntentSchedule:
		return []PlanStep{{Operation: "status"}}

	default:
		return nil
	}
}
