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

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/ml"
)

func newRuleDispatcher() *Dispatcher {
	d := NewDispatcher(nil, logger.NewTestLogger())
	d.SetParameters([]string{"Temperature_Sensor_1", "Humidity_Sensor_1", "Setpoint"})

	return d
}

// Golden inputs. The learned path, when a model is present, must agree
// with the rule path on every one of these.
var goldenQueries = []struct {
	name      string
	text      string
	intent    Intent
	parameter string
	locations []string
	value     *float64
	operation string
}{
	{
		name:      "plain read",
		text:      "What is the temperature in room 101?",
		intent:    IntentGet,
		parameter: "temperature",
		locations: []string{"room_101"},
		operation: "read",
	},
	{
		name:      "write with target value",
		text:      "Set the setpoint in zone 3 to 22.5",
		intent:    IntentSet,
		parameter: "Setpoint",
		locations: []string{"zone_3"},
		value:     floatPtr(22.5),
		operation: "write",
	},
	{
		name:      "status request",
		text:      "How is the air handler status looking today?",
		intent:    IntentStatus,
		operation: "status",
	},
	{
		name:      "compare two rooms",
		text:      "Compare the humidity between room 101 and room 102",
		intent:    IntentCompare,
		parameter: "humidity",
		locations: []string{"room_101", "room_102"},
		operation: "read",
	},
	{
		name:      "trend request",
		text:      "Show me the temperature trend for floor 2",
		intent:    IntentTrend,
		parameter: "temperature",
		locations: []string{"floor_2"},
		operation: "read",
	},
	{
		name:      "diagnose request",
		text:      "Why is the humidity so high in room 5?",
		intent:    IntentDiagnose,
		parameter: "humidity",
		locations: []string{"room_5"},
		operation: "read",
	},
	{
		name:      "schedule request",
		text:      "When was the last filter maintenance due?",
		intent:    IntentSchedule,
		operation: "status",
	},
}

func floatPtr(v float64) *float64 { return &v }

func TestGoldenQueriesRulePath(t *testing.T) {
	d := newRuleDispatcher()

	for _, tt := range goldenQueries {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Process(tt.text)

			assert.Equal(t, tt.intent, res.Intent)
			assert.Equal(t, tt.parameter, res.Parameter)
			assert.Equal(t, tt.locations, res.Locations)

			if tt.value != nil {
				require.NotNil(t, res.Value)
				assert.Equal(t, *tt.value, *res.Value)
			}

			require.NotEmpty(t, res.Plan)
			assert.Equal(t, tt.operation, res.Plan[0].Operation)
		})
	}
}

func TestLearnedPathAgreesWithRulesWhenModelAbstains(t *testing.T) {
	// A model biased entirely toward the unknown class abstains on every
	// input, handing classification to the rule path.
	abstain := &ml.Linear{
		In:      intentFeatures,
		Out:     len(intentClasses),
		Weights: make([]float32, intentFeatures*len(intentClasses)),
		Bias:    make([]float32, len(intentClasses)),
	}
	abstain.Bias[len(intentClasses)-1] = 10

	learned := NewDispatcher(abstain, logger.NewTestLogger())
	learned.SetParameters([]string{"Temperature_Sensor_1", "Humidity_Sensor_1", "Setpoint"})

	rules := newRuleDispatcher()

	for _, tt := range goldenQueries {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, rules.Process(tt.text), learned.Process(tt.text))
		})
	}
}

func TestCompareEmitsOneReadPerLocation(t *testing.T) {
	d := newRuleDispatcher()

	res := d.Process("Compare the temperature between room 101 and room 102")

	require.Len(t, res.Plan, 2)
	assert.Equal(t, "room_101", res.Plan[0].Location)
	assert.Equal(t, "room_102", res.Plan[1].Location)

	for _, step := range res.Plan {
		assert.Equal(t, "read", step.Operation)
	}
}

func TestAdjustKeywordIsSet(t *testing.T) {
	d := newRuleDispatcher()

	res := d.Process("Adjust the setpoint to 21.0 please")

	assert.Equal(t, IntentSet, res.Intent)
	require.NotNil(t, res.Value)
	assert.Equal(t, 21.0, *res.Value)
}

func TestBareDecimalExtraction(t *testing.T) {
	d := newRuleDispatcher()

	res := d.Process("Change the humidity target 55.5 in zone 9")

	assert.Equal(t, IntentSet, res.Intent)
	require.NotNil(t, res.Value)
	assert.Equal(t, 55.5, *res.Value)
}

func TestDescriptorParameterBeatsGenericVocabulary(t *testing.T) {
	d := newRuleDispatcher()

	res := d.Process("read temperature sensor 1 now")

	assert.Equal(t, "Temperature_Sensor_1", res.Parameter)
}

func TestKeywordPriorityCompareBeatsGet(t *testing.T) {
	d := newRuleDispatcher()

	// "what is" is also present but compare ranks higher.
	res := d.Process("what is the difference between room 1 and room 2 temperature")

	assert.Equal(t, IntentCompare, res.Intent)
}

func TestUnknownIntentHasNoPlan(t *testing.T) {
	d := newRuleDispatcher()

	res := d.Process("bananas are yellow")

	assert.Equal(t, IntentUnknown, res.Intent)
	assert.Empty(t, res.Plan)
}

func TestIntentFeatureVectorIsDeterministic(t *testing.T) {
	a := intentFeatureVector("set the temperature to 21")
	b := intentFeatureVector("set the temperature to 21")

	require.Len(t, a, intentFeatures)
	assert.Equal(t, a, b)
}
