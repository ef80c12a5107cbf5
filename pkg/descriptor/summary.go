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

package descriptor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/carverauto/fieldgate/pkg/models"
)

// rawTextPrefix bounds how much of the source document joins the
// embedding summary.
const rawTextPrefix = 2000

// Summary renders a descriptor into the canonical text the embedder
// consumes: identity, then parameters, then errors, then
// troubleshooting, then a bounded prefix of the raw document. Stable
// ordering keeps embedding idempotent.
func Summary(d *models.DeviceDescriptor) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s %s %s %s\n",
		d.Manufacturer, d.Model, d.DeviceType, d.ProtocolName, d.DeviceID)

	for _, name := range sortedKeys(d.Parameters) {
		p := d.Parameters[name]
		fmt.Fprintf(&b, "parameter %s %s %s normal %g %g\n",
			name, p.Kind, p.Unit, p.NormalRange.Low, p.NormalRange.High)
	}

	for _, code := range sortedKeys(d.ErrorCodes) {
		fmt.Fprintf(&b, "error %s %s\n", code, d.ErrorCodes[code].Description)
	}

	for _, step := range d.Troubleshooting {
		fmt.Fprintf(&b, "troubleshooting %s\n", step)
	}

	raw := d.RawText
	if len(raw) > rawTextPrefix {
		raw = raw[:rawTextPrefix]
	}

	b.WriteString(raw)

	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
