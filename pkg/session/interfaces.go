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

package session

import (
	"context"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

// Transport is the protocol-client surface the manager drives. The
// concrete clients stay accessible through Session.Conn for
// protocol-specific operations.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
}

// Dialer constructs an unconnected transport for a device address under
// a protocol spec.
type Dialer func(spec *models.ProtocolSpec, address string, log logger.Logger) (Transport, error)
