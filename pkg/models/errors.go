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
	"errors"
	"fmt"
)

// Caller-facing validation results and terminal conditions. Each carries
// a stable kind tag via errors.Is.
var (
	ErrUnknownDevice      = errors.New("unknown device: resolver below acceptance threshold")
	ErrUnknownParameter   = errors.New("unknown parameter")
	ErrOutOfRange         = errors.New("value outside parameter error range")
	ErrInvariantViolation = errors.New("descriptor invariant violation")
	ErrCancelled          = errors.New("operation cancelled: deadline elapsed")
)

// TransportError wraps an I/O failure (unreachable host, timeout,
// connection reset). Transport errors are retried under the protocol
// spec's policy before they surface.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError marks a frame that failed structural validation. Decode
// errors are never retried.
type DecodeError struct {
	Frame  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s: %s", e.Frame, e.Reason)
}

// ProtocolException is a well-formed error returned by the peer: a BACnet
// error PDU, a Modbus exception response, or an HTTP 4xx/5xx. Never
// retried; surfaces immediately.
type ProtocolException struct {
	Protocol string
	Code     int
	Message  string
}

func (e *ProtocolException) Error() string {
	return fmt.Sprintf("%s exception 0x%02X: %s", e.Protocol, e.Code, e.Message)
}

// IsRetryable reports whether the retry policy applies to err. Only
// transient transport errors qualify.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
