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

// Package rest implements the HTTP endpoint-mapping protocol: parameter
// reads and writes against JSON or plain-text device endpoints.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

// AuthMode selects how requests authenticate.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBearer AuthMode = "bearer"
	AuthAPIKey AuthMode = "api-key"
)

const apiKeyHeader = "X-API-Key"

// Client talks to one REST device. Endpoints from the descriptor are
// resolved relative to the base URL.
type Client struct {
	baseURL string
	auth    AuthMode
	secret  string
	http    *http.Client
	log     logger.Logger
}

// NewClient builds a client for baseURL ("http://host:port").
func NewClient(baseURL string, timeout time.Duration, auth AuthMode, secret string, log logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
		log:     log.WithComponent("rest"),
	}
}

// Connect probes the device root so connection failures surface at
// session open rather than first read.
func (c *Client) Connect(ctx context.Context) error {
	return c.Probe(ctx)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) authorize(req *http.Request) {
	switch c.auth {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.secret)
	case AuthAPIKey:
		req.Header.Set(apiKeyHeader, c.secret)
	case AuthNone:
	}
}

func (c *Client) do(req *http.Request) ([]byte, string, error) {
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", &models.TransportError{Op: req.Method, Addr: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", &models.TransportError{Op: "read", Addr: req.URL.String(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &models.ProtocolException{
			Protocol: "rest",
			Code:     resp.StatusCode,
			Message:  http.StatusText(resp.StatusCode),
		}
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// Read fetches the endpoint and decodes the parameter value. JSON bodies
// may wrap the value under a "value" key or be a bare scalar; plain-text
// bodies are parsed directly.
func (c *Client) Read(ctx context.Context, endpoint string) (models.TypedValue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return models.TypedValue{}, &models.TransportError{Op: "request", Addr: endpoint, Err: err}
	}

	body, contentType, err := c.do(req)
	if err != nil {
		return models.TypedValue{}, err
	}

	return decodeBody(body, contentType)
}

// Write posts the value to the endpoint as a JSON document.
func (c *Client) Write(ctx context.Context, endpoint string, value models.TypedValue) error {
	payload, err := json.Marshal(map[string]interface{}{"value": scalarOf(value)})
	if err != nil {
		return &models.DecodeError{Frame: "rest body", Reason: "value is not JSON-encodable"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return &models.TransportError{Op: "request", Addr: endpoint, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")

	_, _, err = c.do(req)

	return err
}

// Probe issues a GET against the device root. Any well-formed HTTP
// response, success or error status, proves a live HTTP stack.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return &models.TransportError{Op: "request", Addr: c.baseURL, Err: err}
	}

	_, _, err = c.do(req)

	var pe *models.ProtocolException
	if err != nil && errors.As(err, &pe) {
		return nil
	}

	return err
}

func scalarOf(v models.TypedValue) interface{} {
	switch v.Kind {
	case models.KindFloat:
		return v.Float
	case models.KindInt:
		return v.Int
	case models.KindBool:
		return v.Bool
	default:
		return v.Str
	}
}

// decodeBody maps a response body to a typed value.
func decodeBody(body []byte, contentType string) (models.TypedValue, error) {
	if strings.Contains(contentType, "application/json") {
		return decodeJSONValue(body)
	}

	return decodeTextValue(string(bytes.TrimSpace(body)))
}

func decodeJSONValue(body []byte) (models.TypedValue, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return models.TypedValue{}, &models.DecodeError{Frame: "rest body", Reason: "malformed JSON"}
	}

	if m, ok := doc.(map[string]interface{}); ok {
		inner, ok := m["value"]
		if !ok {
			return models.TypedValue{}, &models.DecodeError{Frame: "rest body", Reason: `JSON object missing "value" key`}
		}

		doc = inner
	}

	switch v := doc.(type) {
	case float64:
		return models.FloatValue(v, ""), nil
	case bool:
		return models.BoolValue(v), nil
	case string:
		return decodeTextValue(v)
	default:
		return models.TypedValue{}, &models.DecodeError{Frame: "rest body", Reason: fmt.Sprintf("unsupported JSON value type %T", doc)}
	}
}

func decodeTextValue(s string) (models.TypedValue, error) {
	if s == "" {
		return models.TypedValue{}, &models.DecodeError{Frame: "rest body", Reason: "empty response body"}
	}

	if b, err := strconv.ParseBool(s); err == nil {
		return models.BoolValue(b), nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return models.FloatValue(f, ""), nil
	}

	return models.TypedValue{Kind: models.KindEnum, Str: s}, nil
}
