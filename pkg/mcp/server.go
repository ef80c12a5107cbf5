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

// Package mcp exposes the gateway operations as MCP tools over a single
// JSON-RPC HTTP endpoint.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carverauto/fieldgate/pkg/gateway"
	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

// Server implements the MCP protocol directly over the gateway.
type Server struct {
	gw     *gateway.Gateway
	logger logger.Logger
}

// JSON-RPC 2.0 structures

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

// NewServer creates the MCP server over a gateway.
func NewServer(gw *gateway.Gateway, log logger.Logger) *Server {
	return &Server{gw: gw, logger: log.WithComponent("mcp")}
}

// RegisterRoutes adds the MCP endpoint to the router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	mcpRouter := router.PathPrefix("/mcp").Subrouter()
	mcpRouter.HandleFunc("", s.handleRequest).Methods("POST", "OPTIONS")
	mcpRouter.HandleFunc("/", s.handleRequest).Methods("POST", "OPTIONS")
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)

		return
	}

	var req JSONRPCRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, req.ID, -32700, "Parse error", err.Error())

		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolCall(w, req, r)
	default:
		s.writeError(w, req.ID, -32601, "Method not found", fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	result := map[string]interface{}{
		"protocolVersion": "2025-03-26",
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "fieldgate-mcp",
			"version": gateway.Version,
		},
	}

	s.writeSuccess(w, req.ID, result)
}

func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	s.writeSuccess(w, req.ID, map[string]interface{}{
		"tools": toolDefinitions(),
	})
}

func (s *Server) handleToolCall(w http.ResponseWriter, req JSONRPCRequest, r *http.Request) {
	var params ToolCallParams

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, -32602, "Invalid params", err.Error())
		return
	}

	var result interface{}

	var err error

	switch params.Name {
	case "implement_protocol":
		result, err = s.executeImplementProtocol(r.Context(), params.Arguments)
	case "close_session":
		result, err = s.executeCloseSession(params.Arguments)
	case "read":
		result, err = s.executeRead(r.Context(), params.Arguments)
	case "write":
		result, err = s.executeWrite(r.Context(), params.Arguments)
	case "classify_device":
		result, err = s.executeClassifyDevice(params.Arguments)
	case "resolve_descriptor":
		result, err = s.executeResolveDescriptor(params.Arguments)
	case "detect_anomalies":
		result, err = s.executeDetectAnomalies(params.Arguments)
	case "ingest_document":
		result, err = s.executeIngestDocument(params.Arguments)
	case "search_descriptors":
		result, err = s.executeSearchDescriptors(params.Arguments)
	case "process_query":
		result, err = s.executeProcessQuery(params.Arguments)
	case "troubleshoot":
		result, err = s.executeTroubleshoot(params.Arguments)
	case "anomaly_summary":
		result, err = s.executeAnomalySummary(params.Arguments)
	case "gateway_info":
		result = s.gw.GatewayInfo()
	default:
		s.writeError(w, req.ID, -32602, "Unknown tool", fmt.Sprintf("Tool not found: %s", params.Name))
		return
	}

	if err != nil {
		s.writeError(w, req.ID, -32603, "Internal error", err.Error())
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, req.ID, -32603, "Internal error", "Failed to marshal result")
		return
	}

	s.writeSuccess(w, req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(resultJSON)},
		},
	})
}

// Tool execution methods

func (s *Server) executeImplementProtocol(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		Protocol   string `json:"protocol_name"`
		Address    string `json:"device_address"`
		DeviceHint string `json:"device_hint,omitempty"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	if params.Protocol == "" || params.Address == "" {
		return nil, fmt.Errorf("protocol_name and device_address are required")
	}

	sessionID, err := s.gw.ImplementProtocol(ctx, params.Protocol, params.Address, params.DeviceHint)
	if err != nil {
		return nil, err
	}

	return map[string]string{"session_id": sessionID}, nil
}

func (s *Server) executeCloseSession(args json.RawMessage) (interface{}, error) {
	var params struct {
		SessionID string `json:"session_id"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	if err := s.gw.CloseSession(params.SessionID); err != nil {
		return nil, err
	}

	return map[string]string{"status": "closed"}, nil
}

func (s *Server) executeRead(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		SessionID string `json:"session_id"`
		Parameter string `json:"parameter_name"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	return s.gw.Read(ctx, params.SessionID, params.Parameter)
}

func (s *Server) executeWrite(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		SessionID string            `json:"session_id"`
		Parameter string            `json:"parameter_name"`
		Value     models.TypedValue `json:"value"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	if err := s.gw.Write(ctx, params.SessionID, params.Parameter, params.Value); err != nil {
		return nil, err
	}

	return map[string]string{"status": "written"}, nil
}

func (s *Server) executeClassifyDevice(args json.RawMessage) (interface{}, error) {
	var fp models.Fingerprint

	if err := json.Unmarshal(args, &fp); err != nil {
		return nil, err
	}

	c := s.gw.ClassifyDevice(&fp)

	return map[string]interface{}{
		"protocol_name": c.Protocol,
		"confidence":    c.Confidence,
	}, nil
}

func (s *Server) executeResolveDescriptor(args json.RawMessage) (interface{}, error) {
	var fp models.Fingerprint

	if err := json.Unmarshal(args, &fp); err != nil {
		return nil, err
	}

	return s.gw.ResolveDescriptor(&fp)
}

func (s *Server) executeDetectAnomalies(args json.RawMessage) (interface{}, error) {
	var params struct {
		SessionID string                 `json:"session_id"`
		Reading   gateway.CurrentReading `json:"current_reading"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	return s.gw.DetectAnomalies(params.SessionID, &params.Reading)
}

func (s *Server) executeIngestDocument(args json.RawMessage) (interface{}, error) {
	var params struct {
		Path string `json:"path"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	return s.gw.IngestDocument(params.Path)
}

func (s *Server) executeSearchDescriptors(args json.RawMessage) (interface{}, error) {
	var params struct {
		Query string `json:"query_text"`
		TopK  int    `json:"top_k,omitempty"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	if params.TopK <= 0 {
		params.TopK = 5
	}

	return s.gw.SearchDescriptors(params.Query, params.TopK)
}

func (s *Server) executeProcessQuery(args json.RawMessage) (interface{}, error) {
	var params struct {
		Text string `json:"text"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	if params.Text == "" {
		return nil, fmt.Errorf("text is required")
	}

	return s.gw.ProcessQuery(params.Text), nil
}

func (s *Server) executeTroubleshoot(args json.RawMessage) (interface{}, error) {
	var params struct {
		SessionID string `json:"session_id"`
		ErrorCode string `json:"error_code"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	return s.gw.Troubleshoot(params.SessionID, params.ErrorCode)
}

func (s *Server) executeAnomalySummary(args json.RawMessage) (interface{}, error) {
	var params struct {
		DeviceID string `json:"device_id"`
	}

	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	return s.gw.AnomalySummary(params.DeviceID), nil
}

// Utility methods

func (s *Server) writeSuccess(w http.ResponseWriter, id, result interface{}) {
	response := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode MCP response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	response := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode MCP error response")
	}
}
