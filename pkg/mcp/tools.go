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

package mcp

func sessionTools() []Tool {
	return []Tool{
		{
			Name:        "implement_protocol",
			Description: "Open (or reuse) a managed session to a device over rest, bacnet, or modbus",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"protocol_name": map[string]interface{}{
						"type":        "string",
						"description": "One of rest, bacnet, modbus",
					},
					"device_address": map[string]interface{}{
						"type":        "string",
						"description": "Device host or host:port",
					},
					"device_hint": map[string]interface{}{
						"type":        "string",
						"description": "Optional device id or free text to bind a descriptor",
					},
				},
				"required": []string{"protocol_name", "device_address"},
			},
		},
		{
			Name:        "close_session",
			Description: "Close a session and release its connection",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id": map[string]interface{}{
						"type":        "string",
						"description": "The session to close",
					},
				},
				"required": []string{"session_id"},
			},
		},
		{
			Name:        "read",
			Description: "Read one parameter from a device session",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id": map[string]interface{}{
						"type": "string",
					},
					"parameter_name": map[string]interface{}{
						"type":        "string",
						"description": "Parameter name from the device descriptor",
					},
				},
				"required": []string{"session_id", "parameter_name"},
			},
		},
		{
			Name:        "write",
			Description: "Write one parameter value to a device session",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id": map[string]interface{}{
						"type": "string",
					},
					"parameter_name": map[string]interface{}{
						"type": "string",
					},
					"value": map[string]interface{}{
						"type":        "object",
						"description": "Typed value with kind and the matching field set",
					},
				},
				"required": []string{"session_id", "parameter_name", "value"},
			},
		},
	}
}

func resolverTools() []Tool {
	return []Tool{
		{
			Name:        "classify_device",
			Description: "Coarse protocol classification from a device fingerprint",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"transport": map[string]interface{}{"type": "string"},
					"port":      map[string]interface{}{"type": "integer"},
					"vendor_id": map[string]interface{}{"type": "integer"},
				},
				"required": []string{"transport", "port"},
			},
		},
		{
			Name:        "resolve_descriptor",
			Description: "Resolve the device descriptor for a fingerprint",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"transport": map[string]interface{}{"type": "string"},
					"port":      map[string]interface{}{"type": "integer"},
					"vendor_id": map[string]interface{}{"type": "integer"},
				},
				"required": []string{"transport", "port"},
			},
		},
		{
			Name:        "detect_anomalies",
			Description: "Evaluate a reading against descriptor baselines and session history",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id": map[string]interface{}{"type": "string"},
					"current_reading": map[string]interface{}{
						"type":        "object",
						"description": "Map of parameter name to value plus an optional timestamp",
					},
				},
				"required": []string{"session_id", "current_reading"},
			},
		},
	}
}

func corpusTools() []Tool {
	return []Tool{
		{
			Name:        "ingest_document",
			Description: "Ingest a vendor PDF into a stored, indexed device descriptor",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Filesystem path of the document",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "search_descriptors",
			Description: "Similarity search over the descriptor corpus",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query_text": map[string]interface{}{"type": "string"},
					"top_k": map[string]interface{}{
						"type":        "integer",
						"description": "Number of matches to return (default 5)",
					},
				},
				"required": []string{"query_text"},
			},
		},
		{
			Name:        "process_query",
			Description: "Turn a natural-language request into an operation plan",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{"type": "string"},
				},
				"required": []string{"text"},
			},
		},
		{
			Name:        "troubleshoot",
			Description: "Look up an error code in the session's device descriptor",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id": map[string]interface{}{"type": "string"},
					"error_code": map[string]interface{}{"type": "string"},
				},
				"required": []string{"session_id", "error_code"},
			},
		},
		{
			Name:        "anomaly_summary",
			Description: "Severity and type counts over a device's retained anomaly reports",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"device_id": map[string]interface{}{"type": "string"},
				},
				"required": []string{"device_id"},
			},
		},
		{
			Name:        "gateway_info",
			Description: "Gateway version, protocols, and corpus statistics",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

func toolDefinitions() []Tool {
	var tools []Tool
	tools = append(tools, sessionTools()...)
	tools = append(tools, resolverTools()...)
	tools = append(tools, corpusTools()...)

	return tools
}
