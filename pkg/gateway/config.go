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

package gateway

import (
	"errors"
	"fmt"
)

// Config is the gateway's flat configuration. No option mutates at
// runtime.
type Config struct {
	Host                 string `json:"host"`
	ListenPort           int    `json:"listen_port"`
	MCPPort              int    `json:"mcp_port"`
	BACnetPort           int    `json:"bacnet_port"`
	ModbusPort           int    `json:"modbus_port"`
	DiscoveryTimeoutMS   int    `json:"discovery_timeout_ms"`
	MaxDiscoveryAttempts int    `json:"max_discovery_attempts"`
	LogLevel             string `json:"log_level"`
	StorageDir           string `json:"storage_dir"`
	ModelDir             string `json:"model_dir"`
}

var errMissingStorageDir = errors.New("storage_dir is required")

// Validate applies defaults and checks the config.
func (c *Config) Validate() error {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}

	if c.ListenPort == 0 {
		c.ListenPort = 8080
	}

	if c.MCPPort == 0 {
		c.MCPPort = 8090
	}

	if c.BACnetPort == 0 {
		c.BACnetPort = 47808
	}

	if c.ModbusPort == 0 {
		c.ModbusPort = 502
	}

	if c.DiscoveryTimeoutMS == 0 {
		c.DiscoveryTimeoutMS = 3000
	}

	if c.MaxDiscoveryAttempts == 0 {
		c.MaxDiscoveryAttempts = 3
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.StorageDir == "" {
		return errMissingStorageDir
	}

	for name, port := range map[string]int{
		"listen_port": c.ListenPort,
		"mcp_port":    c.MCPPort,
		"bacnet_port": c.BACnetPort,
		"modbus_port": c.ModbusPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s %d is out of range", name, port)
		}
	}

	return nil
}
