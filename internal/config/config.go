// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads the aggregator's configuration surface: the Redfish
// root, the storage/event/object backend selectors, and their
// backend-specific settings.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the full aggregator configuration.
type Config struct {
	// RedfishRoot is the service root path prefix, e.g. "/redfish/v1".
	RedfishRoot string

	// StorageBackend selects the Resource Store implementation. Only
	// "sqlite" is built in.
	StorageBackend string

	// EventsHandler selects the event-handling plugin set. Only "redfish"
	// is built in.
	EventsHandler string

	// ObjectsHandler selects the object-handling plugin set. Only
	// "redfish" is built in.
	ObjectsHandler string

	// DBPath is the sqlite database file backing the resource store and
	// alias registry.
	DBPath string

	// AliasCacheSize bounds the in-memory LRU cache fronting the alias
	// registry's persisted document.
	AliasCacheSize int

	// EncryptionKey, if set, is used to encrypt AggregationSource
	// credentials at rest.
	EncryptionKey string

	// HTTPAddr is the address the northbound API listens on.
	HTTPAddr string

	// AgentTimeoutSeconds bounds every southbound agent request.
	AgentTimeoutSeconds int

	// LogLevel is one of debug/info/warn/error.
	LogLevel string
}

// Default returns the configuration used when no environment overrides are
// present.
func Default() Config {
	return Config{
		RedfishRoot:         "/redfish/v1",
		StorageBackend:      "sqlite",
		EventsHandler:       "redfish",
		ObjectsHandler:      "redfish",
		DBPath:              "sunfish.db",
		AliasCacheSize:      4096,
		EncryptionKey:       "",
		HTTPAddr:            ":8080",
		AgentTimeoutSeconds: 30,
		LogLevel:            "info",
	}
}

// LoadFromEnv loads configuration from SUNFISH_* environment variables,
// starting from Default() and overriding only what is present.
func LoadFromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("SUNFISH_REDFISH_ROOT"); v != "" {
		cfg.RedfishRoot = v
	}
	if v := os.Getenv("SUNFISH_STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("SUNFISH_EVENTS_HANDLER"); v != "" {
		cfg.EventsHandler = v
	}
	if v := os.Getenv("SUNFISH_OBJECTS_HANDLER"); v != "" {
		cfg.ObjectsHandler = v
	}
	if v := os.Getenv("SUNFISH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SUNFISH_ALIAS_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SUNFISH_ALIAS_CACHE_SIZE: %w", err)
		}
		if n < 1 {
			return cfg, fmt.Errorf("SUNFISH_ALIAS_CACHE_SIZE must be at least 1")
		}
		cfg.AliasCacheSize = n
	}
	if v := os.Getenv("SUNFISH_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
	if v := os.Getenv("SUNFISH_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("SUNFISH_AGENT_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SUNFISH_AGENT_TIMEOUT_SECONDS: %w", err)
		}
		if n < 1 {
			return cfg, fmt.Errorf("SUNFISH_AGENT_TIMEOUT_SECONDS must be at least 1")
		}
		cfg.AgentTimeoutSeconds = n
	}
	if v := os.Getenv("SUNFISH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
