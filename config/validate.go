// Copyright (C) 2025 chatmesh-project
//
// This file is part of chatmesh-node.
//
// chatmesh-node is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// chatmesh-node is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with chatmesh-node. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Level   string // "error", "warning", "info"
}

// ValidateConfiguration validates the entire configuration.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errors []ValidationError

	if cfg.Node != nil {
		errors = append(errors, validateNodeConfig(cfg.Node)...)
	}
	if cfg.Store != nil {
		errors = append(errors, validateStoreConfig(cfg.Store)...)
	}
	errors = append(errors, validateEnvironment(cfg.Environment)...)

	return errors
}

func validateNodeConfig(cfg *NodeConfig) []ValidationError {
	var errors []ValidationError

	if cfg.Username == "" {
		errors = append(errors, ValidationError{
			Field:   "Node.Username",
			Message: "username is required",
			Level:   "error",
		})
	}
	if cfg.DataDir == "" {
		errors = append(errors, ValidationError{
			Field:   "Node.DataDir",
			Message: "data directory should be set (default: .chatmesh)",
			Level:   "warning",
		})
	}

	return errors
}

func validateStoreConfig(cfg *StoreConfig) []ValidationError {
	var errors []ValidationError

	switch cfg.Driver {
	case "sqlite", "postgres":
		// recognized
	case "":
		errors = append(errors, ValidationError{
			Field:   "Store.Driver",
			Message: "driver should be set (default: sqlite)",
			Level:   "warning",
		})
	default:
		errors = append(errors, ValidationError{
			Field:   "Store.Driver",
			Message: fmt.Sprintf("unrecognized store driver: %s (valid: sqlite, postgres)", cfg.Driver),
			Level:   "error",
		})
	}

	if cfg.DSN == "" {
		errors = append(errors, ValidationError{
			Field:   "Store.DSN",
			Message: "DSN is required",
			Level:   "error",
		})
	}

	return errors
}

// validateEnvironment validates environment settings.
func validateEnvironment(env string) []ValidationError {
	var errors []ValidationError

	validEnvs := []string{"local", "development", "staging", "production"}
	env = strings.ToLower(env)

	valid := false
	for _, v := range validEnvs {
		if env == v {
			valid = true
			break
		}
	}

	if !valid {
		errors = append(errors, ValidationError{
			Field:   "Environment",
			Message: fmt.Sprintf("Invalid environment: %s (valid: %v)", env, validEnvs),
			Level:   "error",
		})
	}

	if env == "production" {
		errors = append(errors, ValidationError{
			Field:   "Environment",
			Message: "Running in production mode - ensure all security settings are configured",
			Level:   "info",
		})
	}

	return errors
}

// ValidateFile validates a configuration file.
func ValidateFile(path string) ([]ValidationError, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return ValidateConfiguration(cfg), nil
}

// PrintValidationErrors prints validation errors in a formatted way.
func PrintValidationErrors(errors []ValidationError) {
	if len(errors) == 0 {
		fmt.Println("configuration is valid")
		return
	}

	var errorCount, warningCount, infoCount int
	for _, e := range errors {
		switch e.Level {
		case "error":
			errorCount++
		case "warning":
			warningCount++
		case "info":
			infoCount++
		}
	}

	fmt.Printf("configuration validation found %d errors, %d warnings, %d info messages\n\n",
		errorCount, warningCount, infoCount)

	for _, e := range errors {
		if e.Level == "error" {
			fmt.Printf("ERROR: %s - %s\n", e.Field, e.Message)
		}
	}
	for _, e := range errors {
		if e.Level == "warning" {
			fmt.Printf("WARNING: %s - %s\n", e.Field, e.Message)
		}
	}
	for _, e := range errors {
		if e.Level == "info" {
			fmt.Printf("INFO: %s - %s\n", e.Field, e.Message)
		}
	}
}
