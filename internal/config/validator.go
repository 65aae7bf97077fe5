package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBridge(cfg.Bridge); err != nil {
		errors = append(errors, err)
	}

	if err := validateFiltering(cfg.Filtering); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateBus(cfg.Bus); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateBridge(cfg BridgeConfig) error {
	if cfg.MessageTracking.MaxAgeMinutes <= 0 {
		return &ValidationError{
			Field:   "bridge.message_tracking.max_age_minutes",
			Message: "max_age_minutes must be positive",
		}
	}

	if cfg.MessageTracking.MaxMessages <= 0 {
		return &ValidationError{
			Field:   "bridge.message_tracking.max_messages",
			Message: "max_messages must be positive",
		}
	}

	seen := make(map[string]bool, len(cfg.Links))
	for i, link := range cfg.Links {
		if link.Name == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("bridge.links[%d].name", i),
				Message: "link name cannot be empty",
			}
		}
		if seen[link.Name] {
			return &ValidationError{
				Field:   fmt.Sprintf("bridge.links[%d].name", i),
				Message: fmt.Sprintf("duplicate link name: %s", link.Name),
			}
		}
		seen[link.Name] = true

		if link.Addr == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("bridge.links[%d].addr", i),
				Message: "link address cannot be empty",
			}
		}
	}

	return nil
}

func validateFiltering(cfg FilteringConfig) error {
	validKinds := map[string]bool{
		"keyword": true, "regex": true, "sender": true, "channel": true, "expr": true,
	}
	validActions := map[string]bool{
		"allow": true, "block": true,
	}

	for i, rule := range cfg.CustomRules {
		if rule.Name == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("filtering.custom_rules[%d].name", i),
				Message: "rule name cannot be empty",
			}
		}
		if !validKinds[strings.ToLower(rule.Kind)] {
			return &ValidationError{
				Field:   fmt.Sprintf("filtering.custom_rules[%d].kind", i),
				Message: fmt.Sprintf("unknown rule kind: %s (valid: keyword, regex, sender, channel, expr)", rule.Kind),
			}
		}
		if !validActions[strings.ToLower(rule.Action)] {
			return &ValidationError{
				Field:   fmt.Sprintf("filtering.custom_rules[%d].action", i),
				Message: fmt.Sprintf("unknown rule action: %s (valid: allow, block)", rule.Action),
			}
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if err := validatePostgres(cfg.Postgres); err != nil {
		return err
	}

	if cfg.RetentionDays <= 0 {
		return &ValidationError{
			Field:   "database.retention_days",
			Message: "retention_days must be positive",
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateBus(cfg BusConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "bus.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Kafka.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("bus.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.Kafka.GroupID == "" {
		return &ValidationError{
			Field:   "bus.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "bus.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "bus.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	return nil
}
