package security

import (
	"fmt"
)

type ValidationConfig struct {
	MaxMessageSize int
	RequiredFields []string
	IDField        string // Field that identifies a record (default: "id")
}

// DefaultValidationConfig requires an identifier on every record and caps bodies at 1MB
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessageSize: 1024 * 1024,
		IDField:        "id",
	}
}

type messageValidator struct {
	config ValidationConfig
}

func NewMessageValidator(config ValidationConfig) MessageValidator {
	if config.IDField == "" {
		config.IDField = "id"
	}
	return &messageValidator{config: config}
}

func (mv *messageValidator) ValidateMessage(message []byte) error {
	if len(message) == 0 {
		return fmt.Errorf("empty message")
	}

	if mv.config.MaxMessageSize > 0 && len(message) > mv.config.MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max: %d)",
			len(message), mv.config.MaxMessageSize)
	}

	return nil
}

func (mv *messageValidator) ValidateRecord(record map[string]any) error {
	id, exists := record[mv.config.IDField]
	if !exists || id == nil || id == "" {
		return fmt.Errorf("missing record identifier field '%s'", mv.config.IDField)
	}

	for _, field := range mv.config.RequiredFields {
		if _, exists := record[field]; !exists {
			return fmt.Errorf("missing required field '%s'", field)
		}
	}

	return nil
}
