package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus the
// cross-field rules the tags cannot express.
//
// Parameters:
//   - cfg: Configuration to validate
//
// Returns:
//   - error: Validation error with details, or nil if valid
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	level := strings.ToUpper(cfg.Logging.Level)
	switch level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid logging.level %q (expected DEBUG, INFO, WARN or ERROR)", cfg.Logging.Level)
	}

	if cfg.Admin.Enabled && cfg.Admin.Port == cfg.Server.Port {
		return fmt.Errorf("admin.port %d conflicts with server.port", cfg.Admin.Port)
	}

	return nil
}

// formatValidationError converts validator errors to human-readable messages.
func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	for _, fieldError := range validationErrors {
		return fmt.Errorf("field '%s' failed validation: %s (value: %v)",
			fieldError.Namespace(),
			fieldError.Tag(),
			fieldError.Value())
	}

	return err
}
