package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, err := range e {
		out = append(out, err.Field)
	}
	return out
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateInput(&c.Input)...)
	errs = append(errs, validateTheme(&c.Theme)...)
	errs = append(errs, validateDisplay(&c.Display, c.Input.SystemInput)...)
	errs = append(errs, validateEngine(&c.Engine)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateInput(in *InputConfig) ValidationErrors {
	var errs ValidationErrors
	if in.KeyCacheCapacity < 1 || in.KeyCacheCapacity > 4096 {
		errs = append(errs, RangeError("input.key_cache_capacity", 1, 4096))
	}
	return errs
}

func validateTheme(t *ThemeConfig) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, RequiredFieldError("theme.name"))
	}
	return errs
}

func validateDisplay(d *DisplayConfig, systemInput bool) ValidationErrors {
	var errs ValidationErrors

	// no display service is used for system input
	if systemInput {
		return errs
	}
	if d.SocketPath == "" {
		errs = append(errs, RequiredFieldError("display.socket_path"))
	}
	if d.RequestTimeoutMs < 100 || d.RequestTimeoutMs > 60000 {
		errs = append(errs, RangeError("display.request_timeout_ms", 100, 60000))
	}
	if d.MaxReconnect < 0 {
		errs = append(errs, ValidationError{
			Field:   "display.max_reconnect",
			Message: "max reconnect cannot be negative",
		})
	}
	for _, uid := range d.AllowedUIDs {
		if uid < 0 {
			errs = append(errs, ValidationError{
				Field:   "display.allowed_uids",
				Message: fmt.Sprintf("invalid uid %d", uid),
			})
		}
	}
	return errs
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	switch {
	case e.Bus == "session", e.Bus == "system":
	case strings.Contains(e.Bus, ":"):
		// D-Bus address, e.g. unix:path=/run/user/1000/bus
	default:
		errs = append(errs, ValidationError{
			Field:   "engine.bus",
			Message: fmt.Sprintf("invalid bus %q (valid: session, system, or a D-Bus address)", e.Bus),
		})
	}
	if e.ProgramName == "" {
		errs = append(errs, RequiredFieldError("engine.program_name"))
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stderr, stdout, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

// RequiredFieldError creates an error for a missing required field.
func RequiredFieldError(field string) ValidationError {
	return ValidationError{
		Field:   field,
		Message: "this field is required",
	}
}

// RangeError creates an error for a value outside its range.
func RangeError(field string, min, max any) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
