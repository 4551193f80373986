package config

import "imebridge/internal/logging"

// LoggerConfig maps the [logging] section onto a logging configuration.
// Unset fields keep the logging package defaults.
func (c *LoggingConfig) LoggerConfig() (logging.Config, error) {
	lcfg := *logging.DefaultConfig()
	if c.Level != "" {
		level, err := logging.ParseLevel(c.Level)
		if err != nil {
			return lcfg, err
		}
		lcfg.Level = level
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return lcfg, err
	}
	lcfg.Format = format
	lcfg.AddSource = c.AddSource
	lcfg.Compress = c.Compress
	if c.Output != "" {
		lcfg.Output = c.Output
	}
	lcfg.FilePath = c.FilePath
	if c.MaxSizeMB > 0 {
		lcfg.MaxSize = int64(c.MaxSizeMB)
	}
	if c.MaxBackups > 0 {
		lcfg.MaxBackups = c.MaxBackups
	}
	if c.MaxAgeDays > 0 {
		lcfg.MaxAge = c.MaxAgeDays
	}
	return lcfg, nil
}

// NewLogger builds the logger described by the [logging] section.
func (c *LoggingConfig) NewLogger() (*logging.Logger, error) {
	lcfg, err := c.LoggerConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(&lcfg)
}
