package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DatabaseConfig defines the unified database configuration structure
// This is used by both the API and the engine
type DatabaseConfig struct {
	DSN            string `yaml:"dsn" json:"dsn"`                         // PostgreSQL connection string, or memory:// for the in-process store
	MaxConnections int    `yaml:"max_connections" json:"max_connections"` // Maximum number of connections
	MinConnections int    `yaml:"min_connections" json:"min_connections"` // Minimum number of connections
	MaxIdleTime    string `yaml:"max_idle_time" json:"max_idle_time"`     // Maximum time a connection can be idle
	MaxLifetime    string `yaml:"max_lifetime" json:"max_lifetime"`       // Maximum lifetime of a connection
	AutoMigrate    bool   `yaml:"auto_migrate" json:"auto_migrate"`       // Apply schema migrations on startup
}

// SetDefaults sets sensible default values for the database configuration
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 20
		fmt.Printf("Warning: database.max_connections not set or invalid, defaulting to %d\n", c.MaxConnections)
	}
	if c.MinConnections <= 0 {
		c.MinConnections = 2
		fmt.Printf("Warning: database.min_connections not set or invalid, defaulting to %d\n", c.MinConnections)
	}
	if c.MaxIdleTime == "" {
		c.MaxIdleTime = "1h"
	}
	if c.MaxLifetime == "" {
		c.MaxLifetime = "24h"
	}
}

// Validate validates the database configuration
func (c *DatabaseConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("database max_connections must be positive")
	}
	if c.MinConnections < 0 {
		return fmt.Errorf("database min_connections cannot be negative")
	}
	if c.MinConnections > c.MaxConnections {
		return fmt.Errorf("database min_connections (%d) cannot be greater than max_connections (%d)",
			c.MinConnections, c.MaxConnections)
	}
	for name, value := range map[string]string{"max_idle_time": c.MaxIdleTime, "max_lifetime": c.MaxLifetime} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("database %s '%s' is not a duration: %w", name, value, err)
		}
	}
	return nil
}

// MaxIdleTimeDuration parses MaxIdleTime, falling back to 1h
func (c *DatabaseConfig) MaxIdleTimeDuration() time.Duration {
	return parseDurationOr(c.MaxIdleTime, time.Hour)
}

// MaxLifetimeDuration parses MaxLifetime, falling back to 24h
func (c *DatabaseConfig) MaxLifetimeDuration() time.Duration {
	return parseDurationOr(c.MaxLifetime, 24*time.Hour)
}

// IsMemory reports whether the in-process store is selected
func (c *DatabaseConfig) IsMemory() bool {
	return strings.HasPrefix(c.DSN, "memory://")
}

// LogConfiguration logs the database configuration (excluding sensitive DSN)
func (c *DatabaseConfig) LogConfiguration(logger *logrus.Entry) {
	dsn := "[configured]" // Don't log the actual DSN
	if c.IsMemory() {
		dsn = "memory://"
	}
	logger.WithFields(logrus.Fields{
		"max_connections": c.MaxConnections,
		"min_connections": c.MinConnections,
		"max_idle_time":   c.MaxIdleTime,
		"max_lifetime":    c.MaxLifetime,
		"auto_migrate":    c.AutoMigrate,
		"dsn":             dsn,
	}).Info("Database configuration")
}
