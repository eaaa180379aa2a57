package store

import "time"

// Config holds configuration for the Store.
type Config struct {
	// UniqueTable is the name of the unique constraints table.
	// Default: "docshape_unique_constraints"
	UniqueTable string

	// IndexPollInterval is how often EnsureIndexes checks whether a new
	// global secondary index became ACTIVE.
	// Default: 5s
	IndexPollInterval time.Duration

	// IndexTimeout bounds the wait for a single index to become ACTIVE.
	// Backfilling a large table can take a long time.
	// Default: 30m
	IndexTimeout time.Duration

	// EnableStreams turns on NEW_AND_OLD_IMAGES streams for tables created
	// by EnsureCollection, as required by the stream package.
	EnableStreams bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UniqueTable:       "docshape_unique_constraints",
		IndexPollInterval: 5 * time.Second,
		IndexTimeout:      30 * time.Minute,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.UniqueTable == "" {
		c.UniqueTable = "docshape_unique_constraints"
	}
	if c.IndexPollInterval <= 0 {
		c.IndexPollInterval = 5 * time.Second
	}
	if c.IndexTimeout <= 0 {
		c.IndexTimeout = 30 * time.Minute
	}
}
