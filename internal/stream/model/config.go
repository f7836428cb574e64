package model

import (
	"fmt"
	"time"
)

// ================ Config ================
type StreamConfig struct {
	Enabled            bool          `envconfig:"STREAM_ENABLED" default:"true"`
	ChunkSize          int           `envconfig:"STREAM_CHUNK_SIZE" default:"500"`
	UpdateInterval     time.Duration `envconfig:"STREAM_UPDATE_INTERVAL" default:"1s"`
	MinContentInterval time.Duration `envconfig:"STREAM_MIN_CONTENT_INTERVAL" default:"1s"`
	AssistantName      string        `envconfig:"STREAM_ASSISTANT_NAME" default:"Claude"`
	PricingModel       string        `envconfig:"STREAM_PRICING_MODEL" default:"gemini-2.5-flash"`
}

type SummaryConfig struct {
	TTL        string `envconfig:"SUMMARY_TTL" default:"24h"`
	MaxEntries int    `envconfig:"SUMMARY_MAX_ENTRIES" default:"50"`
}

const (
	DefaultChunkSize          = 500
	DefaultUpdateInterval     = time.Second
	DefaultMinContentInterval = time.Second
	DefaultAssistantName      = "Claude"
)

// DefaultStreamConfig mirrors the envconfig defaults for callers that build
// the config in code.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:            true,
		ChunkSize:          DefaultChunkSize,
		UpdateInterval:     DefaultUpdateInterval,
		MinContentInterval: DefaultMinContentInterval,
		AssistantName:      DefaultAssistantName,
	}
}

// Normalize replaces unset numeric and naming fields with their defaults.
func (c StreamConfig) Normalize() StreamConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.MinContentInterval < 0 {
		c.MinContentInterval = DefaultMinContentInterval
	}
	if c.AssistantName == "" {
		c.AssistantName = DefaultAssistantName
	}
	return c
}

// Validate rejects values that cannot be normalised away.
func (c StreamConfig) Validate() error {
	if c.ChunkSize < 0 {
		return fmt.Errorf("STREAM_CHUNK_SIZE must be >= 0, got %d", c.ChunkSize)
	}
	if c.UpdateInterval < 0 {
		return fmt.Errorf("STREAM_UPDATE_INTERVAL must be >= 0, got %s", c.UpdateInterval)
	}
	return nil
}

// ParseTTL parses the summary retention. An empty value disables expiry.
func (c SummaryConfig) ParseTTL() (time.Duration, error) {
	if c.TTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid SUMMARY_TTL %q: %w", c.TTL, err)
	}
	return ttl, nil
}
