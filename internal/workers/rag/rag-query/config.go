// internal/workers/rag/rag-query/config.go
package ragquery

import (
	"fmt"
	"time"
)

type Config struct {
	Timeout           time.Duration
	DefaultLang       string
	DefaultNumResults int
	// MaxRetries is the engine retry budget for jobs the worker itself
	// failed to finish.
	MaxRetries        int
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:           65 * time.Second,
		DefaultLang:       "en",
		DefaultNumResults: 5,
		MaxRetries:        3,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DefaultNumResults < 0 {
		return fmt.Errorf("default_num_results must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}
