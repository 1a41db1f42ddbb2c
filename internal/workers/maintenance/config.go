package maintenance

import (
	"fmt"
	"time"
)

type Config struct {
	KeyPrefix string        `mapstructure:"key_prefix"`
	MaxIdle   time.Duration `mapstructure:"max_idle"`
	BatchSize int64         `mapstructure:"batch_size"`
}

func DefaultConfig() *Config {
	return &Config{
		KeyPrefix: "session",
		MaxIdle:   7 * 24 * time.Hour,
		BatchSize: 500,
	}
}

func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("key_prefix is required")
	}
	if c.MaxIdle <= 0 {
		return fmt.Errorf("max_idle must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	return nil
}
