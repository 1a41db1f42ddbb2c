package reporting

import (
	"fmt"
	"time"
)

type Config struct {
	KeyPrefix string        `mapstructure:"key_prefix"`
	Retention time.Duration `mapstructure:"retention"`
	KeepLast  int64         `mapstructure:"keep_last"`
}

func DefaultConfig() *Config {
	return &Config{
		KeyPrefix: "reports",
		Retention: 30 * 24 * time.Hour,
		KeepLast:  100,
	}
}

func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("key_prefix is required")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	if c.KeepLast <= 0 {
		return fmt.Errorf("keep_last must be positive")
	}
	return nil
}
