package config

import (
	"fmt"
	"strings"
)

// Validate checks that all fields are usable and account blocks do not
// collide.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.CacheTTL)
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base url must be http(s), got %q", c.BaseURL)
	}
	if !strings.HasPrefix(c.WsURL, "ws://") && !strings.HasPrefix(c.WsURL, "wss://") {
		return fmt.Errorf("ws url must be ws(s), got %q", c.WsURL)
	}
	if _, _, err := ParseRateLimit(c.RateLimit); err != nil {
		return err
	}

	seen := make(map[int64]string, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("account %d has no name", a.AccountIndex)
		}
		if a.PrivateKey == "" {
			return fmt.Errorf("account %s: private key is required", a.Name)
		}
		if a.APIKeyIndex < 0 {
			return fmt.Errorf("account %s: api key index must be >= 0, got %d", a.Name, a.APIKeyIndex)
		}
		if prev, dup := seen[a.AccountIndex]; dup {
			return fmt.Errorf("duplicate account_index %d (%s and %s)", a.AccountIndex, prev, a.Name)
		}
		seen[a.AccountIndex] = a.Name
	}

	if c.Sink.Enabled() {
		if c.Sink.Host == "" {
			return fmt.Errorf("sink host is required when sink credentials are set")
		}
		if c.Sink.MinConns > c.Sink.MaxConns {
			return fmt.Errorf("sink min_conns (%d) cannot exceed max_conns (%d)", c.Sink.MinConns, c.Sink.MaxConns)
		}
	}

	return nil
}
