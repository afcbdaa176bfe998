package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL      = "https://mainnet.zklighter.elliot.ai"
	DefaultWsURL        = "wss://mainnet.zklighter.elliot.ai/stream"
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 5000
	DefaultPollInterval = 500 * time.Millisecond
	DefaultCacheTTL     = 5 * time.Second
	DefaultRateLimit    = "100/minute"
	DefaultMetricsAddr  = ":9095"
	DefaultAPIKeyIndex  = 2
	DefaultSinkPort     = 5432
	DefaultSinkSSLMode  = "prefer"
	DefaultSinkMaxConns = 10
	DefaultSinkMinConns = 2
)

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Duration(c.PollSeconds * float64(time.Second))
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Duration(c.CacheTTLSeconds * float64(time.Second))
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.RateLimit == "" {
		c.RateLimit = DefaultRateLimit
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.WsURL == "" {
		c.WsURL = DefaultWsURL
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}

	if c.Sink.Port == 0 {
		c.Sink.Port = DefaultSinkPort
	}
	if c.Sink.SSLMode == "" {
		c.Sink.SSLMode = DefaultSinkSSLMode
	}
	if c.Sink.MaxConns == 0 {
		c.Sink.MaxConns = DefaultSinkMaxConns
	}
	if c.Sink.MinConns == 0 {
		c.Sink.MinConns = DefaultSinkMinConns
	}

	for i := range c.Accounts {
		if c.Accounts[i].APIKeyIndex == 0 {
			c.Accounts[i].APIKeyIndex = DefaultAPIKeyIndex
		}
	}
}
