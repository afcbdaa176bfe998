// Package config loads the aggregator configuration from the
// environment, with an optional YAML file for account blocks.
//
// Global settings come from flat environment variables. Accounts are
// discovered by scanning for Lighter_<n>_Account_Index and collecting
// the sibling variables of the same prefix.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Account is one upstream trading account, immutable after load.
type Account struct {
	Name         string `yaml:"name"`
	AccountIndex int64  `yaml:"account_index"`
	APIKeyIndex  int    `yaml:"api_key_index"`
	PrivateKey   string `yaml:"private_key"`
	PublicKey    string `yaml:"public_key"`
	ProxyURL     string `yaml:"proxy_url"`
}

// Sink holds the durable-sink connection settings. The sink is opt-in:
// it stays disabled unless both User and Password are set.
type Sink struct {
	Host     string `env:"SINK_DB_HOST" envDefault:"localhost"`
	Port     int    `env:"SINK_DB_PORT" envDefault:"5432"`
	Name     string `env:"SINK_DB_NAME" envDefault:"lighter"`
	User     string `env:"SINK_DB_USER"`
	Password string `env:"SINK_DB_PASSWORD"`
	SSLMode  string `env:"SINK_DB_SSLMODE" envDefault:"prefer"`
	MaxConns int    `env:"SINK_DB_MAX_CONNS" envDefault:"10"`
	MinConns int    `env:"SINK_DB_MIN_CONNS" envDefault:"2"`
}

// Enabled reports whether the credential pair is present.
func (s Sink) Enabled() bool {
	return s.User != "" && s.Password != ""
}

// Config is the full aggregator configuration. The poll interval and
// cache TTL arrive as float seconds on the wire (POLL_INTERVAL=0.5);
// PollInterval and CacheTTL carry the derived durations.
type Config struct {
	Host            string  `env:"HOST" envDefault:"0.0.0.0"`
	Port            int     `env:"PORT" envDefault:"5000"`
	PollSeconds     float64 `env:"POLL_INTERVAL" envDefault:"0.5"`
	CacheTTLSeconds float64 `env:"CACHE_TTL" envDefault:"5"`
	RateLimit       string  `env:"RATE_LIMIT" envDefault:"100/minute"`
	BaseURL         string  `env:"LIGHTER_BASE_URL" envDefault:"https://mainnet.zklighter.elliot.ai"`
	WsURL           string  `env:"LIGHTER_WS_URL" envDefault:"wss://mainnet.zklighter.elliot.ai/stream"`
	LogLevel        string  `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr     string  `env:"METRICS_ADDR" envDefault:":9095"`
	AccountsFile    string  `env:"ACCOUNTS_FILE"`

	PollInterval time.Duration `env:"-"`
	CacheTTL     time.Duration `env:"-"`

	Sink Sink

	Accounts []Account
}

// Load reads .env (best-effort), parses global settings, scans the
// environment for account blocks, appends accounts from AccountsFile
// when set, applies defaults, and validates.
func Load() (*Config, error) {
	// Missing .env is the normal case in deployment.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	accounts, warnings := ScanAccounts(os.Environ())
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "config: %s\n", w)
	}
	cfg.Accounts = accounts

	if cfg.AccountsFile != "" {
		fileAccounts, err := loadAccountsFile(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
		cfg.Accounts = append(cfg.Accounts, fileAccounts...)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ScanAccounts discovers account blocks in environ entries of the form
// KEY=VALUE. An account exists when Lighter_<n>_Account_Index is
// present; blocks missing the private key are skipped with a warning.
func ScanAccounts(environ []string) (accounts []Account, warnings []string) {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			vars[k] = v
		}
	}

	var prefixes []string
	for k := range vars {
		if strings.HasPrefix(k, "Lighter_") && strings.HasSuffix(k, "_Account_Index") {
			prefixes = append(prefixes, strings.TrimSuffix(k, "_Account_Index"))
		}
	}
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		rawIndex := vars[prefix+"_Account_Index"]
		accountIndex, err := strconv.ParseInt(rawIndex, 10, 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipping account %s: invalid account index %q", prefix, rawIndex))
			continue
		}

		privateKey := vars[prefix+"_PRIVATE"]
		if privateKey == "" {
			warnings = append(warnings, fmt.Sprintf("skipping account %s: missing private key", prefix))
			continue
		}

		apiKeyIndex := DefaultAPIKeyIndex
		if raw := vars[prefix+"_API_KEY_Index"]; raw != "" {
			idx, err := strconv.Atoi(raw)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("skipping account %s: invalid api key index %q", prefix, raw))
				continue
			}
			apiKeyIndex = idx
		}

		accounts = append(accounts, Account{
			Name:         prefix,
			AccountIndex: accountIndex,
			APIKeyIndex:  apiKeyIndex,
			PrivateKey:   privateKey,
			PublicKey:    vars[prefix+"_PUBLIC"],
			ProxyURL:     CanonicalProxyURL(vars[prefix+"_PROXY_URL"]),
		})
	}
	return accounts, warnings
}

// CanonicalProxyURL normalizes operator-supplied proxy strings:
// ip:port:user:pass becomes http://user:pass@ip:port, bare ip:port gets
// an http scheme, and strings already carrying a scheme pass through.
func CanonicalProxyURL(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 4:
		return fmt.Sprintf("http://%s:%s@%s:%s", parts[2], parts[3], parts[0], parts[1])
	case 2:
		return "http://" + raw
	}
	return raw
}

// loadAccountsFile reads a YAML account list, expanding ${VAR}
// references first so key material can stay in the environment.
func loadAccountsFile(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var doc struct {
		Accounts []Account `yaml:"accounts"`
	}
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("parse accounts yaml: %w", err)
	}

	for i := range doc.Accounts {
		doc.Accounts[i].ProxyURL = CanonicalProxyURL(doc.Accounts[i].ProxyURL)
	}
	return doc.Accounts, nil
}
