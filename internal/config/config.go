// Package config loads the resolver's YAML configuration, interpolating
// ${VAR} references from the environment (with an optional .env sibling
// file) and validating every section before anything else starts.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hashbridge/fusion-resolver/internal/chain"
)

// Config holds the YAML configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Global   GlobalConfig   `yaml:"global"`
	Chains   []ChainConfig  `yaml:"chains"`
	Resolver ResolverConfig `yaml:"resolver"`
	API      APIConfig      `yaml:"api"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

type GlobalConfig struct {
	DBPath              string `yaml:"db_path"`
	IngestInterval      string `yaml:"ingest_interval"`
	ResolveInterval     string `yaml:"resolve_interval"`
	ConfirmationTimeout string `yaml:"confirmation_timeout"`
}

type ChainConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	RPCURL        string `yaml:"rpc_url"`
	EscrowFactory string `yaml:"escrow_factory"`
	StartBlock    uint64 `yaml:"start_block"`
	ScanWindow    uint64 `yaml:"scan_window"`
	ProcessDelay  uint64 `yaml:"process_delay"`
	SafetyDeposit string `yaml:"safety_deposit"`
	Decimals      int    `yaml:"decimals"`
	GasLimit      uint64 `yaml:"gas_limit"`
	GasPriceGwei  uint64 `yaml:"gas_price_gwei"`
}

type ResolverConfig struct {
	PrivateKey string `yaml:"private_key"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate performs small, direct schema checks. Missing RPC URLs,
// factory addresses, or the signing key are configuration errors an
// operator must fix; nothing here is retried.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.Global.DBPath == "" {
		return errors.New("global.db_path is required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"global.ingest_interval", c.Global.IngestInterval},
		{"global.resolve_interval", c.Global.ResolveInterval},
		{"global.confirmation_timeout", c.Global.ConfirmationTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}

	if len(c.Chains) == 0 {
		return errors.New("at least one chain is required")
	}
	ids := map[string]struct{}{}
	for _, ch := range c.Chains {
		if _, exists := ids[ch.ID]; exists {
			return fmt.Errorf("duplicate chain id: %s", ch.ID)
		}
		ids[ch.ID] = struct{}{}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chain %s: %w", ch.ID, err)
		}
	}

	if c.Resolver.PrivateKey == "" {
		return errors.New("resolver.private_key is required")
	}
	return nil
}

func (ch *ChainConfig) Validate() error {
	if ch.ID == "" {
		return errors.New("id is required")
	}
	if _, err := chain.ParseFamily(ch.Type); err != nil {
		return err
	}
	if ch.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if ch.EscrowFactory == "" {
		return errors.New("escrow_factory is required")
	}
	if ch.ScanWindow == 0 {
		return errors.New("scan_window must be positive")
	}
	if _, ok := new(big.Int).SetString(defaultStr(ch.SafetyDeposit, "0"), 10); !ok {
		return fmt.Errorf("safety_deposit %q is not a decimal amount", ch.SafetyDeposit)
	}
	return nil
}

// IngestInterval returns the parsed ingest cycle interval.
func (c *Config) IngestInterval() time.Duration {
	return durationOr(c.Global.IngestInterval, 5*time.Second)
}

// ResolveInterval returns the parsed resolve cycle interval.
func (c *Config) ResolveInterval() time.Duration {
	return durationOr(c.Global.ResolveInterval, time.Second)
}

// ConfirmationTimeout bounds how long a cycle waits for one transaction
// confirmation before giving up and retrying next cycle.
func (c *Config) ConfirmationTimeout() time.Duration {
	return durationOr(c.Global.ConfirmationTimeout, 90*time.Second)
}

// Descriptors converts the chain sections into registry descriptors.
func (c *Config) Descriptors() ([]chain.Descriptor, error) {
	out := make([]chain.Descriptor, 0, len(c.Chains))
	for _, ch := range c.Chains {
		family, err := chain.ParseFamily(ch.Type)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", ch.ID, err)
		}
		deposit, ok := new(big.Int).SetString(defaultStr(ch.SafetyDeposit, "0"), 10)
		if !ok {
			return nil, fmt.Errorf("chain %s: safety_deposit %q", ch.ID, ch.SafetyDeposit)
		}
		out = append(out, chain.Descriptor{
			ID:            ch.ID,
			Name:          ch.Name,
			Family:        family,
			RPCURL:        ch.RPCURL,
			EscrowFactory: ch.EscrowFactory,
			StartBlock:    ch.StartBlock,
			ScanWindow:    ch.ScanWindow,
			ProcessDelay:  ch.ProcessDelay,
			SafetyDeposit: deposit,
			Decimals:      ch.Decimals,
			GasLimit:      ch.GasLimit,
			GasPriceGwei:  ch.GasPriceGwei,
		})
	}
	return out, nil
}

func durationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
