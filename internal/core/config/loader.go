package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. A .env file next to the working directory
// is loaded first so ${VAR} references can point at it.
func Load(path string) (*AppConfig, error) {
	// Missing .env is fine in production.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills every zero value that has a default.
func (c *AppConfig) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Chain.MaxBlockRange == 0 {
		c.Chain.MaxBlockRange = 2000
	}
	if c.Chain.NativeSymbol == "" {
		c.Chain.NativeSymbol = "ETH"
	}
	if c.Chain.NativeName == "" {
		c.Chain.NativeName = "Ether"
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = 5 * time.Second
	}
	if c.Poller.StallAfter == 0 {
		c.Poller.StallAfter = 10 * time.Minute
	}

	if c.Reorg.Interval == 0 {
		c.Reorg.Interval = 30 * time.Second
	}
	if c.Reorg.CheckDepth == 0 {
		c.Reorg.CheckDepth = 64
	}

	if c.Backfill.Window == 0 {
		c.Backfill.Window = 5000
	}

	if c.Claim.LockTTL == 0 {
		c.Claim.LockTTL = 10 * time.Second
	}
	if c.Claim.IdempotencyTTL == 0 {
		c.Claim.IdempotencyTTL = 24 * time.Hour
	}

	c.Notify.Driver = strings.ToLower(c.Notify.Driver)
	if c.Notify.Driver == "" {
		c.Notify.Driver = NotifyLog
	}
	if c.Notify.Channel == "" {
		c.Notify.Channel = "packets"
	}
	if c.Notify.Topic == "" {
		c.Notify.Topic = "packet-events"
	}
	if c.Notify.Buffer == 0 {
		c.Notify.Buffer = 1024
	}
}

// Validate rejects configurations the service can't start with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if c.Chain.Contract == "" {
		errs = append(errs, errors.New("chain.contract is required"))
	} else if !common.IsHexAddress(c.Chain.Contract) {
		errs = append(errs, fmt.Errorf("chain.contract %q is not an address", c.Chain.Contract))
	}

	switch c.Notify.Driver {
	case NotifyLog, NotifyRedis:
	case NotifyKafka:
		if len(c.Notify.Brokers) == 0 {
			errs = append(errs, errors.New("notify.brokers is required for the kafka driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify.driver %q", c.Notify.Driver))
	}
	if c.Notify.Driver == NotifyRedis && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required for the redis notify driver"))
	}

	if c.Reorg.IsEnabled() && c.Reorg.CheckDepth == 0 {
		errs = append(errs, errors.New("reorg.check_depth must be > 0 when the detector is enabled"))
	}
	if c.Poller.StallAfter < 0 {
		errs = append(errs, errors.New("poller.stall_after must not be negative"))
	}
	return errors.Join(errs...)
}
