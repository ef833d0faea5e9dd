package config

import (
	"time"

	redisclient "github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/redis"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage/postgres"
)

// Notification drivers.
const (
	NotifyLog   = "log"
	NotifyRedis = "redis"
	NotifyKafka = "kafka"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Chain    ChainConfig        `yaml:"chain"`
	Poller   PollerConfig       `yaml:"poller"`
	Reorg    ReorgConfig        `yaml:"reorg"`
	Backfill BackfillConfig     `yaml:"backfill"`
	Claim    ClaimConfig        `yaml:"claim"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Notify   NotifyConfig       `yaml:"notify"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChainConfig holds settings for the chain and the packet contract.
type ChainConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	ChainID       uint64 `yaml:"chain_id"` // 0 = don't verify
	Contract      string `yaml:"contract"`
	StartBlock    uint64 `yaml:"start_block"`
	Confirmations uint64 `yaml:"confirmations"`
	MaxBlockRange uint64 `yaml:"max_block_range"`
	NativeSymbol  string `yaml:"native_symbol"`
	NativeName    string `yaml:"native_name"`
}

// PollerConfig holds per-watcher polling settings.
type PollerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	StallAfter   time.Duration `yaml:"stall_after"` // deferral time before a held cursor is reported stalled
}

// ReorgConfig holds reorg detector settings.
type ReorgConfig struct {
	Enabled    *bool         `yaml:"enabled"` // nil = enabled
	Interval   time.Duration `yaml:"interval"`
	CheckDepth uint64        `yaml:"check_depth"`
}

// IsEnabled reports whether the detector runs.
func (c ReorgConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// BackfillConfig holds startup backfill settings.
type BackfillConfig struct {
	OnStart bool   `yaml:"on_start"`
	Window  uint64 `yaml:"window"`
}

// ClaimConfig holds claim critical section settings.
type ClaimConfig struct {
	LockTTL        time.Duration `yaml:"lock_ttl"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// NotifyConfig selects and configures the notification publisher.
type NotifyConfig struct {
	Driver  string   `yaml:"driver"`
	Channel string   `yaml:"channel"` // redis
	Brokers []string `yaml:"brokers"` // kafka
	Topic   string   `yaml:"topic"`   // kafka
	Buffer  int      `yaml:"buffer"`
}
