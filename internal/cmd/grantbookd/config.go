package grantbookd

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ripkitten-co/grantbook/indexer"
)

// Config holds grantbookd configuration. Environment variables set the
// defaults and flags override them.
type Config struct {
	HTTPAddr         string        `env:"GRANTBOOK_HTTP_ADDR" envDefault:":8080"`
	DatabaseURL      string        `env:"GRANTBOOK_DATABASE_URL"`
	RPCURL           string        `env:"GRANTBOOK_RPC_URL"`
	Registries       []string      `env:"GRANTBOOK_REGISTRIES" envSeparator:","`
	StartBlock       uint64        `env:"GRANTBOOK_START_BLOCK"`
	BlockRange       uint64        `env:"GRANTBOOK_BLOCK_RANGE" envDefault:"2000"`
	IngestInterval   time.Duration `env:"GRANTBOOK_INGEST_INTERVAL" envDefault:"15s"`
	PollInterval     time.Duration `env:"GRANTBOOK_POLL_INTERVAL" envDefault:"1s"`
	BatchSize        int           `env:"GRANTBOOK_BATCH_SIZE" envDefault:"100"`
	RemovalStrategy  string        `env:"GRANTBOOK_REMOVAL_STRATEGY" envDefault:"delete"`
	IPFSGateway      string        `env:"GRANTBOOK_IPFS_GATEWAY" envDefault:"https://ipfs.io"`
	RedisURL         string        `env:"GRANTBOOK_REDIS_URL"`
	SnapshotCacheTTL time.Duration `env:"GRANTBOOK_SNAPSHOT_CACHE_TTL" envDefault:"30s"`
	SignerKey        string        `env:"GRANTBOOK_SIGNER_KEY"`
	LogLevel         string        `env:"GRANTBOOK_LOG_LEVEL" envDefault:"info"`

	// Rebuild names a subscriber to replay from the event log; the process
	// exits when the replay is done.
	Rebuild string
}

// ParseConfig reads the environment, then parses args into fs.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	registries := strings.Join(cfg.Registries, ",")

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "Ethereum JSON-RPC endpoint")
	fs.StringVar(&registries, "registries", registries, "comma-separated registry contract addresses")
	fs.Uint64Var(&cfg.StartBlock, "start-block", cfg.StartBlock, "first block read for a registry with no stored events")
	fs.Uint64Var(&cfg.BlockRange, "block-range", cfg.BlockRange, "blocks per log query")
	fs.DurationVar(&cfg.IngestInterval, "ingest-interval", cfg.IngestInterval, "time between chain syncs")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "projection polling interval")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "events per projection batch")
	fs.StringVar(&cfg.RemovalStrategy, "removal-strategy", cfg.RemovalStrategy, "what a removal does to a stored recipient (delete|flag)")
	fs.StringVar(&cfg.IPFSGateway, "ipfs-gateway", cfg.IPFSGateway, "IPFS gateway for image URLs")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the snapshot cache (empty disables it)")
	fs.DurationVar(&cfg.SnapshotCacheTTL, "snapshot-cache-ttl", cfg.SnapshotCacheTTL, "snapshot cache entry lifetime")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	fs.StringVar(&cfg.Rebuild, "rebuild", "", "replay one subscriber from the event log and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Registries = splitList(registries)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings and value formats.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database url is required"))
	}
	if c.RPCURL == "" && c.Rebuild == "" {
		errs = append(errs, errors.New("rpc url is required"))
	}
	if len(c.Registries) == 0 && c.Rebuild == "" {
		errs = append(errs, errors.New("at least one registry is required"))
	}
	for _, r := range c.Registries {
		if !common.IsHexAddress(r) {
			errs = append(errs, fmt.Errorf("registry %q is not an address", r))
		}
	}
	if c.BlockRange == 0 {
		errs = append(errs, errors.New("block range must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.RedisURL != "" && c.SnapshotCacheTTL <= 0 {
		errs = append(errs, errors.New("snapshot cache ttl must be positive when redis is set"))
	}
	if _, err := indexer.ParseStrategy(c.RemovalStrategy); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RegistryAddresses returns the configured registries as addresses.
func (c Config) RegistryAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Registries))
	for _, r := range c.Registries {
		out = append(out, common.HexToAddress(r))
	}
	return out
}

func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
