package grantbookd

import (
	"flag"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GRANTBOOK_DATABASE_URL", "postgres://grantbook@localhost/grantbook")
	t.Setenv("GRANTBOOK_RPC_URL", "http://localhost:8545")
	t.Setenv("GRANTBOOK_REGISTRIES", "0x00000000000000000000000000000000000000aa, 0x00000000000000000000000000000000000000bb")
}

func parse(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("grantbookd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return ParseConfig(fs, args)
}

func TestParseConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := parse(t)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, uint64(2000), cfg.BlockRange)
	require.Equal(t, 15*time.Second, cfg.IngestInterval)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, 100, cfg.BatchSize)
	require.Equal(t, "delete", cfg.RemovalStrategy)
	require.Equal(t, "https://ipfs.io", cfg.IPFSGateway)
	require.Equal(t, 30*time.Second, cfg.SnapshotCacheTTL)
	require.Equal(t, []common.Address{
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		common.HexToAddress("0x00000000000000000000000000000000000000bb"),
	}, cfg.RegistryAddresses())

	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
}

func TestParseConfig_FlagsOverrideEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GRANTBOOK_HTTP_ADDR", ":9000")
	t.Setenv("GRANTBOOK_BATCH_SIZE", "50")

	cfg, err := parse(t,
		"-http-addr", ":7000",
		"-registries", "0x00000000000000000000000000000000000000cc",
		"-removal-strategy", "flag",
		"-log-level", "debug",
	)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.HTTPAddr)
	require.Equal(t, 50, cfg.BatchSize)
	require.Equal(t, []string{"0x00000000000000000000000000000000000000cc"}, cfg.Registries)
	require.Equal(t, "flag", cfg.RemovalStrategy)

	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{name: "missing database", env: map[string]string{"GRANTBOOK_DATABASE_URL": ""}, want: "database url is required"},
		{name: "bad registry", args: []string{"-registries", "0x12"}, want: `registry "0x12" is not an address`},
		{name: "bad strategy", args: []string{"-removal-strategy", "archive"}, want: "unknown removal strategy"},
		{name: "bad level", args: []string{"-log-level", "loud"}, want: "log level"},
		{name: "zero batch", args: []string{"-batch-size", "0"}, want: "batch size must be positive"},
		{name: "zero cache ttl", args: []string{"-redis-url", "redis://localhost:6379", "-snapshot-cache-ttl", "0s"}, want: "snapshot cache ttl must be positive"},
		{name: "negative cache ttl env", env: map[string]string{"GRANTBOOK_REDIS_URL": "redis://localhost:6379", "GRANTBOOK_SNAPSHOT_CACHE_TTL": "-1s"}, want: "snapshot cache ttl must be positive"},
		{name: "bad duration env", env: map[string]string{"GRANTBOOK_POLL_INTERVAL": "soon"}, want: "parse env"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := parse(t, tc.args...)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestParseConfig_RebuildNeedsOnlyDatabase(t *testing.T) {
	t.Setenv("GRANTBOOK_DATABASE_URL", "postgres://grantbook@localhost/grantbook")
	t.Setenv("GRANTBOOK_RPC_URL", "")
	t.Setenv("GRANTBOOK_REGISTRIES", "")

	cfg, err := parse(t, "-rebuild", "recipients")
	require.NoError(t, err)
	require.Equal(t, "recipients", cfg.Rebuild)
}

func TestParseConfig_CacheTTLIgnoredWithoutRedis(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := parse(t, "-snapshot-cache-ttl", "0s")
	require.NoError(t, err)
	require.Zero(t, cfg.SnapshotCacheTTL)
}
