// Package grantbookd wires the grantbook daemon: chain ingestion, the
// projection daemon and the HTTP API.
package grantbookd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/chain"
	"github.com/ripkitten-co/grantbook/events"
	"github.com/ripkitten-co/grantbook/indexer"
	"github.com/ripkitten-co/grantbook/internal/api"
	"github.com/ripkitten-co/grantbook/internal/cache"
	"github.com/ripkitten-co/grantbook/internal/codecs"
	"github.com/ripkitten-co/grantbook/internal/metrics"
	"github.com/ripkitten-co/grantbook/projections"
	"github.com/ripkitten-co/grantbook/snapshot"
)

const shutdownTimeout = 10 * time.Second

// NewLogger builds the JSON process logger.
func NewLogger(cfg Config) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Run starts grantbookd and blocks until ctx is cancelled or a component
// fails. With cfg.Rebuild set it replays that subscriber and returns.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	// One codec for event payloads, projection state and documents.
	store, err := grantbook.New(ctx, cfg.DatabaseURL, grantbook.WithCodec(codecs.NewJSONIter()))
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	daemon, err := newDaemon(store, cfg, logger, m)
	if err != nil {
		return err
	}
	if cfg.Rebuild != "" {
		return daemon.Rebuild(ctx, cfg.Rebuild)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer eth.Close()

	eventLog := events.New(store)
	client := chain.NewClient(eth)
	client.SetLogger(logger)

	snapOpts := []snapshot.Option{
		snapshot.WithGateway(cfg.IPFSGateway),
		snapshot.WithLogger(logger),
		snapshot.WithMetrics(m),
	}
	apiOpts := []api.Option{
		api.WithCheckpoints(projections.NewCheckpointStore(store)),
		api.WithEventLog(eventLog),
		api.WithHealthCheck("postgres", store),
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		c := cache.NewRedis(rc, cfg.SnapshotCacheTTL)
		snapOpts = append(snapOpts, snapshot.WithCache(c))
		apiOpts = append(apiOpts, api.WithHealthCheck("redis", c))
	}

	if cfg.SignerKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
		if err != nil {
			return fmt.Errorf("signer key: %w", err)
		}
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("chain id: %w", err)
		}
		signer := chain.NewSigner(eth, key, chainID)
		apiOpts = append(apiOpts, api.WithSubmitter(signer))
		logger.InfoContext(ctx, "registration enabled", "from", signer.From().Hex(), "chain_id", chainID.String())
	}

	ingestor := chain.NewIngestor(eth, eventLog, cfg.RegistryAddresses(),
		chain.WithStartBlock(cfg.StartBlock),
		chain.WithBlockRange(cfg.BlockRange),
		chain.WithInterval(cfg.IngestInterval),
		chain.WithCodec(store.JSONCodec()),
		chain.WithLogger(logger),
		chain.WithMetrics(m),
	)

	h := api.New(snapshot.New(client, snapOpts...), indexer.NewReadModel(store), logger, apiOpts...)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ingestor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		daemon.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.InfoContext(gctx, "http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.InfoContext(ctx, "grantbookd stopped")
	return err
}

func newDaemon(store *grantbook.Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*projections.Daemon, error) {
	strategy, err := indexer.ParseStrategy(cfg.RemovalStrategy)
	if err != nil {
		return nil, err
	}
	rec := indexer.New(nil,
		indexer.WithStrategy(strategy),
		indexer.WithLogger(logger),
		indexer.WithMetrics(m),
	)

	daemon := projections.NewDaemon(store,
		projections.WithPollingInterval(cfg.PollInterval),
		projections.WithBatchSize(cfg.BatchSize),
		projections.WithLogger(logger),
		projections.WithMetrics(m),
	)
	daemon.Add(indexer.Subscriber(rec, store.JSONCodec()))
	daemon.Add(indexer.RegistryProjection(store))
	return daemon, nil
}
