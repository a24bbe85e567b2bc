package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ripkitten-co/grantbook/events"
	"github.com/ripkitten-co/grantbook/internal/codecs"
	"github.com/ripkitten-co/grantbook/recipient"
)

// ChainReader is the subset of *ethclient.Client the ingestor needs.
type ChainReader interface {
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, block common.Hash, index uint) (common.Address, error)
}

// EventLog is where ingested events are appended. *events.Store satisfies it.
type EventLog interface {
	Append(ctx context.Context, evts []events.Event) (int, error)
	LatestBlock(ctx context.Context, streamID string) (uint64, bool, error)
}

// IngestMetrics observes ingestion. A nil IngestMetrics is ignored.
type IngestMetrics interface {
	LogsIngested(registry string, n int)
	IngestFailed(registry string)
}

const (
	defaultBlockRange = 2000
	defaultInterval   = 15 * time.Second
	// keeps one multi-row insert well under the bind parameter limit
	appendChunk = 1000
)

type IngestOption func(*Ingestor)

// WithStartBlock sets the first block read for a registry with no stored
// events, usually the registry's deployment block.
func WithStartBlock(n uint64) IngestOption {
	return func(in *Ingestor) { in.startBlock = n }
}

func WithBlockRange(n uint64) IngestOption {
	return func(in *Ingestor) {
		if n > 0 {
			in.blockRange = n
		}
	}
}

func WithInterval(d time.Duration) IngestOption {
	return func(in *Ingestor) {
		if d > 0 {
			in.interval = d
		}
	}
}

func WithCodec(c codecs.Codec) IngestOption {
	return func(in *Ingestor) { in.codec = c }
}

func WithLogger(l *slog.Logger) IngestOption {
	return func(in *Ingestor) { in.logger = l }
}

func WithMetrics(m IngestMetrics) IngestOption {
	return func(in *Ingestor) { in.metrics = m }
}

// Ingestor tails registry logs into the chain event log, one stream per
// registry. Re-reading a range is harmless since appends are idempotent.
// Sync is not safe for concurrent use.
type Ingestor struct {
	chain      ChainReader
	client     *Client
	log        EventLog
	registries []common.Address
	startBlock uint64
	blockRange uint64
	interval   time.Duration
	codec      codecs.Codec
	logger     *slog.Logger
	metrics    IngestMetrics

	// next block to read per registry; empty until the first sync, after
	// which the stored log is not consulted again
	cursor map[common.Address]uint64
}

func NewIngestor(chain ChainReader, log EventLog, registries []common.Address, opts ...IngestOption) *Ingestor {
	in := &Ingestor{
		chain:      chain,
		client:     NewClient(chain),
		log:        log,
		registries: registries,
		blockRange: defaultBlockRange,
		interval:   defaultInterval,
		codec:      codecs.NewJSONIter(),
		logger:     slog.Default(),
		cursor:     make(map[common.Address]uint64),
	}
	for _, o := range opts {
		o(in)
	}
	in.client.SetLogger(in.logger)
	return in
}

// Run syncs every interval until ctx is cancelled. Sync errors are logged
// and retried on the next tick.
func (in *Ingestor) Run(ctx context.Context) {
	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()

	for {
		if _, err := in.Sync(ctx); err != nil && ctx.Err() == nil {
			in.logger.ErrorContext(ctx, "ingest failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sync reads every registry up to the current head and returns the number
// of newly stored events.
func (in *Ingestor) Sync(ctx context.Context) (int, error) {
	head, err := in.chain.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: head block: %w", err)
	}

	total := 0
	for _, registry := range in.registries {
		n, err := in.syncRegistry(ctx, registry, head)
		total += n
		if err != nil {
			if in.metrics != nil {
				in.metrics.IngestFailed(recipient.FormatAddress(registry))
			}
			return total, err
		}
	}
	return total, nil
}

func (in *Ingestor) syncRegistry(ctx context.Context, registry common.Address, head uint64) (int, error) {
	stream := recipient.FormatAddress(registry)

	from, ok := in.cursor[registry]
	if !ok {
		latest, stored, err := in.log.LatestBlock(ctx, stream)
		if err != nil {
			return 0, err
		}
		// The last stored block may be partial: a range is appended in
		// chunks, so re-read it and let Append skip what is already there.
		from = in.startBlock
		if stored && latest > from {
			from = latest
		}
	}

	total := 0
	for from <= head {
		to := min(from+in.blockRange-1, head)

		logs, err := in.client.Logs(ctx, registry, from, to)
		if err != nil {
			return total, err
		}
		evts, err := in.toEvents(ctx, stream, logs)
		if err != nil {
			return total, err
		}
		for start := 0; start < len(evts); start += appendChunk {
			n, err := in.log.Append(ctx, evts[start:min(start+appendChunk, len(evts))])
			if err != nil {
				return total, fmt.Errorf("chain: append %s blocks %d-%d: %w", stream, from, to, err)
			}
			total += n
		}

		if len(evts) > 0 {
			in.logger.InfoContext(ctx, "registry logs ingested",
				"registry", stream, "from", from, "to", to, "events", len(evts))
			if in.metrics != nil {
				in.metrics.LogsIngested(stream, len(evts))
			}
		}
		from = to + 1
		in.cursor[registry] = from
	}
	return total, nil
}

func (in *Ingestor) toEvents(ctx context.Context, stream string, logs []types.Log) ([]events.Event, error) {
	senders := make(map[common.Hash]common.Address)
	evts := make([]events.Event, 0, len(logs))

	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}
		var (
			typ     string
			payload any
		)
		switch lg.Topics[0] {
		case addedEventID:
			evt, err := DecodeAdded(lg)
			if err != nil {
				in.logger.WarnContext(ctx, "log skipped", "registry", stream, "tx", lg.TxHash.Hex(), "error", err)
				continue
			}
			sender, ok := senders[lg.TxHash]
			if !ok {
				sender, err = in.sender(ctx, lg)
				if err != nil {
					return nil, err
				}
				senders[lg.TxHash] = sender
			}
			evt.Sender = sender
			typ, payload = recipient.EventAdded, evt
		case removedEventID:
			evt, err := DecodeRemoved(lg)
			if err != nil {
				in.logger.WarnContext(ctx, "log skipped", "registry", stream, "tx", lg.TxHash.Hex(), "error", err)
				continue
			}
			typ, payload = recipient.EventRemoved, evt
		default:
			continue
		}

		data, err := in.codec.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("chain: encode %s log %s/%d: %w", typ, lg.TxHash.Hex(), lg.Index, err)
		}
		evts = append(evts, events.Event{
			StreamID:    stream,
			Type:        typ,
			BlockNumber: lg.BlockNumber,
			LogIndex:    lg.Index,
			TxHash:      lg.TxHash.Hex(),
			Data:        data,
		})
	}
	return evts, nil
}

// sender resolves the account that sent the registering transaction.
func (in *Ingestor) sender(ctx context.Context, lg types.Log) (common.Address, error) {
	tx, _, err := in.chain.TransactionByHash(ctx, lg.TxHash)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: transaction %s: %w", lg.TxHash.Hex(), err)
	}
	from, err := in.chain.TransactionSender(ctx, tx, lg.BlockHash, lg.TxIndex)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: sender of %s: %w", lg.TxHash.Hex(), err)
	}
	return from, nil
}
