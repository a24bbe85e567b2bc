package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ripkitten-co/grantbook/recipient"
	"github.com/ripkitten-co/grantbook/snapshot"
)

var errMalformedLog = errors.New("chain: malformed log")

// Client reads registry logs. It holds no provider of its own; the
// filterer is typically an *ethclient.Client.
type Client struct {
	filterer ethereum.LogFilterer
	logger   *slog.Logger
}

var _ snapshot.LogSource = (*Client)(nil)

func NewClient(f ethereum.LogFilterer) *Client {
	return &Client{filterer: f, logger: slog.Default()}
}

func (c *Client) SetLogger(l *slog.Logger) { c.logger = l }

// RecipientAdded returns every RecipientAdded log of registry from block 0,
// optionally restricted to ids, in block order. Logs that fail to decode
// are skipped.
func (c *Client) RecipientAdded(ctx context.Context, registry common.Address, ids ...common.Hash) ([]recipient.AddedEvent, error) {
	logs, err := c.filter(ctx, registry, 0, nil, [][]common.Hash{{addedEventID}, ids})
	if err != nil {
		return nil, err
	}
	out := make([]recipient.AddedEvent, 0, len(logs))
	for _, lg := range logs {
		evt, err := DecodeAdded(lg)
		if err != nil {
			c.logger.WarnContext(ctx, "log skipped", "tx", lg.TxHash.Hex(), "index", lg.Index, "error", err)
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// RecipientRemoved is RecipientAdded for removal logs.
func (c *Client) RecipientRemoved(ctx context.Context, registry common.Address, ids ...common.Hash) ([]recipient.RemovedEvent, error) {
	logs, err := c.filter(ctx, registry, 0, nil, [][]common.Hash{{removedEventID}, ids})
	if err != nil {
		return nil, err
	}
	out := make([]recipient.RemovedEvent, 0, len(logs))
	for _, lg := range logs {
		evt, err := DecodeRemoved(lg)
		if err != nil {
			c.logger.WarnContext(ctx, "log skipped", "tx", lg.TxHash.Hex(), "index", lg.Index, "error", err)
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// Logs returns both registry event kinds in [from, to], in block order.
func (c *Client) Logs(ctx context.Context, registry common.Address, from, to uint64) ([]types.Log, error) {
	return c.filter(ctx, registry, from, new(big.Int).SetUint64(to), [][]common.Hash{{addedEventID, removedEventID}})
}

func (c *Client) filter(ctx context.Context, registry common.Address, from uint64, to *big.Int, topics [][]common.Hash) ([]types.Log, error) {
	if len(topics) > 1 && len(topics[len(topics)-1]) == 0 {
		topics = topics[:len(topics)-1]
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   to,
		Addresses: []common.Address{registry},
		Topics:    topics,
	}
	logs, err := c.filterer.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs %s: %w", registry.Hex(), err)
	}

	kept := logs[:0]
	for _, lg := range logs {
		// dropped by a reorg
		if lg.Removed {
			continue
		}
		kept = append(kept, lg)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].BlockNumber != kept[j].BlockNumber {
			return kept[i].BlockNumber < kept[j].BlockNumber
		}
		return kept[i].Index < kept[j].Index
	})
	return kept, nil
}

// DecodeAdded unpacks a RecipientAdded log. Sender is left zero; it comes
// from the transaction, not the log.
func DecodeAdded(lg types.Log) (recipient.AddedEvent, error) {
	if len(lg.Topics) != 2 || lg.Topics[0] != addedEventID {
		return recipient.AddedEvent{}, fmt.Errorf("%w: not a RecipientAdded log", errMalformedLog)
	}
	vals, err := registryABI.Unpack("RecipientAdded", lg.Data)
	if err != nil {
		return recipient.AddedEvent{}, fmt.Errorf("%w: %v", errMalformedLog, err)
	}
	if len(vals) != 4 {
		return recipient.AddedEvent{}, fmt.Errorf("%w: got %d fields", errMalformedLog, len(vals))
	}
	payout, ok1 := vals[0].(common.Address)
	metadata, ok2 := vals[1].(string)
	index, ok3 := vals[2].(*big.Int)
	ts, ok4 := vals[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return recipient.AddedEvent{}, fmt.Errorf("%w: unexpected field types", errMalformedLog)
	}
	return recipient.AddedEvent{
		Registry:    lg.Address,
		RecipientID: lg.Topics[1],
		Recipient:   payout,
		Metadata:    metadata,
		Index:       index,
		Timestamp:   ts,
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}, nil
}

// DecodeRemoved unpacks a RecipientRemoved log.
func DecodeRemoved(lg types.Log) (recipient.RemovedEvent, error) {
	if len(lg.Topics) != 2 || lg.Topics[0] != removedEventID {
		return recipient.RemovedEvent{}, fmt.Errorf("%w: not a RecipientRemoved log", errMalformedLog)
	}
	vals, err := registryABI.Unpack("RecipientRemoved", lg.Data)
	if err != nil {
		return recipient.RemovedEvent{}, fmt.Errorf("%w: %v", errMalformedLog, err)
	}
	if len(vals) != 1 {
		return recipient.RemovedEvent{}, fmt.Errorf("%w: got %d fields", errMalformedLog, len(vals))
	}
	ts, ok := vals[0].(*big.Int)
	if !ok {
		return recipient.RemovedEvent{}, fmt.Errorf("%w: unexpected field types", errMalformedLog)
	}
	return recipient.RemovedEvent{
		Registry:    lg.Address,
		RecipientID: lg.Topics[1],
		Timestamp:   ts,
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}, nil
}
