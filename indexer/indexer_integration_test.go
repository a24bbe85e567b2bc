//go:build integration

package indexer_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/events"
	"github.com/ripkitten-co/grantbook/indexer"
	"github.com/ripkitten-co/grantbook/internal/testutil"
	"github.com/ripkitten-co/grantbook/projections"
	"github.com/ripkitten-co/grantbook/recipient"
)

var registry = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func setupStore(t *testing.T) *grantbook.Store {
	t.Helper()
	store, err := grantbook.New(context.Background(), testutil.SetupPostgres(t))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func appendChain(t *testing.T, store *grantbook.Store, block uint64, typ string, payload any) {
	t.Helper()
	data, err := store.JSONCodec().Marshal(payload)
	require.NoError(t, err)
	_, err = events.New(store).Append(context.Background(), []events.Event{{
		StreamID:    recipient.FormatAddress(registry),
		Type:        typ,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)).Hex(),
		Data:        data,
	}})
	require.NoError(t, err)
}

func addedEvt(n int64) recipient.AddedEvent {
	return recipient.AddedEvent{
		Registry:    registry,
		RecipientID: common.BigToHash(big.NewInt(n)),
		Recipient:   common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"),
		Metadata:    `{"name":"Grant"}`,
		Index:       big.NewInt(n),
		Timestamp:   big.NewInt(1_700_000_000 + n),
		Sender:      common.HexToAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"),
	}
}

func TestDocumentSink_Reconciles(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	rec := indexer.New(indexer.NewDocumentSink(store), indexer.WithStrategy(indexer.FlagOnRemove))

	require.NoError(t, rec.HandleAdded(ctx, addedEvt(1)))
	require.NoError(t, rec.HandleAdded(ctx, addedEvt(1)))
	require.NoError(t, rec.HandleRemoved(ctx, recipient.RemovedEvent{
		Registry:    registry,
		RecipientID: common.BigToHash(big.NewInt(1)),
		Timestamp:   big.NewInt(1_800_000_000),
	}))

	got, err := indexer.NewReadModel(store).Recipients(ctx, recipient.FormatAddress(registry))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].Removed)
	require.Equal(t, uint64(1_800_000_000), got[0].RemovedAt)
}

func TestDaemon_IndexesChainEvents(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		appendChain(t, store, uint64(i), recipient.EventAdded, addedEvt(i))
	}
	appendChain(t, store, 4, recipient.EventRemoved, recipient.RemovedEvent{
		Registry:    registry,
		RecipientID: common.BigToHash(big.NewInt(2)),
		Timestamp:   big.NewInt(1_800_000_000),
	})

	daemon := projections.NewDaemon(store, projections.WithPollingInterval(100*time.Millisecond))
	daemon.Add(indexer.Subscriber(indexer.New(nil), store.JSONCodec()))
	daemon.Add(indexer.RegistryProjection(store))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go daemon.Run(runCtx)

	rm := indexer.NewReadModel(store)
	require.Eventually(t, func() bool {
		s, err := rm.Summary(ctx, recipient.FormatAddress(registry))
		return err == nil && s.Added == 3 && s.Removed == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := rm.Recipients(ctx, recipient.FormatAddress(registry))
		return err == nil && len(got) == 2
	}, 5*time.Second, 50*time.Millisecond)

	got, err := rm.Recipients(ctx, recipient.FormatAddress(registry))
	require.NoError(t, err)
	require.Equal(t, uint64(1), got[0].Index)
	require.Equal(t, uint64(3), got[1].Index)
}
