//go:build integration

package projections_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ripkitten-co/grantbook/documents"
	"github.com/ripkitten-co/grantbook/events"
	"github.com/ripkitten-co/grantbook/projections"
)

type Tally struct {
	Registry string `grantbook:"id" json:"registry"`
	Added    int    `json:"added"`
	Removed  int    `json:"removed"`
}

func newTally(name string, onAdded func()) *projections.Projection[Tally] {
	p := projections.New[Tally](nil, name)
	p.On("RecipientAdded", func(_ context.Context, evt events.Event, state *Tally) (*Tally, error) {
		if onAdded != nil {
			onAdded()
		}
		if state == nil {
			state = &Tally{Registry: evt.StreamID}
		}
		state.Added++
		return state, nil
	})
	p.On("RecipientRemoved", func(_ context.Context, _ events.Event, state *Tally) (*Tally, error) {
		if state == nil {
			return nil, nil
		}
		state.Removed++
		return state, nil
	})
	return p
}

func TestWorker_ProcessesBatch(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	appendLogs(t, store, registry, "RecipientAdded", "RecipientAdded", "RecipientRemoved")

	w := projections.NewWorker(store, newTally("tallies", nil))
	n, err := w.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if n != 3 {
		t.Errorf("polled: got %d, want 3", n)
	}

	got, err := documents.Collection[Tally](store, "tallies").Load(ctx, registry)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Added != 2 || got.Removed != 1 {
		t.Errorf("got %+v, want added=2 removed=1", got)
	}

	pos, _, err := projections.NewCheckpointStore(store).Load(ctx, "tallies")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if pos <= 0 {
		t.Errorf("checkpoint position: got %d, want > 0", pos)
	}

	n, err = w.ProcessBatch(ctx)
	if err != nil || n != 0 {
		t.Errorf("drained log: got (%d, %v), want (0, nil)", n, err)
	}
}

func TestWorker_SkipsDeadLetterStatus(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	appendLogs(t, store, registry, "RecipientAdded")

	calls := 0
	proj := newTally("dead_tallies", func() { calls++ })

	cs := projections.NewCheckpointStore(store)
	if err := cs.SetStatus(ctx, "dead_tallies", projections.StatusDeadLetter); err != nil {
		t.Fatalf("set status: %v", err)
	}

	if _, err := projections.NewWorker(store, proj).ProcessBatch(ctx); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if calls != 0 {
		t.Errorf("processed %d events, want 0 (dead_letter should skip)", calls)
	}
}

func TestWorker_FiltersByEventTypeAndAdvances(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	appendLogs(t, store, registry, "RecipientAdded", "OwnershipTransferred", "RecipientAdded")

	calls := 0
	w := projections.NewWorker(store, newTally("filtered", func() { calls++ }))
	if _, err := w.ProcessBatch(ctx); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if calls != 2 {
		t.Fatalf("processed %d events, want 2", calls)
	}

	pos, _, _ := projections.NewCheckpointStore(store).Load(ctx, "filtered")
	all, err := events.New(store).ReadAll(ctx, 0, 100)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if last := all[len(all)-1].GlobalPosition; pos != last {
		t.Errorf("checkpoint position: got %d, want %d", pos, last)
	}
}

func TestWorker_FailureRollsBackAndDeadLetters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	appendLogs(t, store, registry, "RecipientAdded", "RecipientRemoved")

	boom := errors.New("boom")
	h := projections.NewHandler("failing")
	h.On("RecipientAdded", func(ctx context.Context, evt events.Event, ps projections.ProcessingStore) error {
		return ps.UpsertState(ctx, "failing", evt.TxHash, []byte(`{}`), 0)
	})
	h.On("RecipientRemoved", func(context.Context, events.Event, projections.ProcessingStore) error {
		return boom
	})

	w := projections.NewWorker(store, h)
	w.SetMaxRetries(2)

	for i := range 2 {
		if _, err := w.ProcessBatch(ctx); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: got %v, want boom", i, err)
		}
	}

	cs := projections.NewCheckpointStore(store)
	pos, status, err := cs.Load(ctx, "failing")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if status != projections.StatusDeadLetter {
		t.Errorf("status: got %q, want dead_letter", status)
	}
	if pos != 0 {
		t.Errorf("position: got %d, want 0 (failed batch must not advance)", pos)
	}

	data, _, err := projections.NewProcessingStore(store).LoadState(ctx, "failing", registry+"-0-RecipientAdded")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if data != nil {
		t.Error("state written by a failed batch must be rolled back")
	}
}

func TestWorker_AdvisoryLockIsExclusive(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	a := projections.NewWorker(store, newTally("locked", nil))
	b := projections.NewWorker(store, newTally("locked", nil))

	ok, err := a.TryAcquireLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.TryAcquireLock(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second worker must not get the lock")
	}

	if err := a.ReleaseLock(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = b.TryAcquireLock(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	b.ReleaseLock(ctx)
}
