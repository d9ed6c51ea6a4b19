package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBatcher_SealBySize(t *testing.T) {
	store := NewMemStore(nil)
	bus := NewEventBus(nil)
	b := NewBatcher(store, bus, nil, 3, time.Hour)

	var sealed []uuid.UUID
	var lastOpen uuid.UUID
	for i := 0; i < 7; i++ {
		txID := uuid.New()
		if err := store.InsertPending(&Transaction{TxID: txID, Status: StatusExecuted}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		id, err := b.Enlist(txID)
		if err != nil {
			t.Fatalf("enlist %d: %v", i, err)
		}
		// Batcher.Enlist only counts; membership is recorded through the
		// store Tx, as Engine.finalizeExecuted does.
		storeTx, _ := store.Begin(context.Background())
		if err := storeTx.Enlist(txID, id); err != nil {
			t.Fatalf("record membership %d: %v", i, err)
		}
		_ = storeTx.Commit()
		if id != lastOpen {
			if lastOpen != uuid.Nil {
				sealed = append(sealed, lastOpen)
			}
			lastOpen = id
		}
	}

	sizes := map[uuid.UUID]int{}
	for {
		manifest, ok, err := b.NextSealedBatch()
		if err != nil {
			t.Fatalf("next sealed batch: %v", err)
		}
		if !ok {
			break
		}
		sizes[manifest.BatchID] = len(manifest.TxIDs)
	}

	if len(sizes) != 2 {
		t.Fatalf("expected 2 sealed batches of size 3, got %d", len(sizes))
	}
	for id, n := range sizes {
		if n != 3 {
			t.Fatalf("batch %s: expected 3 members, got %d", id, n)
		}
	}

	open, err := b.currentOpenLocked()
	if err != nil {
		t.Fatalf("current open: %v", err)
	}
	if open.TransactionCount != 1 {
		t.Fatalf("expected 1 member left open, got %d", open.TransactionCount)
	}
}

func TestBatcher_SealByTime(t *testing.T) {
	store := NewMemStore(nil)
	bus := NewEventBus(nil)
	b := NewBatcher(store, bus, nil, 1000, 10*time.Millisecond)

	id, err := b.Enlist(uuid.New())
	if err != nil {
		t.Fatalf("enlist: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	b.mu.Lock()
	shouldSeal := b.open != nil && b.shouldSealLocked(b.open)
	b.mu.Unlock()
	if !shouldSeal {
		t.Fatalf("expected batch to be eligible for time-based seal")
	}

	manifest, err := b.Manifest(id)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if manifest.Status != BatchOpen {
		t.Fatalf("expected still Open prior to the ticker firing, got %s", manifest.Status)
	}
}
