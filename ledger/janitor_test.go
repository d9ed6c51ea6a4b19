package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TestJanitorSweepReapsStaleProcessing exercises the §7 abandoned-row
// sweep: a Processing transaction older than 2×submitDeadline must be
// reaped Failed/Internal.
func TestJanitorSweepReapsStaleProcessing(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store := NewMemStore(log)
	bus := NewEventBus(log)

	const submitDeadline = 10 * time.Millisecond
	janitor := NewJanitor(store, bus, log, submitDeadline)

	stale := &Transaction{
		TxID:      uuid.New(),
		Kind:      KindMint,
		ToAddress: Address{0x01},
		Amount:    100,
		Nonce:     1,
		Status:    StatusProcessing,
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now().Add(-time.Hour),
	}
	if err := store.InsertPending(stale); err != nil {
		t.Fatalf("insert stale tx: %v", err)
	}

	fresh := &Transaction{
		TxID:      uuid.New(),
		Kind:      KindMint,
		ToAddress: Address{0x02},
		Amount:    100,
		Nonce:     2,
		Status:    StatusProcessing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.InsertPending(fresh); err != nil {
		t.Fatalf("insert fresh tx: %v", err)
	}

	janitor.sweep()

	got, err := store.QueryTx(stale.TxID)
	if err != nil {
		t.Fatalf("query stale tx: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected stale tx reaped to Failed, got %s", got.Status)
	}
	if got.Error != string(ErrInternal) {
		t.Fatalf("expected error kind %s, got %q", ErrInternal, got.Error)
	}

	stillFresh, err := store.QueryTx(fresh.TxID)
	if err != nil {
		t.Fatalf("query fresh tx: %v", err)
	}
	if stillFresh.Status != StatusProcessing {
		t.Fatalf("expected fresh tx left Processing, got %s", stillFresh.Status)
	}
}

// TestJanitorRunStopsCleanly checks the ticker-driven loop sweeps at least
// once and Stop returns promptly afterward.
func TestJanitorRunStopsCleanly(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store := NewMemStore(log)
	bus := NewEventBus(log)

	const submitDeadline = 5 * time.Millisecond
	janitor := NewJanitor(store, bus, log, submitDeadline)

	stale := &Transaction{
		TxID:      uuid.New(),
		Kind:      KindMint,
		ToAddress: Address{0x03},
		Amount:    100,
		Nonce:     1,
		Status:    StatusProcessing,
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now().Add(-time.Hour),
	}
	if err := store.InsertPending(stale); err != nil {
		t.Fatalf("insert stale tx: %v", err)
	}

	go janitor.Run()
	time.Sleep(30 * submitDeadline)
	janitor.Stop()

	got, err := store.QueryTx(stale.TxID)
	if err != nil {
		t.Fatalf("query stale tx: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected janitor loop to reap stale tx, got %s", got.Status)
	}
}
