package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Default sealing thresholds (§4.5, overridable via Config).
const (
	DefaultBatchMax        = 1000
	DefaultBatchPeriodSecs = 60
)

// Batcher is C5: maintains at most one Open batch, sealing it when it
// reaches BatchMax members or BatchPeriod has elapsed since it was
// opened — whichever comes first. Modeled on the reference tree's
// ticker-driven background maintenance (core/ledger.go's snapshot/prune
// cycle): a single mutex-guarded descriptor, swapped out in O(1) when
// sealed.
type Batcher struct {
	store  Store
	bus    *EventBus
	log    *logrus.Logger
	maxTx  int
	period time.Duration

	mu          sync.Mutex
	open        *Batch
	sealedQueue []uuid.UUID
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewBatcher constructs a Batcher bound to store and bus.
func NewBatcher(store Store, bus *EventBus, log *logrus.Logger, maxTx int, period time.Duration) *Batcher {
	if log == nil {
		log = logrus.New()
	}
	if maxTx <= 0 {
		maxTx = DefaultBatchMax
	}
	if period <= 0 {
		period = DefaultBatchPeriodSecs * time.Second
	}
	return &Batcher{
		store:  store,
		bus:    bus,
		log:    log,
		maxTx:  maxTx,
		period: period,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// currentOpenLocked returns the open batch, lazily opening one if none exists.
// Must be called with b.mu held.
func (b *Batcher) currentOpenLocked() (*Batch, error) {
	if b.open != nil {
		return b.open, nil
	}
	batch := &Batch{
		BatchID:   uuid.New(),
		CreatedAt: time.Now(),
		Status:    BatchOpen,
	}
	if err := b.store.PutBatch(batch); err != nil {
		return nil, err
	}
	b.open = batch
	return batch, nil
}

// Enlist counts txID against the current open batch, sealing it first if
// it is already full or past its time budget, then opening a fresh one.
// It updates only the batch's TransactionCount; the caller records the
// membership itself through Tx.Enlist, as Engine.finalizeExecuted does.
// It is called from inside the engine's commit, so enlistment is atomic
// with the Executed transition (§4.5).
func (b *Batcher) Enlist(txID uuid.UUID) (uuid.UUID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch, err := b.currentOpenLocked()
	if err != nil {
		return uuid.Nil, err
	}
	if b.shouldSealLocked(batch) {
		if err := b.sealLocked(batch); err != nil {
			return uuid.Nil, err
		}
		batch, err = b.currentOpenLocked()
		if err != nil {
			return uuid.Nil, err
		}
	}

	batch.TransactionCount++
	if err := b.store.PutBatch(batch); err != nil {
		return uuid.Nil, err
	}
	id := batch.BatchID

	if batch.TransactionCount >= b.maxTx {
		if err := b.sealLocked(batch); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (b *Batcher) shouldSealLocked(batch *Batch) bool {
	if batch.TransactionCount >= b.maxTx {
		return true
	}
	return time.Since(batch.CreatedAt) >= b.period
}

func (b *Batcher) sealLocked(batch *Batch) error {
	batch.Status = BatchSealed
	batch.SealedAt = time.Now()
	if err := b.store.PutBatch(batch); err != nil {
		return err
	}
	b.log.WithFields(logrus.Fields{"batch_id": batch.BatchID, "count": batch.TransactionCount}).
		Info("batch sealed")
	if b.bus != nil {
		b.bus.Publish(Event{Type: EventBatchSealed, BatchID: batch.BatchID})
	}
	if b.open != nil && b.open.BatchID == batch.BatchID {
		b.open = nil
	}
	b.sealedQueue = append(b.sealedQueue, batch.BatchID)
	return nil
}

// RunSealTicker drives time-based sealing (policy b of §4.5) on a period
// of min(T_BATCH/4, 5s), independent of the inline size-based seal done
// by Enlist.
func (b *Batcher) RunSealTicker() {
	tick := b.period / 4
	if tick > 5*time.Second {
		tick = 5 * time.Second
	}
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	defer close(b.doneCh)
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			if b.open != nil && time.Since(b.open.CreatedAt) >= b.period {
				if err := b.sealLocked(b.open); err != nil {
					b.log.WithError(err).Error("batcher: periodic seal failed")
				}
			}
			b.mu.Unlock()
		case <-b.stopCh:
			return
		}
	}
}

// Stop halts the background ticker and waits for it to exit.
func (b *Batcher) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

// NextSealedBatch is the external prover's pull interface (§4.5): it pops
// the oldest Sealed batch not yet claimed by a prior call, or (nil, false)
// if none is ready. Claiming is a FIFO dequeue of the order batches were
// sealed in, analogous to SKIP LOCKED semantics without needing a second
// prover to contend for the same batch.
func (b *Batcher) NextSealedBatch() (*BatchManifest, bool, error) {
	b.mu.Lock()
	if len(b.sealedQueue) == 0 {
		b.mu.Unlock()
		return nil, false, nil
	}
	batchID := b.sealedQueue[0]
	b.sealedQueue = b.sealedQueue[1:]
	b.mu.Unlock()

	manifest, err := b.Manifest(batchID)
	if err != nil {
		return nil, false, err
	}
	return manifest, true, nil
}

// Manifest builds a BatchManifest for batchID from the store.
func (b *Batcher) Manifest(batchID uuid.UUID) (*BatchManifest, error) {
	batch, err := b.store.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	members, err := b.store.BatchMembers(batchID)
	if err != nil {
		return nil, err
	}
	return &BatchManifest{
		BatchID:   batch.BatchID,
		TxIDs:     members,
		Status:    batch.Status,
		CreatedAt: batch.CreatedAt,
		SealedAt:  batch.SealedAt,
	}, nil
}
