package ledger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Janitor implements the §7 propagation policy for store unavailability:
// a Processing row abandoned by a crashed or timed-out submit is never
// left dangling. It periodically scans for Processing transactions older
// than 2×SubmitDeadline and finalizes them Failed/Internal. Modeled on the
// reference tree's ticker-driven prune() cycle in core/ledger.go.
type Janitor struct {
	store          Store
	bus            *EventBus
	log            *logrus.Logger
	submitDeadline time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewJanitor constructs a Janitor bound to store and bus.
func NewJanitor(store Store, bus *EventBus, log *logrus.Logger, submitDeadline time.Duration) *Janitor {
	if log == nil {
		log = logrus.New()
	}
	return &Janitor{
		store:          store,
		bus:            bus,
		log:            log,
		submitDeadline: submitDeadline,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Run sweeps on the submit deadline's own cadence until Stop is called.
func (j *Janitor) Run() {
	defer close(j.doneCh)
	ticker := time.NewTicker(j.submitDeadline)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopCh:
			return
		}
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *Janitor) sweep() {
	cutoff := time.Now().Add(-2 * j.submitDeadline)
	stale := j.store.ListProcessingOlderThan(cutoff)
	for _, tx := range stale {
		j.finalizeStale(tx)
	}
}

func (j *Janitor) finalizeStale(tx *Transaction) {
	storeTx, err := j.store.Begin(context.Background())
	if err != nil {
		j.log.WithError(err).Error("janitor: begin failed")
		return
	}
	if err := storeTx.FinalizeTx(tx.TxID, StatusFailed, string(ErrInternal)); err != nil {
		j.log.WithError(err).WithField("tx_id", tx.TxID).Error("janitor: finalize failed")
		_ = storeTx.Rollback()
		return
	}
	if err := storeTx.Commit(); err != nil {
		j.log.WithError(err).Error("janitor: commit failed")
		return
	}
	j.log.WithField("tx_id", tx.TxID).Warn("janitor: reaped stale Processing row")
	if j.bus != nil {
		j.bus.Publish(Event{Type: EventTxFailed, TxID: tx.TxID, ErrorKind: ErrInternal})
	}
}
