package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// R_MAX: maximum number of retries on a store-level serialization/lock
// conflict before a submit is surfaced as TransientConflict (§4.4).
const rMax = 5

// backoffSchedule gives the exponential backoff between retries (§4.4):
// 1ms, 2, 4, 8, 16.
var backoffSchedule = []time.Duration{
	1 * time.Millisecond,
	2 * time.Millisecond,
	4 * time.Millisecond,
	8 * time.Millisecond,
	16 * time.Millisecond,
}

// Engine is C4, the execution engine — the heart of the system. It turns
// a flood of concurrent signed requests into atomic, ordered balance
// mutations, coupling the durable store (C1) with the ephemeral event bus
// (C6) and the batcher (C5). No in-process account cache is kept; every
// mutation goes through the store's row locks (spec §9).
type Engine struct {
	store     Store
	gate      SignatureGate
	validator AdmissionValidator
	batcher   *Batcher
	bus       *EventBus
	log       *logrus.Logger

	issuerPublicKey [32]byte
	submitDeadline  time.Duration
}

// NewEngine wires C1–C6 together behind the single Submit entry point.
func NewEngine(store Store, batcher *Batcher, bus *EventBus, log *logrus.Logger, issuerPublicKey [32]byte, submitDeadline time.Duration) *Engine {
	if log == nil {
		log = logrus.New()
	}
	if submitDeadline <= 0 {
		submitDeadline = 5 * time.Second
	}
	return &Engine{
		store:           store,
		gate:            NewSignatureGate(),
		validator:       NewAdmissionValidator(),
		batcher:         batcher,
		bus:             bus,
		log:             log,
		issuerPublicKey: issuerPublicKey,
		submitDeadline:  submitDeadline,
	}
}

// CreateAccount registers a new account for the given Ed25519 public key
// and announces it on the event bus.
func (e *Engine) CreateAccount(pub [32]byte) (*Account, error) {
	acct, err := e.store.CreateAccount(pub)
	if err != nil {
		return nil, err
	}
	if e.bus != nil {
		e.bus.Publish(Event{Type: EventAccountCreated, Address: acct.Address})
	}
	return acct, nil
}

// Submit is the Execution Engine's public contract (§4.4): it converts a
// signed request into an admitted, then executed-or-failed, transaction.
func (e *Engine) Submit(ctx context.Context, req SignedRequest) (uuid.UUID, TxStatus, error) {
	if err := e.validator.Validate(req); err != nil {
		return uuid.Nil, "", err
	}

	txID := uuid.New()
	now := time.Now()
	var fee uint64
	if req.Kind == KindTransfer {
		fee = req.Amount / 10 // the same floor(amount/10) attemptTransfer burns
	}
	pending := &Transaction{
		TxID:      txID,
		Kind:      req.Kind,
		FromAddress: req.From,
		ToAddress: req.To,
		Amount:    req.Amount,
		Fee:       fee,
		Nonce:     req.Nonce,
		Signature: req.Signature,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.InsertPending(pending); err != nil {
		return uuid.Nil, "", err
	}
	if e.bus != nil {
		e.bus.Publish(Event{Type: EventTxPreconfirmed, TxID: txID})
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, e.submitDeadline)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= rMax; attempt++ {
		status, err := e.attempt(deadlineCtx, txID, req)
		if err == nil {
			if e.bus != nil {
				e.bus.Publish(Event{Type: EventTxExecuted, TxID: txID})
			}
			return txID, status, nil
		}
		if KindOf(err) != ErrTransientConflict {
			// Terminal: a rejected request already has its Failed row; an
			// Internal error is not retried either (§7).
			if e.bus != nil {
				e.bus.Publish(Event{Type: EventTxFailed, TxID: txID, ErrorKind: KindOf(err)})
			}
			return txID, StatusFailed, err
		}
		lastErr = err
		if attempt < rMax && attempt < len(backoffSchedule) {
			select {
			case <-time.After(backoffSchedule[attempt]):
			case <-deadlineCtx.Done():
				attempt = rMax
			}
		}
	}

	// Retries exhausted: finalize Failed/TransientConflict (§4.4.4, §7).
	e.finalizeTerminal(txID, ErrTransientConflict, "retries exhausted")
	if e.bus != nil {
		e.bus.Publish(Event{Type: EventTxFailed, TxID: txID, ErrorKind: ErrTransientConflict})
	}
	return txID, StatusFailed, WrapError(ErrTransientConflict, "submit exhausted retries", lastErr)
}

// attempt runs one pass of the locked commit body (§4.4 step 3). A nil
// error means Executed; ErrTransientConflict means the caller should
// retry; any other error is terminal. For a rejected request (invalid
// input, nonce, signature or balance) the attempt has already written a
// terminal Failed row; an Internal error leaves the row as it was, and a
// row left Processing is later reaped by the Janitor.
func (e *Engine) attempt(ctx context.Context, txID uuid.UUID, req SignedRequest) (TxStatus, error) {
	storeTx, err := e.store.Begin(ctx)
	if err != nil {
		return "", WrapError(ErrTransientConflict, "begin failed", err)
	}

	if req.Kind == KindMint {
		return e.attemptMint(ctx, storeTx, txID, req)
	}
	return e.attemptTransfer(ctx, storeTx, txID, req)
}

func (e *Engine) attemptTransfer(ctx context.Context, storeTx Tx, txID uuid.UUID, req SignedRequest) (TxStatus, error) {
	addrs := []Address{*req.From, req.To}
	accounts, err := storeTx.LockAccounts(ctx, addrs)
	if err != nil {
		_ = storeTx.Rollback()
		return "", err // ErrTransientConflict from a timed-out lock wait
	}

	from, to := accounts[0], accounts[1]
	if err := storeTx.MarkProcessing(txID); err != nil {
		_ = storeTx.Rollback()
		return "", WrapError(ErrInternal, "mark processing", err)
	}

	fail := func(kind ErrorKind, msg string) (TxStatus, error) {
		failErr := NewError(kind, msg)
		if ferr := storeTx.FinalizeTx(txID, StatusFailed, string(kind)); ferr != nil {
			_ = storeTx.Rollback()
			return "", WrapError(ErrInternal, "finalize failed tx", ferr)
		}
		if cerr := storeTx.Commit(); cerr != nil {
			return "", WrapError(ErrInternal, "commit failed-tx", cerr)
		}
		return StatusFailed, failErr
	}

	if from == nil {
		return fail(ErrInvalidInput, "from account does not exist")
	}
	if to == nil {
		return fail(ErrInvalidInput, "to account does not exist")
	}
	if req.Nonce != from.Nonce+1 {
		return fail(ErrInvalidNonce, "nonce is not sender's current nonce + 1")
	}

	msg := CanonicalTransferMessage(*req.From, req.To, req.Amount, req.Nonce)
	if !e.gate.Verify(from.PublicKey, msg, req.Signature) {
		return fail(ErrInvalidSignature, "signature does not verify under sender's public key")
	}

	fee := req.Amount / 10 // floor(amount/10); fee is burned, never credited (§4.4f)
	if from.Balance < req.Amount+fee {
		return fail(ErrInsufficientBalance, "balance insufficient for amount plus fee")
	}

	newNonce := from.Nonce + 1
	deltas := []AccountDelta{
		{Address: from.Address, BalanceDelta: -int64(req.Amount + fee), SetNonce: &newNonce},
		{Address: to.Address, BalanceDelta: int64(req.Amount)},
	}
	if err := storeTx.Apply(deltas); err != nil {
		return fail(KindOf(err), err.Error())
	}

	if err := e.finalizeExecuted(storeTx, txID, fee); err != nil {
		_ = storeTx.Rollback()
		return "", err
	}
	if err := storeTx.Commit(); err != nil {
		return "", WrapError(ErrTransientConflict, "commit failed", err)
	}
	return StatusExecuted, nil
}

func (e *Engine) attemptMint(ctx context.Context, storeTx Tx, txID uuid.UUID, req SignedRequest) (TxStatus, error) {
	accounts, err := storeTx.LockAccounts(ctx, []Address{req.To})
	if err != nil {
		_ = storeTx.Rollback()
		return "", err
	}
	to := accounts[0]

	issuerNonce, err := storeTx.LockIssuer(ctx)
	if err != nil {
		_ = storeTx.Rollback()
		return "", err
	}

	if err := storeTx.MarkProcessing(txID); err != nil {
		_ = storeTx.Rollback()
		return "", WrapError(ErrInternal, "mark processing", err)
	}

	fail := func(kind ErrorKind, msg string) (TxStatus, error) {
		failErr := NewError(kind, msg)
		if ferr := storeTx.FinalizeTx(txID, StatusFailed, string(kind)); ferr != nil {
			_ = storeTx.Rollback()
			return "", WrapError(ErrInternal, "finalize failed tx", ferr)
		}
		if cerr := storeTx.Commit(); cerr != nil {
			return "", WrapError(ErrInternal, "commit failed-tx", cerr)
		}
		return StatusFailed, failErr
	}

	if to == nil {
		return fail(ErrInvalidInput, "to account does not exist")
	}
	if req.Nonce != issuerNonce+1 {
		return fail(ErrInvalidNonce, "nonce is not issuer's current nonce + 1")
	}

	msg := CanonicalMintMessage(req.To, req.Amount, req.Nonce)
	if !e.gate.Verify(e.issuerPublicKey, msg, req.Signature) {
		return fail(ErrInvalidSignature, "signature does not verify under issuer public key")
	}

	if err := storeTx.Apply([]AccountDelta{{Address: to.Address, BalanceDelta: int64(req.Amount)}}); err != nil {
		return fail(KindOf(err), err.Error())
	}
	if err := storeTx.SetIssuerNonce(req.Nonce); err != nil {
		_ = storeTx.Rollback()
		return "", WrapError(ErrInternal, "set issuer nonce", err)
	}

	if err := e.finalizeExecuted(storeTx, txID, 0); err != nil {
		_ = storeTx.Rollback()
		return "", err
	}
	if err := storeTx.Commit(); err != nil {
		return "", WrapError(ErrTransientConflict, "commit failed", err)
	}
	return StatusExecuted, nil
}

// finalizeExecuted marks the row Executed and enlists it into the current
// open batch, atomically with the commit that follows (§4.4g-h). The
// row's computed fee was already recorded when Submit inserted it.
func (e *Engine) finalizeExecuted(storeTx Tx, txID uuid.UUID, fee uint64) error {
	if err := storeTx.FinalizeTx(txID, StatusExecuted, ""); err != nil {
		return WrapError(ErrInternal, "finalize executed tx", err)
	}
	batchID, err := e.batcher.Enlist(txID)
	if err != nil {
		return WrapError(ErrInternal, "enlist in batch", err)
	}
	if err := storeTx.Enlist(txID, batchID); err != nil {
		return WrapError(ErrInternal, "record batch enlistment", err)
	}
	_ = fee // fee already reflected in the balance delta; kept for clarity at call sites
	return nil
}

func (e *Engine) finalizeTerminal(txID uuid.UUID, kind ErrorKind, msg string) {
	storeTx, err := e.store.Begin(context.Background())
	if err != nil {
		e.log.WithError(err).Error("engine: finalizeTerminal begin failed")
		return
	}
	if err := storeTx.FinalizeTx(txID, StatusFailed, string(kind)); err != nil {
		e.log.WithError(err).Error("engine: finalizeTerminal finalize failed")
		_ = storeTx.Rollback()
		return
	}
	_ = storeTx.Commit()
}

// MarkBatchProven updates the batch and every member transaction to
// Proven in one logical operation (§4.4's mark_batch_proven contract).
func (e *Engine) MarkBatchProven(batchID uuid.UUID, proof []byte) error {
	batch, err := e.store.GetBatch(batchID)
	if err != nil {
		return err
	}
	members, err := e.store.BatchMembers(batchID)
	if err != nil {
		return err
	}

	batch.Status = BatchProven
	batch.ProofData = proof
	if err := e.store.PutBatch(batch); err != nil {
		return err
	}

	storeTx, err := e.store.Begin(context.Background())
	if err != nil {
		return WrapError(ErrInternal, "mark batch proven begin", err)
	}
	for _, txID := range members {
		if err := storeTx.FinalizeTx(txID, StatusProven, ""); err != nil {
			_ = storeTx.Rollback()
			return WrapError(ErrInternal, "mark member proven", err)
		}
	}
	if err := storeTx.Commit(); err != nil {
		return WrapError(ErrInternal, "mark batch proven commit", err)
	}
	if e.bus != nil {
		e.bus.Publish(Event{Type: EventBatchProven, BatchID: batchID})
	}
	return nil
}

// MarkBatchFailed records a prover-reported rejection against the batch
// and every member transaction (rare path of the Proven transition, §4.4).
func (e *Engine) MarkBatchFailed(batchID uuid.UUID, reason string) error {
	batch, err := e.store.GetBatch(batchID)
	if err != nil {
		return err
	}
	members, err := e.store.BatchMembers(batchID)
	if err != nil {
		return err
	}

	batch.Status = BatchFailed
	if err := e.store.PutBatch(batch); err != nil {
		return err
	}

	storeTx, err := e.store.Begin(context.Background())
	if err != nil {
		return WrapError(ErrInternal, "mark batch failed begin", err)
	}
	for _, txID := range members {
		if err := storeTx.FinalizeTx(txID, StatusFailed, reason); err != nil {
			_ = storeTx.Rollback()
			return WrapError(ErrInternal, "mark member failed", err)
		}
	}
	if err := storeTx.Commit(); err != nil {
		return WrapError(ErrInternal, "mark batch failed commit", err)
	}
	return nil
}

// GetBalance, GetTransaction and GetHistory are thin read-path
// delegations to the store (§4.7); they never touch the write path.
func (e *Engine) GetBalance(addr Address) (*Account, error) { return e.store.QueryAccount(addr) }

func (e *Engine) GetTransaction(txID uuid.UUID) (*Transaction, error) { return e.store.QueryTx(txID) }

func (e *Engine) GetHistory(addr Address, cursor string, limit int) ([]*Transaction, string, error) {
	return e.store.QueryTxHistory(addr, cursor, limit)
}

func (e *Engine) GetBatch(batchID uuid.UUID) (*BatchManifest, error) {
	return e.batcher.Manifest(batchID)
}

// Subscribe attaches a new subscriber to the event bus (§4.7).
func (e *Engine) Subscribe() *Subscription { return e.bus.Subscribe() }
