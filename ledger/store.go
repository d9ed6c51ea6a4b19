package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AccountDelta is a staged mutation applied atomically by Tx.Apply (§4.1).
type AccountDelta struct {
	Address      Address
	BalanceDelta int64
	PendingDelta int64
	SetNonce     *uint64
}

// Store is the account store interface (C1): durable accounts+transactions
// tables, row-locked reads, atomic updates. The actual relational engine
// is an out-of-scope external collaborator (spec §1); this package ships
// an in-memory implementation that honors the same locking contract.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	CreateAccount(pub [32]byte) (*Account, error)
	QueryAccount(addr Address) (*Account, error)
	QueryTx(txID uuid.UUID) (*Transaction, error)
	QueryTxHistory(addr Address, cursor string, limit int) ([]*Transaction, string, error)

	InsertPending(tx *Transaction) error

	IssuerNonce() uint64

	GetBatch(batchID uuid.UUID) (*Batch, error)
	PutBatch(b *Batch) error
	BatchMembers(batchID uuid.UUID) ([]uuid.UUID, error)

	// ListProcessingOlderThan supports the janitor sweep (§7).
	ListProcessingOlderThan(cutoff time.Time) []*Transaction
}

// Tx is a single store transaction (§4.1). Every operation on it must be
// called between a successful Begin and a terminal Commit/Rollback.
type Tx interface {
	// LockAccounts acquires row locks for the given (already deduplicated)
	// addresses in ascending lexicographic order, and returns their
	// current snapshots. It blocks until all locks are held or ctx is
	// done, in which case it returns a TransientConflict error.
	LockAccounts(ctx context.Context, addrs []Address) ([]*Account, error)

	// Apply validates and stages the given balance/pending/nonce mutations
	// against this Tx's locked snapshots. Every address touched must
	// already be locked by this Tx. Staged mutations are only written back
	// to the store on Commit; Rollback discards them untouched, so a
	// failed or abandoned Tx never leaves a partial mutation behind.
	Apply(deltas []AccountDelta) error

	MarkProcessing(txID uuid.UUID) error
	FinalizeTx(txID uuid.UUID, status TxStatus, errMsg string) error
	Enlist(txID uuid.UUID, batchID uuid.UUID) error

	// LockIssuer acquires the single-row issuer-nonce lock and returns its
	// current value, mirroring LockAccounts' lock-then-read shape so mint
	// replay protection (§4.4) composes with the same commit/rollback
	// lifecycle as a transfer's account locks.
	LockIssuer(ctx context.Context) (uint64, error)

	// SetIssuerNonce commits a new issuer nonce. The caller must already
	// hold the issuer lock via LockIssuer.
	SetIssuerNonce(nonce uint64) error

	Commit() error
	Rollback() error
}

// addrMutex is a channel-based lock supporting context-aware acquisition,
// so LockAccounts can honor a submit deadline (§5) instead of blocking
// forever.
type addrMutex chan struct{}

func newAddrMutex() addrMutex {
	ch := make(addrMutex, 1)
	ch <- struct{}{}
	return ch
}

func (m addrMutex) Lock(ctx context.Context) error {
	select {
	case <-m:
		return nil
	case <-ctx.Done():
		return WrapError(ErrTransientConflict, "lock acquisition timed out", ctx.Err())
	}
}

func (m addrMutex) Unlock() { m <- struct{}{} }

// MemStore is the in-memory reference implementation of Store. Modeled on
// the reference tree's mutex-guarded maps (core/ledger.go's
// TokenBalances/nonces), adapted to take genuine per-address locks in
// sorted order so concurrent submits serialize the way spec §4.1/§5
// require rather than behind one coarse lock.
//
// The issuer-nonce lock is a dedicated field, not an entry in rowLocks:
// AddressFromPublicKey copies raw public-key bytes verbatim (§9 Open
// Question 3), so any 32-byte value — including a fixed sentinel — is a
// value a caller can legitimately mint as a real account address. Keeping
// the issuer lock out of the Address keyspace entirely means a crafted
// account can never alias it and self-deadlock a mint.
type MemStore struct {
	log *logrus.Logger

	mapsMu   sync.RWMutex
	accounts map[Address]*Account
	rowLocks map[Address]addrMutex

	txMu         sync.RWMutex
	transactions map[uuid.UUID]*Transaction

	batchMu      sync.RWMutex
	batches      map[uuid.UUID]*Batch
	batchMembers map[uuid.UUID][]uuid.UUID

	issuerLock    addrMutex
	issuerNonceMu sync.Mutex
	issuerNonce   uint64
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore(log *logrus.Logger) *MemStore {
	if log == nil {
		log = logrus.New()
	}
	return &MemStore{
		log:          log,
		accounts:     make(map[Address]*Account),
		rowLocks:     make(map[Address]addrMutex),
		transactions: make(map[uuid.UUID]*Transaction),
		batches:      make(map[uuid.UUID]*Batch),
		batchMembers: make(map[uuid.UUID][]uuid.UUID),
		issuerLock:   newAddrMutex(),
	}
}

func (s *MemStore) lockFor(addr Address) addrMutex {
	s.mapsMu.RLock()
	l, ok := s.rowLocks[addr]
	s.mapsMu.RUnlock()
	if ok {
		return l
	}
	s.mapsMu.Lock()
	defer s.mapsMu.Unlock()
	if l, ok = s.rowLocks[addr]; ok {
		return l
	}
	l = newAddrMutex()
	s.rowLocks[addr] = l
	return l
}

// CreateAccount initializes a zero-balance account for the given public
// key, deriving its address per spec §9's Open Question (an opaque copy
// of the key bytes; derivation scheme is intentionally unspecified).
func (s *MemStore) CreateAccount(pub [32]byte) (*Account, error) {
	addr, err := AddressFromPublicKey(pub[:])
	if err != nil {
		return nil, WrapError(ErrInternal, "derive address", err)
	}
	s.mapsMu.Lock()
	defer s.mapsMu.Unlock()
	if _, ok := s.accounts[addr]; ok {
		return nil, NewError(ErrInvalidInput, fmt.Sprintf("account %s already exists", addr.Short()))
	}
	acct := &Account{
		Address:   addr,
		PublicKey: pub,
		CreatedAt: time.Now(),
	}
	s.accounts[addr] = acct
	if _, ok := s.rowLocks[addr]; !ok {
		s.rowLocks[addr] = newAddrMutex()
	}
	cpy := *acct
	return &cpy, nil
}

func (s *MemStore) QueryAccount(addr Address) (*Account, error) {
	s.mapsMu.RLock()
	acct, ok := s.accounts[addr]
	s.mapsMu.RUnlock()
	if !ok {
		return nil, NewError(ErrNotFound, fmt.Sprintf("account %s not found", addr.Short()))
	}
	l := s.lockFor(addr)
	// Snapshot under a quick acquire/release to observe a consistent view
	// without holding the row across the call.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}
	cpy := *acct
	l.Unlock()
	return &cpy, nil
}

func (s *MemStore) QueryTx(txID uuid.UUID) (*Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	tx, ok := s.transactions[txID]
	if !ok {
		return nil, NewError(ErrNotFound, fmt.Sprintf("transaction %s not found", txID))
	}
	cpy := *tx
	return &cpy, nil
}

type historyCursor struct {
	createdAtUnixNano int64
	txID              uuid.UUID
}

func encodeCursor(c historyCursor) string {
	raw := fmt.Sprintf("%d:%s", c.createdAtUnixNano, c.txID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (historyCursor, error) {
	var c historyCursor
	if s == "" {
		return c, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, NewError(ErrInvalidInput, "malformed cursor")
	}
	var id string
	if _, err := fmt.Sscanf(string(raw), "%d:%s", &c.createdAtUnixNano, &id); err != nil {
		return c, NewError(ErrInvalidInput, "malformed cursor")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return c, NewError(ErrInvalidInput, "malformed cursor")
	}
	c.txID = parsed
	return c, nil
}

// QueryTxHistory returns transactions touching addr in ascending
// created_at order, paginated by an opaque cursor.
func (s *MemStore) QueryTxHistory(addr Address, cursor string, limit int) ([]*Transaction, string, error) {
	if limit <= 0 {
		limit = 50
	}
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	s.txMu.RLock()
	matches := make([]*Transaction, 0)
	for _, tx := range s.transactions {
		if (tx.FromAddress != nil && *tx.FromAddress == addr) || tx.ToAddress == addr {
			matches = append(matches, tx)
		}
	}
	s.txMu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].TxID.String() < matches[j].TxID.String()
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	out := make([]*Transaction, 0, limit)
	for _, tx := range matches {
		if after.createdAtUnixNano != 0 {
			if tx.CreatedAt.UnixNano() < after.createdAtUnixNano {
				continue
			}
			if tx.CreatedAt.UnixNano() == after.createdAtUnixNano && tx.TxID.String() <= after.txID.String() {
				continue
			}
		}
		cpy := *tx
		out = append(out, &cpy)
		if len(out) >= limit {
			break
		}
	}

	next := ""
	if len(out) == limit && len(out) > 0 {
		last := out[len(out)-1]
		next = encodeCursor(historyCursor{createdAtUnixNano: last.CreatedAt.UnixNano(), txID: last.TxID})
	}
	return out, next, nil
}

func (s *MemStore) InsertPending(tx *Transaction) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if _, exists := s.transactions[tx.TxID]; exists {
		return NewError(ErrInternal, "duplicate tx_id")
	}
	cpy := *tx
	s.transactions[tx.TxID] = &cpy
	return nil
}

func (s *MemStore) IssuerNonce() uint64 {
	s.issuerNonceMu.Lock()
	defer s.issuerNonceMu.Unlock()
	return s.issuerNonce
}

func (s *MemStore) GetBatch(batchID uuid.UUID) (*Batch, error) {
	s.batchMu.RLock()
	defer s.batchMu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, NewError(ErrNotFound, fmt.Sprintf("batch %s not found", batchID))
	}
	cpy := *b
	return &cpy, nil
}

func (s *MemStore) PutBatch(b *Batch) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	cpy := *b
	s.batches[b.BatchID] = &cpy
	return nil
}

func (s *MemStore) BatchMembers(batchID uuid.UUID) ([]uuid.UUID, error) {
	s.batchMu.RLock()
	defer s.batchMu.RUnlock()
	members, ok := s.batchMembers[batchID]
	if !ok {
		return nil, nil
	}
	out := make([]uuid.UUID, len(members))
	copy(out, members)
	return out, nil
}

func (s *MemStore) ListProcessingOlderThan(cutoff time.Time) []*Transaction {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	var out []*Transaction
	for _, tx := range s.transactions {
		if tx.Status == StatusProcessing && tx.UpdatedAt.Before(cutoff) {
			cpy := *tx
			out = append(out, &cpy)
		}
	}
	return out
}

// Begin opens a store transaction. The in-memory implementation does not
// need a connection handle; it tracks locked rows so Commit/Rollback can
// release them.
func (s *MemStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{store: s, ctx: ctx}, nil
}

type memTx struct {
	store   *MemStore
	ctx     context.Context
	locked  []Address
	lockSet map[Address]bool

	// issuerLocked tracks the issuer lock separately from locked/lockSet
	// since it is keyed by nothing (a single dedicated mutex), not by
	// Address.
	issuerLocked bool

	// staged holds this Tx's working copy of every account it has locked,
	// keyed by address, with a nil value meaning "locked, no such account
	// yet". Apply mutates only these copies; Commit writes them back to
	// store.accounts, and Rollback simply drops them, so a store.accounts
	// mutation is only ever visible after a successful Commit.
	staged            map[Address]*Account
	stagedIssuerNonce *uint64

	done bool
	mu   sync.Mutex
}

// LockAccounts locks addrs in sorted order (the total order required by
// §4.1 to avoid deadlock between concurrently-submitted transactions that
// touch overlapping account sets), but returns snapshots in the caller's
// original input order so a transfer's from/to pairing is never disturbed
// by the internal lock ordering.
func (t *memTx) LockAccounts(ctx context.Context, addrs []Address) ([]*Account, error) {
	dedup := make(map[Address]bool, len(addrs))
	order := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		if dedup[a] {
			continue
		}
		dedup[a] = true
		order = append(order, a)
	}
	sorted := make([]Address, len(order))
	copy(sorted, order)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	t.mu.Lock()
	if t.lockSet == nil {
		t.lockSet = make(map[Address]bool)
	}
	if t.staged == nil {
		t.staged = make(map[Address]*Account)
	}
	t.mu.Unlock()

	snapshots := make(map[Address]*Account, len(sorted))
	for _, addr := range sorted {
		l := t.store.lockFor(addr)
		if err := l.Lock(ctx); err != nil {
			t.rollbackLocks()
			return nil, err
		}
		t.mu.Lock()
		t.locked = append(t.locked, addr)
		t.lockSet[addr] = true
		t.mu.Unlock()

		t.store.mapsMu.RLock()
		acct, ok := t.store.accounts[addr]
		t.store.mapsMu.RUnlock()

		t.mu.Lock()
		if ok {
			cpy := *acct
			snapshots[addr] = &cpy
			staged := cpy
			t.staged[addr] = &staged
		} else {
			snapshots[addr] = nil
			t.staged[addr] = nil
		}
		t.mu.Unlock()
	}

	out := make([]*Account, len(order))
	for i, addr := range order {
		out[i] = snapshots[addr]
	}
	return out, nil
}

// LockIssuer acquires the dedicated issuer-nonce mutex, which lives outside
// rowLocks/Address entirely (see MemStore's doc comment) so it can never be
// aliased by a crafted account address.
func (t *memTx) LockIssuer(ctx context.Context) (uint64, error) {
	if err := t.store.issuerLock.Lock(ctx); err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.issuerLocked = true
	t.mu.Unlock()

	t.store.issuerNonceMu.Lock()
	defer t.store.issuerNonceMu.Unlock()
	return t.store.issuerNonce, nil
}

func (t *memTx) SetIssuerNonce(nonce uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.issuerLocked {
		return NewError(ErrInternal, "issuer nonce not locked by this transaction")
	}
	t.stagedIssuerNonce = &nonce
	return nil
}

func (t *memTx) requireLocked(addr Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lockSet[addr] {
		return NewError(ErrInternal, fmt.Sprintf("address %s not locked by this transaction", addr.Short()))
	}
	return nil
}

// Apply validates every delta against a scratch working copy before
// staging any of them, so a delta that fails partway through never leaves
// an earlier delta's mutation behind in t.staged — Apply itself is
// all-or-nothing, on top of Commit/Rollback making the whole Tx
// all-or-nothing against the live store.
func (t *memTx) Apply(deltas []AccountDelta) error {
	for _, d := range deltas {
		if err := t.requireLocked(d.Address); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	working := make(map[Address]*Account, len(deltas))
	for _, d := range deltas {
		acct := working[d.Address]
		if acct == nil {
			base := t.staged[d.Address]
			if base == nil {
				return NewError(ErrInvalidInput, fmt.Sprintf("account %s absent", d.Address.Short()))
			}
			cpy := *base
			acct = &cpy
			working[d.Address] = acct
		}
		newBalance := int64(acct.Balance) + d.BalanceDelta
		if newBalance < 0 {
			return NewError(ErrInsufficientBalance, fmt.Sprintf("account %s balance would go negative", d.Address.Short()))
		}
		newPending := int64(acct.PendingBalance) + d.PendingDelta
		if newPending < 0 {
			newPending = 0
		}
		acct.Balance = uint64(newBalance)
		acct.PendingBalance = uint64(newPending)
		if acct.PendingBalance > acct.Balance {
			acct.PendingBalance = acct.Balance
		}
		if d.SetNonce != nil {
			acct.Nonce = *d.SetNonce
		}
	}

	for addr, acct := range working {
		t.staged[addr] = acct
	}
	return nil
}

func (t *memTx) MarkProcessing(txID uuid.UUID) error {
	t.store.txMu.Lock()
	defer t.store.txMu.Unlock()
	tx, ok := t.store.transactions[txID]
	if !ok {
		return NewError(ErrInternal, "tx not found for MarkProcessing")
	}
	tx.Status = StatusProcessing
	tx.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) FinalizeTx(txID uuid.UUID, status TxStatus, errMsg string) error {
	t.store.txMu.Lock()
	defer t.store.txMu.Unlock()
	tx, ok := t.store.transactions[txID]
	if !ok {
		return NewError(ErrInternal, "tx not found for FinalizeTx")
	}
	tx.Status = status
	tx.Error = errMsg
	tx.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) Enlist(txID uuid.UUID, batchID uuid.UUID) error {
	t.store.txMu.Lock()
	tx, ok := t.store.transactions[txID]
	if !ok {
		t.store.txMu.Unlock()
		return NewError(ErrInternal, "tx not found for Enlist")
	}
	tx.BatchID = &batchID
	t.store.txMu.Unlock()

	t.store.batchMu.Lock()
	t.store.batchMembers[batchID] = append(t.store.batchMembers[batchID], txID)
	t.store.batchMu.Unlock()
	return nil
}

// rollbackLocks releases every lock this Tx holds (the account locks in
// the reverse order they were acquired, then the issuer lock if
// LockIssuer was ever called) and drops any staged data along with them — once a lock is
// released, staged mutations keyed to it are no longer this Tx's to
// commit. Commit reads staged/stagedIssuerNonce out before calling this,
// so the write-back above already happened by the time locks drop here.
func (t *memTx) rollbackLocks() {
	t.mu.Lock()
	locked := t.locked
	t.locked = nil
	t.lockSet = nil
	issuerLocked := t.issuerLocked
	t.issuerLocked = false
	t.staged = nil
	t.stagedIssuerNonce = nil
	t.mu.Unlock()
	for i := len(locked) - 1; i >= 0; i-- {
		t.store.lockFor(locked[i]).Unlock()
	}
	if issuerLocked {
		t.store.issuerLock.Unlock()
	}
}

// Commit writes every staged account and the staged issuer nonce (if any)
// back to the live store, then releases locks. Because every address
// committed here is still held by this Tx's row lock, the write-back and
// the lock release together make the whole sequence of Apply calls since
// Begin appear atomic to any other Tx.
func (t *memTx) Commit() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	staged := t.staged
	stagedIssuerNonce := t.stagedIssuerNonce
	t.staged = nil
	t.stagedIssuerNonce = nil
	t.mu.Unlock()

	if len(staged) > 0 {
		t.store.mapsMu.Lock()
		for addr, acct := range staged {
			if acct == nil {
				continue
			}
			cpy := *acct
			t.store.accounts[addr] = &cpy
		}
		t.store.mapsMu.Unlock()
	}
	if stagedIssuerNonce != nil {
		t.store.issuerNonceMu.Lock()
		t.store.issuerNonce = *stagedIssuerNonce
		t.store.issuerNonceMu.Unlock()
	}

	t.rollbackLocks()
	return nil
}

// Rollback discards every staged account and issuer-nonce mutation without
// ever having touched the live store, then releases locks. Transaction-row
// changes made through this Tx (MarkProcessing, FinalizeTx, Enlist) are
// written to the store immediately and are not undone.
func (t *memTx) Rollback() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.staged = nil
	t.stagedIssuerNonce = nil
	t.mu.Unlock()
	t.rollbackLocks()
	return nil
}
