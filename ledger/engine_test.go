package ledger

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type testHarness struct {
	engine    *Engine
	issuerPub ed25519.PublicKey
	issuerKey ed25519.PrivateKey
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	issuerPub, issuerKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("issuer keygen: %v", err)
	}
	var issuerPubArr [32]byte
	copy(issuerPubArr[:], issuerPub)

	store := NewMemStore(log)
	bus := NewEventBus(log)
	batcher := NewBatcher(store, bus, log, DefaultBatchMax, time.Hour)
	engine := NewEngine(store, batcher, bus, log, issuerPubArr, time.Second)

	return &testHarness{engine: engine, issuerPub: issuerPub, issuerKey: issuerKey}
}

func (h *testHarness) newAccount(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, *Account) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var pubArr [32]byte
	copy(pubArr[:], pub)
	acct, err := h.engine.CreateAccount(pubArr)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return pub, priv, acct
}

func (h *testHarness) mint(t *testing.T, to Address, amount, nonce uint64) error {
	t.Helper()
	msg := CanonicalMintMessage(to, amount, nonce)
	sig, err := SignCanonical(h.issuerKey, msg)
	if err != nil {
		t.Fatalf("sign mint: %v", err)
	}
	_, _, err = h.engine.Submit(context.Background(), SignedRequest{
		Kind: KindMint, To: to, Amount: amount, Nonce: nonce, Signature: sig,
	})
	return err
}

func (h *testHarness) transferSigned(from Address, priv ed25519.PrivateKey, to Address, amount, nonce uint64, sig [64]byte) SignedRequest {
	return SignedRequest{Kind: KindTransfer, From: &from, To: to, Amount: amount, Nonce: nonce, Signature: sig}
}

func signTransfer(t *testing.T, priv ed25519.PrivateKey, from, to Address, amount, nonce uint64) [64]byte {
	t.Helper()
	msg := CanonicalTransferMessage(from, to, amount, nonce)
	sig, err := SignCanonical(priv, msg)
	if err != nil {
		t.Fatalf("sign transfer: %v", err)
	}
	return sig
}

// TestMintThenTransfer is spec scenario 1.
func TestMintThenTransfer(t *testing.T) {
	h := newTestHarness(t)
	_, privA, a := h.newAccount(t)
	_, _, b := h.newAccount(t)

	if err := h.mint(t, a.Address, 1000, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}

	sig := signTransfer(t, privA, a.Address, b.Address, 100, 1)
	_, status, err := h.engine.Submit(context.Background(), h.transferSigned(a.Address, privA, b.Address, 100, 1, sig))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if status != StatusExecuted {
		t.Fatalf("expected Executed, got %s", status)
	}

	aAcct, err := h.engine.GetBalance(a.Address)
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	bAcct, err := h.engine.GetBalance(b.Address)
	if err != nil {
		t.Fatalf("get B: %v", err)
	}
	if aAcct.Balance != 890 {
		t.Fatalf("expected A.balance=890, got %d", aAcct.Balance)
	}
	if bAcct.Balance != 100 {
		t.Fatalf("expected B.balance=100, got %d", bAcct.Balance)
	}
	if aAcct.Nonce != 1 {
		t.Fatalf("expected A.nonce=1, got %d", aAcct.Nonce)
	}
}

// TestInsufficientBalance is spec scenario 2.
func TestInsufficientBalance(t *testing.T) {
	h := newTestHarness(t)
	_, privA, a := h.newAccount(t)
	_, _, b := h.newAccount(t)

	if err := h.mint(t, a.Address, 50, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}

	sig := signTransfer(t, privA, a.Address, b.Address, 50, 1)
	_, status, err := h.engine.Submit(context.Background(), h.transferSigned(a.Address, privA, b.Address, 50, 1, sig))
	if err == nil {
		t.Fatalf("expected InsufficientBalance error")
	}
	if KindOf(err) != ErrInsufficientBalance {
		t.Fatalf("expected InsufficientBalance, got %v", KindOf(err))
	}
	if status != StatusFailed {
		t.Fatalf("expected Failed, got %s", status)
	}

	aAcct, err := h.engine.GetBalance(a.Address)
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	if aAcct.Balance != 50 {
		t.Fatalf("expected A.balance unchanged at 50, got %d", aAcct.Balance)
	}
}

// TestNonceRace is spec scenario 3: exactly one of N concurrent transfers
// with the same nonce becomes Executed.
func TestNonceRace(t *testing.T) {
	h := newTestHarness(t)
	_, privA, a := h.newAccount(t)
	_, _, b := h.newAccount(t)

	if err := h.mint(t, a.Address, 1000, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}

	const n = 8
	sig := signTransfer(t, privA, a.Address, b.Address, 10, 1)

	var wg sync.WaitGroup
	statuses := make([]TxStatus, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, status, err := h.engine.Submit(context.Background(), h.transferSigned(a.Address, privA, b.Address, 10, 1, sig))
			statuses[i] = status
			errs[i] = err
		}(i)
	}
	wg.Wait()

	executed, failedNonce := 0, 0
	for i := 0; i < n; i++ {
		switch {
		case errs[i] == nil && statuses[i] == StatusExecuted:
			executed++
		case errs[i] != nil && KindOf(errs[i]) == ErrInvalidNonce:
			failedNonce++
		}
	}
	if executed != 1 {
		t.Fatalf("expected exactly 1 Executed, got %d", executed)
	}
	if failedNonce != n-1 {
		t.Fatalf("expected %d InvalidNonce failures, got %d", n-1, failedNonce)
	}
}

// TestBadSignature is spec scenario 4.
func TestBadSignature(t *testing.T) {
	h := newTestHarness(t)
	_, privA, a := h.newAccount(t)
	_, privWrong, _ := h.newAccount(t)
	_, _, b := h.newAccount(t)

	if err := h.mint(t, a.Address, 1000, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}

	_ = privA
	sig := signTransfer(t, privWrong, a.Address, b.Address, 100, 1)
	_, status, err := h.engine.Submit(context.Background(), h.transferSigned(a.Address, privA, b.Address, 100, 1, sig))
	if err == nil {
		t.Fatalf("expected InvalidSignature error")
	}
	if KindOf(err) != ErrInvalidSignature {
		t.Fatalf("expected InvalidSignature, got %v", KindOf(err))
	}
	if status != StatusFailed {
		t.Fatalf("expected Failed, got %s", status)
	}

	aAcct, err := h.engine.GetBalance(a.Address)
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	if aAcct.Balance != 1000 {
		t.Fatalf("expected A.balance unchanged at 1000, got %d", aAcct.Balance)
	}
}

// TestReplay is spec scenario 6: resubmitting the same signed transfer
// succeeds once and fails InvalidNonce the second time.
func TestReplay(t *testing.T) {
	h := newTestHarness(t)
	_, privA, a := h.newAccount(t)
	_, _, b := h.newAccount(t)

	if err := h.mint(t, a.Address, 1000, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}

	sig := signTransfer(t, privA, a.Address, b.Address, 100, 1)
	req := h.transferSigned(a.Address, privA, b.Address, 100, 1, sig)

	_, status1, err1 := h.engine.Submit(context.Background(), req)
	if err1 != nil {
		t.Fatalf("first submit: %v", err1)
	}
	if status1 != StatusExecuted {
		t.Fatalf("expected first submit Executed, got %s", status1)
	}

	_, status2, err2 := h.engine.Submit(context.Background(), req)
	if err2 == nil {
		t.Fatalf("expected second submit to fail")
	}
	if KindOf(err2) != ErrInvalidNonce {
		t.Fatalf("expected InvalidNonce on replay, got %v", KindOf(err2))
	}
	if status2 != StatusFailed {
		t.Fatalf("expected Failed, got %s", status2)
	}
}

// TestConservationWithBurn checks spec §8's conservation-with-burn
// invariant across a sequence of mints and transfers.
func TestConservationWithBurn(t *testing.T) {
	h := newTestHarness(t)
	_, privA, a := h.newAccount(t)
	_, _, b := h.newAccount(t)

	if err := h.mint(t, a.Address, 1000, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}
	sig := signTransfer(t, privA, a.Address, b.Address, 100, 1)
	if _, status, err := h.engine.Submit(context.Background(), h.transferSigned(a.Address, privA, b.Address, 100, 1, sig)); err != nil || status != StatusExecuted {
		t.Fatalf("transfer: status=%s err=%v", status, err)
	}

	aAcct, _ := h.engine.GetBalance(a.Address)
	bAcct, _ := h.engine.GetBalance(b.Address)

	const minted = 1000
	const fee = 10 // floor(100/10)
	sum := aAcct.Balance + bAcct.Balance
	if sum+fee != minted {
		t.Fatalf("conservation-with-burn violated: sum(balance)=%d + fee=%d != minted=%d", sum, fee, minted)
	}
}
