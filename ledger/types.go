// Package ledger implements the token ledger's transaction execution
// engine: admission, signature verification, atomic balance mutation,
// batching for external proving, and status broadcast.
package ledger

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Address is an opaque 32-byte account identifier. MemStore.CreateAccount
// derives it with AddressFromPublicKey, a verbatim copy of the public key
// bytes; the canonical message treats from/to as independent fields
// regardless.
type Address [32]byte

// Hex returns the full hexadecimal representation of the address.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// Short returns a shortened hex form for logging.
func (a Address) Short() string {
	full := hex.EncodeToString(a[:])
	if len(full) <= 8 {
		return full
	}
	return fmt.Sprintf("%s..%s", full[:4], full[len(full)-4:])
}

func (a Address) String() string { return a.Hex() }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// AddressFromPublicKey copies a raw 32-byte Ed25519 public key into an
// Address. Callers must supply exactly 32 bytes.
func AddressFromPublicKey(pub []byte) (Address, error) {
	var a Address
	if len(pub) != 32 {
		return a, fmt.Errorf("ledger: public key must be 32 bytes, got %d", len(pub))
	}
	copy(a[:], pub)
	return a, nil
}

// Less reports whether a sorts strictly before b, lexicographically over
// the raw bytes. Used to establish the total lock order required by §4.1.
func (a Address) Less(b Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// TxStatus is the tagged enum driving the transaction state machine (§4.4).
type TxStatus string

const (
	StatusPending    TxStatus = "Pending"
	StatusProcessing TxStatus = "Processing"
	StatusExecuted   TxStatus = "Executed"
	StatusFailed     TxStatus = "Failed"
	StatusProven     TxStatus = "Proven"
)

// RequestKind distinguishes transfer from mint requests (§4.3).
type RequestKind string

const (
	KindTransfer RequestKind = "transfer"
	KindMint     RequestKind = "mint"
)

// BatchStatus is the tagged enum for batch manifests (§3).
type BatchStatus string

const (
	BatchOpen   BatchStatus = "Open"
	BatchSealed BatchStatus = "Sealed"
	BatchProven BatchStatus = "Proven"
	BatchFailed BatchStatus = "Failed"
)

// Account mirrors the §3 data model.
type Account struct {
	Address        Address
	PublicKey      [32]byte
	Balance        uint64
	PendingBalance uint64
	Nonce          uint64
	CreatedAt      time.Time
}

// Transaction mirrors the §3 data model.
type Transaction struct {
	TxID        uuid.UUID
	Kind        RequestKind
	FromAddress *Address // nil for mint
	ToAddress   Address
	Amount      uint64
	Fee         uint64
	Nonce       uint64
	Signature   [64]byte
	Status      TxStatus
	Error       string
	BatchID     *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Batch is the manifest described in §3.
type Batch struct {
	BatchID          uuid.UUID
	TransactionCount int
	CreatedAt        time.Time
	SealedAt         time.Time
	Status           BatchStatus
	ProofData        []byte
}

// BatchManifest is the read-only view handed to the external prover.
type BatchManifest struct {
	BatchID      uuid.UUID
	TxIDs        []uuid.UUID
	Status       BatchStatus
	CreatedAt    time.Time
	SealedAt     time.Time
}
