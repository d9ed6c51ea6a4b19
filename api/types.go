package api

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"usdaledger/ledger"
)

// TxRecord is the §6 JSON projection of a ledger.Transaction: addresses
// rendered as 0x-prefixed hex and IDs as strings for wire transport;
// amounts stay numeric and the signature is not included.
type TxRecord struct {
	TxID      string  `json:"tx_id"`
	Kind      string  `json:"kind"`
	From      *string `json:"from,omitempty"`
	To        string  `json:"to"`
	Amount    uint64  `json:"amount"`
	Fee       uint64  `json:"fee"`
	Nonce     uint64  `json:"nonce"`
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	BatchID   *string `json:"batch_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toTxRecord(tx *ledger.Transaction) TxRecord {
	rec := TxRecord{
		TxID:      tx.TxID.String(),
		Kind:      string(tx.Kind),
		To:        tx.ToAddress.Hex(),
		Amount:    tx.Amount,
		Fee:       tx.Fee,
		Nonce:     tx.Nonce,
		Status:    string(tx.Status),
		Error:     tx.Error,
		CreatedAt: tx.CreatedAt,
		UpdatedAt: tx.UpdatedAt,
	}
	if tx.FromAddress != nil {
		from := tx.FromAddress.Hex()
		rec.From = &from
	}
	if tx.BatchID != nil {
		bid := tx.BatchID.String()
		rec.BatchID = &bid
	}
	return rec
}

// BatchManifestRecord is the §6 JSON projection of a ledger.BatchManifest.
type BatchManifestRecord struct {
	BatchID   string    `json:"batch_id"`
	TxIDs     []string  `json:"tx_ids"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	SealedAt  time.Time `json:"sealed_at,omitempty"`
}

func toBatchManifestRecord(m *ledger.BatchManifest) BatchManifestRecord {
	ids := make([]string, len(m.TxIDs))
	for i, id := range m.TxIDs {
		ids[i] = id.String()
	}
	return BatchManifestRecord{
		BatchID:   m.BatchID.String(),
		TxIDs:     ids,
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
		SealedAt:  m.SealedAt,
	}
}

type createAccountRequest struct {
	PublicKey string `json:"public_key"`
}

type createAccountResponse struct {
	Address string `json:"address"`
}

type balanceResponse struct {
	Balance        uint64 `json:"balance"`
	PendingBalance uint64 `json:"pending_balance"`
	Nonce          uint64 `json:"nonce"`
}

type transferRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type mintRequest struct {
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type submitResponse struct {
	TxID   string `json:"tx_id"`
	Status string `json:"status"`
}

// wsFrame is the §6 line-delimited subscription frame.
type wsFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func eventPayload(ev ledger.Event) map[string]interface{} {
	p := map[string]interface{}{}
	if ev.TxID != uuid.Nil {
		p["tx_id"] = ev.TxID.String()
	}
	if ev.BatchID != uuid.Nil {
		p["batch_id"] = ev.BatchID.String()
	}
	if !ev.Address.IsZero() {
		p["address"] = ev.Address.Hex()
	}
	if ev.ErrorKind != "" {
		p["error_kind"] = string(ev.ErrorKind)
	}
	return p
}

func mustHex(b []byte) string { return hex.EncodeToString(b) }
