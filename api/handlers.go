package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"usdaledger/ledger"
)

// Handlers is C7: a thin facade binding the admission/execution pipeline
// and read paths to HTTP, grounded on walletserver/controllers's
// service-wrapping pattern.
type Handlers struct {
	engine *ledger.Engine
	logger *logrus.Logger
}

// NewHandlers constructs the HTTP facade around engine.
func NewHandlers(engine *ledger.Engine, log *logrus.Logger) *Handlers {
	return &Handlers{engine: engine, logger: log}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a ledger.ErrorKind to the §6 HTTP status table.
func writeError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case ledger.ErrInvalidInput, ledger.ErrInvalidAmount, ledger.ErrInvalidNonce, ledger.ErrInvalidSignature:
		status = http.StatusBadRequest
	case ledger.ErrInsufficientBalance, ledger.ErrTransientConflict:
		status = http.StatusConflict
	case ledger.ErrNotFound:
		status = http.StatusNotFound
	case ledger.ErrInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}

// CreateAccount handles POST /account/create.
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, "malformed request body"))
		return
	}
	pub, err := decodePublicKey(req.PublicKey)
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, err.Error()))
		return
	}
	acct, err := h.engine.CreateAccount(pub)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createAccountResponse{Address: acct.Address.Hex()})
}

// Balance handles GET /account/:addr/balance.
func (h *Handlers) Balance(w http.ResponseWriter, r *http.Request) {
	addr, err := decodeAddress(mux.Vars(r)["addr"])
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, err.Error()))
		return
	}
	acct, err := h.engine.GetBalance(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Balance:        acct.Balance,
		PendingBalance: acct.PendingBalance,
		Nonce:          acct.Nonce,
	})
}

// Transactions handles GET /account/:addr/transactions?cursor&limit.
func (h *Handlers) Transactions(w http.ResponseWriter, r *http.Request) {
	addr, err := decodeAddress(mux.Vars(r)["addr"])
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, err.Error()))
		return
	}
	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	txs, next, err := h.engine.GetHistory(addr, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	records := make([]TxRecord, len(txs))
	for i, tx := range txs {
		records[i] = toTxRecord(tx)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": records,
		"next_cursor":  next,
	})
}

// Transfer handles POST /transaction/transfer.
func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, "malformed request body"))
		return
	}
	from, err := decodeAddress(req.From)
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, err.Error()))
		return
	}
	to, err := decodeAddress(req.To)
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, err.Error()))
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, err.Error()))
		return
	}
	txID, status, err := h.engine.Submit(r.Context(), ledger.SignedRequest{
		Kind:      ledger.KindTransfer,
		From:      &from,
		To:        to,
		Amount:    req.Amount,
		Nonce:     req.Nonce,
		Signature: sig,
	})
	h.respondSubmit(w, txID, status, err)
}

// Mint handles POST /transaction/mint.
func (h *Handlers) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, "malformed request body"))
		return
	}
	to, err := decodeAddress(req.To)
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, err.Error()))
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, err.Error()))
		return
	}
	txID, status, err := h.engine.Submit(r.Context(), ledger.SignedRequest{
		Kind:      ledger.KindMint,
		To:        to,
		Amount:    req.Amount,
		Nonce:     req.Nonce,
		Signature: sig,
	})
	h.respondSubmit(w, txID, status, err)
}

// respondSubmit renders a submit outcome: a rejected-before-admission
// request (no tx_id, bare error) vs. a terminal Failed row (tx_id plus
// the mapped error status), per §4.3/§7.
func (h *Handlers) respondSubmit(w http.ResponseWriter, txID uuid.UUID, status ledger.TxStatus, err error) {
	if err != nil && txID == uuid.Nil {
		writeError(w, err)
		return
	}
	if err != nil {
		// The transaction row exists under txID; surface both the tx_id and the error
		// status so the caller can look the transaction up later.
		kind := ledger.KindOf(err)
		httpStatus := http.StatusBadRequest
		switch kind {
		case ledger.ErrInsufficientBalance, ledger.ErrTransientConflict:
			httpStatus = http.StatusConflict
		case ledger.ErrInternal:
			httpStatus = http.StatusInternalServerError
		}
		writeJSON(w, httpStatus, submitResponse{TxID: txID.String(), Status: string(status)})
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{TxID: txID.String(), Status: string(status)})
}

// Transaction handles GET /transaction/:tx_id.
func (h *Handlers) Transaction(w http.ResponseWriter, r *http.Request) {
	txID, err := uuid.Parse(mux.Vars(r)["tx_id"])
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, "malformed tx_id"))
		return
	}
	tx, err := h.engine.GetTransaction(txID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTxRecord(tx))
}

// Batch handles GET /batch/:batch_id.
func (h *Handlers) Batch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(mux.Vars(r)["batch_id"])
	if err != nil {
		writeError(w, ledger.NewError(ledger.ErrInvalidInput, "malformed batch_id"))
		return
	}
	manifest, err := h.engine.GetBatch(batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchManifestRecord(manifest))
}
