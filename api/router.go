package api

import (
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"usdaledger/api/middleware"
)

// NewRouter lays out the §6 HTTP/JSON surface, grounded on
// walletserver/routes.Register.
func NewRouter(h *Handlers, log *logrus.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logger(log))

	r.HandleFunc("/account/create", h.CreateAccount).Methods("POST")
	r.HandleFunc("/account/{addr}/balance", h.Balance).Methods("GET")
	r.HandleFunc("/account/{addr}/transactions", h.Transactions).Methods("GET")
	r.HandleFunc("/transaction/transfer", h.Transfer).Methods("POST")
	r.HandleFunc("/transaction/mint", h.Mint).Methods("POST")
	r.HandleFunc("/transaction/{tx_id}", h.Transaction).Methods("GET")
	r.HandleFunc("/batch/{batch_id}", h.Batch).Methods("GET")
	r.HandleFunc("/ws", h.Subscribe)

	return r
}
