package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"usdaledger/ledger"
)

// Server wraps the mux router in a plain http.Server with graceful
// shutdown, mirroring walletserver/main.go's ListenAndServe call but
// adding Shutdown support for use from cmd/usdaledgerd.
type Server struct {
	httpServer *http.Server
	log        *logrus.Logger
}

// NewServer builds the HTTP facade (C7) over engine, listening on addr.
func NewServer(addr string, engine *ledger.Engine, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	h := NewHandlers(engine, log)
	router := NewRouter(h, log)
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		log: log,
	}
}

// ListenAndServe blocks serving HTTP until the process is asked to stop.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("api: listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
