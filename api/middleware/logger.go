package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger mirrors walletserver/middleware.Logger: a request-timing access
// log wrapped around every route.
func Logger(log *logrus.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logrus.New()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.RequestURI,
				"duration": time.Since(start),
			}).Info("request")
		})
	}
}
