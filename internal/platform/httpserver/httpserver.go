package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this service. No
// WriteTimeout: the /verify/events stream stays open for the whole session
// lifetime and is bounded by the session TTL instead.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
}
