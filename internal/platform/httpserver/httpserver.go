package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server for the locations API. The write timeout is
// generous because bulk deactivations walk whole wings in one request; reads
// are small JSON bodies and stay tight.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
