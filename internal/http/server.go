package http

import (
	"context"
	stdhttp "net/http"
	"time"
)

// NewServer crea el http.Server con timeouts explícitos. El write timeout
// contempla el round-trip al API de ML detrás del proxy (10s) más margen.
func NewServer(addr string, handler stdhttp.Handler) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Shutdown apaga el server con gracia dentro del plazo dado.
func Shutdown(srv *stdhttp.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
