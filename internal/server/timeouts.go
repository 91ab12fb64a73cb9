// internal/server/timeouts.go
//
// HTTP server helper with explicit timeouts.
//
// Context
// -------
//
//   - ReadHeaderTimeout  abort slow-loris headers (10 s)
//   - ReadTimeout        cap request body reads (30 s)
//   - WriteTimeout       total response time.  Scans run inside the request,
//     so this comes from `http.write_timeout` (default 10 min).
//   - IdleTimeout        close idle keep-alives (60 s)
//
// Run serves until ctx is cancelled, then drains in-flight requests for up
// to ShutdownGrace.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/catalog/internal/logger"
)

// ShutdownGrace bounds graceful shutdown.
const ShutdownGrace = 30 * time.Second

// New constructs an *http.Server with the timeouts above.
func New(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Minute
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

// Run serves srv until ctx is done or the listener fails.
func Run(ctx context.Context, srv *http.Server, log *zap.SugaredLogger) error {
	log = logger.OrNop(log)

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Infow("shutting down", "grace", ShutdownGrace)
	sctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
