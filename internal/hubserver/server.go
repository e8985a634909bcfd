// Package hubserver exposes the hub's HTTP surface: batch ingest,
// WebSocket subscriptions, health, and the hourly summary. It ties the
// verifier, rate limiter, broadcast engine, archive, and rejection log
// together behind one chi router.
package hubserver

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/archive"
	"github.com/pulsewatch/pulsewatch/internal/audit"
	"github.com/pulsewatch/pulsewatch/internal/broadcast"
	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/ratelimit"
	"github.com/pulsewatch/pulsewatch/internal/verify"
)

// maxBodyBytes caps a single submission body.
const maxBodyBytes = 2 << 20

// ingestTimeout bounds request handling on the ingest path. The
// WebSocket route stays outside it; upgraded connections live as long
// as the subscriber does.
const ingestTimeout = 5 * time.Second

// Server is the hub's HTTP server.
type Server struct {
	cfg      config.Hub
	log      *zap.Logger
	verifier *verify.Verifier
	limiter  *ratelimit.Limiter
	engine   *broadcast.Engine
	store    *archive.Archive
	rejects  *audit.Log

	draining atomic.Bool
	httpSrv  *http.Server
}

// New assembles the server. verifier may be nil only when cfg.NoAuth
// is set; store and rejects are optional and disable the archive and
// the rejection log when nil.
func New(cfg config.Hub, verifier *verify.Verifier, limiter *ratelimit.Limiter,
	engine *broadcast.Engine, store *archive.Archive, rejects *audit.Log,
	log *zap.Logger) *Server {

	s := &Server{
		cfg:      cfg,
		log:      log,
		verifier: verifier,
		limiter:  limiter,
		engine:   engine,
		store:    store,
		rejects:  rejects,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// TimeoutHandler yields 503 when ingest processing overruns; the
	// WebSocket route must stay outside it because upgraded connections
	// outlive any request deadline.
	r.Method(http.MethodPost, "/events",
		timeoutJSON(http.HandlerFunc(s.handleEvents), ingestTimeout))
	r.Get("/health", s.handleHealth)
	r.Get("/stats/hourly", s.handleHourly)
	r.Get("/ws", s.handleWS)

	return r
}

// timeoutJSON bounds h's processing time. Content-Type goes on the
// response up front so the timeout body is a structured error like
// every other rejection; TimeoutHandler writes its body to the
// original writer, which keeps headers set before the handler ran.
func timeoutJSON(h http.Handler, d time.Duration) http.Handler {
	th := http.TimeoutHandler(h, d, `{"error":"processing timeout"}`)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		th.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then drains: new submissions get
// 503, subscribers get a going-away close frame, and in-flight
// requests finish within the shutdown grace.
func (s *Server) Run(ctx context.Context) error {
	go s.engine.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.log.Info("hub listening",
		zap.String("addr", s.cfg.ListenAddr),
		zap.Bool("no_auth", s.cfg.NoAuth))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.draining.Store(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()

	// Upgraded WebSocket connections are hijacked, so Shutdown does not
	// wait for them; the engine closing subscriber channels is what
	// delivers the going-away frames.
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("shutdown grace elapsed", zap.Error(err))
	}
	return nil
}
