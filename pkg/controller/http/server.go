package http

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/wares/pkg/interfaces"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultLookupSize = 5
	maxLookupSize     = 50
	maxBodySize       = 1 << 20
)

// Server is the HTTP surface of the product pipeline
type Server struct {
	mux           *http.ServeMux
	handler       http.Handler
	uc            interfaces.ProductUseCase
	archive       interfaces.EventArchive
	webhookSecret string
	tolerance     time.Duration
	timeout       time.Duration
	now           func() time.Time
}

type Option func(*Server)

// WithWebhookSecret enables the webhook endpoint with the signing secret of the event source
func WithWebhookSecret(secret string) Option {
	return func(s *Server) {
		s.webhookSecret = secret
	}
}

// WithEventArchive stores raw verified webhook bodies before dispatching them
func WithEventArchive(archive interfaces.EventArchive) Option {
	return func(s *Server) {
		s.archive = archive
	}
}

// WithTimeout sets the deadline of each request. Default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// WithSignatureTolerance sets the accepted age of a webhook signature. Default is 5 minutes.
func WithSignatureTolerance(d time.Duration) Option {
	return func(s *Server) {
		s.tolerance = d
	}
}

// WithClock replaces the clock used for signature timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func New(uc interfaces.ProductUseCase, opts ...Option) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		uc:        uc,
		tolerance: defaultSignatureTolerance,
		timeout:   defaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /products/{id}", s.handleProduct)
	s.mux.HandleFunc("POST /ask", s.handleAsk)
	s.mux.HandleFunc("POST /webhook", s.handleWebhook)

	s.handler = withRequestLog(withTracing(withTimeout(s.timeout, s.mux)))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// Serve runs the server on addr until ctx is canceled
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
