// Package httpapi implements the Boundary adapters (spec.md §4.G) and
// External interfaces (spec.md §6): the HTTP surface a replica exposes,
// built on net/http + http.ServeMux following the pack's own
// polymarket-mm/internal/api/server.go shape for a small internal API.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"lattice/internal/engine"
	"lattice/internal/registrar"
	"lattice/internal/replicacheck"
	"lattice/internal/sequencer"
)

// Server wires the accept path, the peer inner endpoint and the two
// operator probes onto one http.Server.
type Server struct {
	server *http.Server

	seq      *sequencer.Sequencer
	eng      *engine.MatchingEngine
	reg      *registrar.Registrar
	checker  *replicacheck.Checker // nil on a peer replica
	isPrimary bool

	auth  Authenticator
	codec Codec
}

// Config bundles a Server's wiring. Checker is nil for a peer replica.
type Config struct {
	Addr      string
	Sequencer *sequencer.Sequencer
	Engine    *engine.MatchingEngine
	Registrar *registrar.Registrar
	Checker   *replicacheck.Checker
	IsPrimary bool
	Auth      Authenticator
	Codec     Codec
}

// New builds a Server ready to ListenAndServe. A nil Auth/Codec defaults
// to AllowAll/JSONCodec (spec.md §1 places hardening these out of scope).
func New(cfg Config) *Server {
	auth := cfg.Auth
	if auth == nil {
		auth = AllowAll{}
	}
	codec := cfg.Codec
	if codec == nil {
		codec = JSONCodec{}
	}

	s := &Server{
		seq:       cfg.Sequencer,
		eng:       cfg.Engine,
		reg:       cfg.Registrar,
		checker:   cfg.Checker,
		isPrimary: cfg.IsPrimary,
		auth:      auth,
		codec:     codec,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /offers", s.handleOffers)
	mux.HandleFunc("POST /offers_inner", s.handleOffersInner)
	mux.HandleFunc("GET /num_errors", s.handleNumErrors)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Run starts the HTTP server and blocks until it stops or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("httpapi: listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("httpapi: server error: %w", err)
		}
		return nil
	}
}
