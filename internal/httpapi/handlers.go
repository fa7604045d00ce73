package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lattice/internal/offer"
)

// handleOffers is the client accept path (spec.md §6: POST /offers?ip=<ip>).
func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	clientIP := r.URL.Query().Get("ip")
	if clientIP == "" {
		clientIP = clientIPFromRemote(r.RemoteAddr)
	}
	token := bearerToken(r)

	if err := s.auth.Authenticate(clientIP, token); err != nil {
		deleteAuthCookie(w)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ev, err := s.codec.DecodeOfferEvent(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	key, err := s.seq.Accept(ev)
	if err != nil {
		log.Error().Str("request_id", requestID).Err(err).Msg("httpapi: durable log write failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Request-Id", requestID)

	ctx := r.Context()
	ch := s.reg.Register(key)

	if s.isPrimary && s.checker != nil {
		p := s.checker.Start(ctx, key, ev)
		if err := s.eng.Submit(ctx, key, ev); err != nil {
			s.reg.Abandon(key)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		local := <-ch
		agree := s.checker.Finish(p, local)
		writeAcceptResult(w, agree)
		return
	}

	if err := s.eng.Submit(ctx, key, ev); err != nil {
		s.reg.Abandon(key)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	<-ch
	writeAcceptResult(w, true)
}

func writeAcceptResult(w http.ResponseWriter, ok bool) {
	w.WriteHeader(http.StatusOK)
	if ok {
		_, _ = w.Write([]byte("ok"))
		return
	}
	_, _ = w.Write([]byte("error"))
}

// handleOffersInner is the peer inner endpoint (spec.md §4.F, §6): decode
// the primary's already-sequenced (OfferKey, OfferEvent), dispatch to the
// local engine, subscribe, and return the outcome. Peers never persist
// offers received here — their own offer log is independent, for their
// own client traffic only (spec.md §4.F).
func (s *Server) handleOffersInner(w http.ResponseWriter, r *http.Request) {
	var req innerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ev, err := req.Event.toEvent()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := offer.Key(req.Key)

	ctx := r.Context()
	ch := s.reg.Register(key)
	if err := s.eng.Submit(ctx, key, ev); err != nil {
		s.reg.Abandon(key)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	outcome := <-ch

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(toOutcomeResponse(outcome))
}

// handleNumErrors reports the replica-local cross-check mismatch counter
// (spec.md §6: GET /num_errors). Peers, which never run a Checker, always
// report 0.
func (s *Server) handleNumErrors(w http.ResponseWriter, r *http.Request) {
	var n uint64
	if s.checker != nil {
		n = s.checker.ErrorCount()
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strconv.FormatUint(n, 10)))
}

// handleHealthz is the ambient liveness probe (SPEC_FULL.md §6 AMBIENT;
// not in spec.md, but every pack repo that runs an HTTP server exposes
// one, e.g. polymarket-mm's /health).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func clientIPFromRemote(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
