package server

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/antfarm-network/antfarm/internal/agent"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// agentHandler is a handler that runs on behalf of an authenticated agent.
type agentHandler func(w http.ResponseWriter, r *http.Request, a *storage.Agent)

// requireAgent resolves the request credential and rejects the request with 401
// when it is missing or unknown.
func (s *Server) requireAgent(h agentHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := s.resolver.ResolveRequest(r)
		if errors.Is(err, agent.ErrNoCredential) {
			writeError(w, http.StatusUnauthorized, "Missing API key. Send Authorization: Bearer <key> or X-Agent-Key.")
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if a == nil {
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		h(w, r, a)
	}
}

// optionalAgent resolves the credential when one is present. Anonymous callers get
// a nil agent; a present but unknown key is still rejected.
func (s *Server) optionalAgent(h agentHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if agent.Credential(r) == "" {
			h(w, r, nil)
			return
		}
		s.requireAgent(h)(w, r)
	}
}

// adminOnly requires the X-Admin-Secret header to match the configured secret. With
// no secret configured every admin route is closed.
func (s *Server) adminOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.adminAuth(w, r) {
			return
		}
		h(w, r)
	}
}

func (s *Server) adminAuth(w http.ResponseWriter, r *http.Request) bool {
	got := r.Header.Get("X-Admin-Secret")
	if s.opts.AdminSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.AdminSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid admin secret")
		return false
	}
	return true
}
