package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antfarm-network/antfarm/internal/agent"
)

// rateLimit rejects callers that exceed the configured request rate with 429.
// Callers are keyed by agent when their credential resolves and by IP otherwise.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	retryAfter := strconv.Itoa(max(1, int(s.opts.RateWindow.Seconds())))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.Allow(s.rateKey(r)) {
			w.Header().Set("Retry-After", retryAfter)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RunRateLimitCleanup evicts idle rate limit buckets until ctx is done.
func (s *Server) RunRateLimitCleanup(ctx context.Context) {
	if s.limiter != nil {
		s.limiter.Run(ctx, time.Minute)
	}
}

func (s *Server) rateKey(r *http.Request) string {
	if agent.Credential(r) != "" {
		if a, err := s.resolver.ResolveRequest(r); err == nil && a != nil {
			return "agent:" + a.ID
		}
	}
	return "ip:" + getIP(r)
}

// getIP extracts the client IP from a request, respecting X-Forwarded-For
// for proxied deployments.
func getIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
