package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/agent"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// Anomaly types.
const (
	anomalyLeafFlood     = "leaf_flood"
	anomalyReactionBurst = "reaction_burst"
)

const anomalyWindow = time.Hour

// runAnomalyDetection periodically scans for agents flooding the network.
func (s *Server) runAnomalyDetection(ctx context.Context, every time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
			if n := s.detectAnomalies(ctx); n > 0 {
				s.log.Warn("anomalies detected", zap.Int("count", n))
			}
		}
	}
}

// detectAnomalies penalizes agents that dropped more leaves, or left more reactions,
// than the flood threshold within the last hour. An agent is penalized at most once
// per type per window. Returns the number of anomalies logged.
func (s *Server) detectAnomalies(ctx context.Context) int {
	now := s.now()
	since := now.Add(-anomalyWindow)
	threshold := s.opts.FloodThreshold

	rules := []struct {
		typ  string
		noun string
		scan func(context.Context, time.Time, int) ([]storage.AgentActivity, error)
	}{
		{anomalyLeafFlood, "leaves", s.db.AgentsOverLeafRate},
		{anomalyReactionBurst, "reactions", s.db.AgentsOverReactionRate},
	}

	anomalies := 0
	for _, rule := range rules {
		offenders, err := rule.scan(ctx, since, threshold)
		if err != nil {
			s.log.Error("anomaly scan failed", zap.String("type", rule.typ), zap.Error(err))
			continue
		}
		for _, o := range offenders {
			seen, err := s.db.HasRecentAnomaly(ctx, o.AgentID, rule.typ, since)
			if err != nil {
				s.log.Error("anomaly lookup failed", zap.String("agent_id", o.AgentID), zap.Error(err))
				continue
			}
			if seen {
				continue
			}
			entry := &storage.AnomalyLog{
				ID:          uuid.NewString(),
				AgentID:     o.AgentID,
				Type:        rule.typ,
				Evidence:    fmt.Sprintf("%d %s in last hour (threshold: %d)", o.Count, rule.noun, threshold),
				ActionTaken: "credibility_penalty",
				CreatedAt:   now,
			}
			if err := s.db.LogAnomaly(ctx, entry, agent.CredibilityDelta(agent.EventFloodAnomaly)); err != nil {
				s.log.Error("log anomaly failed", zap.String("agent_id", o.AgentID), zap.Error(err))
				continue
			}
			s.metrics.AnomalyDetected(rule.typ)
			s.log.Warn("anomaly",
				zap.String("agent_id", o.AgentID),
				zap.String("type", rule.typ),
				zap.String("evidence", entry.Evidence))
			anomalies++
		}
	}
	return anomalies
}
