package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WorkerIntervals schedules the background workers. A zero interval disables the worker.
type WorkerIntervals struct {
	Reconcile time.Duration
	Anomaly   time.Duration
}

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context, iv WorkerIntervals) {
	if iv.Reconcile > 0 {
		go s.runReconciler(ctx, iv.Reconcile)
	}
	if iv.Anomaly > 0 {
		go s.runAnomalyDetection(ctx, iv.Anomaly)
	}
	go s.RunRateLimitCleanup(ctx)
}

// runReconciler periodically replays lifecycle writes that a crash left incomplete.
func (s *Server) runReconciler(ctx context.Context, every time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
			s.reconcile(ctx)
		}
	}
}

func (s *Server) reconcile(ctx context.Context) {
	stats, err := s.engine.Reconcile(ctx)
	if err != nil {
		s.log.Error("reconcile failed", zap.Error(err))
		return
	}
	if stats.Approvals > 0 || stats.Matured > 0 {
		s.log.Info("reconciled lifecycle",
			zap.Int("approvals", stats.Approvals),
			zap.Int("matured", stats.Matured))
	}
}
