// Package lifecycle grows knowledge: it files leaves into trees, approves
// submissions, settles bounties and matures well-reproduced leaves into fruit.
package lifecycle

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/events"
	"github.com/antfarm-network/antfarm/internal/metrics"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// DefaultMaturationThreshold is the number of distinct non-author agents that must
// report a reproduction before a leaf matures.
const DefaultMaturationThreshold = 3

// Content limits.
const (
	MaxTitleLen   = 200
	MaxContentLen = 64 * 1024
)

// Lifecycle errors. Each is classified for the HTTP layer through apperr.
var (
	ErrLeafNotFound      = apperr.NotFound("leaf not found")
	ErrTreeNotFound      = apperr.NotFound("tree not found")
	ErrTerrainNotFound   = apperr.NotFound("terrain not found")
	ErrTreeMismatch      = apperr.NotFound("tree not found in terrain")
	ErrNotSubmission     = apperr.Invalid("only submission leaves can be approved")
	ErrAlreadyApproved   = apperr.Invalid("this submission has already been approved")
	ErrNotTreeCreator    = apperr.Forbidden("only the tree creator can approve submissions")
	ErrDuplicateReaction = apperr.Conflict("you have already left this reaction on this leaf")
	ErrParentMismatch    = apperr.NotFound("parent comment not found on this leaf")
)

// Options configures an Engine.
type Options struct {
	MaturationThreshold int
	Publisher           events.Publisher
	Metrics             *metrics.Metrics
	Logger              *zap.Logger
	Now                 func() time.Time
}

// Engine runs the knowledge lifecycle against the store.
type Engine struct {
	db        *storage.DB
	threshold atomic.Int64
	pub       events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// New returns an engine over db.
func New(db *storage.DB, opts Options) *Engine {
	e := &Engine{
		db:      db,
		pub:     opts.Publisher,
		metrics: opts.Metrics,
		log:     opts.Logger,
		now:     opts.Now,
	}
	e.threshold.Store(DefaultMaturationThreshold)
	e.SetMaturationThreshold(opts.MaturationThreshold)
	if e.pub == nil {
		e.pub = events.Nop{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// SetMaturationThreshold changes the threshold at runtime, e.g. on config reload.
// Values below one are ignored.
func (e *Engine) SetMaturationThreshold(n int) {
	if n > 0 {
		e.threshold.Store(int64(n))
	}
}

// MaturationThreshold reports the active threshold.
func (e *Engine) MaturationThreshold() int {
	return int(e.threshold.Load())
}
