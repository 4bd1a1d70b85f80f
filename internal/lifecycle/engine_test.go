package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/metrics"
	"github.com/antfarm-network/antfarm/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type fixture struct {
	db      *storage.DB
	engine  *Engine
	pub     *recordingPublisher
	metrics *metrics.Metrics
	terrain *storage.Terrain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	terrain := &storage.Terrain{
		ID: uuid.NewString(), Slug: "home-automation", Name: "Home Automation",
		Status: storage.TerrainApproved, CreatedAt: time.Now(),
	}
	require.NoError(t, db.CreateTerrain(context.Background(), terrain))

	pub := &recordingPublisher{}
	m := metrics.New()
	return &fixture{
		db:      db,
		engine:  New(db, Options{Publisher: pub, Metrics: m}),
		pub:     pub,
		metrics: m,
		terrain: terrain,
	}
}

func (f *fixture) agent(t *testing.T, handle string) *storage.Agent {
	t.Helper()
	a := &storage.Agent{
		ID: uuid.NewString(), Handle: "@" + handle, Name: handle, APIKeyHash: "hash-" + handle,
		Credibility: 0.5, CreatedAt: time.Now(),
	}
	require.NoError(t, f.db.CreateAgent(context.Background(), a))
	return a
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My New Investigation", "my-new-investigation"},
		{"Sensor   Drift!!", "sensor-drift"},
		{"  Leading space", "leading-space"},
		{"émoji 🚀 only", "moji-only"},
		{"!!!", "tree"},
		{"", "tree"},
		{"a very long title that keeps going and going well past fifty characters", "a-very-long-title-that-keeps-going-and-going-well-"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestTreeSlug(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	assert.Equal(t, "my-new-investigation-loyw3v28", TreeSlug("My New Investigation", at))
}

func TestIsSuffixOf(t *testing.T) {
	assert.True(t, isSuffixOf("sensor-drift", "sensor-drift"))
	assert.True(t, isSuffixOf("sensor-drift-lozqd9og", "sensor-drift"))
	assert.False(t, isSuffixOf("sensor-drift-extra-lozqd9og", "sensor-drift"))
	assert.False(t, isSuffixOf("sensor-drifting-lozqd9og", "sensor-drift"))
	assert.False(t, isSuffixOf("sensor-drift-", "sensor-drift"))
}

func TestResolveTree_GetOrCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, "planter")

	tree, created, err := f.engine.ResolveTree(ctx, f.terrain, "", "My New Investigation", a.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Regexp(t, regexp.MustCompile(`^my-new-investigation-[0-9a-z]+$`), tree.Slug)
	assert.Equal(t, storage.TreeGrowing, tree.Status)
	assert.Equal(t, a.ID, tree.CreatedBy)

	again, created, err := f.engine.ResolveTree(ctx, f.terrain, "", "my new investigation", a.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tree.ID, again.ID)

	byRef, created, err := f.engine.ResolveTree(ctx, f.terrain, tree.Slug, "", a.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tree.ID, byRef.ID)

	none, _, err := f.engine.ResolveTree(ctx, f.terrain, "", "  ", a.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestResolveTree_WrongTerrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, "planter")
	other := &storage.Terrain{ID: uuid.NewString(), Slug: "other", Name: "Other", Status: storage.TerrainApproved, CreatedAt: time.Now()}
	require.NoError(t, f.db.CreateTerrain(ctx, other))

	tree, _, err := f.engine.ResolveTree(ctx, other, "", "Elsewhere", a.ID)
	require.NoError(t, err)

	_, _, err = f.engine.ResolveTree(ctx, f.terrain, tree.ID, "", a.ID)
	assert.ErrorIs(t, err, ErrTreeMismatch)
	_, _, err = f.engine.ResolveTree(ctx, f.terrain, "no-such-tree", "", a.ID)
	assert.ErrorIs(t, err, ErrTreeMismatch)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDropLeaf_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, "dropper")

	tests := []struct {
		name string
		in   LeafInput
		kind error
	}{
		{"missing title", LeafInput{Terrain: "home-automation", Type: "signal", Content: "x"}, apperr.ErrInvalid},
		{"bad type", LeafInput{Terrain: "home-automation", Type: "rumor", Title: "t", Content: "x"}, apperr.ErrInvalid},
		{"submission without tree", LeafInput{Terrain: "home-automation", Type: "submission", Title: "t", Content: "x"}, apperr.ErrInvalid},
		{"unknown terrain", LeafInput{Terrain: "nowhere", Type: "signal", Title: "t", Content: "x"}, apperr.ErrNotFound},
		{"huge content", LeafInput{Terrain: "home-automation", Type: "note", Title: "t", Content: string(make([]byte, MaxContentLen+1))}, apperr.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.DropLeaf(ctx, a, tt.in)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestDropLeaf_PendingTerrainHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, "dropper")
	require.NoError(t, f.db.CreateTerrain(ctx, &storage.Terrain{
		ID: uuid.NewString(), Slug: "pending", Name: "Pending", Status: storage.TerrainPending, CreatedAt: time.Now(),
	}))

	_, err := f.engine.DropLeaf(ctx, a, LeafInput{Terrain: "pending", Type: "note", Title: "t", Content: "x"})
	assert.ErrorIs(t, err, ErrTerrainNotFound)
}

// ObserverBot drops a signal into a new tree and three other agents reproduce it.
func TestScenario_SignalMaturesIntoFruit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	observer := f.agent(t, "observerbot")

	drop, err := f.engine.DropLeaf(ctx, observer, LeafInput{
		Terrain: "home-automation",
		Tree:    "Sensor Drift",
		Type:    storage.LeafSignal,
		Title:   "Thermostat reads 2C high after firmware 4.1",
		Content: "Observed on three units.",
	})
	require.NoError(t, err)
	require.True(t, drop.TreeCreated)
	assert.Regexp(t, regexp.MustCompile(`^sensor-drift-[0-9a-z]+$`), drop.Tree.Slug)
	assert.Equal(t, drop.Tree.Slug, drop.Leaf.TreeSlug)
	assert.Equal(t, "@observerbot", drop.Leaf.AgentHandle)

	leafID := drop.Leaf.ID
	res, err := f.engine.React(ctx, observer, leafID, storage.ReactionReproduced)
	require.NoError(t, err)
	assert.False(t, res.Matured, "the author's own reproduction does not count")

	var last *ReactionResult
	for _, h := range []string{"r1", "r2", "r3"} {
		last, err = f.engine.React(ctx, f.agent(t, h), leafID, storage.ReactionReproduced)
		require.NoError(t, err)
	}
	require.True(t, last.Matured)
	require.NotEmpty(t, last.FruitID)

	fruit, err := f.db.GetFruitByLeaf(ctx, leafID)
	require.NoError(t, err)
	assert.Equal(t, last.FruitID, fruit.ID)
	assert.Equal(t, storage.FruitPattern, fruit.Type)
	assert.Equal(t, drop.Tree.ID, fruit.TreeID)

	author, err := f.db.GetAgent(ctx, observer.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, author.Credibility, 1e-9)

	// A fourth reproduction does not grow a second fruit.
	res, err = f.engine.React(ctx, f.agent(t, "r4"), leafID, storage.ReactionReproduced)
	require.NoError(t, err)
	assert.False(t, res.Matured)
	n, err := f.db.CountFruit(ctx, leafID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Contains(t, f.pub.seen(), "leaf.dropped")
	assert.Contains(t, f.pub.seen(), "fruit.matured")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Fruit.WithLabelValues(storage.FruitPattern)))
}

func TestReact_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, "author")
	b := f.agent(t, "fan")
	drop, err := f.engine.DropLeaf(ctx, a, LeafInput{Terrain: "home-automation", Type: "note", Title: "t", Content: "x"})
	require.NoError(t, err)

	_, err = f.engine.React(ctx, b, drop.Leaf.ID, "love")
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = f.engine.React(ctx, b, "missing", storage.ReactionUseful)
	assert.ErrorIs(t, err, ErrLeafNotFound)

	_, err = f.engine.React(ctx, b, drop.Leaf.ID, storage.ReactionUseful)
	require.NoError(t, err)
	_, err = f.engine.React(ctx, b, drop.Leaf.ID, storage.ReactionUseful)
	assert.ErrorIs(t, err, ErrDuplicateReaction)
}

func TestReact_SubmissionNeverMatures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.SetMaturationThreshold(1)
	owner := f.agent(t, "owner")
	solver := f.agent(t, "solver")
	drop, err := f.engine.DropLeaf(ctx, solver, LeafInput{Terrain: "home-automation", Tree: "Bug", Type: "submission", Title: "fix", Content: "patch"})
	require.NoError(t, err)

	res, err := f.engine.React(ctx, owner, drop.Leaf.ID, storage.ReactionReproduced)
	require.NoError(t, err)
	assert.False(t, res.Matured)
}

func submissionFixture(t *testing.T, f *fixture, bounty *storage.Bounty) (owner, solver *storage.Agent, leafID string) {
	t.Helper()
	ctx := context.Background()
	owner = f.agent(t, "owner")
	solver = f.agent(t, "solver")
	tree, err := f.engine.CreateTree(ctx, owner, TreeInput{Terrain: "home-automation", Title: "Fix the flaky relay", Bounty: bounty})
	require.NoError(t, err)
	drop, err := f.engine.DropLeaf(ctx, solver, LeafInput{
		Terrain: "home-automation", TreeID: tree.ID, Type: storage.LeafSubmission, Title: "Debounce the input", Content: "diff",
	})
	require.NoError(t, err)
	return owner, solver, drop.Leaf.ID
}

func TestApprove_WithBountyAndWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, solver, leafID := submissionFixture(t, f, &storage.Bounty{Amount: 50})
	wallet := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	require.NoError(t, f.db.UpdateAgentWallet(ctx, solver.ID, wallet))

	res, err := f.engine.Approve(ctx, owner, leafID)
	require.NoError(t, err)
	assert.Equal(t, leafID, res.LeafID)
	require.NotNil(t, res.Bounty)
	assert.Equal(t, &Payout{Amount: 50, Currency: "USDC", Status: "claimed", Recipient: "@solver", Wallet: wallet}, res.Bounty)
	assert.Equal(t, "Send 50 USDC to "+wallet, res.ActionRequired)

	fruit, err := f.db.GetFruitByLeaf(ctx, leafID)
	require.NoError(t, err)
	assert.Equal(t, res.FruitID, fruit.ID)
	assert.Equal(t, storage.FruitSolution, fruit.Type)
	assert.Equal(t, "Approved submission for: Fix the flaky relay", fruit.Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Bounties))

	_, err = f.engine.Approve(ctx, owner, leafID)
	assert.ErrorIs(t, err, ErrAlreadyApproved)
}

func TestApprove_BountyWithoutWallet(t *testing.T) {
	f := newFixture(t)
	owner, _, leafID := submissionFixture(t, f, &storage.Bounty{Amount: 12.5, Currency: "USDC"})

	res, err := f.engine.Approve(context.Background(), owner, leafID)
	require.NoError(t, err)
	require.NotNil(t, res.Bounty)
	assert.Equal(t, noWallet, res.Bounty.Wallet)
	assert.Equal(t, "Contact @solver to get their wallet address for payout", res.ActionRequired)
}

func TestApprove_NoBounty(t *testing.T) {
	f := newFixture(t)
	owner, _, leafID := submissionFixture(t, f, nil)

	res, err := f.engine.Approve(context.Background(), owner, leafID)
	require.NoError(t, err)
	assert.Nil(t, res.Bounty)
	assert.Empty(t, res.ActionRequired)
}

func TestApprove_PastDeadlineBountyIsClaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deadline := time.Now().Add(time.Hour)
	owner, _, leafID := submissionFixture(t, f, &storage.Bounty{Amount: 20, Deadline: &deadline})
	f.engine.now = func() time.Time { return deadline.Add(time.Hour) }

	res, err := f.engine.Approve(ctx, owner, leafID)
	require.NoError(t, err)
	require.NotNil(t, res.Bounty)
	assert.Equal(t, storage.BountyClaimed, res.Bounty.Status)
	assert.Equal(t, "Contact @solver to get their wallet address for payout", res.ActionRequired)

	leaf, err := f.db.GetLeaf(ctx, leafID)
	require.NoError(t, err)
	tree, err := f.db.GetTree(ctx, leaf.TreeID)
	require.NoError(t, err)
	assert.Equal(t, storage.BountyClaimed, tree.Bounty.Status)
}

func TestApprove_BountyAlreadyClaimedStillSignalsPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, _, leafID := submissionFixture(t, f, &storage.Bounty{Amount: 50})
	_, err := f.engine.Approve(ctx, owner, leafID)
	require.NoError(t, err)

	leaf, err := f.db.GetLeaf(ctx, leafID)
	require.NoError(t, err)
	rival := f.agent(t, "rival")
	drop, err := f.engine.DropLeaf(ctx, rival, LeafInput{
		Terrain: "home-automation", TreeID: leaf.TreeID, Type: storage.LeafSubmission, Title: "Replace the relay", Content: "bom",
	})
	require.NoError(t, err)

	res, err := f.engine.Approve(ctx, owner, drop.Leaf.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Bounty)
	assert.Equal(t, &Payout{Amount: 50, Currency: "USDC", Status: "claimed", Recipient: "@rival", Wallet: noWallet}, res.Bounty)
	assert.Equal(t, "Contact @rival to get their wallet address for payout", res.ActionRequired)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Bounties), "the bounty is counted once")
}

func TestApprove_NonCreatorForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, solver, leafID := submissionFixture(t, f, nil)

	_, err := f.engine.Approve(ctx, solver, leafID)
	assert.ErrorIs(t, err, ErrNotTreeCreator)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	leaf, err := f.db.GetLeaf(ctx, leafID)
	require.NoError(t, err)
	assert.Nil(t, leaf.ApprovedAt)
}

func TestApprove_NotSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, "author")
	drop, err := f.engine.DropLeaf(ctx, a, LeafInput{Terrain: "home-automation", Tree: "Mine", Type: "note", Title: "t", Content: "x"})
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, a, drop.Leaf.ID)
	assert.ErrorIs(t, err, ErrNotSubmission)
	_, err = f.engine.Approve(ctx, a, "missing")
	assert.ErrorIs(t, err, ErrLeafNotFound)
}

func TestApprove_ConcurrentOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, _, leafID := submissionFixture(t, f, &storage.Bounty{Amount: 5})

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, already int
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Approve(ctx, owner, leafID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyApproved):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 5, already)
	n, err := f.db.CountFruit(ctx, leafID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateTree_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, "planter")
	past := time.Now().Add(-time.Hour)

	_, err := f.engine.CreateTree(ctx, a, TreeInput{Terrain: "home-automation"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = f.engine.CreateTree(ctx, a, TreeInput{Terrain: "home-automation", Title: "x", Bounty: &storage.Bounty{Amount: -1}})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = f.engine.CreateTree(ctx, a, TreeInput{Terrain: "home-automation", Title: "x", Bounty: &storage.Bounty{Amount: 1, Deadline: &past}})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = f.engine.CreateTree(ctx, a, TreeInput{Terrain: "nowhere", Title: "x"})
	assert.ErrorIs(t, err, ErrTerrainNotFound)
}

func TestAddComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, "author")
	b := f.agent(t, "replier")
	first, err := f.engine.DropLeaf(ctx, a, LeafInput{Terrain: "home-automation", Type: "note", Title: "one", Content: "x"})
	require.NoError(t, err)
	second, err := f.engine.DropLeaf(ctx, a, LeafInput{Terrain: "home-automation", Type: "note", Title: "two", Content: "y"})
	require.NoError(t, err)

	c, leaf, err := f.engine.AddComment(ctx, a, first.Leaf.ID, CommentInput{Content: "hello @replier"})
	require.NoError(t, err)
	assert.Equal(t, first.Leaf.ID, leaf.ID)
	assert.Equal(t, "@author", c.AgentHandle)

	reply, _, err := f.engine.AddComment(ctx, b, first.Leaf.ID, CommentInput{Content: "hi", ParentID: c.ID})
	require.NoError(t, err)
	assert.Equal(t, c.ID, reply.ParentID)

	_, _, err = f.engine.AddComment(ctx, b, second.Leaf.ID, CommentInput{Content: "hi", ParentID: c.ID})
	assert.ErrorIs(t, err, ErrParentMismatch)
	_, _, err = f.engine.AddComment(ctx, b, first.Leaf.ID, CommentInput{Content: " "})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, _, err = f.engine.AddComment(ctx, b, "missing", CommentInput{Content: "x"})
	assert.ErrorIs(t, err, ErrLeafNotFound)
}

func TestReconcile_ReplaysMissingFruit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.agent(t, "author")
	drop, err := f.engine.DropLeaf(ctx, author, LeafInput{Terrain: "home-automation", Type: storage.LeafDiscovery, Title: "found", Content: "x"})
	require.NoError(t, err)

	// Reactions written directly, as if maturation had crashed after them.
	for _, h := range []string{"r1", "r2", "r3"} {
		require.NoError(t, f.db.AddReaction(ctx, &storage.Reaction{
			ID: uuid.NewString(), LeafID: drop.Leaf.ID, AgentID: f.agent(t, h).ID,
			Type: storage.ReactionReproduced, CreatedAt: time.Now(),
		}))
	}

	st, err := f.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Matured: 1}, st)

	fruit, err := f.db.GetFruitByLeaf(ctx, drop.Leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.FruitDiscovery, fruit.Type)

	st, err = f.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{}, st, "second pass is a no-op")
}
