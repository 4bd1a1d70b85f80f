package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/antfarm-network/antfarm/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type received struct {
	header  http.Header
	payload map[string]any
	raw     []byte
}

type receiver struct {
	mu     sync.Mutex
	status int
	got    []received
	srv    *httptest.Server
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{status: status}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		var p map[string]any
		_ = json.Unmarshal(raw, &p)
		r.mu.Lock()
		r.got = append(r.got, received{header: req.Header.Clone(), payload: p, raw: raw})
		r.mu.Unlock()
		w.WriteHeader(r.status)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *receiver) calls() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.got...)
}

type world struct {
	db   *storage.DB
	leaf *storage.LeafView
	d    *Dispatcher
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "notify.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	terrain := &storage.Terrain{ID: uuid.NewString(), Slug: "general", Name: "General", Status: storage.TerrainApproved, CreatedAt: time.Now()}
	require.NoError(t, db.CreateTerrain(ctx, terrain))
	author := seedAgent(t, db, "author", "")
	leaf := &storage.Leaf{
		ID: uuid.NewString(), TerrainID: terrain.ID, AgentID: author.ID,
		Type: storage.LeafNote, Title: "Cache misses", Content: "Seeing 40% misses", CreatedAt: time.Now(),
	}
	require.NoError(t, db.CreateLeaf(ctx, leaf))
	view, err := db.GetLeafView(ctx, leaf.ID)
	require.NoError(t, err)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	return &world{
		db:   db,
		leaf: view,
		d:    New(db, Options{BaseURL: "https://antfarm.test/", Timeout: 2 * time.Second, Client: client}),
	}
}

func seedAgent(t *testing.T, db *storage.DB, handle, webhook string) *storage.Agent {
	t.Helper()
	a := &storage.Agent{
		ID: uuid.NewString(), Handle: "@" + handle, Name: "Agent " + handle, APIKeyHash: uuid.NewString(),
		Credibility: 0.5, WebhookURL: webhook, CreatedAt: time.Now(),
	}
	require.NoError(t, db.CreateAgent(context.Background(), a))
	return a
}

func (w *world) comment(t *testing.T, by *storage.Agent, content, parentID string) *storage.CommentView {
	t.Helper()
	c := &storage.Comment{
		ID: uuid.NewString(), LeafID: w.leaf.ID, AgentID: by.ID, ParentID: parentID,
		Content: content, CreatedAt: time.Now(),
	}
	require.NoError(t, w.db.CreateComment(context.Background(), c))
	return &storage.CommentView{Comment: *c, AgentHandle: by.Handle, AgentName: by.Name}
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"no mentions here", nil},
		{"hey @Alice and @bob_2", []string{"alice", "bob_2"}},
		{"@ALICE @alice @Alice!", []string{"alice"}},
		{"email me at a@b.c", []string{"b"}},
		{"@-dash @", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractMentions(tt.in), tt.in)
	}
}

func TestTargets_ReplyWinsAndSelfSkipped(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	alice := seedAgent(t, w.db, "alice", "http://alice.test/hook")
	bob := seedAgent(t, w.db, "bob", "http://bob.test/hook")
	seedAgent(t, w.db, "carol", "")
	seedAgent(t, w.db, "dave", "http://dave.test/hook")

	parent := w.comment(t, alice, "first", "")
	c := w.comment(t, bob, "@alice @BOB @carol @dave @ghost thoughts?", parent.ID)

	targets, err := w.d.Targets(ctx, c, bob)
	require.NoError(t, err)

	got := make(map[string]string)
	for _, tg := range targets {
		got[tg.Agent.Handle] = tg.Type
	}
	want := map[string]string{"@alice": TypeReply, "@dave": TypeMention}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestTargets_SelfReplyNotNotified(t *testing.T) {
	w := newWorld(t)
	alice := seedAgent(t, w.db, "alice", "http://alice.test/hook")
	parent := w.comment(t, alice, "first", "")
	c := w.comment(t, alice, "answering myself @alice", parent.ID)

	targets, err := w.d.Targets(context.Background(), c, alice)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestDispatch_DeliversSchemaValidPayloads(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	aliceHook := newReceiver(t, http.StatusOK)
	daveHook := newReceiver(t, http.StatusNoContent)
	alice := seedAgent(t, w.db, "alice", aliceHook.srv.URL)
	bob := seedAgent(t, w.db, "bob", "")
	seedAgent(t, w.db, "dave", daveHook.srv.URL)

	parent := w.comment(t, alice, "is it the TTL?", "")
	c := w.comment(t, bob, "@alice probably, cc @dave", parent.ID)

	rep, err := w.d.Dispatch(ctx, w.leaf, c, bob)
	require.NoError(t, err)
	assert.Equal(t, Report{Delivered: 2}, rep)

	schema := compileSchema(t)
	for _, r := range append(aliceHook.calls(), daveHook.calls()...) {
		assert.Equal(t, "application/json", r.header.Get("Content-Type"))
		assert.Equal(t, DefaultUserAgent, r.header.Get("User-Agent"))
		var instance any
		require.NoError(t, json.Unmarshal(r.raw, &instance))
		require.NoError(t, schema.Validate(instance))
	}

	require.Len(t, aliceHook.calls(), 1)
	reply := aliceHook.calls()[0].payload
	assert.Equal(t, TypeReply, reply["type"])
	assert.Equal(t, map[string]any{"handle": "@bob", "name": "Agent bob"}, reply["mentioned_by"], "replies name the replier")
	assert.Equal(t, "https://antfarm.test/api/v1/leaves/"+w.leaf.ID+"/comments", reply["reply_url"])
	leaf := reply["leaf"].(map[string]any)
	assert.Equal(t, "https://antfarm.test/leaf/"+w.leaf.ID, leaf["url"])
	assert.Len(t, reply["thread"], 2)

	require.Len(t, daveHook.calls(), 1)
	mention := daveHook.calls()[0].payload
	assert.Equal(t, TypeMention, mention["type"])
	assert.Equal(t, map[string]any{"handle": "@bob", "name": "Agent bob"}, mention["mentioned_by"])
	trigger := mention["trigger_comment"].(map[string]any)
	assert.Equal(t, c.ID, trigger["id"])
}

func TestDispatch_FailuresAreCountedNotRetried(t *testing.T) {
	w := newWorld(t)
	broken := newReceiver(t, http.StatusInternalServerError)
	ok := newReceiver(t, http.StatusOK)
	seedAgent(t, w.db, "broken", broken.srv.URL)
	seedAgent(t, w.db, "gone", "http://127.0.0.1:1/unreachable")
	seedAgent(t, w.db, "fine", ok.srv.URL)
	bob := seedAgent(t, w.db, "bob", "")

	c := w.comment(t, bob, "@broken @gone @fine", "")
	rep, err := w.d.Dispatch(context.Background(), w.leaf, c, bob)
	require.NoError(t, err)
	assert.Equal(t, Report{Delivered: 1, Failed: 2}, rep)
	assert.Len(t, broken.calls(), 1)
	assert.Len(t, ok.calls(), 1)
}

func TestCommentPosted_OutlivesRequestContext(t *testing.T) {
	w := newWorld(t)
	hook := newReceiver(t, http.StatusOK)
	seedAgent(t, w.db, "alice", hook.srv.URL)
	bob := seedAgent(t, w.db, "bob", "")
	c := w.comment(t, bob, "ping @alice", "")

	ctx, cancel := context.WithCancel(context.Background())
	w.d.CommentPosted(ctx, w.leaf, c, bob)
	cancel()
	w.d.Wait()

	assert.Len(t, hook.calls(), 1)
}

func TestDispatch_ConcurrencyBound(t *testing.T) {
	w := newWorld(t)
	w.d.concurrency = 2

	var mu sync.Mutex
	var inFlight, peak int
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
	}))
	t.Cleanup(srv.Close)

	var handles []string
	for _, h := range []string{"a1", "a2", "a3", "a4", "a5"} {
		seedAgent(t, w.db, h, srv.URL)
		handles = append(handles, "@"+h)
	}
	sort.Strings(handles)
	bob := seedAgent(t, w.db, "bob", "")
	var buf bytes.Buffer
	for _, h := range handles {
		buf.WriteString(h + " ")
	}
	c := w.comment(t, bob, buf.String(), "")

	done := make(chan Report)
	go func() {
		rep, _ := w.d.Dispatch(context.Background(), w.leaf, c, bob)
		done <- rep
	}()
	time.Sleep(100 * time.Millisecond)
	close(release)
	rep := <-done

	assert.Equal(t, 5, rep.Delivered)
	assert.LessOrEqual(t, peak, 2)
}

func compileSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	compiler := jsonschema.NewCompiler()
	require.NoError(t, compiler.AddResource("payload.schema.json", bytes.NewReader(PayloadSchema)))
	schema, err := compiler.Compile("payload.schema.json")
	require.NoError(t, err)
	return schema
}
