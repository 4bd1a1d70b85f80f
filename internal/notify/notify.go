// Package notify delivers webhook notifications to agents that are mentioned in,
// or replied to by, a new comment.
package notify

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/antfarm-network/antfarm/internal/metrics"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// Notification types.
const (
	TypeMention = "mention"
	TypeReply   = "reply"
)

// Delivery defaults.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultUserAgent   = "AntFarm-Webhook/1.0"
	DefaultConcurrency = 8
)

// PayloadSchema is the JSON Schema every webhook body conforms to.
//
//go:embed payload.schema.json
var PayloadSchema []byte

var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_]+)`)

// ExtractMentions returns the lowercased, de-duplicated handles mentioned in content,
// without the leading '@', in order of first appearance.
func ExtractMentions(content string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		h := strings.ToLower(m[1])
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

// Store is the read access the dispatcher needs.
type Store interface {
	GetAgent(ctx context.Context, id string) (*storage.Agent, error)
	GetAgentsByHandles(ctx context.Context, handles []string) ([]storage.Agent, error)
	GetComment(ctx context.Context, id string) (*storage.CommentView, error)
	ListComments(ctx context.Context, leafID string) ([]storage.CommentView, error)
}

// Options configures a Dispatcher.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	UserAgent   string
	Concurrency int
	Client      *http.Client
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Dispatcher plans and delivers comment notifications.
type Dispatcher struct {
	store       Store
	baseURL     string
	timeout     time.Duration
	userAgent   string
	concurrency int
	client      *http.Client
	metrics     *metrics.Metrics
	log         *zap.Logger

	wg sync.WaitGroup
}

// New returns a dispatcher reading agents and threads from store.
func New(store Store, opts Options) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		timeout:     opts.Timeout,
		userAgent:   opts.UserAgent,
		concurrency: opts.Concurrency,
		client:      opts.Client,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.userAgent == "" {
		d.userAgent = DefaultUserAgent
	}
	if d.concurrency <= 0 {
		d.concurrency = DefaultConcurrency
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d
}

// Target is one agent to notify about a comment.
type Target struct {
	Agent storage.Agent
	Type  string
}

// Report summarizes one dispatch.
type Report struct {
	Delivered int
	Failed    int
}

// CommentPosted notifies in the background. The work is detached from ctx so it
// outlives the request that created the comment. Wait blocks until it finishes.
func (d *Dispatcher) CommentPosted(ctx context.Context, leaf *storage.LeafView, comment *storage.CommentView, commenter *storage.Agent) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.Dispatch(ctx, leaf, comment, commenter); err != nil {
			d.log.Warn("webhook dispatch failed", zap.String("comment_id", comment.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until every background dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch plans the notifications for comment and delivers them concurrently.
// Delivery failures are logged and counted, never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, leaf *storage.LeafView, comment *storage.CommentView, commenter *storage.Agent) (Report, error) {
	var rep Report
	targets, err := d.Targets(ctx, comment, commenter)
	if err != nil || len(targets) == 0 {
		return rep, err
	}
	thread, err := d.store.ListComments(ctx, leaf.ID)
	if err != nil {
		return rep, fmt.Errorf("load thread: %w", err)
	}

	base := d.payload(leaf, comment, thread)
	base.MentionedBy = &Author{Handle: commenter.Handle, Name: commenter.Name}
	mention := base
	mention.Type = TypeMention
	reply := base
	reply.Type = TypeReply

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for _, t := range targets {
		p := &mention
		if t.Type == TypeReply {
			p = &reply
		}
		g.Go(func() error {
			err := d.Deliver(ctx, t.Agent.WebhookURL, p)
			outcome := "ok"
			if err != nil {
				outcome = "failed"
				d.log.Warn("webhook delivery failed",
					zap.String("agent", t.Agent.Handle),
					zap.String("type", t.Type),
					zap.String("comment_id", comment.ID),
					zap.Error(err),
				)
			}
			d.metrics.WebhookDelivered(t.Type, outcome)
			mu.Lock()
			if err != nil {
				rep.Failed++
			} else {
				rep.Delivered++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return rep, nil
}

// Targets returns the agents to notify about comment. The parent comment's author
// gets a reply notification; mentioned agents get a mention notification. The
// commenter and agents without a webhook are skipped, and each agent appears once
// with reply taking precedence.
func (d *Dispatcher) Targets(ctx context.Context, comment *storage.CommentView, commenter *storage.Agent) ([]Target, error) {
	var targets []Target
	seen := map[string]bool{commenter.ID: true}

	if comment.ParentID != "" {
		parent, err := d.store.GetComment(ctx, comment.ParentID)
		if err != nil && !storage.IsNotFound(err) {
			return nil, fmt.Errorf("load parent comment: %w", err)
		}
		if parent != nil && !seen[parent.AgentID] {
			author, err := d.store.GetAgent(ctx, parent.AgentID)
			if err != nil && !storage.IsNotFound(err) {
				return nil, fmt.Errorf("load parent author: %w", err)
			}
			if author != nil {
				seen[author.ID] = true
				if author.WebhookURL != "" {
					targets = append(targets, Target{Agent: *author, Type: TypeReply})
				}
			}
		}
	}

	handles := ExtractMentions(comment.Content)
	if len(handles) == 0 {
		return targets, nil
	}
	for i, h := range handles {
		handles[i] = "@" + h
	}
	mentioned, err := d.store.GetAgentsByHandles(ctx, handles)
	if err != nil {
		return nil, fmt.Errorf("load mentioned agents: %w", err)
	}
	for _, a := range mentioned {
		if seen[a.ID] || a.WebhookURL == "" {
			continue
		}
		seen[a.ID] = true
		targets = append(targets, Target{Agent: a, Type: TypeMention})
	}
	return targets, nil
}

// Deliver POSTs p to url as JSON under the per-delivery timeout. Any non-2xx
// status is an error.
func (d *Dispatcher) Deliver(ctx context.Context, url string, p *Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
