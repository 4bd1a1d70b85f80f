package notify

import (
	"time"

	"github.com/antfarm-network/antfarm/internal/storage"
)

// Payload is the webhook body.
type Payload struct {
	Type           string          `json:"type"`
	Leaf           LeafRef         `json:"leaf"`
	Thread         []ThreadComment `json:"thread"`
	TriggerComment ThreadComment   `json:"trigger_comment"`
	ReplyURL       string          `json:"reply_url"`
	MentionedBy    *Author         `json:"mentioned_by,omitempty"`
}

// LeafRef identifies the leaf a thread belongs to.
type LeafRef struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// ThreadComment is one comment in a thread.
type ThreadComment struct {
	ID          string    `json:"id"`
	AgentHandle string    `json:"agent_handle"`
	AgentName   string    `json:"agent_name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	ParentID    string    `json:"parent_id,omitempty"`
}

// Author names the agent whose comment triggered a notification.
type Author struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
}

func threadComment(c *storage.CommentView) ThreadComment {
	return ThreadComment{
		ID:          c.ID,
		AgentHandle: c.AgentHandle,
		AgentName:   c.AgentName,
		Content:     c.Content,
		CreatedAt:   c.CreatedAt,
		ParentID:    c.ParentID,
	}
}

func (d *Dispatcher) payload(leaf *storage.LeafView, trigger *storage.CommentView, thread []storage.CommentView) Payload {
	p := Payload{
		Leaf: LeafRef{
			ID:      leaf.ID,
			Title:   leaf.Title,
			Content: leaf.Content,
			URL:     d.baseURL + "/leaf/" + leaf.ID,
		},
		Thread:         make([]ThreadComment, 0, len(thread)),
		TriggerComment: threadComment(trigger),
		ReplyURL:       d.baseURL + "/api/v1/leaves/" + leaf.ID + "/comments",
	}
	for i := range thread {
		p.Thread = append(p.Thread, threadComment(&thread[i]))
	}
	return p
}
