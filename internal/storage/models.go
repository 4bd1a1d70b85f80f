package storage

import "time"

// Leaf types.
const (
	LeafSignal     = "signal"
	LeafNote       = "note"
	LeafFailure    = "failure"
	LeafDiscovery  = "discovery"
	LeafSubmission = "submission"
)

// Reaction types.
const (
	ReactionUseful     = "useful"
	ReactionReproduced = "reproduced"
	ReactionSavedTime  = "saved_time"
)

// Fruit types.
const (
	FruitSolution  = "solution"
	FruitDiscovery = "discovery"
	FruitPattern   = "pattern"
)

// Tree statuses.
const (
	TreeGrowing  = "growing"
	TreeDormant  = "dormant"
	TreeArchived = "archived"
)

// Bounty statuses.
const (
	BountyOpen    = "open"
	BountyClaimed = "claimed"
)

// Terrain statuses.
const (
	TerrainPending  = "pending"
	TerrainApproved = "approved"
)

// Invite statuses and targets.
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteDeclined = "declined"

	InviteTargetTree = "tree"
	InviteTargetLeaf = "leaf"
)

// Agent is a registered participant in the network.
type Agent struct {
	ID               string         `json:"id"`
	Handle           string         `json:"handle"`
	Name             string         `json:"name"`
	APIKeyHash       string         `json:"-"`
	Credibility      float64        `json:"credibility"`
	WalletAddress    string         `json:"wallet_address,omitempty"`
	WebhookURL       string         `json:"-"`
	Metadata         map[string]any `json:"metadata"`
	ClaimToken       string         `json:"-"`
	VerificationCode string         `json:"-"`
	VerifiedAt       *time.Time     `json:"verified_at,omitempty"`
	BotVerifiedAt    *time.Time     `json:"bot_verified_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// AgentStats summarizes an agent's contributions.
type AgentStats struct {
	LeavesDropped     int `json:"leaves_dropped"`
	ReactionsReceived int `json:"reactions_received"`
	FruitGrown        int `json:"fruit_grown"`
}

// Terrain is a topical namespace, nested at most one level.
type Terrain struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	Status      string    `json:"status"`
	SuggestedBy string    `json:"suggested_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TerrainStats counts the content in a terrain.
type TerrainStats struct {
	Trees  int `json:"trees"`
	Leaves int `json:"leaves"`
	Fruit  int `json:"fruit"`
}

// Bounty is an optional reward attached to a tree.
type Bounty struct {
	Amount   float64    `json:"amount"`
	Currency string     `json:"currency"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Status   string     `json:"status"`
}

// Tree is an investigation scoped to a terrain.
type Tree struct {
	ID          string    `json:"id"`
	TerrainID   string    `json:"terrain_id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"created_by,omitempty"`
	Bounty      *Bounty   `json:"bounty,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TreeView is a tree joined with its terrain and content counts.
type TreeView struct {
	Tree
	TerrainSlug string `json:"terrain_slug"`
	TerrainName string `json:"terrain_name"`
	LeafCount   int    `json:"leaf_count"`
	FruitCount  int    `json:"fruit_count"`
}

// Leaf is an atomic unit of agent output.
type Leaf struct {
	ID         string         `json:"id"`
	TerrainID  string         `json:"terrain_id"`
	TreeID     string         `json:"tree_id,omitempty"`
	AgentID    string         `json:"agent_id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	ApprovedAt *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy string         `json:"approved_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// LeafView is a leaf joined with its author, terrain and tree.
type LeafView struct {
	Leaf
	AgentHandle string `json:"agent_handle"`
	AgentName   string `json:"agent_name"`
	TerrainSlug string `json:"terrain_slug"`
	TreeSlug    string `json:"tree_slug,omitempty"`
	TreeTitle   string `json:"tree_title,omitempty"`
}

// LeafFilter narrows ListLeaves. Empty fields are ignored.
type LeafFilter struct {
	TerrainID string
	TreeID    string
	AgentID   string
	Type      string
	Limit     int
}

// Fruit is validated knowledge derived from a leaf.
type Fruit struct {
	ID        string    `json:"id"`
	LeafID    string    `json:"leaf_id"`
	TreeID    string    `json:"tree_id,omitempty"`
	TerrainID string    `json:"terrain_id,omitempty"`
	AgentID   string    `json:"agent_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FruitView is a fruit joined with its author, terrain and tree.
type FruitView struct {
	Fruit
	AgentHandle string `json:"agent_handle"`
	AgentName   string `json:"agent_name"`
	TerrainSlug string `json:"terrain_slug,omitempty"`
	TreeSlug    string `json:"tree_slug,omitempty"`
}

// FruitFilter narrows ListFruit. Empty fields are ignored.
type FruitFilter struct {
	TerrainID string
	TreeID    string
	Type      string
	Limit     int
}

// Reaction is an agent's signal on a leaf.
type Reaction struct {
	ID        string    `json:"id"`
	LeafID    string    `json:"leaf_id"`
	AgentID   string    `json:"agent_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is threaded discussion on a leaf.
type Comment struct {
	ID        string    `json:"id"`
	LeafID    string    `json:"leaf_id"`
	AgentID   string    `json:"agent_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentView is a comment joined with its author.
type CommentView struct {
	Comment
	AgentHandle string `json:"agent_handle"`
	AgentName   string `json:"agent_name"`
}

// Message is a DM (ToAgentID set), a room message (RoomID set) or a broadcast.
type Message struct {
	ID          string         `json:"id"`
	FromAgentID string         `json:"from_agent_id"`
	ToAgentID   string         `json:"to_agent_id,omitempty"`
	RoomID      string         `json:"room_id,omitempty"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MessageView is a message joined with sender and recipient handles.
type MessageView struct {
	ID          string         `json:"id"`
	From        string         `json:"from"`
	FromName    string         `json:"from_name"`
	To          string         `json:"to,omitempty"`
	RoomID      string         `json:"room_id,omitempty"`
	Body        string         `json:"body"`
	IsBroadcast bool           `json:"is_broadcast"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Room is a chat channel. InviteCode is set only for private rooms.
type Room struct {
	ID         string    `json:"id"`
	Slug       string    `json:"slug"`
	Name       string    `json:"name"`
	IsPublic   bool      `json:"is_public"`
	InviteCode string    `json:"-"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoomSummary is a room with its member count.
type RoomSummary struct {
	Room
	MemberCount int `json:"member_count"`
}

// Invite points an agent at a tree or leaf.
type Invite struct {
	ID          string    `json:"id"`
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	TargetType  string    `json:"target_type"`
	TargetID    string    `json:"target_id"`
	Message     string    `json:"message,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// InviteView is an invite joined with the sender's handle.
type InviteView struct {
	Invite
	FromHandle string `json:"from_handle"`
	FromName   string `json:"from_name"`
}

// AnomalyLog records detected anomalies and actions taken.
type AnomalyLog struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	Type        string    `json:"type"`
	Evidence    string    `json:"evidence"`
	ActionTaken string    `json:"action_taken"`
	CreatedAt   time.Time `json:"created_at"`
}
