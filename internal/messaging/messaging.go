// Package messaging implements agent-to-agent DMs, broadcasts, rooms and invites.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/agent"
	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/events"
	"github.com/antfarm-network/antfarm/internal/metrics"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// MaxBodyLen caps a message body.
const MaxBodyLen = 16 * 1024

// Messaging errors, classified for the HTTP layer through apperr.
var (
	ErrEmptyBody          = apperr.Invalid("message body required")
	ErrBothTargets        = apperr.Invalid("a message goes to an agent or a room, not both")
	ErrRoomNotFound       = apperr.NotFound("room not found")
	ErrNotMember          = apperr.Forbidden("not a member of this room")
	ErrInvalidInviteCode  = apperr.Forbidden("invalid or missing invite code")
	ErrRoomNameRequired   = apperr.Invalid("room name required")
	ErrInviteNotFound     = apperr.NotFound("no pending invite with this id")
	ErrInvalidInviteReply = apperr.Invalid("status must be accepted or declined")
)

// Options configures a Service.
type Options struct {
	Hub       *Hub
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service runs messaging against the store.
type Service struct {
	db      *storage.DB
	hub     *Hub
	pub     events.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	pongWait time.Duration
}

// New returns a messaging service over db.
func New(db *storage.DB, opts Options) *Service {
	s := &Service{db: db, hub: opts.Hub, pub: opts.Publisher, metrics: opts.Metrics, log: opts.Logger, now: opts.Now, pongWait: DefaultPongWait}
	if s.hub == nil {
		s.hub = NewHub()
	}
	if s.pub == nil {
		s.pub = events.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Hub returns the live room hub.
func (s *Service) Hub() *Hub { return s.hub }

// SendInput is a message as submitted by an agent. To and Room are mutually
// exclusive; leaving both empty broadcasts.
type SendInput struct {
	To       string         `json:"to"`
	Room     string         `json:"room"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata"`
}

// Send persists a DM, room message or broadcast from sender.
func (s *Service) Send(ctx context.Context, from *storage.Agent, in SendInput) (*storage.MessageView, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if len(body) > MaxBodyLen {
		return nil, apperr.Invalid("message body exceeds %d bytes", MaxBodyLen)
	}
	if in.To != "" && in.Room != "" {
		return nil, ErrBothTargets
	}

	m := &storage.Message{
		ID:          uuid.NewString(),
		FromAgentID: from.ID,
		Body:        body,
		Metadata:    in.Metadata,
		CreatedAt:   s.now(),
	}
	switch {
	case in.To != "":
		to, err := s.db.GetAgentByHandle(ctx, in.To)
		if storage.IsNotFound(err) {
			return nil, apperr.NotFound("recipient not found: %s", in.To)
		}
		if err != nil {
			return nil, err
		}
		m.ToAgentID = to.ID
	case in.Room != "":
		room, err := s.memberRoom(ctx, from, in.Room)
		if err != nil {
			return nil, err
		}
		m.RoomID = room.ID
	}

	if err := s.db.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	view, err := s.db.GetMessageView(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("reload message: %w", err)
	}
	if m.RoomID != "" {
		s.hub.Publish(m.RoomID, view)
	}
	events.Emit(ctx, s.pub, s.log, events.MessageSent, view)
	return view, nil
}

// Inbox returns DMs to the agent plus broadcasts, newest first.
func (s *Service) Inbox(ctx context.Context, a *storage.Agent, since time.Time, limit int) ([]storage.MessageView, error) {
	return s.db.Inbox(ctx, a.ID, since, limit)
}

// ParseSince accepts an RFC 3339 timestamp or unix milliseconds. Empty yields the zero time.
func ParseSince(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, apperr.Invalid("since must be RFC 3339 or unix milliseconds")
	}
	return t, nil
}

var roomSlugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// RoomSlug lowercases name, collapses every run of other characters to '-' and trims
// leading and trailing dashes.
func RoomSlug(name string) string {
	return strings.Trim(roomSlugStrip.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// RoomInput is a room as submitted by an agent. Rooms are public unless IsPublic is
// explicitly false.
type RoomInput struct {
	Name     string   `json:"name"`
	Members  []string `json:"members"`
	IsPublic *bool    `json:"is_public"`
}

// CreateRoom creates a room with creator and the listed handles as members. Handles
// that match no agent are ignored. The invite code is set only for private rooms.
func (s *Service) CreateRoom(ctx context.Context, creator *storage.Agent, in RoomInput) (*storage.Room, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrRoomNameRequired
	}
	slug := RoomSlug(name)
	if slug == "" {
		return nil, apperr.Invalid("room name must contain letters or digits")
	}

	room := &storage.Room{
		ID:        uuid.NewString(),
		Slug:      slug,
		Name:      name,
		IsPublic:  in.IsPublic == nil || *in.IsPublic,
		CreatedBy: creator.ID,
		CreatedAt: s.now(),
	}
	if !room.IsPublic {
		code, err := agent.GenerateInviteCode()
		if err != nil {
			return nil, err
		}
		room.InviteCode = code
	}

	var memberIDs []string
	if len(in.Members) > 0 {
		handles := make([]string, len(in.Members))
		for i, h := range in.Members {
			handles[i] = storage.NormalizeHandle(h)
		}
		members, err := s.db.GetAgentsByHandles(ctx, handles)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.ID != creator.ID {
				memberIDs = append(memberIDs, m.ID)
			}
		}
	}

	if err := s.db.CreateRoom(ctx, room, memberIDs); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, apperr.Conflict("room already exists: %s", slug)
		}
		return nil, err
	}
	s.log.Debug("room created", zap.String("slug", slug), zap.Bool("public", room.IsPublic), zap.Int("members", len(memberIDs)+1))
	return room, nil
}

// Join adds a to the room. A private room requires its exact invite code. Joining
// again reports joined=false and writes nothing.
func (s *Service) Join(ctx context.Context, a *storage.Agent, roomRef, inviteCode string) (*storage.Room, bool, error) {
	room, err := s.room(ctx, roomRef)
	if err != nil {
		return nil, false, err
	}
	member, err := s.db.IsRoomMember(ctx, room.ID, a.ID)
	if err != nil {
		return nil, false, err
	}
	if member {
		return room, false, nil
	}
	if !room.IsPublic && (inviteCode == "" || inviteCode != room.InviteCode) {
		return nil, false, ErrInvalidInviteCode
	}
	joined, err := s.db.AddRoomMember(ctx, room.ID, a.ID, s.now())
	if err != nil {
		return nil, false, err
	}
	return room, joined, nil
}

// RoomMessages returns a room's messages, newest first, to a member.
func (s *Service) RoomMessages(ctx context.Context, a *storage.Agent, roomRef string, since time.Time, limit int) (*storage.Room, []storage.MessageView, error) {
	room, err := s.memberRoom(ctx, a, roomRef)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.db.RoomMessages(ctx, room.ID, since, limit)
	if err != nil {
		return nil, nil, err
	}
	return room, msgs, nil
}

// Rooms lists the rooms a belongs to.
func (s *Service) Rooms(ctx context.Context, a *storage.Agent) ([]storage.RoomSummary, error) {
	return s.db.ListRoomsForAgent(ctx, a.ID)
}

// PublicRooms lists public rooms, largest first.
func (s *Service) PublicRooms(ctx context.Context, limit int) ([]storage.RoomSummary, error) {
	return s.db.ListPublicRooms(ctx, limit)
}

// MemberRoom resolves roomRef and requires a to be a member.
func (s *Service) MemberRoom(ctx context.Context, a *storage.Agent, roomRef string) (*storage.Room, error) {
	return s.memberRoom(ctx, a, roomRef)
}

func (s *Service) memberRoom(ctx context.Context, a *storage.Agent, roomRef string) (*storage.Room, error) {
	room, err := s.room(ctx, roomRef)
	if err != nil {
		return nil, err
	}
	ok, err := s.db.IsRoomMember(ctx, room.ID, a.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}
	return room, nil
}

func (s *Service) room(ctx context.Context, ref string) (*storage.Room, error) {
	room, err := s.db.GetRoom(ctx, ref)
	if storage.IsNotFound(err) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}
