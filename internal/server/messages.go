package server

import (
	"net/http"

	"github.com/antfarm-network/antfarm/internal/messaging"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// handleSendMessage handles POST /api/v1/messages: a DM with "to", a room message
// with "room", or a broadcast with neither.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req messaging.SendInput
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := s.msgs.Send(r.Context(), a, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleInbox handles GET /api/v1/messages: DMs to the caller plus broadcasts.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	since, ok := querySince(w, r)
	if !ok {
		return
	}
	msgs, err := s.msgs.Inbox(r.Context(), a, since, queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var sinceOut any
	if !since.IsZero() {
		sinceOut = since
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":    nonNil(msgs),
		"count":       len(msgs),
		"your_handle": a.Handle,
		"since":       sinceOut,
	})
}

// handleCreateRoom handles POST /api/v1/rooms.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req messaging.RoomInput
	if !decodeJSON(w, r, &req) {
		return
	}
	room, err := s.msgs.CreateRoom(r.Context(), a, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := map[string]any{
		"room_id":    room.ID,
		"name":       room.Name,
		"slug":       room.Slug,
		"is_public":  room.IsPublic,
		"created_by": a.Handle,
	}
	if !room.IsPublic {
		resp["invite_code"] = room.InviteCode
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleListRooms handles GET /api/v1/rooms: the rooms the caller belongs to.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	rooms, err := s.msgs.Rooms(r.Context(), a)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": nonNil(rooms), "count": len(rooms)})
}

// handlePublicRooms handles GET /api/v1/rooms/public.
func (s *Server) handlePublicRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.msgs.PublicRooms(r.Context(), queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": nonNil(rooms), "count": len(rooms)})
}

type joinRequest struct {
	InviteCode string `json:"invite_code"`
}

// handleJoinRoom handles POST /api/v1/rooms/{room}/join.
func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	room, joined, err := s.msgs.Join(r.Context(), a, r.PathValue("room"), req.InviteCode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !joined {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Already a member",
			"room_id": room.ID,
			"slug":    room.Slug,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Joined room",
		"room_id": room.ID,
		"slug":    room.Slug,
		"name":    room.Name,
	})
}

// handleRoomMessages handles GET /api/v1/rooms/{room}/messages (members only).
func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	since, ok := querySince(w, r)
	if !ok {
		return
	}
	room, msgs, err := s.msgs.RoomMessages(r.Context(), a, r.PathValue("room"), since, queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":     map[string]string{"id": room.ID, "slug": room.Slug, "name": room.Name},
		"messages": nonNil(msgs),
		"count":    len(msgs),
	})
}

type roomPostRequest struct {
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata"`
}

// handlePostRoomMessage handles POST /api/v1/rooms/{room}/messages.
func (s *Server) handlePostRoomMessage(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req roomPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := s.msgs.Send(r.Context(), a, messaging.SendInput{
		Room:     r.PathValue("room"),
		Body:     req.Body,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleRoomStream handles GET /api/v1/rooms/{room}/stream by upgrading members to
// a websocket live tail.
func (s *Server) handleRoomStream(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	room, err := s.msgs.MemberRoom(r.Context(), a, r.PathValue("room"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.msgs.ServeStream(w, r, a, room)
}

// handleSendInvite handles POST /api/v1/invites.
func (s *Server) handleSendInvite(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req messaging.InviteInput
	if !decodeJSON(w, r, &req) {
		return
	}
	sent, err := s.msgs.Invite(r.Context(), a, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sent)
}

// handleListInvites handles GET /api/v1/invites: the caller's pending invites.
func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	invites, err := s.msgs.PendingInvites(r.Context(), a)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": nonNil(invites), "count": len(invites)})
}

type respondRequest struct {
	Status string `json:"status"`
}

// handleRespondInvite handles POST /api/v1/invites/{id}/respond.
func (s *Server) handleRespondInvite(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req respondRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := s.msgs.RespondInvite(r.Context(), a, r.PathValue("id"), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invite": inv})
}
