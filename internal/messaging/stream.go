package messaging

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/ratelimit"
	"github.com/antfarm-network/antfarm/internal/storage"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 128 << 10
)

// DefaultPongWait is how long a stream waits for any frame or pong before it
// considers the client gone. Pings go out at nine tenths of it.
const DefaultPongWait = 60 * time.Second

// Frame is the JSON envelope exchanged on a room stream.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutFrame is a frame sent to the client.
type OutFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// SendPayload is the payload of a client "send" frame.
type SendPayload struct {
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeStream upgrades the request to a websocket that tails room's new messages
// for member. The client may send {"type":"send"} frames to post into the room and
// {"type":"ping"} frames to check liveness. The caller has already checked membership.
func (s *Service) ServeStream(w http.ResponseWriter, r *http.Request, member *storage.Agent, room *storage.Room) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer s.metrics.StreamOpened()()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	ping := time.NewTicker(s.pongWait * 9 / 10)
	defer ping.Stop()

	msgs, unsubscribe := s.hub.Subscribe(room.ID)
	defer unsubscribe()

	replies := make(chan OutFrame, 8)
	stop := make(chan struct{})
	done := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(done)
		s.readFrames(r, conn, member, room, replies, stop)
	}()

	for {
		var out OutFrame
		select {
		case m, ok := <-msgs:
			if !ok {
				return
			}
			out = OutFrame{Type: "message", Payload: m}
		case out = <-replies:
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug("websocket ping failed", zap.String("room", room.Slug), zap.Error(err))
				return
			}
			continue
		case <-done:
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(out); err != nil {
			s.log.Debug("websocket write failed", zap.String("room", room.Slug), zap.Error(err))
			return
		}
	}
}

func (s *Service) readFrames(r *http.Request, conn *websocket.Conn, member *storage.Agent, room *storage.Room, replies chan<- OutFrame, stop <-chan struct{}) {
	limiter := ratelimit.New(60, time.Minute)
	reply := func(f OutFrame) bool {
		select {
		case replies <- f:
			return true
		case <-stop:
			return false
		}
	}
	fail := func(msg string) bool {
		return reply(OutFrame{Type: "error", Payload: map[string]string{"error": msg}})
	}

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", zap.String("room", room.Slug), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.pongWait))
		if !limiter.Allow() {
			if !fail("rate limit exceeded") {
				return
			}
			continue
		}

		var ok bool
		switch f.Type {
		case "ping":
			ok = reply(OutFrame{Type: "pong"})
		case "send":
			var p SendPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				ok = fail("invalid send payload")
				break
			}
			if _, err := s.Send(r.Context(), member, SendInput{Room: room.ID, Body: p.Body, Metadata: p.Metadata}); err != nil {
				ok = fail(apperr.Message(err))
				break
			}
			ok = true
		default:
			ok = fail("unknown frame type: " + f.Type)
		}
		if !ok {
			return
		}
	}
}
