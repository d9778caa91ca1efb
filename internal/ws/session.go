package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pliu/murmur/internal/metrics"
	"github.com/pliu/murmur/internal/models"
	"github.com/pliu/murmur/internal/protocol"
	"github.com/pliu/murmur/internal/registry"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one websocket connection. Outgoing frames go through a
// buffered channel drained by writePump; a session whose buffer is full is
// treated as dead and closed.
type Session struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	log  zerolog.Logger

	mu       sync.Mutex // guards state transitions
	state    atomic.Int32
	userID   atomic.Int64
	lastSeen atomic.Int64

	// loggedOut skips the grace window on teardown.
	loggedOut atomic.Bool
	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn) *Session {
	s := &Session{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	s.log = h.log.With().Str("session_id", s.id).Logger()
	s.touch()
	return s
}

func (s *Session) ID() string    { return s.id }
func (s *Session) UserID() int64 { return s.userID.Load() }
func (s *Session) State() State  { return State(s.state.Load()) }

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state.Store(int32(st))
	s.mu.Unlock()
}

// becomeActive moves an authenticating session to Active and registers it
// in the same critical section, so a concurrent close either sees the
// session registered or prevents the registration.
func (s *Session) becomeActive(user *models.User, reg *registry.Registry) (registry.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateAuthenticating {
		return nil, false
	}
	s.userID.Store(user.ID)
	s.state.Store(int32(StateActive))
	return reg.Register(s), true
}

// Send queues n for delivery. It is a no-op unless the session is active.
func (s *Session) Send(n protocol.Notification) bool {
	if s.State() != StateActive {
		return false
	}
	return s.enqueue(n)
}

func (s *Session) enqueue(n protocol.Notification) bool {
	data, err := protocol.Encode(n)
	if err != nil {
		s.log.Error().Err(err).Str("type", n.NotificationType()).Msg("failed to encode notification")
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	default:
		s.log.Warn().Int64("user_id", s.UserID()).Msg("send buffer full, dropping session")
		metrics.SlowClientsDropped.Inc()
		go s.close()
		return false
	}
}

// terminate queues a final frame and closes the session. writePump flushes
// the frame before the close message.
func (s *Session) terminate(n protocol.Notification) {
	s.enqueue(n)
	s.close()
}

// close tears the session down once. An active session is handed back to
// the hub for deregistration.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.State()
		s.state.Store(int32(StateClosing))
		s.mu.Unlock()

		close(s.done)
		s.hub.forget(s)
		if prev == StateActive {
			s.log.Debug().Int64("user_id", s.UserID()).Msg("session closing")
			s.hub.deactivate(s)
		}
	})
}

func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		s.touch()

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			s.Send(protocol.RequestFailed{Request: "unknown", Reason: protocol.Reason(err), Detail: err.Error()})
			continue
		}
		s.handle(s.hub.ctx, cmd)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.state.Store(int32(StateClosed))
	}()

	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			s.flush()
			s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (s *Session) flush() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// handle runs one command. Commands from a session are processed in
// arrival order.
func (s *Session) handle(ctx context.Context, cmd protocol.Command) {
	if s.State() != StateActive {
		return
	}
	r := s.hub.relay
	userID := s.UserID()

	switch c := cmd.(type) {
	case protocol.SendMessage:
		if _, err := r.Send(ctx, s, c); err != nil {
			s.sendFailed(err)
		}
	case protocol.SendGroupMessage:
		if _, err := r.SendGroup(ctx, s, c); err != nil {
			s.sendFailed(err)
		}
	case protocol.FetchHistory:
		messages, err := r.History(ctx, userID, c.OtherUserID)
		if err != nil {
			s.requestFailed(c, err)
			return
		}
		s.Send(protocol.HistoryResult{OtherUserID: c.OtherUserID, Messages: messages})
	case protocol.FetchGroupHistory:
		messages, err := r.GroupHistory(ctx, userID, c.GroupID)
		if err != nil {
			s.requestFailed(c, err)
			return
		}
		s.Send(protocol.GroupHistoryResult{GroupID: c.GroupID, Messages: messages})
	case protocol.Typing:
		r.Typing(userID, c.RecipientID)
	case protocol.StopTyping:
		r.StopTyping(userID, c.RecipientID)
	case protocol.MarkSeen:
		if err := r.MarkSeen(ctx, userID, c.MessageID); err != nil {
			s.requestFailed(c, err)
		}
	case protocol.MarkRead:
		if err := r.MarkRead(ctx, userID, c.MessageID); err != nil {
			s.requestFailed(c, err)
		}
	}
}

func (s *Session) sendFailed(err error) {
	reason := protocol.Reason(err)
	metrics.SendFailures.WithLabelValues(reason).Inc()
	s.logFailure(err, "send failed")
	s.Send(protocol.SendFailed{Reason: reason, Detail: err.Error()})
}

func (s *Session) requestFailed(cmd protocol.Command, err error) {
	s.logFailure(err, "request failed")
	s.Send(protocol.RequestFailed{Request: cmd.CommandType(), Reason: protocol.Reason(err), Detail: err.Error()})
}

func (s *Session) logFailure(err error, msg string) {
	if errors.Is(err, models.ErrStore) {
		s.log.Error().Err(err).Int64("user_id", s.UserID()).Msg(msg)
		return
	}
	s.log.Debug().Err(err).Int64("user_id", s.UserID()).Msg(msg)
}
