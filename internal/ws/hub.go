package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pliu/murmur/internal/auth"
	"github.com/pliu/murmur/internal/metrics"
	"github.com/pliu/murmur/internal/models"
	"github.com/pliu/murmur/internal/presence"
	"github.com/pliu/murmur/internal/protocol"
	"github.com/pliu/murmur/internal/registry"
	"github.com/pliu/murmur/internal/relay"
	"github.com/pliu/murmur/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

type Config struct {
	// GraceWindow keeps a dropped user's registry entry alive so a quick
	// reconnect does not flap presence. Zero removes the entry immediately.
	GraceWindow    time.Duration
	StoreTimeout   time.Duration
	AllowedOrigins []string
}

// Hub owns the lifecycle of every websocket session: authentication,
// registration, teardown and the grace-window timers.
type Hub struct {
	registry *registry.Registry
	presence *presence.Broadcaster
	relay    *relay.Relay
	users    store.UserDirectory
	verifier auth.Verifier
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[*Session]struct{}
	timers   map[string]*time.Timer
	closed   bool
}

func NewHub(cfg Config, reg *registry.Registry, b *presence.Broadcaster, r *relay.Relay, users store.UserDirectory, verifier auth.Verifier, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry: reg,
		presence: b,
		relay:    r,
		users:    users,
		verifier: verifier,
		cfg:      cfg,
		log:      logger.With().Str("component", "hub").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*Session]struct{}),
		timers:   make(map[string]*time.Timer),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// Run drives the periodic roster snapshot until Shutdown.
func (h *Hub) Run() {
	h.presence.Run(h.ctx)
}

// Notify pushes n to userID's current session, if any.
func (h *Hub) Notify(userID int64, n protocol.Notification) bool {
	s, ok := h.registry.Lookup(userID)
	if !ok {
		return false
	}
	return s.Send(n)
}

// Disconnect closes userID's session after an explicit logout. The user is
// removed right away, without waiting for the grace window.
func (h *Hub) Disconnect(userID int64) bool {
	rs, ok := h.registry.Lookup(userID)
	if !ok {
		return false
	}
	s, ok := rs.(*Session)
	if !ok {
		return false
	}
	s.log.Info().Int64("user_id", userID).Msg("session logged out")
	s.loggedOut.Store(true)
	s.close()

	// A session already inside its grace window still has a timer.
	h.mu.Lock()
	t, pending := h.timers[s.ID()]
	if pending {
		delete(h.timers, s.ID())
	}
	h.mu.Unlock()
	if pending && t.Stop() {
		h.release(s)
	}
	return true
}

func (h *Hub) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Hub) forget(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// authenticate resolves a handshake credential to a directory user.
func (h *Hub) authenticate(token string) (*models.User, error) {
	userID, err := h.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.StoreTimeout)
	defer cancel()
	user, err := h.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user %d", models.ErrAuthentication, userID)
		}
		return nil, fmt.Errorf("%w: directory lookup: %w", models.ErrAuthentication, err)
	}
	return user, nil
}

// activate registers s and announces it. It reports false when s could not
// be activated because it is already closing or the hub shut down.
func (h *Hub) activate(s *Session, user *models.User) bool {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return false
	}

	evicted, ok := s.becomeActive(user, h.registry)
	if !ok {
		return false
	}
	if old, isSession := evicted.(*Session); isSession && old.State() == StateActive {
		h.log.Info().Int64("user_id", user.ID).Str("session_id", old.ID()).Msg("session replaced by newer login")
		old.terminate(protocol.SessionReplaced{})
	}

	metrics.SessionsOpened.Inc()
	metrics.ConnectedUsers.Set(float64(h.registry.Len()))
	h.presence.Online(h.ctx, user, evicted == nil)
	return true
}

// deactivate runs once when an active session starts closing.
func (h *Hub) deactivate(s *Session) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if h.cfg.GraceWindow <= 0 || s.loggedOut.Load() {
		h.mu.Unlock()
		h.release(s)
		return
	}
	h.timers[s.ID()] = time.AfterFunc(h.cfg.GraceWindow, func() {
		h.mu.Lock()
		delete(h.timers, s.ID())
		h.mu.Unlock()
		h.release(s)
	})
	h.mu.Unlock()
}

// release drops s from the registry unless a newer session for the same
// user already owns the slot.
func (h *Hub) release(s *Session) {
	if !h.registry.RemoveIf(s.UserID(), s.ID()) {
		return
	}
	metrics.ConnectedUsers.Set(float64(h.registry.Len()))
	h.presence.Offline(h.ctx, s.UserID())
}

// Shutdown cancels pending timers, closes every session and marks the
// remaining registered users offline in the directory.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}

	var errs []error
	now := time.Now()
	for _, id := range h.registry.OnlineIDs() {
		h.registry.Remove(id)
		if err := h.users.SetOnline(ctx, id, false, now); err != nil {
			errs = append(errs, fmt.Errorf("mark user %d offline: %w", id, err))
		}
	}
	metrics.ConnectedUsers.Set(0)
	h.cancel()
	return errors.Join(errs...)
}

// pendingTimers is used by tests.
func (h *Hub) pendingTimers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timers)
}
