// Package presence derives online state from the connection registry and
// publishes it: incremental user_online/user_offline events on each
// transition, plus a periodic full roster snapshot so that clients which
// missed an event converge within one interval.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pliu/murmur/internal/metrics"
	"github.com/pliu/murmur/internal/models"
	"github.com/pliu/murmur/internal/protocol"
	"github.com/pliu/murmur/internal/registry"
	"github.com/pliu/murmur/internal/store"
)

type Broadcaster struct {
	// mu orders registry checks with the events derived from them, so a
	// user_online never follows the matching user_offline.
	mu sync.Mutex

	registry     *registry.Registry
	users        store.UserDirectory
	interval     time.Duration
	storeTimeout time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

func New(reg *registry.Registry, users store.UserDirectory, interval, storeTimeout time.Duration, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry:     reg,
		users:        users,
		interval:     interval,
		storeTimeout: storeTimeout,
		log:          logger.With().Str("component", "presence").Logger(),
		now:          time.Now,
	}
}

// Reconcile clears stale online flags left in the directory by a previous
// process. The registry starts empty, so nobody is online yet.
func (b *Broadcaster) Reconcile(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	defer cancel()
	if err := b.users.ResetOnline(ctx); err != nil {
		return fmt.Errorf("reset online flags: %w", err)
	}
	return nil
}

// Online announces an activated session. transitioned is false when the
// user already held a registry entry, e.g. a reconnect inside the grace
// window; then only the snapshot goes out.
func (b *Broadcaster) Online(ctx context.Context, user *models.User, transitioned bool) {
	b.mu.Lock()
	announced := transitioned && b.registry.IsOnline(user.ID)
	if announced {
		b.registry.Broadcast(protocol.UserOnline{ID: user.ID, Username: user.Username})
	}
	b.mu.Unlock()
	if announced {
		metrics.PresenceEvents.WithLabelValues("online").Inc()
		b.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user online")
	}

	b.writeBack(ctx, user.ID, true)
	b.broadcastSnapshot(ctx)
}

// Offline announces that userID left the registry. Nothing is announced if
// the user registered again before this ran.
func (b *Broadcaster) Offline(ctx context.Context, userID int64) {
	b.mu.Lock()
	announced := !b.registry.IsOnline(userID)
	if announced {
		b.registry.Broadcast(protocol.UserOffline{ID: userID})
	}
	b.mu.Unlock()
	if announced {
		metrics.PresenceEvents.WithLabelValues("offline").Inc()
		b.log.Info().Int64("user_id", userID).Msg("user offline")
	}

	b.writeBack(ctx, userID, false)
	b.broadcastSnapshot(ctx)
}

// writeBack updates the directory's cached flag. The registry may change
// while the write is pending, so it is consulted again afterwards and the
// flag rewritten when they disagree. Failures only cost freshness of that
// cache, so they are logged and dropped.
func (b *Broadcaster) writeBack(ctx context.Context, userID int64, online bool) {
	for i := 0; i < 3; i++ {
		wctx, cancel := context.WithTimeout(ctx, b.storeTimeout)
		err := b.users.SetOnline(wctx, userID, online, b.now())
		cancel()
		if err != nil {
			b.log.Error().Err(err).Int64("user_id", userID).Bool("online", online).Msg("failed to update directory presence")
			return
		}
		current := b.registry.IsOnline(userID)
		if current == online {
			return
		}
		online = current
	}
}

// Snapshot lists every directory user with online derived from the
// registry, never from the persisted flag.
func (b *Broadcaster) Snapshot(ctx context.Context) (protocol.RosterSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	defer cancel()
	users, err := b.users.ListUsers(ctx)
	if err != nil {
		return protocol.RosterSnapshot{}, fmt.Errorf("list users: %w", err)
	}

	snap := protocol.RosterSnapshot{
		All:    b.Roster(users),
		Online: []protocol.RosterUser{},
	}
	for _, ru := range snap.All {
		if ru.Online {
			snap.Online = append(snap.Online, ru)
		}
	}
	return snap, nil
}

// IsOnline reports whether userID currently holds a registry entry.
func (b *Broadcaster) IsOnline(userID int64) bool {
	return b.registry.IsOnline(userID)
}

// Roster converts directory users to their public view, with online taken
// from the registry.
func (b *Broadcaster) Roster(users []models.User) []protocol.RosterUser {
	roster := make([]protocol.RosterUser, 0, len(users))
	for _, u := range users {
		ru := protocol.RosterUser{
			ID:       u.ID,
			Username: u.Username,
			Online:   b.IsOnline(u.ID),
		}
		if !u.LastActive.IsZero() {
			ru.LastActive = u.LastActive.UTC().Format(time.RFC3339)
		}
		roster = append(roster, ru)
	}
	return roster
}

// BroadcastSnapshot sends the roster to every connected session. It is a
// no-op while the registry is empty.
func (b *Broadcaster) BroadcastSnapshot(ctx context.Context) error {
	if b.registry.Len() == 0 {
		return nil
	}
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return err
	}
	b.registry.Broadcast(snap)
	metrics.SnapshotsBroadcast.Inc()
	return nil
}

func (b *Broadcaster) broadcastSnapshot(ctx context.Context) {
	if err := b.BroadcastSnapshot(ctx); err != nil {
		b.log.Error().Err(err).Msg("failed to broadcast roster snapshot")
	}
}

// Run rebroadcasts the snapshot every interval until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.interval <= 0 {
		return
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcastSnapshot(ctx)
		}
	}
}
