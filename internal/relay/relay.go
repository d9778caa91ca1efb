// Package relay persists direct and group messages and forwards them to
// reachable recipients. A message is stored before anything is pushed, and
// it is pushed live at most once: recipients that are not connected at send
// time only see it through history.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pliu/murmur/internal/metrics"
	"github.com/pliu/murmur/internal/models"
	"github.com/pliu/murmur/internal/protocol"
	"github.com/pliu/murmur/internal/registry"
	"github.com/pliu/murmur/internal/store"
)

type Relay struct {
	store    store.Store
	registry *registry.Registry
	timeout  time.Duration
	log      zerolog.Logger
}

func New(st store.Store, reg *registry.Registry, timeout time.Duration, logger zerolog.Logger) *Relay {
	return &Relay{
		store:    st,
		registry: reg,
		timeout:  timeout,
		log:      logger.With().Str("component", "relay").Logger(),
	}
}

func (r *Relay) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// storeError classifies an error returned by the store.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, models.ErrStore, models.ErrStoreTimeout)
	default:
		return fmt.Errorf("%s: %w: %v", op, models.ErrStore, err)
	}
}

// Send validates and persists a direct message from the session's user, then
// pushes it to the recipient if reachable and always acknowledges the
// persisted copy back to from.
func (r *Relay) Send(ctx context.Context, from registry.Session, req protocol.SendMessage) (*models.Message, error) {
	if req.RecipientID == 0 {
		return nil, fmt.Errorf("%w: missing recipient", models.ErrInvalidMessage)
	}
	recipientID := req.RecipientID
	msg := &models.Message{
		SenderID:    from.UserID(),
		RecipientID: &recipientID,
		Content:     req.Content,
		MessageType: req.MessageType,
		MediaURL:    req.MediaURL,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	if _, err := r.store.GetUserByID(sctx, recipientID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown recipient %d", models.ErrInvalidMessage, recipientID)
		}
		return nil, storeError("lookup recipient", err)
	}
	if err := r.store.SaveMessage(sctx, msg); err != nil {
		return nil, storeError("save message", err)
	}
	metrics.MessagesSent.WithLabelValues("direct").Inc()

	// Reachability is read only now: the recipient may have connected or
	// left while the insert was in flight.
	r.deliver(recipientID, msg)
	from.Send(protocol.MessageSentAck{Message: *msg})
	return msg, nil
}

// SendGroup persists a group message and pushes it to every reachable
// member except the sender.
func (r *Relay) SendGroup(ctx context.Context, from registry.Session, req protocol.SendGroupMessage) (*models.Message, error) {
	if req.GroupID == 0 {
		return nil, fmt.Errorf("%w: missing group", models.ErrInvalidMessage)
	}
	groupID := req.GroupID
	msg := &models.Message{
		SenderID:    from.UserID(),
		GroupID:     &groupID,
		Content:     req.Content,
		MessageType: req.MessageType,
		MediaURL:    req.MediaURL,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	member, err := r.store.IsMember(sctx, groupID, msg.SenderID)
	if err != nil {
		return nil, storeError("check membership", err)
	}
	if !member {
		return nil, fmt.Errorf("group %d: %w", groupID, models.ErrForbidden)
	}
	if err := r.store.SaveMessage(sctx, msg); err != nil {
		return nil, storeError("save message", err)
	}
	metrics.MessagesSent.WithLabelValues("group").Inc()

	members, err := r.store.GetGroupMembers(sctx, groupID)
	if err != nil {
		// The message is stored; members recover it from group history.
		r.log.Error().Err(err).Int64("group_id", groupID).Msg("failed to load group members for fan-out")
	}
	for _, m := range members {
		if m.ID != msg.SenderID {
			r.deliver(m.ID, msg)
		}
	}
	from.Send(protocol.MessageSentAck{Message: *msg})
	return msg, nil
}

func (r *Relay) deliver(userID int64, msg *models.Message) {
	s, ok := r.registry.Lookup(userID)
	if !ok {
		return
	}
	if s.Send(protocol.MessageDelivered{Message: *msg}) {
		metrics.MessagesDelivered.Inc()
	}
}

// History returns the direct conversation between userID and otherID,
// oldest first.
func (r *Relay) History(ctx context.Context, userID, otherID int64) ([]models.Message, error) {
	if otherID == 0 {
		return nil, fmt.Errorf("%w: missing other user", models.ErrInvalidMessage)
	}
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	messages, err := r.store.GetConversation(sctx, userID, otherID)
	if err != nil {
		return nil, storeError("load history", err)
	}
	return messages, nil
}

func (r *Relay) GroupHistory(ctx context.Context, userID, groupID int64) ([]models.Message, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	member, err := r.store.IsMember(sctx, groupID, userID)
	if err != nil {
		return nil, storeError("check membership", err)
	}
	if !member {
		return nil, fmt.Errorf("group %d: %w", groupID, models.ErrForbidden)
	}
	messages, err := r.store.GetGroupMessages(sctx, groupID)
	if err != nil {
		return nil, storeError("load group history", err)
	}
	return messages, nil
}

// Typing forwards a typing signal. It is dropped when to is unreachable.
func (r *Relay) Typing(from, to int64) bool {
	return r.signal(to, protocol.PeerTyping{UserID: from})
}

func (r *Relay) StopTyping(from, to int64) bool {
	return r.signal(to, protocol.PeerStoppedTyping{UserID: from})
}

func (r *Relay) signal(to int64, n protocol.Notification) bool {
	s, ok := r.registry.Lookup(to)
	if !ok {
		return false
	}
	return s.Send(n)
}

// MarkSeen flags a direct message as seen by its recipient and sends a
// receipt to the original sender when the flag actually changed.
func (r *Relay) MarkSeen(ctx context.Context, readerID, messageID int64) error {
	return r.mark(ctx, readerID, messageID, "seen")
}

func (r *Relay) MarkRead(ctx context.Context, readerID, messageID int64) error {
	return r.mark(ctx, readerID, messageID, "read")
}

func (r *Relay) mark(ctx context.Context, readerID, messageID int64, kind string) error {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()

	msg, err := r.store.GetMessage(sctx, messageID)
	if err != nil {
		return storeError("load message", err)
	}
	if !msg.IsDirect() || *msg.RecipientID != readerID {
		return fmt.Errorf("mark %s on message %d: %w", kind, messageID, models.ErrForbidden)
	}

	var changed bool
	switch kind {
	case "seen":
		_, changed, err = r.store.MarkSeen(sctx, messageID)
	case "read":
		_, changed, err = r.store.MarkRead(sctx, messageID)
	}
	if err != nil {
		return storeError("mark "+kind, err)
	}
	if !changed {
		return nil
	}
	metrics.Receipts.WithLabelValues(kind).Inc()

	var receipt protocol.Notification = protocol.ReceiptSeen{MessageID: messageID}
	if kind == "read" {
		receipt = protocol.ReceiptRead{MessageID: messageID}
	}
	r.signal(msg.SenderID, receipt)
	return nil
}
