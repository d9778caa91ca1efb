package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pliu/murmur/internal/models"
	"github.com/pliu/murmur/internal/protocol"
	"github.com/pliu/murmur/internal/registry"
	"github.com/pliu/murmur/internal/store"
	"github.com/pliu/murmur/internal/store/sqlstore"
)

type fixture struct {
	store *sqlstore.SQLStore
	reg   *registry.Registry
	relay *Relay
	alice *models.User
	bob   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, reg: registry.New()}
	f.alice = f.user(t, "alice")
	f.bob = f.user(t, "bob")
	f.relay = New(st, f.reg, time.Second, zerolog.Nop())
	return f
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: fmt.Sprintf("%s@example.com", name), Password: "x"}
	if err := f.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return u
}

func (f *fixture) connect(u *models.User, sessionID string) *registry.Recorder {
	rec := registry.NewRecorder(sessionID, u.ID)
	f.reg.Register(rec)
	return rec
}

func text(to int64, content string) protocol.SendMessage {
	return protocol.SendMessage{RecipientID: to, Content: content, MessageType: models.MessageText}
}

func TestSendToConnectedRecipient(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.alice, "a")
	b := f.connect(f.bob, "b")

	msg, err := f.relay.Send(context.Background(), a, text(f.bob.ID, "hi"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	delivered := b.OfType("message_delivered")
	acks := a.OfType("message_sent_ack")
	if len(delivered) != 1 {
		t.Fatalf("recipient got %d message_delivered, want 1", len(delivered))
	}
	if len(acks) != 1 {
		t.Fatalf("sender got %d message_sent_ack, want 1", len(acks))
	}
	d := delivered[0].(protocol.MessageDelivered)
	ack := acks[0].(protocol.MessageSentAck)
	if d.ID != msg.ID || ack.ID != msg.ID {
		t.Errorf("ids differ: delivered %d ack %d persisted %d", d.ID, ack.ID, msg.ID)
	}
	if d.Content != "hi" || d.CreatedAt.IsZero() {
		t.Errorf("delivered = %+v", d.Message)
	}
	if len(a.OfType("message_delivered")) != 0 {
		t.Error("sender must not receive its own delivery")
	}
}

func TestSendToDisconnectedRecipient(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.alice, "a")
	ctx := context.Background()

	msg, err := f.relay.Send(ctx, a, text(f.bob.ID, "hi"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(a.OfType("message_sent_ack")) != 1 {
		t.Fatal("sender should be acknowledged even when the recipient is offline")
	}

	// Bob comes back and pulls history.
	f.connect(f.bob, "b")
	history, err := f.relay.History(ctx, f.bob.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].ID != msg.ID {
		t.Errorf("history = %+v, want the undelivered message", history)
	}
}

func TestSendInvalidMessageCreatesNothing(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.alice, "a")
	ctx := context.Background()

	tests := []struct {
		name string
		req  protocol.SendMessage
	}{
		{"empty text", text(f.bob.ID, "")},
		{"whitespace text", text(f.bob.ID, "   ")},
		{"image without media", protocol.SendMessage{RecipientID: f.bob.ID, MessageType: models.MessageImage}},
		{"unknown type", protocol.SendMessage{RecipientID: f.bob.ID, Content: "x", MessageType: "gif"}},
		{"missing recipient", text(0, "hi")},
		{"unknown recipient", text(999, "hi")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.relay.Send(ctx, a, tt.req)
			if !errors.Is(err, models.ErrInvalidMessage) {
				t.Errorf("Send() error = %v, want ErrInvalidMessage", err)
			}
		})
	}

	history, _ := f.relay.History(ctx, f.alice.ID, f.bob.ID)
	if len(history) != 0 {
		t.Errorf("invalid sends created %d records", len(history))
	}
	if len(a.OfType("message_sent_ack")) != 0 {
		t.Error("invalid sends must not be acknowledged")
	}
}

func TestSendMediaMessage(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.alice, "a")

	msg, err := f.relay.Send(context.Background(), a, protocol.SendMessage{
		RecipientID: f.bob.ID,
		MessageType: models.MessageImage,
		MediaURL:    "/uploads/cat.png",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.MediaURL != "/uploads/cat.png" || msg.MessageType != models.MessageImage {
		t.Errorf("persisted = %+v", msg)
	}
}

type failingSave struct {
	*sqlstore.SQLStore
}

func (failingSave) SaveMessage(context.Context, *models.Message) error {
	return errors.New("disk full")
}

type stalledSave struct {
	*sqlstore.SQLStore
}

func (stalledSave) SaveMessage(ctx context.Context, _ *models.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSendStoreFailures(t *testing.T) {
	tests := []struct {
		name    string
		wrap    func(*sqlstore.SQLStore) store.Store
		timeout time.Duration
		want    error
		reason  string
	}{
		{"failure", func(s *sqlstore.SQLStore) store.Store { return failingSave{s} }, time.Second, models.ErrStore, "store_failure"},
		{"timeout", func(s *sqlstore.SQLStore) store.Store { return stalledSave{s} }, 20 * time.Millisecond, models.ErrStoreTimeout, "store_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.connect(f.alice, "a")
			b := f.connect(f.bob, "b")
			r := New(tt.wrap(f.store), f.reg, tt.timeout, zerolog.Nop())

			_, err := r.Send(context.Background(), a, text(f.bob.ID, "hi"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Send() error = %v, want %v", err, tt.want)
			}
			if got := protocol.Reason(err); got != tt.reason {
				t.Errorf("Reason() = %q, want %q", got, tt.reason)
			}
			if len(b.Notifications()) != 0 || len(a.Notifications()) != 0 {
				t.Error("nothing may be pushed when persistence fails")
			}
		})
	}
}

func TestHistoryIsIdempotentAndOrdered(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.alice, "a")
	b := f.connect(f.bob, "b")
	ctx := context.Background()

	f.relay.Send(ctx, a, text(f.bob.ID, "one"))
	f.relay.Send(ctx, b, text(f.alice.ID, "two"))
	f.relay.Send(ctx, a, text(f.bob.ID, "three"))

	first, err := f.relay.History(ctx, f.alice.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	second, _ := f.relay.History(ctx, f.alice.ID, f.bob.ID)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("len = %d, %d, want 3", len(first), len(second))
	}
	for i, want := range []string{"one", "two", "three"} {
		if first[i].Content != want {
			t.Errorf("first[%d] = %q, want %q", i, first[i].Content, want)
		}
		if first[i].ID != second[i].ID || first[i].Seen != second[i].Seen {
			t.Errorf("history not idempotent at %d", i)
		}
	}
}

func TestTypingBestEffort(t *testing.T) {
	f := newFixture(t)
	b := f.connect(f.bob, "b")

	if !f.relay.Typing(f.alice.ID, f.bob.ID) {
		t.Error("Typing() to a connected peer should deliver")
	}
	if !f.relay.StopTyping(f.alice.ID, f.bob.ID) {
		t.Error("StopTyping() to a connected peer should deliver")
	}
	if f.relay.Typing(f.bob.ID, f.alice.ID) {
		t.Error("Typing() to an offline peer should be dropped")
	}

	typing := b.OfType("peer_typing")
	if len(typing) != 1 || typing[0].(protocol.PeerTyping).UserID != f.alice.ID {
		t.Errorf("peer_typing = %+v", typing)
	}
	if len(b.OfType("peer_stopped_typing")) != 1 {
		t.Error("expected one peer_stopped_typing")
	}
}

func TestMarkSeenTwiceSendsOneReceipt(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.alice, "a")
	f.connect(f.bob, "b")
	ctx := context.Background()

	msg, _ := f.relay.Send(ctx, a, text(f.bob.ID, "hi"))

	for i := 0; i < 2; i++ {
		if err := f.relay.MarkSeen(ctx, f.bob.ID, msg.ID); err != nil {
			t.Fatalf("MarkSeen() #%d error = %v", i+1, err)
		}
	}

	receipts := a.OfType("receipt_seen")
	if len(receipts) != 1 {
		t.Fatalf("receipt_seen = %d, want 1", len(receipts))
	}
	if receipts[0].(protocol.ReceiptSeen).MessageID != msg.ID {
		t.Errorf("receipt = %+v", receipts[0])
	}
	stored, _ := f.store.GetMessage(ctx, msg.ID)
	if !stored.Seen {
		t.Error("seen flag should be persisted")
	}
}

func TestMarkReadWithSenderOffline(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.alice, "a")
	ctx := context.Background()

	msg, _ := f.relay.Send(ctx, a, text(f.bob.ID, "hi"))
	f.reg.Remove(f.alice.ID)

	if err := f.relay.MarkRead(ctx, f.bob.ID, msg.ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if len(a.OfType("receipt_read")) != 0 {
		t.Error("offline sender must not receive a receipt")
	}
	history, _ := f.relay.History(ctx, f.alice.ID, f.bob.ID)
	if !history[0].Read {
		t.Error("read flag should be visible in the sender's next history fetch")
	}
}

func TestMarkSeenErrors(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.alice, "a")
	ctx := context.Background()
	msg, _ := f.relay.Send(ctx, a, text(f.bob.ID, "hi"))

	if err := f.relay.MarkSeen(ctx, f.alice.ID, msg.ID); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("sender marking own message = %v, want ErrForbidden", err)
	}
	if err := f.relay.MarkSeen(ctx, f.bob.ID, 12345); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown message = %v, want ErrNotFound", err)
	}
}

func TestSendGroup(t *testing.T) {
	f := newFixture(t)
	carol := f.user(t, "carol")
	ctx := context.Background()

	groupID, _ := f.store.CreateGroup(ctx, "friends", f.alice.ID)
	f.store.AddMember(ctx, groupID, f.alice.ID)
	f.store.AddMember(ctx, groupID, f.bob.ID)

	a := f.connect(f.alice, "a")
	b := f.connect(f.bob, "b")
	c := f.connect(carol, "c")

	msg, err := f.relay.SendGroup(ctx, a, protocol.SendGroupMessage{GroupID: groupID, Content: "hey all", MessageType: models.MessageText})
	if err != nil {
		t.Fatalf("SendGroup() error = %v", err)
	}
	if len(b.OfType("message_delivered")) != 1 {
		t.Error("member should receive the group message")
	}
	if len(c.OfType("message_delivered")) != 0 {
		t.Error("non-member must not receive the group message")
	}
	if len(a.OfType("message_delivered")) != 0 || len(a.OfType("message_sent_ack")) != 1 {
		t.Error("sender should get exactly one ack and no delivery")
	}

	history, err := f.relay.GroupHistory(ctx, f.bob.ID, groupID)
	if err != nil || len(history) != 1 || history[0].ID != msg.ID {
		t.Errorf("GroupHistory() = %+v, %v", history, err)
	}

	_, err = f.relay.SendGroup(ctx, c, protocol.SendGroupMessage{GroupID: groupID, Content: "let me in", MessageType: models.MessageText})
	if !errors.Is(err, models.ErrForbidden) {
		t.Errorf("non-member SendGroup() = %v, want ErrForbidden", err)
	}
	if _, err := f.relay.GroupHistory(ctx, carol.ID, groupID); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("non-member GroupHistory() = %v, want ErrForbidden", err)
	}
}
