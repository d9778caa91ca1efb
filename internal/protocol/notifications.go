package protocol

import (
	"encoding/json"
	"errors"

	"github.com/pliu/murmur/internal/models"
)

// Server -> client.

type Notification interface {
	NotificationType() string
	isNotification()
}

type UserOnline struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type UserOffline struct {
	ID int64 `json:"id"`
}

// RosterUser is the public view of a directory user; Online is derived
// from the connection registry.
type RosterUser struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Online     bool   `json:"online"`
	LastActive string `json:"last_active,omitempty"`
}

type RosterSnapshot struct {
	All    []RosterUser `json:"all"`
	Online []RosterUser `json:"online"`
}

type MessageDelivered struct {
	models.Message
}

type MessageSentAck struct {
	models.Message
}

type SendFailed struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type HistoryResult struct {
	OtherUserID int64            `json:"other_user_id"`
	Messages    []models.Message `json:"messages"`
}

type GroupHistoryResult struct {
	GroupID  int64            `json:"group_id"`
	Messages []models.Message `json:"messages"`
}

type PeerTyping struct {
	UserID int64 `json:"user_id"`
}

type PeerStoppedTyping struct {
	UserID int64 `json:"user_id"`
}

type ReceiptSeen struct {
	MessageID int64 `json:"message_id"`
}

type ReceiptRead struct {
	MessageID int64 `json:"message_id"`
}

// GroupAdded tells a user they were added to a group over HTTP.
type GroupAdded struct {
	GroupID int64  `json:"group_id"`
	Name    string `json:"name"`
}

// RequestFailed reports a failed command other than a send. The session
// stays usable.
type RequestFailed struct {
	Request string `json:"request"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// AuthFailed is terminal: the server closes the connection right after it.
type AuthFailed struct {
	Reason string `json:"reason"`
}

// SessionReplaced tells an evicted session that a newer login for the same
// user took over routing. The server closes the connection right after it.
type SessionReplaced struct{}

func (UserOnline) NotificationType() string         { return "user_online" }
func (UserOffline) NotificationType() string        { return "user_offline" }
func (RosterSnapshot) NotificationType() string     { return "roster_snapshot" }
func (MessageDelivered) NotificationType() string   { return "message_delivered" }
func (MessageSentAck) NotificationType() string     { return "message_sent_ack" }
func (SendFailed) NotificationType() string         { return "send_failed" }
func (HistoryResult) NotificationType() string      { return "history_result" }
func (GroupHistoryResult) NotificationType() string { return "group_history_result" }
func (PeerTyping) NotificationType() string         { return "peer_typing" }
func (PeerStoppedTyping) NotificationType() string  { return "peer_stopped_typing" }
func (ReceiptSeen) NotificationType() string        { return "receipt_seen" }
func (ReceiptRead) NotificationType() string        { return "receipt_read" }
func (GroupAdded) NotificationType() string         { return "group_added" }
func (RequestFailed) NotificationType() string      { return "request_failed" }
func (AuthFailed) NotificationType() string         { return "auth_failed" }
func (SessionReplaced) NotificationType() string    { return "session_replaced" }

func (UserOnline) isNotification()         {}
func (UserOffline) isNotification()        {}
func (RosterSnapshot) isNotification()     {}
func (MessageDelivered) isNotification()   {}
func (MessageSentAck) isNotification()     {}
func (SendFailed) isNotification()         {}
func (HistoryResult) isNotification()      {}
func (GroupHistoryResult) isNotification() {}
func (PeerTyping) isNotification()         {}
func (PeerStoppedTyping) isNotification()  {}
func (ReceiptSeen) isNotification()        {}
func (ReceiptRead) isNotification()        {}
func (GroupAdded) isNotification()         {}
func (RequestFailed) isNotification()      {}
func (AuthFailed) isNotification()         {}
func (SessionReplaced) isNotification()    {}

// Encode renders a notification as a text frame.
func Encode(n Notification) ([]byte, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: n.NotificationType(), Payload: payload})
}

// Frame is a decoded server frame, used by clients and tests.
type Frame struct {
	Type    string
	Payload json.RawMessage
}

func DecodeFrame(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, err
	}
	return Frame{Type: env.Type, Payload: env.Payload}, nil
}

// Reason maps an error onto the short code carried by failure events.
func Reason(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, models.ErrStoreTimeout):
		return "store_timeout"
	case errors.Is(err, models.ErrStore):
		return "store_failure"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrAuthentication):
		return "authentication_failure"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, ErrInvalidFrame):
		return "invalid_frame"
	default:
		return "internal_error"
	}
}
