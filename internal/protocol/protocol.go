// Package protocol defines the JSON frames exchanged over a websocket
// session. Every frame is an envelope {"type": ..., "payload": ...}; client
// frames decode into a Command and server frames are built from a
// Notification. Both sets are closed: only types in this package satisfy
// the interfaces.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pliu/murmur/internal/models"
)

var (
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrUnknownCommand = errors.New("unknown command")
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server.

type Command interface {
	CommandType() string
	isCommand()
}

type SendMessage struct {
	RecipientID int64              `json:"recipient_id"`
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"message_type"`
	MediaURL    string             `json:"media_url,omitempty"`
}

type SendGroupMessage struct {
	GroupID     int64              `json:"group_id"`
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"message_type"`
	MediaURL    string             `json:"media_url,omitempty"`
}

type FetchHistory struct {
	OtherUserID int64 `json:"other_user_id"`
}

type FetchGroupHistory struct {
	GroupID int64 `json:"group_id"`
}

type Typing struct {
	RecipientID int64 `json:"recipient_id"`
}

type StopTyping struct {
	RecipientID int64 `json:"recipient_id"`
}

type MarkSeen struct {
	MessageID int64 `json:"message_id"`
}

type MarkRead struct {
	MessageID int64 `json:"message_id"`
}

func (SendMessage) CommandType() string       { return "send_message" }
func (SendGroupMessage) CommandType() string  { return "send_group_message" }
func (FetchHistory) CommandType() string      { return "fetch_history" }
func (FetchGroupHistory) CommandType() string { return "fetch_group_history" }
func (Typing) CommandType() string            { return "typing" }
func (StopTyping) CommandType() string        { return "stop_typing" }
func (MarkSeen) CommandType() string          { return "mark_seen" }
func (MarkRead) CommandType() string          { return "mark_read" }

func (SendMessage) isCommand()       {}
func (SendGroupMessage) isCommand()  {}
func (FetchHistory) isCommand()      {}
func (FetchGroupHistory) isCommand() {}
func (Typing) isCommand()            {}
func (StopTyping) isCommand()        {}
func (MarkSeen) isCommand()          {}
func (MarkRead) isCommand()          {}

// DecodeCommand parses one client frame.
func DecodeCommand(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch env.Type {
	case "send_message":
		return decode[SendMessage](env.Payload)
	case "send_group_message":
		return decode[SendGroupMessage](env.Payload)
	case "fetch_history":
		return decode[FetchHistory](env.Payload)
	case "fetch_group_history":
		return decode[FetchGroupHistory](env.Payload)
	case "typing":
		return decode[Typing](env.Payload)
	case "stop_typing":
		return decode[StopTyping](env.Payload)
	case "mark_seen":
		return decode[MarkSeen](env.Payload)
	case "mark_read":
		return decode[MarkRead](env.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
}

func decode[T Command](payload json.RawMessage) (Command, error) {
	var cmd T
	if len(payload) == 0 {
		return cmd, nil
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return cmd, nil
}

// EncodeCommand is the client-side counterpart of DecodeCommand.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: cmd.CommandType(), Payload: payload})
}
