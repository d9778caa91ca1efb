package models

import (
	"errors"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	to := int64(2)
	group := int64(9)

	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"text", Message{SenderID: 1, RecipientID: &to, Content: "hi"}, false},
		{"group text", Message{SenderID: 1, GroupID: &group, Content: "hi"}, false},
		{"image with media", Message{SenderID: 1, RecipientID: &to, MessageType: MessageImage, MediaURL: "/uploads/x.png"}, false},
		{"empty text", Message{SenderID: 1, RecipientID: &to, Content: ""}, true},
		{"whitespace text", Message{SenderID: 1, RecipientID: &to, Content: " \n\t"}, true},
		{"text with media", Message{SenderID: 1, RecipientID: &to, Content: "hi", MediaURL: "/uploads/x.png"}, true},
		{"image without media", Message{SenderID: 1, RecipientID: &to, MessageType: MessageImage}, true},
		{"unknown type", Message{SenderID: 1, RecipientID: &to, MessageType: "sticker", MediaURL: "x"}, true},
		{"no target", Message{SenderID: 1, Content: "hi"}, true},
		{"both targets", Message{SenderID: 1, RecipientID: &to, GroupID: &group, Content: "hi"}, true},
		{"no sender", Message{RecipientID: &to, Content: "hi"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("Validate() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestValidateDefaultsToText(t *testing.T) {
	to := int64(2)
	m := Message{SenderID: 1, RecipientID: &to, Content: "hi"}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if m.MessageType != MessageText {
		t.Errorf("MessageType = %q, want text", m.MessageType)
	}
}
