package store

import (
	"context"
	"time"

	"github.com/pliu/murmur/internal/models"
)

// UserDirectory holds durable user records. The presence core only writes
// the online flag and last_active.
type UserDirectory interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	// SearchUsers matches usernames containing query, excluding excludeID.
	SearchUsers(ctx context.Context, query string, excludeID int64) ([]models.User, error)
	SetOnline(ctx context.Context, id int64, online bool, lastActive time.Time) error
	ResetOnline(ctx context.Context) error
}

// MessageStore is the append-only message table with mutable read/seen flags.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	GetConversation(ctx context.Context, userID, otherID int64) ([]models.Message, error)
	GetGroupMessages(ctx context.Context, groupID int64) ([]models.Message, error)
	// MarkSeen and MarkRead return the message and whether the flag changed.
	MarkSeen(ctx context.Context, id int64) (*models.Message, bool, error)
	MarkRead(ctx context.Context, id int64) (*models.Message, bool, error)
}

type GroupStore interface {
	CreateGroup(ctx context.Context, name string, ownerID int64) (int64, error)
	// CreateGroupWithMembers creates the group and all memberships in one
	// transaction. The owner is always a member.
	CreateGroupWithMembers(ctx context.Context, name string, ownerID int64, memberIDs []int64) (int64, error)
	AddMember(ctx context.Context, groupID, userID int64) error
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	GetUserGroups(ctx context.Context, userID int64) ([]models.Group, error)
	GetGroupMembers(ctx context.Context, groupID int64) ([]models.User, error)
}

type Store interface {
	UserDirectory
	MessageStore
	GroupStore
	Close() error
}
