package sqlstore

import (
	"context"
	"testing"

	"github.com/pliu/murmur/internal/models"
)

func TestCreateGroup(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	owner := createTestUser(t, "owner")
	id, err := testStore.CreateGroup(context.Background(), "General", owner.ID)
	if err != nil {
		t.Errorf("Failed to create group: %v", err)
	}

	if id == 0 {
		t.Error("Expected non-zero group ID")
	}
}

func TestAddMember(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	user := createTestUser(t, "user1")
	groupID, _ := testStore.CreateGroup(ctx, "Group 1", user.ID)

	if err := testStore.AddMember(ctx, groupID, user.ID); err != nil {
		t.Errorf("Failed to add member: %v", err)
	}

	isMember, err := testStore.IsMember(ctx, groupID, user.ID)
	if err != nil {
		t.Errorf("IsMember failed: %v", err)
	}
	if !isMember {
		t.Error("Expected user to be member")
	}

	other := createTestUser(t, "user2")
	isMember, _ = testStore.IsMember(ctx, groupID, other.ID)
	if isMember {
		t.Error("Expected user2 not to be a member")
	}

	groups, _ := testStore.GetUserGroups(ctx, user.ID)
	if len(groups) != 1 || groups[0].Name != "Group 1" {
		t.Errorf("Unexpected groups: %+v", groups)
	}
	members, _ := testStore.GetGroupMembers(ctx, groupID)
	if len(members) != 1 || members[0].ID != user.ID {
		t.Errorf("Unexpected members: %+v", members)
	}
}

func TestGroupMessages(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	user := createTestUser(t, "user1")
	groupID, _ := testStore.CreateGroup(ctx, "Group 1", user.ID)
	testStore.AddMember(ctx, groupID, user.ID)

	msg := &models.Message{SenderID: user.ID, GroupID: &groupID, Content: "Hello", MessageType: models.MessageText}
	if err := testStore.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}

	messages, err := testStore.GetGroupMessages(ctx, groupID)
	if err != nil {
		t.Fatalf("Failed to get messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}
	if messages[0].Content != "Hello" {
		t.Errorf("Expected message content 'Hello', got '%s'", messages[0].Content)
	}
	if messages[0].RecipientID != nil {
		t.Error("Expected nil recipient for group message")
	}
}

func TestCreateGroupWithMembers(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	owner := createTestUser(t, "owner")
	a := createTestUser(t, "a")
	b := createTestUser(t, "b")

	groupID, err := testStore.CreateGroupWithMembers(ctx, "Team", owner.ID, []int64{a.ID, b.ID, a.ID, owner.ID})
	if err != nil {
		t.Fatalf("CreateGroupWithMembers failed: %v", err)
	}
	members, _ := testStore.GetGroupMembers(ctx, groupID)
	if len(members) != 3 {
		t.Errorf("Expected 3 members (owner included, duplicates dropped), got %d", len(members))
	}
}

func TestCreateGroupWithMembersRollsBack(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	owner := createTestUser(t, "owner")
	member := createTestUser(t, "member")
	_, err := testStore.db.Exec(`CREATE TRIGGER reject_member BEFORE INSERT ON group_members
		WHEN NEW.user_id = 999 BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if _, err := testStore.CreateGroupWithMembers(ctx, "Broken", owner.ID, []int64{member.ID, 999}); err == nil {
		t.Fatal("Expected error when a membership insert fails")
	}

	var groups, memberships int
	testStore.db.Get(&groups, "SELECT COUNT(*) FROM chat_groups")
	testStore.db.Get(&memberships, "SELECT COUNT(*) FROM group_members")
	if groups != 0 || memberships != 0 {
		t.Errorf("partial group left behind: %d groups, %d memberships", groups, memberships)
	}
}
