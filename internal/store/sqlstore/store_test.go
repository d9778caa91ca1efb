package sqlstore

import (
	"context"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pliu/murmur/internal/models"
)

var testStore *SQLStore

func SetupTestDB(t *testing.T) {
	var err error
	testStore, err = New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
}

func TeardownTestDB() {
	testStore.db.Close()
}

func createTestUser(t *testing.T, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: fmt.Sprintf("%s@example.com", username), Password: "hash"}
	if err := testStore.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return user
}
