package users

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("unexpected migrate error: %v", err)
	}
	return db
}

func TestEnsureAccountCreatesAndReuses(t *testing.T) {
	db := openTestDatabase(t)
	service, err := NewService(ServiceConfig{Database: db, Clock: func() time.Time { return time.Unix(1700000000, 0) }})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	first, err := service.EnsureAccount(context.Background(), "Author@Example.com", "Author One")
	if err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	if first.Email != "author@example.com" {
		t.Fatalf("expected normalized email, got %s", first.Email)
	}

	second, err := service.EnsureAccount(context.Background(), "author@example.com", "Renamed Author")
	if err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same account id on re-login")
	}
	if second.DisplayName != "Renamed Author" {
		t.Fatalf("expected display name update, got %s", second.DisplayName)
	}

	var count int64
	if err := db.Model(&Account{}).Count(&count).Error; err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single account row, got %d", count)
	}
}

func TestEnsureAccountRejectsInvalidEmail(t *testing.T) {
	db := openTestDatabase(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	if _, err := service.EnsureAccount(context.Background(), "   ", "Someone"); err == nil {
		t.Fatalf("expected invalid email error")
	}
	if _, err := service.EnsureAccount(context.Background(), "not-an-email", "Someone"); err == nil {
		t.Fatalf("expected invalid email error")
	}
}
