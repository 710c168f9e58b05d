package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/example/coaching-marketplace/internal/persistence"
)

func setupAccountRepositoryTest(t *testing.T) *AccountRepository {
	t.Helper()
	return NewAccountRepository(newTestPool(t))
}

func testAccount(id, email string) persistence.Account {
	return persistence.Account{
		ID:           id,
		Email:        email,
		DisplayName:  "Test Account",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		IsCoach:      false,
	}
}

func TestAccountRepository_CreateAccount(t *testing.T) {
	repo := setupAccountRepositoryTest(t)
	ctx := context.Background()

	account := testAccount("acc1", "Coach@Example.COM")
	account.IsCoach = true

	if err := repo.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	retrieved, err := repo.GetAccount(ctx, "acc1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}

	if retrieved.Email != "coach@example.com" {
		t.Errorf("Expected normalized email coach@example.com, got '%s'", retrieved.Email)
	}
	if retrieved.DisplayName != "Test Account" {
		t.Errorf("Expected display name Test Account, got '%s'", retrieved.DisplayName)
	}
	if !retrieved.IsCoach {
		t.Error("Expected coach flag to be set")
	}
	if retrieved.PasswordHash != account.PasswordHash {
		t.Error("Expected password hash to survive the round trip")
	}
	if retrieved.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
}

func TestAccountRepository_CreateAccount_Duplicate(t *testing.T) {
	repo := setupAccountRepositoryTest(t)
	ctx := context.Background()

	if err := repo.CreateAccount(ctx, testAccount("acc1", "user@example.com")); err != nil {
		t.Fatalf("First CreateAccount failed: %v", err)
	}

	// Same email under a different ID, differing only in case.
	err := repo.CreateAccount(ctx, testAccount("acc2", "USER@example.com"))
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}
}

func TestAccountRepository_CreateAccount_MissingFields(t *testing.T) {
	repo := setupAccountRepositoryTest(t)
	ctx := context.Background()

	missing := testAccount("", "user@example.com")
	if err := repo.CreateAccount(ctx, missing); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("Expected ErrConstraintViolation for empty ID, got %v", err)
	}

	noHash := testAccount("acc1", "user@example.com")
	noHash.PasswordHash = ""
	if err := repo.CreateAccount(ctx, noHash); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("Expected ErrConstraintViolation for empty hash, got %v", err)
	}
}

func TestAccountRepository_GetAccount_NotFound(t *testing.T) {
	repo := setupAccountRepositoryTest(t)

	_, err := repo.GetAccount(context.Background(), "missing")
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepository_GetAccountByEmail(t *testing.T) {
	repo := setupAccountRepositoryTest(t)
	ctx := context.Background()

	if err := repo.CreateAccount(ctx, testAccount("acc1", "user@example.com")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	// Lookup normalizes the same way the write path does.
	retrieved, err := repo.GetAccountByEmail(ctx, "  User@Example.Com ")
	if err != nil {
		t.Fatalf("GetAccountByEmail failed: %v", err)
	}
	if retrieved.ID != "acc1" {
		t.Errorf("Expected acc1, got '%s'", retrieved.ID)
	}

	_, err = repo.GetAccountByEmail(ctx, "other@example.com")
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepository_UpdateAccount(t *testing.T) {
	repo := setupAccountRepositoryTest(t)
	ctx := context.Background()

	if err := repo.CreateAccount(ctx, testAccount("acc1", "user@example.com")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	updated := testAccount("acc1", "renamed@example.com")
	updated.DisplayName = "Renamed"
	if err := repo.UpdateAccount(ctx, updated); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}

	retrieved, err := repo.GetAccount(ctx, "acc1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if retrieved.Email != "renamed@example.com" {
		t.Errorf("Expected renamed@example.com, got '%s'", retrieved.Email)
	}
	if retrieved.DisplayName != "Renamed" {
		t.Errorf("Expected Renamed, got '%s'", retrieved.DisplayName)
	}

	ghost := testAccount("missing", "ghost@example.com")
	if err := repo.UpdateAccount(ctx, ghost); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepository_ListAccounts(t *testing.T) {
	repo := setupAccountRepositoryTest(t)
	ctx := context.Background()

	accounts, err := repo.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("Expected empty list, got %d", len(accounts))
	}

	if err := repo.CreateAccount(ctx, testAccount("acc1", "a@example.com")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if err := repo.CreateAccount(ctx, testAccount("acc2", "b@example.com")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	accounts, err = repo.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Errorf("Expected 2 accounts, got %d", len(accounts))
	}
}
