package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/coaching-marketplace/internal/persistence"
)

// AccountRepository implements persistence.AccountRepository using SQLite
type AccountRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewAccountRepository creates a new SQLite account repository
func NewAccountRepository(pool *ConnectionPool) *AccountRepository {
	return &AccountRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateAccount inserts a new account into the database
func (r *AccountRepository) CreateAccount(ctx context.Context, account persistence.Account) error {
	if account.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if account.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}

	// Normalize email for uniqueness check
	normalizedEmail := normalizeEmail(account.Email)

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, email, display_name, password_hash, is_coach, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.helper.Exec(ctx, query,
		account.ID,
		normalizedEmail,
		account.DisplayName,
		account.PasswordHash,
		account.IsCoach,
		formatTime(account.CreatedAt),
		formatTime(account.UpdatedAt),
	)

	if err != nil {
		return r.mapAccountError(err)
	}

	return nil
}

// UpdateAccount updates an existing account in the database
func (r *AccountRepository) UpdateAccount(ctx context.Context, account persistence.Account) error {
	if account.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if account.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}

	normalizedEmail := normalizeEmail(account.Email)

	account.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE accounts
		SET email = ?, display_name = ?, password_hash = ?, is_coach = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.helper.Exec(ctx, query,
		normalizedEmail,
		account.DisplayName,
		account.PasswordHash,
		account.IsCoach,
		formatTime(account.UpdatedAt),
		account.ID,
	)

	if err != nil {
		return r.mapAccountError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

// GetAccount retrieves an account by ID from the database
func (r *AccountRepository) GetAccount(ctx context.Context, id string) (persistence.Account, error) {
	if id == "" {
		return persistence.Account{}, persistence.ErrNotFound
	}

	query := `
		SELECT id, email, display_name, password_hash, is_coach, created_at, updated_at
		FROM accounts
		WHERE id = ?
	`

	return r.scanAccount(r.helper.QueryRow(ctx, query, id))
}

// GetAccountByEmail retrieves an account by email address from the database
func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (persistence.Account, error) {
	if email == "" {
		return persistence.Account{}, persistence.ErrNotFound
	}

	normalizedEmail := normalizeEmail(email)

	query := `
		SELECT id, email, display_name, password_hash, is_coach, created_at, updated_at
		FROM accounts
		WHERE email = ?
	`

	return r.scanAccount(r.helper.QueryRow(ctx, query, normalizedEmail))
}

// ListAccounts returns all accounts ordered by creation timestamp then ID
func (r *AccountRepository) ListAccounts(ctx context.Context) ([]persistence.Account, error) {
	query := `
		SELECT id, email, display_name, password_hash, is_coach, created_at, updated_at
		FROM accounts
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.helper.Query(ctx, query)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var accounts []persistence.Account

	for rows.Next() {
		account, err := r.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return accounts, nil
}

func (r *AccountRepository) scanAccount(scanner rowScanner) (persistence.Account, error) {
	var account persistence.Account
	var createdAtStr, updatedAtStr string

	err := scanner.Scan(
		&account.ID,
		&account.Email,
		&account.DisplayName,
		&account.PasswordHash,
		&account.IsCoach,
		&createdAtStr,
		&updatedAtStr,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Account{}, persistence.ErrNotFound
		}
		return persistence.Account{}, r.mapper.MapError(err)
	}

	if account.CreatedAt, err = parseTime(createdAtStr, "created_at"); err != nil {
		return persistence.Account{}, err
	}
	if account.UpdatedAt, err = parseTime(updatedAtStr, "updated_at"); err != nil {
		return persistence.Account{}, err
	}

	return account, nil
}

// mapAccountError maps SQLite errors to appropriate persistence errors for account operations
func (r *AccountRepository) mapAccountError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if containsAny(errStr, []string{"UNIQUE constraint failed"}) {
		return persistence.ErrDuplicate
	}

	if containsAny(errStr, []string{"FOREIGN KEY constraint failed"}) {
		return persistence.ErrForeignKeyViolation
	}

	if containsAny(errStr, []string{"CHECK constraint failed"}) {
		return persistence.ErrConstraintViolation
	}

	return r.mapper.MapError(err)
}

// normalizeEmail normalizes email addresses for consistent storage and lookup
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
