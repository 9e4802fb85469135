package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// PostgresUserRepo implements domain.UserRepository using PostgreSQL.
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo creates a new repository instance.
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// selectUser joins with 'roles' to get the role name directly.
const selectUser = `
	SELECT u.id, u.email, u.name, u.password_hash, r.name, u.account_status, u.status_note,
	       u.is_email_verified, u.mfa_enabled, COALESCE(u.mfa_secret, ''), u.social_provider,
	       u.created_at, u.updated_at
	FROM users u
	JOIN roles r ON u.role_id = r.id
`

func (r *PostgresUserRepo) scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Role,
		&user.AccountStatus,
		&user.StatusNote,
		&user.IsEmailVerified,
		&user.MFAEnabled,
		&user.MFASecret,
		&user.SocialProvider,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, selectUser+` WHERE lower(u.email) = $1`, domain.NormalizeEmail(email))
	return r.scanUser(row)
}

// GetByID retrieves a user by their UUID.
func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, selectUser+` WHERE u.id = $1`, id)
	return r.scanUser(row)
}

// Create inserts a new user into the database.
func (r *PostgresUserRepo) Create(ctx context.Context, user *domain.User) error {
	if user.Role == "" {
		user.Role = domain.DefaultRole
	}
	if user.AccountStatus == "" {
		user.AccountStatus = domain.AccountActive
	}

	var roleID string
	err := r.db.QueryRowContext(ctx, "SELECT id FROM roles WHERE name = $1", user.Role).Scan(&roleID)
	if err != nil {
		return fmt.Errorf("role '%s' not found: %w", user.Role, err)
	}

	query := `
		INSERT INTO users (email, name, password_hash, role_id, account_status, status_note,
		                   is_email_verified, mfa_enabled, mfa_secret, social_provider, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	err = r.db.QueryRowContext(ctx, query,
		user.Email,
		user.Name,
		user.PasswordHash,
		roleID,
		user.AccountStatus,
		user.StatusNote,
		user.IsEmailVerified,
		user.MFAEnabled,
		nullString(user.MFASecret),
		user.SocialProvider,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)

	if err != nil {
		return createUserError(err)
	}

	return nil
}

// createUserError maps a unique violation on the email index to ErrUserExists.
func createUserError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return domain.ErrUserExists
	}
	return fmt.Errorf("failed to create user: %w", err)
}

// Update writes the mutable fields of an existing user.
func (r *PostgresUserRepo) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET name = $1, password_hash = $2, account_status = $3, status_note = $4,
		    is_email_verified = $5, mfa_enabled = $6, mfa_secret = $7, social_provider = $8,
		    updated_at = $9
		WHERE id = $10
	`

	user.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		user.Name,
		user.PasswordHash,
		user.AccountStatus,
		user.StatusNote,
		user.IsEmailVerified,
		user.MFAEnabled,
		nullString(user.MFASecret),
		user.SocialProvider,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// LogSecurityEvent inserts an immutable record into the audit_logs table.
func (r *PostgresUserRepo) LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (user_id, event_type, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	// user_id is NULL for anonymous events such as a failed login on an unknown email
	_, err = r.db.ExecContext(ctx, query, nullString(userID), eventType, ip, metaJSON, time.Now().UTC())
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
