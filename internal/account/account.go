// Package account provides the data model and operations for VibeSpace
// user accounts: registration, login, profiles, privacy settings,
// consent records, and the anonymization step of account deletion.
//
// Roles control what an account can do:
//   - user:      regular account
//   - moderator: can review reports and remove content
//   - admin:     moderator rights plus role management
//
// Statuses control the account's operational state:
//   - active:    fully functional
//   - suspended: can sign in and read, cannot create content
//   - banned:    cannot sign in
//   - deleted:   anonymized tombstone row kept so authored content survives
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/auth"
	"github.com/primal-host/vibespace/internal/database"
)

// Sentinel errors for account operations.
var (
	ErrNotFound           = errors.New("account: not found")
	ErrUsernameTaken      = errors.New("account: username already taken")
	ErrEmailTaken         = errors.New("account: email already taken")
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrBanned             = errors.New("account: banned")
	ErrInvalid            = errors.New("account: invalid input")
)

// Valid roles.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Valid statuses.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusBanned    = "banned"
	StatusDeleted   = "deleted"
)

// Who may open a conversation with a user.
const (
	MessagesFromEveryone  = "everyone"
	MessagesFromFollowers = "followers"
	MessagesFromNone      = "none"
)

// User is the full account row, returned only to its owner and to admins.
type User struct {
	ID                int64     `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email,omitempty"`
	DisplayName       string    `json:"displayName"`
	Bio               string    `json:"bio"`
	AvatarKey         string    `json:"avatarKey,omitempty"`
	Role              string    `json:"role"`
	Status            string    `json:"status"`
	IsPrivate         bool      `json:"isPrivate"`
	AllowMessagesFrom string    `json:"allowMessagesFrom"`
	ShowActivity      bool      `json:"showActivity"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Profile is the public view of an account.
type Profile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	AvatarKey   string `json:"avatarKey,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
}

// Profile returns the public view of u.
func (u *User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		AvatarKey:   u.AvatarKey,
		IsPrivate:   u.IsPrivate,
	}
}

// IsModerator reports whether the role may act on reports and content.
func IsModerator(role string) bool {
	return role == RoleModerator || role == RoleAdmin
}

// CreateParams holds the parameters for registering a new account.
type CreateParams struct {
	Username string
	Email    string
	Password string // plaintext, will be hashed
}

// ProfileUpdate is a partial profile update; nil fields are unchanged.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	Bio         *string `json:"bio"`
	AvatarKey   *string `json:"avatarKey"`
}

const userColumns = `id, username, COALESCE(email, ''), display_name, bio, COALESCE(avatar_key, ''),
	role, status, is_private, allow_messages_from, show_activity, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.Bio, &u.AvatarKey,
		&u.Role, &u.Status, &u.IsPrivate, &u.AllowMessagesFrom, &u.ShowActivity, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Store provides account CRUD operations backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates an account Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create validates and inserts a new account. The username is stored in
// lower case and the password is hashed with bcrypt.
func (s *Store) Create(ctx context.Context, p CreateParams) (*User, error) {
	p.Username = NormalizeUsername(p.Username)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	if err := ValidateUsername(p.Username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(p.Email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(p.Password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("account: create: %w", err)
	}

	u, err := scanUser(s.db.Pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, display_name)
		 VALUES ($1, $2, $3, $1)
		 RETURNING `+userColumns,
		p.Username, p.Email, hash,
	))
	if err != nil {
		if database.IsUniqueViolation(err) {
			if strings.Contains(database.ConstraintName(err), "email") {
				return nil, fmt.Errorf("%w: %s", ErrEmailTaken, p.Email)
			}
			return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, p.Username)
		}
		return nil, fmt.Errorf("account: create %q: %w", p.Username, err)
	}
	return u, nil
}

// GetByID returns an account by ID. Returns ErrNotFound if no account
// matches.
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get %d: %w", id, err)
	}
	return u, nil
}

// GetByUsername returns a non-deleted account by username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	username = NormalizeUsername(username)
	u, err := scanUser(s.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 AND status <> 'deleted'`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get by username %q: %w", username, err)
	}
	return u, nil
}

// PublicProfile returns the public profile for an account, including
// deleted ones (shown as "Deleted user").
func (s *Store) PublicProfile(ctx context.Context, id int64) (*Profile, error) {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := u.Profile()
	return &p, nil
}

// Authenticate checks a username-or-email plus password. Unknown
// identifiers, wrong passwords and deleted accounts all return
// ErrInvalidCredentials; banned accounts return ErrBanned.
func (s *Store) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))

	var hash string
	var u User
	err := s.db.Pool.QueryRow(ctx,
		`SELECT password_hash, `+userColumns+`
		 FROM users WHERE (username = $1 OR email = $1) AND status <> 'deleted'`,
		identifier,
	).Scan(&hash, &u.ID, &u.Username, &u.Email, &u.DisplayName, &u.Bio, &u.AvatarKey,
		&u.Role, &u.Status, &u.IsPrivate, &u.AllowMessagesFrom, &u.ShowActivity, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("account: authenticate: %w", err)
	}

	if err := auth.CheckPassword(hash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if u.Status == StatusBanned {
		return nil, ErrBanned
	}
	return &u, nil
}

// VerifyPassword checks the password of the account with the given ID.
func (s *Store) VerifyPassword(ctx context.Context, id int64, password string) error {
	var hash string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("account: verify password %d: %w", id, err)
	}
	if err := auth.CheckPassword(hash, password); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// UpdateProfile applies a partial profile update.
func (s *Store) UpdateProfile(ctx context.Context, id int64, p ProfileUpdate) (*User, error) {
	if p.DisplayName != nil {
		name := strings.TrimSpace(*p.DisplayName)
		if len([]rune(name)) > 60 {
			return nil, fmt.Errorf("%w: display name longer than 60 characters", ErrInvalid)
		}
		p.DisplayName = &name
	}
	if p.Bio != nil && len([]rune(*p.Bio)) > 300 {
		return nil, fmt.Errorf("%w: bio longer than 300 characters", ErrInvalid)
	}

	u, err := scanUser(s.db.Pool.QueryRow(ctx,
		`UPDATE users SET
		     display_name = COALESCE($2, display_name),
		     bio          = COALESCE($3, bio),
		     avatar_key   = CASE WHEN $4::text IS NULL THEN avatar_key ELSE NULLIF($4, '') END,
		     updated_at   = NOW()
		 WHERE id = $1 AND status <> 'deleted'
		 RETURNING `+userColumns,
		id, p.DisplayName, p.Bio, p.AvatarKey,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("account: update profile %d: %w", id, err)
	}
	return u, nil
}

// SetStatus changes an account's status using q, typically the
// transaction that also records the change. Deleted accounts cannot be
// revived, and "deleted" can only be reached through Anonymize.
func SetStatus(ctx context.Context, q database.Querier, id int64, status string) (*User, error) {
	switch status {
	case StatusActive, StatusSuspended, StatusBanned:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	return updateField(ctx, q, id, "status", status)
}

// SetRole changes an account's role using q.
func SetRole(ctx context.Context, q database.Querier, id int64, role string) (*User, error) {
	switch role {
	case RoleUser, RoleModerator, RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}
	return updateField(ctx, q, id, "role", role)
}

// updateField sets a whitelisted column; callers pass constant names.
func updateField(ctx context.Context, q database.Querier, id int64, column, value string) (*User, error) {
	u, err := scanUser(q.QueryRow(ctx,
		`UPDATE users SET `+column+` = $2, updated_at = NOW()
		 WHERE id = $1 AND status <> 'deleted'
		 RETURNING `+userColumns,
		id, value,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("account: update %s %d: %w", column, id, err)
	}
	return u, nil
}

// Anonymize scrubs an account inside the caller's transaction: the row is
// kept as a "Deleted user" tombstone so authored posts, comments and
// messages keep a valid author, while credentials, contact details,
// social edges, reactions, consents and notifications are removed.
// Returns ErrNotFound if the account does not exist or is already deleted.
func Anonymize(ctx context.Context, q database.Querier, id int64) error {
	tombstone := "deleted_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]

	tag, err := q.Exec(ctx,
		`UPDATE users SET
		     username = $2, email = NULL, password_hash = '',
		     display_name = 'Deleted user', bio = '', avatar_key = NULL,
		     role = 'user', status = 'deleted', is_private = TRUE,
		     allow_messages_from = 'none', show_activity = FALSE,
		     deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status <> 'deleted'`,
		id, tombstone)
	if err != nil {
		return fmt.Errorf("account: anonymize %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	cleanup := []string{
		`DELETE FROM follows WHERE follower_id = $1 OR followee_id = $1`,
		`DELETE FROM vibes WHERE user_id = $1`,
		`DELETE FROM consents WHERE user_id = $1`,
		`DELETE FROM notifications WHERE recipient_id = $1 OR sender_id = $1`,
		`UPDATE posts SET media_key = NULL WHERE user_id = $1`,
	}
	for _, stmt := range cleanup {
		if _, err := q.Exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("account: anonymize %d: %w", id, err)
		}
	}
	return nil
}
