package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Tyrowin/socialchat/internal/domain"
	"github.com/Tyrowin/socialchat/internal/store"
)

// Users is a store.UserStore on the users table.
type Users struct {
	db *sql.DB
}

// NewUsers returns a user store that uses db for persistence.
func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

const userColumns = `id, username, password, name, description, avatar, status`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Name, &u.Description, &u.Avatar, &u.Status)
	return u, err
}

func (r *Users) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, store.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("find user by username: %w", err)
	}
	return u, nil
}

func (r *Users) FindByID(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, store.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

// Create inserts u. The unique index on username is authoritative, so two
// concurrent signups for one username yield exactly one ErrUsernameInUse.
func (r *Users) Create(ctx context.Context, u domain.User) (domain.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Password, u.Name, u.Description, u.Avatar, u.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, store.ErrUsernameInUse
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *Users) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

func (r *Users) FindContacts(ctx context.Context, excludeUserID string) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, avatar, description FROM users WHERE id <> $1 ORDER BY lower(name), id`,
		excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]domain.Contact, 0)
	for rows.Next() {
		c := domain.Contact{ContactType: domain.ContactUser}
		if err := rows.Scan(&c.ID, &c.Name, &c.Avatar, &c.Description); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *Users) FindDestinationType(ctx context.Context, id string) (domain.ContactType, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("resolve destination: %w", err)
	}
	if !exists {
		return "", store.ErrNotFound
	}
	return domain.ContactUser, nil
}

var _ store.UserStore = (*Users)(nil)
