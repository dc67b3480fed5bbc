package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Tyrowin/socialchat/internal/domain"
	"github.com/Tyrowin/socialchat/internal/store"
)

// Groups is a store.GroupStore on the groups and group_members tables.
type Groups struct {
	db *sql.DB
}

// NewGroups returns a group store that uses db for persistence.
func NewGroups(db *sql.DB) *Groups {
	return &Groups{db: db}
}

// Create inserts g and its members in one transaction.
func (r *Groups) Create(ctx context.Context, g domain.Group) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO groups (id, name, description, avatar, contact_type) VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.Name, g.Description, g.Avatar, string(g.ContactType)); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	for _, m := range g.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			g.ID, m); err != nil {
			return fmt.Errorf("add member %s: %w", m, err)
		}
	}
	return tx.Commit()
}

func (r *Groups) FindGroups(ctx context.Context, userID string) ([]domain.Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.description, g.avatar, g.contact_type
		FROM groups g
		WHERE g.contact_type = 'ALL_USERS_GROUP'
		   OR EXISTS (SELECT 1 FROM group_members m WHERE m.group_id = g.id AND m.user_id = $1)
		ORDER BY lower(g.name), g.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("find groups: %w", err)
	}
	defer rows.Close()

	groups := make([]domain.Group, 0)
	for rows.Next() {
		var (
			g    domain.Group
			kind string
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.Avatar, &kind); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.ContactType = domain.ContactType(kind)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *Groups) FindDestinationType(ctx context.Context, id string) (domain.ContactType, error) {
	var kind string
	err := r.db.QueryRowContext(ctx, `SELECT contact_type FROM groups WHERE id = $1`, id).Scan(&kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("resolve destination: %w", err)
	}
	return domain.ContactType(kind), nil
}

func (r *Groups) FindMembers(ctx context.Context, groupID string) ([]string, error) {
	if _, err := r.FindDestinationType(ctx, groupID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("find members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

var _ store.GroupStore = (*Groups)(nil)
