package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Tyrowin/socialchat/internal/domain"
	"github.com/Tyrowin/socialchat/internal/store"
)

// Messages is a store.MessageStore on the messages table.
type Messages struct {
	db *sql.DB
}

// NewMessages returns a message store that uses db for persistence.
func NewMessages(db *sql.DB) *Messages {
	return &Messages{db: db}
}

func (r *Messages) Insert(ctx context.Context, m domain.ChatMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, destination_id, destination_type, content, mime_type, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.From, m.DestinationID, string(m.DestinationType), m.Content, m.MimeType, m.Date.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const messageColumns = `id, sender_id, destination_id, destination_type, content, mime_type, sent_at`

// FindMessages returns the conversation in send order. Messages with the
// same timestamp keep their insertion order.
func (r *Messages) FindMessages(ctx context.Context, from, destinationID string, destinationType domain.ContactType) ([]domain.ChatMessage, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if destinationType.IsGroup() {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE destination_id = $1 ORDER BY sent_at, seq`,
			destinationID)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE destination_type = 'USER'
			  AND ((sender_id = $1 AND destination_id = $2) OR (sender_id = $2 AND destination_id = $1))
			ORDER BY sent_at, seq`, from, destinationID)
	}
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.ChatMessage, 0)
	for rows.Next() {
		var (
			m    domain.ChatMessage
			kind string
		)
		if err := rows.Scan(&m.ID, &m.From, &m.DestinationID, &kind, &m.Content, &m.MimeType, &m.Date); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.DestinationType = domain.ContactType(kind)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

var _ store.MessageStore = (*Messages)(nil)
