package store

import (
	"context"

	"chatsync/internal/db"
	"chatsync/internal/models"
)

// SQL stores messages in the messages table on Postgres or SQLite.
type SQL struct {
	db *db.Database
}

func NewSQL(database *db.Database) *SQL {
	return &SQL{db: database}
}

func (s *SQL) Push(ctx context.Context) (string, error) {
	return NewKey()
}

func (s *SQL) Set(ctx context.Context, path, key string, msg models.Message) error {
	query := s.db.Rebind(`
		INSERT INTO messages (path, msg_key, sender_id, receiver_id, body, ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (path, msg_key) DO UPDATE SET
			sender_id = excluded.sender_id,
			receiver_id = excluded.receiver_id,
			body = excluded.body,
			ts = excluded.ts
	`)
	_, err := s.db.Conn.ExecContext(ctx, query, path, key, msg.SenderID, msg.ReceiverID, msg.Text, msg.Timestamp)
	return err
}

func (s *SQL) Get(ctx context.Context, path string, q Query) ([]models.Message, error) {
	var (
		query string
		args  = []any{path}
	)
	if q.LimitToLast > 0 {
		query = `
			SELECT sender_id, receiver_id, body, ts FROM (
				SELECT sender_id, receiver_id, body, ts, msg_key
				FROM messages
				WHERE path = ?
				ORDER BY ts DESC, msg_key DESC
				LIMIT ?
			) recent
			ORDER BY ts ASC, msg_key ASC
		`
		args = append(args, q.LimitToLast)
	} else {
		query = `
			SELECT sender_id, receiver_id, body, ts
			FROM messages
			WHERE path = ?
			ORDER BY ts ASC, msg_key ASC
		`
	}

	rows, err := s.db.Conn.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.SenderID, &m.ReceiverID, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Close leaves the shared database open; its owner closes it.
func (s *SQL) Close() error { return nil }
