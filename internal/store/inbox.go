package store

import (
	"time"
)

// MessageStatus is the lifecycle state of an inbox message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "PENDING"
	MessageDelivered MessageStatus = "DELIVERED"
)

// Message is one queued inter-terminal message.
type Message struct {
	ID         int64         `json:"id"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Body       string        `json:"message"`
	Status     MessageStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}

// AddMessage queues a message as PENDING and returns its id.
func (s *Store) AddMessage(senderID, receiverID, body string, at time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO inbox_messages (sender_id, receiver_id, message, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		senderID, receiverID, body, MessagePending, formatTime(at),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingMessages returns the receiver's undelivered messages oldest
// first.
func (s *Store) PendingMessages(receiverID string) ([]Message, error) {
	return s.MessagesByStatus(receiverID, MessagePending, 0)
}

// MessagesByStatus returns the receiver's messages in one state, oldest
// first. A non-positive limit returns all of them.
func (s *Store) MessagesByStatus(receiverID string, status MessageStatus, limit int) ([]Message, error) {
	query := `SELECT id, sender_id, receiver_id, message, status, created_at
		 FROM inbox_messages
		 WHERE receiver_id = ? AND status = ?
		 ORDER BY created_at, id`
	args := []any{receiverID, status}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Status, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// HasPending reports whether the receiver has at least one undelivered
// message.
func (s *Store) HasPending(receiverID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM inbox_messages WHERE receiver_id = ? AND status = ?`,
		receiverID, MessagePending,
	).Scan(&n)
	return n > 0, err
}

// MarkDelivered flips a message from PENDING to DELIVERED. It reports
// whether the transition happened, so a concurrent second delivery of
// the same message observes false.
func (s *Store) MarkDelivered(id int64) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE inbox_messages SET status = ? WHERE id = ? AND status = ?`,
		MessageDelivered, id, MessagePending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteMessagesBefore removes messages created before the cutoff and
// returns how many rows were deleted.
func (s *Store) DeleteMessagesBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM inbox_messages WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
