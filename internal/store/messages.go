// ABOUTME: Message persistence for direct and group chat messages
// ABOUTME: Handles creation, history queries, and read tracking

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const messageColumns = `id, sender_id, recipient_id, group_id, type, content, image_url,
	file_name, file_original_name, file_mime, file_size, file_url, is_read, read_at, created_at`

// CreateMessage persists a message. The store assigns the ID, fills CreatedAt
// when unset and derives the message type.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	if (msg.RecipientID == "") == (msg.GroupID == "") {
		return fmt.Errorf("message must target exactly one of recipient or group")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Type = DeriveMessageType(msg)

	var fileName, fileOriginal, fileMime, fileURL sql.NullString
	var fileSize sql.NullInt64
	if msg.File != nil {
		fileName = sql.NullString{String: msg.File.Filename, Valid: true}
		fileOriginal = sql.NullString{String: msg.File.OriginalName, Valid: true}
		fileMime = sql.NullString{String: msg.File.MimeType, Valid: true}
		fileSize = sql.NullInt64{Int64: msg.File.Size, Valid: true}
		fileURL = sql.NullString{String: msg.File.URL, Valid: true}
	}

	query := `INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		nullString(msg.RecipientID),
		nullString(msg.GroupID),
		string(msg.Type),
		msg.Content,
		nullString(msg.ImageURL),
		fileName,
		fileOriginal,
		fileMime,
		fileSize,
		fileURL,
		boolToInt(msg.IsRead),
		nullTime(msg.ReadAt),
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"recipient_id", msg.RecipientID,
		"group_id", msg.GroupID,
		"type", msg.Type,
	)
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var recipient, group, imageURL sql.NullString
	var fileName, fileOriginal, fileMime, fileURL sql.NullString
	var fileSize sql.NullInt64
	var msgType, createdAt string
	var readAt sql.NullString
	var isRead int

	if err := row.Scan(&m.ID, &m.SenderID, &recipient, &group, &msgType, &m.Content, &imageURL,
		&fileName, &fileOriginal, &fileMime, &fileSize, &fileURL, &isRead, &readAt, &createdAt); err != nil {
		return nil, err
	}

	m.RecipientID = recipient.String
	m.GroupID = group.String
	m.Type = MessageType(msgType)
	m.ImageURL = imageURL.String
	m.IsRead = isRead != 0
	if fileURL.Valid {
		m.File = &Attachment{
			Filename:     fileName.String,
			OriginalName: fileOriginal.String,
			MimeType:     fileMime.String,
			Size:         fileSize.Int64,
			URL:          fileURL.String,
		}
	}

	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if readAt.Valid {
		t, err := parseTime(readAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing read_at: %w", err)
		}
		m.ReadAt = &t
	}
	return &m, nil
}

// GetMessage retrieves a message by ID, including group read receipts.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	if m.IsGroup() {
		if m.ReadBy, err = s.listReadReceipts(ctx, m.ID); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *SQLiteStore) listReadReceipts(ctx context.Context, messageID string) ([]ReadReceipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, read_at FROM message_reads WHERE message_id = ? ORDER BY read_at ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying read receipts: %w", err)
	}
	defer rows.Close()

	var receipts []ReadReceipt
	for rows.Next() {
		var r ReadReceipt
		var readAt string
		if err := rows.Scan(&r.UserID, &readAt); err != nil {
			return nil, fmt.Errorf("scanning read receipt: %w", err)
		}
		if r.ReadAt, err = parseTime(readAt); err != nil {
			return nil, fmt.Errorf("parsing read_at: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// clampLimit applies the default (100) and maximum (1000) history page size
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// ListConversation returns the direct messages exchanged between two users,
// oldest first. The most recent limit messages are returned.
func (s *SQLiteStore) ListConversation(ctx context.Context, userA, userB string, limit int) ([]*Message, error) {
	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE group_id IS NULL
			  AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))
			ORDER BY created_at DESC
			LIMIT ?
		) ORDER BY created_at ASC
	`
	msgs, err := s.queryMessages(ctx, query, userA, userB, userB, userA, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return msgs, s.fillSenders(ctx, msgs)
}

// ListGroupMessages returns the most recent limit messages of a group, oldest first
func (s *SQLiteStore) ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*Message, error) {
	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE group_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		) ORDER BY created_at ASC
	`
	msgs, err := s.queryMessages(ctx, query, groupID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return msgs, s.fillSenders(ctx, msgs)
}

// fillSenders attaches sender profiles to msgs. Senders without a user row
// are left without one.
func (s *SQLiteStore) fillSenders(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			ids = append(ids, m.SenderID)
		}
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, username, avatar FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("querying senders: %w", err)
	}
	defer rows.Close()

	profiles := make(map[string]*Profile, len(ids))
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Username, &p.Avatar); err != nil {
			return fmt.Errorf("scanning sender: %w", err)
		}
		profiles[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating senders: %w", err)
	}

	for _, m := range msgs {
		m.Sender = profiles[m.SenderID]
	}
	return nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// MarkRead records that userID has read the message. Direct messages flip
// is_read/read_at; group messages gain a read receipt (once per user).
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	if msg.IsGroup() {
		_, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)`,
			messageID, userID, formatTime(at))
		if err != nil {
			return fmt.Errorf("inserting read receipt: %w", err)
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1, read_at = ? WHERE id = ?`, formatTime(at), messageID)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	return nil
}
