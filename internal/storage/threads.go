package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/sunday/internal/chat"
)

const maxTitleRunes = 80

// CreateThread inserts an empty thread for its owner. CreatedAt and UpdatedAt
// are set when zero.
func (s *Store) CreateThread(ctx context.Context, t *chat.Thread) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	msgs, chats, err := marshalThread(t.Messages, t.Chats)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (user_id, id, title, messages, chats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.ID, t.Title, msgs, chats,
		t.CreatedAt.UTC().Format(time.RFC3339), t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetThread loads a full thread.
func (s *Store) GetThread(ctx context.Context, userID, id string) (chat.Thread, error) {
	var (
		t                    chat.Thread
		msgs, chats          string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, id, title, messages, chats, created_at, updated_at
		FROM threads WHERE user_id = ? AND id = ?`, userID, id,
	).Scan(&t.UserID, &t.ID, &t.Title, &msgs, &chats, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Thread{}, ErrNotFound
	}
	if err != nil {
		return chat.Thread{}, err
	}
	if err := json.Unmarshal([]byte(msgs), &t.Messages); err != nil {
		return chat.Thread{}, fmt.Errorf("decoding messages: %w", err)
	}
	if err := json.Unmarshal([]byte(chats), &t.Chats); err != nil {
		return chat.Thread{}, fmt.Errorf("decoding chats: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return chat.Thread{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return chat.Thread{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

// SaveThread overwrites the stored messages and chats of a thread with the
// given values. A thread that does not exist yet is created, titled after its
// first question.
func (s *Store) SaveThread(ctx context.Context, userID, threadID string, messages []chat.Message, chats []chat.Turn) error {
	msgs, turns, err := marshalThread(messages, chats)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (user_id, id, title, messages, chats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			messages = excluded.messages,
			chats = excluded.chats,
			updated_at = excluded.updated_at`,
		userID, threadID, titleFor(chats), msgs, turns, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving thread %s: %w", threadID, err)
	}
	return nil
}

// ListThreads returns the user's threads, most recently updated first.
func (s *Store) ListThreads(ctx context.Context, userID string, limit int) ([]ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, json_array_length(chats), created_at, updated_at
		FROM threads WHERE user_id = ?
		ORDER BY updated_at DESC, id ASC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ThreadSummary
	for rows.Next() {
		var (
			ts                   ThreadSummary
			createdAt, updatedAt string
		)
		if err := rows.Scan(&ts.ID, &ts.Title, &ts.Turns, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if ts.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if ts.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, ts)
	}
	return results, rows.Err()
}

// DeleteThread removes a thread.
func (s *Store) DeleteThread(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalThread(messages []chat.Message, chats []chat.Turn) (string, string, error) {
	if messages == nil {
		messages = []chat.Message{}
	}
	if chats == nil {
		chats = []chat.Turn{}
	}
	m, err := json.Marshal(messages)
	if err != nil {
		return "", "", fmt.Errorf("encoding messages: %w", err)
	}
	c, err := json.Marshal(chats)
	if err != nil {
		return "", "", fmt.Errorf("encoding chats: %w", err)
	}
	return string(m), string(c), nil
}

func titleFor(chats []chat.Turn) string {
	if len(chats) == 0 {
		return ""
	}
	r := []rune(chats[0].Question)
	if len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes])
	}
	return string(r)
}
