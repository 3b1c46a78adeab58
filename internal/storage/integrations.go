package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutIntegration links (or relinks) an external account for the user.
func (s *Store) PutIntegration(ctx context.Context, in Integration) error {
	if in.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	updated := in.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (user_id, provider, access_token, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			updated_at = excluded.updated_at`,
		in.UserID, in.Provider, in.AccessToken, updated.UTC().Format(time.RFC3339),
	)
	return err
}

// GetIntegration returns ErrNotFound when the user has not linked the provider.
func (s *Store) GetIntegration(ctx context.Context, userID, provider string) (Integration, error) {
	in := Integration{UserID: userID, Provider: provider}
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, updated_at FROM integrations WHERE user_id = ? AND provider = ?`,
		userID, provider,
	).Scan(&in.AccessToken, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Integration{}, ErrNotFound
	}
	if err != nil {
		return Integration{}, err
	}
	if in.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Integration{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return in, nil
}

// DeleteIntegration unlinks the provider for the user.
func (s *Store) DeleteIntegration(ctx context.Context, userID, provider string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM integrations WHERE user_id = ? AND provider = ?`, userID, provider)
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
