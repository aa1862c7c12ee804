package statedb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Form is a submission waiting for the contact-form sync trigger.
type Form struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// Enqueue stores a JSON payload and returns the stored form.
func (s *Store) Enqueue(ctx context.Context, payload json.RawMessage) (Form, error) {
	if err := s.ready(ctx); err != nil {
		return Form{}, err
	}
	if !json.Valid(payload) {
		return Form{}, fmt.Errorf("form payload must be valid json")
	}

	form := Form{
		ID:        uuid.NewString(),
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO outbox (id, payload, created_at) VALUES (?, ?, ?)`,
		form.ID, string(form.Payload), toMillis(form.CreatedAt))
	if err != nil {
		return Form{}, fmt.Errorf("enqueue form: %w", err)
	}
	return form, nil
}

// ListForms returns pending forms, oldest first.
func (s *Store) ListForms(ctx context.Context) ([]Form, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, payload, created_at, attempts, last_error
FROM outbox
ORDER BY created_at ASC, rowid ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	var forms []Form
	for rows.Next() {
		var (
			form      Form
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&form.ID, &payload, &createdAt, &form.Attempts, &form.LastError); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		form.Payload = json.RawMessage(payload)
		form.CreatedAt = fromMillis(createdAt)
		forms = append(forms, form)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return forms, nil
}

// RemoveForm deletes a delivered form. Missing ids are not an error.
func (s *Store) RemoveForm(ctx context.Context, id string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove form: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter and records the last error.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		strings.TrimSpace(reason), id)
	if err != nil {
		return fmt.Errorf("mark form failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark form %s: %w", id, ErrNotFound)
	}
	return nil
}
