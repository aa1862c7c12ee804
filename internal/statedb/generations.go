package statedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Generation is one installed cache version and its partition names.
type Generation struct {
	Version     string    `json:"version"`
	StaticName  string    `json:"static_name"`
	DynamicName string    `json:"dynamic_name"`
	InstalledAt time.Time `json:"installed_at"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	Active      bool      `json:"active"`
}

// SaveInstalled records a successful install. Re-installing a version
// refreshes its names and timestamp and keeps its active flag.
func (s *Store) SaveInstalled(ctx context.Context, gen Generation) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	gen.Version = strings.TrimSpace(gen.Version)
	if gen.Version == "" {
		return fmt.Errorf("generation version is required")
	}
	if gen.StaticName == "" || gen.DynamicName == "" {
		return fmt.Errorf("generation partition names are required")
	}
	if gen.InstalledAt.IsZero() {
		gen.InstalledAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO generations (version, static_name, dynamic_name, installed_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(version) DO UPDATE SET
	static_name = excluded.static_name,
	dynamic_name = excluded.dynamic_name,
	installed_at = excluded.installed_at
`,
		gen.Version,
		gen.StaticName,
		gen.DynamicName,
		toMillis(gen.InstalledAt),
	)
	if err != nil {
		return fmt.Errorf("save generation: %w", err)
	}
	return nil
}

// MarkActive makes version the only active generation.
func (s *Store) MarkActive(ctx context.Context, version string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE generations SET active = 1, activated_at = ? WHERE version = ?`,
		toMillis(at), version)
	if err != nil {
		return fmt.Errorf("activate generation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activate generation %s: %w", version, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE generations SET active = 0 WHERE version <> ?`, version); err != nil {
		return fmt.Errorf("deactivate generations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activate: %w", err)
	}
	return nil
}

// ActiveGeneration returns the generation in control, or ErrNotFound.
func (s *Store) ActiveGeneration(ctx context.Context) (Generation, error) {
	if err := s.ready(ctx); err != nil {
		return Generation{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT version, static_name, dynamic_name, installed_at, activated_at, active
FROM generations
WHERE active = 1
LIMIT 1
`)
	gen, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Generation{}, ErrNotFound
	}
	return gen, err
}

// Generation returns one generation by version.
func (s *Store) Generation(ctx context.Context, version string) (Generation, error) {
	if err := s.ready(ctx); err != nil {
		return Generation{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT version, static_name, dynamic_name, installed_at, activated_at, active
FROM generations
WHERE version = ?
`, version)
	gen, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Generation{}, ErrNotFound
	}
	return gen, err
}

// Generations lists every recorded generation, newest install first.
func (s *Store) Generations(ctx context.Context) ([]Generation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT version, static_name, dynamic_name, installed_at, activated_at, active
FROM generations
ORDER BY installed_at DESC, version DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gen)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return out, nil
}

// DeleteInactive removes every generation record except the active one.
func (s *Store) DeleteInactive(ctx context.Context) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM generations WHERE active = 0`)
	if err != nil {
		return 0, fmt.Errorf("delete inactive generations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (Generation, error) {
	var (
		gen         Generation
		installedAt int64
		activatedAt int64
		active      int
	)
	if err := row.Scan(
		&gen.Version,
		&gen.StaticName,
		&gen.DynamicName,
		&installedAt,
		&activatedAt,
		&active,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Generation{}, err
		}
		return Generation{}, fmt.Errorf("scan generation: %w", err)
	}
	gen.InstalledAt = fromMillis(installedAt)
	gen.ActivatedAt = fromMillis(activatedAt)
	gen.Active = active == 1
	return gen, nil
}
