package usager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"aidantsconnect/internal/identity/models"
	"aidantsconnect/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

const selectColumns = `id, sub, given_name, family_name, preferred_username, gender,
	birthdate, birthplace, birthcountry, email, creation_date`

// PostgresStore persists usagers in the usagers table. The sub column
// carries a unique constraint.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, usager *models.Usager) error {
	query := `
		INSERT INTO usagers (id, sub, given_name, family_name, preferred_username, gender,
			birthdate, birthplace, birthcountry, email, creation_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		usager.ID, usager.Sub, usager.GivenName, usager.FamilyName, usager.PreferredUsername,
		usager.Gender, usager.Birthdate, usager.Birthplace, usager.Birthcountry,
		usager.Email, usager.CreationDate,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("usager sub %s: %w", usager.Sub, sentinel.ErrConflict)
		}
		return fmt.Errorf("create usager: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByID(ctx context.Context, id uuid.UUID) (*models.Usager, error) {
	query := `SELECT ` + selectColumns + ` FROM usagers WHERE id = $1`
	return scanUsager(s.db.QueryRowContext(ctx, query, id), id.String())
}

func (s *PostgresStore) BySub(ctx context.Context, sub string) (*models.Usager, error) {
	query := `SELECT ` + selectColumns + ` FROM usagers WHERE sub = $1`
	return scanUsager(s.db.QueryRowContext(ctx, query, sub), sub)
}

func (s *PostgresStore) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE usagers SET email = $2 WHERE id = $1`, id, email)
	if err != nil {
		return fmt.Errorf("update usager email: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update usager email: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("usager %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Usager, error) {
	query := `SELECT ` + selectColumns + ` FROM usagers ORDER BY family_name, given_name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list usagers: %w", err)
	}
	defer rows.Close()

	var out []*models.Usager
	for rows.Next() {
		u, err := scanUsager(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUsager(row scannable, key string) (*models.Usager, error) {
	var u models.Usager
	err := row.Scan(&u.ID, &u.Sub, &u.GivenName, &u.FamilyName, &u.PreferredUsername,
		&u.Gender, &u.Birthdate, &u.Birthplace, &u.Birthcountry, &u.Email, &u.CreationDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("usager %s: %w", key, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan usager: %w", err)
	}
	return &u, nil
}
