package aidant

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

const selectColumns = `id, email, first_name, last_name, profession, password_hash, organisation_id, created_at`

// PostgresStore persists aidants in the aidants table. Email uniqueness is a
// unique index on lower(email).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, aidant *models.Aidant) error {
	query := `
		INSERT INTO aidants (id, email, first_name, last_name, profession, password_hash, organisation_id, created_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		aidant.ID, aidant.Email, aidant.FirstName, aidant.LastName,
		aidant.Profession, aidant.PasswordHash, aidant.OrganisationID, aidant.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("aidant %s: %w", aidant.Email, sentinel.ErrConflict)
		}
		return fmt.Errorf("create aidant: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByID(ctx context.Context, id uuid.UUID) (*models.Aidant, error) {
	query := `SELECT ` + selectColumns + ` FROM aidants WHERE id = $1`
	return scanAidant(s.db.QueryRowContext(ctx, query, id), id.String())
}

func (s *PostgresStore) ByEmail(ctx context.Context, email string) (*models.Aidant, error) {
	query := `SELECT ` + selectColumns + ` FROM aidants WHERE email = lower($1)`
	return scanAidant(s.db.QueryRowContext(ctx, query, email), email)
}

func (s *PostgresStore) ByOrganisation(ctx context.Context, organisationID uuid.UUID) ([]*models.Aidant, error) {
	query := `SELECT ` + selectColumns + ` FROM aidants WHERE organisation_id = $1 ORDER BY last_name, first_name`
	rows, err := s.db.QueryContext(ctx, query, organisationID)
	if err != nil {
		return nil, fmt.Errorf("list aidants: %w", err)
	}
	defer rows.Close()

	var out []*models.Aidant
	for rows.Next() {
		a, err := scanAidant(rows, organisationID.String())
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, aidant *models.Aidant) error {
	query := `
		UPDATE aidants
		SET email = lower($2), first_name = $3, last_name = $4, profession = $5,
		    password_hash = $6, organisation_id = $7
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		aidant.ID, aidant.Email, aidant.FirstName, aidant.LastName,
		aidant.Profession, aidant.PasswordHash, aidant.OrganisationID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("aidant %s: %w", aidant.Email, sentinel.ErrConflict)
		}
		return fmt.Errorf("update aidant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update aidant: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("aidant %s: %w", aidant.ID, sentinel.ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAidant(row scannable, key string) (*models.Aidant, error) {
	var a models.Aidant
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Profession,
		&a.PasswordHash, &a.OrganisationID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("aidant %s: %w", key, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan aidant: %w", err)
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
