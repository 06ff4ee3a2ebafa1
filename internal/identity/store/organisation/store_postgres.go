package organisation

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

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists organisations in the organisations table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, org *models.Organisation) error {
	query := `
		INSERT INTO organisations (id, name, siret, address)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, org.ID, org.Name, org.SIRET, org.Address); err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return fmt.Errorf("organisation %s: %w", org.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create organisation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByID(ctx context.Context, id uuid.UUID) (*models.Organisation, error) {
	query := `SELECT id, name, siret, address FROM organisations WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id), id.String())
}

func (s *PostgresStore) ByName(ctx context.Context, name string) (*models.Organisation, error) {
	query := `SELECT id, name, siret, address FROM organisations WHERE lower(name) = lower($1)`
	return s.scanOne(s.db.QueryRowContext(ctx, query, name), name)
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Organisation, error) {
	query := `SELECT id, name, siret, address FROM organisations ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list organisations: %w", err)
	}
	defer rows.Close()

	var out []*models.Organisation
	for rows.Next() {
		var org models.Organisation
		if err := rows.Scan(&org.ID, &org.Name, &org.SIRET, &org.Address); err != nil {
			return nil, fmt.Errorf("scan organisation: %w", err)
		}
		out = append(out, &org)
	}
	return out, rows.Err()
}

// Delete relies on ON DELETE RESTRICT from aidants and mandats; a foreign
// key violation surfaces as ErrRestricted.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM organisations WHERE id = $1`, id)
	if err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return fmt.Errorf("organisation %s still referenced: %w", id, sentinel.ErrRestricted)
		}
		return fmt.Errorf("delete organisation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete organisation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("organisation %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) scanOne(row *sql.Row, key string) (*models.Organisation, error) {
	var org models.Organisation
	if err := row.Scan(&org.ID, &org.Name, &org.SIRET, &org.Address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organisation %s: %w", key, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan organisation: %w", err)
	}
	return &org, nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
