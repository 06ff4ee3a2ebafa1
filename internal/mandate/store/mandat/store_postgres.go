package mandat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"aidantsconnect/internal/mandate/models"
	"aidantsconnect/pkg/platform/sentinel"
	txcontext "aidantsconnect/pkg/platform/tx"
)

const selectColumns = `id, organisation_id, usager_id, creation_date, expiration_date, duree_keyword, is_remote`

// PostgresStore persists mandats in the mandats table. The organisation and
// usager foreign keys carry ON DELETE RESTRICT; autorisations cascade when a
// mandat goes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) querier(ctx context.Context) execQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, mandat *models.Mandat) error {
	query := `
		INSERT INTO mandats (id, organisation_id, usager_id, creation_date, expiration_date, duree_keyword, is_remote)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		mandat.ID, mandat.OrganisationID, mandat.UsagerID,
		mandat.CreationDate, mandat.ExpirationDate, string(mandat.DureeKeyword), mandat.IsRemote,
	)
	if err != nil {
		return fmt.Errorf("create mandat: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByID(ctx context.Context, id uuid.UUID) (*models.Mandat, error) {
	query := `SELECT ` + selectColumns + ` FROM mandats WHERE id = $1`
	var m models.Mandat
	err := s.querier(ctx).QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.OrganisationID, &m.UsagerID, &m.CreationDate, &m.ExpirationDate, &m.DureeKeyword, &m.IsRemote,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mandat %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan mandat: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) ByOrganisation(ctx context.Context, organisationID uuid.UUID) ([]*models.Mandat, error) {
	query := `SELECT ` + selectColumns + ` FROM mandats WHERE organisation_id = $1 ORDER BY creation_date DESC`
	rows, err := s.querier(ctx).QueryContext(ctx, query, organisationID)
	if err != nil {
		return nil, fmt.Errorf("list mandats: %w", err)
	}
	defer rows.Close()

	var out []*models.Mandat
	for rows.Next() {
		var m models.Mandat
		if err := rows.Scan(&m.ID, &m.OrganisationID, &m.UsagerID, &m.CreationDate, &m.ExpirationDate, &m.DureeKeyword, &m.IsRemote); err != nil {
			return nil, fmt.Errorf("scan mandat: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByOrganisation(ctx context.Context, organisationID uuid.UUID) (int, error) {
	var count int
	err := s.querier(ctx).QueryRowContext(ctx,
		`SELECT count(*) FROM mandats WHERE organisation_id = $1`, organisationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mandats: %w", err)
	}
	return count, nil
}
