package autorisation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aidantsconnect/internal/mandate/models"
	"aidantsconnect/pkg/platform/sentinel"
	txcontext "aidantsconnect/pkg/platform/tx"
)

// PostgresStore persists autorisations joined to their owning mandats. The
// uniqueness check runs in the caller's transaction when one is in context,
// closing the check-then-insert race at the write boundary.
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

const selectJoined = `
	SELECT a.id, a.mandat_id, a.demarche, a.revocation_date, a.last_renewal_token,
	       m.id, m.organisation_id, m.usager_id, m.creation_date, m.expiration_date, m.duree_keyword, m.is_remote
	FROM autorisations a
	JOIN mandats m ON m.id = a.mandat_id
`

// CreateIfNoActiveDuplicate locks the matching mandats, checks for an active
// duplicate, and inserts. Run it inside a transaction for the lock to mean
// anything.
func (s *PostgresStore) CreateIfNoActiveDuplicate(ctx context.Context, a *models.Autorisation, now time.Time) error {
	q := s.querier(ctx)

	var exists bool
	checkQuery := `
		SELECT EXISTS (
			SELECT 1
			FROM autorisations a
			JOIN mandats m ON m.id = a.mandat_id
			WHERE m.organisation_id = $1
			  AND m.usager_id = $2
			  AND a.demarche = $3
			  AND a.revocation_date IS NULL
			  AND m.expiration_date >= $4
			FOR UPDATE OF a
		)
	`
	err := q.QueryRowContext(ctx, checkQuery,
		a.Mandat.OrganisationID, a.Mandat.UsagerID, a.Demarche, now,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check active duplicate: %w", err)
	}
	if exists {
		return fmt.Errorf("active autorisation for demarche %q already exists: %w", a.Demarche, sentinel.ErrConflict)
	}

	insertQuery := `
		INSERT INTO autorisations (id, mandat_id, demarche, revocation_date, last_renewal_token)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := q.ExecContext(ctx, insertQuery, a.ID, a.MandatID, a.Demarche, a.RevocationDate, a.LastRenewalToken); err != nil {
		return fmt.Errorf("create autorisation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByID(ctx context.Context, id uuid.UUID) (*models.Autorisation, error) {
	query := selectJoined + ` WHERE a.id = $1`
	a, err := scanAutorisation(s.querier(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("autorisation %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

// Find returns all autorisations matching the query. The status buckets are
// expressed in SQL over the same two facts the model derives from: the
// mandat expiration and the revocation column.
func (s *PostgresStore) Find(ctx context.Context, q Query) ([]*models.Autorisation, error) {
	query := selectJoined + ` WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.OrganisationID != uuid.Nil {
		query += ` AND m.organisation_id = ` + arg(q.OrganisationID)
	}
	if q.UsagerID != uuid.Nil {
		query += ` AND m.usager_id = ` + arg(q.UsagerID)
	}
	if q.Demarche != "" {
		query += ` AND a.demarche = ` + arg(q.Demarche)
	}
	switch q.Status {
	case StatusActive:
		query += ` AND m.expiration_date >= ` + arg(q.Now) + ` AND a.revocation_date IS NULL`
	case StatusInactive:
		query += ` AND (m.expiration_date < ` + arg(q.Now) + ` OR a.revocation_date IS NOT NULL)`
	case StatusExpired:
		query += ` AND m.expiration_date < ` + arg(q.Now)
	case StatusRevoked:
		query += ` AND m.expiration_date >= ` + arg(q.Now) + ` AND a.revocation_date IS NOT NULL`
	}
	query += ` ORDER BY m.creation_date DESC, a.demarche`

	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find autorisations: %w", err)
	}
	defer rows.Close()

	var out []*models.Autorisation
	for rows.Next() {
		a, err := scanAutorisation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetRevocationDate records the revocation instant. The WHERE clause makes
// the write monotonic: an already revoked row matches nothing.
func (s *PostgresStore) SetRevocationDate(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.querier(ctx).ExecContext(ctx,
		`UPDATE autorisations SET revocation_date = $2 WHERE id = $1 AND revocation_date IS NULL`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("revoke autorisation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke autorisation: %w", err)
	}
	if affected == 0 {
		if _, err := s.ByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("autorisation %s already revoked: %w", id, sentinel.ErrConflict)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAutorisation(row scannable) (*models.Autorisation, error) {
	var a models.Autorisation
	var m models.Mandat
	var revocation sql.NullTime
	var renewalToken sql.NullString
	err := row.Scan(
		&a.ID, &a.MandatID, &a.Demarche, &revocation, &renewalToken,
		&m.ID, &m.OrganisationID, &m.UsagerID, &m.CreationDate, &m.ExpirationDate, &m.DureeKeyword, &m.IsRemote,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan autorisation: %w", err)
	}
	if revocation.Valid {
		a.RevocationDate = &revocation.Time
	}
	a.LastRenewalToken = renewalToken.String
	a.Mandat = &m
	return &a, nil
}
