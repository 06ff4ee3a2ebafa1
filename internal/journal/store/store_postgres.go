package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"aidantsconnect/internal/journal"
	"aidantsconnect/pkg/platform/sentinel"
	txcontext "aidantsconnect/pkg/platform/tx"
)

// PostgresStore persists journal entries in the journal_entries table. The
// table additionally carries a trigger refusing UPDATE and DELETE, so even a
// future code path cannot rewrite history (see db/schema.sql).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a postgres-backed journal store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) querier(ctx context.Context) rowQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts the entry. The id and creation timestamp come back from the
// database; a non-zero id on the way in is an attempted edit and is refused.
func (s *PostgresStore) Append(ctx context.Context, entry *journal.Entry) error {
	if entry.ID != 0 {
		return fmt.Errorf("journal entry %d already persisted: %w", entry.ID, sentinel.ErrImmutable)
	}

	query := `
		INSERT INTO journal_entries (
			action, initiator, usager, demarche, duree, access_token,
			autorisation_id, attestation_hash, additional_information,
			is_remote_mandat, creation_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING id, creation_date
	`
	err := s.querier(ctx).QueryRowContext(ctx, query,
		string(entry.Action),
		entry.Initiator,
		nullString(entry.Usager),
		nullString(entry.Demarche),
		nullInt(entry.Duree),
		nullString(entry.AccessToken),
		entry.AutorisationID,
		nullString(entry.AttestationHash),
		nullString(entry.AdditionalInformation),
		entry.IsRemoteMandat,
	).Scan(&entry.ID, &entry.CreationDate)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

const selectColumns = `
	id, action, initiator, usager, demarche, duree, access_token,
	autorisation_id, attestation_hash, additional_information,
	is_remote_mandat, creation_date
`

// ByInitiator returns all entries written by the initiator, oldest first.
func (s *PostgresStore) ByInitiator(ctx context.Context, initiator string) ([]*journal.Entry, error) {
	query := `SELECT ` + selectColumns + `
		FROM journal_entries WHERE initiator = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, initiator)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// LastByInitiator returns the most recent entry by the initiator, or nil.
func (s *PostgresStore) LastByInitiator(ctx context.Context, initiator string) (*journal.Entry, error) {
	query := `SELECT ` + selectColumns + `
		FROM journal_entries WHERE initiator = $1 ORDER BY id DESC LIMIT 1`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, initiator))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// FindAttestation returns the latest create_attestation entry matching the
// initiator and access token, or nil.
func (s *PostgresStore) FindAttestation(ctx context.Context, initiator, accessToken string) (*journal.Entry, error) {
	query := `SELECT ` + selectColumns + `
		FROM journal_entries
		WHERE action = $1 AND initiator = $2 AND access_token = $3
		ORDER BY id DESC LIMIT 1`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query,
		string(journal.ActionCreateAttestation), initiator, accessToken))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// ByAction returns all entries with the given action, oldest first.
func (s *PostgresStore) ByAction(ctx context.Context, action journal.Action) ([]*journal.Entry, error) {
	query := `SELECT ` + selectColumns + `
		FROM journal_entries WHERE action = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, string(action))
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ExcludingInitiator returns all entries whose initiator does not contain
// the fragment, oldest first. An empty fragment excludes nothing.
func (s *PostgresStore) ExcludingInitiator(ctx context.Context, fragment string) ([]*journal.Entry, error) {
	query := `SELECT ` + selectColumns + `
		FROM journal_entries WHERE $1 = '' OR initiator NOT LIKE '%' || $1 || '%' ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, fragment)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*journal.Entry, error) {
	var (
		entry          journal.Entry
		usager         sql.NullString
		demarche       sql.NullString
		duree          sql.NullInt64
		accessToken    sql.NullString
		autorisationID *uuid.UUID
		hash           sql.NullString
		info           sql.NullString
	)
	err := row.Scan(
		&entry.ID,
		&entry.Action,
		&entry.Initiator,
		&usager,
		&demarche,
		&duree,
		&accessToken,
		&autorisationID,
		&hash,
		&info,
		&entry.IsRemoteMandat,
		&entry.CreationDate,
	)
	if err != nil {
		return nil, err
	}
	entry.Usager = usager.String
	entry.Demarche = demarche.String
	entry.Duree = int(duree.Int64)
	entry.AccessToken = accessToken.String
	entry.AutorisationID = autorisationID
	entry.AttestationHash = hash.String
	entry.AdditionalInformation = info.String
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]*journal.Entry, error) {
	var entries []*journal.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
