// Package postgres persists contacts in PostgreSQL via the pgx stdlib driver.
//
// The schema (migrations/001_create_contacts.sql) carries a partial unique
// index over the live (email, phone_number) pair; Create surfaces its
// violation as sentinel.ErrConflict so the engine can retry the pipeline once
// after a concurrent writer commits first.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"coalesce/internal/contact/models"
	"coalesce/pkg/platform/sentinel"
	txcontext "coalesce/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Store implements store.Store on a *sql.DB.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the pgx stdlib driver and verifies connectivity.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer prefers a transaction stashed in the context by RunInTx.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const contactColumns = `id, email, phone_number, linked_id, link_precedence, created_at, updated_at, deleted_at`

func (s *Store) FindByValue(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND ((email = $1 AND $1 IS NOT NULL) OR (phone_number = $2 AND $2 IS NOT NULL))
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, email, phone)
	if err != nil {
		return nil, mapError("find by value", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (s *Store) FindExact(ctx context.Context, email, phone *string) (*models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND email IS NOT DISTINCT FROM $1
		  AND phone_number IS NOT DISTINCT FROM $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, email, phone)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("find exact", err)
	}
	return c, nil
}

func (s *Store) FindGroupMembers(ctx context.Context, rootIDs []int64) ([]*models.Contact, error) {
	if len(rootIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (id = ANY($1) OR linked_id = ANY($1))
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, rootIDs)
	if err != nil {
		return nil, mapError("find group members", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (s *Store) Create(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	query := `
		INSERT INTO contacts (email, phone_number, linked_id, link_precedence)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + contactColumns
	row := s.execer(ctx).QueryRowContext(ctx, query, email, phone, linkedID, string(precedence))
	c, err := scanContact(row)
	if err != nil {
		return nil, mapError("create contact", err)
	}
	return c, nil
}

func (s *Store) DemoteToSecondary(ctx context.Context, id, newLinkedID int64) (*models.Contact, error) {
	query := `
		UPDATE contacts
		SET link_precedence = 'secondary', linked_id = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + contactColumns
	row := s.execer(ctx).QueryRowContext(ctx, query, id, newLinkedID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, mapError("demote contact", err)
	}
	return c, nil
}

func (s *Store) RepointSecondaries(ctx context.Context, oldPrimaryID, newPrimaryID int64) error {
	query := `
		UPDATE contacts
		SET linked_id = $2, updated_at = NOW()
		WHERE linked_id = $1 AND deleted_at IS NULL
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, oldPrimaryID, newPrimaryID); err != nil {
		return mapError("repoint secondaries", err)
	}
	return nil
}

// RunInTx runs fn inside a single transaction; nested calls reuse the
// transaction already present in the context.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin tx", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("commit tx", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mapError("ping", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var (
		c         models.Contact
		email     sql.NullString
		phone     sql.NullString
		linkedID  sql.NullInt64
		deletedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &email, &phone, &linkedID, &c.LinkPrecedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if email.Valid {
		c.Email = &email.String
	}
	if phone.Valid {
		c.PhoneNumber = &phone.String
	}
	if linkedID.Valid {
		c.LinkedID = &linkedID.Int64
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return &c, nil
}

func scanContacts(rows *sql.Rows) ([]*models.Contact, error) {
	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate contacts", err)
	}
	return contacts, nil
}

// mapError translates driver failures into sentinel errors the engine
// understands; everything else is wrapped with the failing operation.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%s: %v: %w", op, err, sentinel.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
