// Package postgres provides a PostgreSQL-backed DocumentStore for creditgate.
//
// Each entitlement document is one row. Columns added after the first schema
// version are nullable so legacy rows read back with those fields absent.
// Slot claims run in a transaction holding an advisory lock, which closes the
// scan-then-write race between concurrent signups.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/creditgate"
)

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

// Store is a PostgreSQL-backed DocumentStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ creditgate.DocumentStore = (*Store)(nil)
	_ creditgate.SlotClaimer   = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "creditgate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed DocumentStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "creditgate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table() string { return s.tablePrefix + "entitlements" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			plan TEXT,
			monthly_credits BIGINT,
			monthly_renewal_at TIMESTAMPTZ,
			daily_credits BIGINT,
			last_daily_reset_at TIMESTAMPTZ,
			key_slot INTEGER,
			schema_version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS %[1]s_key_slot_idx ON %[1]s (key_slot) WHERE key_slot > 0;
	`, s.table())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("creditgate/postgres: ensure schema: %w", err)
	}
	return nil
}

// Get returns the document for a user.
func (s *Store) Get(ctx context.Context, userID string) (creditgate.Document, error) {
	var (
		doc                  = creditgate.Document{UserID: userID}
		plan                 *string
		keySlot              *int32
		createdAt, updatedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT email, display_name, plan, monthly_credits, monthly_renewal_at,
			daily_credits, last_daily_reset_at, key_slot, schema_version, created_at, updated_at
			FROM %s WHERE user_id = $1`, s.table()),
		userID,
	).Scan(&doc.Email, &doc.DisplayName, &plan, &doc.MonthlyCredits, &doc.MonthlyRenewalAt,
		&doc.DailyCredits, &doc.LastDailyResetAt, &keySlot, &doc.SchemaVersion, &createdAt, &updatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return creditgate.Document{}, creditgate.ErrNotFound
	}
	if err != nil {
		return creditgate.Document{}, fmt.Errorf("creditgate/postgres: get: %w", err)
	}

	if plan != nil {
		doc.Plan = creditgate.Ptr(creditgate.Plan(*plan))
	}
	if keySlot != nil {
		doc.KeySlot = creditgate.Ptr(int(*keySlot))
	}
	if createdAt != nil {
		doc.CreatedAt = *createdAt
	}
	if updatedAt != nil {
		doc.UpdatedAt = *updatedAt
	}
	return doc, nil
}

// Set writes a document. Without merge every column is overwritten,
// clearing the ones absent from doc.
func (s *Store) Set(ctx context.Context, doc creditgate.Document, merge bool) error {
	if doc.UserID == "" {
		return fmt.Errorf("creditgate/postgres: set: empty user id")
	}

	cols := allColumns(doc)
	if merge {
		cols = presentColumns(doc)
	}

	names := []string{"user_id"}
	placeholders := []string{"$1"}
	args := []any{doc.UserID}
	updates := make([]string, 0, len(cols))
	for i, c := range cols {
		names = append(names, c.name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, c.value)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c.name, c.name))
	}

	conflict := "DO NOTHING"
	if len(updates) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (user_id) %s`,
			s.table(), strings.Join(names, ", "), strings.Join(placeholders, ", "), conflict),
		args...,
	)
	if err != nil {
		return fmt.Errorf("creditgate/postgres: set: %w", err)
	}
	return nil
}

// Update writes the present fields of an existing document.
func (s *Store) Update(ctx context.Context, userID string, fields creditgate.Document) error {
	cols := presentColumns(fields)

	sets := make([]string, 0, len(cols))
	args := []any{userID}
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, i+2))
		args = append(args, c.value)
	}
	if len(sets) == 0 {
		// Nothing to write; still report a missing document.
		sets = append(sets, "user_id = user_id")
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE user_id = $1`, s.table(), strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("creditgate/postgres: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return creditgate.ErrNotFound
	}
	return nil
}

// Increment atomically adds delta to a credit field, clamped at zero.
// A field holding the Unbounded sentinel is left untouched.
func (s *Store) Increment(ctx context.Context, userID string, field creditgate.Field, delta int64) (int64, error) {
	if field != creditgate.FieldMonthlyCredits && field != creditgate.FieldDailyCredits {
		return 0, fmt.Errorf("creditgate/postgres: increment: unknown field %q", field)
	}
	col := string(field)

	var value int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %[1]s SET %[2]s = CASE
				WHEN %[2]s = $1 THEN %[2]s
				ELSE GREATEST(COALESCE(%[2]s, 0) + $2, 0)
			END
			WHERE user_id = $3
			RETURNING %[2]s`, s.table(), col),
		creditgate.Unbounded, delta, userID,
	).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, creditgate.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("creditgate/postgres: increment: %w", err)
	}
	return value, nil
}

// AssignedSlots returns every nonzero key slot.
func (s *Store) AssignedSlots(ctx context.Context) ([]int, error) {
	return assignedSlots(ctx, s.pool, s.table())
}

// CreateWithSlot creates doc with the lowest free slot. The scan and the
// insert share a transaction serialized by an advisory lock on the table.
func (s *Store) CreateWithSlot(ctx context.Context, doc creditgate.Document, poolSize int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("creditgate/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.table()); err != nil {
		return 0, fmt.Errorf("creditgate/postgres: slot lock: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT true FROM %s WHERE user_id = $1`, s.table()),
		doc.UserID,
	).Scan(&exists)
	if err == nil {
		return 0, creditgate.ErrAlreadyExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("creditgate/postgres: check exists: %w", err)
	}

	taken, err := assignedSlots(ctx, tx, s.table())
	if err != nil {
		return 0, err
	}
	slot := creditgate.LowestFreeSlot(taken, poolSize)
	doc.KeySlot = creditgate.Ptr(slot)

	cols := allColumns(doc)
	names := []string{"user_id"}
	placeholders := []string{"$1"}
	args := []any{doc.UserID}
	for i, c := range cols {
		names = append(names, c.name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, c.value)
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			s.table(), strings.Join(names, ", "), strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, creditgate.ErrAlreadyExists
		}
		return 0, fmt.Errorf("creditgate/postgres: create: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("creditgate/postgres: commit: %w", err)
	}
	return slot, nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func assignedSlots(ctx context.Context, q querier, table string) ([]int, error) {
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT key_slot FROM %s WHERE key_slot > 0`, table),
	)
	if err != nil {
		return nil, fmt.Errorf("creditgate/postgres: assigned slots: %w", err)
	}
	slots, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (int, error) {
		var slot int32
		err := row.Scan(&slot)
		return int(slot), err
	})
	if err != nil {
		return nil, fmt.Errorf("creditgate/postgres: assigned slots: %w", err)
	}
	return slots, nil
}

type column struct {
	name  string
	value any
}

// allColumns maps every field to a column value, with absent fields as NULL.
func allColumns(d creditgate.Document) []column {
	var plan *string
	if d.Plan != nil {
		plan = creditgate.Ptr(string(*d.Plan))
	}
	return []column{
		{"email", d.Email},
		{"display_name", d.DisplayName},
		{"plan", plan},
		{"monthly_credits", d.MonthlyCredits},
		{"monthly_renewal_at", d.MonthlyRenewalAt},
		{"daily_credits", d.DailyCredits},
		{"last_daily_reset_at", d.LastDailyResetAt},
		{"key_slot", d.KeySlot},
		{"schema_version", d.SchemaVersion},
		{"created_at", nullTime(d.CreatedAt)},
		{"updated_at", nullTime(d.UpdatedAt)},
	}
}

// presentColumns maps only the fields present in d.
func presentColumns(d creditgate.Document) []column {
	var cols []column
	if d.Email != "" {
		cols = append(cols, column{"email", d.Email})
	}
	if d.DisplayName != "" {
		cols = append(cols, column{"display_name", d.DisplayName})
	}
	if d.Plan != nil {
		cols = append(cols, column{"plan", string(*d.Plan)})
	}
	if d.MonthlyCredits != nil {
		cols = append(cols, column{"monthly_credits", *d.MonthlyCredits})
	}
	if d.MonthlyRenewalAt != nil {
		cols = append(cols, column{"monthly_renewal_at", *d.MonthlyRenewalAt})
	}
	if d.DailyCredits != nil {
		cols = append(cols, column{"daily_credits", *d.DailyCredits})
	}
	if d.LastDailyResetAt != nil {
		cols = append(cols, column{"last_daily_reset_at", *d.LastDailyResetAt})
	}
	if d.KeySlot != nil {
		cols = append(cols, column{"key_slot", *d.KeySlot})
	}
	if d.SchemaVersion != 0 {
		cols = append(cols, column{"schema_version", d.SchemaVersion})
	}
	if !d.CreatedAt.IsZero() {
		cols = append(cols, column{"created_at", d.CreatedAt})
	}
	if !d.UpdatedAt.IsZero() {
		cols = append(cols, column{"updated_at", d.UpdatedAt})
	}
	return cols
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
