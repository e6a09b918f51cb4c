/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the engine needs using SQLite:
  configuration entities, the audit log and payslips. In production the
  same schema runs on PostgreSQL (see store/postgres) with only dialect
  differences.

INTERFACES IMPLEMENTED:
  generic.EntityStore: Configuration entities with version compare-and-swap
  generic.AuditLog:    Append-only audit trail
  generic.TxStore:     Entity write + audit append in one transaction
  payslip.Store:       Generated payslips

APPEND-ONLY ENFORCEMENT:
  The audit_log table is never updated or deleted from, except by Reset
  which exists for demo scenarios.

KEY TABLES:
  entities:  One row per configuration entity; payload stored as JSON,
             decision folded into status/decided_by/decided_at columns
  audit_log: Immutable trail of every lifecycle action
  payslips:  Payslip body as JSON plus indexed lookup columns

CONCURRENCY:
  A single connection is used (SQLite has one writer; ":memory:" databases
  are per-connection). sync.Mutex serializes writers so a transaction never
  waits on itself. Optimistic locking is enforced in SQL with
  "WHERE version = ?".

USAGE:
  store, err := sqlite.New("./data/payroll.db", factory.NewCodec())
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ctrl := generic.NewController(registry, store, store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/record.go: Entity <-> row mapping
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payslip"
)

// timeLayout is fixed-width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db    *sql.DB
	codec generic.PayloadCodec
	mu    sync.Mutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, codec generic.PayloadCodec) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, codec: codec}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Configuration entities
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		decided_by TEXT,
		decided_at TEXT,
		rejection_reason TEXT,
		review_json TEXT,
		payment_json TEXT,
		payment_cycle TEXT,
		edit_history_json TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_kind_status
		ON entities(kind, status);
	CREATE INDEX IF NOT EXISTS idx_entities_created
		ON entities(created_at, id);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT,
		before_json TEXT,
		after_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_log(entity_id, at);
	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON audit_log(actor_id, at);

	-- Payslips
	CREATE TABLE IF NOT EXISTS payslips (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		body_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payslips_employee_cycle
		ON payslips(employee_id, cycle_id);
	CREATE INDEX IF NOT EXISTS idx_payslips_status
		ON payslips(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTITY STORE (generic.EntityStore interface)
// =============================================================================

const entityColumns = `id, kind, status, payload_json, decided_by, decided_at, rejection_reason,
	review_json, payment_json, payment_cycle, edit_history_json, created_by, created_at, updated_at, version`

func (s *Store) Insert(ctx context.Context, e *generic.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEntity(ctx, s.db, e)
}

func (s *Store) insertEntity(ctx context.Context, db querier, e *generic.Entity) error {
	r, err := generic.ToRecord(e, s.codec)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO entities (`+entityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordArgs(r)...,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.ConflictError{Kind: e.Kind, Rule: "primary_key", Field: "id", Value: string(e.ID), ExistingID: e.ID}
		}
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id generic.EntityID) (*generic.Entity, error) {
	return s.getEntity(ctx, s.db, id)
}

func (s *Store) getEntity(ctx context.Context, db querier, id generic.EntityID) (*generic.Entity, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, generic.NotFound("entity", id)
	}
	return s.scanEntity(rows)
}

// Update replaces the row if its version still equals expectedVersion.
func (s *Store) Update(ctx context.Context, e *generic.Entity, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEntity(ctx, s.db, e, expectedVersion)
}

func (s *Store) updateEntity(ctx context.Context, db querier, e *generic.Entity, expectedVersion int64) error {
	r, err := generic.ToRecord(e, s.codec)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE entities SET
			kind = ?, status = ?, payload_json = ?, decided_by = ?, decided_at = ?, rejection_reason = ?,
			review_json = ?, payment_json = ?, payment_cycle = ?, edit_history_json = ?,
			created_by = ?, created_at = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?`,
		append(recordArgs(r)[1:], r.ID, expectedVersion)...,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	return s.checkVersioned(ctx, db, res, e.ID, expectedVersion)
}

func (s *Store) Delete(ctx context.Context, id generic.EntityID, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteEntity(ctx, s.db, id, expectedVersion)
}

func (s *Store) deleteEntity(ctx context.Context, db querier, id generic.EntityID, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM entities WHERE id = ? AND version = ?`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return s.checkVersioned(ctx, db, res, id, expectedVersion)
}

// checkVersioned turns "no rows affected" into NotFound or StaleState.
func (s *Store) checkVersioned(ctx context.Context, db querier, res sql.Result, id generic.EntityID, expected int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var actual int64
	err = db.QueryRowContext(ctx, `SELECT version FROM entities WHERE id = ?`, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.NotFound("entity", id)
	}
	if err != nil {
		return err
	}
	return &generic.StaleStateError{EntityID: id, Expected: expected, Actual: actual}
}

func (s *Store) List(ctx context.Context, filter generic.EntityFilter) ([]*generic.Entity, error) {
	return s.listEntities(ctx, s.db, filter)
}

func (s *Store) listEntities(ctx context.Context, db querier, filter generic.EntityFilter) ([]*generic.Entity, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if filter.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}

	query := `SELECT ` + entityColumns + ` FROM entities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []*generic.Entity
	for rows.Next() {
		e, err := s.scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (s *Store) scanEntity(rows *sql.Rows) (*generic.Entity, error) {
	var (
		r               generic.Record
		payload         string
		decidedBy       sql.NullString
		decidedAt       sql.NullString
		rejectionReason sql.NullString
		review          sql.NullString
		payment         sql.NullString
		paymentCycle    sql.NullString
		editHistory     sql.NullString
		createdAt       string
		updatedAt       string
	)
	err := rows.Scan(
		&r.ID, &r.Kind, &r.Status, &payload, &decidedBy, &decidedAt, &rejectionReason,
		&review, &payment, &paymentCycle, &editHistory, &r.CreatedBy, &createdAt, &updatedAt, &r.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	r.Payload = []byte(payload)
	r.DecidedBy = decidedBy.String
	r.RejectionReason = rejectionReason.String
	r.PaymentCycle = paymentCycle.String
	if decidedAt.Valid {
		t := parseTime(decidedAt.String)
		r.DecidedAt = &t
	}
	r.Review = nullBytes(review)
	r.Payment = nullBytes(payment)
	r.EditHistory = nullBytes(editHistory)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r.Entity(s.codec)
}

func recordArgs(r generic.Record) []any {
	var decidedAt sql.NullString
	if r.DecidedAt != nil {
		decidedAt = nullString(formatTime(*r.DecidedAt))
	}
	return []any{
		r.ID, r.Kind, r.Status, string(r.Payload),
		nullString(r.DecidedBy), decidedAt, nullString(r.RejectionReason),
		nullString(string(r.Review)), nullString(string(r.Payment)), nullString(r.PaymentCycle),
		nullString(string(r.EditHistory)),
		r.CreatedBy, formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.Version,
	}
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

// Append adds an entry to the audit trail.
func (s *Store) Append(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, db querier, entry generic.AuditEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, actor_role, action, entity_id, kind, reason, before_json, after_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, formatTime(entry.At), entry.ActorID, entry.ActorRole, entry.Action,
		entry.EntityID, entry.Kind, nullString(entry.Reason),
		nullString(string(entry.Before)), nullString(string(entry.After)),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns matching entries in append order.
func (s *Store) Query(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if len(filter.Actions) > 0 {
		where = append(where, "action IN ("+placeholders(len(filter.Actions))+")")
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	if filter.From != nil {
		where = append(where, "at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "at <= ?")
		args = append(args, formatTime(*filter.To))
	}

	query := `SELECT id, at, actor_id, actor_role, action, entity_id, kind, reason, before_json, after_json FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e             generic.AuditEntry
			at            string
			reason        sql.NullString
			before, after sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.ActorRole, &e.Action, &e.EntityID, &e.Kind,
			&reason, &before, &after); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.At = parseTime(at)
		e.Reason = reason.String
		if before.Valid {
			e.Before = json.RawMessage(before.String)
		}
		if after.Valid {
			e.After = json.RawMessage(after.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Both stores handed to fn
// read and write through the same transaction.
func (s *Store) WithTx(ctx context.Context, fn func(entities generic.EntityStore, audit generic.AuditLog) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	ts := &txStore{tx: sqlTx, parent: s}
	if err := fn(ts, ts); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Insert(ctx context.Context, e *generic.Entity) error {
	return ts.parent.insertEntity(ctx, ts.tx, e)
}

func (ts *txStore) Get(ctx context.Context, id generic.EntityID) (*generic.Entity, error) {
	return ts.parent.getEntity(ctx, ts.tx, id)
}

func (ts *txStore) Update(ctx context.Context, e *generic.Entity, expectedVersion int64) error {
	return ts.parent.updateEntity(ctx, ts.tx, e, expectedVersion)
}

func (ts *txStore) Delete(ctx context.Context, id generic.EntityID, expectedVersion int64) error {
	return ts.parent.deleteEntity(ctx, ts.tx, id, expectedVersion)
}

func (ts *txStore) List(ctx context.Context, filter generic.EntityFilter) ([]*generic.Entity, error) {
	return ts.parent.listEntities(ctx, ts.tx, filter)
}

func (ts *txStore) Append(ctx context.Context, entry generic.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

// Query is not used inside transactions; entries are read after commit.
func (ts *txStore) Query(_ context.Context, _ generic.AuditFilter) ([]generic.AuditEntry, error) {
	return nil, errors.New("audit query is not available inside a transaction")
}

// =============================================================================
// PAYSLIP STORE (payslip.Store interface)
// =============================================================================

func (s *Store) SavePayslip(ctx context.Context, p *payslip.Payslip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var (
		status  string
		version int64
	)
	err = sqlTx.QueryRowContext(ctx, `SELECT status, version FROM payslips WHERE id = ?`, p.ID).Scan(&status, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		p.Version = 1
	case err != nil:
		return fmt.Errorf("failed to read payslip: %w", err)
	default:
		if st := payslip.Status(status); st.Frozen() {
			return &payslip.LockedError{ID: p.ID, Status: st}
		}
		p.Version = version + 1
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payslip: %w", err)
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO payslips (id, employee_id, cycle_id, status, version, body_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, version = excluded.version,
			body_json = excluded.body_json, updated_at = excluded.updated_at`,
		p.ID, p.EmployeeID, p.Period.CycleID, p.Status, p.Version, string(body), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save payslip: %w", err)
	}
	return sqlTx.Commit()
}

func (s *Store) GetPayslip(ctx context.Context, id string) (*payslip.Payslip, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body_json FROM payslips WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("payslip", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payslip: %w", err)
	}
	return decodePayslip(body)
}

func (s *Store) UpdatePayslip(ctx context.Context, p *payslip.Payslip, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payslip: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE payslips SET status = ?, version = ?, body_json = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Status, p.Version, string(body), formatTime(p.UpdatedAt), p.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update payslip: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var actual int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM payslips WHERE id = ?`, p.ID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.NotFound("payslip", p.ID)
	}
	if err != nil {
		return err
	}
	return &generic.StaleStateError{EntityID: generic.EntityID(p.ID), Expected: expectedVersion, Actual: actual}
}

// ListPayslips orders by cycle, then employee.
func (s *Store) ListPayslips(ctx context.Context, filter payslip.Filter) ([]*payslip.Payslip, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.CycleID != "" {
		where = append(where, "cycle_id = ?")
		args = append(args, filter.CycleID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := `SELECT body_json FROM payslips`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY cycle_id ASC, employee_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payslips: %w", err)
	}
	defer rows.Close()

	var result []*payslip.Payslip
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan payslip: %w", err)
		}
		p, err := decodePayslip(body)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func decodePayslip(body string) (*payslip.Payslip, error) {
	var p payslip.Payslip
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("failed to decode payslip: %w", err)
	}
	return &p, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"payslips", "audit_log", "entities"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(ns sql.NullString) []byte {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return []byte(ns.String)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
