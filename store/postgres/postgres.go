/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces, using a pgx connection pool.

INTERFACES IMPLEMENTED:
  generic.EntityStore, generic.AuditLog, generic.TxStore, payslip.Store

The schema mirrors store/sqlite with native types: JSONB for payloads and
snapshots, TIMESTAMPTZ for instants. Optimistic locking uses
"WHERE version = $n" and row-level locks come from PostgreSQL itself, so no
process-level mutex is needed.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"), factory.NewCodec())
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlite/sqlite.go: Embedded implementation
  - generic/record.go: Entity <-> row mapping
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payslip"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements all storage interfaces on PostgreSQL.
type Store struct {
	pool  *pgxpool.Pool
	codec generic.PayloadCodec
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects, pings and migrates.
func New(ctx context.Context, dsn string, codec generic.PayloadCodec) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{pool: pool, codec: codec}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		payload JSONB NOT NULL,
		decided_by TEXT,
		decided_at TIMESTAMPTZ,
		rejection_reason TEXT,
		review JSONB,
		payment JSONB,
		payment_cycle TEXT,
		edit_history JSONB,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_kind_status ON entities(kind, status);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		at TIMESTAMPTZ NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT,
		before_json JSONB,
		after_json JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_id, at);

	CREATE TABLE IF NOT EXISTS payslips (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL,
		status TEXT NOT NULL,
		version BIGINT NOT NULL,
		body JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (employee_id, cycle_id)
	);
	`)
	return err
}

// WithTransaction runs fn inside a transaction, rolling back on error.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// =============================================================================
// ENTITIES
// =============================================================================

const entityColumns = `id, kind, status, payload, decided_by, decided_at, rejection_reason,
	review, payment, payment_cycle, edit_history, created_by, created_at, updated_at, version`

func (s *Store) Insert(ctx context.Context, e *generic.Entity) error {
	return s.insertEntity(ctx, s.pool, e)
}

func (s *Store) insertEntity(ctx context.Context, q Querier, e *generic.Entity) error {
	r, err := generic.ToRecord(e, s.codec)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		`INSERT INTO entities (`+entityColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		recordArgs(r)...,
	)
	if isUniqueViolation(err) {
		return &generic.ConflictError{Kind: e.Kind, Rule: "primary_key", Field: "id", Value: string(e.ID), ExistingID: e.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id generic.EntityID) (*generic.Entity, error) {
	return s.getEntity(ctx, s.pool, id)
}

func (s *Store) getEntity(ctx context.Context, q Querier, id generic.EntityID) (*generic.Entity, error) {
	rows, err := q.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, string(id))
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

func (s *Store) Update(ctx context.Context, e *generic.Entity, expectedVersion int64) error {
	return s.updateEntity(ctx, s.pool, e, expectedVersion)
}

func (s *Store) updateEntity(ctx context.Context, q Querier, e *generic.Entity, expectedVersion int64) error {
	r, err := generic.ToRecord(e, s.codec)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE entities SET
			kind = $2, status = $3, payload = $4, decided_by = $5, decided_at = $6, rejection_reason = $7,
			review = $8, payment = $9, payment_cycle = $10, edit_history = $11,
			created_by = $12, created_at = $13, updated_at = $14, version = $15
		WHERE id = $1 AND version = $16`,
		append(recordArgs(r), expectedVersion)...,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	return checkVersioned(ctx, q, tag, "entities", string(e.ID), expectedVersion)
}

func (s *Store) Delete(ctx context.Context, id generic.EntityID, expectedVersion int64) error {
	return s.deleteEntity(ctx, s.pool, id, expectedVersion)
}

func (s *Store) deleteEntity(ctx context.Context, q Querier, id generic.EntityID, expectedVersion int64) error {
	tag, err := q.Exec(ctx, `DELETE FROM entities WHERE id = $1 AND version = $2`, string(id), expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return checkVersioned(ctx, q, tag, "entities", string(id), expectedVersion)
}

func checkVersioned(ctx context.Context, q Querier, tag pgconn.CommandTag, table, id string, expected int64) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	var actual int64
	err := q.QueryRow(ctx, `SELECT version FROM `+table+` WHERE id = $1`, id).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.NotFound(strings.TrimSuffix(table, "s"), id)
	}
	if err != nil {
		return err
	}
	return &generic.StaleStateError{EntityID: generic.EntityID(id), Expected: expected, Actual: actual}
}

func (s *Store) List(ctx context.Context, filter generic.EntityFilter) ([]*generic.Entity, error) {
	return s.listEntities(ctx, s.pool, filter)
}

func (s *Store) listEntities(ctx context.Context, q Querier, filter generic.EntityFilter) ([]*generic.Entity, error) {
	var w where
	if filter.Kind != "" {
		w.add("kind = $", filter.Kind)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY($)", statuses)
	}
	if filter.CreatedBy != "" {
		w.add("created_by = $", filter.CreatedBy)
	}

	rows, err := q.Query(ctx, `SELECT `+entityColumns+` FROM entities`+w.String()+` ORDER BY created_at, id`, w.args...)
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

func (s *Store) scanEntity(rows pgx.Rows) (*generic.Entity, error) {
	var (
		r               generic.Record
		decidedBy       *string
		rejectionReason *string
		paymentCycle    *string
	)
	err := rows.Scan(
		&r.ID, &r.Kind, &r.Status, &r.Payload, &decidedBy, &r.DecidedAt, &rejectionReason,
		&r.Review, &r.Payment, &paymentCycle, &r.EditHistory, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	r.DecidedBy = deref(decidedBy)
	r.RejectionReason = deref(rejectionReason)
	r.PaymentCycle = deref(paymentCycle)
	return r.Entity(s.codec)
}

func recordArgs(r generic.Record) []any {
	return []any{
		string(r.ID), string(r.Kind), string(r.Status), string(r.Payload),
		nullable(r.DecidedBy), r.DecidedAt, nullable(r.RejectionReason),
		jsonOrNil(r.Review), jsonOrNil(r.Payment), nullable(r.PaymentCycle), jsonOrNil(r.EditHistory),
		r.CreatedBy, r.CreatedAt, r.UpdatedAt, r.Version,
	}
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, entry generic.AuditEntry) error {
	return appendAudit(ctx, s.pool, entry)
}

func appendAudit(ctx context.Context, q Querier, entry generic.AuditEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO audit_log (id, at, actor_id, actor_role, action, entity_id, kind, reason, before_json, after_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.At, entry.ActorID, string(entry.ActorRole), string(entry.Action),
		string(entry.EntityID), string(entry.Kind), nullable(entry.Reason),
		jsonOrNil(entry.Before), jsonOrNil(entry.After),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var w where
	if filter.EntityID != "" {
		w.add("entity_id = $", string(filter.EntityID))
	}
	if filter.ActorID != "" {
		w.add("actor_id = $", filter.ActorID)
	}
	if filter.Kind != "" {
		w.add("kind = $", string(filter.Kind))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		w.add("action = ANY($)", actions)
	}
	if filter.From != nil {
		w.add("at >= $", *filter.From)
	}
	if filter.To != nil {
		w.add("at <= $", *filter.To)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, at, actor_id, actor_role, action, entity_id, kind, reason, before_json, after_json
		 FROM audit_log`+w.String()+` ORDER BY at, seq`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e      generic.AuditEntry
			reason *string
		)
		if err := rows.Scan(&e.ID, &e.At, &e.ActorID, &e.ActorRole, &e.Action, &e.EntityID, &e.Kind,
			&reason, &e.Before, &e.After); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Reason = deref(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS (generic.TxStore)
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(entities generic.EntityStore, audit generic.AuditLog) error) error {
	return s.WithTransaction(ctx, func(tx pgx.Tx) error {
		ts := &txStore{tx: tx, parent: s}
		return fn(ts, ts)
	})
}

type txStore struct {
	tx     pgx.Tx
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

func (ts *txStore) Query(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return ts.parent.Query(ctx, filter)
}

// =============================================================================
// PAYSLIPS (payslip.Store)
// =============================================================================

func (s *Store) SavePayslip(ctx context.Context, p *payslip.Payslip) error {
	return s.WithTransaction(ctx, func(tx pgx.Tx) error {
		var (
			status  string
			version int64
		)
		err := tx.QueryRow(ctx, `SELECT status, version FROM payslips WHERE id = $1 FOR UPDATE`, p.ID).Scan(&status, &version)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			p.Version = 1
		case err != nil:
			return fmt.Errorf("failed to read payslip: %w", err)
		default:
			if st := payslip.Status(status); st.Frozen() {
				return &payslip.LockedError{ID: p.ID, Status: st}
			}
			p.Version = version + 1
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO payslips (id, employee_id, cycle_id, status, version, body, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status, version = EXCLUDED.version,
				body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
			p.ID, p.EmployeeID, p.Period.CycleID, string(p.Status), p.Version, p, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save payslip: %w", err)
		}
		return nil
	})
}

func (s *Store) GetPayslip(ctx context.Context, id string) (*payslip.Payslip, error) {
	var p payslip.Payslip
	err := s.pool.QueryRow(ctx, `SELECT body FROM payslips WHERE id = $1`, id).Scan(&p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.NotFound("payslip", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payslip: %w", err)
	}
	return &p, nil
}

func (s *Store) UpdatePayslip(ctx context.Context, p *payslip.Payslip, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payslips SET status = $2, version = $3, body = $4, updated_at = $5
		WHERE id = $1 AND version = $6`,
		p.ID, string(p.Status), p.Version, p, p.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update payslip: %w", err)
	}
	return checkVersioned(ctx, s.pool, tag, "payslips", p.ID, expectedVersion)
}

func (s *Store) ListPayslips(ctx context.Context, filter payslip.Filter) ([]*payslip.Payslip, error) {
	var w where
	if filter.EmployeeID != "" {
		w.add("employee_id = $", filter.EmployeeID)
	}
	if filter.CycleID != "" {
		w.add("cycle_id = $", filter.CycleID)
	}
	if filter.Status != "" {
		w.add("status = $", string(filter.Status))
	}
	rows, err := s.pool.Query(ctx, `SELECT body FROM payslips`+w.String()+` ORDER BY cycle_id, employee_id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payslips: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*payslip.Payslip, error) {
		var p payslip.Payslip
		if err := row.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan payslip: %w", err)
		}
		return &p, nil
	})
}

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE payslips, audit_log, entities`)
	return err
}

// Helper functions

// where accumulates AND-ed conditions; "$" in a condition is replaced by the
// next positional parameter.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "$", "$"+strconv.Itoa(len(w.args)), 1))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func jsonOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
