package expense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	billNumberConstraint = "expense_entries_bill_number_key"
	uniqueViolation      = "23505"
)

const schema = `
CREATE TABLE IF NOT EXISTS expense_aggregates (
	id            TEXT PRIMARY KEY,
	employee_id   TEXT NOT NULL UNIQUE,
	department_id TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS expense_entries (
	id           TEXT PRIMARY KEY,
	aggregate_id TEXT NOT NULL REFERENCES expense_aggregates (id) ON DELETE CASCADE,
	seq          BIGSERIAL,
	bill_number  TEXT,
	document     JSONB NOT NULL,
	CONSTRAINT expense_entries_bill_number_key UNIQUE (bill_number)
);

CREATE INDEX IF NOT EXISTS expense_entries_aggregate_seq_idx ON expense_entries (aggregate_id, seq);
`

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements Store on PostgreSQL. Entries are JSONB documents
// in their own table; a UNIQUE constraint on bill_number enforces receipt
// uniqueness and the aggregate upsert serializes appends per employee.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to dsn and applies the schema
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
	)

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func isBillNumberViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == billNumberConstraint
}

func scanEntry(row pgx.Row) (*Expense, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var entry Expense
	if err := json.Unmarshal(doc, &entry); err != nil {
		return nil, fmt.Errorf("unmarshaling entry: %w", err)
	}
	return &entry, nil
}

func loadEntries(ctx context.Context, q querier, aggregateID string) ([]Expense, error) {
	sql, args, err := psql.Select("document").
		From("expense_entries").
		Where(squirrel.Eq{"aggregate_id": aggregateID}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Expense, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func loadAggregate(ctx context.Context, q querier, where squirrel.Sqlizer) (*Aggregate, error) {
	sql, args, err := psql.Select("id", "employee_id", "department_id", "created_at", "updated_at").
		From("expense_aggregates").
		Where(where).
		ToSql()
	if err != nil {
		return nil, err
	}

	var agg Aggregate
	err = q.QueryRow(ctx, sql, args...).Scan(&agg.ID, &agg.EmployeeID, &agg.DepartmentID, &agg.CreatedAt, &agg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	agg.Entries, err = loadEntries(ctx, q, agg.ID)
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// resolvePostgres finds the aggregate and entry for an entry id or aggregate id
func resolvePostgres(ctx context.Context, q querier, ref string) (*Aggregate, *Expense, error) {
	sql, args, err := psql.Select("aggregate_id").
		From("expense_entries").
		Where(squirrel.Eq{"id": ref}).
		ToSql()
	if err != nil {
		return nil, nil, err
	}

	var aggregateID string
	err = q.QueryRow(ctx, sql, args...).Scan(&aggregateID)
	switch {
	case err == nil:
		agg, err := loadAggregate(ctx, q, squirrel.Eq{"id": aggregateID})
		if err != nil {
			return nil, nil, err
		}
		entry, ok := agg.Entry(ref)
		if !ok {
			return nil, nil, fmt.Errorf("entry %s: %w", ref, ErrNotFound)
		}
		return agg, entry, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, nil, err
	}

	agg, err := loadAggregate(ctx, q, squirrel.Eq{"id": ref})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("expense %s: %w", ref, ErrNotFound)
		}
		return nil, nil, err
	}
	entry, ok := agg.reviewTarget()
	if !ok {
		return nil, nil, fmt.Errorf("aggregate %s has no entries: %w", ref, ErrNotFound)
	}
	return agg, entry, nil
}

// FindByBillNumber returns the entry holding billNumber
func (p *PostgresStore) FindByBillNumber(ctx context.Context, billNumber string) (*Expense, error) {
	sql, args, err := psql.Select("document").
		From("expense_entries").
		Where(squirrel.Eq{"bill_number": billNumber}).
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanEntry(p.pool.QueryRow(ctx, sql, args...))
}

// AppendEntry upserts the employee's aggregate and inserts the entry in one
// transaction
func (p *PostgresStore) AppendEntry(ctx context.Context, employeeID, departmentID string, entry Expense) (*Aggregate, error) {
	doc, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshaling entry: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sql, args, err := psql.Insert("expense_aggregates").
		Columns("id", "employee_id", "department_id", "created_at", "updated_at").
		Values(uuid.NewString(), employeeID, departmentID, entry.CreatedAt, entry.CreatedAt).
		Suffix("ON CONFLICT (employee_id) DO UPDATE SET department_id = EXCLUDED.department_id, updated_at = EXCLUDED.updated_at RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}
	var aggregateID string
	if err := tx.QueryRow(ctx, sql, args...).Scan(&aggregateID); err != nil {
		return nil, fmt.Errorf("upserting aggregate: %w", err)
	}

	sql, args, err = psql.Insert("expense_entries").
		Columns("id", "aggregate_id", "bill_number", "document").
		Values(entry.ID, aggregateID, entry.BillNumber, doc).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		if isBillNumberViolation(err) {
			return nil, fmt.Errorf("bill number %s: %w", *entry.BillNumber, ErrDuplicateReceipt)
		}
		return nil, fmt.Errorf("inserting entry: %w", err)
	}

	agg, err := loadAggregate(ctx, tx, squirrel.Eq{"id": aggregateID})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		if isBillNumberViolation(err) {
			return nil, fmt.Errorf("bill number %s: %w", *entry.BillNumber, ErrDuplicateReceipt)
		}
		return nil, fmt.Errorf("committing: %w", err)
	}
	return agg, nil
}

// UpdateEntryStatus locks the entry row, applies the decision and writes it back
func (p *PostgresStore) UpdateEntryStatus(ctx context.Context, ref string, change StatusChange) (*Aggregate, *Expense, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	agg, target, err := resolvePostgres(ctx, tx, ref)
	if err != nil {
		return nil, nil, err
	}

	sql, args, err := psql.Select("document").
		From("expense_entries").
		Where(squirrel.Eq{"id": target.ID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, nil, err
	}
	entry, err := scanEntry(tx.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, nil, err
	}
	if err := change.apply(entry); err != nil {
		return nil, nil, err
	}

	doc, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling entry: %w", err)
	}
	sql, args, err = psql.Update("expense_entries").
		Set("document", doc).
		Where(squirrel.Eq{"id": entry.ID}).
		ToSql()
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return nil, nil, fmt.Errorf("updating entry: %w", err)
	}

	sql, args, err = psql.Update("expense_aggregates").
		Set("updated_at", change.At).
		Where(squirrel.Eq{"id": agg.ID}).
		ToSql()
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return nil, nil, fmt.Errorf("updating aggregate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing: %w", err)
	}

	if stored, ok := agg.Entry(entry.ID); ok {
		*stored = *entry
	}
	agg.UpdatedAt = change.At
	return agg, entry, nil
}

// GetEntry resolves an entry id or aggregate id
func (p *PostgresStore) GetEntry(ctx context.Context, ref string) (*Aggregate, *Expense, error) {
	return resolvePostgres(ctx, p.pool, ref)
}

// GetAggregate returns an employee's aggregate
func (p *PostgresStore) GetAggregate(ctx context.Context, employeeID string) (*Aggregate, error) {
	return loadAggregate(ctx, p.pool, squirrel.Eq{"employee_id": employeeID})
}

// ListAggregates returns all aggregates ordered by employee id
func (p *PostgresStore) ListAggregates(ctx context.Context) ([]*Aggregate, error) {
	sql, args, err := psql.Select("employee_id").
		From("expense_aggregates").
		OrderBy("employee_id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	employeeIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	aggregates := make([]*Aggregate, 0, len(employeeIDs))
	for _, id := range employeeIDs {
		agg, err := loadAggregate(ctx, p.pool, squirrel.Eq{"employee_id": id})
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, agg)
	}
	return aggregates, nil
}

// PurgeAggregate deletes the aggregate; entries cascade
func (p *PostgresStore) PurgeAggregate(ctx context.Context, employeeID string) error {
	sql, args, err := psql.Delete("expense_aggregates").
		Where(squirrel.Eq{"employee_id": employeeID}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the pool
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
