/*
Package sqlite provides a SQLite-backed implementation of engine.Store.

PURPOSE:
  Persists finished calculations and their per-month breakdown so they
  can be listed on a dashboard and exported as reports. The engine never
  calls this package; the API layer hands it completed results.

KEY TABLES:
  calculations:        One row per Calculate call (input + totals)
  calculation_details: One row per eligible month, FK to calculations

APPEND-ONLY:
  Records are never updated. Save writes the header and all details in
  one SQL transaction; a failure leaves nothing behind.

DECIMALS:
  Monetary values and rates are stored as TEXT in decimal notation and
  parsed back with shopspring/decimal. SQLite REAL would lose precision.

INDEXES:
  - idx_calculations_owner_created: "mine" history, newest first
  - idx_calculations_created:       "all" history, newest first
  - idx_details_calculation_month:  details in month order

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite is opened in WAL mode so
  readers do not block each other.

USAGE:
  store, err := sqlite.New("./data/icms.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  id, err := store.Save(ctx, engine.Record{OwnerID: "u-1", Input: in, Result: res})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - engine/store.go: Interface definition
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/icms-refund/engine"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to ":memory:" would be a different database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
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

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calculations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		client_name TEXT NOT NULL DEFAULT '',
		supply_type TEXT NOT NULL,
		injected_energy_kwh INTEGER NOT NULL,
		consumption_kwh INTEGER NOT NULL,
		installation_date TEXT NOT NULL,
		window_start TEXT,
		months_count INTEGER NOT NULL,
		total_base_value TEXT NOT NULL,
		total_corrected_value TEXT NOT NULL,
		final_indemnification TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_calculations_owner_created
		ON calculations(owner_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_calculations_created
		ON calculations(created_at DESC);

	CREATE TABLE IF NOT EXISTS calculation_details (
		calculation_id TEXT NOT NULL REFERENCES calculations(id) ON DELETE CASCADE,
		month_year TEXT NOT NULL,
		base_value TEXT NOT NULL,
		corrected_value TEXT NOT NULL,
		effective_rate TEXT NOT NULL,
		compensated_energy_kwh INTEGER NOT NULL,
		PRIMARY KEY (calculation_id, month_year)
	);

	CREATE INDEX IF NOT EXISTS idx_details_calculation_month
		ON calculation_details(calculation_id, month_year);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WRITE PATH
// =============================================================================

// Save writes the record and its details atomically.
func (s *Store) Save(ctx context.Context, rec engine.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = uuid.New().String()
	rec.CreatedAt = s.now().UTC()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var windowStart sql.NullString
	if rec.Result.MonthsCount > 0 {
		windowStart = sql.NullString{String: rec.Result.WindowStart.String(), Valid: true}
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO calculations
		(id, owner_id, client_name, supply_type, injected_energy_kwh, consumption_kwh,
		 installation_date, window_start, months_count, total_base_value,
		 total_corrected_value, final_indemnification, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.OwnerID,
		rec.Input.ClientName,
		string(rec.Input.SupplyType),
		rec.Input.InjectedEnergyKWh,
		rec.Input.ConsumptionKWh,
		rec.Input.InstallationDate.Format(engine.DateLayout),
		windowStart,
		rec.Result.MonthsCount,
		rec.Result.TotalBaseValue.String(),
		rec.Result.TotalCorrectedValue.String(),
		rec.Result.FinalIndemnification.String(),
		rec.CreatedAt.Format(timestampLayout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert calculation: %w", err)
	}

	for _, d := range rec.Result.Details {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO calculation_details
			(calculation_id, month_year, base_value, corrected_value, effective_rate, compensated_energy_kwh)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			rec.ID,
			d.MonthYear.String(),
			d.BaseValue.String(),
			d.CorrectedValue.String(),
			d.EffectiveRate.String(),
			d.CompensatedEnergyKWh,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert detail %s: %w", d.MonthYear, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit calculation: %w", err)
	}
	return rec.ID, nil
}

// =============================================================================
// READ PATH
// =============================================================================

// Fixed-width so that created_at sorts lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const calculationColumns = `
	id, owner_id, client_name, supply_type, injected_energy_kwh, consumption_kwh,
	installation_date, window_start, months_count, total_base_value,
	total_corrected_value, final_indemnification, created_at`

// Get returns the record with its details in month order.
func (s *Store) Get(ctx context.Context, id string) (engine.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+calculationColumns+" FROM calculations WHERE id = ?", id)
	rec, err := scanCalculation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Record{}, engine.ErrCalculationNotFound
	}
	if err != nil {
		return engine.Record{}, err
	}

	details, err := s.loadDetails(ctx, id)
	if err != nil {
		return engine.Record{}, err
	}
	rec.Result.Details = details
	return rec, nil
}

func (s *Store) loadDetails(ctx context.Context, id string) ([]engine.MonthlyDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT month_year, base_value, corrected_value, effective_rate, compensated_energy_kwh
		FROM calculation_details
		WHERE calculation_id = ?
		ORDER BY month_year ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query details: %w", err)
	}
	defer rows.Close()

	details := []engine.MonthlyDetail{}
	for rows.Next() {
		var monthYear, base, corrected, rate string
		var d engine.MonthlyDetail
		if err := rows.Scan(&monthYear, &base, &corrected, &rate, &d.CompensatedEnergyKWh); err != nil {
			return nil, err
		}
		if d.MonthYear, err = parseMonth(monthYear); err != nil {
			return nil, err
		}
		if err := errors.Join(
			parseDecimal(base, &d.BaseValue),
			parseDecimal(corrected, &d.CorrectedValue),
			parseDecimal(rate, &d.EffectiveRate),
		); err != nil {
			return nil, fmt.Errorf("detail %s of %s: %w", monthYear, id, err)
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// List returns records newest first, without details.
func (s *Store) List(ctx context.Context, filter engine.ListFilter) ([]engine.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + calculationColumns + " FROM calculations"
	var args []any
	if filter.OwnerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calculations: %w", err)
	}
	defer rows.Close()

	var records []engine.Record
	for rows.Next() {
		rec, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Summarize sums totals in Go: SQLite would aggregate the TEXT columns as
// floating point.
func (s *Store) Summarize(ctx context.Context, filter engine.ListFilter) (engine.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT total_base_value, total_corrected_value, final_indemnification FROM calculations"
	var args []any
	if filter.OwnerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, filter.OwnerID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return engine.Summary{}, fmt.Errorf("failed to summarize calculations: %w", err)
	}
	defer rows.Close()

	var sum engine.Summary
	for rows.Next() {
		var base, corrected, final string
		if err := rows.Scan(&base, &corrected, &final); err != nil {
			return engine.Summary{}, err
		}
		var r engine.CalculationResult
		if err := errors.Join(
			parseDecimal(base, &r.TotalBaseValue),
			parseDecimal(corrected, &r.TotalCorrectedValue),
			parseDecimal(final, &r.FinalIndemnification),
		); err != nil {
			return engine.Summary{}, err
		}
		sum = sum.Accumulate(r)
	}
	return sum, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanCalculation(row scanner) (engine.Record, error) {
	var rec engine.Record
	var supplyType, installationDate, base, corrected, final, createdAt string
	var windowStart sql.NullString

	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.Input.ClientName, &supplyType,
		&rec.Input.InjectedEnergyKWh, &rec.Input.ConsumptionKWh,
		&installationDate, &windowStart, &rec.Result.MonthsCount,
		&base, &corrected, &final, &createdAt,
	)
	if err != nil {
		return engine.Record{}, err
	}

	rec.Input.SupplyType = engine.SupplyType(supplyType)
	if rec.Input.InstallationDate, err = time.Parse(engine.DateLayout, installationDate); err != nil {
		return engine.Record{}, fmt.Errorf("calculation %s: corrupt installation date %q: %w", rec.ID, installationDate, err)
	}
	if windowStart.Valid {
		if rec.Result.WindowStart, err = parseMonth(windowStart.String); err != nil {
			return engine.Record{}, err
		}
	}
	if err := errors.Join(
		parseDecimal(base, &rec.Result.TotalBaseValue),
		parseDecimal(corrected, &rec.Result.TotalCorrectedValue),
		parseDecimal(final, &rec.Result.FinalIndemnification),
	); err != nil {
		return engine.Record{}, fmt.Errorf("calculation %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return engine.Record{}, fmt.Errorf("calculation %s: corrupt created_at %q: %w", rec.ID, createdAt, err)
	}
	return rec, nil
}

func parseMonth(s string) (engine.Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return engine.Month{}, fmt.Errorf("corrupt month %q: %w", s, err)
	}
	return engine.MonthOf(t), nil
}

func parseDecimal(s string, dst *decimal.Decimal) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	*dst = d
	return nil
}

var _ engine.Store = (*Store)(nil)
