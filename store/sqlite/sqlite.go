/*
Package sqlite provides the SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists the per-day record collections (sessions, expenses, packages,
  confirmations, opening balances) and the credit ledger. The engine replays
  these records to derive every balance, so the schema stores no balance
  column anywhere.

KEY TABLES:
  sessions:        one row per registered session, keyed by day
  expenses:        cash leaving the drawer
  packages:        prepaid package purchases
  confirmations:   frozen settlement snapshots (one per therapist per day)
  credit_entries:  prepaid units per (patient, therapist, package)
  initial_balances / balance_history: manually set opening cash + edits
  transfer_flags:  per-line confirmation checkboxes (pure UI state)

ROW ORDER:
  Insertion order matters (credit consumption is FIFO, session lists render
  in registration order), so every list query orders by the autoincrement
  seq column.

NESTED DATA:
  Credit usage history and the frozen status snapshot are stored as JSON
  blobs. They are read and written whole, never queried into.

WAL MODE:
  Opened with WAL and foreign keys on, same as any single-writer deployment
  of this size needs. Use ":memory:" for tests.

SEE ALSO:
  - ledger/store.go: the interface and its contract
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sereno/clinic-ledger/ledger"
)

// Store implements ledger.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
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

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		day TEXT NOT NULL,
		therapist TEXT NOT NULL,
		patient_name TEXT NOT NULL,
		cash_to_clinic INTEGER NOT NULL DEFAULT 0,
		transfer_to_therapist INTEGER NOT NULL DEFAULT 0,
		transfer_to_clinic INTEGER NOT NULL DEFAULT 0,
		session_value INTEGER NOT NULL DEFAULT 0,
		clinic_contribution INTEGER NOT NULL DEFAULT 0,
		therapist_fee INTEGER NOT NULL DEFAULT 0,
		credit_used BOOLEAN NOT NULL DEFAULT FALSE,
		original_package_id TEXT NOT NULL DEFAULT '',
		remaining_credits INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_day ON sessions(day);
	CREATE INDEX IF NOT EXISTS idx_sessions_day_therapist ON sessions(day, therapist);

	CREATE TABLE IF NOT EXISTS expenses (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		day TEXT NOT NULL,
		type TEXT NOT NULL,
		concept TEXT NOT NULL,
		amount INTEGER NOT NULL,
		therapist TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_day ON expenses(day);

	CREATE TABLE IF NOT EXISTS packages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		day TEXT NOT NULL,
		patient_name TEXT NOT NULL,
		therapist TEXT NOT NULL,
		total_sessions INTEGER NOT NULL,
		cash_to_clinic INTEGER NOT NULL DEFAULT 0,
		transfer_to_therapist INTEGER NOT NULL DEFAULT 0,
		transfer_to_clinic INTEGER NOT NULL DEFAULT 0,
		session_value INTEGER NOT NULL,
		value_per_session INTEGER NOT NULL,
		clinic_contribution INTEGER NOT NULL DEFAULT 0,
		therapist_fee INTEGER NOT NULL DEFAULT 0,
		contribution_type TEXT NOT NULL DEFAULT '',
		purchase_time TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_packages_day ON packages(day);

	CREATE TABLE IF NOT EXISTS confirmations (
		day TEXT NOT NULL,
		therapist TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		amount INTEGER NOT NULL,
		state TEXT NOT NULL,
		flow_json TEXT NOT NULL,
		frozen_json TEXT NOT NULL,
		PRIMARY KEY (day, therapist)
	);

	CREATE TABLE IF NOT EXISTS credit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		package_id TEXT NOT NULL,
		patient_name TEXT NOT NULL,
		therapist TEXT NOT NULL,
		remaining INTEGER NOT NULL,
		total INTEGER NOT NULL,
		purchase_day TEXT NOT NULL,
		value_per_session INTEGER NOT NULL,
		total_value INTEGER NOT NULL,
		status TEXT NOT NULL,
		usage_json TEXT NOT NULL DEFAULT '[]',
		UNIQUE (patient_name, therapist, package_id)
	);

	CREATE INDEX IF NOT EXISTS idx_credit_entries_pair
		ON credit_entries(patient_name, therapist);
	CREATE INDEX IF NOT EXISTS idx_credit_entries_therapist
		ON credit_entries(therapist);

	CREATE TABLE IF NOT EXISTS initial_balances (
		day TEXT PRIMARY KEY,
		amount INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balance_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		day TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		previous INTEGER NOT NULL,
		new INTEGER NOT NULL,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_balance_history_day ON balance_history(day);

	CREATE TABLE IF NOT EXISTS transfer_flags (
		line_id TEXT PRIMARY KEY,
		confirmed BOOLEAN NOT NULL
	);

	-- Monotonic counters. package_count never decreases, so sequential
	-- package ids are never reissued after a delete or a sweep.
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = `id, day, therapist, patient_name, cash_to_clinic,
	transfer_to_therapist, transfer_to_clinic, session_value,
	clinic_contribution, therapist_fee, credit_used, original_package_id,
	remaining_credits`

func (s *Store) Sessions(ctx context.Context, date ledger.Date) ([]ledger.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE day = ? ORDER BY seq ASC`,
		date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []ledger.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) AppendSession(ctx context.Context, sess ledger.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Date.String(), sess.Therapist, sess.PatientName,
		sess.CashToClinic, sess.TransferToTherapist, sess.TransferToClinic,
		sess.SessionValue, sess.ClinicContribution, sess.TherapistFee,
		sess.CreditUsed, sess.OriginalPackageID, sess.RemainingCredits,
	)
	if err != nil {
		return fmt.Errorf("failed to append session: %w", err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context, date ledger.Date, id string) (ledger.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE day = ? AND id = ?`,
		date.String(), id)
	if err != nil {
		return ledger.Session{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.Session{}, err
		}
		return ledger.Session{}, ledger.ErrNotFound
	}
	return scanSession(rows)
}

func (s *Store) DeleteSession(ctx context.Context, date ledger.Date, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE day = ? AND id = ?`, date.String(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanSession(rows *sql.Rows) (ledger.Session, error) {
	var sess ledger.Session
	var day string
	err := rows.Scan(
		&sess.ID, &day, &sess.Therapist, &sess.PatientName,
		&sess.CashToClinic, &sess.TransferToTherapist, &sess.TransferToClinic,
		&sess.SessionValue, &sess.ClinicContribution, &sess.TherapistFee,
		&sess.CreditUsed, &sess.OriginalPackageID, &sess.RemainingCredits,
	)
	if err != nil {
		return sess, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.Date, err = ledger.ParseDate(day)
	return sess, err
}

// =============================================================================
// EXPENSES
// =============================================================================

func (s *Store) Expenses(ctx context.Context, date ledger.Date) ([]ledger.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, day, type, concept, amount, therapist
		 FROM expenses WHERE day = ? ORDER BY seq ASC`, date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []ledger.Expense
	for rows.Next() {
		var e ledger.Expense
		var day string
		if err := rows.Scan(&e.ID, &day, &e.Type, &e.Concept, &e.Amount, &e.Therapist); err != nil {
			return nil, err
		}
		if e.Date, err = ledger.ParseDate(day); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (s *Store) AppendExpense(ctx context.Context, e ledger.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, day, type, concept, amount, therapist)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date.String(), e.Type, e.Concept, e.Amount, e.Therapist)
	if err != nil {
		return fmt.Errorf("failed to append expense: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpense(ctx context.Context, date ledger.Date, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE day = ? AND id = ?`, date.String(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// =============================================================================
// PACKAGES
// =============================================================================

const packageColumns = `id, day, patient_name, therapist, total_sessions,
	cash_to_clinic, transfer_to_therapist, transfer_to_clinic, session_value,
	value_per_session, clinic_contribution, therapist_fee, contribution_type,
	purchase_time, created_by, status`

func (s *Store) Packages(ctx context.Context, date ledger.Date) ([]ledger.PackagePurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE day = ? ORDER BY seq ASC`,
		date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packages []ledger.PackagePurchase
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

func (s *Store) AppendPackage(ctx context.Context, p ledger.PackagePurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO packages (`+packageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PurchaseDate.String(), p.PatientName, p.Therapist, p.TotalSessions,
		p.CashToClinic, p.TransferToTherapist, p.TransferToClinic, p.SessionValue,
		p.ValuePerSession, p.ClinicContribution, p.TherapistFee, p.ContributionType,
		p.PurchaseTime, p.CreatedBy, p.Status,
	); err != nil {
		return fmt.Errorf("failed to append package: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES ('package_count', 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Package(ctx context.Context, date ledger.Date, id string) (ledger.PackagePurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE day = ? AND id = ? ORDER BY seq ASC LIMIT 1`,
		date.String(), id)
	if err != nil {
		return ledger.PackagePurchase{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.PackagePurchase{}, err
		}
		return ledger.PackagePurchase{}, ledger.ErrNotFound
	}
	return scanPackage(rows)
}

func (s *Store) DeletePackage(ctx context.Context, date ledger.Date, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM packages WHERE day = ? AND id = ?`, date.String(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) ReplacePackages(ctx context.Context, date ledger.Date, pkgs []ledger.PackagePurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE day = ?`, date.String()); err != nil {
		return err
	}
	for _, p := range pkgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO packages (`+packageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.PurchaseDate.String(), p.PatientName, p.Therapist, p.TotalSessions,
			p.CashToClinic, p.TransferToTherapist, p.TransferToClinic, p.SessionValue,
			p.ValuePerSession, p.ClinicContribution, p.TherapistFee, p.ContributionType,
			p.PurchaseTime, p.CreatedBy, p.Status,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) PackageCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = 'package_count'`).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

func scanPackage(rows *sql.Rows) (ledger.PackagePurchase, error) {
	var p ledger.PackagePurchase
	var day string
	err := rows.Scan(
		&p.ID, &day, &p.PatientName, &p.Therapist, &p.TotalSessions,
		&p.CashToClinic, &p.TransferToTherapist, &p.TransferToClinic, &p.SessionValue,
		&p.ValuePerSession, &p.ClinicContribution, &p.TherapistFee, &p.ContributionType,
		&p.PurchaseTime, &p.CreatedBy, &p.Status,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan package: %w", err)
	}
	p.PurchaseDate, err = ledger.ParseDate(day)
	return p, err
}

// =============================================================================
// CONFIRMATIONS
// =============================================================================

func (s *Store) Confirmation(ctx context.Context, date ledger.Date, therapist string) (ledger.Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT day, therapist, timestamp, amount, state, flow_json, frozen_json
		 FROM confirmations WHERE day = ? AND therapist = ?`,
		date.String(), therapist)
	c, err := scanConfirmation(row)
	if err == sql.ErrNoRows {
		return ledger.Confirmation{}, ledger.ErrNotFound
	}
	return c, err
}

func (s *Store) Confirmations(ctx context.Context, date ledger.Date) ([]ledger.Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT day, therapist, timestamp, amount, state, flow_json, frozen_json
		 FROM confirmations WHERE day = ? ORDER BY therapist ASC`,
		date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var confirmations []ledger.Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		confirmations = append(confirmations, c)
	}
	return confirmations, rows.Err()
}

func (s *Store) PutConfirmation(ctx context.Context, c ledger.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flowJSON, err := json.Marshal(c.Flow)
	if err != nil {
		return err
	}
	frozenJSON, err := json.Marshal(c.Frozen)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO confirmations (day, therapist, timestamp, amount, state, flow_json, frozen_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day, therapist) DO UPDATE SET
			timestamp = excluded.timestamp,
			amount = excluded.amount,
			state = excluded.state,
			flow_json = excluded.flow_json,
			frozen_json = excluded.frozen_json`,
		c.Date.String(), c.Therapist, c.Timestamp.Format(time.RFC3339Nano),
		c.Amount, c.State, string(flowJSON), string(frozenJSON))
	if err != nil {
		return fmt.Errorf("failed to put confirmation: %w", err)
	}
	return nil
}

func (s *Store) DeleteConfirmation(ctx context.Context, date ledger.Date, therapist string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM confirmations WHERE day = ? AND therapist = ?`,
		date.String(), therapist)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfirmation(row rowScanner) (ledger.Confirmation, error) {
	var c ledger.Confirmation
	var day, timestamp, flowJSON, frozenJSON string

	err := row.Scan(&day, &c.Therapist, &timestamp, &c.Amount, &c.State, &flowJSON, &frozenJSON)
	if err != nil {
		return c, err
	}

	if c.Date, err = ledger.ParseDate(day); err != nil {
		return c, err
	}
	c.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	if err := json.Unmarshal([]byte(flowJSON), &c.Flow); err != nil {
		return c, fmt.Errorf("failed to decode payment flow: %w", err)
	}
	if err := json.Unmarshal([]byte(frozenJSON), &c.Frozen); err != nil {
		return c, fmt.Errorf("failed to decode frozen status: %w", err)
	}
	return c, nil
}

// =============================================================================
// CREDIT ENTRIES
// =============================================================================

const creditColumns = `package_id, patient_name, therapist, remaining, total,
	purchase_day, value_per_session, total_value, status, usage_json`

func (s *Store) CreditEntries(ctx context.Context, patient, therapist string) ([]ledger.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryCredits(ctx,
		`SELECT `+creditColumns+` FROM credit_entries
		 WHERE patient_name = ? AND therapist = ? ORDER BY seq ASC`,
		patient, therapist)
}

func (s *Store) CreditEntriesByTherapist(ctx context.Context, therapist string) ([]ledger.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryCredits(ctx,
		`SELECT `+creditColumns+` FROM credit_entries
		 WHERE therapist = ? ORDER BY seq ASC`,
		therapist)
}

func (s *Store) AppendCreditEntry(ctx context.Context, e ledger.CreditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	usageJSON, err := marshalUsage(e.UsageHistory)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credit_entries (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PackageID, e.PatientName, e.Therapist, e.Remaining, e.Total,
		e.PurchaseDate.String(), e.ValuePerSession, e.TotalValue, e.Status, usageJSON)
	if err != nil {
		return fmt.Errorf("failed to append credit entry: %w", err)
	}
	return nil
}

func (s *Store) UpdateCreditEntry(ctx context.Context, e ledger.CreditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	usageJSON, err := marshalUsage(e.UsageHistory)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_entries
		SET remaining = ?, total = ?, status = ?, usage_json = ?
		WHERE patient_name = ? AND therapist = ? AND package_id = ?`,
		e.Remaining, e.Total, e.Status, usageJSON,
		e.PatientName, e.Therapist, e.PackageID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) DeleteCreditEntries(ctx context.Context, patient, therapist, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM credit_entries
		WHERE patient_name = ? AND therapist = ? AND package_id = ?`,
		patient, therapist, packageID)
	return err
}

func (s *Store) queryCredits(ctx context.Context, query string, args ...any) ([]ledger.CreditEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.CreditEntry
	for rows.Next() {
		var e ledger.CreditEntry
		var day, usageJSON string
		if err := rows.Scan(
			&e.PackageID, &e.PatientName, &e.Therapist, &e.Remaining, &e.Total,
			&day, &e.ValuePerSession, &e.TotalValue, &e.Status, &usageJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credit entry: %w", err)
		}
		if e.PurchaseDate, err = ledger.ParseDate(day); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(usageJSON), &e.UsageHistory); err != nil {
			return nil, fmt.Errorf("failed to decode usage history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func marshalUsage(usage []ledger.CreditUsage) (string, error) {
	if usage == nil {
		usage = []ledger.CreditUsage{}
	}
	b, err := json.Marshal(usage)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// =============================================================================
// OPENING BALANCE + HISTORY
// =============================================================================

func (s *Store) InitialBalance(ctx context.Context, date ledger.Date) (ledger.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var amount ledger.Money
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM initial_balances WHERE day = ?`, date.String()).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

func (s *Store) SetInitialBalance(ctx context.Context, date ledger.Date, amount ledger.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO initial_balances (day, amount) VALUES (?, ?)
		ON CONFLICT(day) DO UPDATE SET amount = excluded.amount`,
		date.String(), amount)
	return err
}

func (s *Store) BalanceHistory(ctx context.Context, date ledger.Date) ([]ledger.BalanceChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, action, previous, new, message
		 FROM balance_history WHERE day = ? ORDER BY seq ASC`, date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []ledger.BalanceChange
	for rows.Next() {
		var h ledger.BalanceChange
		var timestamp string
		if err := rows.Scan(&timestamp, &h.Action, &h.Previous, &h.New, &h.Message); err != nil {
			return nil, err
		}
		h.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *Store) AppendBalanceChange(ctx context.Context, date ledger.Date, change ledger.BalanceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balance_history (day, timestamp, action, previous, new, message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		date.String(), change.Timestamp.Format(time.RFC3339Nano),
		change.Action, change.Previous, change.New, change.Message)
	return err
}

func (s *Store) ReplaceBalanceHistory(ctx context.Context, date ledger.Date, history []ledger.BalanceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM balance_history WHERE day = ?`, date.String()); err != nil {
		return err
	}
	for _, h := range history {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balance_history (day, timestamp, action, previous, new, message)
			VALUES (?, ?, ?, ?, ?, ?)`,
			date.String(), h.Timestamp.Format(time.RFC3339Nano),
			h.Action, h.Previous, h.New, h.Message); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// =============================================================================
// TRANSFER FLAGS
// =============================================================================

func (s *Store) TransferFlag(ctx context.Context, lineID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var confirmed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT confirmed FROM transfer_flags WHERE line_id = ?`, lineID).Scan(&confirmed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return confirmed, err
}

func (s *Store) SetTransferFlag(ctx context.Context, lineID string, confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfer_flags (line_id, confirmed) VALUES (?, ?)
		ON CONFLICT(line_id) DO UPDATE SET confirmed = excluded.confirmed`,
		lineID, confirmed)
	return err
}

// =============================================================================
// DATES + PURGE
// =============================================================================

func (s *Store) Dates(ctx context.Context) ([]ledger.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT day FROM sessions
		UNION SELECT day FROM expenses
		UNION SELECT day FROM packages
		UNION SELECT day FROM confirmations
		UNION SELECT day FROM initial_balances
		UNION SELECT day FROM balance_history`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []ledger.Date
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		d, err := ledger.ParseDate(day)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (s *Store) PurgeDate(ctx context.Context, date ledger.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tables := []string{"sessions", "expenses", "packages", "confirmations",
		"initial_balances", "balance_history"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE day = ?`, date.String()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (tests only).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"sessions", "expenses", "packages", "confirmations",
		"credit_entries", "initial_balances", "balance_history",
		"transfer_flags", "counters"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

var _ ledger.Store = (*Store)(nil)
