/*
store.go - Persistence interface for daily records

PURPOSE:
  Defines the boundary between the engine and the record store. The engine
  reads whole per-day collections and replays them; it never asks the store
  for a balance, because the store never holds one.

CONTRACT:
  - Collections are keyed by Date; credits are keyed by (patient, therapist).
  - A failed write means the mutation did not happen. Implementations must
    not leave half-applied state visible to the next read.
  - Reads return copies; callers may not mutate store internals through
    returned slices.

IMPLEMENTATIONS:
  - ledger/store: in-memory (tests/dev)
  - store/sqlite: production SQLite

SEE ALSO:
  - balance.go, settlement.go, credit.go: consumers of this interface
*/
package ledger

import "context"

// Store persists the per-day record collections and the credit ledger.
type Store interface {
	// Sessions returns the day's sessions in insertion order.
	Sessions(ctx context.Context, date Date) ([]Session, error)
	AppendSession(ctx context.Context, s Session) error
	// Session looks up a single session. Returns ErrNotFound when missing.
	Session(ctx context.Context, date Date, id string) (Session, error)
	DeleteSession(ctx context.Context, date Date, id string) error

	Expenses(ctx context.Context, date Date) ([]Expense, error)
	AppendExpense(ctx context.Context, e Expense) error
	DeleteExpense(ctx context.Context, date Date, id string) error

	Packages(ctx context.Context, date Date) ([]PackagePurchase, error)
	AppendPackage(ctx context.Context, p PackagePurchase) error
	Package(ctx context.Context, date Date, id string) (PackagePurchase, error)
	DeletePackage(ctx context.Context, date Date, id string) error
	// ReplacePackages swaps a day's package list wholesale. Used only by
	// maintenance healing (dedup/clamp), never by the command path.
	ReplacePackages(ctx context.Context, date Date, pkgs []PackagePurchase) error
	// PackageCount returns the number of packages across all dates. Used to
	// mint the next sequential PK-NNN id.
	PackageCount(ctx context.Context) (int, error)

	// Confirmation returns ErrNotFound when the therapist/day holds none.
	Confirmation(ctx context.Context, date Date, therapist string) (Confirmation, error)
	Confirmations(ctx context.Context, date Date) ([]Confirmation, error)
	PutConfirmation(ctx context.Context, c Confirmation) error
	DeleteConfirmation(ctx context.Context, date Date, therapist string) error

	// CreditEntries returns the ordered entry list for a pair (possibly
	// empty). Order is insertion order; consumption is FIFO over it.
	CreditEntries(ctx context.Context, patient, therapist string) ([]CreditEntry, error)
	// CreditEntriesByTherapist returns all entries for a therapist across
	// patients.
	CreditEntriesByTherapist(ctx context.Context, therapist string) ([]CreditEntry, error)
	AppendCreditEntry(ctx context.Context, e CreditEntry) error
	// UpdateCreditEntry rewrites the entry identified by
	// (patient, therapist, packageID).
	UpdateCreditEntry(ctx context.Context, e CreditEntry) error
	DeleteCreditEntries(ctx context.Context, patient, therapist, packageID string) error

	// InitialBalance returns 0 for dates that were never set.
	InitialBalance(ctx context.Context, date Date) (Money, error)
	SetInitialBalance(ctx context.Context, date Date, amount Money) error
	BalanceHistory(ctx context.Context, date Date) ([]BalanceChange, error)
	AppendBalanceChange(ctx context.Context, date Date, change BalanceChange) error
	// ReplaceBalanceHistory is used by cap enforcement and healing.
	ReplaceBalanceHistory(ctx context.Context, date Date, history []BalanceChange) error

	// Transfer confirmation flags are pure UI state keyed by the synthetic
	// transfer line id.
	TransferFlag(ctx context.Context, lineID string) (bool, error)
	SetTransferFlag(ctx context.Context, lineID string, confirmed bool) error

	// Dates lists every date that holds any day-keyed record. Used by the
	// retention sweep.
	Dates(ctx context.Context) ([]Date, error)
	// PurgeDate removes all day-keyed records for a date: sessions,
	// expenses, packages, confirmations, initial balance and its history.
	PurgeDate(ctx context.Context, date Date) error
}
