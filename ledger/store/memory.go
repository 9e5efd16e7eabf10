// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/sereno/clinic-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	sessions      map[ledger.Date][]ledger.Session
	expenses      map[ledger.Date][]ledger.Expense
	packages      map[ledger.Date][]ledger.PackagePurchase
	confirmations map[confKey]ledger.Confirmation
	credits       map[pairKey][]ledger.CreditEntry
	opening       map[ledger.Date]ledger.Money
	history       map[ledger.Date][]ledger.BalanceChange
	transferFlags map[string]bool
	packageCount  int
}

type confKey struct {
	Date      ledger.Date
	Therapist string
}

type pairKey struct {
	Patient   string
	Therapist string
}

func NewMemory() *Memory {
	return &Memory{
		sessions:      make(map[ledger.Date][]ledger.Session),
		expenses:      make(map[ledger.Date][]ledger.Expense),
		packages:      make(map[ledger.Date][]ledger.PackagePurchase),
		confirmations: make(map[confKey]ledger.Confirmation),
		credits:       make(map[pairKey][]ledger.CreditEntry),
		opening:       make(map[ledger.Date]ledger.Money),
		history:       make(map[ledger.Date][]ledger.BalanceChange),
		transferFlags: make(map[string]bool),
	}
}

var _ ledger.Store = (*Memory)(nil)

// =============================================================================
// SESSIONS
// =============================================================================

func (m *Memory) Sessions(_ context.Context, date ledger.Date) ([]ledger.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.Session(nil), m.sessions[date]...), nil
}

func (m *Memory) AppendSession(_ context.Context, s ledger.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Date] = append(m.sessions[s.Date], s)
	return nil
}

func (m *Memory) Session(_ context.Context, date ledger.Date, id string) (ledger.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions[date] {
		if s.ID == id {
			return s, nil
		}
	}
	return ledger.Session{}, ledger.ErrNotFound
}

func (m *Memory) DeleteSession(_ context.Context, date ledger.Date, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.sessions[date]
	for i, s := range list {
		if s.ID == id {
			m.sessions[date] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ledger.ErrNotFound
}

// =============================================================================
// EXPENSES
// =============================================================================

func (m *Memory) Expenses(_ context.Context, date ledger.Date) ([]ledger.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.Expense(nil), m.expenses[date]...), nil
}

func (m *Memory) AppendExpense(_ context.Context, e ledger.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses[e.Date] = append(m.expenses[e.Date], e)
	return nil
}

func (m *Memory) DeleteExpense(_ context.Context, date ledger.Date, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.expenses[date]
	for i, e := range list {
		if e.ID == id {
			m.expenses[date] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ledger.ErrNotFound
}

// =============================================================================
// PACKAGES
// =============================================================================

func (m *Memory) Packages(_ context.Context, date ledger.Date) ([]ledger.PackagePurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.PackagePurchase(nil), m.packages[date]...), nil
}

func (m *Memory) AppendPackage(_ context.Context, p ledger.PackagePurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages[p.PurchaseDate] = append(m.packages[p.PurchaseDate], p)
	m.packageCount++
	return nil
}

func (m *Memory) Package(_ context.Context, date ledger.Date, id string) (ledger.PackagePurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.packages[date] {
		if p.ID == id {
			return p, nil
		}
	}
	return ledger.PackagePurchase{}, ledger.ErrNotFound
}

func (m *Memory) DeletePackage(_ context.Context, date ledger.Date, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.packages[date]
	for i, p := range list {
		if p.ID == id {
			m.packages[date] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (m *Memory) ReplacePackages(_ context.Context, date ledger.Date, pkgs []ledger.PackagePurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(pkgs) == 0 {
		delete(m.packages, date)
		return nil
	}
	m.packages[date] = append([]ledger.PackagePurchase(nil), pkgs...)
	return nil
}

func (m *Memory) PackageCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.packageCount, nil
}

// =============================================================================
// CONFIRMATIONS
// =============================================================================

func (m *Memory) Confirmation(_ context.Context, date ledger.Date, therapist string) (ledger.Confirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.confirmations[confKey{Date: date, Therapist: therapist}]
	if !ok {
		return ledger.Confirmation{}, ledger.ErrNotFound
	}
	return c, nil
}

func (m *Memory) Confirmations(_ context.Context, date ledger.Date) ([]ledger.Confirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Confirmation
	for k, c := range m.confirmations {
		if k.Date == date {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) PutConfirmation(_ context.Context, c ledger.Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations[confKey{Date: c.Date, Therapist: c.Therapist}] = c
	return nil
}

func (m *Memory) DeleteConfirmation(_ context.Context, date ledger.Date, therapist string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.confirmations, confKey{Date: date, Therapist: therapist})
	return nil
}

// =============================================================================
// CREDITS
// =============================================================================

func (m *Memory) CreditEntries(_ context.Context, patient, therapist string) ([]ledger.CreditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.CreditEntry(nil), m.credits[pairKey{Patient: patient, Therapist: therapist}]...), nil
}

func (m *Memory) CreditEntriesByTherapist(_ context.Context, therapist string) ([]ledger.CreditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.CreditEntry
	for k, entries := range m.credits {
		if k.Therapist == therapist {
			out = append(out, entries...)
		}
	}
	return out, nil
}

func (m *Memory) AppendCreditEntry(_ context.Context, e ledger.CreditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{Patient: e.PatientName, Therapist: e.Therapist}
	m.credits[k] = append(m.credits[k], e)
	return nil
}

func (m *Memory) UpdateCreditEntry(_ context.Context, e ledger.CreditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{Patient: e.PatientName, Therapist: e.Therapist}
	for i, existing := range m.credits[k] {
		if existing.PackageID == e.PackageID {
			m.credits[k][i] = e
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (m *Memory) DeleteCreditEntries(_ context.Context, patient, therapist, packageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{Patient: patient, Therapist: therapist}
	var keep []ledger.CreditEntry
	for _, e := range m.credits[k] {
		if e.PackageID != packageID {
			keep = append(keep, e)
		}
	}
	if len(keep) == 0 {
		delete(m.credits, k)
	} else {
		m.credits[k] = keep
	}
	return nil
}

// =============================================================================
// OPENING BALANCE + HISTORY
// =============================================================================

func (m *Memory) InitialBalance(_ context.Context, date ledger.Date) (ledger.Money, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opening[date], nil
}

func (m *Memory) SetInitialBalance(_ context.Context, date ledger.Date, amount ledger.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opening[date] = amount
	return nil
}

func (m *Memory) BalanceHistory(_ context.Context, date ledger.Date) ([]ledger.BalanceChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.BalanceChange(nil), m.history[date]...), nil
}

func (m *Memory) AppendBalanceChange(_ context.Context, date ledger.Date, change ledger.BalanceChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[date] = append(m.history[date], change)
	return nil
}

func (m *Memory) ReplaceBalanceHistory(_ context.Context, date ledger.Date, history []ledger.BalanceChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(history) == 0 {
		delete(m.history, date)
		return nil
	}
	m.history[date] = append([]ledger.BalanceChange(nil), history...)
	return nil
}

// =============================================================================
// TRANSFER FLAGS
// =============================================================================

func (m *Memory) TransferFlag(_ context.Context, lineID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transferFlags[lineID], nil
}

func (m *Memory) SetTransferFlag(_ context.Context, lineID string, confirmed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferFlags[lineID] = confirmed
	return nil
}

// =============================================================================
// DATES + PURGE
// =============================================================================

func (m *Memory) Dates(_ context.Context) ([]ledger.Date, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[ledger.Date]bool)
	for d := range m.sessions {
		seen[d] = true
	}
	for d := range m.expenses {
		seen[d] = true
	}
	for d := range m.packages {
		seen[d] = true
	}
	for k := range m.confirmations {
		seen[k.Date] = true
	}
	for d := range m.opening {
		seen[d] = true
	}
	for d := range m.history {
		seen[d] = true
	}

	out := make([]ledger.Date, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	return out, nil
}

func (m *Memory) PurgeDate(_ context.Context, date ledger.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, date)
	delete(m.expenses, date)
	delete(m.packages, date)
	delete(m.opening, date)
	delete(m.history, date)
	for k := range m.confirmations {
		if k.Date == date {
			delete(m.confirmations, k)
		}
	}
	return nil
}
