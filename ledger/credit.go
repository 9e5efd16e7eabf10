/*
credit.go - Prepaid session credits per (patient, therapist)

PURPOSE:
  Tracks prepaid session packages. Creating a package mints credits of equal
  quantity; registering a credit session consumes one; deleting that session
  reverses one.

INVARIANTS:
  - 0 <= Remaining <= Total for every entry.
  - Status flips to "used" exactly when Remaining reaches 0 (and back to
    "active" if a reversal restores a unit).
  - A pair may hold several concurrent entries; they form an ordered list
    and consumption is FIFO across it.

REVERSAL:
  Reversal is best-effort by design: it restores a unit on the first entry
  with Remaining < Total, which mirrors how the books were kept before this
  engine existed. When several packages exist for the same pair it cannot
  prove which one the consumed credit came from; the session keeps the
  consumed package id, so an exact reversal is possible later without a
  data migration, but the default path deliberately does not change the
  observable behavior.
*/
package ledger

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// CREDIT LEDGER
// =============================================================================

type CreditLedger struct {
	Store Store
}

func NewCreditLedger(store Store) *CreditLedger {
	return &CreditLedger{Store: store}
}

// ConsumeResult reports a successful consumption.
type ConsumeResult struct {
	PackageID          string
	RemainingInPackage int
}

// CreditSummary aggregates a pair's entries.
type CreditSummary struct {
	PatientName    string
	Therapist      string
	TotalRemaining int
	TotalOriginal  int
	Entries        []CreditEntry
}

// PatientCredit is one row of the patients-with-credit listing.
type PatientCredit struct {
	PatientName  string
	Remaining    int
	Total        int
	PackageCount int
}

// CreateCredits appends a new active entry for the pair. Multiple packages
// for the same pair coexist as separate entries in purchase order.
func (cl *CreditLedger) CreateCredits(ctx context.Context, patient, therapist string, quantity int, packageID string, valuePerSession, totalValue Money, purchaseDate Date) error {
	if strings.TrimSpace(patient) == "" {
		return Invalidf("patient", "name is required")
	}
	if strings.TrimSpace(therapist) == "" {
		return Invalidf("therapist", "name is required")
	}
	if quantity <= 0 {
		return Invalidf("quantity", "must be positive, got %d", quantity)
	}

	entry := CreditEntry{
		PackageID:       packageID,
		PatientName:     patient,
		Therapist:       therapist,
		Remaining:       quantity,
		Total:           quantity,
		PurchaseDate:    purchaseDate,
		ValuePerSession: valuePerSession,
		TotalValue:      totalValue,
		Status:          CreditActive,
	}
	return cl.Store.AppendCreditEntry(ctx, entry)
}

// ConsumeOne takes one unit from the first active entry with units left
// (FIFO over insertion order). Returns NoCreditsError when nothing
// qualifies; no implicit charge is ever created.
func (cl *CreditLedger) ConsumeOne(ctx context.Context, patient, therapist, sessionID string, date Date) (ConsumeResult, error) {
	entries, err := cl.Store.CreditEntries(ctx, patient, therapist)
	if err != nil {
		return ConsumeResult{}, err
	}

	for _, e := range entries {
		if e.Remaining <= 0 || e.Status != CreditActive {
			continue
		}
		e.Remaining--
		e.UsageHistory = append(e.UsageHistory, CreditUsage{
			SessionID:      sessionID,
			Date:           date,
			RemainingAfter: e.Remaining,
			At:             time.Now(),
		})
		if e.Remaining == 0 {
			e.Status = CreditUsed
		}
		if err := cl.Store.UpdateCreditEntry(ctx, e); err != nil {
			return ConsumeResult{}, err
		}
		return ConsumeResult{PackageID: e.PackageID, RemainingInPackage: e.Remaining}, nil
	}

	return ConsumeResult{}, &NoCreditsError{PatientName: patient, Therapist: therapist}
}

// ReverseOne restores one unit on the first entry with Remaining < Total.
// Logs a warning and no-ops when no entry matches; the caller's delete
// still proceeds (data-integrity gap inherited from the books this engine
// replaced).
func (cl *CreditLedger) ReverseOne(ctx context.Context, patient, therapist string) error {
	entries, err := cl.Store.CreditEntries(ctx, patient, therapist)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.Remaining >= e.Total {
			continue
		}
		e.Remaining++
		if e.Status == CreditUsed {
			e.Status = CreditActive
		}
		if err := cl.Store.UpdateCreditEntry(ctx, e); err != nil {
			return err
		}
		return nil
	}

	log.Printf("credit reversal found no package for %s with %s; skipping", patient, therapist)
	return nil
}

// DeleteForPackage withdraws every credit entry minted by one package.
// Used when the purchase itself is deleted.
func (cl *CreditLedger) DeleteForPackage(ctx context.Context, patient, therapist, packageID string) error {
	return cl.Store.DeleteCreditEntries(ctx, patient, therapist, packageID)
}

// Available aggregates the pair's entries.
func (cl *CreditLedger) Available(ctx context.Context, patient, therapist string) (CreditSummary, error) {
	entries, err := cl.Store.CreditEntries(ctx, patient, therapist)
	if err != nil {
		return CreditSummary{}, err
	}

	summary := CreditSummary{PatientName: patient, Therapist: therapist, Entries: entries}
	for _, e := range entries {
		summary.TotalRemaining += e.Remaining
		summary.TotalOriginal += e.Total
	}
	return summary, nil
}

// HasAvailable reports whether the pair can fund a credit session.
func (cl *CreditLedger) HasAvailable(ctx context.Context, patient, therapist string) (bool, error) {
	summary, err := cl.Available(ctx, patient, therapist)
	if err != nil {
		return false, err
	}
	return summary.TotalRemaining > 0, nil
}

// PatientsWithCredit lists patients holding unused credits with the
// therapist, sorted alphabetically.
func (cl *CreditLedger) PatientsWithCredit(ctx context.Context, therapist string) ([]PatientCredit, error) {
	entries, err := cl.Store.CreditEntriesByTherapist(ctx, therapist)
	if err != nil {
		return nil, err
	}

	byPatient := make(map[string]*PatientCredit)
	for _, e := range entries {
		pc := byPatient[e.PatientName]
		if pc == nil {
			pc = &PatientCredit{PatientName: e.PatientName}
			byPatient[e.PatientName] = pc
		}
		pc.Remaining += e.Remaining
		pc.Total += e.Total
		pc.PackageCount++
	}

	var out []PatientCredit
	for _, pc := range byPatient {
		if pc.Remaining > 0 {
			out = append(out, *pc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientName < out[j].PatientName })
	return out, nil
}
