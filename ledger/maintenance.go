/*
maintenance.go - Explicit, idempotent housekeeping operations

PURPOSE:
  The retention sweep and the self-healing passes are first-class operations
  invoked on startup or on a schedule, not side effects buried in a load
  path. All three are idempotent: running them twice changes nothing the
  second time.

OPERATIONS:
  SweepOld:           purge day-keyed records older than the retention window
  HealPackages:       dedup packages by id, clamp contribution into range
  HealBalanceHistory: drop malformed history entries, enforce the cap
*/
package ledger

import (
	"context"
	"log"
)

// RetentionDays is the age, in local calendar days, past which daily
// records are purged.
const RetentionDays = 30

// =============================================================================
// MAINTENANCE
// =============================================================================

type Maintenance struct {
	Store Store
}

func NewMaintenance(store Store) *Maintenance {
	return &Maintenance{Store: store}
}

// SweepOld purges every date strictly older than today minus RetentionDays
// from all day-keyed collections, including opening balances and their
// history. Returns the number of dates purged.
func (m *Maintenance) SweepOld(ctx context.Context, today Date) (int, error) {
	cutoff := today.AddDays(-RetentionDays)

	dates, err := m.Store.Dates(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, d := range dates {
		if !d.Before(cutoff) {
			continue
		}
		if err := m.Store.PurgeDate(ctx, d); err != nil {
			return purged, err
		}
		purged++
	}
	if purged > 0 {
		log.Printf("retention sweep purged %d day(s) older than %s", purged, cutoff)
	}
	return purged, nil
}

// HealPackages runs the idempotent package integrity pass over every date:
// duplicate ids (left over from repeated saves) are collapsed to the first
// occurrence, contributions are clamped into [0, SessionValue], and fees
// recomputed. Returns the number of packages corrected or dropped.
func (m *Maintenance) HealPackages(ctx context.Context) (int, error) {
	dates, err := m.Store.Dates(ctx)
	if err != nil {
		return 0, err
	}

	healed := 0
	for _, d := range dates {
		pkgs, err := m.Store.Packages(ctx, d)
		if err != nil {
			return healed, err
		}

		seen := make(map[string]bool)
		var clean []PackagePurchase
		changed := false
		for _, p := range pkgs {
			if seen[p.ID] {
				changed = true
				healed++
				continue
			}
			seen[p.ID] = true

			if p.ClinicContribution < 0 {
				p.ClinicContribution = 0
				changed = true
				healed++
			}
			if p.ClinicContribution > p.SessionValue {
				p.ClinicContribution = p.SessionValue
				changed = true
				healed++
			}
			if fee := p.SessionValue - p.ClinicContribution; p.TherapistFee != fee {
				p.TherapistFee = fee
				changed = true
			}
			clean = append(clean, p)
		}

		if changed {
			if err := m.Store.ReplacePackages(ctx, d, clean); err != nil {
				return healed, err
			}
			log.Printf("healed package records for %s", d)
		}
	}
	return healed, nil
}

// HealBalanceHistory drops malformed opening-balance history entries
// (missing message, negative values) and truncates each date's history to
// the newest MaxBalanceHistory entries.
func (m *Maintenance) HealBalanceHistory(ctx context.Context) (int, error) {
	dates, err := m.Store.Dates(ctx)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, d := range dates {
		history, err := m.Store.BalanceHistory(ctx, d)
		if err != nil {
			return dropped, err
		}

		var clean []BalanceChange
		for _, h := range history {
			if h.Message == "" || h.New < 0 || h.Previous < 0 {
				dropped++
				continue
			}
			clean = append(clean, h)
		}
		if len(clean) > MaxBalanceHistory {
			dropped += len(clean) - MaxBalanceHistory
			clean = clean[len(clean)-MaxBalanceHistory:]
		}

		if len(clean) != len(history) {
			if err := m.Store.ReplaceBalanceHistory(ctx, d, clean); err != nil {
				return dropped, err
			}
			log.Printf("healed balance history for %s (%d -> %d entries)", d, len(history), len(clean))
		}
	}
	return dropped, nil
}
