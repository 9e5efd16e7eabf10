/*
transfer.go - Derived transfer line items

PURPOSE:
  Flattens the day's bank transfers into line items for the transfers view:
  transfers to the clinic and to therapists from sessions and packages, plus
  synthetic "change" lines for confirmations that sent change back to the
  clinic account by transfer.

  Line ids are derived from the source record id and direction, so they are
  stable across recomputation. The per-line confirmation checkbox keys off
  that id and lives in the store as an independent bool; it never enters
  balance math.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// TRANSFER TRACKER
// =============================================================================

type TransferTracker struct {
	Store Store
}

func NewTransferTracker(store Store) *TransferTracker {
	return &TransferTracker{Store: store}
}

// TransferGroup is the lines for one recipient plus their total.
type TransferGroup struct {
	Recipient string
	Total     Money
	Lines     []TransferLine
}

// Lines derives the day's transfer line items, flat, in source order.
func (tt *TransferTracker) Lines(ctx context.Context, date Date) ([]TransferLine, error) {
	sessions, err := tt.Store.Sessions(ctx, date)
	if err != nil {
		return nil, err
	}
	packages, err := tt.Store.Packages(ctx, date)
	if err != nil {
		return nil, err
	}
	confirmations, err := tt.Store.Confirmations(ctx, date)
	if err != nil {
		return nil, err
	}

	var lines []TransferLine
	for _, s := range sessions {
		if s.TransferToClinic > 0 {
			lines = append(lines, TransferLine{
				ID:          fmt.Sprintf("session_%s_clinic", s.ID),
				Direction:   TransferToClinicDir,
				Recipient:   "Clinic",
				Amount:      s.TransferToClinic,
				Concept:     fmt.Sprintf("Session payment from %s", s.Therapist),
				PatientName: s.PatientName,
			})
		}
		if s.TransferToTherapist > 0 {
			lines = append(lines, TransferLine{
				ID:          fmt.Sprintf("session_%s_therapist", s.ID),
				Direction:   TransferToTherapistDir,
				Recipient:   s.Therapist,
				Amount:      s.TransferToTherapist,
				Concept:     fmt.Sprintf("Session payment to %s", s.Therapist),
				PatientName: s.PatientName,
			})
		}
	}
	for _, p := range packages {
		if p.TransferToClinic > 0 {
			lines = append(lines, TransferLine{
				ID:          fmt.Sprintf("package_%s_clinic", p.ID),
				Direction:   TransferToClinicDir,
				Recipient:   "Clinic",
				Amount:      p.TransferToClinic,
				Concept:     fmt.Sprintf("Package transfer for %s", p.PatientName),
				PatientName: p.PatientName,
			})
		}
		if p.TransferToTherapist > 0 {
			lines = append(lines, TransferLine{
				ID:          fmt.Sprintf("package_%s_therapist", p.ID),
				Direction:   TransferToTherapistDir,
				Recipient:   p.Therapist,
				Amount:      p.TransferToTherapist,
				Concept:     fmt.Sprintf("Package payment to %s", p.Therapist),
				PatientName: p.PatientName,
			})
		}
	}
	for _, c := range confirmations {
		if c.Flow.CashReceived > 0 {
			lines = append(lines, TransferLine{
				ID:          fmt.Sprintf("change_%s_%s", c.Therapist, c.Date),
				Direction:   TransferChangeDir,
				Recipient:   "Clinic",
				Amount:      c.Flow.CashReceived,
				Concept:     fmt.Sprintf("Change from %s returned by transfer", c.Therapist),
				PatientName: "",
			})
		}
	}

	for i := range lines {
		confirmed, err := tt.Store.TransferFlag(ctx, lines[i].ID)
		if err != nil {
			return nil, err
		}
		lines[i].Confirmed = confirmed
	}
	return lines, nil
}

// Grouped returns the day's lines grouped by recipient, recipients sorted.
func (tt *TransferTracker) Grouped(ctx context.Context, date Date) ([]TransferGroup, error) {
	lines, err := tt.Lines(ctx, date)
	if err != nil {
		return nil, err
	}

	byRecipient := make(map[string][]TransferLine)
	for _, l := range lines {
		byRecipient[l.Recipient] = append(byRecipient[l.Recipient], l)
	}

	recipients := make([]string, 0, len(byRecipient))
	for r := range byRecipient {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	groups := make([]TransferGroup, 0, len(recipients))
	for _, r := range recipients {
		g := TransferGroup{Recipient: r, Lines: byRecipient[r]}
		for _, l := range g.Lines {
			g.Total += l.Amount
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Toggle flips a line's confirmation checkbox and returns the new state.
func (tt *TransferTracker) Toggle(ctx context.Context, lineID string) (bool, error) {
	current, err := tt.Store.TransferFlag(ctx, lineID)
	if err != nil {
		return false, err
	}
	if err := tt.Store.SetTransferFlag(ctx, lineID, !current); err != nil {
		return false, err
	}
	return !current, nil
}
