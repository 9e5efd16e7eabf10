/*
settlement.go - Per-therapist settlement status and the confirm/revert protocol

PURPOSE:
  Answers "who owes whom, and how can it be paid?" for one therapist on one
  day, and runs the protocol that freezes an answer into a Confirmation the
  moment money changes hands.

STATUS COMPUTATION:
  income       = non-credit session values + package values
  contribution = their clinic shares
  fee          = income - contribution
  net          = fee - transfers-to-therapist - advances

  net == 0  -> SETTLED
  net  < 0  -> THERAPIST_OWES |net|
  net  > 0  -> classify by funding:
               cash + account < owed  -> INSUFFICIENT_FUNDS
               cash >= owed           -> PAY_CASH
               0 < cash < owed        -> PAY_CASH_AND_TRANSFER
               cash == 0              -> TRANSFER_ONLY

FREEZING:
  If a Confirmation exists for the therapist/day, ComputeStatus returns its
  frozen snapshot (Source == Frozen) instead of recomputing, so a session
  registered after the handshake cannot retroactively change a settled day.
  Revert deletes the confirmation and the status goes live again; nothing
  else needs to move, because balances are replayed, not stored.

STATE MACHINE:
  UNSETTLED(variant) -> CONFIRMED -> (revert) -> UNSETTLED. There is no
  separate terminal "paid" state; revert is always available.
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// SETTLEMENT ENGINE
// =============================================================================

type SettlementEngine struct {
	Store    Store
	Balances *BalanceCalculator
}

func NewSettlementEngine(store Store) *SettlementEngine {
	return &SettlementEngine{Store: store, Balances: NewBalanceCalculator(store)}
}

// ComputeStatus derives the settlement view for a therapist/day. When a
// confirmation exists the stored frozen snapshot wins.
func (se *SettlementEngine) ComputeStatus(ctx context.Context, therapist string, date Date) (TherapistStatus, error) {
	conf, err := se.Store.Confirmation(ctx, date, therapist)
	if err == nil {
		frozen := conf.Frozen
		frozen.Source = SourceFrozen
		frozen.ConfirmedAt = conf.Timestamp
		frozen.Flow = conf.Flow
		return frozen, nil
	}
	if !IsNotFound(err) {
		return TherapistStatus{}, err
	}
	return se.computeLive(ctx, therapist, date)
}

func (se *SettlementEngine) computeLive(ctx context.Context, therapist string, date Date) (TherapistStatus, error) {
	sessions, err := se.Store.Sessions(ctx, date)
	if err != nil {
		return TherapistStatus{}, err
	}
	packages, err := se.Store.Packages(ctx, date)
	if err != nil {
		return TherapistStatus{}, err
	}
	expenses, err := se.Store.Expenses(ctx, date)
	if err != nil {
		return TherapistStatus{}, err
	}

	status := TherapistStatus{
		Therapist: therapist,
		Date:      date,
		State:     StateSettled,
		Source:    SourceLive,
	}

	// Credit sessions are excluded from income math (their value was
	// collected when the package was bought) but their transfers would be
	// zero anyway; packages count in full on purchase day.
	for _, s := range sessions {
		if s.Therapist != therapist {
			continue
		}
		if !s.CreditUsed {
			status.Income += s.SessionValue
			status.ClinicContribution += s.ClinicContribution
			status.Fee += s.TherapistFee
		}
		status.TransferToTherapist += s.TransferToTherapist
	}
	for _, p := range packages {
		if p.Therapist != therapist {
			continue
		}
		status.Income += p.SessionValue
		status.ClinicContribution += p.ClinicContribution
		status.Fee += p.SessionValue - p.ClinicContribution
		status.TransferToTherapist += p.TransferToTherapist
	}
	for _, e := range expenses {
		if e.Type == ExpenseAdvance && e.Therapist == therapist {
			status.AdvancesReceived += e.Amount
		}
	}

	cash, err := se.Balances.CashBalance(ctx, date)
	if err != nil {
		return TherapistStatus{}, err
	}
	account, err := se.Balances.AccountBalance(ctx, date)
	if err != nil {
		return TherapistStatus{}, err
	}
	status.CashBalance = cash
	status.AccountBalance = account

	net := status.Fee - status.TransferToTherapist - status.AdvancesReceived
	switch {
	case net == 0:
		status.State = StateSettled
	case net < 0:
		status.TherapistOwes = -net
		status.State = StateTherapistOwes
	default:
		status.ClinicOwes = net
		switch {
		case cash+account < net:
			status.State = StateInsufficientFunds
		case cash >= net:
			status.State = StatePayCash
		case cash > 0:
			status.State = StatePayCashAndTransfer
		default:
			status.State = StateTransferOnly
		}
	}

	return status, nil
}

// =============================================================================
// CONFIRM / REVERT
// =============================================================================

// Confirm freezes the current status into a Confirmation. declaredCash is
// only read by the change options, where it is the physical cash handed
// over (must exceed the owed amount).
//
// No balance field is mutated here: the next CashBalance/AccountBalance
// replay picks the confirmation up by itself.
func (se *SettlementEngine) Confirm(ctx context.Context, therapist string, date Date, option PayOption, declaredCash Money) (Confirmation, error) {
	if _, err := se.Store.Confirmation(ctx, date, therapist); err == nil {
		return Confirmation{}, ErrAlreadyConfirmed
	} else if !IsNotFound(err) {
		return Confirmation{}, err
	}

	status, err := se.computeLive(ctx, therapist, date)
	if err != nil {
		return Confirmation{}, err
	}

	if status.State == StateInsufficientFunds {
		return Confirmation{}, &InsufficientFundsError{
			Therapist: therapist,
			Date:      date,
			Owed:      status.ClinicOwes,
			Cash:      status.CashBalance,
			Account:   status.AccountBalance,
		}
	}

	flow, err := buildFlow(status, option, declaredCash)
	if err != nil {
		return Confirmation{}, err
	}

	amount := status.ClinicOwes
	if status.State == StateTherapistOwes {
		amount = status.TherapistOwes
	}

	conf := Confirmation{
		Therapist: therapist,
		Date:      date,
		Timestamp: time.Now(),
		Amount:    amount,
		State:     status.State,
		Flow:      flow,
		Frozen:    status,
	}
	if err := se.Store.PutConfirmation(ctx, conf); err != nil {
		return Confirmation{}, err
	}
	return conf, nil
}

// buildFlow maps state x option onto the money movement record.
func buildFlow(status TherapistStatus, option PayOption, declaredCash Money) (PaymentFlow, error) {
	if option == "" {
		option = OptionExact
	}
	flow := PaymentFlow{Option: option}
	owed := status.ClinicOwes

	switch status.State {
	case StatePayCash:
		switch option {
		case OptionExact:
			flow.CashUsed = owed
		case OptionChangeByTransfer:
			if declaredCash <= owed {
				return PaymentFlow{}, ErrChangeTooSmall
			}
			// The whole bill leaves the drawer; the excess comes back as a
			// transfer from the therapist to the clinic account.
			flow.CashUsed = declaredCash
			flow.CashReceived = declaredCash - owed
		case OptionChangeInCash:
			if declaredCash <= owed {
				return PaymentFlow{}, ErrChangeTooSmall
			}
			// Net cash out is the owed amount; the change is tracked for
			// drawer accounting.
			flow.CashUsed = owed
			flow.ChangeCash = declaredCash - owed
		case OptionTransferInstead:
			flow.BankOut = owed
		default:
			return PaymentFlow{}, Invalidf("option", "unknown pay option %q", option)
		}

	case StatePayCashAndTransfer:
		flow.CashUsed = status.CashBalance
		flow.BankOut = owed - status.CashBalance

	case StateTransferOnly:
		flow.BankOut = owed

	case StateTherapistOwes:
		if option == OptionTransferInstead {
			// Money entering the clinic account, as an explicit inbound leg.
			flow.BankIn = status.TherapistOwes
		} else {
			flow.CashReceived = status.TherapistOwes
		}

	case StateSettled:
		// Nothing moves.

	default:
		return PaymentFlow{}, Invalidf("state", "cannot confirm state %q", status.State)
	}

	return flow, nil
}

// Revert deletes the confirmation for a therapist/day. Subsequent status
// queries recompute live; by construction of the balance replay no other
// state needs to change.
func (se *SettlementEngine) Revert(ctx context.Context, therapist string, date Date) error {
	if _, err := se.Store.Confirmation(ctx, date, therapist); err != nil {
		if IsNotFound(err) {
			return ErrNotConfirmed
		}
		return err
	}
	return se.Store.DeleteConfirmation(ctx, date, therapist)
}

// IsConfirmed reports whether the therapist/day holds a confirmation.
func (se *SettlementEngine) IsConfirmed(ctx context.Context, therapist string, date Date) (bool, error) {
	_, err := se.Store.Confirmation(ctx, date, therapist)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}
