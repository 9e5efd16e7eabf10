/*
balance.go - Dynamic cash and account balance replay

PURPOSE:
  Computes the drawer (cash-on-hand) balance and the clinic bank account
  balance for a date by replaying that day's records. This is the central
  architectural decision of the engine: there is no stored counter to keep
  in sync, so deletes and reverts are trivially consistent.

CASH BALANCE:
  opening + cash from sessions + cash from packages - expenses - confirmed
  cash payouts. A payout nets out change returned to the drawer, and cash
  handed over by a therapist settling a debt flows back in.

ACCOUNT BALANCE:
  transfers-to-clinic from sessions and packages, minus confirmed bank
  payouts (BankOut), plus inbound transfers (BankIn) and cash-received
  amounts logged as transfers back to the account.

Both are clamped at zero: a negative result indicates bad data, not an
overdraft the system models.

SEE ALSO:
  - settlement.go: uses both balances to classify payment feasibility
*/
package ledger

import "context"

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// BalanceCalculator derives balances from the record store. It holds no
// state of its own; calling it twice with no intervening writes yields
// identical results.
type BalanceCalculator struct {
	Store Store
}

func NewBalanceCalculator(store Store) *BalanceCalculator {
	return &BalanceCalculator{Store: store}
}

// CashBalance computes the drawer balance for a date.
func (bc *BalanceCalculator) CashBalance(ctx context.Context, date Date) (Money, error) {
	opening, err := bc.Store.InitialBalance(ctx, date)
	if err != nil {
		return 0, err
	}
	sessions, err := bc.Store.Sessions(ctx, date)
	if err != nil {
		return 0, err
	}
	packages, err := bc.Store.Packages(ctx, date)
	if err != nil {
		return 0, err
	}
	expenses, err := bc.Store.Expenses(ctx, date)
	if err != nil {
		return 0, err
	}
	confirmations, err := bc.Store.Confirmations(ctx, date)
	if err != nil {
		return 0, err
	}

	var cashIn Money
	for _, s := range sessions {
		cashIn += s.CashToClinic
	}
	for _, p := range packages {
		cashIn += p.CashToClinic
	}

	var spent Money
	for _, e := range expenses {
		spent += e.Amount
	}

	// Confirmed payouts: cash handed to therapists, net of cash change that
	// came back to the drawer, net of cash a therapist handed in to settle
	// a debt.
	var payouts Money
	for _, c := range confirmations {
		payouts += c.Flow.CashUsed
		payouts -= c.Flow.ChangeCash
		if c.State == StateTherapistOwes {
			payouts -= c.Flow.CashReceived
		}
	}

	balance := opening + cashIn - spent - payouts
	if balance < 0 {
		balance = 0
	}
	return balance, nil
}

// AccountBalance computes the clinic bank account balance for a date.
func (bc *BalanceCalculator) AccountBalance(ctx context.Context, date Date) (Money, error) {
	sessions, err := bc.Store.Sessions(ctx, date)
	if err != nil {
		return 0, err
	}
	packages, err := bc.Store.Packages(ctx, date)
	if err != nil {
		return 0, err
	}
	confirmations, err := bc.Store.Confirmations(ctx, date)
	if err != nil {
		return 0, err
	}

	var balance Money
	for _, s := range sessions {
		balance += s.TransferToClinic
	}
	for _, p := range packages {
		balance += p.TransferToClinic
	}
	for _, c := range confirmations {
		balance -= c.Flow.BankOut
		balance += c.Flow.BankIn
		// Change returned by transfer, and cash received from therapists,
		// both land on the account side.
		balance += c.Flow.CashReceived
	}

	if balance < 0 {
		balance = 0
	}
	return balance, nil
}
