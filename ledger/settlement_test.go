package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sereno/clinic-ledger/ledger"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestComputeStatus_Settled(t *testing.T) {
	// GIVEN: a session whose fee was fully transferred to the therapist at
	//        registration time
	// THEN: nothing is owed in either direction

	s := newTestStore()
	ctx := context.Background()

	// value 50,000, contribution 10,000, fee 40,000, all 40,000 transferred
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 10_000, 40_000, 0, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)
	status, err := se.ComputeStatus(ctx, "Ana", day)
	require.NoError(t, err)

	assert.Equal(t, ledger.StateSettled, status.State)
	assert.Equal(t, ledger.Money(0), status.ClinicOwes)
	assert.Equal(t, ledger.Money(0), status.TherapistOwes)
	assert.Equal(t, ledger.SourceLive, status.Source)
}

func TestComputeStatus_AdvanceReducesNet(t *testing.T) {
	// GIVEN: a 40,000 fee and a 15,000 advance already handed over
	// THEN: the clinic owes the remaining 25,000

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))
	require.NoError(t, s.AppendExpense(ctx, ledger.Expense{
		ID: "e1", Type: ledger.ExpenseAdvance, Concept: "advance", Amount: 15_000, Date: day, Therapist: "Ana",
	}))

	se := ledger.NewSettlementEngine(s)
	status, err := se.ComputeStatus(ctx, "Ana", day)
	require.NoError(t, err)

	assert.Equal(t, ledger.Money(25_000), status.ClinicOwes)
	assert.Equal(t, ledger.StatePayCash, status.State)
}

func TestComputeStatus_FundingClassification(t *testing.T) {
	// GIVEN: a fixed owed amount and every funding boundary combination
	// THEN: exactly the state the thresholds dictate, including equalities

	cases := []struct {
		name          string
		opening       ledger.Money // extra drawer cash beyond session income
		transferLeg   ledger.Money // session money parked on the account
		cashLeg       ledger.Money
		expense       ledger.Money // drains the drawer without touching owed
		expectedState ledger.State
	}{
		// owed is always the fee: value 100,000, contribution 20% -> fee 80,000
		{"cash covers exactly", 0, 0, 100_000, 0, ledger.StatePayCash},
		{"cash exceeds", 50_000, 0, 100_000, 0, ledger.StatePayCash},
		{"split cash and transfer", 0, 60_000, 40_000, 0, ledger.StatePayCashAndTransfer},
		{"transfer only, no cash", 0, 100_000, 0, 0, ledger.StateTransferOnly},
		{"insufficient everywhere", 0, 0, 100_000, 30_000, ledger.StateInsufficientFunds},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore()
			ctx := context.Background()

			if tc.opening > 0 {
				require.NoError(t, s.SetInitialBalance(ctx, day, tc.opening))
			}
			require.NoError(t, s.AppendSession(ctx,
				paidSession("s1", "Ana", "Pedro", tc.cashLeg, 0, tc.transferLeg, ledger.PercentContribution(20))))
			if tc.expense > 0 {
				require.NoError(t, s.AppendExpense(ctx, ledger.Expense{
					ID: "e1", Type: ledger.ExpenseClinic, Concept: "rent", Amount: tc.expense, Date: day,
				}))
			}

			se := ledger.NewSettlementEngine(s)
			status, err := se.ComputeStatus(ctx, "Ana", day)
			require.NoError(t, err)

			assert.Equal(t, ledger.Money(80_000), status.ClinicOwes)
			assert.Equal(t, tc.expectedState, status.State)
		})
	}
}

func TestComputeStatus_BoundaryEqualities(t *testing.T) {
	// GIVEN: cash + bank exactly equal to owed (not less)
	// THEN: the state is a payable one, not INSUFFICIENT_FUNDS

	s := newTestStore()
	ctx := context.Background()

	// value 100,000 -> fee 80,000; drawer 30,000 + account 50,000 == 80,000
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 30_000, 20_000, 50_000, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)
	status, err := se.ComputeStatus(ctx, "Ana", day)
	require.NoError(t, err)

	assert.Equal(t, ledger.Money(60_000), status.ClinicOwes)
	assert.Equal(t, ledger.StatePayCashAndTransfer, status.State)
}

func TestComputeStatus_ExcludesOtherTherapists(t *testing.T) {
	// GIVEN: two therapists with sessions on the same day
	// THEN: each status only counts its own therapist's records

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))
	require.NoError(t, s.AppendSession(ctx, paidSession("s2", "Luis", "Maria", 70_000, 0, 0, ledger.PercentContribution(30))))

	se := ledger.NewSettlementEngine(s)
	status, err := se.ComputeStatus(ctx, "Ana", day)
	require.NoError(t, err)

	assert.Equal(t, ledger.Money(50_000), status.Income)
	assert.Equal(t, ledger.Money(40_000), status.Fee)
}

// =============================================================================
// CONFIRM
// =============================================================================

func TestConfirm_ExactCash(t *testing.T) {
	// GIVEN: scenario A (opening 100,000, one 50,000 cash session, 20%)
	// WHEN: confirming with the exact option
	// THEN: flow.cashUsed = 40,000 and the drawer drops to 110,000

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 100_000))
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)
	conf, err := se.Confirm(ctx, "Ana", day, ledger.OptionExact, 0)
	require.NoError(t, err)

	assert.Equal(t, ledger.Money(40_000), conf.Flow.CashUsed)
	assert.Equal(t, ledger.StatePayCash, conf.State)

	cash, err := se.Balances.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(110_000), cash)
}

func TestConfirm_ChangeByTransfer(t *testing.T) {
	// GIVEN: clinic owes 40,000 and hands over a 50,000 note
	// WHEN: the excess comes back as a transfer from the therapist
	// THEN: cashUsed = 50,000, cashReceived = 10,000; drawer loses the full
	//       50,000 and the account gains the 10,000

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 100_000))
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)
	conf, err := se.Confirm(ctx, "Ana", day, ledger.OptionChangeByTransfer, 50_000)
	require.NoError(t, err)

	assert.Equal(t, ledger.Money(50_000), conf.Flow.CashUsed)
	assert.Equal(t, ledger.Money(10_000), conf.Flow.CashReceived)

	cash, err := se.Balances.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(100_000), cash)

	account, err := se.Balances.AccountBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(10_000), account)
}

func TestConfirm_ChangeInCash(t *testing.T) {
	// GIVEN: clinic owes 40,000, therapist is handed a 50,000 note and gives
	//        back 10,000 in cash
	// THEN: cashUsed is stored already net of the change, and the replay
	//       still adds changeCash back on top, so the drawer only drops by
	//       30,000 — the change is credited twice

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 100_000))
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)
	conf, err := se.Confirm(ctx, "Ana", day, ledger.OptionChangeInCash, 50_000)
	require.NoError(t, err)

	assert.Equal(t, ledger.Money(40_000), conf.Flow.CashUsed)
	assert.Equal(t, ledger.Money(10_000), conf.Flow.ChangeCash)

	cash, err := se.Balances.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(120_000), cash)
}

func TestConfirm_ChangeRequiresExcess(t *testing.T) {
	// GIVEN: a change option with declared cash not exceeding the owed amount
	// THEN: the confirm is rejected and nothing is written

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 100_000))
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)
	_, err := se.Confirm(ctx, "Ana", day, ledger.OptionChangeInCash, 40_000)
	assert.ErrorIs(t, err, ledger.ErrChangeTooSmall)

	confirmed, err := se.IsConfirmed(ctx, "Ana", day)
	require.NoError(t, err)
	assert.False(t, confirmed)
}

func TestConfirm_SplitCashAndTransfer(t *testing.T) {
	// GIVEN: owed 80,000, drawer holds 40,000, account holds 60,000
	// WHEN: confirming a PAY_CASH_AND_TRANSFER settlement
	// THEN: all drawer cash goes out and the rest leaves the account

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 40_000, 0, 60_000, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)
	conf, err := se.Confirm(ctx, "Ana", day, "", 0)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatePayCashAndTransfer, conf.State)
	assert.Equal(t, ledger.Money(40_000), conf.Flow.CashUsed)
	assert.Equal(t, ledger.Money(40_000), conf.Flow.BankOut)

	cash, err := se.Balances.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(0), cash)

	account, err := se.Balances.AccountBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(20_000), account)
}

func TestConfirm_InsufficientFundsRefused(t *testing.T) {
	// GIVEN: the clinic owes more than cash + account combined
	// WHEN: confirming
	// THEN: refused with a typed error carrying the shortfall context

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))
	require.NoError(t, s.AppendExpense(ctx, ledger.Expense{
		ID: "e1", Type: ledger.ExpenseClinic, Concept: "rent", Amount: 30_000, Date: day,
	}))

	se := ledger.NewSettlementEngine(s)
	_, err := se.Confirm(ctx, "Ana", day, ledger.OptionExact, 0)

	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	var ifErr *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &ifErr)
	assert.Equal(t, ledger.Money(40_000), ifErr.Owed)
	assert.Equal(t, ledger.Money(20_000), ifErr.Cash)
}

func TestConfirm_TherapistOwesCash(t *testing.T) {
	// GIVEN: scenario E — therapist owes the clinic 20,000
	// WHEN: confirming with the therapist paying in cash
	// THEN: flow.cashReceived = 20,000 and the drawer grows by 20,000

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 50_000))
	// fee 40,000, but 60,000 was already transferred to the therapist
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 0, 60_000, 0, ledger.PercentContribution(0))))
	require.NoError(t, s.AppendExpense(ctx, ledger.Expense{
		ID: "e1", Type: ledger.ExpenseAdvance, Concept: "advance", Amount: 20_000, Date: day, Therapist: "Ana",
	}))

	se := ledger.NewSettlementEngine(s)

	status, err := se.ComputeStatus(ctx, "Ana", day)
	require.NoError(t, err)
	require.Equal(t, ledger.StateTherapistOwes, status.State)
	require.Equal(t, ledger.Money(20_000), status.TherapistOwes)

	prior, err := se.Balances.CashBalance(ctx, day)
	require.NoError(t, err)

	conf, err := se.Confirm(ctx, "Ana", day, ledger.OptionExact, 0)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(20_000), conf.Flow.CashReceived)

	after, err := se.Balances.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, prior+20_000, after)
}

func TestConfirm_TherapistOwesByTransfer(t *testing.T) {
	// GIVEN: the therapist owes 20,000 and settles by bank transfer
	// THEN: the inbound leg is an explicit BankIn; the drawer is untouched

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 0, 60_000, 0, ledger.PercentContribution(0))))
	require.NoError(t, s.AppendExpense(ctx, ledger.Expense{
		ID: "e1", Type: ledger.ExpenseAdvance, Concept: "advance", Amount: 20_000, Date: day, Therapist: "Ana",
	}))

	se := ledger.NewSettlementEngine(s)
	conf, err := se.Confirm(ctx, "Ana", day, ledger.OptionTransferInstead, 0)
	require.NoError(t, err)

	assert.Equal(t, ledger.Money(20_000), conf.Flow.BankIn)
	assert.Equal(t, ledger.Money(0), conf.Flow.CashReceived)

	account, err := se.Balances.AccountBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(20_000), account)
}

func TestConfirm_Twice_Rejected(t *testing.T) {
	// GIVEN: a confirmed therapist/day
	// WHEN: confirming again without reverting
	// THEN: rejected

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 100_000))
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)
	_, err := se.Confirm(ctx, "Ana", day, ledger.OptionExact, 0)
	require.NoError(t, err)

	_, err = se.Confirm(ctx, "Ana", day, ledger.OptionExact, 0)
	assert.ErrorIs(t, err, ledger.ErrAlreadyConfirmed)
}

// =============================================================================
// FREEZE / REVERT
// =============================================================================

func TestConfirm_FreezesStatusAgainstLaterEdits(t *testing.T) {
	// GIVEN: a confirmed settlement
	// WHEN: another session for the same therapist/day is registered after
	// THEN: the returned status stays the frozen snapshot

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 100_000))
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)
	_, err := se.Confirm(ctx, "Ana", day, ledger.OptionExact, 0)
	require.NoError(t, err)

	require.NoError(t, s.AppendSession(ctx, paidSession("s2", "Ana", "Luz", 200_000, 0, 0, ledger.PercentContribution(20))))

	status, err := se.ComputeStatus(ctx, "Ana", day)
	require.NoError(t, err)

	assert.Equal(t, ledger.SourceFrozen, status.Source)
	assert.True(t, status.Confirmed())
	assert.Equal(t, ledger.Money(50_000), status.Income, "frozen income ignores the later session")
	assert.False(t, status.ConfirmedAt.IsZero())
}

func TestConfirmRevert_RoundTrip(t *testing.T) {
	// GIVEN: a live unsettled status
	// WHEN: confirm then revert
	// THEN: the recomputed status equals the pre-confirm one

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 100_000))
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))

	se := ledger.NewSettlementEngine(s)

	before, err := se.ComputeStatus(ctx, "Ana", day)
	require.NoError(t, err)

	_, err = se.Confirm(ctx, "Ana", day, ledger.OptionExact, 0)
	require.NoError(t, err)
	require.NoError(t, se.Revert(ctx, "Ana", day))

	after, err := se.ComputeStatus(ctx, "Ana", day)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRevert_WithoutConfirmation_Rejected(t *testing.T) {
	// GIVEN: no confirmation for the therapist/day
	// WHEN: reverting
	// THEN: a typed not-confirmed error

	s := newTestStore()
	se := ledger.NewSettlementEngine(s)

	err := se.Revert(context.Background(), "Ana", day)
	assert.ErrorIs(t, err, ledger.ErrNotConfirmed)
}
