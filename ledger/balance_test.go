package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sereno/clinic-ledger/ledger"
	"github.com/sereno/clinic-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day = ledger.NewDate(2026, time.August, 14)

func newTestStore() *store.Memory {
	return store.NewMemory()
}

// paidSession builds a session with derived fields the way the command path
// would: value = sum of legs, contribution applied, fee = remainder.
func paidSession(id, therapist, patient string, cash, toTherapist, toClinic ledger.Money, contribution ledger.Contribution) ledger.Session {
	value := cash + toTherapist + toClinic
	c := contribution.Apply(value)
	return ledger.Session{
		ID:                  id,
		Therapist:           therapist,
		Date:                day,
		PatientName:         patient,
		CashToClinic:        cash,
		TransferToTherapist: toTherapist,
		TransferToClinic:    toClinic,
		SessionValue:        value,
		ClinicContribution:  c,
		TherapistFee:        value - c,
	}
}

// =============================================================================
// CASH BALANCE
// =============================================================================

func TestCashBalance_OpeningPlusSessionCash(t *testing.T) {
	// GIVEN: opening balance 100,000 and one session paying 50,000 cash
	//        with a 20% clinic contribution
	// THEN: derived session fields split 10,000 / 40,000 and the drawer
	//       holds 150,000 before any confirmation

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 100_000))

	session := paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))
	assert.Equal(t, ledger.Money(50_000), session.SessionValue)
	assert.Equal(t, ledger.Money(10_000), session.ClinicContribution)
	assert.Equal(t, ledger.Money(40_000), session.TherapistFee)
	require.NoError(t, s.AppendSession(ctx, session))

	bc := ledger.NewBalanceCalculator(s)
	cash, err := bc.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(150_000), cash)
}

func TestCashBalance_Idempotent(t *testing.T) {
	// GIVEN: a day with a mix of records
	// WHEN: computing the cash balance twice with no intervening writes
	// THEN: results are identical

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetInitialBalance(ctx, day, 30_000))
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 80_000, 0, 20_000, ledger.PercentContribution(20))))
	require.NoError(t, s.AppendExpense(ctx, ledger.Expense{
		ID: "e1", Type: ledger.ExpenseClinic, Concept: "supplies", Amount: 15_000, Date: day,
	}))

	bc := ledger.NewBalanceCalculator(s)
	first, err := bc.CashBalance(ctx, day)
	require.NoError(t, err)
	second, err := bc.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCashBalance_ExpensesReduceDrawer(t *testing.T) {
	// GIVEN: 50,000 cash income and 20,000 of expenses (advance + clinic)
	// THEN: drawer holds 30,000

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 50_000, 0, 0, ledger.PercentContribution(20))))
	require.NoError(t, s.AppendExpense(ctx, ledger.Expense{
		ID: "e1", Type: ledger.ExpenseAdvance, Concept: "advance", Amount: 12_000, Date: day, Therapist: "Ana",
	}))
	require.NoError(t, s.AppendExpense(ctx, ledger.Expense{
		ID: "e2", Type: ledger.ExpenseClinic, Concept: "cleaning", Amount: 8_000, Date: day,
	}))

	bc := ledger.NewBalanceCalculator(s)
	cash, err := bc.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(30_000), cash)
}

func TestCashBalance_NeverNegative(t *testing.T) {
	// GIVEN: expenses exceeding all cash income
	// THEN: the balance clamps at zero instead of going negative

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 10_000, 0, 0, ledger.PercentContribution(20))))
	require.NoError(t, s.AppendExpense(ctx, ledger.Expense{
		ID: "e1", Type: ledger.ExpenseClinic, Concept: "rent", Amount: 999_000, Date: day,
	}))

	bc := ledger.NewBalanceCalculator(s)
	cash, err := bc.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(0), cash)
}

func TestCashBalance_PackageCashCounts(t *testing.T) {
	// GIVEN: a package purchase paid partly in cash
	// THEN: the cash leg lands in the drawer on purchase day

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AppendPackage(ctx, ledger.PackagePurchase{
		ID: "PK-001", PatientName: "Pedro", Therapist: "Ana", TotalSessions: 5,
		CashToClinic: 300_000, TransferToClinic: 200_000,
		SessionValue: 500_000, ValuePerSession: 100_000,
		ClinicContribution: 100_000, TherapistFee: 400_000,
		PurchaseDate: day, CreatedBy: ledger.OriginIndependent,
	}))

	bc := ledger.NewBalanceCalculator(s)
	cash, err := bc.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(300_000), cash)
}

// =============================================================================
// ACCOUNT BALANCE
// =============================================================================

func TestAccountBalance_TransfersToClinic(t *testing.T) {
	// GIVEN: session and package transfers to the clinic account
	// THEN: the account balance is their sum; transfers to the therapist
	//       never touch the clinic account

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 0, 30_000, 70_000, ledger.PercentContribution(20))))
	require.NoError(t, s.AppendPackage(ctx, ledger.PackagePurchase{
		ID: "PK-001", PatientName: "Luz", Therapist: "Ana", TotalSessions: 4,
		TransferToClinic: 120_000,
		SessionValue:     120_000, ValuePerSession: 30_000,
		ClinicContribution: 24_000, TherapistFee: 96_000,
		PurchaseDate: day, CreatedBy: ledger.OriginIndependent,
	}))

	bc := ledger.NewBalanceCalculator(s)
	account, err := bc.AccountBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(190_000), account)
}

func TestAccountBalance_NeverNegative(t *testing.T) {
	// GIVEN: a confirmation paying out more from the bank than ever came in
	//        (bad data, not a modeled overdraft)
	// THEN: the balance clamps at zero

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.PutConfirmation(ctx, ledger.Confirmation{
		Therapist: "Ana", Date: day, Timestamp: time.Now(),
		Amount: 50_000, State: ledger.StateTransferOnly,
		Flow: ledger.PaymentFlow{BankOut: 50_000, Option: ledger.OptionExact},
	}))

	bc := ledger.NewBalanceCalculator(s)
	account, err := bc.AccountBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(0), account)
}

func TestBalances_DeleteNeedsNoCompensation(t *testing.T) {
	// GIVEN: a session contributing to both balances
	// WHEN: the session is deleted
	// THEN: both balances fall back to their prior values purely by replay

	s := newTestStore()
	ctx := context.Background()
	bc := ledger.NewBalanceCalculator(s)

	require.NoError(t, s.SetInitialBalance(ctx, day, 40_000))
	require.NoError(t, s.AppendSession(ctx, paidSession("s1", "Ana", "Pedro", 25_000, 0, 35_000, ledger.PercentContribution(30))))

	cash, err := bc.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(65_000), cash)

	require.NoError(t, s.DeleteSession(ctx, day, "s1"))

	cash, err = bc.CashBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(40_000), cash)

	account, err := bc.AccountBalance(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(0), account)
}

// =============================================================================
// CONTRIBUTION MATH
// =============================================================================

func TestContribution_PercentRoundsToWholeUnits(t *testing.T) {
	// GIVEN: 20% of an odd total
	// THEN: the contribution rounds to whole guaraníes without float drift

	assert.Equal(t, ledger.Money(10_001), ledger.PercentContribution(20).Apply(50_003))
	assert.Equal(t, ledger.Money(15_000), ledger.PercentContribution(30).Apply(50_000))
	assert.Equal(t, ledger.Money(7_000), ledger.FixedContribution(7_000).Apply(50_000))
}
