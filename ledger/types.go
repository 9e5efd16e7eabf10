/*
Package ledger provides the core daily reconciliation engine.

PURPOSE:
  This package contains the types and pure derivation functions that turn a
  day's raw records (sessions, expenses, package purchases, confirmations,
  opening balance) into computed views: cash-on-hand, clinic account balance,
  and per-therapist settlement status.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a non-negative amount in whole guaraníes (no decimal subdivision)
  - Date: a local-calendar day, the bucket key for every daily collection
  - Session / Expense / PackagePurchase: the immutable daily records
  - Confirmation: a frozen settlement snapshot created when money changes hands
  - Contribution: the clinic's share of a session (fixed amount or percentage)

DESIGN PRINCIPLES:
  1. No stored running balances: every balance is recomputed by replaying the
     day's records. Deleting a record or reverting a confirmation never needs
     a compensating write.
  2. Records are created and deleted, never mutated.
  3. Strong typing for states and options prevents stringly-typed drift.

SEE ALSO:
  - balance.go: cash/account balance replay
  - settlement.go: per-therapist status and the confirm/revert protocol
  - credit.go: prepaid session packages (credits)
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Whole guaraníes, no decimal subdivision
// =============================================================================

// Money is an amount in guaraníes. All stored amounts are non-negative;
// signed intermediates (settlement net) use plain int64 arithmetic.
type Money = int64

// =============================================================================
// DATE - Local calendar day (bucket key for all daily collections)
// =============================================================================

// Date is a calendar day in the clinic's local time zone. It is comparable
// and safe to use as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// Today returns the current local calendar day. Retention and day bucketing
// follow the wall clock, not UTC.
func Today() Date {
	now := time.Now()
	return NewDate(now.Year(), now.Month(), now.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return Date{}, err
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.Local)
}

func (d Date) String() string { return d.time().Format("2006-01-02") }

func (d Date) Before(other Date) bool { return d.time().Before(other.time()) }
func (d Date) After(other Date) bool  { return d.time().After(other.time()) }
func (d Date) IsZero() bool           { return d == Date{} }

func (d Date) AddDays(n int) Date {
	t := d.time().AddDate(0, 0, n)
	return NewDate(t.Year(), t.Month(), t.Day())
}

// =============================================================================
// CONTRIBUTION - Clinic's share of a session or package
// =============================================================================

type ContributionKind string

const (
	ContributionPercent ContributionKind = "percent"
	ContributionFixed   ContributionKind = "fixed"
)

// Contribution describes how the clinic's share is derived from a total.
// Percent is expressed in whole points (20 means 20%).
type Contribution struct {
	Kind    ContributionKind
	Percent int64
	Fixed   Money
}

func PercentContribution(points int64) Contribution {
	return Contribution{Kind: ContributionPercent, Percent: points}
}

func FixedContribution(amount Money) Contribution {
	return Contribution{Kind: ContributionFixed, Fixed: amount}
}

// Apply computes the clinic contribution for a total value. Percentage math
// goes through decimal so 20% of odd totals rounds to whole guaraníes
// instead of drifting through float64.
func (c Contribution) Apply(total Money) Money {
	switch c.Kind {
	case ContributionFixed:
		return c.Fixed
	default:
		v := decimal.NewFromInt(total).
			Mul(decimal.NewFromInt(c.Percent)).
			Div(decimal.NewFromInt(100)).
			Round(0)
		return v.IntPart()
	}
}

// String renders the contribution the way records store it: the percentage
// points ("20", "30") or "fixed".
func (c Contribution) String() string {
	if c.Kind == ContributionFixed {
		return "fixed"
	}
	return decimal.NewFromInt(c.Percent).String()
}

// =============================================================================
// SESSION - One therapy session registered for a day
// =============================================================================

// Session is owned by its day bucket. It is created on registration and
// destroyed on explicit delete or the retention sweep; never mutated.
type Session struct {
	ID          string
	Therapist   string
	Date        Date
	PatientName string

	// Payment split. SessionValue = CashToClinic + TransferToTherapist +
	// TransferToClinic.
	CashToClinic        Money
	TransferToTherapist Money
	TransferToClinic    Money
	SessionValue        Money

	ClinicContribution Money
	TherapistFee       Money

	// Credit-funded sessions have every monetary field forced to zero and
	// carry a back-reference to the package the credit came from.
	CreditUsed        bool
	OriginalPackageID string
	RemainingCredits  int
}

// =============================================================================
// EXPENSE - Cash leaving the drawer
// =============================================================================

type ExpenseType string

const (
	// ExpenseAdvance is money handed to a therapist ahead of settlement;
	// it is netted against that therapist's fee for the day.
	ExpenseAdvance ExpenseType = "advance"
	// ExpenseClinic is an operating expense of the clinic itself.
	ExpenseClinic ExpenseType = "clinic-expense"
)

type Expense struct {
	ID        string
	Type      ExpenseType
	Concept   string
	Amount    Money
	Date      Date
	Therapist string // required iff Type == ExpenseAdvance
}

// =============================================================================
// PACKAGE PURCHASE - Prepaid bundle of sessions
// =============================================================================

// PackageOrigin records which flow created a package.
type PackageOrigin string

const (
	OriginIndependent       PackageOrigin = "independent"
	OriginSessionAdditional PackageOrigin = "session_additional"
	OriginSessionCombined   PackageOrigin = "session_combined"
)

// PackagePurchase is the purchase record; the prepaid units themselves live
// in the credit ledger as CreditEntry rows of equal quantity.
//
// Invariants: ClinicContribution <= SessionValue and
// TherapistFee = SessionValue - ClinicContribution.
type PackagePurchase struct {
	ID            string
	PatientName   string
	Therapist     string
	TotalSessions int

	CashToClinic        Money
	TransferToTherapist Money
	TransferToClinic    Money

	// SessionValue is the total package price; ValuePerSession is the
	// per-credit slice of it.
	SessionValue    Money
	ValuePerSession Money

	ClinicContribution Money
	TherapistFee       Money
	ContributionType   string

	PurchaseDate Date
	PurchaseTime string
	CreatedBy    PackageOrigin
	Status       string
}

// =============================================================================
// CREDIT ENTRY - Prepaid session units per (patient, therapist)
// =============================================================================

type CreditStatus string

const (
	CreditActive CreditStatus = "active"
	CreditUsed   CreditStatus = "used"
)

// CreditUsage is one consumption event on a credit entry.
type CreditUsage struct {
	SessionID      string
	Date           Date
	RemainingAfter int
	At             time.Time
}

// CreditEntry is one package's worth of prepaid sessions for a
// (patient, therapist) pair. A pair may hold several concurrent entries;
// they are always stored as an ordered list, even when there is one.
type CreditEntry struct {
	PackageID       string
	PatientName     string
	Therapist       string
	Remaining       int
	Total           int
	PurchaseDate    Date
	ValuePerSession Money
	TotalValue      Money
	Status          CreditStatus
	UsageHistory    []CreditUsage
}

// =============================================================================
// SETTLEMENT - Per-therapist, per-day state
// =============================================================================

// State classifies a therapist's settlement for a day.
type State string

const (
	// StateSettled: nothing owed in either direction.
	StateSettled State = "SETTLED"
	// StateTherapistOwes: the therapist must hand money to the clinic.
	StateTherapistOwes State = "THERAPIST_OWES"
	// StateInsufficientFunds: the clinic owes more than cash + account hold.
	StateInsufficientFunds State = "INSUFFICIENT_FUNDS"
	// StatePayCash: the drawer alone covers what the clinic owes.
	StatePayCash State = "PAY_CASH"
	// StatePayCashAndTransfer: drawer partially covers it; rest by transfer.
	StatePayCashAndTransfer State = "PAY_CASH_AND_TRANSFER"
	// StateTransferOnly: drawer is empty; pay entirely by transfer.
	StateTransferOnly State = "TRANSFER_ONLY"
)

// PayOption selects how a confirmed payment is executed.
type PayOption string

const (
	// OptionExact: hand over exactly the owed amount.
	OptionExact PayOption = "exact"
	// OptionChangeByTransfer: hand over more cash; the excess returns to the
	// clinic account as a transfer from the therapist.
	OptionChangeByTransfer PayOption = "change-by-transfer"
	// OptionChangeInCash: hand over a larger bill; change comes back to the
	// drawer in cash.
	OptionChangeInCash PayOption = "change-in-cash"
	// OptionTransferInstead: pay (or collect) by bank transfer even though
	// cash would cover it.
	OptionTransferInstead PayOption = "transfer-instead"
)

// PaymentFlow records where the money moved at confirmation time.
//
// The bank leg is split into explicit out/in fields instead of a signed
// amount: BankOut leaves the clinic account, BankIn enters it (a therapist
// paying a debt by transfer).
type PaymentFlow struct {
	CashUsed     Money
	BankOut      Money
	BankIn       Money
	CashReceived Money
	ChangeCash   Money
	Option       PayOption
}

// StatusSource says whether a status was computed live or thawed from a
// confirmation's frozen snapshot.
type StatusSource string

const (
	SourceLive   StatusSource = "live"
	SourceFrozen StatusSource = "frozen"
)

// TherapistStatus is the settlement view for one therapist on one day.
type TherapistStatus struct {
	Therapist string
	Date      Date

	Income              Money
	ClinicContribution  Money
	Fee                 Money
	TransferToTherapist Money
	AdvancesReceived    Money

	// Exactly one of these is non-zero (both zero when settled).
	ClinicOwes    Money
	TherapistOwes Money

	State State

	// Balances used for the funding classification.
	CashBalance    Money
	AccountBalance Money

	Source      StatusSource
	ConfirmedAt time.Time   // zero unless Source == SourceFrozen
	Flow        PaymentFlow // zero value unless Source == SourceFrozen
}

// Confirmed reports whether this status is frozen by a confirmation.
func (s TherapistStatus) Confirmed() bool { return s.Source == SourceFrozen }

// Confirmation freezes a settlement at the moment money changes hands.
// Later edits to the day's records do not alter a confirmed settlement;
// revert deletes the confirmation and computation goes live again.
type Confirmation struct {
	Therapist string
	Date      Date
	Timestamp time.Time
	Amount    Money
	State     State
	Flow      PaymentFlow
	Frozen    TherapistStatus
}

// =============================================================================
// INITIAL BALANCE - Manually set opening cash, with bounded edit history
// =============================================================================

type BalanceAction string

const (
	BalanceSet    BalanceAction = "set"
	BalanceEdited BalanceAction = "edited"
)

// BalanceChange is one entry in a date's opening-balance history. The
// history is append-only and capped at MaxBalanceHistory entries.
type BalanceChange struct {
	Timestamp time.Time
	Action    BalanceAction
	Previous  Money
	New       Money
	Message   string
}

// MaxBalanceHistory bounds the per-date opening balance history.
const MaxBalanceHistory = 10

// BalanceDisplayState classifies how a date's opening balance should render.
type BalanceDisplayState string

const (
	BalanceUnset   BalanceDisplayState = "unset"
	BalanceSetOnce BalanceDisplayState = "set-once"
	BalanceEditedN BalanceDisplayState = "edited"
)

// =============================================================================
// TRANSFER LINES - Derived, UI-facing
// =============================================================================

type TransferDirection string

const (
	TransferToClinicDir    TransferDirection = "to-clinic"
	TransferToTherapistDir TransferDirection = "to-therapist"
	TransferChangeDir      TransferDirection = "change"
)

// TransferLine is a derived line item; it owns no money of its own. Its ID
// is stable across recomputation so the per-line confirmation checkbox can
// key off it.
type TransferLine struct {
	ID          string
	Direction   TransferDirection
	Recipient   string
	Amount      Money
	Concept     string
	PatientName string
	Confirmed   bool
}
