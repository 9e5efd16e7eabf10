/*
Package daybook is the command/query service over the reconciliation engine.

PURPOSE:
  The ledger package holds pure derivations; this package owns the write
  path: input validation, id minting, cascading deletes, and the atomicity
  of multi-record commands (package + credits, session + package).

CONCURRENCY:
  A single mutex serializes all commands. The engine's correctness depends
  on a confirm reading and writing against a stable view of the day, and at
  clinic scale a single writer is the simplest thing that is obviously
  correct. Queries go straight to the store.

VALIDATION:
  Every command validates before the first store write. A failed write means
  the mutation did not happen.

SEE ALSO:
  - ledger: the derivation engine this drives
  - api: HTTP layer calling into this service
*/
package daybook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sereno/clinic-ledger/ledger"
)

// Service executes commands and queries against one record store.
type Service struct {
	mu sync.Mutex

	store       ledger.Store
	balances    *ledger.BalanceCalculator
	credits     *ledger.CreditLedger
	settlements *ledger.SettlementEngine
	transfers   *ledger.TransferTracker
	maintenance *ledger.Maintenance
}

func New(store ledger.Store) *Service {
	return &Service{
		store:       store,
		balances:    ledger.NewBalanceCalculator(store),
		credits:     ledger.NewCreditLedger(store),
		settlements: ledger.NewSettlementEngine(store),
		transfers:   ledger.NewTransferTracker(store),
		maintenance: ledger.NewMaintenance(store),
	}
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

// SessionInput describes a paid session registration.
type SessionInput struct {
	Therapist   string
	Date        ledger.Date
	PatientName string

	CashToClinic        ledger.Money
	TransferToTherapist ledger.Money
	TransferToClinic    ledger.Money

	Contribution ledger.Contribution
}

// RegisterSession validates and appends a paid session. SessionValue is the
// sum of the three payment legs; the clinic contribution is derived from
// the contribution rule, and the fee is the remainder.
func (s *Service) RegisterSession(ctx context.Context, in SessionInput) (ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateNames(in.Therapist, in.PatientName); err != nil {
		return ledger.Session{}, err
	}
	if in.Date.IsZero() {
		return ledger.Session{}, ledger.Invalidf("date", "is required")
	}
	if in.CashToClinic < 0 || in.TransferToTherapist < 0 || in.TransferToClinic < 0 {
		return ledger.Session{}, ledger.Invalidf("amount", "payment legs must be non-negative")
	}

	value := in.CashToClinic + in.TransferToTherapist + in.TransferToClinic
	if value <= 0 {
		return ledger.Session{}, ledger.Invalidf("amount", "session value must be positive")
	}

	contribution := in.Contribution.Apply(value)
	if contribution < 0 {
		contribution = 0
	}
	if contribution > value {
		contribution = value
	}

	session := ledger.Session{
		ID:                  uuid.NewString(),
		Therapist:           in.Therapist,
		Date:                in.Date,
		PatientName:         in.PatientName,
		CashToClinic:        in.CashToClinic,
		TransferToTherapist: in.TransferToTherapist,
		TransferToClinic:    in.TransferToClinic,
		SessionValue:        value,
		ClinicContribution:  contribution,
		TherapistFee:        value - contribution,
	}
	if err := s.store.AppendSession(ctx, session); err != nil {
		return ledger.Session{}, err
	}
	return session, nil
}

// RegisterCreditSession consumes one prepaid credit and registers a session
// with every monetary field zero. Fails with a no-credits error before any
// write when the pair holds no usable credit.
func (s *Service) RegisterCreditSession(ctx context.Context, therapist, patient string, date ledger.Date) (ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateNames(therapist, patient); err != nil {
		return ledger.Session{}, err
	}
	if date.IsZero() {
		return ledger.Session{}, ledger.Invalidf("date", "is required")
	}

	id := uuid.NewString()
	consumed, err := s.credits.ConsumeOne(ctx, patient, therapist, id, date)
	if err != nil {
		return ledger.Session{}, err
	}

	session := ledger.Session{
		ID:                id,
		Therapist:         therapist,
		Date:              date,
		PatientName:       patient,
		CreditUsed:        true,
		OriginalPackageID: consumed.PackageID,
		RemainingCredits:  consumed.RemainingInPackage,
	}
	if err := s.store.AppendSession(ctx, session); err != nil {
		// The credit was already taken; give it back so the failed command
		// leaves no trace.
		_ = s.credits.ReverseOne(ctx, patient, therapist)
		return ledger.Session{}, err
	}
	return session, nil
}

// DeleteSession removes a session and cascades: a consumed credit is
// restored, and any confirmation for that therapist/day is dropped so the
// settlement recomputes live. Once the session is gone the confirmation
// cleanup runs even if the credit reversal fails; a frozen snapshot must
// never outlive the records it was computed from.
func (s *Service) DeleteSession(ctx context.Context, date ledger.Date, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.store.Session(ctx, date, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, date, id); err != nil {
		return err
	}

	var creditErr error
	if session.CreditUsed {
		creditErr = s.credits.ReverseOne(ctx, session.PatientName, session.Therapist)
	}
	return errors.Join(creditErr, s.store.DeleteConfirmation(ctx, date, session.Therapist))
}

// =============================================================================
// PACKAGE COMMANDS
// =============================================================================

// PackageInput describes a prepaid package purchase.
type PackageInput struct {
	PatientName   string
	Therapist     string
	TotalSessions int

	CashToClinic        ledger.Money
	TransferToTherapist ledger.Money
	TransferToClinic    ledger.Money

	Contribution ledger.Contribution
	PurchaseDate ledger.Date
	CreatedBy    ledger.PackageOrigin
}

const maxPackageSessions = 50

// CreatePackage validates, mints the next sequential PK-NNN id, records the
// purchase, and creates the matching credits. The purchase and its credits
// stand or fall together.
func (s *Service) CreatePackage(ctx context.Context, in PackageInput) (ledger.PackagePurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createPackageLocked(ctx, in)
}

func (s *Service) createPackageLocked(ctx context.Context, in PackageInput) (ledger.PackagePurchase, error) {
	if err := validateNames(in.Therapist, in.PatientName); err != nil {
		return ledger.PackagePurchase{}, err
	}
	if in.PurchaseDate.IsZero() {
		return ledger.PackagePurchase{}, ledger.Invalidf("date", "is required")
	}
	if in.TotalSessions < 1 || in.TotalSessions > maxPackageSessions {
		return ledger.PackagePurchase{}, ledger.Invalidf("sessions", "must be between 1 and %d, got %d", maxPackageSessions, in.TotalSessions)
	}
	if in.CashToClinic < 0 || in.TransferToTherapist < 0 || in.TransferToClinic < 0 {
		return ledger.PackagePurchase{}, ledger.Invalidf("amount", "payment legs must be non-negative")
	}

	value := in.CashToClinic + in.TransferToTherapist + in.TransferToClinic
	if value <= 0 {
		return ledger.PackagePurchase{}, ledger.Invalidf("amount", "package value must be positive")
	}

	contribution := in.Contribution.Apply(value)
	if contribution < 0 {
		contribution = 0
	}
	if contribution > value {
		contribution = value
	}

	count, err := s.store.PackageCount(ctx)
	if err != nil {
		return ledger.PackagePurchase{}, err
	}

	origin := in.CreatedBy
	if origin == "" {
		origin = ledger.OriginIndependent
	}

	pkg := ledger.PackagePurchase{
		ID:                  fmt.Sprintf("PK-%03d", count+1),
		PatientName:         in.PatientName,
		Therapist:           in.Therapist,
		TotalSessions:       in.TotalSessions,
		CashToClinic:        in.CashToClinic,
		TransferToTherapist: in.TransferToTherapist,
		TransferToClinic:    in.TransferToClinic,
		SessionValue:        value,
		ValuePerSession:     value / ledger.Money(in.TotalSessions),
		ClinicContribution:  contribution,
		TherapistFee:        value - contribution,
		ContributionType:    in.Contribution.String(),
		PurchaseDate:        in.PurchaseDate,
		PurchaseTime:        time.Now().Format("15:04"),
		CreatedBy:           origin,
		Status:              "active",
	}

	if err := s.store.AppendPackage(ctx, pkg); err != nil {
		return ledger.PackagePurchase{}, err
	}
	if err := s.credits.CreateCredits(ctx, in.PatientName, in.Therapist,
		in.TotalSessions, pkg.ID, pkg.ValuePerSession, value, in.PurchaseDate); err != nil {
		// Withdraw the purchase so the command leaves no half-applied state.
		_ = s.store.DeletePackage(ctx, in.PurchaseDate, pkg.ID)
		return ledger.PackagePurchase{}, err
	}
	return pkg, nil
}

// DeletePackage removes a purchase and cascades: the package's credits are
// withdrawn and the therapist/day confirmation is dropped.
func (s *Service) DeletePackage(ctx context.Context, date ledger.Date, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg, err := s.store.Package(ctx, date, id)
	if err != nil {
		return err
	}
	if err := s.store.DeletePackage(ctx, date, id); err != nil {
		return err
	}
	if err := s.credits.DeleteForPackage(ctx, pkg.PatientName, pkg.Therapist, pkg.ID); err != nil {
		return err
	}
	return s.store.DeleteConfirmation(ctx, date, pkg.Therapist)
}

// RegisterSessionWithPackage registers a paid session and creates an
// additional package for the same pair in one command (the "session plus
// package" front-desk flow).
func (s *Service) RegisterSessionWithPackage(ctx context.Context, sessionIn SessionInput, pkgIn PackageInput) (ledger.Session, ledger.PackagePurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateNames(sessionIn.Therapist, sessionIn.PatientName); err != nil {
		return ledger.Session{}, ledger.PackagePurchase{}, err
	}
	if sessionIn.Date.IsZero() {
		return ledger.Session{}, ledger.PackagePurchase{}, ledger.Invalidf("date", "is required")
	}

	value := sessionIn.CashToClinic + sessionIn.TransferToTherapist + sessionIn.TransferToClinic
	if value <= 0 {
		return ledger.Session{}, ledger.PackagePurchase{}, ledger.Invalidf("amount", "session value must be positive")
	}

	contribution := sessionIn.Contribution.Apply(value)
	if contribution < 0 {
		contribution = 0
	}
	if contribution > value {
		contribution = value
	}

	session := ledger.Session{
		ID:                  uuid.NewString(),
		Therapist:           sessionIn.Therapist,
		Date:                sessionIn.Date,
		PatientName:         sessionIn.PatientName,
		CashToClinic:        sessionIn.CashToClinic,
		TransferToTherapist: sessionIn.TransferToTherapist,
		TransferToClinic:    sessionIn.TransferToClinic,
		SessionValue:        value,
		ClinicContribution:  contribution,
		TherapistFee:        value - contribution,
	}

	pkgIn.CreatedBy = ledger.OriginSessionAdditional
	pkg, err := s.createPackageLocked(ctx, pkgIn)
	if err != nil {
		return ledger.Session{}, ledger.PackagePurchase{}, err
	}

	if err := s.store.AppendSession(ctx, session); err != nil {
		_ = s.credits.DeleteForPackage(ctx, pkg.PatientName, pkg.Therapist, pkg.ID)
		_ = s.store.DeletePackage(ctx, pkg.PurchaseDate, pkg.ID)
		return ledger.Session{}, ledger.PackagePurchase{}, err
	}
	return session, pkg, nil
}

// =============================================================================
// EXPENSE COMMANDS
// =============================================================================

// ExpenseInput describes cash leaving the drawer.
type ExpenseInput struct {
	Type      ledger.ExpenseType
	Concept   string
	Amount    ledger.Money
	Date      ledger.Date
	Therapist string
}

func (s *Service) AddExpense(ctx context.Context, in ExpenseInput) (ledger.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Type != ledger.ExpenseAdvance && in.Type != ledger.ExpenseClinic {
		return ledger.Expense{}, ledger.Invalidf("type", "unknown expense type %q", in.Type)
	}
	if strings.TrimSpace(in.Concept) == "" {
		return ledger.Expense{}, ledger.Invalidf("concept", "is required")
	}
	if in.Amount <= 0 {
		return ledger.Expense{}, ledger.Invalidf("amount", "must be positive, got %d", in.Amount)
	}
	if in.Date.IsZero() {
		return ledger.Expense{}, ledger.Invalidf("date", "is required")
	}
	if in.Type == ledger.ExpenseAdvance && strings.TrimSpace(in.Therapist) == "" {
		return ledger.Expense{}, ledger.Invalidf("therapist", "is required for an advance")
	}

	expense := ledger.Expense{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Concept:   in.Concept,
		Amount:    in.Amount,
		Date:      in.Date,
		Therapist: in.Therapist,
	}
	if err := s.store.AppendExpense(ctx, expense); err != nil {
		return ledger.Expense{}, err
	}
	return expense, nil
}

func (s *Service) DeleteExpense(ctx context.Context, date ledger.Date, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteExpense(ctx, date, id)
}

// =============================================================================
// SETTLEMENT COMMANDS
// =============================================================================

func (s *Service) Confirm(ctx context.Context, therapist string, date ledger.Date, option ledger.PayOption, declaredCash ledger.Money) (ledger.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(therapist) == "" {
		return ledger.Confirmation{}, ledger.Invalidf("therapist", "name is required")
	}
	return s.settlements.Confirm(ctx, therapist, date, option, declaredCash)
}

func (s *Service) Revert(ctx context.Context, therapist string, date ledger.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settlements.Revert(ctx, therapist, date)
}

// =============================================================================
// OPENING BALANCE
// =============================================================================

// SetInitialBalance sets the day's opening cash. A history entry is written
// only when the value actually changes; the first write is a "set", later
// ones "edited". History is capped at the newest MaxBalanceHistory entries.
func (s *Service) SetInitialBalance(ctx context.Context, date ledger.Date, amount ledger.Money, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount < 0 {
		return ledger.Invalidf("amount", "must be non-negative, got %d", amount)
	}
	if date.IsZero() {
		return ledger.Invalidf("date", "is required")
	}

	current, err := s.store.InitialBalance(ctx, date)
	if err != nil {
		return err
	}
	history, err := s.store.BalanceHistory(ctx, date)
	if err != nil {
		return err
	}

	if len(history) > 0 && current == amount {
		return nil
	}

	if err := s.store.SetInitialBalance(ctx, date, amount); err != nil {
		return err
	}

	action := ledger.BalanceEdited
	if len(history) == 0 {
		action = ledger.BalanceSet
	}
	if message == "" {
		message = fmt.Sprintf("opening balance %s", action)
	}
	change := ledger.BalanceChange{
		Timestamp: time.Now(),
		Action:    action,
		Previous:  current,
		New:       amount,
		Message:   message,
	}

	if len(history) >= ledger.MaxBalanceHistory {
		history = append(history, change)
		history = history[len(history)-ledger.MaxBalanceHistory:]
		return s.store.ReplaceBalanceHistory(ctx, date, history)
	}
	return s.store.AppendBalanceChange(ctx, date, change)
}

// =============================================================================
// TRANSFER CONFIRMATION
// =============================================================================

func (s *Service) ToggleTransfer(ctx context.Context, lineID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers.Toggle(ctx, lineID)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Sweep purges records older than the retention window and returns the
// number of dates removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintenance.SweepOld(ctx, ledger.Today())
}

// Heal runs the package and balance-history integrity passes.
func (s *Service) Heal(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.maintenance.HealPackages(ctx); err != nil {
		return err
	}
	_, err := s.maintenance.HealBalanceHistory(ctx)
	return err
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) CashBalance(ctx context.Context, date ledger.Date) (ledger.Money, error) {
	return s.balances.CashBalance(ctx, date)
}

func (s *Service) AccountBalance(ctx context.Context, date ledger.Date) (ledger.Money, error) {
	return s.balances.AccountBalance(ctx, date)
}

func (s *Service) TherapistStatus(ctx context.Context, therapist string, date ledger.Date) (ledger.TherapistStatus, error) {
	return s.settlements.ComputeStatus(ctx, therapist, date)
}

// TherapistsWithActivity lists every therapist appearing in the day's
// sessions, packages, or advances, sorted.
func (s *Service) TherapistsWithActivity(ctx context.Context, date ledger.Date) ([]string, error) {
	sessions, err := s.store.Sessions(ctx, date)
	if err != nil {
		return nil, err
	}
	packages, err := s.store.Packages(ctx, date)
	if err != nil {
		return nil, err
	}
	expenses, err := s.store.Expenses(ctx, date)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, sess := range sessions {
		seen[sess.Therapist] = true
	}
	for _, p := range packages {
		seen[p.Therapist] = true
	}
	for _, e := range expenses {
		if e.Type == ledger.ExpenseAdvance && e.Therapist != "" {
			seen[e.Therapist] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DaySummary is the full reconciliation view for one day.
type DaySummary struct {
	Date           ledger.Date
	CashBalance    ledger.Money
	AccountBalance ledger.Money
	Sessions       []ledger.Session
	Expenses       []ledger.Expense
	Packages       []ledger.PackagePurchase
	Statuses       []ledger.TherapistStatus
}

func (s *Service) DaySummary(ctx context.Context, date ledger.Date) (DaySummary, error) {
	summary := DaySummary{Date: date}

	var err error
	if summary.CashBalance, err = s.balances.CashBalance(ctx, date); err != nil {
		return DaySummary{}, err
	}
	if summary.AccountBalance, err = s.balances.AccountBalance(ctx, date); err != nil {
		return DaySummary{}, err
	}
	if summary.Sessions, err = s.store.Sessions(ctx, date); err != nil {
		return DaySummary{}, err
	}
	if summary.Expenses, err = s.store.Expenses(ctx, date); err != nil {
		return DaySummary{}, err
	}
	if summary.Packages, err = s.store.Packages(ctx, date); err != nil {
		return DaySummary{}, err
	}

	therapists, err := s.TherapistsWithActivity(ctx, date)
	if err != nil {
		return DaySummary{}, err
	}
	for _, name := range therapists {
		status, err := s.settlements.ComputeStatus(ctx, name, date)
		if err != nil {
			return DaySummary{}, err
		}
		summary.Statuses = append(summary.Statuses, status)
	}
	return summary, nil
}

func (s *Service) Transfers(ctx context.Context, date ledger.Date) ([]ledger.TransferGroup, error) {
	return s.transfers.Grouped(ctx, date)
}

func (s *Service) CreditsAvailable(ctx context.Context, patient, therapist string) (ledger.CreditSummary, error) {
	return s.credits.Available(ctx, patient, therapist)
}

func (s *Service) PatientsWithCredit(ctx context.Context, therapist string) ([]ledger.PatientCredit, error) {
	return s.credits.PatientsWithCredit(ctx, therapist)
}

// InitialBalanceState is the opening balance with its display state.
type InitialBalanceState struct {
	Amount  ledger.Money
	State   ledger.BalanceDisplayState
	History []ledger.BalanceChange
}

func (s *Service) InitialBalanceState(ctx context.Context, date ledger.Date) (InitialBalanceState, error) {
	amount, err := s.store.InitialBalance(ctx, date)
	if err != nil {
		return InitialBalanceState{}, err
	}
	history, err := s.store.BalanceHistory(ctx, date)
	if err != nil {
		return InitialBalanceState{}, err
	}

	state := ledger.BalanceUnset
	switch {
	case len(history) == 1:
		state = ledger.BalanceSetOnce
	case len(history) > 1:
		state = ledger.BalanceEditedN
	}

	return InitialBalanceState{Amount: amount, State: state, History: history}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func validateNames(therapist, patient string) error {
	if strings.TrimSpace(therapist) == "" {
		return ledger.Invalidf("therapist", "name is required")
	}
	if strings.TrimSpace(patient) == "" {
		return ledger.Invalidf("patient", "name is required")
	}
	return nil
}
