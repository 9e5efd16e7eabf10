/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Wire-format types between the SPA and the daybook service. Amounts cross
  the wire as integer guaraníes, dates as YYYY-MM-DD strings. Conversion
  helpers keep the handlers thin.

SEE ALSO:
  - handlers.go: where these are read and written
*/
package api

import (
	"time"

	"github.com/sereno/clinic-ledger/daybook"
	"github.com/sereno/clinic-ledger/ledger"
)

// =============================================================================
// REQUEST DTOs
// =============================================================================

// ContributionDTO selects the clinic's share: "percent" with Points, or
// "fixed" with Amount.
type ContributionDTO struct {
	Kind   string `json:"kind"`
	Points int64  `json:"points,omitempty"`
	Amount int64  `json:"amount,omitempty"`
}

func (c ContributionDTO) toDomain() ledger.Contribution {
	if c.Kind == "fixed" {
		return ledger.FixedContribution(c.Amount)
	}
	return ledger.PercentContribution(c.Points)
}

type RegisterSessionRequest struct {
	Therapist           string          `json:"therapist"`
	Date                string          `json:"date"`
	PatientName         string          `json:"patientName"`
	CashToClinic        int64           `json:"cashToClinic"`
	TransferToTherapist int64           `json:"transferToTherapist"`
	TransferToClinic    int64           `json:"transferToClinic"`
	Contribution        ContributionDTO `json:"contribution"`

	// Optional combined flow: register the session and buy a package in one
	// request.
	Package *CreatePackageRequest `json:"package,omitempty"`
}

type RegisterCreditSessionRequest struct {
	Therapist   string `json:"therapist"`
	Date        string `json:"date"`
	PatientName string `json:"patientName"`
}

type CreatePackageRequest struct {
	PatientName         string          `json:"patientName"`
	Therapist           string          `json:"therapist"`
	TotalSessions       int             `json:"totalSessions"`
	CashToClinic        int64           `json:"cashToClinic"`
	TransferToTherapist int64           `json:"transferToTherapist"`
	TransferToClinic    int64           `json:"transferToClinic"`
	Contribution        ContributionDTO `json:"contribution"`
	Date                string          `json:"date"`
}

type AddExpenseRequest struct {
	Type      string `json:"type"`
	Concept   string `json:"concept"`
	Amount    int64  `json:"amount"`
	Date      string `json:"date"`
	Therapist string `json:"therapist,omitempty"`
}

type ConfirmRequest struct {
	Option       string `json:"option,omitempty"`
	DeclaredCash int64  `json:"declaredCash,omitempty"`
}

type SetInitialBalanceRequest struct {
	Amount  int64  `json:"amount"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// RESPONSE DTOs
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type SessionDTO struct {
	ID                  string `json:"id"`
	Therapist           string `json:"therapist"`
	Date                string `json:"date"`
	PatientName         string `json:"patientName"`
	CashToClinic        int64  `json:"cashToClinic"`
	TransferToTherapist int64  `json:"transferToTherapist"`
	TransferToClinic    int64  `json:"transferToClinic"`
	SessionValue        int64  `json:"sessionValue"`
	ClinicContribution  int64  `json:"clinicContribution"`
	TherapistFee        int64  `json:"therapistFee"`
	CreditUsed          bool   `json:"creditUsed"`
	OriginalPackageID   string `json:"originalPackageId,omitempty"`
	RemainingCredits    int    `json:"remainingCredits,omitempty"`
}

func toSessionDTO(s ledger.Session) SessionDTO {
	return SessionDTO{
		ID:                  s.ID,
		Therapist:           s.Therapist,
		Date:                s.Date.String(),
		PatientName:         s.PatientName,
		CashToClinic:        s.CashToClinic,
		TransferToTherapist: s.TransferToTherapist,
		TransferToClinic:    s.TransferToClinic,
		SessionValue:        s.SessionValue,
		ClinicContribution:  s.ClinicContribution,
		TherapistFee:        s.TherapistFee,
		CreditUsed:          s.CreditUsed,
		OriginalPackageID:   s.OriginalPackageID,
		RemainingCredits:    s.RemainingCredits,
	}
}

type ExpenseDTO struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Concept   string `json:"concept"`
	Amount    int64  `json:"amount"`
	Date      string `json:"date"`
	Therapist string `json:"therapist,omitempty"`
}

func toExpenseDTO(e ledger.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:        e.ID,
		Type:      string(e.Type),
		Concept:   e.Concept,
		Amount:    e.Amount,
		Date:      e.Date.String(),
		Therapist: e.Therapist,
	}
}

type PackageDTO struct {
	ID                  string `json:"id"`
	PatientName         string `json:"patientName"`
	Therapist           string `json:"therapist"`
	TotalSessions       int    `json:"totalSessions"`
	CashToClinic        int64  `json:"cashToClinic"`
	TransferToTherapist int64  `json:"transferToTherapist"`
	TransferToClinic    int64  `json:"transferToClinic"`
	SessionValue        int64  `json:"sessionValue"`
	ValuePerSession     int64  `json:"valuePerSession"`
	ClinicContribution  int64  `json:"clinicContribution"`
	TherapistFee        int64  `json:"therapistFee"`
	ContributionType    string `json:"contributionType"`
	PurchaseDate        string `json:"purchaseDate"`
	PurchaseTime        string `json:"purchaseTime"`
	CreatedBy           string `json:"createdBy"`
	Status              string `json:"status"`
}

func toPackageDTO(p ledger.PackagePurchase) PackageDTO {
	return PackageDTO{
		ID:                  p.ID,
		PatientName:         p.PatientName,
		Therapist:           p.Therapist,
		TotalSessions:       p.TotalSessions,
		CashToClinic:        p.CashToClinic,
		TransferToTherapist: p.TransferToTherapist,
		TransferToClinic:    p.TransferToClinic,
		SessionValue:        p.SessionValue,
		ValuePerSession:     p.ValuePerSession,
		ClinicContribution:  p.ClinicContribution,
		TherapistFee:        p.TherapistFee,
		ContributionType:    p.ContributionType,
		PurchaseDate:        p.PurchaseDate.String(),
		PurchaseTime:        p.PurchaseTime,
		CreatedBy:           string(p.CreatedBy),
		Status:              p.Status,
	}
}

type PaymentFlowDTO struct {
	CashUsed     int64  `json:"cashUsed"`
	BankOut      int64  `json:"bankOut"`
	BankIn       int64  `json:"bankIn"`
	CashReceived int64  `json:"cashReceived"`
	ChangeCash   int64  `json:"changeCash"`
	Option       string `json:"option,omitempty"`
}

func toFlowDTO(f ledger.PaymentFlow) PaymentFlowDTO {
	return PaymentFlowDTO{
		CashUsed:     f.CashUsed,
		BankOut:      f.BankOut,
		BankIn:       f.BankIn,
		CashReceived: f.CashReceived,
		ChangeCash:   f.ChangeCash,
		Option:       string(f.Option),
	}
}

type TherapistStatusDTO struct {
	Therapist           string         `json:"therapist"`
	Date                string         `json:"date"`
	Income              int64          `json:"income"`
	ClinicContribution  int64          `json:"clinicContribution"`
	Fee                 int64          `json:"fee"`
	TransferToTherapist int64          `json:"transferToTherapist"`
	AdvancesReceived    int64          `json:"advancesReceived"`
	ClinicOwes          int64          `json:"clinicOwes"`
	TherapistOwes       int64          `json:"therapistOwes"`
	State               string         `json:"state"`
	CashBalance         int64          `json:"cashBalance"`
	AccountBalance      int64          `json:"accountBalance"`
	Source              string         `json:"source"`
	ConfirmedAt         string         `json:"confirmedAt,omitempty"`
	Flow                PaymentFlowDTO `json:"flow"`
}

func toStatusDTO(s ledger.TherapistStatus) TherapistStatusDTO {
	dto := TherapistStatusDTO{
		Therapist:           s.Therapist,
		Date:                s.Date.String(),
		Income:              s.Income,
		ClinicContribution:  s.ClinicContribution,
		Fee:                 s.Fee,
		TransferToTherapist: s.TransferToTherapist,
		AdvancesReceived:    s.AdvancesReceived,
		ClinicOwes:          s.ClinicOwes,
		TherapistOwes:       s.TherapistOwes,
		State:               string(s.State),
		CashBalance:         s.CashBalance,
		AccountBalance:      s.AccountBalance,
		Source:              string(s.Source),
		Flow:                toFlowDTO(s.Flow),
	}
	if !s.ConfirmedAt.IsZero() {
		dto.ConfirmedAt = s.ConfirmedAt.Format(time.RFC3339)
	}
	return dto
}

type ConfirmationDTO struct {
	Therapist string         `json:"therapist"`
	Date      string         `json:"date"`
	Timestamp string         `json:"timestamp"`
	Amount    int64          `json:"amount"`
	State     string         `json:"state"`
	Flow      PaymentFlowDTO `json:"flow"`
}

func toConfirmationDTO(c ledger.Confirmation) ConfirmationDTO {
	return ConfirmationDTO{
		Therapist: c.Therapist,
		Date:      c.Date.String(),
		Timestamp: c.Timestamp.Format(time.RFC3339),
		Amount:    c.Amount,
		State:     string(c.State),
		Flow:      toFlowDTO(c.Flow),
	}
}

type BalanceDTO struct {
	Date    string `json:"date"`
	Cash    int64  `json:"cash"`
	Account int64  `json:"account"`
}

type DaySummaryDTO struct {
	Date       string               `json:"date"`
	Cash       int64                `json:"cash"`
	Account    int64                `json:"account"`
	Sessions   []SessionDTO         `json:"sessions"`
	Expenses   []ExpenseDTO         `json:"expenses"`
	Packages   []PackageDTO         `json:"packages"`
	Therapists []TherapistStatusDTO `json:"therapists"`
}

func toDaySummaryDTO(s daybook.DaySummary) DaySummaryDTO {
	dto := DaySummaryDTO{
		Date:       s.Date.String(),
		Cash:       s.CashBalance,
		Account:    s.AccountBalance,
		Sessions:   []SessionDTO{},
		Expenses:   []ExpenseDTO{},
		Packages:   []PackageDTO{},
		Therapists: []TherapistStatusDTO{},
	}
	for _, sess := range s.Sessions {
		dto.Sessions = append(dto.Sessions, toSessionDTO(sess))
	}
	for _, e := range s.Expenses {
		dto.Expenses = append(dto.Expenses, toExpenseDTO(e))
	}
	for _, p := range s.Packages {
		dto.Packages = append(dto.Packages, toPackageDTO(p))
	}
	for _, st := range s.Statuses {
		dto.Therapists = append(dto.Therapists, toStatusDTO(st))
	}
	return dto
}

type TransferLineDTO struct {
	ID          string `json:"id"`
	Direction   string `json:"direction"`
	Recipient   string `json:"recipient"`
	Amount      int64  `json:"amount"`
	Concept     string `json:"concept"`
	PatientName string `json:"patientName,omitempty"`
	Confirmed   bool   `json:"confirmed"`
}

type TransferGroupDTO struct {
	Recipient string            `json:"recipient"`
	Total     int64             `json:"total"`
	Lines     []TransferLineDTO `json:"lines"`
}

func toTransferGroupDTOs(groups []ledger.TransferGroup) []TransferGroupDTO {
	out := make([]TransferGroupDTO, 0, len(groups))
	for _, g := range groups {
		dto := TransferGroupDTO{Recipient: g.Recipient, Total: g.Total, Lines: []TransferLineDTO{}}
		for _, l := range g.Lines {
			dto.Lines = append(dto.Lines, TransferLineDTO{
				ID:          l.ID,
				Direction:   string(l.Direction),
				Recipient:   l.Recipient,
				Amount:      l.Amount,
				Concept:     l.Concept,
				PatientName: l.PatientName,
				Confirmed:   l.Confirmed,
			})
		}
		out = append(out, dto)
	}
	return out
}

type CreditEntryDTO struct {
	PackageID       string `json:"packageId"`
	Remaining       int    `json:"remaining"`
	Total           int    `json:"total"`
	PurchaseDate    string `json:"purchaseDate"`
	ValuePerSession int64  `json:"valuePerSession"`
	TotalValue      int64  `json:"totalValue"`
	Status          string `json:"status"`
}

type CreditSummaryDTO struct {
	PatientName    string           `json:"patientName"`
	Therapist      string           `json:"therapist"`
	TotalRemaining int              `json:"totalRemaining"`
	TotalOriginal  int              `json:"totalOriginal"`
	Entries        []CreditEntryDTO `json:"entries"`
}

func toCreditSummaryDTO(s ledger.CreditSummary) CreditSummaryDTO {
	dto := CreditSummaryDTO{
		PatientName:    s.PatientName,
		Therapist:      s.Therapist,
		TotalRemaining: s.TotalRemaining,
		TotalOriginal:  s.TotalOriginal,
		Entries:        []CreditEntryDTO{},
	}
	for _, e := range s.Entries {
		dto.Entries = append(dto.Entries, CreditEntryDTO{
			PackageID:       e.PackageID,
			Remaining:       e.Remaining,
			Total:           e.Total,
			PurchaseDate:    e.PurchaseDate.String(),
			ValuePerSession: e.ValuePerSession,
			TotalValue:      e.TotalValue,
			Status:          string(e.Status),
		})
	}
	return dto
}

type PatientCreditDTO struct {
	PatientName  string `json:"patientName"`
	Remaining    int    `json:"remaining"`
	Total        int    `json:"total"`
	PackageCount int    `json:"packageCount"`
}

type BalanceChangeDTO struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Previous  int64  `json:"previous"`
	New       int64  `json:"new"`
	Message   string `json:"message"`
}

type InitialBalanceDTO struct {
	Date    string             `json:"date"`
	Amount  int64              `json:"amount"`
	State   string             `json:"state"`
	History []BalanceChangeDTO `json:"history"`
}

func toInitialBalanceDTO(date ledger.Date, st daybook.InitialBalanceState) InitialBalanceDTO {
	dto := InitialBalanceDTO{
		Date:    date.String(),
		Amount:  st.Amount,
		State:   string(st.State),
		History: []BalanceChangeDTO{},
	}
	for _, h := range st.History {
		dto.History = append(dto.History, BalanceChangeDTO{
			Timestamp: h.Timestamp.Format(time.RFC3339),
			Action:    string(h.Action),
			Previous:  h.Previous,
			New:       h.New,
			Message:   h.Message,
		})
	}
	return dto
}
