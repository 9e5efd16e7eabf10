/*
handlers.go - HTTP handlers for the daily reconciliation API

PURPOSE:
  Exposes the daybook service over REST. Handlers parse and validate the
  wire format, delegate to the service, and map engine errors onto HTTP
  status codes.

ERROR MAPPING:
  400: validation failures, malformed dates/bodies
  404: missing records
  409: insufficient funds, no credits, already/not confirmed, change too small
  500: everything else

SEE ALSO:
  - dto.go: wire types and converters
  - server.go: router wiring
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sereno/clinic-ledger/daybook"
	"github.com/sereno/clinic-ledger/ledger"
)

// Handler holds the daybook service behind every endpoint.
type Handler struct {
	Service *daybook.Service
}

func NewHandler(service *daybook.Service) *Handler {
	return &Handler{Service: service}
}

// =============================================================================
// DAY VIEWS
// =============================================================================

// GetDaySummary returns balances, records, and per-therapist statuses.
// GET /api/days/{date}/summary
func (h *Handler) GetDaySummary(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	summary, err := h.Service.DaySummary(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDaySummaryDTO(summary))
}

// GetBalance returns the day's cash and account balances.
// GET /api/days/{date}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	cash, err := h.Service.CashBalance(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	account, err := h.Service.AccountBalance(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Date: date.String(), Cash: cash, Account: account})
}

// ListTherapists returns the day's therapists with their settlement status.
// GET /api/days/{date}/therapists
func (h *Handler) ListTherapists(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	names, err := h.Service.TherapistsWithActivity(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	statuses := make([]TherapistStatusDTO, 0, len(names))
	for _, name := range names {
		status, err := h.Service.TherapistStatus(r.Context(), name, date)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		statuses = append(statuses, toStatusDTO(status))
	}
	writeJSON(w, http.StatusOK, statuses)
}

// GetTransfers returns the day's transfer lines grouped by recipient.
// GET /api/days/{date}/transfers
func (h *Handler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	groups, err := h.Service.Transfers(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferGroupDTOs(groups))
}

// =============================================================================
// OPENING BALANCE
// =============================================================================

// SetInitialBalance sets the day's opening cash.
// PUT /api/days/{date}/initial-balance
func (h *Handler) SetInitialBalance(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	var req SetInitialBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Service.SetInitialBalance(r.Context(), date, req.Amount, req.Message); err != nil {
		writeEngineError(w, err)
		return
	}
	h.GetInitialBalance(w, r)
}

// GetInitialBalance returns the opening cash with display state and history.
// GET /api/days/{date}/initial-balance
func (h *Handler) GetInitialBalance(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	state, err := h.Service.InitialBalanceState(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInitialBalanceDTO(date, state))
}

// =============================================================================
// SESSIONS
// =============================================================================

// RegisterSession registers a paid session, optionally with a combined
// package purchase.
// POST /api/sessions
func (h *Handler) RegisterSession(w http.ResponseWriter, r *http.Request) {
	var req RegisterSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	in := daybook.SessionInput{
		Therapist:           req.Therapist,
		Date:                date,
		PatientName:         req.PatientName,
		CashToClinic:        req.CashToClinic,
		TransferToTherapist: req.TransferToTherapist,
		TransferToClinic:    req.TransferToClinic,
		Contribution:        req.Contribution.toDomain(),
	}

	if req.Package != nil {
		pkgIn, err := packageInput(*req.Package)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid package", err)
			return
		}
		session, pkg, err := h.Service.RegisterSessionWithPackage(r.Context(), in, pkgIn)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"session": toSessionDTO(session),
			"package": toPackageDTO(pkg),
		})
		return
	}

	session, err := h.Service.RegisterSession(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

// RegisterCreditSession registers a session funded by a prepaid credit.
// POST /api/sessions/credit
func (h *Handler) RegisterCreditSession(w http.ResponseWriter, r *http.Request) {
	var req RegisterCreditSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	session, err := h.Service.RegisterCreditSession(r.Context(), req.Therapist, req.PatientName, date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

// DeleteSession removes a session with its cascades.
// DELETE /api/sessions/{id}?date=YYYY-MM-DD
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateQuery(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteSession(r.Context(), date, chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PACKAGES
// =============================================================================

// CreatePackage records a package purchase and mints its credits.
// POST /api/packages
func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req CreatePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := packageInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	pkg, err := h.Service.CreatePackage(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPackageDTO(pkg))
}

// DeletePackage removes a purchase with its cascades.
// DELETE /api/packages/{id}?date=YYYY-MM-DD
func (h *Handler) DeletePackage(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateQuery(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeletePackage(r.Context(), date, chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EXPENSES
// =============================================================================

// AddExpense records cash leaving the drawer.
// POST /api/expenses
func (h *Handler) AddExpense(w http.ResponseWriter, r *http.Request) {
	var req AddExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	expense, err := h.Service.AddExpense(r.Context(), daybook.ExpenseInput{
		Type:      ledger.ExpenseType(req.Type),
		Concept:   req.Concept,
		Amount:    req.Amount,
		Date:      date,
		Therapist: req.Therapist,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(expense))
}

// DeleteExpense removes an expense.
// DELETE /api/expenses/{id}?date=YYYY-MM-DD
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateQuery(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteExpense(r.Context(), date, chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// GetSettlement returns the settlement status for a therapist/day.
// GET /api/settlements/{date}/{therapist}
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	status, err := h.Service.TherapistStatus(r.Context(), chi.URLParam(r, "therapist"), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(status))
}

// ConfirmSettlement freezes the settlement for a therapist/day.
// POST /api/settlements/{date}/{therapist}/confirm
func (h *Handler) ConfirmSettlement(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	var req ConfirmRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	conf, err := h.Service.Confirm(r.Context(), chi.URLParam(r, "therapist"), date,
		ledger.PayOption(req.Option), req.DeclaredCash)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConfirmationDTO(conf))
}

// RevertSettlement deletes the confirmation; status goes live again.
// POST /api/settlements/{date}/{therapist}/revert
func (h *Handler) RevertSettlement(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	if err := h.Service.Revert(r.Context(), chi.URLParam(r, "therapist"), date); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CREDITS
// =============================================================================

// GetCredits returns the credit summary for a (patient, therapist) pair.
// GET /api/credits/{patient}/{therapist}
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.CreditsAvailable(r.Context(),
		chi.URLParam(r, "patient"), chi.URLParam(r, "therapist"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditSummaryDTO(summary))
}

// ListPatientsWithCredit lists patients holding unused credits with a
// therapist.
// GET /api/credits?therapist=NAME
func (h *Handler) ListPatientsWithCredit(w http.ResponseWriter, r *http.Request) {
	therapist := r.URL.Query().Get("therapist")
	if therapist == "" {
		writeError(w, http.StatusBadRequest, "Missing therapist query parameter", nil)
		return
	}

	patients, err := h.Service.PatientsWithCredit(r.Context(), therapist)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]PatientCreditDTO, 0, len(patients))
	for _, p := range patients {
		dtos = append(dtos, PatientCreditDTO{
			PatientName:  p.PatientName,
			Remaining:    p.Remaining,
			Total:        p.Total,
			PackageCount: p.PackageCount,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSFER CONFIRMATION + ADMIN
// =============================================================================

// ToggleTransfer flips a transfer line's confirmation checkbox.
// POST /api/transfers/{id}/toggle
func (h *Handler) ToggleTransfer(w http.ResponseWriter, r *http.Request) {
	confirmed, err := h.Service.ToggleTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"confirmed": confirmed})
}

// TriggerSweep runs the retention sweep now.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	purged, err := h.Service.Sweep(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purgedDates": purged})
}

// =============================================================================
// HELPERS
// =============================================================================

func packageInput(req CreatePackageRequest) (daybook.PackageInput, error) {
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		return daybook.PackageInput{}, err
	}
	return daybook.PackageInput{
		PatientName:         req.PatientName,
		Therapist:           req.Therapist,
		TotalSessions:       req.TotalSessions,
		CashToClinic:        req.CashToClinic,
		TransferToTherapist: req.TransferToTherapist,
		TransferToClinic:    req.TransferToClinic,
		Contribution:        req.Contribution.toDomain(),
		PurchaseDate:        date,
	}, nil
}

func parseDateParam(w http.ResponseWriter, r *http.Request) (ledger.Date, bool) {
	date, err := ledger.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
		return ledger.Date{}, false
	}
	return date, true
}

func parseDateQuery(w http.ResponseWriter, r *http.Request) (ledger.Date, bool) {
	date, err := ledger.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
		return ledger.Date{}, false
	}
	return date, true
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION", err)
	case ledger.IsNotFound(err):
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeErrorCode(w, http.StatusConflict, "INSUFFICIENT_FUNDS", err)
	case errors.Is(err, ledger.ErrNoCredits):
		writeErrorCode(w, http.StatusConflict, "NO_CREDITS", err)
	case errors.Is(err, ledger.ErrAlreadyConfirmed):
		writeErrorCode(w, http.StatusConflict, "ALREADY_CONFIRMED", err)
	case errors.Is(err, ledger.ErrNotConfirmed):
		writeErrorCode(w, http.StatusConflict, "NOT_CONFIRMED", err)
	case errors.Is(err, ledger.ErrChangeTooSmall):
		writeErrorCode(w, http.StatusConflict, "CHANGE_TOO_SMALL", err)
	default:
		writeErrorCode(w, http.StatusInternalServerError, "INTERNAL", err)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
