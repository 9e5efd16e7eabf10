package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sereno/clinic-ledger/api"
	"github.com/sereno/clinic-ledger/daybook"
	"github.com/sereno/clinic-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testDay = "2026-08-14"

func newTestRouter(t *testing.T) http.Handler {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return api.NewRouter(api.NewHandler(daybook.New(store)))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func sessionBody(cash int64) map[string]any {
	return map[string]any{
		"therapist":    "Ana",
		"date":         testDay,
		"patientName":  "Pedro",
		"cashToClinic": cash,
		"contribution": map[string]any{"kind": "percent", "points": 20},
	}
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestRegisterSession_Created(t *testing.T) {
	// GIVEN: a valid cash session
	// THEN: 201 with derived value/contribution/fee in the response

	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", sessionBody(50_000))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID                 string `json:"id"`
		SessionValue       int64  `json:"sessionValue"`
		ClinicContribution int64  `json:"clinicContribution"`
		TherapistFee       int64  `json:"therapistFee"`
	}
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, int64(50_000), resp.SessionValue)
	assert.Equal(t, int64(10_000), resp.ClinicContribution)
	assert.Equal(t, int64(40_000), resp.TherapistFee)
}

func TestRegisterSession_ValidationMapsTo400(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", sessionBody(0))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Code string `json:"code"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "VALIDATION", resp.Code)
}

func TestRegisterSession_BadDateRejected(t *testing.T) {
	router := newTestRouter(t)

	body := sessionBody(50_000)
	body["date"] = "14/08/2026"
	rec := doJSON(t, router, http.MethodPost, "/api/sessions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteSession_MissingMapsTo404(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodDelete, "/api/sessions/no-such-id?date="+testDay, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Code string `json:"code"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

func TestRegisterCreditSession_NoCreditsMapsTo409(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/credit", map[string]any{
		"therapist": "Ana", "patientName": "Pedro", "date": testDay,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp struct {
		Code string `json:"code"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "NO_CREDITS", resp.Code)
}

// =============================================================================
// SETTLEMENT FLOW
// =============================================================================

func TestSettlement_ConfirmThenRevert(t *testing.T) {
	// GIVEN: one registered session
	// WHEN: confirming, re-confirming, reverting
	// THEN: 201, then 409 ALREADY_CONFIRMED, then 204

	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", sessionBody(50_000))
	require.Equal(t, http.StatusCreated, rec.Code)

	base := "/api/settlements/" + testDay + "/Ana"

	rec = doJSON(t, router, http.MethodPost, base+"/confirm", map[string]any{"option": "exact"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var conf struct {
		Amount int64 `json:"amount"`
		Flow   struct {
			CashUsed int64 `json:"cashUsed"`
		} `json:"flow"`
	}
	decode(t, rec, &conf)
	assert.Equal(t, int64(40_000), conf.Amount)
	assert.Equal(t, int64(40_000), conf.Flow.CashUsed)

	rec = doJSON(t, router, http.MethodPost, base+"/confirm", map[string]any{"option": "exact"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Code string `json:"code"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "ALREADY_CONFIRMED", resp.Code)

	rec = doJSON(t, router, http.MethodPost, base+"/revert", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Source string `json:"source"`
	}
	decode(t, rec, &status)
	assert.Equal(t, "live", status.Source)
}

func TestSettlement_RevertWithoutConfirmMapsTo409(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/settlements/"+testDay+"/Ana/revert", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp struct {
		Code string `json:"code"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "NOT_CONFIRMED", resp.Code)
}

// =============================================================================
// DAY VIEWS
// =============================================================================

func TestDaySummary_ReflectsWrites(t *testing.T) {
	// GIVEN: an opening balance and a session registered over HTTP
	// THEN: the summary shows the replayed drawer total

	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPut, "/api/days/"+testDay+"/initial-balance",
		map[string]any{"amount": 100_000})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/sessions", sessionBody(50_000))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/days/"+testDay+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		Cash       int64 `json:"cash"`
		Sessions   []any `json:"sessions"`
		Therapists []any `json:"therapists"`
	}
	decode(t, rec, &summary)
	assert.Equal(t, int64(150_000), summary.Cash)
	assert.Len(t, summary.Sessions, 1)
	assert.Len(t, summary.Therapists, 1)
}

func TestInitialBalance_DisplayStateProgression(t *testing.T) {
	router := newTestRouter(t)
	path := "/api/days/" + testDay + "/initial-balance"

	rec := doJSON(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		State string `json:"state"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "unset", resp.State)

	rec = doJSON(t, router, http.MethodPut, path, map[string]any{"amount": 80_000})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, "set-once", resp.State)

	rec = doJSON(t, router, http.MethodPut, path, map[string]any{"amount": 90_000, "message": "recount"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, "edited", resp.State)
}

func TestListPatientsWithCredit_RequiresTherapist(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/credits", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
