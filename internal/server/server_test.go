package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"tourney-registry/internal/admin"
	"tourney-registry/internal/buffer"
	"tourney-registry/internal/config"
	"tourney-registry/internal/ledger"
	"tourney-registry/internal/models"
	"tourney-registry/internal/payments"
	"tourney-registry/internal/payments/manual"
	"tourney-registry/internal/registration"
	"tourney-registry/internal/review"
	"tourney-registry/internal/settings"
	"tourney-registry/internal/stages"
	"tourney-registry/internal/testutil"
)

const adminToken = "s3cret"

type fakeGateway struct {
	result payments.VerificationResult
}

func (f *fakeGateway) Name() string { return payments.MethodRedirect }

func (f *fakeGateway) Initiate(context.Context, payments.PaymentRequest) (payments.Initiation, error) {
	return payments.Initiation{Gateway: f.Name(), SessionID: "cs_1", RedirectURL: "https://pay.example/cs_1"}, nil
}

func (f *fakeGateway) Finalize(context.Context, payments.Evidence) payments.VerificationResult {
	return f.result
}

func setupRouter(t *testing.T) (*gin.Engine, *fakeGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)

	buf, err := buffer.Open(filepath.Join(t.TempDir(), "pending.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })

	fake := &fakeGateway{result: payments.VerificationResult{Status: payments.StatusSuccess, Reference: "cs_ref_1", Amount: testutil.Fee}}
	man := manual.New("UPI cup@bank")
	l := ledger.New(db, nil)
	st := settings.New(db, nil)
	eng := stages.New(l, nil)
	r := NewRouter(Deps{
		Config:       config.Config{AdminToken: adminToken, HTTPAddr: ":8080"},
		Registration: registration.NewService(db, payments.NewRegistry(fake, man), l, st, buf, nil, registration.Options{}, nil),
		Ledger:       l,
		Stages:       eng,
		Review:       review.New(db, l, man, st, nil, nil),
		Admin:        admin.New(l, eng, nil),
		Settings:     st,
	})
	return r, fake
}

func httpDo(r *gin.Engine, method, path string, body interface{}, asAdmin bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if asAdmin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func confirm(r *gin.Engine, email string) *httptest.ResponseRecorder {
	return httpDo(r, "POST", "/api/payments/redirect/confirm", gin.H{
		"registration": testutil.Registration(email),
		"sessionId":    "cs_1",
	}, false)
}

func TestAdminRoutesNeedToken(t *testing.T) {
	r, _ := setupRouter(t)

	w := httpDo(r, "GET", "/api/admin/registrations", nil, false)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/admin/registrations", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httpDo(r, "GET", "/api/admin/registrations", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 0, decode(t, w)["count"])
}

func TestConfirmOverHTTP(t *testing.T) {
	r, fake := setupRouter(t)

	w := httpDo(r, "GET", "/api/payment-methods", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), payments.MethodRedirect)

	w = httpDo(r, "POST", "/api/registrations/initiate", gin.H{
		"method":       payments.MethodRedirect,
		"registration": testutil.Registration("a@x.com"),
	}, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "cs_1")

	w = confirm(r, "a@x.com")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode(t, w)["outcome"].(map[string]any)
	require.Equal(t, "persisted", out["durability"])
	team := out["team"].(map[string]any)
	require.Equal(t, "001", team["teamNumber"])
	require.Equal(t, "enrolled", team["stage"])

	// the same payment echoed again replays the team
	w = confirm(r, "a@x.com")
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, true, decode(t, w)["outcome"].(map[string]any)["replayed"])

	// a different payment for the same email is a duplicate
	fake.result.Reference = "cs_ref_2"
	w = confirm(r, "a@x.com")
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	require.Equal(t, "duplicate_registration", body["kind"])
	require.EqualValues(t, 1, body["teamId"])
	require.Equal(t, "001", body["teamNumber"])
	require.Equal(t, false, body["retryable"])

	w = httpDo(r, "GET", "/api/registrations?email=A@X.com", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"teamNumber":"001"`)

	w = httpDo(r, "GET", "/api/registrations?email=nobody@x.com", nil, false)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPendingAndFailedConfirm(t *testing.T) {
	r, fake := setupRouter(t)

	fake.result = payments.VerificationResult{Status: payments.StatusPending}
	w := confirm(r, "p@x.com")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "pending", decode(t, w)["outcome"].(map[string]any)["status"])

	fake.result = payments.VerificationResult{Status: payments.StatusSuccess, Reference: "cs_low", Amount: testutil.Fee - 1}
	w = confirm(r, "p@x.com")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "validation", decode(t, w)["kind"])

	w = httpDo(r, "GET", "/api/admin/registrations", nil, true)
	require.EqualValues(t, 0, decode(t, w)["count"])
}

func TestValidationAndMalformedBodies(t *testing.T) {
	r, _ := setupRouter(t)

	reg := testutil.Registration("v@x.com")
	reg.Players = reg.Players[:3]
	w := httpDo(r, "POST", "/api/registrations/initiate", gin.H{"method": payments.MethodRedirect, "registration": reg}, false)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "POST", "/api/registrations/initiate", gin.H{"method": "cheque", "registration": testutil.Registration("v@x.com")}, false)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	req := httptest.NewRequest("POST", "/api/registrations/initiate", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	w = httpDo(r, "GET", "/api/admin/registrations/abc", nil, true)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "GET", "/api/admin/registrations/42", nil, true)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "unknown_entity", decode(t, w)["kind"])

	w = httpDo(r, "GET", "/api/admin/registrations?sort=name", nil, true)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAdminStageAndBulk(t *testing.T) {
	r, fake := setupRouter(t)
	for i, email := range []string{"a@x.com", "b@x.com"} {
		fake.result.Reference = "ref_" + email
		require.Equal(t, http.StatusCreated, confirm(r, email).Code, i)
	}

	w := httpDo(r, "POST", "/api/admin/registrations/1/downgrade", nil, true)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "invalid_transition", decode(t, w)["kind"])

	w = httpDo(r, "POST", "/api/admin/registrations/1/upgrade", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "quarterFinals", decode(t, w)["team"].(map[string]any)["stage"])

	w = httpDo(r, "POST", "/api/admin/registrations/2/stage", gin.H{"stage": "finals"}, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(r, "PATCH", "/api/admin/registrations/2", gin.H{"teamName": "Owls"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Owls", decode(t, w)["team"].(map[string]any)["teamName"])

	w = httpDo(r, "POST", "/api/admin/bulk/stage", gin.H{"teamIds": []int64{1, 2, 9, 1}, "stage": "semiFinals"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode(t, w)["report"].(map[string]any)
	require.EqualValues(t, 2, report["applied"])
	require.EqualValues(t, 1, report["failed"])

	w = httpDo(r, "GET", "/api/admin/registrations?stage=semiFinals&sort=teamId&dir=asc", nil, true)
	require.EqualValues(t, 2, decode(t, w)["count"])

	w = httpDo(r, "POST", "/api/admin/bulk/delete", gin.H{"teamIds": []int64{2}}, true)
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(r, "DELETE", "/api/admin/registrations/2", nil, true)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestProofReviewOverHTTP(t *testing.T) {
	r, _ := setupRouter(t)

	reg := testutil.Registration("m@x.com")
	w := httpDo(r, "POST", "/api/proofs", gin.H{
		"teamName":             reg.TeamName,
		"players":              reg.Players,
		"contactEmail":         reg.ContactEmail,
		"contactNumber":        reg.ContactNumber,
		"paymentMethod":        "manual",
		"transactionReference": "UTR123",
		"amount":               testutil.Fee,
		"proofImage":           "https://img.example/1.png",
		"payerName":            "Asha",
	}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	proofID := decode(t, w)["proofId"].(string)

	w = httpDo(r, "GET", "/api/admin/proofs?status=pending", nil, true)
	require.EqualValues(t, 1, decode(t, w)["count"])

	w = httpDo(r, "POST", "/api/admin/proofs/"+proofID+"/reject", gin.H{"reason": ""}, true)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "POST", "/api/admin/proofs/"+proofID+"/verify", nil, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	team := decode(t, w)["team"].(map[string]any)
	require.Equal(t, "manual", team["paymentMethod"])
	require.Equal(t, "UTR123", team["paymentReference"])

	w = httpDo(r, "POST", "/api/admin/proofs/"+proofID+"/reject", gin.H{"reason": "late"}, true)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestSettingsCloseRegistration(t *testing.T) {
	r, _ := setupRouter(t)

	w := httpDo(r, "PUT", "/api/admin/settings", gin.H{"registrationOpen": false}, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, decode(t, w)["settings"].(map[string]any)["registrationOpen"])

	w = httpDo(r, "POST", "/api/registrations/initiate", gin.H{"method": payments.MethodRedirect, "registration": testutil.Registration("c@x.com")}, false)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, decode(t, w)["message"], "closed")

	// a payment already made is still honoured
	require.Equal(t, http.StatusCreated, confirm(r, "c@x.com").Code)
}

func TestExportByToken(t *testing.T) {
	r, _ := setupRouter(t)
	require.Equal(t, http.StatusCreated, confirm(r, "e@x.com").Code)

	w := httpDo(r, "GET", "/export/teams.csv?token=nope", nil, false)
	require.Equal(t, http.StatusForbidden, w.Code)

	q := url.Values{"token": {ledger.ExportToken(adminToken, "")}}
	w = httpDo(r, "GET", "/export/teams.csv?"+q.Encode(), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "team_id,team_number"))

	// a token for one stage does not open another
	q = url.Values{"token": {ledger.ExportToken(adminToken, "")}, "stage": {string(models.StageFinals)}}
	w = httpDo(r, "GET", "/export/teams.csv?"+q.Encode(), nil, false)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httpDo(r, "GET", "/api/admin/export.csv?stage=enrolled", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "e@x.com")
}
