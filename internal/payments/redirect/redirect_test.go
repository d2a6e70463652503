package redirect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/models"
	"tourney-registry/internal/payments"
)

func TestInitiateCreatesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "payment", r.PostForm.Get("mode"))
		require.Equal(t, "50000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		require.Equal(t, "inr", r.PostForm.Get("line_items[0][price_data][currency]"))
		require.Equal(t, "https://cup.example/done?session_id={CHECKOUT_SESSION_ID}", r.PostForm.Get("success_url"))
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.example/c/pay/cs_test_1","status":"open"}`))
	}))
	defer srv.Close()

	g := New("sk_test", srv.URL, payments.NewHTTPClient(time.Second), nil)
	init, err := g.Initiate(context.Background(), payments.PaymentRequest{
		Registration: models.RegisterCommand{TeamName: "Owls", ContactEmail: "a@x.com"},
		Amount:       50000,
		Currency:     "INR",
		Description:  "Cup entry",
		ReturnURL:    "https://cup.example/done",
		CancelURL:    "https://cup.example/cancel",
	})
	require.NoError(t, err)
	require.Equal(t, "cs_test_1", init.SessionID)
	require.Equal(t, "https://checkout.example/c/pay/cs_test_1", init.RedirectURL)
}

func TestFinalizeSessionStates(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status payments.Status
		ref    string
		email  string
	}{
		{"paid", `{"id":"cs_1","status":"complete","payment_status":"paid","amount_total":50000,"payment_intent":"pi_1","metadata":{"contact_email":"a@x.com"}}`, payments.StatusSuccess, "pi_1", "a@x.com"},
		{"open", `{"id":"cs_1","status":"open","payment_status":"unpaid","amount_total":50000}`, payments.StatusPending, "cs_1", ""},
		{"expired", `{"id":"cs_1","status":"expired","payment_status":"unpaid","amount_total":50000}`, payments.StatusFailed, "cs_1", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
				fmt.Fprint(w, c.body)
			}))
			defer srv.Close()
			g := New("sk_test", srv.URL, payments.NewHTTPClient(time.Second), nil)
			res := g.Finalize(context.Background(), payments.Evidence{SessionID: "cs_1"})
			require.Equal(t, c.status, res.Status)
			require.Equal(t, c.ref, res.Reference)
			require.Equal(t, c.email, res.PayerEmail)
		})
	}
}

func TestFinalizeUnknownSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error"}}`))
	}))
	defer srv.Close()
	g := New("sk_test", srv.URL, payments.NewHTTPClient(time.Second), nil)
	res := g.Finalize(context.Background(), payments.Evidence{SessionID: "cs_missing"})
	require.Equal(t, payments.StatusFailed, res.Status)
	require.True(t, errors.Is(res.Err, errs.ErrGatewayTransport))

	res = g.Finalize(context.Background(), payments.Evidence{})
	require.True(t, errors.Is(res.Err, errs.ErrValidation))
}
