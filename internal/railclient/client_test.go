package railclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundverse/backend/internal/rails/equity"
	"github.com/fundverse/backend/internal/rails/native"
	"github.com/fundverse/backend/internal/rails/traditional"
)

func TestNativeLedger(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transfers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req native.TransferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, native.TransferRequest{From: "alice", To: "escrow", Amount: 40, Memo: 9}, req)
		w.Write([]byte(`{"reference":"tx-77"}`))
	})
	mux.HandleFunc("GET /transfers/{ref}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tx-77", r.PathValue("ref"))
		w.Write([]byte(`{"status":"confirmed","amount":40,"block_height":12}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l := NewNativeLedger(srv.URL+"/", "secret", 0)
	ref, err := l.InitiateTransfer(context.Background(), native.TransferRequest{From: "alice", To: "escrow", Amount: 40, Memo: 9})
	require.NoError(t, err)
	assert.Equal(t, "tx-77", ref)

	st, err := l.TransferStatus(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, native.TransferStatus{State: native.LedgerConfirmed, Amount: 40, BlockHeight: 12}, st)
}

func TestPaymentVerifier(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		var req traditional.PaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pm_1", req.PaymentMethodID)
		w.Write([]byte(`{"payment_id":"pay_5"}`))
	})
	mux.HandleFunc("GET /payments/{id}/verification", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"verified","amount":300}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v := NewPaymentVerifier(srv.URL, "", 0)
	id, err := v.Initiate(context.Background(), traditional.PaymentRequest{ContributionID: 1, Amount: 300, PaymentMethodID: "pm_1"})
	require.NoError(t, err)
	assert.Equal(t, "pay_5", id)

	got, err := v.Verify(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, traditional.Verification{Status: traditional.PaymentVerified, Amount: 300}, got)
}

func TestSPVService(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /deals/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"deal-1","campaign_id":3,"fraction_price":25,"total_raise":10000}`))
	})
	mux.HandleFunc("POST /investments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"investment_id":"inv-2"}`))
	})
	mux.HandleFunc("GET /investments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"completed","amount":50}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSPVService(srv.URL, "", 0)
	ctx := context.Background()
	deal, err := s.Deal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(25), deal.FractionPrice)
	assert.Equal(t, uint64(3), deal.CampaignID)

	inv, err := s.Invest(ctx, equity.InvestmentRequest{DealID: "deal-1", Amount: 50, Fractions: 2})
	require.NoError(t, err)
	assert.Equal(t, "inv-2", inv)

	st, err := s.Status(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, equity.InvestmentCompleted, st.Status)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewNativeLedger(srv.URL, "", 0).TransferStatus(context.Background(), "tx-1")
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "ledger maintenance", se.Body)
	assert.True(t, se.Temporary())
}

func TestInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewPaymentVerifier(srv.URL, "", 0).Verify(context.Background(), "pay_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}
