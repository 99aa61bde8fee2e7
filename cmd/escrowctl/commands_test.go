package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type seen struct {
	method string
	path   string
	auth   string
	body   string
}

func fakeAPI(t *testing.T, status int, reply string, got *seen) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*got = seen{method: r.Method, path: r.URL.RequestURI(), auth: r.Header.Get("Authorization"), body: string(b)}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSummary(t *testing.T) {
	var got seen
	srv := fakeAPI(t, http.StatusOK, `{"campaign_id":3,"total_held":50}`, &got)

	out, err := run(t, "--api", srv.URL, "--token", "tok", "summary", "3")
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, got.method)
	require.Equal(t, "/api/v1/campaigns/3/escrow-summary", got.path)
	require.Equal(t, "Bearer tok", got.auth)
	require.Contains(t, out, `"total_held": 50`)
}

func TestConfirmSendsAmount(t *testing.T) {
	var got seen
	srv := fakeAPI(t, http.StatusOK, `{"id":9,"status":"held"}`, &got)

	_, err := run(t, "--api", srv.URL, "confirm", "9", "1200")
	require.NoError(t, err)
	require.Equal(t, "/api/v1/contributions/9/confirm", got.path)
	var body map[string]uint64
	require.NoError(t, json.Unmarshal([]byte(got.body), &body))
	require.Equal(t, uint64(1200), body["amount"])
}

func TestSettleAsyncAndPartial(t *testing.T) {
	var got seen
	srv := fakeAPI(t, http.StatusAccepted, `{"campaign_id":2,"job_id":11}`, &got)
	_, err := run(t, "--api", srv.URL, "settle", "2", "--async")
	require.NoError(t, err)
	require.Equal(t, "/api/v1/campaigns/2/settle?async=true", got.path)

	srv = fakeAPI(t, http.StatusMultiStatus, `{"report":{"failed":[4]},"error":"partial"}`, &got)
	out, err := run(t, "--api", srv.URL, "settle", "2")
	require.ErrorContains(t, err, "partially failed")
	require.Contains(t, out, `"failed"`)
}

func TestErrorStatus(t *testing.T) {
	var got seen
	srv := fakeAPI(t, http.StatusConflict, `{"error":"invalid state transition"}`, &got)
	_, err := run(t, "--api", srv.URL, "release", "5")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestLoginPrintsToken(t *testing.T) {
	var got seen
	srv := fakeAPI(t, http.StatusOK, `{"token":"jwt-abc"}`, &got)
	out, err := run(t, "--api", srv.URL, "login", "--email", "ops@example.com", "--password", "pw")
	require.NoError(t, err)
	require.Equal(t, "jwt-abc", strings.TrimSpace(out))
	require.Contains(t, got.body, `"email":"ops@example.com"`)
}

func TestCampaignSync(t *testing.T) {
	var got seen
	srv := fakeAPI(t, http.StatusOK, `{"id":4}`, &got)
	_, err := run(t, "--api", srv.URL, "campaign", "4", "--goal", "5000", "--resolution", "succeeded")
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, got.method)
	require.Contains(t, got.body, `"resolution":"succeeded"`)
	require.Contains(t, got.body, `"goal":5000`)
}

func TestBadID(t *testing.T) {
	_, err := run(t, "--api", "http://127.0.0.1:1", "refund", "abc")
	require.ErrorContains(t, err, "invalid id")
}
