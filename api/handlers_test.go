/*
handlers_test.go - HTTP tests for the invoke surface

Tests for:
- Invoke / query round trips through the router
- Error kind to status mapping
- Metrics and health endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluecarbon/registry/contract"
	"github.com/bluecarbon/registry/credit"
	"github.com/bluecarbon/registry/ledger"
	"github.com/bluecarbon/registry/ledger/store"
	"github.com/bluecarbon/registry/metrics"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	collector := metrics.New()
	reg := credit.NewRegistry(store.NewMemory(), credit.WithLogger(logger), credit.WithObserver(collector))

	h := NewHandler(contract.New(reg), logger)
	srv := httptest.NewServer(NewRouter(h, RouterOptions{
		AllowedOrigins: []string{"*"},
		Metrics:        collector.Handler(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, function string, args ...string) (int, []byte) {
	t.Helper()
	body, err := json.Marshal(CallRequest{Function: function, Args: args})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestInvoke_LifecycleOverHTTP(t *testing.T) {
	srv := setupServer(t)

	status, _ := post(t, srv, "/invoke", "CreateCredit", "CC-1", "P-1", "ngo-1", "100", "mangrove", "V-1", "MRV-1")
	require.Equal(t, http.StatusOK, status)
	status, _ = post(t, srv, "/invoke", "IssueCredit", "CC-1")
	require.Equal(t, http.StatusOK, status)

	status, body := post(t, srv, "/invoke", "TransferCredit", "CC-1", "ngo-1", "buyer-1", "30", "sale", "100")
	require.Equal(t, http.StatusOK, status)
	var outcome struct {
		Credit    map[string]any `json:"credit"`
		Remainder map[string]any `json:"remainder"`
		Transfer  map[string]any `json:"transfer"`
	}
	require.NoError(t, json.Unmarshal(body, &outcome))
	assert.Equal(t, "buyer-1", outcome.Credit["ownerId"])
	assert.EqualValues(t, 30, outcome.Credit["amount"])
	assert.EqualValues(t, 70, outcome.Remainder["amount"])
	assert.Equal(t, "pending", outcome.Transfer["status"])

	status, body = post(t, srv, "/query", "GetCreditsByOwner", "ngo-1")
	require.Equal(t, http.StatusOK, status)
	var owned []map[string]any
	require.NoError(t, json.Unmarshal(body, &owned))
	require.Len(t, owned, 1)
	assert.Equal(t, "issued", owned[0]["status"])

	status, body = post(t, srv, "/query", "GetTotalCreditsByType", "mangrove")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "70", string(body))
}

func TestInvoke_DeleteReturnsNull(t *testing.T) {
	srv := setupServer(t)
	post(t, srv, "/invoke", "CreateCredit", "CC-1", "P-1", "ngo-1", "1", "t", "V", "M")

	status, body := post(t, srv, "/invoke", "DeleteCredit", "CC-1")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "null", string(body))

	status, body = post(t, srv, "/query", "CreditExists", "CC-1")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "false", string(body))
}

func TestInvoke_ErrorStatusMapping(t *testing.T) {
	srv := setupServer(t)
	post(t, srv, "/invoke", "CreateCredit", "CC-1", "P-1", "ngo-1", "10", "t", "V", "M")
	post(t, srv, "/invoke", "IssueCredit", "CC-1")

	tests := []struct {
		name       string
		path       string
		function   string
		args       []string
		wantStatus int
		wantKind   string
	}{
		{"not found", "/query", "ReadCredit", []string{"nope"}, http.StatusNotFound, "not_found"},
		{"duplicate create", "/invoke", "CreateCredit", []string{"CC-1", "P", "O", "1", "t", "V", "M"}, http.StatusConflict, "already_exists"},
		{"wrong owner", "/invoke", "RetireCredit", []string{"CC-1", "mallory", "1", "voluntary", "x"}, http.StatusForbidden, "unauthorized"},
		{"insufficient", "/invoke", "RetireCredit", []string{"CC-1", "ngo-1", "11", "voluntary", "x"}, http.StatusBadRequest, "insufficient_amount"},
		{"invalid state", "/invoke", "IssueCredit", []string{"CC-1"}, http.StatusConflict, "invalid_state"},
		{"bad amount", "/invoke", "RetireCredit", []string{"CC-1", "ngo-1", "ten", "voluntary", "x"}, http.StatusBadRequest, "invalid_argument"},
		{"unknown function", "/invoke", "Mint", nil, http.StatusBadRequest, "unknown_function"},
		{"write via query", "/query", "IssueCredit", []string{"CC-1"}, http.StatusBadRequest, "not_evaluate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, srv, tt.path, tt.function, tt.args...)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, decodeError(t, body).Kind)
		})
	}
}

func TestInvoke_MalformedBody(t *testing.T) {
	srv := setupServer(t)

	for _, body := range []string{`{`, `{"function":"ReadCredit","args":[1]}`, `{"fn":"ReadCredit"}`, `{}`} {
		resp, err := http.Post(srv.URL+"/invoke", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		out, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "invalid_argument", decodeError(t, out).Kind, body)
	}
}

func TestClassify_ConflictAndStoreErrors(t *testing.T) {
	conflict := &conflictStore{}
	reg := credit.NewRegistry(conflict, credit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := reg.IssueCredit(context.Background(), "CC-1")
	require.Error(t, err)

	status, kind := classify(err)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", kind)

	status, _ = classify(errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestHealthFunctionsAndMetrics(t *testing.T) {
	srv := setupServer(t)
	post(t, srv, "/query", "ReadCredit", "nope")

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/functions")
	require.NoError(t, err)
	var fns FunctionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fns))
	resp.Body.Close()
	assert.Len(t, fns.Functions, 16)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `registry_operations_total{operation="read",outcome="not_found"} 1`)
}

// conflictStore fails every commit as if another transaction won the race.
type conflictStore struct{}

func (conflictStore) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return ledger.ErrConflict
}
