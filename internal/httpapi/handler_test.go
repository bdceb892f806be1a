package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/transfer-engine/internal/events/logsink"
	"github.com/sheikh-saqib/transfer-engine/internal/httpapi"
	"github.com/sheikh-saqib/transfer-engine/internal/ledger"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
	"github.com/sheikh-saqib/transfer-engine/internal/resilience"
	"github.com/sheikh-saqib/transfer-engine/internal/storage/memory"
	"github.com/sheikh-saqib/transfer-engine/internal/transfer"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	ctx := context.Background()
	store := memory.NewMemoryLedgerStore()
	require.NoError(t, store.EnsureAccount(ctx, "acc1", decimal.NewFromInt(1000)))
	require.NoError(t, store.EnsureAccount(ctx, "acc2", decimal.NewFromInt(500)))

	cfg := transfer.DefaultConfig()
	cfg.Retry.Delay = time.Millisecond

	svc := transfer.NewService(store, ledger.NewLedger(store, ledger.DefaultOptions(), nil), logsink.New(nil), cfg, nil)
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.NewHandler(svc, nil)))
	t.Cleanup(srv.Close)
	return srv
}

func postTransfer(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(srv.URL+"/api/payments/transfer", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestTransferFlow(t *testing.T) {
	srv := newServer(t)

	resp := postTransfer(t, srv, `{"fromAcct":"acc1","toAcct":"acc2","amount":200}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	tx := decode[models.Transaction](t, resp)
	assert.Positive(t, tx.ID)
	assert.Equal(t, "acc1", tx.FromAccountID)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(200)))

	resp = get(t, srv, "/api/payments/account/acc1/balance")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bal := decode[map[string]any](t, resp)
	assert.Equal(t, "acc1", bal["accountId"])
	assert.Equal(t, "800", bal["balance"])

	resp = get(t, srv, "/api/payments/transactions/"+strconv.FormatInt(tx.ID, 10))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	read := decode[models.Transaction](t, resp)
	assert.Equal(t, tx.ID, read.ID)
	assert.True(t, read.Settled)
}

func TestTransferErrors(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "malformed body", body: `{`, status: http.StatusBadRequest},
		{name: "identical accounts", body: `{"fromAcct":"acc1","toAcct":"acc1","amount":1}`, status: http.StatusBadRequest},
		{name: "non-positive amount", body: `{"fromAcct":"acc1","toAcct":"acc2","amount":"0"}`, status: http.StatusBadRequest},
		{name: "insufficient funds", body: `{"fromAcct":"acc2","toAcct":"acc1","amount":501}`, status: http.StatusBadRequest},
		{name: "unknown sender", body: `{"fromAcct":"ghost","toAcct":"acc1","amount":1}`, status: http.StatusNotFound},
		{name: "unknown receiver", body: `{"fromAcct":"acc1","toAcct":"ghost","amount":1}`, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postTransfer(t, srv, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])
		})
	}
}

func TestReadErrors(t *testing.T) {
	srv := newServer(t)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/payments/transactions/99").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/payments/transactions/abc").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/payments/account/ghost/balance").StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newServer(t)

	resp := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "closed", body["breaker"])
}

type stubService struct {
	outcome models.TransferOutcome
	err     error
	state   resilience.State
}

func (s stubService) Transfer(context.Context, string, string, decimal.Decimal) (models.TransferOutcome, error) {
	return s.outcome, s.err
}

func (s stubService) GetTransaction(context.Context, int64) (models.Transaction, error) {
	return models.Transaction{}, s.err
}

func (s stubService) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, s.err
}

func (s stubService) BreakerState() resilience.State { return s.state }

func TestDegradedAndInternalErrors(t *testing.T) {
	degraded := stubService{
		outcome: models.Degraded("acc1", "acc2", models.ReasonCircuitOpen),
		state:   resilience.StateOpen,
	}
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.NewHandler(degraded, nil)))
	defer srv.Close()

	resp := postTransfer(t, srv, `{"fromAcct":"acc1","toAcct":"acc2","amount":1}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	out := decode[models.TransferOutcome](t, resp)
	assert.Equal(t, models.ReasonCircuitOpen, out.Reason)
	assert.True(t, out.Transaction.Amount.IsZero())

	assert.Equal(t, "degraded", decode[map[string]string](t, get(t, srv, "/health"))["status"])

	unconfirmed := httptest.NewServer(httpapi.NewRouter(httpapi.NewHandler(stubService{
		outcome: models.Unconfirmed("acc1", "acc2", 9),
		state:   resilience.StateClosed,
	}, nil)))
	defer unconfirmed.Close()

	resp = postTransfer(t, unconfirmed, `{"fromAcct":"acc1","toAcct":"acc2","amount":1}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	out = decode[models.TransferOutcome](t, resp)
	assert.Equal(t, models.ReasonCommitUnconfirmed, out.Reason)
	assert.Equal(t, int64(9), out.Transaction.ID)

	broken := httptest.NewServer(httpapi.NewRouter(httpapi.NewHandler(stubService{err: errors.New("disk on fire")}, nil)))
	defer broken.Close()

	resp = get(t, broken, "/api/payments/account/acc1/balance")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", decode[map[string]string](t, resp)["error"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := newServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "corr-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "corr-1", resp.Header.Get("X-Request-ID"))
}
