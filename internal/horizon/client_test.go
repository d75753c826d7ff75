package horizon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivora/rivora/internal/retry"
)

const addr = "GAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB7JZX"

const accountJSON = `{
  "account_id": "` + addr + `",
  "sequence": "4294967300",
  "balances": [
    {"balance": "120.5000000", "asset_type": "native"},
    {"balance": "10.0000000", "asset_type": "credit_alphanum4", "asset_code": "USDC", "asset_issuer": "GISSUER"}
  ],
  "data": {"scores": "eyJhIjoxfQ=="}
}`

const txsJSON = `{"_embedded": {"records": [
  {"hash": "aa", "ledger": 10, "created_at": "2024-03-01T15:00:00Z", "fee_charged": "200", "operation_count": 2, "successful": true},
  {"hash": "bb", "ledger": 9, "created_at": "2024-01-01T03:00:00Z", "fee_charged": 100, "operation_count": 1, "successful": false}
]}}`

const opsJSON = `{"_embedded": {"records": [
  {"id": "1", "type": "path_payment_strict_send", "type_i": 13, "created_at": "2024-03-01T15:00:00Z", "transaction_successful": true},
  {"id": "2", "type": "payment", "type_i": 1, "created_at": "2024-01-01T03:00:00Z", "transaction_successful": false}
]}}`

const oldestJSON = `{"_embedded": {"records": [
  {"hash": "00", "ledger": 1, "created_at": "2023-01-01T00:00:00Z", "fee_charged": "100", "operation_count": 1, "successful": true}
]}}`

func fakeHorizon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/"+addr, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, accountJSON)
	})
	mux.HandleFunc("/accounts/"+addr+"/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order") == "asc" {
			assert.Equal(t, "1", r.URL.Query().Get("limit"))
			fmt.Fprint(w, oldestJSON)
			return
		}
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		fmt.Fprint(w, txsJSON)
	})
	mux.HandleFunc("/accounts/"+addr+"/operations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, opsJSON)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			fmt.Fprint(w, `{"horizon_version": "2.30.0"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"type": "https://stellar.org/horizon-errors/not_found", "status": 404, "title": "Resource Missing"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Account(t *testing.T) {
	c := NewClient(fakeHorizon(t).URL + "/")

	acct, err := c.Account(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, addr, acct.ID)
	assert.Equal(t, int64(4294967300), acct.Sequence)
	require.Len(t, acct.Balances, 2)
	assert.Equal(t, "USDC", acct.Balances[1].AssetCode)

	v, ok := acct.DataValue("scores")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(v))
	_, ok = acct.DataValue("missing")
	assert.False(t, ok)
}

func TestClient_AccountNotFound(t *testing.T) {
	c := NewClient(fakeHorizon(t).URL)

	_, err := c.Account(context.Background(), "GNOPE")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"type": "https://stellar.org/horizon-errors/service_unavailable", "title": "Service Unavailable", "status": 503, "detail": "maintenance"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Account(context.Background(), addr)
	var herr *Error
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "account", herr.Op)
	assert.Equal(t, http.StatusServiceUnavailable, herr.StatusCode)
	assert.Equal(t, "horizon: account: status 503: Service Unavailable: maintenance", err.Error())

	var problem *horizonclient.Error
	require.ErrorAs(t, err, &problem)
	assert.Equal(t, "maintenance", problem.Problem.Detail)
}

func TestClient_UpstreamErrorPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>bad gateway</html>")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Transactions(context.Background(), addr, 10)
	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "transactions", herr.Op)
	assert.Equal(t, http.StatusBadGateway, herr.StatusCode)
}

func TestClient_SendsAppName(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-App-Name"))
		fmt.Fprint(w, accountJSON)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Account(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "rivora", got.Load())
}

func TestClient_DefaultMakesOneAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Account(context.Background(), addr)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	fast := retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}

	tests := []struct {
		name      string
		status    int
		wantCalls int32
		wantErr   bool
	}{
		{"recovers after 503", http.StatusServiceUnavailable, 2, false},
		{"recovers after 429", http.StatusTooManyRequests, 2, false},
		{"400 is not retried", http.StatusBadRequest, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.WriteHeader(tt.status)
					return
				}
				fmt.Fprint(w, accountJSON)
			}))
			defer srv.Close()

			acct, err := NewClient(srv.URL, WithRetry(fast)).Account(context.Background(), addr)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				var herr *Error
				require.ErrorAs(t, err, &herr)
				assert.Equal(t, tt.status, herr.StatusCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, addr, acct.ID)
		})
	}
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(retry.Default)).Account(context.Background(), addr)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_SubmitIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(retry.Default)).Submit(context.Background(), "AAAAAg==")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Listings(t *testing.T) {
	c := NewClient(fakeHorizon(t).URL)
	ctx := context.Background()

	txs, err := c.Transactions(ctx, addr, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(200), txs[0].FeeCharged)
	assert.Equal(t, int64(100), txs[1].FeeCharged)
	assert.Equal(t, int64(10), txs[0].Ledger)
	assert.Equal(t, time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC), txs[0].CreatedAt.UTC())
	assert.False(t, txs[1].Successful)

	ops, err := c.Operations(ctx, addr, 500)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "path_payment_strict_send", ops[0].Type)
	assert.Equal(t, "1", ops[0].ID)
	assert.True(t, ops[0].Successful)
	assert.False(t, ops[1].Successful)

	oldest, err := c.OldestTransaction(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, "00", oldest.Hash)

	require.NoError(t, c.Ping(ctx))
}

func TestClient_Submit(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got.Store(r.PostForm.Get("tx"))
		fmt.Fprint(w, `{"hash": "abc123", "ledger": 77, "successful": true}`)
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).Submit(context.Background(), "AAAAAg==")
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.Hash)
	assert.Equal(t, int64(77), res.Ledger)
	assert.Equal(t, "AAAAAg==", got.Load())
}

func TestClient_SubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{
		  "type": "https://stellar.org/horizon-errors/transaction_failed",
		  "title": "Transaction Failed",
		  "status": 400,
		  "extras": {
		    "result_xdr": "AAAA",
		    "result_codes": {"transaction": "tx_failed", "operations": ["op_success", "op_low_reserve"]}
		  }
		}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(retry.Default)).Submit(context.Background(), "AAAAAg==")
	var serr *SubmitError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "Transaction failed: tx_failed", serr.Error())
	assert.Equal(t, []string{"op_success", "op_low_reserve"}, serr.Operations)
	assert.Equal(t, "AAAA", serr.ResultXDR)
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
}

func TestClient_SubmitMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"title": "Transaction Malformed", "detail": "bad envelope"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Submit(context.Background(), "junk")
	var serr *SubmitError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "tx_malformed", serr.Transaction)
	assert.Equal(t, "bad envelope", serr.EnvelopeDetail)
}

func TestClient_ContextCanceled(t *testing.T) {
	c := NewClient(fakeHorizon(t).URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Account(ctx, addr)
	var herr *Error
	require.True(t, errors.As(err, &herr))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObserveRequest(t *testing.T) {
	HorizonRequestsTotal.Reset()

	observeRequest("account", 200, nil)
	observeRequest("account", 0, errors.New("dial"))

	for label, want := range map[string]float64{"200": 1, "error": 1} {
		c, err := HorizonRequestsTotal.GetMetricWithLabelValues("account", label)
		require.NoError(t, err)
		m := &dto.Metric{}
		require.NoError(t, c.Write(m))
		assert.Equal(t, want, m.Counter.GetValue(), label)
	}
}

func TestSnapshotSource(t *testing.T) {
	src := NewSnapshotSource(NewClient(fakeHorizon(t).URL), 0)
	src.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	snap, err := src.Snapshot(context.Background(), addr)
	require.NoError(t, err)

	assert.True(t, snap.Found)
	assert.Equal(t, addr, snap.Address)
	assert.InDelta(t, 365.0, snap.AccountAgeDays, 1e-9)
	require.Len(t, snap.Balances, 2)
	assert.InDelta(t, 120.5, snap.Balances[0].Amount, 1e-9)
	assert.True(t, snap.Balances[0].IsNative())
	require.Len(t, snap.Transactions, 2)
	assert.Equal(t, int64(200), snap.Transactions[0].FeeCharged)
	assert.Equal(t, 2, snap.Transactions[0].OperationCount)
	require.Len(t, snap.Operations, 2)
	assert.True(t, snap.Operations[0].Successful)
}

func TestSnapshotSource_MissingAccount(t *testing.T) {
	src := NewSnapshotSource(NewClient(fakeHorizon(t).URL), 50)

	snap, err := src.Snapshot(context.Background(), "GMISSING")
	require.NoError(t, err)
	assert.False(t, snap.Found)
	assert.Equal(t, "GMISSING", snap.Address)
	assert.Empty(t, snap.Balances)
	assert.Empty(t, snap.Transactions)
}

func TestSnapshotSource_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewSnapshotSource(NewClient(srv.URL), 0).Snapshot(context.Background(), addr)
	var herr *Error
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusBadGateway, herr.StatusCode)
}
