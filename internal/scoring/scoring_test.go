package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivora/rivora/internal/behavior"
	"github.com/rivora/rivora/internal/features"
	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/metrics"
	"github.com/rivora/rivora/internal/model"
	"github.com/rivora/rivora/internal/rules"
	"github.com/rivora/rivora/internal/validation"
)

const (
	walletA = "GAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB7JZX"
	walletB = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := validation.RegisterStellarTags(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// stubSource serves canned snapshots.
type stubSource struct {
	mu        sync.Mutex
	snapshots map[string]*features.Snapshot
	err       error
	calls     int
}

func (s *stubSource) Snapshot(_ context.Context, address string) (*features.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if snap, ok := s.snapshots[address]; ok {
		return snap, nil
	}
	return features.Empty(address), nil
}

type stubPredictor struct {
	loadErr error
	risk    float64
	health  float64
	loaded  bool
}

func (p *stubPredictor) EnsureLoaded(context.Context) (bool, error) {
	if p.loadErr != nil {
		return false, p.loadErr
	}
	return p.loaded, nil
}

func (p *stubPredictor) Predict(features.Vector) (float64, float64, bool) {
	return p.risk, p.health, p.loaded
}

func (p *stubPredictor) State() model.State {
	if p.loaded {
		return model.StateLoaded
	}
	return model.StateEmpty
}

// traderSnapshot is an account swapping through path payments at peak hours.
func traderSnapshot(address string) *features.Snapshot {
	start := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	s := &features.Snapshot{
		Address:        address,
		Found:          true,
		AccountAgeDays: 400,
		Balances: []features.Balance{
			{AssetType: "native", Amount: 500},
			{AssetType: "credit_alphanum4", AssetCode: "USDC", Amount: 500},
		},
	}
	for i := 0; i < 30; i++ {
		at := start.Add(time.Duration(i) * 10 * time.Minute)
		s.Transactions = append(s.Transactions, features.Transaction{
			Hash: fmt.Sprint(i), CreatedAt: at, FeeCharged: 100, OperationCount: 1, Successful: true,
		})
		s.Operations = append(s.Operations, features.Operation{
			Type: "path_payment_strict_send", CreatedAt: at, Successful: true,
		})
	}
	return s
}

func counterValue(t *testing.T, method Method) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, metrics.ScoresComputedTotal.WithLabelValues(string(method)).Write(m))
	return m.GetCounter().GetValue()
}

// --- orchestrator ---

func TestOrchestrator_EmptySnapshotUsesRules(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil)
	res := o.Score(context.Background(), features.Empty(walletA))

	assert.Equal(t, MethodRule, res.Scores.Method)
	assert.GreaterOrEqual(t, res.Scores.Risk, 20.0)
	assert.LessOrEqual(t, res.Scores.Risk, 30.0)
	assert.GreaterOrEqual(t, res.Scores.Health, 45.0)
	assert.LessOrEqual(t, res.Scores.Health, 55.0)
	assert.Equal(t, behavior.Passive, res.UserType)
	assert.Equal(t, QualityLow, res.DataQuality)
	assert.Equal(t, walletA, res.Address)
}

func TestOrchestrator_NilSnapshot(t *testing.T) {
	res := NewOrchestrator(nil, nil, nil).Score(context.Background(), nil)
	assert.Equal(t, MethodRule, res.Scores.Method)
	assert.Equal(t, QualityLow, res.DataQuality)
}

func TestOrchestrator_ModelPreferred(t *testing.T) {
	p := &stubPredictor{loaded: true, risk: 71.234, health: 64.567}
	o := NewOrchestrator(p, rules.NewScorer(rules.GasFixed), nil)
	res := o.Score(context.Background(), traderSnapshot(walletA))

	assert.Equal(t, ScorePair{Risk: 71.23, Health: 64.57, Method: MethodModel}, res.Scores)
	assert.Equal(t, behavior.Trader, res.UserType)
	assert.Equal(t, QualityHigh, res.DataQuality)
	// rule components stay available for analysis
	assert.NotZero(t, res.Components.WalletAge)
	assert.Equal(t, model.StateLoaded, o.ModelState())
}

func TestOrchestrator_FallsBackWhenModelUnavailable(t *testing.T) {
	tests := []struct {
		name string
		p    *stubPredictor
	}{
		{"training failed", &stubPredictor{loadErr: &model.TrainingError{Op: "train", Samples: 2, Err: model.ErrInsufficientSamples}}},
		{"not loaded", &stubPredictor{}},
	}
	snap := traderSnapshot(walletA)
	want := rules.NewScorer(rules.GasFixed).Score(features.MetricsFrom(snap, features.Extract(snap)))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewOrchestrator(tt.p, nil, nil).Score(context.Background(), snap)
			assert.Equal(t, MethodRule, res.Scores.Method)
			assert.Equal(t, round2(want.Risk), res.Scores.Risk)
			assert.Equal(t, round2(want.Health), res.Scores.Health)
		})
	}
}

func TestOrchestrator_TrainedRegistry(t *testing.T) {
	snap := traderSnapshot(walletA)
	vec := features.Extract(snap)
	samples := make(model.StaticSource, 0, 5)
	for i := 0; i < 5; i++ {
		samples = append(samples, model.Sample{Features: vec, RiskScore: 60, HealthScore: 40})
	}
	reg := model.NewRegistry(samples)

	res := NewOrchestrator(reg, nil, nil).Score(context.Background(), snap)
	assert.Equal(t, MethodModel, res.Scores.Method)
	assert.GreaterOrEqual(t, res.Scores.Risk, 0.0)
	assert.LessOrEqual(t, res.Scores.Risk, 100.0)
	assert.GreaterOrEqual(t, res.Scores.Health, 0.0)
	assert.LessOrEqual(t, res.Scores.Health, 100.0)
}

func TestResult_UserTypeScore(t *testing.T) {
	r := &Result{Scores: ScorePair{Risk: 70.4, Health: 50.7}}
	assert.Equal(t, 61, r.UserTypeScore())
}

// --- service ---

func TestService_ScoreAccount(t *testing.T) {
	src := &stubSource{snapshots: map[string]*features.Snapshot{walletA: traderSnapshot(walletA)}}
	svc := NewService(src, NewOrchestrator(nil, nil, nil), nil)
	before := counterValue(t, MethodRule)

	res, err := svc.ScoreAccount(context.Background(), walletA)
	require.NoError(t, err)
	assert.Equal(t, behavior.Trader, res.UserType)
	assert.Equal(t, before+1, counterValue(t, MethodRule))
}

func TestService_ScoreAccountErrors(t *testing.T) {
	src := &stubSource{}
	svc := NewService(src, NewOrchestrator(nil, nil, nil), nil)

	_, err := svc.ScoreAccount(context.Background(), "0x1234")
	assert.ErrorIs(t, err, validation.ErrInvalidAddress)
	assert.Zero(t, src.calls, "no network access for invalid input")

	src.err = &horizon.Error{Op: "account", StatusCode: 500, Err: errors.New("boom")}
	_, err = svc.ScoreAccount(context.Background(), walletA)
	var herr *horizon.Error
	assert.ErrorAs(t, err, &herr)
}

func TestService_ScoreBatch(t *testing.T) {
	src := &stubSource{snapshots: map[string]*features.Snapshot{walletA: traderSnapshot(walletA)}}
	svc := NewService(src, NewOrchestrator(nil, nil, nil), nil)

	items := svc.ScoreBatch(context.Background(), []string{walletA, "bogus", walletB})
	require.Len(t, items, 3)
	assert.Equal(t, walletA, items[0].Address)
	assert.Equal(t, behavior.Trader, items[0].Result.UserType)
	assert.ErrorIs(t, items[1].Err, validation.ErrInvalidAddress)
	assert.Nil(t, items[1].Result)
	assert.Equal(t, behavior.Passive, items[2].Result.UserType)
	assert.Equal(t, 2, src.calls)
}

// --- handlers ---

func newTestRouter(src *stubSource, p Predictor) *gin.Engine {
	svc := NewService(src, NewOrchestrator(p, nil, nil), nil)
	r := gin.New()
	NewHandler(svc, StatusInfo{Network: "testnet", PersistenceMode: "contract+native"}).RegisterRoutes(r.Group("/api"))
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestCalculateScores(t *testing.T) {
	src := &stubSource{snapshots: map[string]*features.Snapshot{walletA: traderSnapshot(walletA)}}
	r := newTestRouter(src, nil)

	code, body := do(t, r, http.MethodPost, "/api/calculate-scores", map[string]string{"walletAddress": walletA})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Trader", body["userType"])
	assert.Equal(t, "rule", body["method"])
	risk := body["deFiRiskScore"].(float64)
	health := body["deFiHealthScore"].(float64)
	assert.InDelta(t, (risk+health)/2, body["userTypeScore"].(float64), 0.5)

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "high", meta["dataQuality"])
	assert.Len(t, meta["analyzedMetrics"], len(analyzedMetrics))

	analysis := body["analysis"].(map[string]any)
	assert.LessOrEqual(t, analysis["portfolioDiversity"].(float64), 1.0)
	assert.Contains(t, analysis, "features")
}

func TestCalculateScores_Validation(t *testing.T) {
	r := newTestRouter(&stubSource{}, nil)

	code, body := do(t, r, http.MethodPost, "/api/calculate-scores", map[string]string{"walletAddress": "0xabc"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_address", body["error"])

	code, body = do(t, r, http.MethodPost, "/api/calculate-scores", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_address", body["error"])
}

func TestCalculateScores_Upstream(t *testing.T) {
	src := &stubSource{err: &horizon.Error{Op: "transactions", StatusCode: 503, Err: errors.New("busy")}}
	r := newTestRouter(src, nil)

	code, body := do(t, r, http.MethodPost, "/api/calculate-scores", map[string]string{"walletAddress": walletA})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "upstream_unavailable", body["error"])
}

func TestGetScore(t *testing.T) {
	r := newTestRouter(&stubSource{}, &stubPredictor{loaded: true, risk: 55, health: 45})

	code, body := do(t, r, http.MethodGet, "/api/v1/score/"+walletB, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, walletB, body["walletAddress"])
	scores := body["scores"].(map[string]any)
	assert.Equal(t, 55.0, scores["trustRating"])
	assert.Equal(t, 45.0, scores["healthScore"])
	assert.Equal(t, "Passive", scores["userType"])
	_, err := time.Parse(time.RFC3339, scores["timestamp"].(string))
	assert.NoError(t, err)
	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "1.0.0", meta["version"])
	assert.Equal(t, "model", meta["method"])

	code, body = do(t, r, http.MethodGet, "/api/v1/score/not-a-key", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
}

func TestBatchScores(t *testing.T) {
	src := &stubSource{snapshots: map[string]*features.Snapshot{walletA: traderSnapshot(walletA)}}
	r := newTestRouter(src, nil)

	code, body := do(t, r, http.MethodPost, "/api/v1/batch-scores", map[string]any{
		"walletAddresses": []string{walletA, "0xdead", walletB},
	})
	require.Equal(t, http.StatusOK, code)
	results := body["results"].([]any)
	require.Len(t, results, 3)

	first := results[0].(map[string]any)
	assert.Equal(t, walletA, first["walletAddress"])
	assert.Equal(t, "Trader", first["scores"].(map[string]any)["userType"])

	second := results[1].(map[string]any)
	assert.Equal(t, "Invalid wallet address format", second["error"])
	assert.NotContains(t, second, "scores")

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, 3.0, meta["total"])
	assert.Equal(t, 2.0, meta["successful"])
	assert.Equal(t, 1.0, meta["failed"])
}

func TestBatchScores_Limits(t *testing.T) {
	r := newTestRouter(&stubSource{}, nil)

	code, body := do(t, r, http.MethodPost, "/api/v1/batch-scores", map[string]any{"walletAddresses": []string{}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["error"])

	many := make([]string, validation.MaxBatchSize+1)
	for i := range many {
		many[i] = walletA
	}
	code, body = do(t, r, http.MethodPost, "/api/v1/batch-scores", map[string]any{"walletAddresses": many})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "too_many_addresses", body["error"])
}

func TestBatchScores_UpstreamFailurePerItem(t *testing.T) {
	src := &stubSource{err: &horizon.Error{Op: "account", StatusCode: 502, Err: errors.New("bad gateway")}}
	r := newTestRouter(src, nil)

	code, body := do(t, r, http.MethodPost, "/api/v1/batch-scores", map[string]any{"walletAddresses": []string{walletA}})
	require.Equal(t, http.StatusOK, code)
	item := body["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "Failed to calculate scores", item["error"])
}

func TestStatus(t *testing.T) {
	r := newTestRouter(&stubSource{}, &stubPredictor{loaded: true})

	code, body := do(t, r, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "operational", body["status"])
	assert.Equal(t, "rivora", body["service"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "testnet", body["network"])
	assert.Equal(t, "contract+native", body["persistence"])
	assert.Equal(t, "loaded", body["model"])
}
