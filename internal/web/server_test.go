package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/tonsurance/solvency-engine/internal/collateral"
	"github.com/tonsurance/solvency-engine/internal/config"
	"github.com/tonsurance/solvency-engine/internal/curve"
	"github.com/tonsurance/solvency-engine/internal/engine"
	"github.com/tonsurance/solvency-engine/internal/types"
	"github.com/tonsurance/solvency-engine/internal/utilization"
	"github.com/tonsurance/solvency-engine/internal/waterfall"
)

// stubStore satisfies the engine's persistence seam; handlers under test
// never touch the database.
type stubStore struct{}

func (stubStore) SaveSolvencySnapshot(types.SolvencySnapshot) (int64, error) { return 1, nil }
func (stubStore) SaveCascadeReceipt(types.CascadeReceipt) (int64, error)     { return 1, nil }
func (stubStore) NextReconciliationCycle() (int, error)                      { return 1, nil }

func newTestServer(t *testing.T) (*WebServer, *engine.Engine) {
	t.Helper()

	model := curve.NewModel(config.DefaultTrancheConfigs)
	tracker := utilization.NewTracker(model, config.DefaultTrancheConfigs, 0.95)
	eng, err := engine.NewEngine(engine.Config{
		Collateral:    collateral.NewManager(config.DefaultTrancheConfigs, 0.85, 0.95),
		Waterfall:     waterfall.NewSimulator(model, config.DefaultTrancheConfigs),
		Tracker:       tracker,
		Store:         stubStore{},
		PremiumPeriod: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)

	return NewWebServer("8080", eng, tracker), eng
}

func doRequest(ws *WebServer, method, path string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ws.router.ServeHTTP(rec, req)
	return rec
}

// TestSolvencyDisplayUnits: the solvency view carries both raw smallest-unit
// strings and display-unit floats derived from the configured precision.
func TestSolvencyDisplayUnits(t *testing.T) {
	config.AmountDecimals = 6
	ws, eng := newTestServer(t)

	require.NoError(t, eng.ApplyDeposit(types.TrancheBTC, math.NewInt(1_500_000)))

	rec := doRequest(ws, http.MethodGet, "/api/solvency", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.Equal(t, "1500000", body["total_capital"])
	require.InDelta(t, 1.5, body["total_capital_display"].(float64), 1e-9)

	// BTC risk weight 0.50: effective capital is half the deposit.
	require.Equal(t, "750000", body["effective_capital"])
	require.InDelta(t, 0.75, body["effective_capital_display"].(float64), 1e-9)
	require.InDelta(t, 0.0, body["coverage_sold_display"].(float64), 1e-9)
}

// TestTrancheDisplayUnits: per-tranche records render display-unit capital,
// coverage and capacity alongside the raw strings.
func TestTrancheDisplayUnits(t *testing.T) {
	config.AmountDecimals = 6
	ws, eng := newTestServer(t)

	require.NoError(t, eng.SyncTranche(types.TrancheMEZZ, math.NewInt(2_000_000), math.NewInt(300_000)))

	rec := doRequest(ws, http.MethodGet, "/api/tranches/MEZZ", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.InDelta(t, 2.0, body["capital_display"].(float64), 1e-9)
	require.InDelta(t, 0.3, body["coverage_display"].(float64), 1e-9)

	// Headroom is capital x 0.95 ceiling minus coverage sold.
	require.Equal(t, "1600000", body["available_capacity"])
	require.InDelta(t, 1.6, body["available_capacity_display"].(float64), 1e-9)
}

// TestUnderwriteCheckDisplayInput: a check posted in display units converts
// through the configured precision before hitting the underwriting decision.
func TestUnderwriteCheckDisplayInput(t *testing.T) {
	config.AmountDecimals = 6
	ws, eng := newTestServer(t)

	require.NoError(t, eng.ApplyDeposit(types.TrancheBTC, math.NewInt(1_000_000)))

	rec := doRequest(ws, http.MethodPost, "/api/underwrite/check", `{"coverage_display": 0.25}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.Equal(t, "250000", body["coverage_amount"])
	require.InDelta(t, 0.25, body["coverage_amount_display"].(float64), 1e-9)
	require.Equal(t, true, body["accepted"])

	// Raw amount wins when both fields are set.
	rec = doRequest(ws, http.MethodPost, "/api/underwrite/check", `{"coverage_amount": "100000", "coverage_display": 0.25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "100000", body["coverage_amount"])

	// Neither field set is a bad request, not a rejection.
	rec = doRequest(ws, http.MethodPost, "/api/underwrite/check", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
