package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/liquidity-sentinel/internal/allocator"
	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/collector"
	"github.com/aristath/liquidity-sentinel/internal/database"
	"github.com/aristath/liquidity-sentinel/internal/metrics"
	"github.com/aristath/liquidity-sentinel/internal/tasks"
	"github.com/aristath/liquidity-sentinel/internal/timeseries"
)

type fixture struct {
	server *Server
	tasks  *tasks.Store
	series *timeseries.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tasksDB, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { tasksDB.Close() })

	seriesDB, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { seriesDB.Close() })

	taskStore, err := tasks.NewStore(tasksDB.Conn(), zerolog.Nop())
	require.NoError(t, err)

	seriesStore, err := timeseries.NewStore(seriesDB.Conn(), zerolog.Nop())
	require.NoError(t, err)

	chains := []*chain.Spec{{ID: 8453, Name: "base"}}
	engine := metrics.NewEngine(seriesStore, zerolog.Nop())
	alloc := allocator.New(map[uint64]float64{8453: 8}, zerolog.Nop())
	coll := collector.New(nil, chains, seriesStore, engine, alloc, nil, zerolog.Nop())

	runner := tasks.NewRunner(taskStore, tasks.NewRegistry(), zerolog.Nop())

	srv := New(Config{
		Log:       zerolog.Nop(),
		Port:      0,
		DataDir:   t.TempDir(),
		Collector: coll,
		Tasks:     taskStore,
		Runner:    runner,
		Chains:    chains,
	})

	return &fixture{server: srv, tasks: taskStore, series: seriesStore}
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRatesEndpoint(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.series.InsertExchangeRate(timeseries.ExchangeRateSample{
		Timestamp:  time.Now().UTC(),
		ChainID:    8453,
		USDCOutput: "2000000000",
	}))

	rec, body := f.get(t, "/rates?chainId=8453&limit=5")
	assert.Equal(t, http.StatusOK, rec.Code)

	rates := body["rates"].([]interface{})
	require.Len(t, rates, 1)
	rate := rates[0].(map[string]interface{})
	assert.Equal(t, "2000000000", rate["usdcOutput"])

	rec, _ = f.get(t, "/rates?chainId=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPoolPricesEndpoint(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.series.InsertPoolPrice(timeseries.PoolObservation{
		Timestamp:        time.Now().UTC(),
		ChainID:          8453,
		PoolAddress:      "0x01",
		SqrtPriceX96:     "79228162514264337593543950336",
		Liquidity:        "1000",
		FeeGrowthGlobal0: "1",
		FeeGrowthGlobal1: "2",
	}))

	rec, body := f.get(t, "/pool-prices")
	assert.Equal(t, http.StatusOK, rec.Code)

	prices := body["poolPrices"].([]interface{})
	require.Len(t, prices, 1)
	price := prices[0].(map[string]interface{})

	// 256-bit quantities ride as decimal strings.
	assert.Equal(t, "79228162514264337593543950336", price["sqrtPriceX96"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "metrics")
	assert.Contains(t, body, "scores")

	scores := body["scores"].([]interface{})
	require.Len(t, scores, 1)
	score := scores[0].(map[string]interface{})
	assert.InDelta(t, 100.0, score["targetAllocation"], 1e-9)
}

func TestTaskEndpoints(t *testing.T) {
	f := newFixture(t)

	task, err := tasks.New("vault-sync-8453", []string{"chain:8453:manager"}, tasks.TxData{})
	require.NoError(t, err)
	require.NoError(t, f.tasks.AddTask(task))

	t.Run("list", func(t *testing.T) {
		rec, body := f.get(t, "/tasks")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, body["tasks"], 1)
	})

	t.Run("active", func(t *testing.T) {
		rec, body := f.get(t, "/tasks/active")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, body["tasks"], 1)
	})

	t.Run("by id", func(t *testing.T) {
		rec, body := f.get(t, "/tasks/"+task.ID)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, task.ID, body["id"])
	})

	t.Run("missing id", func(t *testing.T) {
		rec, _ := f.get(t, "/tasks/no-such-task")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad range", func(t *testing.T) {
		rec, _ := f.get(t, "/tasks?from=yesterday")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestForceStartUnknownDefinition(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/tasks/no-such-action/start", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTaskHubBroadcast(t *testing.T) {
	hub := NewTaskHub(zerolog.Nop())

	ch := hub.subscribe()
	require.NotNil(t, ch)

	task, err := tasks.New("vault-sync-8453", nil, nil)
	require.NoError(t, err)
	hub.Broadcast(task)

	select {
	case got := <-ch:
		assert.Equal(t, task.ID, got.ID)
	default:
		t.Fatal("expected a broadcast task")
	}

	hub.Close()
	_, ok := <-ch
	assert.False(t, ok, "close must drain subscribers")
}
