package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/catalog"
	"github.com/angelmondragon/resale-ledger/internal/checkout"
	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/internal/ledger"
	"github.com/angelmondragon/resale-ledger/internal/reconcile"
	"github.com/angelmondragon/resale-ledger/pkg/config"
	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	"github.com/angelmondragon/resale-ledger/pkg/lock"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/metrics"
	"github.com/angelmondragon/resale-ledger/pkg/migrate"
	"github.com/angelmondragon/resale-ledger/pkg/outbox"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type testServer struct {
	conn    *gorm.DB
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:routes_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migrate.AutoMigrate(conn))

	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
	registry := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(registry)
	client := db.Wrap(conn)
	entries := ledger.NewRepository(conn)
	inventories := inventory.NewRepository(conn)
	lots := inventory.NewLotRepository(conn)
	historyRepo := history.NewRepository(conn)
	items := catalog.NewRepository(conn)
	locker := lock.NewKeyedMutex()
	events := outbox.NewService(outbox.NewRepository(conn), logg)

	engine, err := reconcile.NewEngine(conn, inventories, lots, reconcile.EngineOptions{RestateProfit: true, Metrics: ledgerMetrics})
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Tx: client, Entries: entries, Inventories: inventories, Lots: lots, History: historyRepo,
		Catalog: items, Reconciler: engine, Locker: locker, Outbox: events, Metrics: ledgerMetrics, Logger: logg,
	})
	require.NoError(t, err)
	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Tx: client, Repo: checkout.NewRepository(conn), Entries: entries, Inventories: inventories, Lots: lots,
		History: historyRepo, Catalog: items, Ledger: ledgerSvc, Reconciler: engine, Locker: locker,
		Outbox: events, Metrics: ledgerMetrics, Logger: logg,
	})
	require.NoError(t, err)

	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	return &testServer{
		conn:    conn,
		handler: NewRouter(cfg, logg, stubPinger{}, nil, registry, ledgerSvc, checkoutSvc),
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)

	var payload map[string]any
	if strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	}
	return resp, payload
}

func data(payload map[string]any) map[string]any {
	out, _ := payload["data"].(map[string]any)
	return out
}

func TestHealthRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp, payload := srv.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ready", data(payload)["status"])
}

func TestMetricsRouteExposesLedgerCounters(t *testing.T) {
	srv := newTestServer(t)
	item := models.CatalogItem{ID: uuid.New(), Name: "Camera", CostingPolicy: enums.CostingPolicyAverage}
	require.NoError(t, srv.conn.Create(&item).Error)
	resp, _ := srv.do(t, http.MethodPost, "/api/v1/inventory/purchases", `{"item_id":"`+item.ID.String()+`","condition":"used","quantity":2,"unit_price_cents":100}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inventory_operations_total")
}

func TestLedgerAndCheckoutFlow(t *testing.T) {
	srv := newTestServer(t)
	item := models.CatalogItem{ID: uuid.New(), Name: "Camera", CostingPolicy: enums.CostingPolicyAverage}
	require.NoError(t, srv.conn.Create(&item).Error)

	resp, payload := srv.do(t, http.MethodPost, "/api/v1/inventory/purchases",
		`{"item_id":"`+item.ID.String()+`","condition":"used","quantity":10,"unit_price_cents":100}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	inv := data(payload)["inventory"].(map[string]any)
	invID := inv["id"].(string)

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/inventory/purchases",
		`{"item_id":"`+item.ID.String()+`","condition":"used","quantity":10,"unit_price_cents":200}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp, payload = srv.do(t, http.MethodGet, "/api/v1/inventory/"+invID, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(150), data(payload)["average_purchase_price_cents"])
	assert.Equal(t, float64(20), data(payload)["quantity"])

	resp, payload = srv.do(t, http.MethodPost, "/api/v1/inventory/"+invID+"/sales", `{"quantity":30,"unit_price_cents":200}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "insufficient_stock", payload["error"].(map[string]any)["reason"])

	resp, payload = srv.do(t, http.MethodPost, "/api/v1/checkout/folders", `{"name":"Weekend fair"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	folderID := data(payload)["id"].(string)

	resp, payload = srv.do(t, http.MethodPost, "/api/v1/checkout/folders/"+folderID+"/items", `{"inventory_id":"`+invID+`","quantity":5}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	itemID := data(payload)["id"].(string)

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/checkout/folders/"+folderID+"/close", "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp, payload = srv.do(t, http.MethodPost, "/api/v1/checkout/items/"+itemID+"/sell", `{"sale_price_cents":200}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, "33.33", data(payload)["profit_rate"])
	entryID := data(payload)["id"].(string)

	resp, payload = srv.do(t, http.MethodDelete, "/api/v1/ledger/"+entryID, "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "checkout_managed", payload["error"].(map[string]any)["reason"])

	resp, payload = srv.do(t, http.MethodGet, "/api/v1/inventory/"+invID+"/check", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, data(payload)["in_sync"])

	resp, payload = srv.do(t, http.MethodPost, "/api/v1/checkout/folders/"+folderID+"/close", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "closed", data(payload)["status"])
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := srv.do(t, http.MethodGet, "/api/v1/orders", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
