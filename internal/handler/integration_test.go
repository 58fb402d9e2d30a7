//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aus-receiving/api/internal/cache"
	"github.com/aus-receiving/api/internal/config"
	"github.com/aus-receiving/api/internal/router"
	"github.com/aus-receiving/api/internal/storage"
	"github.com/aus-receiving/api/internal/ws"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"
)

// TestIntegrationFlow runs the receiving lifecycle through the real router
// against PostgreSQL.
func TestIntegrationFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connStr := setupPostgresContainer(t, ctx)
	runMigrations(t, connStr)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := storage.New(ctx, storage.Options{DSN: connStr, MaxConns: 4}, logger)
	require.NoError(t, err)
	defer db.Close()

	seedReceivingData(t, ctx, db)

	cfg := &config.Config{
		JWTSecret:        "integration-test-secret",
		DBMaxRetries:     3,
		DBRetryBaseDelay: 10 * time.Millisecond,
		RequestTimeout:   10 * time.Second,
		AllowedOrigins:   []string{"http://localhost:5173"},
	}
	prober := storage.NewProber(db, time.Second, logger)
	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	server := httptest.NewServer(router.New(cfg, logger, db, prober, cache.Noop{}, hub))
	defer server.Close()

	token := login(t, server, "dock-1", "password123")

	// --- 1. Open lines of order 100 ---
	lines := httpGetList(t, server, "/orders/100/lines", token)
	require.Len(t, lines, 2)

	// --- 2. Full receipt terminates the line and mirrors it ---
	status, resp := httpPostJSON(t, server, "/receipts", map[string]interface{}{
		"barcode":      "ABC123",
		"received_qty": 10,
	}, token)
	require.Equal(t, http.StatusOK, status, resp)
	received := resp["lines"].([]interface{})
	require.Len(t, received, 1)
	line := received[0].(map[string]interface{})
	require.Equal(t, true, line["terminated"])
	require.Equal(t, false, line["pending"])
	require.Equal(t, true, line["mirrored"])
	require.Equal(t, "10", line["received_qty"])
	require.Equal(t, "dock-1", line["recorded_by"])
	fullLineID := line["id"].(string)

	lines = httpGetList(t, server, "/orders/100/lines", token)
	require.Len(t, lines, 1, "terminated line leaves the open list")
	require.Equal(t, "XYZ999", lines[0]["barcode"])

	// --- 3. Short receipt leaves the line pending ---
	status, resp = httpPostJSON(t, server, "/receipts", map[string]interface{}{
		"barcode":      "XYZ999",
		"received_qty": 3,
		"order_id":     "100",
	}, token)
	require.Equal(t, http.StatusOK, status, resp)
	line = resp["lines"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, false, line["terminated"])
	require.Equal(t, true, line["pending"])

	pending := httpGetList(t, server, "/pending-lines?supplier_code=S1", token)
	require.Len(t, pending, 1)
	require.Equal(t, "XYZ999", pending[0]["barcode"])
	require.Equal(t, "3", pending[0]["received_qty"])
	require.Equal(t, "Acme Foods", pending[0]["supplier_name"])

	require.Empty(t, httpGetList(t, server, "/pending-lines?supplier_code=S2", token))

	partial := httpGetList(t, server, "/orders/100/partial-receipts", token)
	require.Len(t, partial, 1)
	require.Equal(t, "XYZ999", partial[0]["barcode"])

	// --- 4. A superseded line becomes visible in the active view once received ---
	require.Empty(t, activeViewBarcodes(t, ctx, db, "90"))
	status, resp = httpPostJSON(t, server, "/receipts", map[string]interface{}{
		"barcode":      "OLD1",
		"received_qty": "1.5",
	}, token)
	require.Equal(t, http.StatusOK, status, resp)
	line = resp["lines"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, true, line["mirrored"])
	require.Equal(t, "superseded", line["placement"])
	require.Equal(t, []string{"OLD1"}, activeViewBarcodes(t, ctx, db, "90"))

	// --- 5. Lines added to an order with pending superseded lines go superseded ---
	status, resp = httpPostJSON(t, server, "/orders/90/lines", map[string]interface{}{
		"barcode":       "NEW90",
		"item_code":     "I1",
		"supplier_code": "S1",
		"ordered_qty":   2,
	}, token)
	require.Equal(t, http.StatusCreated, status, resp)
	require.Equal(t, "superseded", resp["placement"])

	status, resp = httpPostJSON(t, server, "/orders/300/lines", map[string]interface{}{
		"barcode":       "NEW300",
		"item_code":     "I2",
		"supplier_code": "S2",
		"ordered_qty":   "0.25",
	}, token)
	require.Equal(t, http.StatusCreated, status, resp)
	require.Equal(t, "active", resp["placement"])
	require.Equal(t, "0.25", resp["line"].(map[string]interface{})["ordered_qty"])

	// --- 6. AddLine rejections ---
	status, _ = httpPostJSON(t, server, "/orders/300/lines", map[string]interface{}{
		"barcode": "ABC123", "item_code": "I1", "supplier_code": "S1", "ordered_qty": 1,
	}, token)
	require.Equal(t, http.StatusConflict, status)

	status, _ = httpPostJSON(t, server, "/orders/300/lines", map[string]interface{}{
		"barcode": "MISMATCH", "item_code": "I1", "supplier_code": "S2", "ordered_qty": 1,
	}, token)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = httpPostJSON(t, server, "/orders/300/lines", map[string]interface{}{
		"barcode": "GHOST", "item_code": "NOPE", "supplier_code": "S1", "ordered_qty": 1,
	}, token)
	require.Equal(t, http.StatusNotFound, status)

	// --- 7. Batch sync is all-or-nothing ---
	status, _ = httpPostJSON(t, server, "/receipts/sync", map[string]interface{}{
		"items": []map[string]interface{}{
			{"barcode": "XYZ999", "received_qty": 5},
			{"barcode": "UNKNOWN", "received_qty": 1},
		},
	}, token)
	require.Equal(t, http.StatusNotFound, status)
	pending = httpGetList(t, server, "/pending-lines?supplier_code=S1", token)
	for _, p := range pending {
		if p["barcode"] == "XYZ999" {
			require.Equal(t, "3", p["received_qty"], "rejected batch must not apply earlier items")
		}
	}

	status, resp = httpPostJSON(t, server, "/receipts/sync", map[string]interface{}{
		"items": []map[string]interface{}{
			{"barcode": "XYZ999", "received_qty": 5},
		},
	}, token)
	require.Equal(t, http.StatusOK, status, resp)
	require.Equal(t, float64(1), resp["count"])

	// --- 8. Receipt history ---
	history := httpGetList(t, server, "/lines/"+fullLineID+"/receipts", token)
	require.Len(t, history, 1)
	require.Equal(t, true, history[0]["terminated"])

	// --- 9. Catalog lookups ---
	_, item := httpGet(t, server, "/catalog/items/I2/supplier", token)
	require.Equal(t, "S2", item["supplier_code"])
	_, item = httpGet(t, server, "/catalog/barcodes/333931", token)
	require.Equal(t, "I1", item["item_code"])

	// --- 10. Quantities finer than the stored scale are rejected ---
	status, _ = httpPostJSON(t, server, "/receipts", map[string]interface{}{
		"barcode": "XYZ999", "received_qty": json.Number("5.0004"),
	}, token)
	require.Equal(t, http.StatusBadRequest, status)

	// --- 11. Bulk import (supervisors only) ---
	importBody := map[string]interface{}{
		"lines": []map[string]interface{}{
			{"order_id": "100", "barcode": "XYZ999", "item_code": "I1", "supplier_code": "S1", "ordered_qty": 6},
			{"order_id": "400", "barcode": "IMP1", "item_code": "I9", "supplier_code": "S1", "ordered_qty": 7},
		},
	}
	status, _ = httpPostJSON(t, server, "/orders/import", importBody, token)
	require.Equal(t, http.StatusForbidden, status)

	leadToken := login(t, server, "lead-1", "password123")
	status, resp = httpPostJSON(t, server, "/orders/import", importBody, leadToken)
	require.Equal(t, http.StatusOK, status, resp)
	require.Equal(t, float64(1), resp["created"])
	require.Equal(t, float64(1), resp["updated"])

	imported := resp["lines"].([]interface{})
	reopened := imported[0].(map[string]interface{})
	require.Equal(t, false, reopened["created"])
	require.Equal(t, false, reopened["terminated"], "received 5 against a new order of 6 reopens the line")
	require.Equal(t, true, reopened["pending"])
	require.Equal(t, "5", reopened["received_qty"])
	fresh := imported[1].(map[string]interface{})
	require.Equal(t, true, fresh["created"])
	require.Equal(t, "active", fresh["placement"])

	lines = httpGetList(t, server, "/orders/400/lines", token)
	require.Len(t, lines, 1)
	require.Equal(t, "IMP1", lines[0]["barcode"])

	status, _ = httpPostJSON(t, server, "/orders/import", map[string]interface{}{
		"lines": []map[string]interface{}{
			{"order_id": "500", "barcode": "ABC123", "item_code": "I1", "supplier_code": "S1", "ordered_qty": 1},
		},
	}, leadToken)
	require.Equal(t, http.StatusConflict, status, "barcode already on order 100")

	// --- 12. Health ---
	status, health := httpGet(t, server, "/health", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "closed", health["breaker"])
}

// --- Setup helpers ---

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("receiving_test"),
		tcpostgres.WithUsername("receiving"),
		tcpostgres.WithPassword("receiving"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	// Connect with stdlib for migrate
	sqlDB, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "open db for migrations")
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	require.NoError(t, err, "create migrate driver")

	// Go test sets cwd to the package directory.
	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	require.NoError(t, err, "create migrate instance")

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("run migrations: %v", err)
	}
}

func seedReceivingData(t *testing.T, ctx context.Context, db *storage.DB) {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	stmts := []struct {
		sql  string
		args []interface{}
	}{
		{`INSERT INTO suppliers (code, name) VALUES ('S1', 'Acme Foods'), ('S2', 'Bolt Hardware')`, nil},
		{`INSERT INTO catalog_items (item_code, barcode, supplier_code)
		  VALUES ('I1', '4006381333931', 'S1'), ('I2', '5012345678900', 'S2')`, nil},
		{`INSERT INTO users (name, hashed_password, role) VALUES ($1, $2, 'RECEIVER')`, []interface{}{"dock-1", string(hashed)}},
		{`INSERT INTO users (name, hashed_password, role) VALUES ($1, $2, 'SUPERVISOR')`, []interface{}{"lead-1", string(hashed)}},
		{`INSERT INTO order_lines (order_id, item_code, barcode, ordered_qty, supplier_code, placement)
		  VALUES ('100', 'I1', 'ABC123', 10, 'S1', 'active'),
		         ('100', 'I1', 'XYZ999', 5, 'S1', 'active'),
		         ('90', 'I1', 'OLD1', 4, 'S1', 'superseded')`, nil},
	}
	for _, s := range stmts {
		_, err := db.Exec(ctx, s.sql, s.args...)
		require.NoError(t, err, s.sql)
	}
}

// activeViewBarcodes reads the active view directly; the API falls back to
// the superseded view when it is empty.
func activeViewBarcodes(t *testing.T, ctx context.Context, db *storage.DB, orderID string) []string {
	t.Helper()
	rows, err := db.Query(ctx,
		`SELECT barcode FROM order_lines
		 WHERE order_id = $1 AND (placement = 'active' OR recorded_at IS NOT NULL)
		 ORDER BY barcode`, orderID)
	require.NoError(t, err)
	defer rows.Close()

	barcodes := []string{}
	for rows.Next() {
		var b string
		require.NoError(t, rows.Scan(&b))
		barcodes = append(barcodes, b)
	}
	require.NoError(t, rows.Err())
	return barcodes
}

// --- API call helpers ---

func login(t *testing.T, server *httptest.Server, name, password string) string {
	t.Helper()
	status, resp := httpPostJSON(t, server, "/auth/login", map[string]interface{}{
		"name":     name,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, status, resp)
	token, ok := resp["access_token"].(string)
	require.True(t, ok && token != "", "no access_token in response: %+v", resp)
	return token
}

func httpPostJSON(t *testing.T, server *httptest.Server, path string, body interface{}, token string) (int, map[string]interface{}) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest("POST", server.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doJSON(t, req)
}

func httpGet(t *testing.T, server *httptest.Server, path, token string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest("GET", server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doJSON(t, req)
}

func httpGetList(t *testing.T, server *httptest.Server, path, token string) []map[string]interface{} {
	t.Helper()
	req, err := http.NewRequest("GET", server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, path)

	var out []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func doJSON(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}
