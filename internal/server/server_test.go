package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tillsync/server/internal/config"
	"github.com/tillsync/server/internal/handlers"
	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/repository"
	"github.com/tillsync/server/internal/services"
)

type testServer struct {
	app *App
	srv *httptest.Server
	cfg *config.Config
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}

	store, err := repository.OpenSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)

	app := NewApp(cfg, store, services.SystemClock, nil)
	srv := httptest.NewServer(app.Handler)
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})
	return &testServer{app: app, srv: srv, cfg: cfg}
}

// do sends a request and decodes the JSON response into out when out is non-nil
func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}, out interface{}, headers ...string) int {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(ts.cfg.Security.TokenHeader, token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) authenticate(t *testing.T, terminalID string) string {
	t.Helper()
	var resp models.AuthResponse
	status := ts.do(t, http.MethodPost, "/api/sync/auth", "", models.AuthRequest{TerminalID: terminalID}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestEndToEnd_TerminalScenario(t *testing.T) {
	ts := newTestServer(t)
	token := ts.authenticate(t, "T-9")

	batch := `{"items":[
		{"id":"tx-1","terminalId":"T-9","total":12.5},
		{"id":"tx-2","terminalId":"T-9","total":7}
	]}`

	var first models.AppendResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/transactions", token, batch, &first))
	assert.True(t, first.Success)
	assert.Equal(t, 2, first.AddedCount)

	var second models.AppendResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/transactions", token, batch, &second))
	assert.Equal(t, 0, second.AddedCount)
	assert.Equal(t, 2, second.Received)

	var pending models.PendingResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/transactions/pending", token, nil, &pending))
	ids := map[string]bool{}
	for _, item := range pending.Items {
		ids[item.ID()] = true
	}
	assert.Equal(t, map[string]bool{"tx-1": true, "tx-2": true}, ids)
	assert.Len(t, pending.Items, 4, "resubmissions are queued too")

	var drained models.PendingResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/transactions/pending", token, nil, &drained))
	assert.Empty(t, drained.Items)
	assert.Zero(t, drained.Count)

	var status models.StatusResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/status", token, nil, &status))
	assert.Equal(t, "T-9", status.TerminalID)
	assert.GreaterOrEqual(t, status.Collections["transactions"].ItemCount, 2)
}

func TestAuthGate(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"pull", http.MethodGet, "/api/sync/collections/products/data", ""},
		{"push", http.MethodPost, "/api/sync/collections/products/push", `{"items":[{"id":"p1"}]}`},
		{"append", http.MethodPost, "/api/sync/transactions", `{"items":[{"id":"tx-1"}]}`},
		{"drain", http.MethodGet, "/api/sync/transactions/pending", ""},
		{"reset", http.MethodPost, "/api/sync/reset/ALL", ""},
	}

	for _, tt := range tests {
		for _, token := range []string{"", "not-a-token"} {
			t.Run(tt.name+"/"+token, func(t *testing.T) {
				var resp models.ErrorResponse
				var body interface{}
				if tt.body != "" {
					body = tt.body
				}
				status := ts.do(t, tt.method, tt.path, token, body, &resp)
				assert.Equal(t, http.StatusUnauthorized, status)
				assert.False(t, resp.Success)
				assert.NotEmpty(t, resp.Message)
			})
		}
	}

	t.Run("rejected requests leave no trace", func(t *testing.T) {
		q := ts.app.Services.Store.Queries()
		ctx := context.Background()

		products, err := q.Collections.Load(ctx, "products")
		require.NoError(t, err)
		assert.Empty(t, products)

		count, err := q.Collections.Count(ctx, "transactions")
		require.NoError(t, err)
		assert.Zero(t, count)

		_, found, err := q.Settings.Get(ctx, repository.SettingsKeyPendingTx)
		require.NoError(t, err)
		assert.False(t, found)

		terminals, err := q.Terminals.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, terminals)
	})
}

func TestAuthenticate(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing terminal id", func(t *testing.T) {
		var resp models.ErrorResponse
		status := ts.do(t, http.MethodPost, "/api/sync/auth", "", `{"terminalId":"  "}`, &resp)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.False(t, resp.Success)
	})

	t.Run("malformed body", func(t *testing.T) {
		status := ts.do(t, http.MethodPost, "/api/sync/auth", "", `{`, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("logout revokes only the presented token", func(t *testing.T) {
		first := ts.authenticate(t, "T-1")
		second := ts.authenticate(t, "T-1")

		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/auth/logout", first, nil, nil))
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/sync/status", first, nil, nil))
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/status", second, nil, nil))
	})

	t.Run("terminals list shows the caller online", func(t *testing.T) {
		token := ts.authenticate(t, "T-2")

		var resp models.TerminalsResponse
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/terminals", token, nil, &resp))
		var found bool
		for _, term := range resp.Terminals {
			if term.TerminalID == "T-2" {
				found = true
				assert.Equal(t, models.TerminalOnline, term.Status)
			}
		}
		assert.True(t, found)
	})
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	token := ts.authenticate(t, "T-1")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid collection name", http.MethodGet, "/api/sync/collections/Bad%20Name/data", "", http.StatusBadRequest},
		{"reserved collection name", http.MethodGet, "/api/sync/collections/settings/metadata", "", http.StatusBadRequest},
		{"non-numeric sinceVersion", http.MethodGet, "/api/sync/collections/products/data?sinceVersion=abc", "", http.StatusBadRequest},
		{"invalid since", http.MethodGet, "/api/sync/delta/products?since=yesterday", "", http.StatusBadRequest},
		{"items not an array", http.MethodPost, "/api/sync/collections/products/push", `{"items":{"id":"p1"}}`, http.StatusBadRequest},
		{"item without id", http.MethodPost, "/api/sync/transactions", `{"items":[{"total":1}]}`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/sync/z-reports", "", http.StatusBadRequest},
		{"movement without product", http.MethodPost, "/api/sync/inventory/movements", `{"items":[{"id":"m1","qtyIn":1}]}`, http.StatusBadRequest},
		{"error report without message", http.MethodPost, "/api/sync/errors", `{"itemId":"x"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body interface{}
			if tt.body != "" {
				body = tt.body
			}
			var resp models.ErrorResponse
			status := ts.do(t, tt.method, tt.path, token, body, &resp)
			assert.Equal(t, tt.want, status)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestCollectionsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	token := ts.authenticate(t, "T-1")

	var push models.PushResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/collections/products/push", token,
		`{"items":[{"id":"p1","name":"Coffee","price":2.5},{"id":"p2","name":"Tea","price":2}]}`, &push))
	assert.Equal(t, 2, push.Count)
	assert.Equal(t, 2, push.Metadata.ItemCount)

	var pull models.PullResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/collections/products/data", token, nil, &pull))
	assert.Len(t, pull.Items, 2)
	assert.Equal(t, push.Metadata.Version, pull.Version)

	var upToDate models.PullResponse
	path := "/api/sync/collections/products/data?sinceVersion=" + jsonInt(pull.Version)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, token, nil, &upToDate))
	assert.True(t, upToDate.UpToDate)
	assert.Empty(t, upToDate.Items)

	var delta models.DeltaResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/delta/products", token, nil, &delta))
	assert.True(t, delta.IsFullDownload)
	assert.Len(t, delta.Items, 2)

	var collections models.CollectionsResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/collections", token, nil, &collections))
	assert.NotEmpty(t, collections.Collections)

	var cfg models.ConfigResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/config", token, nil, &cfg))
	assert.JSONEq(t, `{}`, string(cfg.Config))
}

func TestInventoryOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	token := ts.authenticate(t, "T-1")

	var added models.AppendResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/inventory/movements", token,
		`{"items":[
			{"id":"m1","terminalId":"T-1","productId":"P1","warehouseId":"W1","qtyIn":5,"createdAt":"2024-03-01T10:00:00Z"},
			{"id":"m2","terminalId":"T-1","productId":"P1","warehouseId":"W1","qtyOut":2,"createdAt":"2024-03-01T11:00:00Z"}
		]}`, &added))
	assert.Equal(t, 2, added.AddedCount)

	var balances models.StockBalancesResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/inventory/stock-balances?productId=P1", token, nil, &balances))
	require.Len(t, balances.Balances, 1)
	assert.Equal(t, "3", balances.Balances[0].Quantity.String())

	var kardex models.KardexResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/inventory/kardex/P1", token, nil, &kardex))
	require.Len(t, kardex.Entries, 2)
	assert.Equal(t, "5", kardex.Entries[0].Balance.String())
	assert.Equal(t, "3", kardex.Entries[1].Balance.String())

	var pending models.PendingResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/inventory/movements/pending", token, nil, &pending))
	assert.Equal(t, 2, pending.Count)

	var history models.HistoryResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/history/T-1", token, nil, &history))
	assert.Len(t, history.InventoryMovements, 2)
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t)
	token := ts.authenticate(t, "T-1")

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/cash/movements", token,
		`{"items":[{"id":"c1","terminalId":"T-1","amount":20}]}`, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/z-reports", token,
		`{"items":[{"id":"z1","terminalId":"T-1","createdAt":"2024-03-01T20:00:00Z"}]}`, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/errors", token,
		`{"error":"price mismatch","itemType":"product","itemId":"p1"}`, nil))

	var errs models.ErrorLogResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/errors", token, nil, &errs))
	require.Equal(t, 1, errs.Count)
	assert.Equal(t, "T-1", errs.Errors[0].TerminalID, "reporter is used when the body names no terminal")

	var ops models.OperationalStatusResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/operational-status", token, nil, &ops))
	require.Contains(t, ops.Terminals, "T-1")
	assert.Equal(t, 1, ops.Terminals["T-1"].ZReports)
	assert.Equal(t, 1, ops.Terminals["T-1"].Errors)
}

func TestReset(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("4321"), bcrypt.MinCost)
	require.NoError(t, err)
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Security.ManagerPinHash = string(hash)
	})
	token := ts.authenticate(t, "T-1")

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/transactions", token,
		`{"items":[{"id":"tx-1","terminalId":"T-1"},{"id":"tx-2","terminalId":"T-2"}]}`, nil))

	t.Run("requires the manager pin", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/api/sync/reset/T-1", token, nil, nil))
		assert.Equal(t, http.StatusForbidden,
			ts.do(t, http.MethodPost, "/api/sync/reset/T-1", token, nil, nil, "X-Manager-Pin", "0000"))
	})

	t.Run("wipes one terminal", func(t *testing.T) {
		var resp models.ResetResponse
		status := ts.do(t, http.MethodPost, "/api/sync/reset/T-1", token, nil, &resp, "X-Manager-Pin", "4321")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, int64(1), resp.Deleted["transactions"])
		assert.False(t, resp.TerminalRemoved)

		var pull models.PullResponse
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/collections/transactions/data", token, nil, &pull))
		require.Len(t, pull.Items, 1)
		assert.Equal(t, "tx-2", pull.Items[0].ID())
	})

	t.Run("includeTerminal revokes the caller", func(t *testing.T) {
		var resp models.ResetResponse
		status := ts.do(t, http.MethodPost, "/api/sync/reset/T-1?includeTerminal=true", token, nil, &resp, "X-Manager-Pin", "4321")
		require.Equal(t, http.StatusOK, status)
		assert.True(t, resp.TerminalRemoved)
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/sync/status", token, nil, nil))
	})
}

func TestHealthAndPing(t *testing.T) {
	ts := newTestServer(t)

	var ping models.PingResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sync/ping", "", nil, &ping))
	assert.True(t, ping.Success)
	assert.NotEmpty(t, ping.ServerTime)

	var health models.HealthResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "", nil, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Database)
	assert.Equal(t, "sqlite3", health.Dialect)
	assert.Zero(t, health.Sockets)

	var version handlers.VersionResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/version", "", nil, &version))
	assert.Equal(t, handlers.ProtocolVersion, version.ProtocolVersion)
	assert.NotEmpty(t, version.GoVersion)
}

func TestWebSocketNotifications(t *testing.T) {
	ts := newTestServer(t)
	token := ts.authenticate(t, "T-1")

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/sync/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{ts.cfg.Security.TokenHeader: {token}})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: services.WSTypeSubscribe, Payload: "products"}))
	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: services.WSTypePing}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong services.WSMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, services.WSTypePong, pong.Type)

	// the pong proves the subscribe was handled first
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/collections/products/push", token,
		`{"items":[{"id":"p1"}]}`, nil))

	var change struct {
		Type    string                            `json:"type"`
		Payload services.CollectionChangedPayload `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, services.WSTypeCollectionChanged, change.Type)
	assert.Equal(t, "products", change.Payload.Collection)
	assert.Equal(t, 1, change.Payload.ItemCount)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sync/reset/T-1", token, nil, nil))
	var reset struct {
		Type    string                        `json:"type"`
		Payload services.TerminalResetPayload `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&reset))
	assert.Equal(t, services.WSTypeTerminalReset, reset.Type)
	assert.Equal(t, "T-1", reset.Payload.TerminalID)
	assert.False(t, reset.Payload.TerminalRemoved)

	t.Run("rejects connections without a token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ignores a token in the query string", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
