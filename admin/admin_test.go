package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/maxpert/cdcrelay/cdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedQueue int

func (q fixedQueue) QueueDepth() int { return int(q) }

func newTestMux(t *testing.T, stats *Stats, secret string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	RegisterRoutes(mux, NewAdminHandlers("relay-1", stats, fixedQueue(3)), metrics, secret)
	return mux
}

func doRequest(t *testing.T, mux http.Handler, path string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestStatsRecordEvent(t *testing.T) {
	stats := NewStats()
	stats.RecordEvent("inventory.customers", cdc.OpCreate, false)
	stats.RecordEvent("inventory.customers", cdc.OpCreate, false)
	stats.RecordEvent("inventory.customers", cdc.OpDelete, false)
	stats.RecordEvent("inventory.customers", cdc.OpUpdate, true)
	stats.RecordEvent("", cdc.OpUnknown, false)

	snap, ok := stats.Table("inventory.customers")
	require.True(t, ok)
	assert.Equal(t, int64(2), snap.Operations["CREATE"])
	assert.Equal(t, int64(1), snap.Operations["DELETE"])
	assert.Equal(t, int64(0), snap.Operations["UPDATE"])
	assert.Equal(t, int64(1), snap.Filtered)
	assert.Equal(t, int64(3), snap.Total)

	unknown, ok := stats.Table(UnknownTable)
	require.True(t, ok)
	assert.Equal(t, int64(1), unknown.Operations["UNKNOWN"])

	_, ok = stats.Table("missing")
	assert.False(t, ok)

	totals := stats.Totals()
	assert.Equal(t, int64(4), totals.Total)
	assert.Equal(t, int64(1), totals.Filtered)
}

func TestStatsConcurrentRecord(t *testing.T) {
	stats := NewStats()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				stats.RecordEvent("t", cdc.OpRead, false)
			}
		}()
	}
	wg.Wait()

	snap, ok := stats.Table("t")
	require.True(t, ok)
	assert.Equal(t, int64(800), snap.Operations["READ"])
}

func TestStatsTablesPagination(t *testing.T) {
	stats := NewStats()
	for _, table := range []string{"c", "a", "d", "b"} {
		stats.RecordEvent(table, cdc.OpCreate, false)
	}

	page, hasMore := stats.Tables("", 2)
	assert.True(t, hasMore)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].Table)
	assert.Equal(t, "b", page[1].Table)

	page, hasMore = stats.Tables("b", 2)
	assert.False(t, hasMore)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Table)
	assert.Equal(t, "d", page[1].Table)
}

func TestHealthEndpoint(t *testing.T) {
	mux := newTestMux(t, NewStats(), "s3cret")

	rec, body := doRequest(t, mux, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["healthy"])
	assert.Equal(t, "relay-1", data["instance_id"])
}

func TestMetricsEndpoint(t *testing.T) {
	mux := newTestMux(t, NewStats(), "")

	rec, _ := doRequest(t, mux, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestStatsEndpoint(t *testing.T) {
	stats := NewStats()
	stats.RecordEvent("inventory.customers", cdc.OpCreate, false)
	mux := newTestMux(t, stats, "")

	rec, body := doRequest(t, mux, "/admin/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(3), data["queue_depth"])
}

func TestTableEndpoints(t *testing.T) {
	stats := NewStats()
	stats.RecordEvent("a", cdc.OpCreate, false)
	stats.RecordEvent("b", cdc.OpDelete, false)
	mux := newTestMux(t, stats, "")

	rec, body := doRequest(t, mux, "/admin/stats/tables?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["has_more"])
	assert.Equal(t, "a", body["last_key"])

	rec, body = doRequest(t, mux, "/admin/stats/tables?from=a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := body["data"].([]interface{})
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].(map[string]interface{})["table"])

	rec, _ = doRequest(t, mux, "/admin/stats/tables?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = doRequest(t, mux, "/admin/stats/tables/b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["operations"].(map[string]interface{})["DELETE"])

	rec, _ = doRequest(t, mux, "/admin/stats/tables/zzz", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	mux := newTestMux(t, NewStats(), "s3cret")

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"bad format", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized},
		{"wrong bearer", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"secret header", map[string]string{SecretHeader: "s3cret"}, http.StatusOK},
		{"wrong secret header", map[string]string{SecretHeader: "nope"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doRequest(t, mux, "/admin/stats", tt.headers)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
