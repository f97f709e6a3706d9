package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardmap/shardmap/internal/assign"
	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/directory"
	"github.com/shardmap/shardmap/internal/metastore"
	"github.com/shardmap/shardmap/pkg/health"
	"github.com/shardmap/shardmap/pkg/logger"
)

func testLogger() *logger.Logger {
	log := logger.New("server-test", "test")
	log.DisableConsoleOutput()
	return log
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cat, err := catalog.Load(context.Background(), metastore.NewMemory("mem://server-test"), testLogger())
	require.NoError(t, err)

	dir := directory.New(cat, directory.NewMemoryStore(), assign.NewHash(), testLogger())
	return NewServer(cat, dir, health.NewChecker(), testLogger())
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func addTestDimension(t *testing.T, srv *Server, name string) {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/v1/dimensions", map[string]interface{}{
		"name":          name,
		"key_type":      "string",
		"index_uri":     "mem://" + name,
		"index_dialect": "postgres",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func addTestNode(t *testing.T, srv *Server, dimension, name string) {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/dimensions/%s/nodes", dimension), map[string]interface{}{
		"name":     name,
		"uri":      "postgres://" + name + "/db",
		"capacity": 100,
		"dialect":  "postgres",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "shardmap", body["service"])
}

func TestDimensionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	addTestDimension(t, srv, "customers")

	w := doJSON(t, srv, http.MethodGet, "/api/v1/dimensions/customers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "customers", body["name"])
	assert.Equal(t, "string", body["key_type"])

	// Duplicate name conflicts.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/dimensions", map[string]interface{}{
		"name": "customers", "key_type": "string",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Unknown key type is a bad request.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/dimensions", map[string]interface{}{
		"name": "vendors", "key_type": "uuid",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Deletion is deliberately unimplemented.
	w = doJSON(t, srv, http.MethodDelete, "/api/v1/dimensions/customers", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/dimensions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKeyLifecycle(t *testing.T) {
	srv := newTestServer(t)
	addTestDimension(t, srv, "customers")
	addTestNode(t, srv, "customers", "node1")
	addTestNode(t, srv, "customers", "node2")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/dimensions/customers/keys", map[string]interface{}{
		"key": "acme",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.NotEmpty(t, created["node_name"])

	w = doJSON(t, srv, http.MethodGet, "/api/v1/dimensions/customers/keys/acme", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, created["node_name"], body["node_name"])
	assert.Equal(t, false, body["read_only"])

	// Move to a named node.
	target := "node1"
	if created["node_name"] == "node1" {
		target = "node2"
	}
	w = doJSON(t, srv, http.MethodPut, "/api/v1/dimensions/customers/keys/acme/node", map[string]interface{}{
		"node": target,
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, srv, http.MethodGet, "/api/v1/dimensions/customers/keys/acme", nil)
	body = decode(t, w)
	assert.Equal(t, target, body["node_name"])

	// Read-only toggle blocks deletion.
	w = doJSON(t, srv, http.MethodPut, "/api/v1/dimensions/customers/keys/acme/readonly", map[string]interface{}{
		"read_only": true,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, srv, http.MethodDelete, "/api/v1/dimensions/customers/keys/acme", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, srv, http.MethodPut, "/api/v1/dimensions/customers/keys/acme/readonly", map[string]interface{}{
		"read_only": false,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, srv, http.MethodDelete, "/api/v1/dimensions/customers/keys/acme", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/dimensions/customers/keys/acme", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSecondaryKeyEndpoints(t *testing.T) {
	srv := newTestServer(t)
	addTestDimension(t, srv, "products")
	addTestNode(t, srv, "products", "node1")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/dimensions/products/resources", map[string]interface{}{
		"name": "items", "id_type": "int64",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, srv, http.MethodPost, "/api/v1/dimensions/products/resources/items/indexes", map[string]interface{}{
		"column": "type", "key_type": "string",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, srv, http.MethodPost, "/api/v1/dimensions/products/keys", map[string]interface{}{
		"key": "Cutlery",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/dimensions/products/resources/items/indexes/type/keys", map[string]interface{}{
		"key": "Spork", "primary_key": "Cutlery",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, srv, http.MethodGet, "/api/v1/dimensions/products/resources/items/indexes/type/keys/Spork", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Cutlery", body["primary_key"])
	assert.Equal(t, "node1", body["node_name"])

	// Resource ids resolve through the same dimension.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/dimensions/products/resources/items/ids", map[string]interface{}{
		"id": "7", "primary_key": "Cutlery",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, srv, http.MethodGet, "/api/v1/dimensions/products/resources/items/ids/7", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "node1", body["node_name"])
}

func TestStatisticsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	addTestDimension(t, srv, "customers")
	addTestNode(t, srv, "customers", "node1")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/dimensions/customers/keys", map[string]interface{}{
		"key": "acme",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/dimensions/customers/statistics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	nodes, ok := body["nodes"].([]interface{})
	require.True(t, ok)
	require.Len(t, nodes, 1)
}

func TestCatalogReadOnlyEndpoint(t *testing.T) {
	srv := newTestServer(t)
	addTestDimension(t, srv, "customers")

	w := doJSON(t, srv, http.MethodPut, "/api/v1/catalog/readonly", map[string]interface{}{
		"read_only": true,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/dimensions", map[string]interface{}{
		"name": "vendors", "key_type": "string",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRebalanceEndpointRejectsNonBalancingPlan(t *testing.T) {
	srv := newTestServer(t)
	addTestDimension(t, srv, "customers")
	addTestNode(t, srv, "customers", "node1")
	addTestNode(t, srv, "customers", "node2")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/dimensions/customers/rebalance", map[string]interface{}{
		"migrations": []map[string]interface{}{
			{"key": "ghost", "source_node_id": 2, "destination_node_id": 3},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}
