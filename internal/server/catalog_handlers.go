package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/dialect"
	"github.com/shardmap/shardmap/internal/keytype"
	"github.com/shardmap/shardmap/pkg/logger"
)

// CatalogHandlers serves the structural endpoints: dimensions, nodes,
// resources, and secondary indexes.
type CatalogHandlers struct {
	catalog *catalog.Catalog
	logger  *logger.Logger
}

// NewCatalogHandlers creates the handler set.
func NewCatalogHandlers(cat *catalog.Catalog, log *logger.Logger) *CatalogHandlers {
	return &CatalogHandlers{catalog: cat, logger: log}
}

func dimensionResponse(d *catalog.PartitionDimension) map[string]interface{} {
	return map[string]interface{}{
		"id":            d.ID,
		"name":          d.Name,
		"key_type":      string(d.KeyType),
		"index_uri":     d.IndexURI,
		"index_dialect": string(d.IndexDialect),
	}
}

func nodeResponse(n *catalog.Node) map[string]interface{} {
	return map[string]interface{}{
		"id":        n.ID,
		"name":      n.Name,
		"uri":       n.URI,
		"host":      n.Host,
		"capacity":  n.Capacity,
		"read_only": n.ReadOnly,
		"dialect":   string(n.Dialect),
	}
}

func resourceResponse(r *catalog.Resource) map[string]interface{} {
	return map[string]interface{}{
		"id":      r.ID,
		"name":    r.Name,
		"id_type": string(r.IDType),
	}
}

func secondaryIndexResponse(s *catalog.SecondaryIndex) map[string]interface{} {
	return map[string]interface{}{
		"id":       s.ID,
		"column":   s.ColumnName,
		"key_type": string(s.KeyType),
	}
}

// ShowCatalog handles GET /api/v1/catalog
func (h *CatalogHandlers) ShowCatalog(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()

	dimensions := make([]map[string]interface{}, 0, len(snap.Dimensions))
	for _, d := range snap.Dimensions {
		entry := dimensionResponse(d)

		nodes := make([]map[string]interface{}, 0)
		for _, n := range snap.NodesOf(d.ID) {
			nodes = append(nodes, nodeResponse(n))
		}
		entry["nodes"] = nodes

		resources := make([]map[string]interface{}, 0)
		for _, res := range snap.ResourcesOf(d.ID) {
			re := resourceResponse(res)
			indexes := make([]map[string]interface{}, 0)
			for _, si := range snap.SecondaryIndexesOf(res.ID) {
				indexes = append(indexes, secondaryIndexResponse(si))
			}
			re["secondary_indexes"] = indexes
			resources = append(resources, re)
		}
		entry["resources"] = resources

		dimensions = append(dimensions, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"revision":   snap.Revision,
		"read_only":  snap.ReadOnly,
		"dimensions": dimensions,
	})
}

// SetReadOnly handles PUT /api/v1/catalog/readonly
func (h *CatalogHandlers) SetReadOnly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReadOnly bool `json:"read_only"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.catalog.UpdateCatalogReadOnly(ctx, req.ReadOnly); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"read_only": req.ReadOnly,
		"revision":  h.catalog.Revision(),
	})
}

// ListDimensions handles GET /api/v1/dimensions
func (h *CatalogHandlers) ListDimensions(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()
	dimensions := make([]map[string]interface{}, 0, len(snap.Dimensions))
	for _, d := range snap.Dimensions {
		dimensions = append(dimensions, dimensionResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dimensions": dimensions})
}

// AddDimension handles POST /api/v1/dimensions
func (h *CatalogHandlers) AddDimension(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		KeyType      string `json:"key_type"`
		IndexURI     string `json:"index_uri,omitempty"`
		IndexDialect string `json:"index_dialect,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	kt, err := keytype.Parse(req.KeyType)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	indexDialect := dialect.Postgres
	if req.IndexDialect != "" {
		indexDialect, err = dialect.Parse(req.IndexDialect)
		if err != nil {
			badRequest(w, "%v", err)
			return
		}
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	dim, err := h.catalog.AddPartitionDimension(ctx, &catalog.PartitionDimension{
		Name:         req.Name,
		KeyType:      kt,
		IndexURI:     req.IndexURI,
		IndexDialect: indexDialect,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dimensionResponse(dim))
}

// ShowDimension handles GET /api/v1/dimensions/{dimension}
func (h *CatalogHandlers) ShowDimension(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()
	dim, err := snap.DimensionByName(mux.Vars(r)["dimension"])
	if err != nil {
		writeError(w, err)
		return
	}

	entry := dimensionResponse(dim)
	nodes := make([]map[string]interface{}, 0)
	for _, n := range snap.NodesOf(dim.ID) {
		nodes = append(nodes, nodeResponse(n))
	}
	entry["nodes"] = nodes
	writeJSON(w, http.StatusOK, entry)
}

// DeleteDimension handles DELETE /api/v1/dimensions/{dimension}
func (h *CatalogHandlers) DeleteDimension(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.catalog.DeletePartitionDimension(ctx, mux.Vars(r)["dimension"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNodes handles GET /api/v1/dimensions/{dimension}/nodes
func (h *CatalogHandlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.catalog.Nodes(mux.Vars(r)["dimension"])
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		entries = append(entries, nodeResponse(n))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": entries})
}

// AddNode handles POST /api/v1/dimensions/{dimension}/nodes
func (h *CatalogHandlers) AddNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string  `json:"name"`
		URI      string  `json:"uri"`
		Host     string  `json:"host,omitempty"`
		Username string  `json:"username,omitempty"`
		Password string  `json:"password,omitempty"`
		Capacity float64 `json:"capacity"`
		ReadOnly bool    `json:"read_only"`
		Dialect  string  `json:"dialect"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	d, err := dialect.Parse(req.Dialect)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	node, err := h.catalog.AddNode(ctx, mux.Vars(r)["dimension"], &catalog.Node{
		Name:     req.Name,
		URI:      req.URI,
		Host:     req.Host,
		Username: req.Username,
		Password: req.Password,
		Capacity: req.Capacity,
		ReadOnly: req.ReadOnly,
		Dialect:  d,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, nodeResponse(node))
}

// ModifyNode handles PUT /api/v1/dimensions/{dimension}/nodes/{node}
func (h *CatalogHandlers) ModifyNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	existing, err := h.catalog.Node(vars["dimension"], vars["node"])
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Name     *string  `json:"name,omitempty"`
		URI      *string  `json:"uri,omitempty"`
		Capacity *float64 `json:"capacity,omitempty"`
		ReadOnly *bool    `json:"read_only,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.URI != nil {
		updated.URI = *req.URI
	}
	if req.Capacity != nil {
		updated.Capacity = *req.Capacity
	}
	if req.ReadOnly != nil {
		updated.ReadOnly = *req.ReadOnly
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.catalog.UpdateNode(ctx, &updated); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeResponse(&updated))
}

// DeleteNode handles DELETE /api/v1/dimensions/{dimension}/nodes/{node}
func (h *CatalogHandlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.catalog.DeleteNode(ctx, vars["dimension"], vars["node"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListResources handles GET /api/v1/dimensions/{dimension}/resources
func (h *CatalogHandlers) ListResources(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()
	dim, err := snap.DimensionByName(mux.Vars(r)["dimension"])
	if err != nil {
		writeError(w, err)
		return
	}

	resources := make([]map[string]interface{}, 0)
	for _, res := range snap.ResourcesOf(dim.ID) {
		entry := resourceResponse(res)
		indexes := make([]map[string]interface{}, 0)
		for _, si := range snap.SecondaryIndexesOf(res.ID) {
			indexes = append(indexes, secondaryIndexResponse(si))
		}
		entry["secondary_indexes"] = indexes
		resources = append(resources, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resources": resources})
}

// AddResource handles POST /api/v1/dimensions/{dimension}/resources
func (h *CatalogHandlers) AddResource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		IDType string `json:"id_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	idType, err := keytype.Parse(req.IDType)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	resource, err := h.catalog.AddResource(ctx, mux.Vars(r)["dimension"], &catalog.Resource{
		Name:   req.Name,
		IDType: idType,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resourceResponse(resource))
}

// AddSecondaryIndex handles POST /api/v1/dimensions/{dimension}/resources/{resource}/indexes
func (h *CatalogHandlers) AddSecondaryIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Column  string `json:"column"`
		KeyType string `json:"key_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	kt, err := keytype.Parse(req.KeyType)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	vars := mux.Vars(r)

	ctx, cancel := requestContext(r)
	defer cancel()

	index, err := h.catalog.AddSecondaryIndex(ctx, vars["dimension"], vars["resource"], &catalog.SecondaryIndex{
		ColumnName: req.Column,
		KeyType:    kt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, secondaryIndexResponse(index))
}
