package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shardmap/shardmap/internal/balance"
	"github.com/shardmap/shardmap/internal/directory"
	"github.com/shardmap/shardmap/pkg/logger"
)

// KeyHandlers serves the directory endpoints: primary keys, secondary keys,
// resource ids, statistics, and rebalancing.
type KeyHandlers struct {
	directory *directory.Directory
	logger    *logger.Logger
}

// NewKeyHandlers creates the handler set.
func NewKeyHandlers(dir *directory.Directory, log *logger.Logger) *KeyHandlers {
	return &KeyHandlers{directory: dir, logger: log}
}

// parseKey converts the string form of a key path variable using the
// dimension's key type.
func (h *KeyHandlers) parseKey(dimensionName, raw string) (interface{}, error) {
	dim, err := h.directory.Catalog().PartitionDimension(dimensionName)
	if err != nil {
		return nil, err
	}
	return dim.KeyType.ParseValue(raw)
}

// InsertPrimaryKey handles POST /api/v1/dimensions/{dimension}/keys
func (h *KeyHandlers) InsertPrimaryKey(w http.ResponseWriter, r *http.Request) {
	dimension := mux.Vars(r)["dimension"]

	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if req.Key == "" {
		badRequest(w, "key is required")
		return
	}
	key, err := h.parseKey(dimension, req.Key)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	node, err := h.directory.InsertPrimaryKey(ctx, dimension, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key":       req.Key,
		"node_id":   node.ID,
		"node_name": node.Name,
	})
}

// ShowPrimaryKey handles GET /api/v1/dimensions/{dimension}/keys/{key}
func (h *KeyHandlers) ShowPrimaryKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, err := h.parseKey(vars["dimension"], vars["key"])
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	node, err := h.directory.GetNodeOfPrimaryKey(ctx, vars["dimension"], key)
	if err != nil {
		writeError(w, err)
		return
	}
	readOnly, err := h.directory.GetReadOnlyOfPrimaryKey(ctx, vars["dimension"], key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":       vars["key"],
		"node_id":   node.ID,
		"node_name": node.Name,
		"read_only": readOnly,
	})
}

// DeletePrimaryKey handles DELETE /api/v1/dimensions/{dimension}/keys/{key}
func (h *KeyHandlers) DeletePrimaryKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, err := h.parseKey(vars["dimension"], vars["key"])
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.directory.DeletePrimaryKey(ctx, vars["dimension"], key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MovePrimaryKey handles PUT /api/v1/dimensions/{dimension}/keys/{key}/node
func (h *KeyHandlers) MovePrimaryKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, err := h.parseKey(vars["dimension"], vars["key"])
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Node string `json:"node"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if req.Node == "" {
		badRequest(w, "node is required")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.directory.UpdatePrimaryKeyNode(ctx, vars["dimension"], key, req.Node); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":  vars["key"],
		"node": req.Node,
	})
}

// SetPrimaryKeyReadOnly handles PUT /api/v1/dimensions/{dimension}/keys/{key}/readonly
func (h *KeyHandlers) SetPrimaryKeyReadOnly(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, err := h.parseKey(vars["dimension"], vars["key"])
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		ReadOnly bool `json:"read_only"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.directory.UpdatePrimaryKeyReadOnly(ctx, vars["dimension"], key, req.ReadOnly); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":       vars["key"],
		"read_only": req.ReadOnly,
	})
}

// parseSecondaryKey converts the string form of a secondary key path
// variable using the index's key type.
func (h *KeyHandlers) parseSecondaryKey(dimension, resource, column, raw string) (interface{}, error) {
	idx, err := h.directory.Catalog().SecondaryIndex(dimension, resource, column)
	if err != nil {
		return nil, err
	}
	return idx.KeyType.ParseValue(raw)
}

// InsertSecondaryKey handles POST .../indexes/{column}/keys
func (h *KeyHandlers) InsertSecondaryKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		Key        string `json:"key"`
		PrimaryKey string `json:"primary_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if req.Key == "" || req.PrimaryKey == "" {
		badRequest(w, "key and primary_key are required")
		return
	}
	sKey, err := h.parseSecondaryKey(vars["dimension"], vars["resource"], vars["column"], req.Key)
	if err != nil {
		writeError(w, err)
		return
	}
	pKey, err := h.parseKey(vars["dimension"], req.PrimaryKey)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.directory.InsertSecondaryKey(ctx, vars["dimension"], vars["resource"], vars["column"], sKey, pKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key":         req.Key,
		"primary_key": req.PrimaryKey,
	})
}

// ShowSecondaryKey handles GET .../indexes/{column}/keys/{key}
func (h *KeyHandlers) ShowSecondaryKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sKey, err := h.parseSecondaryKey(vars["dimension"], vars["resource"], vars["column"], vars["key"])
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	pKey, err := h.directory.GetPrimaryKeyOfSecondaryKey(ctx, vars["dimension"], vars["resource"], vars["column"], sKey)
	if err != nil {
		writeError(w, err)
		return
	}
	node, err := h.directory.GetNodeOfPrimaryKey(ctx, vars["dimension"], pKey)
	if err != nil {
		writeError(w, err)
		return
	}

	dim, err := h.directory.Catalog().PartitionDimension(vars["dimension"])
	if err != nil {
		writeError(w, err)
		return
	}
	formatted, err := dim.KeyType.FormatValue(pKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":         vars["key"],
		"primary_key": formatted,
		"node_id":     node.ID,
		"node_name":   node.Name,
	})
}

// DeleteSecondaryKey handles DELETE .../indexes/{column}/keys/{key}
func (h *KeyHandlers) DeleteSecondaryKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sKey, err := h.parseSecondaryKey(vars["dimension"], vars["resource"], vars["column"], vars["key"])
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.directory.DeleteSecondaryKey(ctx, vars["dimension"], vars["resource"], vars["column"], sKey); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RepointSecondaryKey handles PUT .../indexes/{column}/keys/{key}/primary
func (h *KeyHandlers) RepointSecondaryKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sKey, err := h.parseSecondaryKey(vars["dimension"], vars["resource"], vars["column"], vars["key"])
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		PrimaryKey string `json:"primary_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if req.PrimaryKey == "" {
		badRequest(w, "primary_key is required")
		return
	}
	pKey, err := h.parseKey(vars["dimension"], req.PrimaryKey)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.directory.UpdatePrimaryKeyOfSecondaryKey(ctx, vars["dimension"], vars["resource"], vars["column"], sKey, pKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":         vars["key"],
		"primary_key": req.PrimaryKey,
	})
}

// parseResourceID converts the string form of a resource id path variable
// using the resource's id type.
func (h *KeyHandlers) parseResourceID(dimension, resource, raw string) (interface{}, error) {
	res, err := h.directory.Catalog().Resource(dimension, resource)
	if err != nil {
		return nil, err
	}
	return res.IDType.ParseValue(raw)
}

// InsertResourceID handles POST .../resources/{resource}/ids
func (h *KeyHandlers) InsertResourceID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		ID         string `json:"id"`
		PrimaryKey string `json:"primary_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if req.ID == "" || req.PrimaryKey == "" {
		badRequest(w, "id and primary_key are required")
		return
	}
	rid, err := h.parseResourceID(vars["dimension"], vars["resource"], req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	pKey, err := h.parseKey(vars["dimension"], req.PrimaryKey)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.directory.InsertResourceID(ctx, vars["dimension"], vars["resource"], rid, pKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":          req.ID,
		"primary_key": req.PrimaryKey,
	})
}

// ShowResourceID handles GET .../resources/{resource}/ids/{id}
func (h *KeyHandlers) ShowResourceID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rid, err := h.parseResourceID(vars["dimension"], vars["resource"], vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	node, err := h.directory.GetNodeOfResourceID(ctx, vars["dimension"], vars["resource"], rid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        vars["id"],
		"node_id":   node.ID,
		"node_name": node.Name,
	})
}

// DeleteResourceID handles DELETE .../resources/{resource}/ids/{id}
func (h *KeyHandlers) DeleteResourceID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rid, err := h.parseResourceID(vars["dimension"], vars["resource"], vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.directory.DeleteResourceID(ctx, vars["dimension"], vars["resource"], rid); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShowStatistics handles GET /api/v1/dimensions/{dimension}/statistics
func (h *KeyHandlers) ShowStatistics(w http.ResponseWriter, r *http.Request) {
	dimension := mux.Vars(r)["dimension"]

	ctx, cancel := requestContext(r)
	defer cancel()

	stats, err := h.directory.NodeStatistics(ctx, dimension)
	if err != nil {
		writeError(w, err)
		return
	}

	validator := balance.NewPlanValidator(balance.NewHalfFull())
	nodes := make([]map[string]interface{}, 0, len(stats))
	for _, ns := range stats {
		keys := make([]map[string]interface{}, 0, len(ns.Keys))
		for _, k := range ns.Keys {
			keys = append(keys, map[string]interface{}{
				"key":                k.Key,
				"child_record_count": k.ChildRecordCount,
			})
		}
		nodes = append(nodes, map[string]interface{}{
			"node_id":   ns.NodeID,
			"node_name": ns.NodeName,
			"capacity":  ns.Capacity,
			"load":      ns.Load(),
			"fill":      ns.Fill(),
			"keys":      keys,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dimension": dimension,
		"balanced":  validator.IsBalanced(stats),
		"nodes":     nodes,
	})
}

// Rebalance handles POST /api/v1/dimensions/{dimension}/rebalance
func (h *KeyHandlers) Rebalance(w http.ResponseWriter, r *http.Request) {
	dimension := mux.Vars(r)["dimension"]

	var req struct {
		Migrations []struct {
			Key               string `json:"key"`
			SourceNodeID      int64  `json:"source_node_id"`
			DestinationNodeID int64  `json:"destination_node_id"`
		} `json:"migrations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if len(req.Migrations) == 0 {
		badRequest(w, "migrations are required")
		return
	}

	plan := make([]balance.Migration, 0, len(req.Migrations))
	for _, m := range req.Migrations {
		plan = append(plan, balance.Migration{
			Key:               m.Key,
			SourceNodeID:      m.SourceNodeID,
			DestinationNodeID: m.DestinationNodeID,
		})
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	stats, err := h.directory.NodeStatistics(ctx, dimension)
	if err != nil {
		writeError(w, err)
		return
	}

	validator := balance.NewPlanValidator(balance.NewHalfFull())
	rebalancer := balance.NewRebalancer(validator, h.directory.KeyMover(dimension), h.logger)
	if err := rebalancer.Rebalance(ctx, stats, plan); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dimension": dimension,
		"moved":     len(plan),
	})
}
