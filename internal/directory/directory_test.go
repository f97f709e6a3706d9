package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardmap/shardmap/internal/assign"
	"github.com/shardmap/shardmap/internal/balance"
	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/dialect"
	"github.com/shardmap/shardmap/internal/directory"
	"github.com/shardmap/shardmap/internal/keytype"
	"github.com/shardmap/shardmap/internal/metastore"
	"github.com/shardmap/shardmap/pkg/logger"
)

func testLogger() *logger.Logger {
	log := logger.New("directory-test", "test")
	log.DisableConsoleOutput()
	return log
}

type fixture struct {
	catalog   *catalog.Catalog
	store     *directory.MemoryStore
	directory *directory.Directory
	nodes     []*catalog.Node
}

// setup builds a product catalog: dimension "products" keyed by string, two
// nodes, resource "items" with a secondary index on "type".
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	cat, err := catalog.Load(ctx, metastore.NewMemory("mem://directory-test"), testLogger())
	require.NoError(t, err)

	_, err = cat.AddPartitionDimension(ctx, &catalog.PartitionDimension{
		Name:         "products",
		KeyType:      keytype.String,
		IndexDialect: dialect.Postgres,
	})
	require.NoError(t, err)

	var nodes []*catalog.Node
	for _, spec := range []struct {
		name string
		uri  string
	}{
		{"node1", "postgres://node1/products"},
		{"node2", "postgres://node2/products"},
	} {
		node, err := cat.AddNode(ctx, "products", &catalog.Node{
			Name:     spec.name,
			URI:      spec.uri,
			Capacity: 100,
			Dialect:  dialect.Postgres,
		})
		require.NoError(t, err)
		nodes = append(nodes, node)
	}

	_, err = cat.AddResource(ctx, "products", &catalog.Resource{Name: "items", IDType: keytype.Int64})
	require.NoError(t, err)
	_, err = cat.AddSecondaryIndex(ctx, "products", "items", &catalog.SecondaryIndex{
		ColumnName: "type",
		KeyType:    keytype.String,
	})
	require.NoError(t, err)

	store := directory.NewMemoryStore()
	dir := directory.New(cat, store, assign.NewHash(), testLogger())
	return &fixture{catalog: cat, store: store, directory: dir, nodes: nodes}
}

func TestInsertPrimaryKeyUsesAssignmentPolicy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	node, err := f.directory.InsertPrimaryKey(ctx, "products", "Spork")
	require.NoError(t, err)

	expected, err := assign.NewHash().ChooseNode(f.catalog.Snapshot().NodesOf(node.DimensionID), "Spork")
	require.NoError(t, err)
	assert.Equal(t, expected.ID, node.ID)

	found, err := f.directory.GetNodeOfPrimaryKey(ctx, "products", "Spork")
	require.NoError(t, err)
	assert.Equal(t, node.ID, found.ID)

	exists, err := f.directory.DoesPrimaryKeyExist(ctx, "products", "Spork")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.directory.DoesPrimaryKeyExist(ctx, "products", "Ladle")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetNodeOfUnknownPrimaryKey(t *testing.T) {
	f := setup(t)

	_, err := f.directory.GetNodeOfPrimaryKey(context.Background(), "products", "Ghost")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestInsertPrimaryKeyRejectsWrongKeyType(t *testing.T) {
	f := setup(t)

	_, err := f.directory.InsertPrimaryKey(context.Background(), "products", 42)
	assert.Error(t, err, "an int does not match a string-keyed dimension")
}

func TestInsertPrimaryKeyReadOnlyGates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.catalog.UpdateCatalogReadOnly(ctx, true))
	_, err := f.directory.InsertPrimaryKey(ctx, "products", "Spork")
	assert.ErrorIs(t, err, catalog.ErrReadOnly)
	require.NoError(t, f.catalog.UpdateCatalogReadOnly(ctx, false))

	// A read-only owning node rejects the insert too.
	expected, err := assign.NewHash().ChooseNode(f.catalog.Snapshot().NodesOf(f.nodes[0].DimensionID), "Spork")
	require.NoError(t, err)
	readOnly := *expected
	readOnly.ReadOnly = true
	require.NoError(t, f.catalog.UpdateNode(ctx, &readOnly))

	_, err = f.directory.InsertPrimaryKey(ctx, "products", "Spork")
	assert.ErrorIs(t, err, catalog.ErrReadOnly)
}

func TestUpdatePrimaryKeyNode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	node, err := f.directory.InsertPrimaryKey(ctx, "products", "Spork")
	require.NoError(t, err)

	var other *catalog.Node
	for _, n := range f.nodes {
		if n.ID != node.ID {
			other = n
		}
	}

	require.NoError(t, f.directory.UpdatePrimaryKeyNode(ctx, "products", "Spork", other.Name))
	found, err := f.directory.GetNodeOfPrimaryKey(ctx, "products", "Spork")
	require.NoError(t, err)
	assert.Equal(t, other.ID, found.ID)

	require.NoError(t, f.directory.UpdatePrimaryKeyNodeByID(ctx, "products", "Spork", node.ID))
	found, err = f.directory.GetNodeOfPrimaryKey(ctx, "products", "Spork")
	require.NoError(t, err)
	assert.Equal(t, node.ID, found.ID)

	err = f.directory.UpdatePrimaryKeyNode(ctx, "products", "Ghost", other.Name)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestPrimaryKeyReadOnlyFlag(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.directory.InsertPrimaryKey(ctx, "products", "Spork")
	require.NoError(t, err)

	readOnly, err := f.directory.GetReadOnlyOfPrimaryKey(ctx, "products", "Spork")
	require.NoError(t, err)
	assert.False(t, readOnly)

	require.NoError(t, f.directory.UpdatePrimaryKeyReadOnly(ctx, "products", "Spork", true))
	readOnly, err = f.directory.GetReadOnlyOfPrimaryKey(ctx, "products", "Spork")
	require.NoError(t, err)
	assert.True(t, readOnly)

	// A read-only key cannot be moved or deleted.
	err = f.directory.UpdatePrimaryKeyNode(ctx, "products", "Spork", f.nodes[0].Name)
	assert.ErrorIs(t, err, catalog.ErrReadOnly)
	err = f.directory.DeletePrimaryKey(ctx, "products", "Spork")
	assert.ErrorIs(t, err, catalog.ErrReadOnly)

	// Clearing the flag restores writability.
	require.NoError(t, f.directory.UpdatePrimaryKeyReadOnly(ctx, "products", "Spork", false))
	assert.NoError(t, f.directory.DeletePrimaryKey(ctx, "products", "Spork"))
}

func TestSecondaryKeyRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	node, err := f.directory.InsertPrimaryKey(ctx, "products", "Cutlery")
	require.NoError(t, err)

	require.NoError(t, f.directory.InsertSecondaryKey(ctx, "products", "items", "type", "Spork", "Cutlery"))

	pKey, err := f.directory.GetPrimaryKeyOfSecondaryKey(ctx, "products", "items", "type", "Spork")
	require.NoError(t, err)
	assert.Equal(t, "Cutlery", pKey)

	viaSecondary, err := f.directory.GetNodeOfSecondaryKey(ctx, "products", "items", "type", "Spork")
	require.NoError(t, err)
	assert.Equal(t, node.ID, viaSecondary.ID)

	keys, err := f.directory.GetSecondaryKeysOfPrimaryKey(ctx, "products", "items", "type", "Cutlery")
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{"Spork"}, keys)

	_, err = f.directory.GetPrimaryKeyOfSecondaryKey(ctx, "products", "items", "type", "Ghost")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestUpdatePrimaryKeyOfSecondaryKey(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.directory.InsertPrimaryKey(ctx, "products", "Cutlery")
	require.NoError(t, err)
	_, err = f.directory.InsertPrimaryKey(ctx, "products", "Utensils")
	require.NoError(t, err)
	require.NoError(t, f.directory.InsertSecondaryKey(ctx, "products", "items", "type", "Spork", "Cutlery"))

	require.NoError(t, f.directory.UpdatePrimaryKeyOfSecondaryKey(ctx, "products", "items", "type", "Spork", "Utensils"))
	pKey, err := f.directory.GetPrimaryKeyOfSecondaryKey(ctx, "products", "items", "type", "Spork")
	require.NoError(t, err)
	assert.Equal(t, "Utensils", pKey)

	err = f.directory.UpdatePrimaryKeyOfSecondaryKey(ctx, "products", "items", "type", "Ghost", "Cutlery")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestDeletePrimaryKeyCascades(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.directory.InsertPrimaryKey(ctx, "products", "Cutlery")
	require.NoError(t, err)
	require.NoError(t, f.directory.InsertSecondaryKey(ctx, "products", "items", "type", "Spork", "Cutlery"))
	require.NoError(t, f.directory.InsertResourceID(ctx, "products", "items", int64(7), "Cutlery"))

	require.NoError(t, f.directory.DeletePrimaryKey(ctx, "products", "Cutlery"))

	_, err = f.directory.GetNodeOfPrimaryKey(ctx, "products", "Cutlery")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = f.directory.GetPrimaryKeyOfSecondaryKey(ctx, "products", "items", "type", "Spork")
	assert.ErrorIs(t, err, catalog.ErrNotFound, "secondary keys of a deleted primary key must be gone")
	_, err = f.directory.GetPrimaryKeyOfResourceID(ctx, "products", "items", int64(7))
	assert.ErrorIs(t, err, catalog.ErrNotFound, "resource ids of a deleted primary key must be gone")

	err = f.directory.DeletePrimaryKey(ctx, "products", "Cutlery")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestResourceIDRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	node, err := f.directory.InsertPrimaryKey(ctx, "products", "Cutlery")
	require.NoError(t, err)
	require.NoError(t, f.directory.InsertResourceID(ctx, "products", "items", int64(7), "Cutlery"))

	pKey, err := f.directory.GetPrimaryKeyOfResourceID(ctx, "products", "items", int64(7))
	require.NoError(t, err)
	assert.Equal(t, "Cutlery", pKey)

	viaID, err := f.directory.GetNodeOfResourceID(ctx, "products", "items", int64(7))
	require.NoError(t, err)
	assert.Equal(t, node.ID, viaID.ID)

	require.NoError(t, f.directory.DeleteResourceID(ctx, "products", "items", int64(7)))
	_, err = f.directory.GetPrimaryKeyOfResourceID(ctx, "products", "items", int64(7))
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestNodeStatisticsCountChildRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.directory.InsertPrimaryKey(ctx, "products", "Cutlery")
	require.NoError(t, err)
	_, err = f.directory.InsertPrimaryKey(ctx, "products", "Plates")
	require.NoError(t, err)

	// Two child records under Cutlery, none under Plates.
	require.NoError(t, f.directory.InsertSecondaryKey(ctx, "products", "items", "type", "Spork", "Cutlery"))
	require.NoError(t, f.directory.InsertSecondaryKey(ctx, "products", "items", "type", "Spoon", "Cutlery"))

	stats, err := f.directory.NodeStatistics(ctx, "products")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	var total float64
	keyLoads := make(map[string]int64)
	for _, ns := range stats {
		total += ns.Load()
		for _, k := range ns.Keys {
			keyLoads[k.Key] = k.ChildRecordCount
		}
	}
	assert.Equal(t, float64(2), total)
	assert.Equal(t, int64(2), keyLoads["Cutlery"])
	assert.Equal(t, int64(0), keyLoads["Plates"])

	// Deleting a secondary key decrements the count.
	require.NoError(t, f.directory.DeleteSecondaryKey(ctx, "products", "items", "type", "Spoon"))
	stats, err = f.directory.NodeStatistics(ctx, "products")
	require.NoError(t, err)
	total = 0
	for _, ns := range stats {
		total += ns.Load()
	}
	assert.Equal(t, float64(1), total)
}

func TestRebalanceMovesKeysThroughDirectory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Place two keys on node1, each carrying half the target load.
	for _, k := range []string{"Cutlery", "Plates"} {
		_, err := f.directory.InsertPrimaryKey(ctx, "products", k)
		require.NoError(t, err)
		require.NoError(t, f.directory.UpdatePrimaryKeyNodeByID(ctx, "products", k, f.nodes[0].ID))
	}
	dim, err := f.catalog.PartitionDimension("products")
	require.NoError(t, err)
	require.NoError(t, f.store.AdjustChildRecordCount(ctx, dim, "Cutlery", 50))
	require.NoError(t, f.store.AdjustChildRecordCount(ctx, dim, "Plates", 50))

	stats, err := f.directory.NodeStatistics(ctx, "products")
	require.NoError(t, err)

	validator := balance.NewPlanValidator(balance.NewHalfFull())
	assert.False(t, validator.IsBalanced(stats))

	plan := []balance.Migration{{Key: "Plates", SourceNodeID: f.nodes[0].ID, DestinationNodeID: f.nodes[1].ID}}
	rebalancer := balance.NewRebalancer(validator, f.directory.KeyMover("products"), testLogger())
	require.NoError(t, rebalancer.Rebalance(ctx, stats, plan))

	moved, err := f.directory.GetNodeOfPrimaryKey(ctx, "products", "Plates")
	require.NoError(t, err)
	assert.Equal(t, f.nodes[1].ID, moved.ID)

	stats, err = f.directory.NodeStatistics(ctx, "products")
	require.NoError(t, err)
	assert.True(t, validator.IsBalanced(stats))
}
