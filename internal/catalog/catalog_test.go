package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/dialect"
	"github.com/shardmap/shardmap/internal/keytype"
	"github.com/shardmap/shardmap/internal/metastore"
	"github.com/shardmap/shardmap/pkg/logger"
)

func testLogger() *logger.Logger {
	log := logger.New("catalog-test", "test")
	log.DisableConsoleOutput()
	return log
}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	store := metastore.NewMemory("mem://catalog-test")
	cat, err := catalog.Load(context.Background(), store, testLogger())
	require.NoError(t, err)
	return cat
}

func addDimension(t *testing.T, cat *catalog.Catalog, name string) *catalog.PartitionDimension {
	t.Helper()
	dim, err := cat.AddPartitionDimension(context.Background(), &catalog.PartitionDimension{
		Name:         name,
		KeyType:      keytype.String,
		IndexDialect: dialect.Postgres,
	})
	require.NoError(t, err)
	return dim
}

func TestAddPartitionDimension(t *testing.T) {
	cat := newTestCatalog(t)

	dim := addDimension(t, cat, "customers")
	assert.NotZero(t, dim.ID)
	assert.Equal(t, "mem://catalog-test", dim.IndexURI, "index storage should default to the metadata store")

	found, err := cat.PartitionDimension("customers")
	require.NoError(t, err)
	assert.Equal(t, dim.ID, found.ID)
}

func TestAddPartitionDimensionRejectsDuplicateName(t *testing.T) {
	cat := newTestCatalog(t)
	addDimension(t, cat, "customers")

	_, err := cat.AddPartitionDimension(context.Background(), &catalog.PartitionDimension{
		Name:         "customers",
		KeyType:      keytype.Int64,
		IndexDialect: dialect.Postgres,
	})
	assert.ErrorIs(t, err, catalog.ErrNotUnique)
}

func TestAddPartitionDimensionRejectsInvalidKeyType(t *testing.T) {
	cat := newTestCatalog(t)

	_, err := cat.AddPartitionDimension(context.Background(), &catalog.PartitionDimension{
		Name:    "customers",
		KeyType: keytype.Type("uuid"),
	})
	assert.ErrorIs(t, err, catalog.ErrInvalidEntity)
}

func TestRevisionIncreasesWithEveryMutation(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	before := cat.Revision()
	addDimension(t, cat, "customers")
	afterDim := cat.Revision()
	assert.Greater(t, afterDim, before)

	_, err := cat.AddNode(ctx, "customers", &catalog.Node{
		Name:     "node1",
		URI:      "postgres://node1/customers",
		Capacity: 100,
		Dialect:  dialect.Postgres,
	})
	require.NoError(t, err)
	assert.Greater(t, cat.Revision(), afterDim)
}

func TestAddNodeUniqueness(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	addDimension(t, cat, "customers")

	_, err := cat.AddNode(ctx, "customers", &catalog.Node{
		Name: "node1", URI: "postgres://node1/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	require.NoError(t, err)

	_, err = cat.AddNode(ctx, "customers", &catalog.Node{
		Name: "node2", URI: "postgres://node1/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	assert.ErrorIs(t, err, catalog.ErrNotUnique, "node URIs must be unique within a dimension")

	_, err = cat.AddNode(ctx, "customers", &catalog.Node{
		Name: "node1", URI: "postgres://node3/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	assert.ErrorIs(t, err, catalog.ErrNotUnique, "node names must be unique within a dimension")

	_, err = cat.AddNode(ctx, "unknown", &catalog.Node{
		Name: "node9", URI: "postgres://node9/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestAddResourceAndSecondaryIndex(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	addDimension(t, cat, "customers")

	res, err := cat.AddResource(ctx, "customers", &catalog.Resource{
		Name:   "orders",
		IDType: keytype.Int64,
	})
	require.NoError(t, err)
	assert.NotZero(t, res.ID)

	idx, err := cat.AddSecondaryIndex(ctx, "customers", "orders", &catalog.SecondaryIndex{
		ColumnName: "invoice_number",
		KeyType:    keytype.String,
	})
	require.NoError(t, err)
	assert.Equal(t, "orders.invoice_number", idx.QualifiedName(res.Name))

	_, err = cat.AddSecondaryIndex(ctx, "customers", "orders", &catalog.SecondaryIndex{
		ColumnName: "invoice_number",
		KeyType:    keytype.String,
	})
	assert.ErrorIs(t, err, catalog.ErrNotUnique)
}

func TestReadOnlyCatalogRejectsMutation(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	addDimension(t, cat, "customers")

	require.NoError(t, cat.UpdateCatalogReadOnly(ctx, true))
	assert.True(t, cat.IsReadOnly())

	_, err := cat.AddPartitionDimension(ctx, &catalog.PartitionDimension{
		Name:    "vendors",
		KeyType: keytype.String,
	})
	assert.ErrorIs(t, err, catalog.ErrReadOnly)

	_, err = cat.AddNode(ctx, "customers", &catalog.Node{
		Name: "node1", URI: "postgres://node1/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	assert.ErrorIs(t, err, catalog.ErrReadOnly)

	require.NoError(t, cat.UpdateCatalogReadOnly(ctx, false))
	_, err = cat.AddNode(ctx, "customers", &catalog.Node{
		Name: "node1", URI: "postgres://node1/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	assert.NoError(t, err)
}

func TestUpdateNode(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	addDimension(t, cat, "customers")

	node, err := cat.AddNode(ctx, "customers", &catalog.Node{
		Name: "node1", URI: "postgres://node1/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	require.NoError(t, err)

	updated := *node
	updated.ReadOnly = true
	updated.Capacity = 250
	require.NoError(t, cat.UpdateNode(ctx, &updated))

	found, err := cat.Node("customers", "node1")
	require.NoError(t, err)
	assert.True(t, found.ReadOnly)
	assert.Equal(t, float64(250), found.Capacity)
}

func TestUpdateNodeRejectsUnknownID(t *testing.T) {
	cat := newTestCatalog(t)
	addDimension(t, cat, "customers")

	err := cat.UpdateNode(context.Background(), &catalog.Node{
		ID: 999, Name: "ghost", URI: "postgres://ghost/db", Dialect: dialect.Postgres,
	})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestUpdateNodeRejectsNameCollision(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	addDimension(t, cat, "customers")

	_, err := cat.AddNode(ctx, "customers", &catalog.Node{
		Name: "node1", URI: "postgres://node1/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	require.NoError(t, err)
	node2, err := cat.AddNode(ctx, "customers", &catalog.Node{
		Name: "node2", URI: "postgres://node2/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	require.NoError(t, err)

	renamed := *node2
	renamed.Name = "node1"
	assert.ErrorIs(t, cat.UpdateNode(ctx, &renamed), catalog.ErrNotUnique)
}

func TestDeleteOperationsValidateThenFail(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	addDimension(t, cat, "customers")

	_, err := cat.AddNode(ctx, "customers", &catalog.Node{
		Name: "node1", URI: "postgres://node1/db", Capacity: 100, Dialect: dialect.Postgres,
	})
	require.NoError(t, err)
	_, err = cat.AddResource(ctx, "customers", &catalog.Resource{Name: "orders", IDType: keytype.Int64})
	require.NoError(t, err)
	_, err = cat.AddSecondaryIndex(ctx, "customers", "orders", &catalog.SecondaryIndex{
		ColumnName: "invoice_number", KeyType: keytype.String,
	})
	require.NoError(t, err)

	// Existing entities: the operation itself is unimplemented.
	assert.ErrorIs(t, cat.DeletePartitionDimension(ctx, "customers"), catalog.ErrNotSupported)
	assert.ErrorIs(t, cat.DeleteNode(ctx, "customers", "node1"), catalog.ErrNotSupported)
	assert.ErrorIs(t, cat.DeleteSecondaryIndex(ctx, "customers", "orders", "invoice_number"), catalog.ErrNotSupported)

	// Missing entities fail existence checks before the unimplemented path.
	assert.ErrorIs(t, cat.DeletePartitionDimension(ctx, "ghost"), catalog.ErrNotFound)
	assert.ErrorIs(t, cat.DeleteNode(ctx, "customers", "ghost"), catalog.ErrNotFound)
	assert.ErrorIs(t, cat.DeleteSecondaryIndex(ctx, "customers", "orders", "ghost"), catalog.ErrNotFound)
}

func TestSnapshotIsMonotonic(t *testing.T) {
	cat := newTestCatalog(t)
	addDimension(t, cat, "customers")

	current := cat.Snapshot()
	stale := catalog.NewSnapshot()
	stale.Revision = current.Revision - 1

	cat.ApplySnapshot(stale)
	assert.Equal(t, current.Revision, cat.Revision(), "stale snapshots must be discarded")
}

func TestAccessorsReportNotFound(t *testing.T) {
	cat := newTestCatalog(t)
	addDimension(t, cat, "customers")

	_, err := cat.PartitionDimension("ghost")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = cat.Node("customers", "ghost")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = cat.Resource("customers", "ghost")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = cat.SecondaryIndex("customers", "ghost", "ghost")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
