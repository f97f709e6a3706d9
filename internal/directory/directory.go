// Package directory maintains the durable key-to-node and key-to-key
// mappings of a partition dimension: the primary index (partition key,
// owning node, read-only flag), one secondary index per declared alternate
// key, and the resource-id index binding resource records to their partition
// key.
package directory

import (
	"context"
	"errors"

	"github.com/shardmap/shardmap/internal/assign"
	"github.com/shardmap/shardmap/internal/balance"
	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/pkg/logger"
)

// KeyLoad is one primary key's directory row projected for statistics: the
// canonical key, its owning node, and its child record count.
type KeyLoad struct {
	Key              string
	NodeID           int64
	ChildRecordCount int64
}

// IndexStore is the persistence boundary of the directory. Implementations
// write to the dimension's index-storage location.
type IndexStore interface {
	InsertPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, nodeID int64) error
	DeletePrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, key interface{}) error
	UpdatePrimaryKeyNode(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, nodeID int64) error
	UpdatePrimaryKeyReadOnly(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, readOnly bool) error
	// PrimaryKeyEntry returns the owning node id and read-only flag of a key,
	// or an error matching catalog.ErrNotFound when the key is absent.
	PrimaryKeyEntry(ctx context.Context, dim *catalog.PartitionDimension, key interface{}) (nodeID int64, readOnly bool, err error)
	AdjustChildRecordCount(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, delta int64) error
	PartitionKeyLoads(ctx context.Context, dim *catalog.PartitionDimension) ([]KeyLoad, error)

	InsertSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey, primaryKey interface{}) error
	DeleteSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey interface{}) error
	DeleteSecondaryKeysOfPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, primaryKey interface{}) error
	UpdatePrimaryKeyOfSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey, primaryKey interface{}) error
	PrimaryKeyOfSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey interface{}) (interface{}, error)
	SecondaryKeysOfPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, primaryKey interface{}) ([]interface{}, error)

	InsertResourceID(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, resourceID, primaryKey interface{}) error
	DeleteResourceID(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, resourceID interface{}) error
	DeleteResourceIDsOfPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, primaryKey interface{}) error
	PrimaryKeyOfResourceID(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, resourceID interface{}) (interface{}, error)
}

// Directory performs key operations against the index store, resolving
// topology through the catalog and gating writes on the read-only state of
// the catalog, the owning node, and the key itself. Every mutation is
// followed by a synchronization check so remote structural changes are
// picked up promptly.
type Directory struct {
	catalog  *catalog.Catalog
	store    IndexStore
	assigner assign.Assigner
	cache    *Cache
	logger   *logger.Logger
}

// New creates a directory over the given catalog and index store.
func New(cat *catalog.Catalog, store IndexStore, assigner assign.Assigner, log *logger.Logger) *Directory {
	return &Directory{
		catalog:  cat,
		store:    store,
		assigner: assigner,
		logger:   log,
	}
}

// WithCache attaches a read-through cache for primary key lookups.
func (d *Directory) WithCache(cache *Cache) *Directory {
	d.cache = cache
	return d
}

// Catalog returns the catalog this directory resolves topology through.
func (d *Directory) Catalog() *catalog.Catalog {
	return d.catalog
}

func (d *Directory) sync(ctx context.Context) {
	if err := d.catalog.Sync(ctx); err != nil {
		d.logger.Errorf("Post-mutation catalog sync failed: %v", err)
	}
}

// InsertPrimaryKey assigns the key to a node via the dimension's assignment
// policy and writes the primary index row. Returns the chosen node.
func (d *Directory) InsertPrimaryKey(ctx context.Context, dimensionName string, key interface{}) (*catalog.Node, error) {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	normalized, err := dim.KeyType.Normalize(key)
	if err != nil {
		return nil, err
	}
	formatted, err := dim.KeyType.FormatValue(normalized)
	if err != nil {
		return nil, err
	}

	node, err := d.assigner.ChooseNode(snap.NodesOf(dim.ID), formatted)
	if err != nil {
		return nil, err
	}
	if snap.ReadOnly {
		return nil, catalog.NewReadOnlyError("catalog", "inserting a primary key")
	}
	if node.ReadOnly {
		return nil, catalog.NewReadOnlyError("node "+node.Name, "inserting a primary key")
	}

	if err := d.store.InsertPrimaryKey(ctx, dim, normalized, node.ID); err != nil {
		return nil, catalog.WrapPersistence("inserting primary key", err)
	}
	d.logger.Debugf("Inserted primary key %q into dimension %q on node %q", formatted, dim.Name, node.Name)
	d.sync(ctx)
	return node, nil
}

// DeletePrimaryKey removes a key from the primary index, first cascading
// over every secondary index and resource-id row that references it.
func (d *Directory) DeletePrimaryKey(ctx context.Context, dimensionName string, key interface{}) error {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return err
	}
	normalized, err := dim.KeyType.Normalize(key)
	if err != nil {
		return err
	}

	node, keyReadOnly, err := d.resolveEntry(ctx, snap, dim, normalized)
	if err != nil {
		return err
	}
	if err := d.writableKey(snap, node, keyReadOnly, "deleting a primary key"); err != nil {
		return err
	}

	for _, res := range snap.ResourcesOf(dim.ID) {
		for _, idx := range snap.SecondaryIndexesOf(res.ID) {
			if err := d.store.DeleteSecondaryKeysOfPrimaryKey(ctx, dim, res, idx, normalized); err != nil {
				return catalog.WrapPersistence("cascading secondary index delete", err)
			}
		}
		if err := d.store.DeleteResourceIDsOfPrimaryKey(ctx, dim, res, normalized); err != nil {
			return catalog.WrapPersistence("cascading resource id delete", err)
		}
	}

	if err := d.store.DeletePrimaryKey(ctx, dim, normalized); err != nil {
		return catalog.WrapPersistence("deleting primary key", err)
	}
	d.invalidate(ctx, dim, normalized)
	d.sync(ctx)
	return nil
}

// UpdatePrimaryKeyNode reassigns a key's owning node by node name. This is
// how a validated migration is realized.
func (d *Directory) UpdatePrimaryKeyNode(ctx context.Context, dimensionName string, key interface{}, nodeName string) error {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return err
	}
	destination, err := snap.NodeByName(dim.ID, nodeName)
	if err != nil {
		return err
	}
	return d.updatePrimaryKeyNode(ctx, snap, dim, key, destination)
}

// UpdatePrimaryKeyNodeByID reassigns a key's owning node by node id.
func (d *Directory) UpdatePrimaryKeyNodeByID(ctx context.Context, dimensionName string, key interface{}, nodeID int64) error {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return err
	}
	destination, err := snap.NodeByID(nodeID)
	if err != nil {
		return err
	}
	return d.updatePrimaryKeyNode(ctx, snap, dim, key, destination)
}

func (d *Directory) updatePrimaryKeyNode(ctx context.Context, snap *catalog.Snapshot, dim *catalog.PartitionDimension, key interface{}, destination *catalog.Node) error {
	normalized, err := dim.KeyType.Normalize(key)
	if err != nil {
		return err
	}
	node, keyReadOnly, err := d.resolveEntry(ctx, snap, dim, normalized)
	if err != nil {
		return err
	}
	if err := d.writableKey(snap, node, keyReadOnly, "updating the node of a primary key"); err != nil {
		return err
	}

	if err := d.store.UpdatePrimaryKeyNode(ctx, dim, normalized, destination.ID); err != nil {
		return catalog.WrapPersistence("updating primary key node", err)
	}
	d.invalidate(ctx, dim, normalized)
	d.sync(ctx)
	return nil
}

// UpdatePrimaryKeyReadOnly toggles the per-key read-only flag, independent
// of the node's read-only flag.
func (d *Directory) UpdatePrimaryKeyReadOnly(ctx context.Context, dimensionName string, key interface{}, readOnly bool) error {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return err
	}
	normalized, err := dim.KeyType.Normalize(key)
	if err != nil {
		return err
	}
	if snap.ReadOnly {
		return catalog.NewReadOnlyError("catalog", "updating primary key read-only flag")
	}
	// Validates existence of the key.
	if _, _, err := d.store.PrimaryKeyEntry(ctx, dim, normalized); err != nil {
		return err
	}

	if err := d.store.UpdatePrimaryKeyReadOnly(ctx, dim, normalized, readOnly); err != nil {
		return catalog.WrapPersistence("updating primary key read-only flag", err)
	}
	d.sync(ctx)
	return nil
}

// GetNodeOfPrimaryKey returns the node assigned to the given primary key.
func (d *Directory) GetNodeOfPrimaryKey(ctx context.Context, dimensionName string, key interface{}) (*catalog.Node, error) {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	normalized, err := dim.KeyType.Normalize(key)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		if nodeID, ok := d.cache.GetNode(ctx, dim, normalized); ok {
			return snap.NodeByID(nodeID)
		}
	}

	nodeID, _, err := d.store.PrimaryKeyEntry(ctx, dim, normalized)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		d.cache.PutNode(ctx, dim, normalized, nodeID)
	}
	return snap.NodeByID(nodeID)
}

// GetReadOnlyOfPrimaryKey returns the per-key read-only flag.
func (d *Directory) GetReadOnlyOfPrimaryKey(ctx context.Context, dimensionName string, key interface{}) (bool, error) {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return false, err
	}
	normalized, err := dim.KeyType.Normalize(key)
	if err != nil {
		return false, err
	}
	_, readOnly, err := d.store.PrimaryKeyEntry(ctx, dim, normalized)
	return readOnly, err
}

// DoesPrimaryKeyExist reports whether the key has a primary index row.
func (d *Directory) DoesPrimaryKeyExist(ctx context.Context, dimensionName string, key interface{}) (bool, error) {
	_, err := d.GetNodeOfPrimaryKey(ctx, dimensionName, key)
	if err == nil {
		return true, nil
	}
	var nf *catalog.NotFoundError
	if errors.As(err, &nf) && nf.Kind == "primary key" {
		return false, nil
	}
	return false, err
}

// InsertSecondaryKey writes a secondary index row mapping secondaryKey to
// primaryKey and counts the new child record against the primary key. The
// primary key is not validated to exist; that is the caller's contract.
func (d *Directory) InsertSecondaryKey(ctx context.Context, dimensionName, resourceName, columnName string, secondaryKey, primaryKey interface{}) error {
	snap := d.catalog.Snapshot()
	dim, res, idx, err := resolveIndex(snap, dimensionName, resourceName, columnName)
	if err != nil {
		return err
	}
	if snap.ReadOnly {
		return catalog.NewReadOnlyError("catalog", "inserting a secondary key")
	}
	sKey, err := idx.KeyType.Normalize(secondaryKey)
	if err != nil {
		return err
	}
	pKey, err := dim.KeyType.Normalize(primaryKey)
	if err != nil {
		return err
	}

	if err := d.store.InsertSecondaryKey(ctx, dim, res, idx, sKey, pKey); err != nil {
		return catalog.WrapPersistence("inserting secondary key", err)
	}
	if err := d.store.AdjustChildRecordCount(ctx, dim, pKey, 1); err != nil {
		d.logger.Warnf("Failed to increment child record count: %v", err)
	}
	d.sync(ctx)
	return nil
}

// DeleteSecondaryKey removes a secondary index row. It fails with a
// not-found error when the row does not exist.
func (d *Directory) DeleteSecondaryKey(ctx context.Context, dimensionName, resourceName, columnName string, secondaryKey interface{}) error {
	snap := d.catalog.Snapshot()
	dim, res, idx, err := resolveIndex(snap, dimensionName, resourceName, columnName)
	if err != nil {
		return err
	}
	if snap.ReadOnly {
		return catalog.NewReadOnlyError("catalog", "deleting a secondary key")
	}
	sKey, err := idx.KeyType.Normalize(secondaryKey)
	if err != nil {
		return err
	}

	pKey, err := d.store.PrimaryKeyOfSecondaryKey(ctx, dim, res, idx, sKey)
	if err != nil {
		return err
	}
	if err := d.store.DeleteSecondaryKey(ctx, dim, res, idx, sKey); err != nil {
		return catalog.WrapPersistence("deleting secondary key", err)
	}
	if err := d.store.AdjustChildRecordCount(ctx, dim, pKey, -1); err != nil {
		d.logger.Warnf("Failed to decrement child record count: %v", err)
	}
	d.sync(ctx)
	return nil
}

// UpdatePrimaryKeyOfSecondaryKey repoints an existing secondary key to a
// different primary key.
func (d *Directory) UpdatePrimaryKeyOfSecondaryKey(ctx context.Context, dimensionName, resourceName, columnName string, secondaryKey, primaryKey interface{}) error {
	snap := d.catalog.Snapshot()
	dim, res, idx, err := resolveIndex(snap, dimensionName, resourceName, columnName)
	if err != nil {
		return err
	}
	if snap.ReadOnly {
		return catalog.NewReadOnlyError("catalog", "updating the primary key of a secondary key")
	}
	sKey, err := idx.KeyType.Normalize(secondaryKey)
	if err != nil {
		return err
	}
	pKey, err := dim.KeyType.Normalize(primaryKey)
	if err != nil {
		return err
	}
	// Validates existence of the secondary key.
	if _, err := d.store.PrimaryKeyOfSecondaryKey(ctx, dim, res, idx, sKey); err != nil {
		return err
	}

	if err := d.store.UpdatePrimaryKeyOfSecondaryKey(ctx, dim, res, idx, sKey, pKey); err != nil {
		return catalog.WrapPersistence("updating primary key of secondary key", err)
	}
	d.sync(ctx)
	return nil
}

// GetPrimaryKeyOfSecondaryKey resolves a secondary key to its primary key.
func (d *Directory) GetPrimaryKeyOfSecondaryKey(ctx context.Context, dimensionName, resourceName, columnName string, secondaryKey interface{}) (interface{}, error) {
	snap := d.catalog.Snapshot()
	dim, res, idx, err := resolveIndex(snap, dimensionName, resourceName, columnName)
	if err != nil {
		return nil, err
	}
	sKey, err := idx.KeyType.Normalize(secondaryKey)
	if err != nil {
		return nil, err
	}
	return d.store.PrimaryKeyOfSecondaryKey(ctx, dim, res, idx, sKey)
}

// GetNodeOfSecondaryKey resolves a secondary key to the node of its primary
// key.
func (d *Directory) GetNodeOfSecondaryKey(ctx context.Context, dimensionName, resourceName, columnName string, secondaryKey interface{}) (*catalog.Node, error) {
	pKey, err := d.GetPrimaryKeyOfSecondaryKey(ctx, dimensionName, resourceName, columnName, secondaryKey)
	if err != nil {
		return nil, err
	}
	return d.GetNodeOfPrimaryKey(ctx, dimensionName, pKey)
}

// GetSecondaryKeysOfPrimaryKey returns every secondary key of the index
// that references the given primary key. Zero keys is a valid result.
func (d *Directory) GetSecondaryKeysOfPrimaryKey(ctx context.Context, dimensionName, resourceName, columnName string, primaryKey interface{}) ([]interface{}, error) {
	snap := d.catalog.Snapshot()
	dim, res, idx, err := resolveIndex(snap, dimensionName, resourceName, columnName)
	if err != nil {
		return nil, err
	}
	pKey, err := dim.KeyType.Normalize(primaryKey)
	if err != nil {
		return nil, err
	}
	return d.store.SecondaryKeysOfPrimaryKey(ctx, dim, res, idx, pKey)
}

// InsertResourceID binds a resource-scoped entity id to the partition key
// that determines its node.
func (d *Directory) InsertResourceID(ctx context.Context, dimensionName, resourceName string, resourceID, primaryKey interface{}) error {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return err
	}
	res, err := snap.ResourceByName(dim.ID, resourceName)
	if err != nil {
		return err
	}
	if snap.ReadOnly {
		return catalog.NewReadOnlyError("catalog", "inserting a resource id")
	}
	rID, err := res.IDType.Normalize(resourceID)
	if err != nil {
		return err
	}
	pKey, err := dim.KeyType.Normalize(primaryKey)
	if err != nil {
		return err
	}

	if err := d.store.InsertResourceID(ctx, dim, res, rID, pKey); err != nil {
		return catalog.WrapPersistence("inserting resource id", err)
	}
	d.sync(ctx)
	return nil
}

// DeleteResourceID removes a resource id binding.
func (d *Directory) DeleteResourceID(ctx context.Context, dimensionName, resourceName string, resourceID interface{}) error {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return err
	}
	res, err := snap.ResourceByName(dim.ID, resourceName)
	if err != nil {
		return err
	}
	if snap.ReadOnly {
		return catalog.NewReadOnlyError("catalog", "deleting a resource id")
	}
	rID, err := res.IDType.Normalize(resourceID)
	if err != nil {
		return err
	}

	if err := d.store.DeleteResourceID(ctx, dim, res, rID); err != nil {
		return err
	}
	d.sync(ctx)
	return nil
}

// GetPrimaryKeyOfResourceID resolves a resource id to its partition key.
func (d *Directory) GetPrimaryKeyOfResourceID(ctx context.Context, dimensionName, resourceName string, resourceID interface{}) (interface{}, error) {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	res, err := snap.ResourceByName(dim.ID, resourceName)
	if err != nil {
		return nil, err
	}
	rID, err := res.IDType.Normalize(resourceID)
	if err != nil {
		return nil, err
	}
	return d.store.PrimaryKeyOfResourceID(ctx, dim, res, rID)
}

// GetNodeOfResourceID resolves a resource id to the node hosting its record.
func (d *Directory) GetNodeOfResourceID(ctx context.Context, dimensionName, resourceName string, resourceID interface{}) (*catalog.Node, error) {
	pKey, err := d.GetPrimaryKeyOfResourceID(ctx, dimensionName, resourceName, resourceID)
	if err != nil {
		return nil, err
	}
	return d.GetNodeOfPrimaryKey(ctx, dimensionName, pKey)
}

// NodeStatistics snapshots the per-node load of a dimension for the
// rebalancing planner. Nodes with no resident keys appear with zero load.
func (d *Directory) NodeStatistics(ctx context.Context, dimensionName string) ([]*balance.NodeStatistics, error) {
	snap := d.catalog.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*balance.NodeStatistics)
	var stats []*balance.NodeStatistics
	for _, node := range snap.NodesOf(dim.ID) {
		ns := &balance.NodeStatistics{
			NodeID:   node.ID,
			NodeName: node.Name,
			Capacity: node.Capacity,
		}
		byID[node.ID] = ns
		stats = append(stats, ns)
	}

	loads, err := d.store.PartitionKeyLoads(ctx, dim)
	if err != nil {
		return nil, catalog.WrapPersistence("loading partition key statistics", err)
	}
	for _, load := range loads {
		ns, ok := byID[load.NodeID]
		if !ok {
			d.logger.Warnf("Primary key %q references unknown node id %d", load.Key, load.NodeID)
			continue
		}
		ns.AddKey(balance.PartitionKeyStatistics{Key: load.Key, ChildRecordCount: load.ChildRecordCount})
	}

	balance.SortByLoad(stats)
	return stats, nil
}

// KeyMover returns a balance.KeyMover that realizes migrations for the
// named dimension as primary index node updates.
func (d *Directory) KeyMover(dimensionName string) balance.KeyMover {
	return &keyMover{directory: d, dimension: dimensionName}
}

type keyMover struct {
	directory *Directory
	dimension string
}

// MoveKey implements balance.KeyMover. The key arrives in canonical string
// form and is parsed against the dimension's key type.
func (m *keyMover) MoveKey(ctx context.Context, key string, destinationNodeID int64) error {
	dim, err := m.directory.catalog.PartitionDimension(m.dimension)
	if err != nil {
		return err
	}
	parsed, err := dim.KeyType.ParseValue(key)
	if err != nil {
		return err
	}
	return m.directory.UpdatePrimaryKeyNodeByID(ctx, m.dimension, parsed, destinationNodeID)
}

// resolveEntry reads a key's directory row and resolves its owning node.
// Missing key and missing node are distinct not-found failures.
func (d *Directory) resolveEntry(ctx context.Context, snap *catalog.Snapshot, dim *catalog.PartitionDimension, key interface{}) (*catalog.Node, bool, error) {
	nodeID, keyReadOnly, err := d.store.PrimaryKeyEntry(ctx, dim, key)
	if err != nil {
		return nil, false, err
	}
	node, err := snap.NodeByID(nodeID)
	if err != nil {
		return nil, false, err
	}
	return node, keyReadOnly, nil
}

func (d *Directory) writableKey(snap *catalog.Snapshot, node *catalog.Node, keyReadOnly bool, operation string) error {
	if snap.ReadOnly {
		return catalog.NewReadOnlyError("catalog", operation)
	}
	if node.ReadOnly {
		return catalog.NewReadOnlyError("node "+node.Name, operation)
	}
	if keyReadOnly {
		return catalog.NewReadOnlyError("primary key", operation)
	}
	return nil
}

func (d *Directory) invalidate(ctx context.Context, dim *catalog.PartitionDimension, key interface{}) {
	if d.cache != nil {
		d.cache.Invalidate(ctx, dim, key)
	}
}

func resolveIndex(snap *catalog.Snapshot, dimensionName, resourceName, columnName string) (*catalog.PartitionDimension, *catalog.Resource, *catalog.SecondaryIndex, error) {
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, nil, nil, err
	}
	res, err := snap.ResourceByName(dim.ID, resourceName)
	if err != nil {
		return nil, nil, nil, err
	}
	idx, err := snap.SecondaryIndexByName(res.ID, columnName)
	if err != nil {
		return nil, nil, nil, err
	}
	return dim, res, idx, nil
}
