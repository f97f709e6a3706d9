// Package catalog holds the authoritative, revision-stamped description of
// partition topology: dimensions, nodes, resources, and secondary indexes.
// All structural mutation goes through the Catalog, which persists through a
// Store, bumps the global revision atomically with each write, and triggers
// synchronization so sibling catalog instances converge.
package catalog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/shardmap/shardmap/pkg/logger"
)

// Store is the persistence boundary for catalog metadata. Every Create and
// Update call must write the row and increment the global revision as one
// atomic unit against the store.
type Store interface {
	// URI identifies the metadata store; used to default a dimension's
	// index-storage location.
	URI() string

	// Semaphore reads the persisted revision counter and catalog-level
	// read-only flag.
	Semaphore(ctx context.Context) (revision int64, readOnly bool, err error)

	// SetReadOnly persists the catalog read-only flag, bumping the revision.
	SetReadOnly(ctx context.Context, readOnly bool) error

	// Load reads the full catalog into a fresh snapshot.
	Load(ctx context.Context) (*Snapshot, error)

	CreateDimension(ctx context.Context, d *PartitionDimension) (int64, error)
	UpdateDimension(ctx context.Context, d *PartitionDimension) error
	CreateNode(ctx context.Context, n *Node) (int64, error)
	UpdateNode(ctx context.Context, n *Node) error
	CreateResource(ctx context.Context, r *Resource) (int64, error)
	UpdateResource(ctx context.Context, r *Resource) error
	CreateSecondaryIndex(ctx context.Context, s *SecondaryIndex) (int64, error)
	UpdateSecondaryIndex(ctx context.Context, s *SecondaryIndex) error
}

// Syncer propagates persisted changes to every registered catalog instance.
// The catalog invokes it after each successful mutation.
type Syncer interface {
	DetectChanges(ctx context.Context) error
}

// Catalog is one in-process view of the partition topology. Reads never
// block on synchronization: they see whichever snapshot is currently
// installed. Reloads replace the snapshot wholesale.
type Catalog struct {
	store  Store
	logger *logger.Logger

	mu     sync.Mutex // serializes snapshot installs
	snap   atomic.Pointer[Snapshot]
	syncer Syncer
}

// New creates a catalog over the given store without loading it. Call Load
// or install a snapshot via a Syncer before use.
func New(store Store, log *logger.Logger) *Catalog {
	c := &Catalog{store: store, logger: log}
	c.snap.Store(NewSnapshot())
	return c
}

// Load creates a catalog and populates it from the store.
func Load(ctx context.Context, store Store, log *logger.Logger) (*Catalog, error) {
	c := New(store, log)
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, WrapPersistence("loading catalog", err)
	}
	c.ApplySnapshot(snap)
	return c, nil
}

// SetSyncer wires the synchronization component that propagates this
// catalog's mutations. Without one, the catalog reloads only itself.
func (c *Catalog) SetSyncer(s Syncer) {
	c.syncer = s
}

// Store returns the underlying metadata store.
func (c *Catalog) Store() Store {
	return c.store
}

// Snapshot returns the currently installed topology view.
func (c *Catalog) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Revision returns the revision of the installed snapshot.
func (c *Catalog) Revision() int64 {
	return c.Snapshot().Revision
}

// IsReadOnly reports whether the catalog currently rejects mutation.
func (c *Catalog) IsReadOnly() bool {
	return c.Snapshot().ReadOnly
}

// ApplySnapshot installs a reloaded snapshot. The view is monotonic: a
// snapshot older than the installed one is discarded.
func (c *Catalog) ApplySnapshot(snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current := c.snap.Load(); current != nil && snap.Revision < current.Revision {
		c.logger.Warnf("Discarding stale catalog snapshot at revision %d (installed revision %d)", snap.Revision, current.Revision)
		return
	}
	c.snap.Store(snap)
}

// propagate runs after every successful mutation so the new revision is
// picked up locally and by every registered observer.
func (c *Catalog) propagate(ctx context.Context) error {
	if c.syncer != nil {
		return c.syncer.DetectChanges(ctx)
	}
	snap, err := c.store.Load(ctx)
	if err != nil {
		return WrapPersistence("reloading catalog", err)
	}
	c.ApplySnapshot(snap)
	return nil
}

// Sync runs one synchronization check. Directory mutations call it so that
// structural changes made concurrently by another instance are picked up
// promptly.
func (c *Catalog) Sync(ctx context.Context) error {
	return c.propagate(ctx)
}

func (c *Catalog) isWritable(operation string) error {
	if c.IsReadOnly() {
		return NewReadOnlyError("catalog", operation)
	}
	return nil
}

// UpdateCatalogReadOnly persists the catalog-level read-only flag. The
// change travels to sibling instances through the same revision mechanism
// as structural mutations.
func (c *Catalog) UpdateCatalogReadOnly(ctx context.Context, readOnly bool) error {
	if err := c.store.SetReadOnly(ctx, readOnly); err != nil {
		return WrapPersistence("updating catalog read-only flag", err)
	}
	c.logger.Infof("Catalog read-only flag set to %t", readOnly)
	return c.propagate(ctx)
}

// AddPartitionDimension persists a new dimension. The dimension's index
// storage location defaults to the metadata store itself when unset.
func (c *Catalog) AddPartitionDimension(ctx context.Context, dim *PartitionDimension) (*PartitionDimension, error) {
	if err := c.isWritable("creating a partition dimension"); err != nil {
		return nil, err
	}
	if err := dim.Validate(); err != nil {
		return nil, err
	}

	snap := c.Snapshot()
	for _, existing := range snap.Dimensions {
		if existing.Name == dim.Name {
			return nil, NewNotUniqueError("partition dimension", dim.Name, "catalog")
		}
	}

	if dim.IndexURI == "" {
		dim.IndexURI = c.store.URI()
	}

	id, err := c.store.CreateDimension(ctx, dim)
	if err != nil {
		return nil, WrapPersistence("persisting partition dimension", err)
	}
	dim.ID = id

	c.logger.Infof("Added partition dimension %q (id %d)", dim.Name, dim.ID)
	if err := c.propagate(ctx); err != nil {
		return nil, err
	}
	return dim, nil
}

// AddNode persists a new data node under the named dimension.
func (c *Catalog) AddNode(ctx context.Context, dimensionName string, node *Node) (*Node, error) {
	if err := c.isWritable("creating a node"); err != nil {
		return nil, err
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}

	snap := c.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	for _, existing := range snap.NodesOf(dim.ID) {
		if existing.URI == node.URI {
			return nil, NewNotUniqueError("node uri", node.URI, dim.Name)
		}
		if existing.Name == node.Name {
			return nil, NewNotUniqueError("node", node.Name, dim.Name)
		}
	}

	node.DimensionID = dim.ID
	id, err := c.store.CreateNode(ctx, node)
	if err != nil {
		return nil, WrapPersistence("persisting node", err)
	}
	node.ID = id

	c.logger.Infof("Added node %q (id %d) to dimension %q", node.Name, node.ID, dim.Name)
	if err := c.propagate(ctx); err != nil {
		return nil, err
	}
	return node, nil
}

// AddResource persists a new resource under the named dimension.
func (c *Catalog) AddResource(ctx context.Context, dimensionName string, resource *Resource) (*Resource, error) {
	if err := c.isWritable("creating a resource"); err != nil {
		return nil, err
	}
	if err := resource.Validate(); err != nil {
		return nil, err
	}

	snap := c.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	for _, existing := range snap.ResourcesOf(dim.ID) {
		if existing.Name == resource.Name {
			return nil, NewNotUniqueError("resource", resource.Name, dim.Name)
		}
	}

	resource.DimensionID = dim.ID
	id, err := c.store.CreateResource(ctx, resource)
	if err != nil {
		return nil, WrapPersistence("persisting resource", err)
	}
	resource.ID = id

	c.logger.Infof("Added resource %q (id %d) to dimension %q", resource.Name, resource.ID, dim.Name)
	if err := c.propagate(ctx); err != nil {
		return nil, err
	}
	return resource, nil
}

// AddSecondaryIndex persists a new secondary index under the named resource.
func (c *Catalog) AddSecondaryIndex(ctx context.Context, dimensionName, resourceName string, index *SecondaryIndex) (*SecondaryIndex, error) {
	if err := c.isWritable("creating a secondary index"); err != nil {
		return nil, err
	}
	if err := index.Validate(); err != nil {
		return nil, err
	}

	snap := c.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	resource, err := snap.ResourceByName(dim.ID, resourceName)
	if err != nil {
		return nil, err
	}
	for _, existing := range snap.SecondaryIndexesOf(resource.ID) {
		if existing.ColumnName == index.ColumnName {
			return nil, NewNotUniqueError("secondary index", index.ColumnName, resource.Name)
		}
	}

	index.ResourceID = resource.ID
	id, err := c.store.CreateSecondaryIndex(ctx, index)
	if err != nil {
		return nil, WrapPersistence("persisting secondary index", err)
	}
	index.ID = id

	c.logger.Infof("Added secondary index %q (id %d) to resource %q", index.QualifiedName(resource.Name), index.ID, resource.Name)
	if err := c.propagate(ctx); err != nil {
		return nil, err
	}
	return index, nil
}

// UpdatePartitionDimension updates an existing dimension. The id must match
// a persisted dimension and the new name must not collide with another one.
func (c *Catalog) UpdatePartitionDimension(ctx context.Context, dim *PartitionDimension) error {
	if err := c.isWritable("updating a partition dimension"); err != nil {
		return err
	}
	if err := dim.Validate(); err != nil {
		return err
	}

	snap := c.Snapshot()
	if _, ok := snap.Dimensions[dim.ID]; !ok {
		return NewNotFoundError("partition dimension", dim.Name)
	}
	for _, existing := range snap.Dimensions {
		if existing.Name == dim.Name && existing.ID != dim.ID {
			return NewNotUniqueError("partition dimension", dim.Name, "catalog")
		}
	}

	if err := c.store.UpdateDimension(ctx, dim); err != nil {
		return WrapPersistence("updating partition dimension", err)
	}
	c.logger.Infof("Updated partition dimension %q (id %d)", dim.Name, dim.ID)
	return c.propagate(ctx)
}

// UpdateNode updates an existing node.
func (c *Catalog) UpdateNode(ctx context.Context, node *Node) error {
	if err := c.isWritable("updating a node"); err != nil {
		return err
	}
	if err := node.Validate(); err != nil {
		return err
	}

	snap := c.Snapshot()
	existing, ok := snap.Nodes[node.ID]
	if !ok {
		return NewNotFoundError("node", node.Name)
	}
	node.DimensionID = existing.DimensionID
	for _, sibling := range snap.NodesOf(existing.DimensionID) {
		if sibling.ID == node.ID {
			continue
		}
		if sibling.URI == node.URI {
			return NewNotUniqueError("node uri", node.URI, "dimension")
		}
		if sibling.Name == node.Name {
			return NewNotUniqueError("node", node.Name, "dimension")
		}
	}

	if err := c.store.UpdateNode(ctx, node); err != nil {
		return WrapPersistence("updating node", err)
	}
	c.logger.Infof("Updated node %q (id %d)", node.Name, node.ID)
	return c.propagate(ctx)
}

// UpdateResource updates an existing resource.
func (c *Catalog) UpdateResource(ctx context.Context, resource *Resource) error {
	if err := c.isWritable("updating a resource"); err != nil {
		return err
	}
	if err := resource.Validate(); err != nil {
		return err
	}

	snap := c.Snapshot()
	existing, ok := snap.Resources[resource.ID]
	if !ok {
		return NewNotFoundError("resource", resource.Name)
	}
	resource.DimensionID = existing.DimensionID
	for _, sibling := range snap.ResourcesOf(existing.DimensionID) {
		if sibling.Name == resource.Name && sibling.ID != resource.ID {
			return NewNotUniqueError("resource", resource.Name, "dimension")
		}
	}

	if err := c.store.UpdateResource(ctx, resource); err != nil {
		return WrapPersistence("updating resource", err)
	}
	c.logger.Infof("Updated resource %q (id %d)", resource.Name, resource.ID)
	return c.propagate(ctx)
}

// UpdateSecondaryIndex updates an existing secondary index.
func (c *Catalog) UpdateSecondaryIndex(ctx context.Context, index *SecondaryIndex) error {
	if err := c.isWritable("updating a secondary index"); err != nil {
		return err
	}
	if err := index.Validate(); err != nil {
		return err
	}

	snap := c.Snapshot()
	existing, ok := snap.SecondaryIndexes[index.ID]
	if !ok {
		return NewNotFoundError("secondary index", index.ColumnName)
	}
	index.ResourceID = existing.ResourceID
	for _, sibling := range snap.SecondaryIndexesOf(existing.ResourceID) {
		if sibling.ColumnName == index.ColumnName && sibling.ID != index.ID {
			return NewNotUniqueError("secondary index", index.ColumnName, "resource")
		}
	}

	if err := c.store.UpdateSecondaryIndex(ctx, index); err != nil {
		return WrapPersistence("updating secondary index", err)
	}
	c.logger.Infof("Updated secondary index %q (id %d)", index.ColumnName, index.ID)
	return c.propagate(ctx)
}

// DeletePartitionDimension validates the dimension exists, then fails:
// deleting a dimension requires cascading over its directory tables, which
// is not designed yet.
func (c *Catalog) DeletePartitionDimension(ctx context.Context, name string) error {
	if err := c.isWritable("deleting a partition dimension"); err != nil {
		return err
	}
	if _, err := c.Snapshot().DimensionByName(name); err != nil {
		return err
	}
	return NewNotSupportedError("deleting a partition dimension", "cascade over directory tables is not designed yet")
}

// DeleteNode validates the node exists, then fails: deleting a node requires
// migrating its resident keys first, which is not designed yet.
func (c *Catalog) DeleteNode(ctx context.Context, dimensionName, nodeName string) error {
	if err := c.isWritable("deleting a node"); err != nil {
		return err
	}
	snap := c.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return err
	}
	if _, err := snap.NodeByName(dim.ID, nodeName); err != nil {
		return err
	}
	return NewNotSupportedError("deleting a node", "resident keys must be migrated first")
}

// DeleteSecondaryIndex validates the index exists, then fails: deleting an
// index requires dropping its directory table, which is not designed yet.
func (c *Catalog) DeleteSecondaryIndex(ctx context.Context, dimensionName, resourceName, columnName string) error {
	if err := c.isWritable("deleting a secondary index"); err != nil {
		return err
	}
	snap := c.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return err
	}
	resource, err := snap.ResourceByName(dim.ID, resourceName)
	if err != nil {
		return err
	}
	if _, err := snap.SecondaryIndexByName(resource.ID, columnName); err != nil {
		return err
	}
	return NewNotSupportedError("deleting a secondary index", "directory table drop is not designed yet")
}

// PartitionDimension resolves a dimension by name.
func (c *Catalog) PartitionDimension(name string) (*PartitionDimension, error) {
	return c.Snapshot().DimensionByName(name)
}

// Nodes returns the nodes of the named dimension.
func (c *Catalog) Nodes(dimensionName string) ([]*Node, error) {
	snap := c.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	return snap.NodesOf(dim.ID), nil
}

// Node resolves a node of the named dimension by node name.
func (c *Catalog) Node(dimensionName, nodeName string) (*Node, error) {
	snap := c.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	return snap.NodeByName(dim.ID, nodeName)
}

// Resource resolves a resource of the named dimension.
func (c *Catalog) Resource(dimensionName, resourceName string) (*Resource, error) {
	snap := c.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	return snap.ResourceByName(dim.ID, resourceName)
}

// SecondaryIndex resolves a secondary index by dimension, resource, and
// column name.
func (c *Catalog) SecondaryIndex(dimensionName, resourceName, columnName string) (*SecondaryIndex, error) {
	snap := c.Snapshot()
	dim, err := snap.DimensionByName(dimensionName)
	if err != nil {
		return nil, err
	}
	resource, err := snap.ResourceByName(dim.ID, resourceName)
	if err != nil {
		return nil, err
	}
	return snap.SecondaryIndexByName(resource.ID, columnName)
}
