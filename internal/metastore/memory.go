package metastore

import (
	"context"
	"sync"

	"github.com/shardmap/shardmap/internal/catalog"
)

// Memory is an in-process catalog.Store. It backs tests and embedded,
// single-process deployments; several catalog instances may share one
// Memory store, which makes it a faithful stand-in for the multi-instance
// synchronization scenario.
type Memory struct {
	mu sync.Mutex

	uri      string
	revision int64
	readOnly bool
	nextID   int64

	dimensions map[int64]*catalog.PartitionDimension
	nodes      map[int64]*catalog.Node
	resources  map[int64]*catalog.Resource
	indexes    map[int64]*catalog.SecondaryIndex
}

// NewMemory creates an empty in-process metadata store.
func NewMemory(uri string) *Memory {
	return &Memory{
		uri:        uri,
		dimensions: make(map[int64]*catalog.PartitionDimension),
		nodes:      make(map[int64]*catalog.Node),
		resources:  make(map[int64]*catalog.Resource),
		indexes:    make(map[int64]*catalog.SecondaryIndex),
	}
}

// URI identifies the store.
func (m *Memory) URI() string {
	return m.uri
}

// Semaphore reads the revision counter and read-only flag.
func (m *Memory) Semaphore(ctx context.Context) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision, m.readOnly, nil
}

// SetReadOnly persists the catalog read-only flag, bumping the revision.
func (m *Memory) SetReadOnly(ctx context.Context, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = readOnly
	m.revision++
	return nil
}

// Load returns a deep copy of the stored catalog.
func (m *Memory) Load(ctx context.Context) (*catalog.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := catalog.NewSnapshot()
	snap.Revision = m.revision
	snap.ReadOnly = m.readOnly
	for id, d := range m.dimensions {
		copied := *d
		snap.Dimensions[id] = &copied
	}
	for id, n := range m.nodes {
		copied := *n
		snap.Nodes[id] = &copied
	}
	for id, r := range m.resources {
		copied := *r
		snap.Resources[id] = &copied
	}
	for id, si := range m.indexes {
		copied := *si
		snap.SecondaryIndexes[id] = &copied
	}
	return snap, nil
}

// CreateDimension stores a dimension and returns its id.
func (m *Memory) CreateDimension(ctx context.Context, d *catalog.PartitionDimension) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	copied := *d
	copied.ID = m.nextID
	m.dimensions[copied.ID] = &copied
	m.revision++
	return copied.ID, nil
}

// UpdateDimension stores changes to an existing dimension.
func (m *Memory) UpdateDimension(ctx context.Context, d *catalog.PartitionDimension) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dimensions[d.ID]; !ok {
		return catalog.NewNotFoundError("partition dimension", d.Name)
	}
	copied := *d
	m.dimensions[d.ID] = &copied
	m.revision++
	return nil
}

// CreateNode stores a node and returns its id.
func (m *Memory) CreateNode(ctx context.Context, n *catalog.Node) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	copied := *n
	copied.ID = m.nextID
	m.nodes[copied.ID] = &copied
	m.revision++
	return copied.ID, nil
}

// UpdateNode stores changes to an existing node.
func (m *Memory) UpdateNode(ctx context.Context, n *catalog.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[n.ID]; !ok {
		return catalog.NewNotFoundError("node", n.Name)
	}
	copied := *n
	m.nodes[n.ID] = &copied
	m.revision++
	return nil
}

// CreateResource stores a resource and returns its id.
func (m *Memory) CreateResource(ctx context.Context, r *catalog.Resource) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	copied := *r
	copied.ID = m.nextID
	m.resources[copied.ID] = &copied
	m.revision++
	return copied.ID, nil
}

// UpdateResource stores changes to an existing resource.
func (m *Memory) UpdateResource(ctx context.Context, r *catalog.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.resources[r.ID]; !ok {
		return catalog.NewNotFoundError("resource", r.Name)
	}
	copied := *r
	m.resources[r.ID] = &copied
	m.revision++
	return nil
}

// CreateSecondaryIndex stores a secondary index and returns its id.
func (m *Memory) CreateSecondaryIndex(ctx context.Context, si *catalog.SecondaryIndex) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	copied := *si
	copied.ID = m.nextID
	m.indexes[copied.ID] = &copied
	m.revision++
	return copied.ID, nil
}

// UpdateSecondaryIndex stores changes to an existing secondary index.
func (m *Memory) UpdateSecondaryIndex(ctx context.Context, si *catalog.SecondaryIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indexes[si.ID]; !ok {
		return catalog.NewNotFoundError("secondary index", si.ColumnName)
	}
	copied := *si
	m.indexes[si.ID] = &copied
	m.revision++
	return nil
}
