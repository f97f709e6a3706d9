package directory

import (
	"context"
	"sync"

	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/keytype"
)

type primaryEntry struct {
	nodeID           int64
	readOnly         bool
	childRecordCount int64
}

// MemoryStore is an in-process IndexStore. It keeps the directory of every
// dimension in maps keyed by the canonical string form of each key, with the
// same not-found semantics as the SQL store.
type MemoryStore struct {
	mu      sync.Mutex
	primary map[string]map[string]*primaryEntry
	// secondary maps index table name -> secondary key -> primary key.
	secondary map[string]map[string]interface{}
	// resource maps resource table name -> resource id -> primary key.
	resource map[string]map[string]interface{}
}

// NewMemoryStore creates an empty in-process index store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		primary:   make(map[string]map[string]*primaryEntry),
		secondary: make(map[string]map[string]interface{}),
		resource:  make(map[string]map[string]interface{}),
	}
}

func formatKey(kt keytype.Type, key interface{}) (string, error) {
	return kt.FormatValue(key)
}

func (m *MemoryStore) primaryTable(dim *catalog.PartitionDimension) map[string]*primaryEntry {
	name := primaryIndexTable(dim)
	if m.primary[name] == nil {
		m.primary[name] = make(map[string]*primaryEntry)
	}
	return m.primary[name]
}

func (m *MemoryStore) secondaryTable(res *catalog.Resource, idx *catalog.SecondaryIndex) map[string]interface{} {
	name := secondaryIndexTable(res, idx)
	if m.secondary[name] == nil {
		m.secondary[name] = make(map[string]interface{})
	}
	return m.secondary[name]
}

func (m *MemoryStore) resourceTable(res *catalog.Resource) map[string]interface{} {
	name := resourceIndexTable(res)
	if m.resource[name] == nil {
		m.resource[name] = make(map[string]interface{})
	}
	return m.resource[name]
}

// InsertPrimaryKey implements IndexStore.
func (m *MemoryStore) InsertPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, nodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := formatKey(dim.KeyType, key)
	if err != nil {
		return err
	}
	m.primaryTable(dim)[k] = &primaryEntry{nodeID: nodeID}
	return nil
}

// DeletePrimaryKey implements IndexStore.
func (m *MemoryStore) DeletePrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, key interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := formatKey(dim.KeyType, key)
	if err != nil {
		return err
	}
	table := m.primaryTable(dim)
	if _, ok := table[k]; !ok {
		return catalog.NewNotFoundError("primary key", k)
	}
	delete(table, k)
	return nil
}

// UpdatePrimaryKeyNode implements IndexStore.
func (m *MemoryStore) UpdatePrimaryKeyNode(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, nodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := formatKey(dim.KeyType, key)
	if err != nil {
		return err
	}
	entry, ok := m.primaryTable(dim)[k]
	if !ok {
		return catalog.NewNotFoundError("primary key", k)
	}
	entry.nodeID = nodeID
	return nil
}

// UpdatePrimaryKeyReadOnly implements IndexStore.
func (m *MemoryStore) UpdatePrimaryKeyReadOnly(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := formatKey(dim.KeyType, key)
	if err != nil {
		return err
	}
	entry, ok := m.primaryTable(dim)[k]
	if !ok {
		return catalog.NewNotFoundError("primary key", k)
	}
	entry.readOnly = readOnly
	return nil
}

// PrimaryKeyEntry implements IndexStore.
func (m *MemoryStore) PrimaryKeyEntry(ctx context.Context, dim *catalog.PartitionDimension, key interface{}) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := formatKey(dim.KeyType, key)
	if err != nil {
		return 0, false, err
	}
	entry, ok := m.primaryTable(dim)[k]
	if !ok {
		return 0, false, catalog.NewNotFoundError("primary key", k)
	}
	return entry.nodeID, entry.readOnly, nil
}

// AdjustChildRecordCount implements IndexStore.
func (m *MemoryStore) AdjustChildRecordCount(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := formatKey(dim.KeyType, key)
	if err != nil {
		return err
	}
	entry, ok := m.primaryTable(dim)[k]
	if !ok {
		return catalog.NewNotFoundError("primary key", k)
	}
	entry.childRecordCount += delta
	return nil
}

// PartitionKeyLoads implements IndexStore.
func (m *MemoryStore) PartitionKeyLoads(ctx context.Context, dim *catalog.PartitionDimension) ([]KeyLoad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var loads []KeyLoad
	for k, entry := range m.primaryTable(dim) {
		loads = append(loads, KeyLoad{
			Key:              k,
			NodeID:           entry.nodeID,
			ChildRecordCount: entry.childRecordCount,
		})
	}
	return loads, nil
}

// InsertSecondaryKey implements IndexStore.
func (m *MemoryStore) InsertSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey, primaryKey interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sk, err := formatKey(idx.KeyType, secondaryKey)
	if err != nil {
		return err
	}
	m.secondaryTable(res, idx)[sk] = primaryKey
	return nil
}

// DeleteSecondaryKey implements IndexStore.
func (m *MemoryStore) DeleteSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sk, err := formatKey(idx.KeyType, secondaryKey)
	if err != nil {
		return err
	}
	table := m.secondaryTable(res, idx)
	if _, ok := table[sk]; !ok {
		return catalog.NewNotFoundError("secondary key", sk)
	}
	delete(table, sk)
	return nil
}

// DeleteSecondaryKeysOfPrimaryKey implements IndexStore.
func (m *MemoryStore) DeleteSecondaryKeysOfPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, primaryKey interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, err := formatKey(dim.KeyType, primaryKey)
	if err != nil {
		return err
	}
	table := m.secondaryTable(res, idx)
	for sk, mapped := range table {
		mk, err := formatKey(dim.KeyType, mapped)
		if err != nil {
			return err
		}
		if mk == pk {
			delete(table, sk)
		}
	}
	return nil
}

// UpdatePrimaryKeyOfSecondaryKey implements IndexStore.
func (m *MemoryStore) UpdatePrimaryKeyOfSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey, primaryKey interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sk, err := formatKey(idx.KeyType, secondaryKey)
	if err != nil {
		return err
	}
	table := m.secondaryTable(res, idx)
	if _, ok := table[sk]; !ok {
		return catalog.NewNotFoundError("secondary key", sk)
	}
	table[sk] = primaryKey
	return nil
}

// PrimaryKeyOfSecondaryKey implements IndexStore.
func (m *MemoryStore) PrimaryKeyOfSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey interface{}) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sk, err := formatKey(idx.KeyType, secondaryKey)
	if err != nil {
		return nil, err
	}
	pk, ok := m.secondaryTable(res, idx)[sk]
	if !ok {
		return nil, catalog.NewNotFoundError("secondary key", sk)
	}
	return pk, nil
}

// SecondaryKeysOfPrimaryKey implements IndexStore.
func (m *MemoryStore) SecondaryKeysOfPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, primaryKey interface{}) ([]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, err := formatKey(dim.KeyType, primaryKey)
	if err != nil {
		return nil, err
	}
	var keys []interface{}
	for sk, mapped := range m.secondaryTable(res, idx) {
		mk, err := formatKey(dim.KeyType, mapped)
		if err != nil {
			return nil, err
		}
		if mk == pk {
			parsed, err := idx.KeyType.ParseValue(sk)
			if err != nil {
				return nil, err
			}
			keys = append(keys, parsed)
		}
	}
	return keys, nil
}

// InsertResourceID implements IndexStore.
func (m *MemoryStore) InsertResourceID(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, resourceID, primaryKey interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rid, err := formatKey(res.IDType, resourceID)
	if err != nil {
		return err
	}
	m.resourceTable(res)[rid] = primaryKey
	return nil
}

// DeleteResourceID implements IndexStore.
func (m *MemoryStore) DeleteResourceID(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, resourceID interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rid, err := formatKey(res.IDType, resourceID)
	if err != nil {
		return err
	}
	table := m.resourceTable(res)
	if _, ok := table[rid]; !ok {
		return catalog.NewNotFoundError("resource id", rid)
	}
	delete(table, rid)
	return nil
}

// DeleteResourceIDsOfPrimaryKey implements IndexStore.
func (m *MemoryStore) DeleteResourceIDsOfPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, primaryKey interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, err := formatKey(dim.KeyType, primaryKey)
	if err != nil {
		return err
	}
	table := m.resourceTable(res)
	for rid, mapped := range table {
		mk, err := formatKey(dim.KeyType, mapped)
		if err != nil {
			return err
		}
		if mk == pk {
			delete(table, rid)
		}
	}
	return nil
}

// PrimaryKeyOfResourceID implements IndexStore.
func (m *MemoryStore) PrimaryKeyOfResourceID(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, resourceID interface{}) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rid, err := formatKey(res.IDType, resourceID)
	if err != nil {
		return nil, err
	}
	pk, ok := m.resourceTable(res)[rid]
	if !ok {
		return nil, catalog.NewNotFoundError("resource id", rid)
	}
	return pk, nil
}
