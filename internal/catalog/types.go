package catalog

import (
	"fmt"
	"sort"

	"github.com/shardmap/shardmap/internal/dialect"
	"github.com/shardmap/shardmap/internal/keytype"
)

// PartitionDimension is a named axis of horizontal partitioning: one primary
// key type, a set of data nodes, and the location of its directory index
// tables.
type PartitionDimension struct {
	ID           int64
	Name         string
	KeyType      keytype.Type
	IndexURI     string
	IndexDialect dialect.Dialect
}

// Validate checks the structural invariants of the dimension.
func (d *PartitionDimension) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: partition dimension requires a name", ErrInvalidEntity)
	}
	if !d.KeyType.Valid() {
		return fmt.Errorf("%w: partition dimension %q requires a valid key type", ErrInvalidEntity, d.Name)
	}
	return nil
}

// Node is a physical database endpoint capable of hosting partitioned data.
type Node struct {
	ID          int64
	DimensionID int64
	Name        string
	URI         string
	Host        string
	Username    string
	Password    string
	Capacity    float64
	ReadOnly    bool
	Dialect     dialect.Dialect
}

// Validate checks the structural invariants of the node.
func (n *Node) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("%w: node requires a name", ErrInvalidEntity)
	}
	if n.URI == "" {
		return fmt.Errorf("%w: node %q requires a connection URI", ErrInvalidEntity, n.Name)
	}
	if !n.Dialect.Valid() {
		return fmt.Errorf("%w: node %q requires a valid dialect", ErrInvalidEntity, n.Name)
	}
	return nil
}

// Resource is a partitioned entity type associated with a dimension. Its id
// type identifies individual records; secondary indexes belong to it.
type Resource struct {
	ID          int64
	DimensionID int64
	Name        string
	IDType      keytype.Type
}

// Validate checks the structural invariants of the resource.
func (r *Resource) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: resource requires a name", ErrInvalidEntity)
	}
	if !r.IDType.Valid() {
		return fmt.Errorf("%w: resource %q requires a valid id type", ErrInvalidEntity, r.Name)
	}
	return nil
}

// SecondaryIndex is an alternate-key lookup on a resource column that
// resolves to the owning primary partition key.
type SecondaryIndex struct {
	ID         int64
	ResourceID int64
	ColumnName string
	KeyType    keytype.Type
}

// Validate checks the structural invariants of the secondary index.
func (s *SecondaryIndex) Validate() error {
	if s.ColumnName == "" {
		return fmt.Errorf("%w: secondary index requires a column name", ErrInvalidEntity)
	}
	if !s.KeyType.Valid() {
		return fmt.Errorf("%w: secondary index %q requires a valid key type", ErrInvalidEntity, s.ColumnName)
	}
	return nil
}

// QualifiedName identifies a secondary index as resourceName.columnName.
func (s *SecondaryIndex) QualifiedName(resourceName string) string {
	return resourceName + "." + s.ColumnName
}

// Snapshot is one immutable, revision-stamped view of the partition
// topology. Entities live in flat collections keyed by id; relations are id
// references, never back-pointers. A snapshot is never mutated after it is
// published; reloads replace the whole snapshot atomically.
type Snapshot struct {
	Revision int64
	ReadOnly bool

	Dimensions       map[int64]*PartitionDimension
	Nodes            map[int64]*Node
	Resources        map[int64]*Resource
	SecondaryIndexes map[int64]*SecondaryIndex
}

// NewSnapshot creates an empty snapshot at revision zero.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Dimensions:       make(map[int64]*PartitionDimension),
		Nodes:            make(map[int64]*Node),
		Resources:        make(map[int64]*Resource),
		SecondaryIndexes: make(map[int64]*SecondaryIndex),
	}
}

// DimensionByName resolves a partition dimension by its unique name.
func (s *Snapshot) DimensionByName(name string) (*PartitionDimension, error) {
	for _, d := range s.Dimensions {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, NewNotFoundError("partition dimension", name)
}

// NodesOf returns the nodes of a dimension ordered by id.
func (s *Snapshot) NodesOf(dimensionID int64) []*Node {
	var nodes []*Node
	for _, n := range s.Nodes {
		if n.DimensionID == dimensionID {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// NodeByName resolves a node of a dimension by name.
func (s *Snapshot) NodeByName(dimensionID int64, name string) (*Node, error) {
	for _, n := range s.Nodes {
		if n.DimensionID == dimensionID && n.Name == name {
			return n, nil
		}
	}
	return nil, NewNotFoundError("node", name)
}

// NodeByID resolves a node by id.
func (s *Snapshot) NodeByID(id int64) (*Node, error) {
	if n, ok := s.Nodes[id]; ok {
		return n, nil
	}
	return nil, NewNotFoundError("node", fmt.Sprintf("id %d", id))
}

// ResourcesOf returns the resources of a dimension ordered by id.
func (s *Snapshot) ResourcesOf(dimensionID int64) []*Resource {
	var resources []*Resource
	for _, r := range s.Resources {
		if r.DimensionID == dimensionID {
			resources = append(resources, r)
		}
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	return resources
}

// ResourceByName resolves a resource of a dimension by name.
func (s *Snapshot) ResourceByName(dimensionID int64, name string) (*Resource, error) {
	for _, r := range s.Resources {
		if r.DimensionID == dimensionID && r.Name == name {
			return r, nil
		}
	}
	return nil, NewNotFoundError("resource", name)
}

// SecondaryIndexesOf returns the secondary indexes of a resource ordered by id.
func (s *Snapshot) SecondaryIndexesOf(resourceID int64) []*SecondaryIndex {
	var indexes []*SecondaryIndex
	for _, si := range s.SecondaryIndexes {
		if si.ResourceID == resourceID {
			indexes = append(indexes, si)
		}
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i].ID < indexes[j].ID })
	return indexes
}

// SecondaryIndexByName resolves a secondary index of a resource by column name.
func (s *Snapshot) SecondaryIndexByName(resourceID int64, columnName string) (*SecondaryIndex, error) {
	for _, si := range s.SecondaryIndexes {
		if si.ResourceID == resourceID && si.ColumnName == columnName {
			return si, nil
		}
	}
	return nil, NewNotFoundError("secondary index", columnName)
}
