package directory

import (
	"context"
	"database/sql"

	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/dialect"
)

// Connections is the data-plane facade: it resolves any kind of key through
// the directory and hands back an open database handle on the node that owns
// the record. Handles are pooled per node URI in the shared registry.
type Connections struct {
	directory *Directory
	registry  *dialect.Registry
}

// NewConnections creates the facade over a directory and connection registry.
func NewConnections(directory *Directory, registry *dialect.Registry) *Connections {
	return &Connections{directory: directory, registry: registry}
}

func (c *Connections) open(node *catalog.Node) (*sql.DB, error) {
	return c.registry.DB(node.Dialect, node.URI)
}

// ByPrimaryKey returns a handle on the node owning the given partition key.
func (c *Connections) ByPrimaryKey(ctx context.Context, dimensionName string, key interface{}) (*sql.DB, *catalog.Node, error) {
	node, err := c.directory.GetNodeOfPrimaryKey(ctx, dimensionName, key)
	if err != nil {
		return nil, nil, err
	}
	db, err := c.open(node)
	if err != nil {
		return nil, nil, err
	}
	return db, node, nil
}

// BySecondaryKey returns a handle on the node owning the record found
// through a secondary index.
func (c *Connections) BySecondaryKey(ctx context.Context, dimensionName, resourceName, columnName string, secondaryKey interface{}) (*sql.DB, *catalog.Node, error) {
	node, err := c.directory.GetNodeOfSecondaryKey(ctx, dimensionName, resourceName, columnName, secondaryKey)
	if err != nil {
		return nil, nil, err
	}
	db, err := c.open(node)
	if err != nil {
		return nil, nil, err
	}
	return db, node, nil
}

// ByResourceID returns a handle on the node hosting the resource record.
func (c *Connections) ByResourceID(ctx context.Context, dimensionName, resourceName string, resourceID interface{}) (*sql.DB, *catalog.Node, error) {
	node, err := c.directory.GetNodeOfResourceID(ctx, dimensionName, resourceName, resourceID)
	if err != nil {
		return nil, nil, err
	}
	db, err := c.open(node)
	if err != nil {
		return nil, nil, err
	}
	return db, node, nil
}
