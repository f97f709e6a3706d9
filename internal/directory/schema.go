package directory

import (
	"fmt"
	"strings"

	"github.com/shardmap/shardmap/internal/catalog"
)

// Index table names are derived from catalog entity names. Catalog names are
// free-form, so they are folded to a safe identifier before being embedded
// in DDL and statements.
func safeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// primaryIndexTable is the table holding the key-to-node map of a dimension.
func primaryIndexTable(dim *catalog.PartitionDimension) string {
	return "pindex_" + safeIdentifier(dim.Name)
}

// secondaryIndexTable is the table holding one alternate-key map of a
// resource column.
func secondaryIndexTable(res *catalog.Resource, idx *catalog.SecondaryIndex) string {
	return "sindex_" + safeIdentifier(res.Name) + "_" + safeIdentifier(idx.ColumnName)
}

// resourceIndexTable is the table binding resource record ids to their
// partition key.
func resourceIndexTable(res *catalog.Resource) string {
	return "rindex_" + safeIdentifier(res.Name)
}

// PrimaryIndexDDL returns the CREATE TABLE statement for a dimension's
// primary index. The column type spelling is accepted by both supported
// dialects.
func PrimaryIndexDDL(dim *catalog.PartitionDimension) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    pkey %s NOT NULL,
    node_id BIGINT NOT NULL,
    read_only BOOLEAN NOT NULL DEFAULT FALSE,
    secondary_index_count BIGINT NOT NULL DEFAULT 0,
    last_updated TIMESTAMP NOT NULL,
    PRIMARY KEY (pkey)
)`, primaryIndexTable(dim), dim.KeyType.SQLType())
}

// SecondaryIndexDDL returns the CREATE TABLE statement for one secondary
// index of a resource. Secondary keys are unique within the index.
func SecondaryIndexDDL(dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    skey %s NOT NULL,
    pkey %s NOT NULL,
    last_updated TIMESTAMP NOT NULL,
    PRIMARY KEY (skey)
)`, secondaryIndexTable(res, idx), idx.KeyType.SQLType(), dim.KeyType.SQLType())
}

// ResourceIndexDDL returns the CREATE TABLE statement for a resource's id
// index.
func ResourceIndexDDL(dim *catalog.PartitionDimension, res *catalog.Resource) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    rid %s NOT NULL,
    pkey %s NOT NULL,
    last_updated TIMESTAMP NOT NULL,
    PRIMARY KEY (rid)
)`, resourceIndexTable(res), res.IDType.SQLType(), dim.KeyType.SQLType())
}
