package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/dialect"
	"github.com/shardmap/shardmap/internal/keytype"
	"github.com/shardmap/shardmap/pkg/logger"
)

// SQLStore is the relational IndexStore. Each dimension's index tables live
// at the dimension's index-storage URI, reached through a shared connection
// registry. Statements are rendered with the placeholder style of the
// dimension's index dialect.
type SQLStore struct {
	registry *dialect.Registry
	logger   *logger.Logger
}

// NewSQLStore creates a store over the given connection registry.
func NewSQLStore(registry *dialect.Registry, log *logger.Logger) *SQLStore {
	return &SQLStore{registry: registry, logger: log}
}

func (s *SQLStore) db(dim *catalog.PartitionDimension) (*sql.DB, error) {
	db, err := s.registry.DB(dim.IndexDialect, dim.IndexURI)
	if err != nil {
		return nil, catalog.WrapPersistence("opening index storage", err)
	}
	return db, nil
}

// Install creates the index tables for a dimension and everything declared
// under it. Existing tables are left alone.
func (s *SQLStore) Install(ctx context.Context, snap *catalog.Snapshot, dim *catalog.PartitionDimension) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}

	statements := []string{PrimaryIndexDDL(dim)}
	for _, res := range snap.ResourcesOf(dim.ID) {
		statements = append(statements, ResourceIndexDDL(dim, res))
		for _, idx := range snap.SecondaryIndexesOf(res.ID) {
			statements = append(statements, SecondaryIndexDDL(dim, res, idx))
		}
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return catalog.WrapPersistence("installing index tables", err)
		}
	}
	s.logger.Infof("Installed %d index tables for dimension %q", len(statements), dim.Name)
	return nil
}

// InsertPrimaryKey implements IndexStore.
func (s *SQLStore) InsertPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, nodeID int64) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	d := dim.IndexDialect
	query := fmt.Sprintf(
		"INSERT INTO %s (pkey, node_id, read_only, secondary_index_count, last_updated) VALUES (%s, %s, FALSE, 0, %s)",
		primaryIndexTable(dim), d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	_, err = db.ExecContext(ctx, query, key, nodeID, time.Now().UTC())
	return err
}

// DeletePrimaryKey implements IndexStore.
func (s *SQLStore) DeletePrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, key interface{}) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE pkey = %s",
		primaryIndexTable(dim), dim.IndexDialect.Placeholder(1))
	result, err := db.ExecContext(ctx, query, key)
	if err != nil {
		return err
	}
	return s.checkAffected(result, dim.KeyType, key, "primary key")
}

// UpdatePrimaryKeyNode implements IndexStore.
func (s *SQLStore) UpdatePrimaryKeyNode(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, nodeID int64) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	d := dim.IndexDialect
	query := fmt.Sprintf("UPDATE %s SET node_id = %s, last_updated = %s WHERE pkey = %s",
		primaryIndexTable(dim), d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	result, err := db.ExecContext(ctx, query, nodeID, time.Now().UTC(), key)
	if err != nil {
		return err
	}
	return s.checkAffected(result, dim.KeyType, key, "primary key")
}

// UpdatePrimaryKeyReadOnly implements IndexStore.
func (s *SQLStore) UpdatePrimaryKeyReadOnly(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, readOnly bool) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	d := dim.IndexDialect
	query := fmt.Sprintf("UPDATE %s SET read_only = %s, last_updated = %s WHERE pkey = %s",
		primaryIndexTable(dim), d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	result, err := db.ExecContext(ctx, query, readOnly, time.Now().UTC(), key)
	if err != nil {
		return err
	}
	return s.checkAffected(result, dim.KeyType, key, "primary key")
}

// PrimaryKeyEntry implements IndexStore.
func (s *SQLStore) PrimaryKeyEntry(ctx context.Context, dim *catalog.PartitionDimension, key interface{}) (int64, bool, error) {
	db, err := s.db(dim)
	if err != nil {
		return 0, false, err
	}
	query := fmt.Sprintf("SELECT node_id, read_only FROM %s WHERE pkey = %s",
		primaryIndexTable(dim), dim.IndexDialect.Placeholder(1))

	var nodeID int64
	var readOnly bool
	err = db.QueryRowContext(ctx, query, key).Scan(&nodeID, &readOnly)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, s.notFound(dim.KeyType, key, "primary key")
	}
	if err != nil {
		return 0, false, catalog.WrapPersistence("reading primary key entry", err)
	}
	return nodeID, readOnly, nil
}

// AdjustChildRecordCount implements IndexStore.
func (s *SQLStore) AdjustChildRecordCount(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, delta int64) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	d := dim.IndexDialect
	query := fmt.Sprintf("UPDATE %s SET secondary_index_count = secondary_index_count + %s WHERE pkey = %s",
		primaryIndexTable(dim), d.Placeholder(1), d.Placeholder(2))
	result, err := db.ExecContext(ctx, query, delta, key)
	if err != nil {
		return err
	}
	return s.checkAffected(result, dim.KeyType, key, "primary key")
}

// PartitionKeyLoads implements IndexStore.
func (s *SQLStore) PartitionKeyLoads(ctx context.Context, dim *catalog.PartitionDimension) ([]KeyLoad, error) {
	db, err := s.db(dim)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT pkey, node_id, secondary_index_count FROM %s", primaryIndexTable(dim))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []KeyLoad
	for rows.Next() {
		target := scanTarget(dim.KeyType)
		var load KeyLoad
		if err := rows.Scan(target, &load.NodeID, &load.ChildRecordCount); err != nil {
			return nil, err
		}
		formatted, err := formatScanned(dim.KeyType, target)
		if err != nil {
			return nil, err
		}
		load.Key = formatted
		loads = append(loads, load)
	}
	return loads, rows.Err()
}

// InsertSecondaryKey implements IndexStore.
func (s *SQLStore) InsertSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey, primaryKey interface{}) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	d := dim.IndexDialect
	query := fmt.Sprintf("INSERT INTO %s (skey, pkey, last_updated) VALUES (%s, %s, %s)",
		secondaryIndexTable(res, idx), d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	_, err = db.ExecContext(ctx, query, secondaryKey, primaryKey, time.Now().UTC())
	return err
}

// DeleteSecondaryKey implements IndexStore.
func (s *SQLStore) DeleteSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey interface{}) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE skey = %s",
		secondaryIndexTable(res, idx), dim.IndexDialect.Placeholder(1))
	result, err := db.ExecContext(ctx, query, secondaryKey)
	if err != nil {
		return err
	}
	return s.checkAffected(result, idx.KeyType, secondaryKey, "secondary key")
}

// DeleteSecondaryKeysOfPrimaryKey implements IndexStore. Zero matching rows
// is not an error; cascades tolerate sparse indexes.
func (s *SQLStore) DeleteSecondaryKeysOfPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, primaryKey interface{}) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE pkey = %s",
		secondaryIndexTable(res, idx), dim.IndexDialect.Placeholder(1))
	_, err = db.ExecContext(ctx, query, primaryKey)
	return err
}

// UpdatePrimaryKeyOfSecondaryKey implements IndexStore.
func (s *SQLStore) UpdatePrimaryKeyOfSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey, primaryKey interface{}) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	d := dim.IndexDialect
	query := fmt.Sprintf("UPDATE %s SET pkey = %s, last_updated = %s WHERE skey = %s",
		secondaryIndexTable(res, idx), d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	result, err := db.ExecContext(ctx, query, primaryKey, time.Now().UTC(), secondaryKey)
	if err != nil {
		return err
	}
	return s.checkAffected(result, idx.KeyType, secondaryKey, "secondary key")
}

// PrimaryKeyOfSecondaryKey implements IndexStore.
func (s *SQLStore) PrimaryKeyOfSecondaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, secondaryKey interface{}) (interface{}, error) {
	db, err := s.db(dim)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT pkey FROM %s WHERE skey = %s",
		secondaryIndexTable(res, idx), dim.IndexDialect.Placeholder(1))

	target := scanTarget(dim.KeyType)
	err = db.QueryRowContext(ctx, query, secondaryKey).Scan(target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.notFound(idx.KeyType, secondaryKey, "secondary key")
	}
	if err != nil {
		return nil, catalog.WrapPersistence("resolving secondary key", err)
	}
	return scannedValue(dim.KeyType, target), nil
}

// SecondaryKeysOfPrimaryKey implements IndexStore.
func (s *SQLStore) SecondaryKeysOfPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, idx *catalog.SecondaryIndex, primaryKey interface{}) ([]interface{}, error) {
	db, err := s.db(dim)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT skey FROM %s WHERE pkey = %s",
		secondaryIndexTable(res, idx), dim.IndexDialect.Placeholder(1))
	rows, err := db.QueryContext(ctx, query, primaryKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []interface{}
	for rows.Next() {
		target := scanTarget(idx.KeyType)
		if err := rows.Scan(target); err != nil {
			return nil, err
		}
		keys = append(keys, scannedValue(idx.KeyType, target))
	}
	return keys, rows.Err()
}

// InsertResourceID implements IndexStore.
func (s *SQLStore) InsertResourceID(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, resourceID, primaryKey interface{}) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	d := dim.IndexDialect
	query := fmt.Sprintf("INSERT INTO %s (rid, pkey, last_updated) VALUES (%s, %s, %s)",
		resourceIndexTable(res), d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	_, err = db.ExecContext(ctx, query, resourceID, primaryKey, time.Now().UTC())
	return err
}

// DeleteResourceID implements IndexStore.
func (s *SQLStore) DeleteResourceID(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, resourceID interface{}) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE rid = %s",
		resourceIndexTable(res), dim.IndexDialect.Placeholder(1))
	result, err := db.ExecContext(ctx, query, resourceID)
	if err != nil {
		return err
	}
	return s.checkAffected(result, res.IDType, resourceID, "resource id")
}

// DeleteResourceIDsOfPrimaryKey implements IndexStore.
func (s *SQLStore) DeleteResourceIDsOfPrimaryKey(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, primaryKey interface{}) error {
	db, err := s.db(dim)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE pkey = %s",
		resourceIndexTable(res), dim.IndexDialect.Placeholder(1))
	_, err = db.ExecContext(ctx, query, primaryKey)
	return err
}

// PrimaryKeyOfResourceID implements IndexStore.
func (s *SQLStore) PrimaryKeyOfResourceID(ctx context.Context, dim *catalog.PartitionDimension, res *catalog.Resource, resourceID interface{}) (interface{}, error) {
	db, err := s.db(dim)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT pkey FROM %s WHERE rid = %s",
		resourceIndexTable(res), dim.IndexDialect.Placeholder(1))

	target := scanTarget(dim.KeyType)
	err = db.QueryRowContext(ctx, query, resourceID).Scan(target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.notFound(res.IDType, resourceID, "resource id")
	}
	if err != nil {
		return nil, catalog.WrapPersistence("resolving resource id", err)
	}
	return scannedValue(dim.KeyType, target), nil
}

func (s *SQLStore) checkAffected(result sql.Result, kt keytype.Type, key interface{}, kind string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return catalog.WrapPersistence("checking affected rows", err)
	}
	if affected == 0 {
		return s.notFound(kt, key, kind)
	}
	return nil
}

func (s *SQLStore) notFound(kt keytype.Type, key interface{}, kind string) error {
	formatted, err := kt.FormatValue(key)
	if err != nil {
		formatted = fmt.Sprintf("%v", key)
	}
	return catalog.NewNotFoundError(kind, formatted)
}

// scanTarget allocates the Scan destination matching a key type.
func scanTarget(kt keytype.Type) interface{} {
	switch kt {
	case keytype.Int64:
		return new(int64)
	case keytype.Float64:
		return new(float64)
	case keytype.Time:
		return new(time.Time)
	default:
		return new(string)
	}
}

// scannedValue dereferences a scanTarget back to a canonical key value.
func scannedValue(kt keytype.Type, target interface{}) interface{} {
	switch kt {
	case keytype.Int64:
		return *target.(*int64)
	case keytype.Float64:
		return *target.(*float64)
	case keytype.Time:
		return (*target.(*time.Time)).UTC()
	default:
		return *target.(*string)
	}
}

// formatScanned renders a scanTarget in canonical string form.
func formatScanned(kt keytype.Type, target interface{}) (string, error) {
	return kt.FormatValue(scannedValue(kt, target))
}
