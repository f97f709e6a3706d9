// Package metastore persists the metadata catalog. The Postgres store backs
// production deployments; the Memory store backs tests and embedded use.
// Both honor the same contract: every structural write and its revision
// increment commit as one atomic unit.
package metastore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/dialect"
	"github.com/shardmap/shardmap/internal/keytype"
	"github.com/shardmap/shardmap/pkg/database"
	"github.com/shardmap/shardmap/pkg/logger"
)

// Postgres implements catalog.Store over a PostgreSQL metadata database.
type Postgres struct {
	db     *database.PostgreSQL
	uri    string
	logger *logger.Logger
}

// NewPostgres creates a Postgres metadata store. The uri labels the store
// and is handed to dimensions whose index location is unset.
func NewPostgres(db *database.PostgreSQL, uri string, log *logger.Logger) *Postgres {
	return &Postgres{db: db, uri: uri, logger: log}
}

// Install creates the metadata schema if it does not exist.
func (s *Postgres) Install(ctx context.Context) error {
	if _, err := s.db.Pool().Exec(ctx, MetadataSchema); err != nil {
		return fmt.Errorf("installing metadata schema: %w", err)
	}
	s.logger.Info("Metadata schema installed")
	return nil
}

// URI identifies the metadata store.
func (s *Postgres) URI() string {
	return s.uri
}

// Semaphore reads the persisted revision counter and read-only flag.
func (s *Postgres) Semaphore(ctx context.Context) (int64, bool, error) {
	var revision int64
	var readOnly bool
	err := s.db.Pool().QueryRow(ctx,
		"SELECT revision, read_only FROM catalog_semaphore WHERE semaphore_id = 1").Scan(&revision, &readOnly)
	if err != nil {
		return 0, false, fmt.Errorf("reading catalog semaphore: %w", err)
	}
	return revision, readOnly, nil
}

// SetReadOnly persists the catalog read-only flag and bumps the revision in
// the same statement.
func (s *Postgres) SetReadOnly(ctx context.Context, readOnly bool) error {
	_, err := s.db.Pool().Exec(ctx,
		"UPDATE catalog_semaphore SET read_only = $1, revision = revision + 1 WHERE semaphore_id = 1", readOnly)
	if err != nil {
		return fmt.Errorf("updating catalog semaphore: %w", err)
	}
	return nil
}

// inRevisionTx runs fn and the revision increment inside one transaction.
// A failed row write or a failed increment rolls back both, so the store
// can never hold a row without its revision bump.
func (s *Postgres) inRevisionTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE catalog_semaphore SET revision = revision + 1 WHERE semaphore_id = 1"); err != nil {
		return fmt.Errorf("incrementing revision: %w", err)
	}
	return tx.Commit(ctx)
}

// CreateDimension persists a dimension and returns its id.
func (s *Postgres) CreateDimension(ctx context.Context, d *catalog.PartitionDimension) (int64, error) {
	var id int64
	err := s.inRevisionTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO partition_dimensions (dimension_name, key_type, index_uri, index_dialect)
			VALUES ($1, $2, $3, $4)
			RETURNING dimension_id
		`, d.Name, string(d.KeyType), d.IndexURI, string(d.IndexDialect)).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("creating partition dimension: %w", err)
	}
	return id, nil
}

// UpdateDimension persists changes to an existing dimension.
func (s *Postgres) UpdateDimension(ctx context.Context, d *catalog.PartitionDimension) error {
	err := s.inRevisionTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE partition_dimensions
			SET dimension_name = $1, key_type = $2, index_uri = $3, index_dialect = $4
			WHERE dimension_id = $5
		`, d.Name, string(d.KeyType), d.IndexURI, string(d.IndexDialect), d.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return catalog.NewNotFoundError("partition dimension", d.Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating partition dimension: %w", err)
	}
	return nil
}

// CreateNode persists a node and returns its id.
func (s *Postgres) CreateNode(ctx context.Context, n *catalog.Node) (int64, error) {
	var id int64
	err := s.inRevisionTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO nodes (dimension_id, node_name, node_uri, host, username, password, capacity, read_only, dialect)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING node_id
		`, n.DimensionID, n.Name, n.URI, n.Host, n.Username, n.Password, n.Capacity, n.ReadOnly, string(n.Dialect)).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("creating node: %w", err)
	}
	return id, nil
}

// UpdateNode persists changes to an existing node.
func (s *Postgres) UpdateNode(ctx context.Context, n *catalog.Node) error {
	err := s.inRevisionTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE nodes
			SET node_name = $1, node_uri = $2, host = $3, username = $4, password = $5, capacity = $6, read_only = $7, dialect = $8
			WHERE node_id = $9
		`, n.Name, n.URI, n.Host, n.Username, n.Password, n.Capacity, n.ReadOnly, string(n.Dialect), n.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return catalog.NewNotFoundError("node", n.Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	return nil
}

// CreateResource persists a resource and returns its id.
func (s *Postgres) CreateResource(ctx context.Context, r *catalog.Resource) (int64, error) {
	var id int64
	err := s.inRevisionTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO resources (dimension_id, resource_name, id_type)
			VALUES ($1, $2, $3)
			RETURNING resource_id
		`, r.DimensionID, r.Name, string(r.IDType)).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("creating resource: %w", err)
	}
	return id, nil
}

// UpdateResource persists changes to an existing resource.
func (s *Postgres) UpdateResource(ctx context.Context, r *catalog.Resource) error {
	err := s.inRevisionTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE resources SET resource_name = $1, id_type = $2 WHERE resource_id = $3
		`, r.Name, string(r.IDType), r.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return catalog.NewNotFoundError("resource", r.Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating resource: %w", err)
	}
	return nil
}

// CreateSecondaryIndex persists a secondary index and returns its id.
func (s *Postgres) CreateSecondaryIndex(ctx context.Context, si *catalog.SecondaryIndex) (int64, error) {
	var id int64
	err := s.inRevisionTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO secondary_indexes (resource_id, column_name, key_type)
			VALUES ($1, $2, $3)
			RETURNING index_id
		`, si.ResourceID, si.ColumnName, string(si.KeyType)).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("creating secondary index: %w", err)
	}
	return id, nil
}

// UpdateSecondaryIndex persists changes to an existing secondary index.
func (s *Postgres) UpdateSecondaryIndex(ctx context.Context, si *catalog.SecondaryIndex) error {
	err := s.inRevisionTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE secondary_indexes SET column_name = $1, key_type = $2 WHERE index_id = $3
		`, si.ColumnName, string(si.KeyType), si.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return catalog.NewNotFoundError("secondary index", si.ColumnName)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating secondary index: %w", err)
	}
	return nil
}

// Load reads the full catalog into a fresh snapshot.
func (s *Postgres) Load(ctx context.Context) (*catalog.Snapshot, error) {
	snap := catalog.NewSnapshot()

	revision, readOnly, err := s.Semaphore(ctx)
	if err != nil {
		return nil, err
	}
	snap.Revision = revision
	snap.ReadOnly = readOnly

	rows, err := s.db.Pool().Query(ctx,
		"SELECT dimension_id, dimension_name, key_type, index_uri, index_dialect FROM partition_dimensions")
	if err != nil {
		return nil, fmt.Errorf("loading partition dimensions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d catalog.PartitionDimension
		var kt, dl string
		if err := rows.Scan(&d.ID, &d.Name, &kt, &d.IndexURI, &dl); err != nil {
			return nil, err
		}
		d.KeyType = keytype.Type(kt)
		d.IndexDialect = dialect.Dialect(dl)
		snap.Dimensions[d.ID] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	rows, err = s.db.Pool().Query(ctx,
		"SELECT node_id, dimension_id, node_name, node_uri, host, username, password, capacity, read_only, dialect FROM nodes")
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n catalog.Node
		var dl string
		if err := rows.Scan(&n.ID, &n.DimensionID, &n.Name, &n.URI, &n.Host, &n.Username, &n.Password, &n.Capacity, &n.ReadOnly, &dl); err != nil {
			return nil, err
		}
		n.Dialect = dialect.Dialect(dl)
		snap.Nodes[n.ID] = &n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	rows, err = s.db.Pool().Query(ctx,
		"SELECT resource_id, dimension_id, resource_name, id_type FROM resources")
	if err != nil {
		return nil, fmt.Errorf("loading resources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r catalog.Resource
		var it string
		if err := rows.Scan(&r.ID, &r.DimensionID, &r.Name, &it); err != nil {
			return nil, err
		}
		r.IDType = keytype.Type(it)
		snap.Resources[r.ID] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	rows, err = s.db.Pool().Query(ctx,
		"SELECT index_id, resource_id, column_name, key_type FROM secondary_indexes")
	if err != nil {
		return nil, fmt.Errorf("loading secondary indexes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var si catalog.SecondaryIndex
		var kt string
		if err := rows.Scan(&si.ID, &si.ResourceID, &si.ColumnName, &kt); err != nil {
			return nil, err
		}
		si.KeyType = keytype.Type(kt)
		snap.SecondaryIndexes[si.ID] = &si
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}
