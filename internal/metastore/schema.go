package metastore

// MetadataSchema contains the metadata store schema: one table per catalog
// entity plus the single-row semaphore holding the global revision counter
// and catalog read-only flag.
const MetadataSchema = `
CREATE TABLE IF NOT EXISTS catalog_semaphore (
    semaphore_id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (semaphore_id = 1),
    revision BIGINT NOT NULL DEFAULT 0,
    read_only BOOLEAN NOT NULL DEFAULT FALSE
);

INSERT INTO catalog_semaphore (semaphore_id) VALUES (1) ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS partition_dimensions (
    dimension_id BIGSERIAL PRIMARY KEY,
    dimension_name VARCHAR(255) UNIQUE NOT NULL,
    key_type VARCHAR(32) NOT NULL,
    index_uri TEXT NOT NULL,
    index_dialect VARCHAR(32) NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
    node_id BIGSERIAL PRIMARY KEY,
    dimension_id BIGINT NOT NULL REFERENCES partition_dimensions(dimension_id),
    node_name VARCHAR(255) NOT NULL,
    node_uri TEXT NOT NULL,
    host VARCHAR(255) NOT NULL DEFAULT '',
    username VARCHAR(255) NOT NULL DEFAULT '',
    password VARCHAR(255) NOT NULL DEFAULT '',
    capacity DOUBLE PRECISION NOT NULL DEFAULT 0,
    read_only BOOLEAN NOT NULL DEFAULT FALSE,
    dialect VARCHAR(32) NOT NULL,
    UNIQUE (dimension_id, node_name),
    UNIQUE (dimension_id, node_uri)
);

CREATE TABLE IF NOT EXISTS resources (
    resource_id BIGSERIAL PRIMARY KEY,
    dimension_id BIGINT NOT NULL REFERENCES partition_dimensions(dimension_id),
    resource_name VARCHAR(255) NOT NULL,
    id_type VARCHAR(32) NOT NULL,
    UNIQUE (dimension_id, resource_name)
);

CREATE TABLE IF NOT EXISTS secondary_indexes (
    index_id BIGSERIAL PRIMARY KEY,
    resource_id BIGINT NOT NULL REFERENCES resources(resource_id),
    column_name VARCHAR(255) NOT NULL,
    key_type VARCHAR(32) NOT NULL,
    UNIQUE (resource_id, column_name)
);
`
