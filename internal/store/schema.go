// Package store is the Postgres-backed Long-Term Memory: CRUD with
// content-hash de-dup and soft-delete, behind the TTL+LRU query cache in
// internal/cache, built around a query-option pattern and a
// circuit-breaker-decorated repository.
package store

// Schema is the DDL the store expects to already exist. Schema migration
// and bootstrap are explicitly out of scope for the core — this constant
// documents the contract internal/store's SQL relies on.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS nodes (
    id                  BIGSERIAL PRIMARY KEY,
    content             TEXT NOT NULL,
    content_hash        CHAR(64) NOT NULL UNIQUE,
    embedding           vector(2000),
    embedding_dimension INT NOT NULL DEFAULT 0,
    token_count         INT NOT NULL,
    metadata            JSONB NOT NULL DEFAULT '{}',
    is_proposition      BOOLEAN NOT NULL DEFAULT FALSE,
    source_node_id      BIGINT REFERENCES nodes(id),
    content_tsv         tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_nodes_deleted_at ON nodes (deleted_at);
CREATE INDEX IF NOT EXISTS idx_nodes_content_tsv ON nodes USING GIN (content_tsv);
CREATE INDEX IF NOT EXISTS idx_nodes_embedding ON nodes USING ivfflat (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS tags (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_tags_name_trgm ON tags USING GIN (name gin_trgm_ops);

CREATE TABLE IF NOT EXISTS node_tags (
    node_id BIGINT NOT NULL REFERENCES nodes(id),
    tag_id  BIGINT NOT NULL REFERENCES tags(id),
    PRIMARY KEY (node_id, tag_id)
);
CREATE INDEX IF NOT EXISTS idx_node_tags_tag_id ON node_tags (tag_id);

CREATE TABLE IF NOT EXISTS robots (
    id             BIGSERIAL PRIMARY KEY,
    name           TEXT NOT NULL UNIQUE,
    max_tokens     INT NOT NULL,
    metadata       JSONB NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_active_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS robot_nodes (
    robot_id         BIGINT NOT NULL REFERENCES robots(id),
    node_id          BIGINT NOT NULL REFERENCES nodes(id),
    working_memory   BOOLEAN NOT NULL DEFAULT FALSE,
    access_count     INT NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (robot_id, node_id)
);
CREATE INDEX IF NOT EXISTS idx_robot_nodes_working_memory ON robot_nodes (robot_id, working_memory);
`
