package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"htm-memory/internal/apperrors"
	"htm-memory/internal/cache"
	"htm-memory/internal/domain/node"
)

// NodeRepository is the persistence seam the rest of the system depends on
// for Long-Term Memory. Store implements it directly against Postgres;
// CircuitBreakerStore wraps any implementation with fault tolerance.
type NodeRepository interface {
	Add(ctx context.Context, content string, tokenCount int, metadata map[string]interface{}) (*node.Node, error)
	FindByID(ctx context.Context, id node.ID) (*node.Node, error)
	FindByHash(ctx context.Context, hash string) (*node.Node, error)
	FindNodes(ctx context.Context, q NodeQuery) ([]*node.Node, error)
	UpdateContent(ctx context.Context, id node.ID, content string, tokenCount int) error
	UpdateEmbedding(ctx context.Context, id node.ID, vector []float32) error
	Forget(ctx context.Context, id node.ID, hard bool) error
	Restore(ctx context.Context, id node.ID) error
	PurgeDeleted(ctx context.Context, olderThan time.Duration) (int, error)
}

// Store is the Postgres-backed Long-Term Memory. It fronts every read with
// a TTL+LRU cache and invalidates the cache wholesale on every mutation.
type Store struct {
	pool   *pgxpool.Pool
	cache  *cache.Cache
	logger *zap.Logger
}

// New creates a Store. A nil cache is replaced by a default TTL+LRU cache
// (cache.DefaultTTL, cache.DefaultSize).
func New(pool *pgxpool.Pool, c *cache.Cache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.New(cache.DefaultTTL, cache.DefaultSize)
	}
	return &Store{pool: pool, cache: c, logger: logger.Named("store")}
}

// Add inserts a new node, or returns the existing live node with the same
// content hash if one already exists (content-addressed de-duplication).
func (s *Store) Add(ctx context.Context, content string, tokenCount int, metadata map[string]interface{}) (*node.Node, error) {
	hash := node.HashContent(content)
	if existing, err := s.FindByHash(ctx, hash); err == nil {
		return existing, nil
	} else if !apperrors.Is(err, apperrors.KindNotFound) {
		return nil, err
	}

	n, err := node.New(content, tokenCount, metadata)
	if err != nil {
		return nil, err
	}

	metaJSON, err := json.Marshal(n.Metadata())
	if err != nil {
		return nil, apperrors.NewInternal("marshal node metadata", err)
	}

	const query = `
		INSERT INTO nodes (content, content_hash, token_count, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	err = s.pool.QueryRow(ctx, query, n.Content(), n.ContentHash(), n.TokenCount(), metaJSON, n.CreatedAt(), n.UpdatedAt()).Scan(&id)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			// unique_violation on content_hash: lost a race with a concurrent insert.
			if existing, findErr := s.FindByHash(ctx, hash); findErr == nil {
				return existing, nil
			}
		}
		return nil, apperrors.NewDatabase(fmt.Errorf("insert node: %w", err))
	}
	n.SetID(node.ID(id))

	s.cache.InvalidateAll()
	return n, nil
}

// AddProposition inserts content as an atomic factoid derived from
// parentID, de-duplicating by content hash exactly like Add.
func (s *Store) AddProposition(ctx context.Context, parentID node.ID, content string, tokenCount int) (*node.Node, error) {
	hash := node.HashContent(content)
	if existing, err := s.FindByHash(ctx, hash); err == nil {
		return existing, nil
	} else if !apperrors.Is(err, apperrors.KindNotFound) {
		return nil, err
	}

	const query = `
		INSERT INTO nodes (content, content_hash, token_count, metadata, is_proposition, source_node_id, created_at, updated_at)
		VALUES ($1, $2, $3, '{}', true, $4, now(), now())
		RETURNING id, created_at, updated_at
	`
	var id int64
	var createdAt, updatedAt time.Time
	err := s.pool.QueryRow(ctx, query, content, hash, tokenCount, int64(parentID)).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			if existing, findErr := s.FindByHash(ctx, hash); findErr == nil {
				return existing, nil
			}
		}
		return nil, apperrors.NewDatabase(fmt.Errorf("insert proposition: %w", err))
	}

	parent := parentID
	n := node.Reconstruct(node.ID(id), content, hash, nil, 0, tokenCount, map[string]interface{}{}, true, &parent, createdAt, updatedAt, nil)
	s.cache.InvalidateAll()
	return n, nil
}

const nodeColumns = `id, content, content_hash, embedding, embedding_dimension, token_count,
	metadata, is_proposition, source_node_id, created_at, updated_at, deleted_at`

func scanNode(row pgx.Row) (*node.Node, error) {
	var (
		id                 int64
		content, hash      string
		embedding          []float32
		embeddingDimension int
		tokenCount         int
		metaJSON           []byte
		isProposition      bool
		sourceNodeID       *int64
		createdAt, updated time.Time
		deletedAt          *time.Time
	)
	if err := row.Scan(&id, &content, &hash, &embedding, &embeddingDimension, &tokenCount,
		&metaJSON, &isProposition, &sourceNodeID, &createdAt, &updated, &deletedAt); err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &metadata); err != nil {
			return nil, apperrors.NewInternal("unmarshal node metadata", err)
		}
	}

	var source *node.ID
	if sourceNodeID != nil {
		v := node.ID(*sourceNodeID)
		source = &v
	}

	return node.Reconstruct(node.ID(id), content, hash, embedding, embeddingDimension, tokenCount,
		metadata, isProposition, source, createdAt, updated, deletedAt), nil
}

// FindByID retrieves a node by its surrogate id. Soft-deleted nodes are
// still reachable by id (the caller who has an id already knows about it);
// only FindNodes filters tombstones out by default.
func (s *Store) FindByID(ctx context.Context, id node.ID) (*node.Node, error) {
	key := cache.Key("store.FindByID", map[string]interface{}{"id": int64(id)})
	if v, ok := s.cache.Get(key); ok {
		return v.(*node.Node), nil
	}

	const query = `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`
	n, err := scanNode(s.pool.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("node")
	}
	if err != nil {
		return nil, apperrors.NewDatabase(fmt.Errorf("find node by id: %w", err))
	}

	s.cache.Put(key, n)
	return n, nil
}

// FindByHash retrieves the live node matching a content hash, used for
// de-duplication on add.
func (s *Store) FindByHash(ctx context.Context, hash string) (*node.Node, error) {
	const query = `SELECT ` + nodeColumns + ` FROM nodes WHERE content_hash = $1 AND deleted_at IS NULL`
	n, err := scanNode(s.pool.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("node")
	}
	if err != nil {
		return nil, apperrors.NewDatabase(fmt.Errorf("find node by hash: %w", err))
	}
	return n, nil
}

// FindNodes runs a filtered, paginated query over Long-Term Memory.
func (s *Store) FindNodes(ctx context.Context, q NodeQuery) ([]*node.Node, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	key := cache.Key("store.FindNodes", map[string]interface{}{
		"tags": q.TagNames, "robot": q.RobotID, "wm": q.WorkingMemory,
		"deleted": q.IncludeDeleted, "limit": q.limit(), "offset": q.Offset,
	})
	if v, ok := s.cache.Get(key); ok {
		return v.([]*node.Node), nil
	}

	qualifiedColumns := make([]string, 0, 12)
	for _, col := range strings.Split(nodeColumns, ",") {
		qualifiedColumns = append(qualifiedColumns, "n."+strings.TrimSpace(col))
	}
	sql := "SELECT " + strings.Join(qualifiedColumns, ", ") + " FROM nodes n"

	args := make([]interface{}, 0, 8)
	where := make([]string, 0, 4)

	if q.HasTagFilter() {
		sql += " JOIN node_tags nt ON nt.node_id = n.id JOIN tags t ON t.id = nt.tag_id"
		args = append(args, q.TagNames)
		where = append(where, fmt.Sprintf("t.name = ANY($%d)", len(args)))
	}
	if q.HasRobotFilter() {
		sql += " JOIN robot_nodes rn ON rn.node_id = n.id"
		args = append(args, q.RobotID)
		where = append(where, fmt.Sprintf("rn.robot_id = $%d", len(args)))
		if q.WorkingMemory {
			where = append(where, "rn.working_memory = true")
		}
	}
	if !q.IncludeDeleted {
		where = append(where, "n.deleted_at IS NULL")
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	// Every requested tag must match, not just one of them: group by node
	// and require the distinct-tag-name count to reach the requested total.
	groupBy := "GROUP BY " + strings.Join(qualifiedColumns, ", ")
	if q.HasTagFilter() {
		sql += fmt.Sprintf(" %s HAVING COUNT(DISTINCT t.name) = %d", groupBy, len(q.TagNames))
	}

	args = append(args, q.limit(), q.Offset)
	sql += fmt.Sprintf(" ORDER BY n.created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.NewDatabase(fmt.Errorf("find nodes: %w", err))
	}
	defer rows.Close()

	var out []*node.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, apperrors.NewDatabase(fmt.Errorf("scan node row: %w", err))
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabase(err)
	}

	s.cache.Put(key, out)
	return out, nil
}

// UpdateContent replaces a node's content, re-hashing it and clearing any
// stale embedding so enrichment re-runs.
func (s *Store) UpdateContent(ctx context.Context, id node.ID, content string, tokenCount int) error {
	hash := node.HashContent(content)
	const query = `
		UPDATE nodes
		SET content = $2, content_hash = $3, token_count = $4,
			embedding = NULL, embedding_dimension = 0, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, int64(id), content, hash, tokenCount)
	if err != nil {
		return apperrors.NewDatabase(fmt.Errorf("update node content: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("node")
	}
	s.cache.InvalidateAll()
	return nil
}

// UpdateEmbedding writes a provider-generated embedding vector, zero-padded
// to the fixed storage width.
func (s *Store) UpdateEmbedding(ctx context.Context, id node.ID, vector []float32) error {
	if len(vector) > node.MaxEmbeddingDimension {
		return apperrors.NewValidation("embedding", "embedding exceeds maximum dimension")
	}
	padded := make([]float32, node.MaxEmbeddingDimension)
	copy(padded, vector)

	const query = `
		UPDATE nodes
		SET embedding = $2, embedding_dimension = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, int64(id), padded, len(vector))
	if err != nil {
		return apperrors.NewDatabase(fmt.Errorf("update node embedding: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("node")
	}
	s.cache.InvalidateAll()
	return nil
}

// Forget soft-deletes a node by default (tombstone, recoverable via
// Restore), or hard-deletes it (and its tag/robot associations) when hard
// is true.
func (s *Store) Forget(ctx context.Context, id node.ID, hard bool) error {
	if hard {
		return s.hardDelete(ctx, id)
	}

	const query = `UPDATE nodes SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, int64(id))
	if err != nil {
		return apperrors.NewDatabase(fmt.Errorf("soft delete node: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("node")
	}
	s.cache.InvalidateAll()
	return nil
}

func (s *Store) hardDelete(ctx context.Context, id node.ID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.NewDatabase(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM robot_nodes WHERE node_id = $1`, int64(id)); err != nil {
		return apperrors.NewDatabase(fmt.Errorf("delete robot associations: %w", err))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM node_tags WHERE node_id = $1`, int64(id)); err != nil {
		return apperrors.NewDatabase(fmt.Errorf("delete tag associations: %w", err))
	}
	tag, err := tx.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, int64(id))
	if err != nil {
		return apperrors.NewDatabase(fmt.Errorf("delete node: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("node")
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabase(err)
	}
	s.cache.InvalidateAll()
	return nil
}

// Restore clears a node's soft-delete tombstone.
func (s *Store) Restore(ctx context.Context, id node.ID) error {
	const query = `UPDATE nodes SET deleted_at = NULL, updated_at = now() WHERE id = $1 AND deleted_at IS NOT NULL`
	tag, err := s.pool.Exec(ctx, query, int64(id))
	if err != nil {
		return apperrors.NewDatabase(fmt.Errorf("restore node: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("node")
	}
	s.cache.InvalidateAll()
	return nil
}

// PurgeDeleted hard-deletes every tombstoned node older than olderThan,
// returning the number of nodes removed. Intended to run on a periodic
// maintenance job, not inline with user requests.
func (s *Store) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	rows, err := s.pool.Query(ctx, `SELECT id FROM nodes WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.NewDatabase(err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, apperrors.NewDatabase(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperrors.NewDatabase(err)
	}

	for _, id := range ids {
		if err := s.hardDelete(ctx, node.ID(id)); err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
			return 0, err
		}
	}
	return len(ids), nil
}
