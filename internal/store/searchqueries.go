package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"htm-memory/internal/apperrors"
	"htm-memory/internal/domain/node"
	"htm-memory/internal/tagengine"
)

// ScoredNode pairs a node id with a retriever-specific relevance score, the
// shape every hybrid-search retriever query returns.
type ScoredNode struct {
	NodeID node.ID
	Score  float64
}

func timeframeClause(column string, since, until *time.Time, args []interface{}) (string, []interface{}) {
	var clauses []string
	if since != nil {
		args = append(args, *since)
		clauses = append(clauses, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if until != nil {
		args = append(args, *until)
		clauses = append(clauses, fmt.Sprintf("%s < $%d", column, len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func vectorLiteral(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// VectorSearch ranks live nodes by cosine similarity to queryEmbedding,
// most similar first, optionally bounded to [since, until).
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, since, until *time.Time, limit int) ([]ScoredNode, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args := []interface{}{vectorLiteral(queryEmbedding)}
	sql := `SELECT id, 1 - (embedding <=> $1::vector) AS similarity FROM nodes
		WHERE deleted_at IS NULL AND embedding_dimension > 0`

	tf, args := timeframeClause("created_at", since, until, args)
	if tf != "" {
		sql += " AND " + tf
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.NewDatabase(fmt.Errorf("vector search: %w", err))
	}
	defer rows.Close()

	var out []ScoredNode
	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, apperrors.NewDatabase(err)
		}
		out = append(out, ScoredNode{NodeID: node.ID(id), Score: score})
	}
	return out, rows.Err()
}

// FullTextSearch ranks live nodes by Postgres full-text rank against
// queryText, optionally bounded to [since, until).
func (s *Store) FullTextSearch(ctx context.Context, queryText string, since, until *time.Time, limit int) ([]ScoredNode, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args := []interface{}{queryText}
	sql := `SELECT id, ts_rank(content_tsv, plainto_tsquery('english', $1)) AS rank FROM nodes
		WHERE deleted_at IS NULL AND content_tsv @@ plainto_tsquery('english', $1)`

	tf, args := timeframeClause("created_at", since, until, args)
	if tf != "" {
		sql += " AND " + tf
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY rank DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.NewDatabase(fmt.Errorf("full-text search: %w", err))
	}
	defer rows.Close()

	var out []ScoredNode
	for rows.Next() {
		var id int64
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, apperrors.NewDatabase(err)
		}
		out = append(out, ScoredNode{NodeID: node.ID(id), Score: rank})
	}
	return out, rows.Err()
}

// TagMatches returns every live node carrying at least one tag in the
// ancestor-expanded closure of tagNames, paired with its full tag list —
// the shape the hybrid search tag-depth scorer needs, optionally bounded
// to [since, until).
func (s *Store) TagMatches(ctx context.Context, tagNames []string, since, until *time.Time, limit int) (map[node.ID][]string, error) {
	if len(tagNames) == 0 {
		return map[node.ID][]string{}, nil
	}
	expanded, err := tagengine.ExpandAncestors(tagNames)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	args := []interface{}{expanded}
	sql := `SELECT DISTINCT n.id FROM nodes n
		JOIN node_tags nt ON nt.node_id = n.id
		JOIN tags t ON t.id = nt.tag_id
		WHERE n.deleted_at IS NULL AND t.name = ANY($1)`

	tf, args := timeframeClause("n.created_at", since, until, args)
	if tf != "" {
		sql += " AND " + tf
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY n.id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.NewDatabase(fmt.Errorf("tag match search: %w", err))
	}
	var ids []node.ID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperrors.NewDatabase(err)
		}
		ids = append(ids, node.ID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabase(err)
	}

	tagStore := NewTagStore(s)
	out := make(map[node.ID][]string, len(ids))
	for _, id := range ids {
		tags, err := tagStore.TagsForNode(ctx, id)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(tags))
		for i, t := range tags {
			names[i] = t.Name()
		}
		out[id] = names
	}
	return out, nil
}
