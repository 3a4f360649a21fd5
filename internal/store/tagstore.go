package store

import (
	"context"
	"fmt"

	"htm-memory/internal/apperrors"
	"htm-memory/internal/domain/node"
	"htm-memory/internal/domain/tag"
	"htm-memory/internal/tagengine"
)

// TagStore persists the hierarchical tag ontology and its membership
// edges. It implements tagengine.Store so FindOrCreateWithAncestors can
// run directly against Postgres.
type TagStore struct {
	base *Store
}

// NewTagStore wraps a Store with tag-specific persistence.
func NewTagStore(base *Store) *TagStore { return &TagStore{base: base} }

// FindByNames returns the surrogate id of every already-existing tag among
// names.
func (t *TagStore) FindByNames(ctx context.Context, names []string) (map[string]int64, error) {
	if len(names) == 0 {
		return map[string]int64{}, nil
	}
	rows, err := t.base.pool.Query(ctx, `SELECT id, name FROM tags WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, apperrors.NewDatabase(fmt.Errorf("find tags by name: %w", err))
	}
	defer rows.Close()

	out := make(map[string]int64, len(names))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, apperrors.NewDatabase(err)
		}
		out[name] = id
	}
	return out, rows.Err()
}

// CreateMissing inserts every name not already present, returning the
// newly assigned ids keyed by name. Races with a concurrent creator are
// resolved by an ON CONFLICT DO UPDATE upsert whose RETURNING clause
// yields the existing row's id.
func (t *TagStore) CreateMissing(ctx context.Context, names []string) (map[string]int64, error) {
	if len(names) == 0 {
		return map[string]int64{}, nil
	}

	tx, err := t.base.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.NewDatabase(err)
	}
	defer tx.Rollback(ctx)

	out := make(map[string]int64, len(names))
	for _, name := range names {
		if !tagengine.Valid(name) {
			return nil, apperrors.NewValidation("name", "invalid tag name: "+name)
		}
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO tags (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, name).Scan(&id)
		if err != nil {
			return nil, apperrors.NewDatabase(fmt.Errorf("create tag %q: %w", name, err))
		}
		out[name] = id
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.NewDatabase(err)
	}
	return out, nil
}

// AddTagsToNode links nodeID to every tag id in tagIDs, ignoring edges
// that already exist.
func (t *TagStore) AddTagsToNode(ctx context.Context, nodeID node.ID, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	batch := make([][2]int64, 0, len(tagIDs))
	for _, tagID := range tagIDs {
		batch = append(batch, [2]int64{int64(nodeID), tagID})
	}
	tx, err := t.base.pool.Begin(ctx)
	if err != nil {
		return apperrors.NewDatabase(err)
	}
	defer tx.Rollback(ctx)

	for _, pair := range batch {
		if _, err := tx.Exec(ctx, `
			INSERT INTO node_tags (node_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, pair[0], pair[1]); err != nil {
			return apperrors.NewDatabase(fmt.Errorf("link node %d to tag %d: %w", pair[0], pair[1], err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabase(err)
	}
	t.base.cache.InvalidateAll()
	return nil
}

// RemoveTagFromNode unlinks a single tag from a node.
func (t *TagStore) RemoveTagFromNode(ctx context.Context, nodeID node.ID, tagID int64) error {
	tag, err := t.base.pool.Exec(ctx, `DELETE FROM node_tags WHERE node_id = $1 AND tag_id = $2`, int64(nodeID), tagID)
	if err != nil {
		return apperrors.NewDatabase(fmt.Errorf("unlink node %d from tag %d: %w", nodeID, tagID, err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("node-tag association")
	}
	t.base.cache.InvalidateAll()
	return nil
}

// TagsForNode returns every tag currently linked to nodeID.
func (t *TagStore) TagsForNode(ctx context.Context, nodeID node.ID) ([]*tag.Tag, error) {
	rows, err := t.base.pool.Query(ctx, `
		SELECT t.id, t.name FROM tags t
		JOIN node_tags nt ON nt.tag_id = t.id
		WHERE nt.node_id = $1
		ORDER BY t.name
	`, int64(nodeID))
	if err != nil {
		return nil, apperrors.NewDatabase(err)
	}
	defer rows.Close()

	var out []*tag.Tag
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, apperrors.NewDatabase(err)
		}
		tg, err := tag.New(tag.ID(id), name)
		if err != nil {
			return nil, err
		}
		out = append(out, tg)
	}
	return out, rows.Err()
}

// AllTagNames returns every tag name currently in the ontology, used as
// the candidate set for fuzzy/prefix search when no trigram index lookup
// is available (e.g. in tests).
func (t *TagStore) AllTagNames(ctx context.Context) ([]string, error) {
	rows, err := t.base.pool.Query(ctx, `SELECT name FROM tags ORDER BY name`)
	if err != nil {
		return nil, apperrors.NewDatabase(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.NewDatabase(err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
