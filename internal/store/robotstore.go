package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"htm-memory/internal/apperrors"
	"htm-memory/internal/domain/node"
	"htm-memory/internal/domain/robot"
)

// RobotStore persists Robot identities and the RobotNode association that
// tracks which nodes a robot has seen and which of those currently sit in
// its working set.
type RobotStore struct {
	base *Store
}

// NewRobotStore wraps a Store with robot-specific persistence.
func NewRobotStore(base *Store) *RobotStore { return &RobotStore{base: base} }

// Create inserts a new robot identity.
func (r *RobotStore) Create(ctx context.Context, rb *robot.Robot) error {
	metaJSON, err := json.Marshal(rb.Metadata())
	if err != nil {
		return apperrors.NewInternal("marshal robot metadata", err)
	}

	const query = `
		INSERT INTO robots (name, max_tokens, metadata, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	var id int64
	err = r.base.pool.QueryRow(ctx, query, rb.Name(), rb.MaxTokens(), metaJSON, rb.CreatedAt(), rb.LastActiveAt()).Scan(&id)
	if err != nil {
		return apperrors.NewDatabase(fmt.Errorf("create robot: %w", err))
	}
	rb.SetID(robot.ID(id))
	return nil
}

// FindByName retrieves a robot by its unique name.
func (r *RobotStore) FindByName(ctx context.Context, name string) (*robot.Robot, error) {
	const query = `SELECT id, name, max_tokens, metadata, created_at, last_active_at FROM robots WHERE name = $1`
	return r.scanRow(r.base.pool.QueryRow(ctx, query, name))
}

// FindByID retrieves a robot by its surrogate id.
func (r *RobotStore) FindByID(ctx context.Context, id robot.ID) (*robot.Robot, error) {
	const query = `SELECT id, name, max_tokens, metadata, created_at, last_active_at FROM robots WHERE id = $1`
	return r.scanRow(r.base.pool.QueryRow(ctx, query, int64(id)))
}

func (r *RobotStore) scanRow(row pgx.Row) (*robot.Robot, error) {
	var (
		id         int64
		name       string
		maxTokens  int
		metaJSON   []byte
		created    time.Time
		lastActive time.Time
	)
	if err := row.Scan(&id, &name, &maxTokens, &metaJSON, &created, &lastActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("robot")
		}
		return nil, apperrors.NewDatabase(err)
	}
	metadata := map[string]interface{}{}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &metadata); err != nil {
			return nil, apperrors.NewInternal("unmarshal robot metadata", err)
		}
	}
	return robot.Reconstruct(robot.ID(id), name, maxTokens, metadata, created, lastActive), nil
}

// Touch persists an updated last-active timestamp for a robot.
func (r *RobotStore) Touch(ctx context.Context, id robot.ID) error {
	tag, err := r.base.pool.Exec(ctx, `UPDATE robots SET last_active_at = now() WHERE id = $1`, int64(id))
	if err != nil {
		return apperrors.NewDatabase(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("robot")
	}
	return nil
}

// Remember upserts the association between a robot and a node, marking it
// as in the robot's working set when inWorkingMemory is true and bumping
// the access counter.
func (r *RobotStore) Remember(ctx context.Context, robotID robot.ID, nodeID node.ID, inWorkingMemory bool) error {
	const query = `
		INSERT INTO robot_nodes (robot_id, node_id, working_memory, access_count, last_accessed_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (robot_id, node_id) DO UPDATE SET
			working_memory = $3,
			access_count = robot_nodes.access_count + 1,
			last_accessed_at = now()
	`
	if _, err := r.base.pool.Exec(ctx, query, int64(robotID), int64(nodeID), inWorkingMemory); err != nil {
		return apperrors.NewDatabase(fmt.Errorf("remember node %d for robot %d: %w", nodeID, robotID, err))
	}
	r.base.cache.InvalidateAll()
	return nil
}

// ClearWorkingMemory unmarks a node as part of a robot's working set
// without deleting the underlying association (the robot has still seen
// the node; it is just no longer held in the bounded set).
func (r *RobotStore) ClearWorkingMemory(ctx context.Context, robotID robot.ID, nodeID node.ID) error {
	const query = `UPDATE robot_nodes SET working_memory = false WHERE robot_id = $1 AND node_id = $2`
	if _, err := r.base.pool.Exec(ctx, query, int64(robotID), int64(nodeID)); err != nil {
		return apperrors.NewDatabase(err)
	}
	r.base.cache.InvalidateAll()
	return nil
}

// Association mirrors robot.Association but is the row shape returned by
// association-listing queries.
type Association = robot.Association

// WorkingSet returns every node currently marked as in robotID's working
// set.
func (r *RobotStore) WorkingSet(ctx context.Context, robotID robot.ID) ([]Association, error) {
	rows, err := r.base.pool.Query(ctx, `
		SELECT robot_id, node_id, working_memory, access_count, last_accessed_at
		FROM robot_nodes
		WHERE robot_id = $1 AND working_memory = true
		ORDER BY last_accessed_at DESC
	`, int64(robotID))
	if err != nil {
		return nil, apperrors.NewDatabase(err)
	}
	defer rows.Close()

	var out []Association
	for rows.Next() {
		var a Association
		var rID, nID int64
		if err := rows.Scan(&rID, &nID, &a.WorkingMemory, &a.AccessCount, &a.LastAccessedAt); err != nil {
			return nil, apperrors.NewDatabase(err)
		}
		a.RobotID = robot.ID(rID)
		a.NodeID = node.ID(nID)
		out = append(out, a)
	}
	return out, rows.Err()
}
