// Package robot holds the Robot and RobotNode entities: an agent
// identity and the association linking it to nodes it has seen, including
// working-memory membership.
package robot

import (
	"time"

	"htm-memory/internal/apperrors"
	"htm-memory/internal/domain/node"
)

// ID uniquely identifies a robot.
type ID int64

// Robot is an agent identity.
type Robot struct {
	id           ID
	name         string
	maxTokens    int
	metadata     map[string]interface{}
	createdAt    time.Time
	lastActiveAt time.Time
}

// New validates and creates a Robot.
func New(name string, maxTokens int) (*Robot, error) {
	if name == "" {
		return nil, apperrors.NewValidation("name", "robot name cannot be empty")
	}
	if maxTokens <= 0 {
		return nil, apperrors.NewValidation("max_tokens", "max_tokens must be positive")
	}
	now := time.Now()
	return &Robot{
		name:         name,
		maxTokens:    maxTokens,
		metadata:     map[string]interface{}{},
		createdAt:    now,
		lastActiveAt: now,
	}, nil
}

// Reconstruct rebuilds a Robot from persisted fields.
func Reconstruct(id ID, name string, maxTokens int, metadata map[string]interface{}, createdAt, lastActiveAt time.Time) *Robot {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Robot{id: id, name: name, maxTokens: maxTokens, metadata: metadata, createdAt: createdAt, lastActiveAt: lastActiveAt}
}

// ID returns the robot's surrogate identifier.
func (r *Robot) ID() ID { return r.id }

// SetID assigns the surrogate key after insert.
func (r *Robot) SetID(id ID) { r.id = id }

// Name returns the robot's human-readable name.
func (r *Robot) Name() string { return r.name }

// MaxTokens returns the robot's configured working-set token budget.
func (r *Robot) MaxTokens() int { return r.maxTokens }

// Metadata returns the robot's free-form metadata.
func (r *Robot) Metadata() map[string]interface{} { return r.metadata }

// CreatedAt returns the creation timestamp.
func (r *Robot) CreatedAt() time.Time { return r.createdAt }

// LastActiveAt returns the last-activity timestamp.
func (r *Robot) LastActiveAt() time.Time { return r.lastActiveAt }

// Touch updates last-activity to now.
func (r *Robot) Touch() { r.lastActiveAt = time.Now() }

// Association links a Robot to a Node it has seen.
type Association struct {
	RobotID        ID
	NodeID         node.ID
	WorkingMemory  bool
	AccessCount    int
	LastAccessedAt time.Time
}
