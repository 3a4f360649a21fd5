// Package robotgroup coordinates a set of robots sharing one working
// memory: exactly one active member drives recall/remember traffic while
// any number of passive members stay synced and ready to take over.
package robotgroup

import (
	"context"
	"sort"
	"sync"
	"time"

	"htm-memory/internal/apperrors"
	"htm-memory/internal/domain/node"
	"htm-memory/internal/domain/robot"
)

// Role is a member's standing within the group.
type Role string

const (
	RoleActive  Role = "active"
	RolePassive Role = "passive"
)

// Member is one robot's membership record.
type Member struct {
	RobotID      robot.ID
	Role         Role
	JoinedAt     time.Time
	LastSyncedAt time.Time
}

// Persistence is the narrow seam into the working-set store a group needs:
// internal/store's RobotStore satisfies this directly.
type Persistence interface {
	Remember(ctx context.Context, robotID robot.ID, nodeID node.ID, inWorkingMemory bool) error
	ClearWorkingMemory(ctx context.Context, robotID robot.ID, nodeID node.ID) error
	WorkingSet(ctx context.Context, robotID robot.ID) ([]robot.Association, error)
}

// Group is the aggregate: an ordered membership list plus the persistence
// seam used to move working-set entries between members.
type Group struct {
	mu      sync.RWMutex
	name    string
	members map[robot.ID]*Member
	order   []robot.ID // join order, used to pick a failover candidate deterministically
	store   Persistence

	// OnChange, if set, is called after every membership or sync mutation
	// so callers can publish it on internal/changechannel without this
	// package depending on that concern directly.
	OnChange func(ctx context.Context, event string, robotID robot.ID)
}

// New creates an empty group backed by store.
func New(name string, store Persistence) *Group {
	return &Group{name: name, members: make(map[robot.ID]*Member), store: store}
}

func (g *Group) notify(ctx context.Context, event string, id robot.ID) {
	if g.OnChange != nil {
		g.OnChange(ctx, event, id)
	}
}

// AddActive adds id as the group's active member. Fails if an active
// member already exists; Promote/Demote change standing membership.
func (g *Group) AddActive(ctx context.Context, id robot.ID) error {
	g.mu.Lock()
	if _, exists := g.members[id]; exists {
		g.mu.Unlock()
		return apperrors.NewConflict("robot is already a member of this group")
	}
	if a := g.activeLocked(); a != nil {
		g.mu.Unlock()
		return apperrors.NewConflict("group already has an active member")
	}
	g.addMemberLocked(id, RoleActive)
	g.mu.Unlock()

	g.notify(ctx, "member_added_active", id)
	return nil
}

// AddPassive adds id as a passive (standby) member.
func (g *Group) AddPassive(ctx context.Context, id robot.ID) error {
	g.mu.Lock()
	if _, exists := g.members[id]; exists {
		g.mu.Unlock()
		return apperrors.NewConflict("robot is already a member of this group")
	}
	g.addMemberLocked(id, RolePassive)
	g.mu.Unlock()

	g.notify(ctx, "member_added_passive", id)
	return nil
}

func (g *Group) addMemberLocked(id robot.ID, role Role) {
	g.members[id] = &Member{RobotID: id, Role: role, JoinedAt: time.Now()}
	g.order = append(g.order, id)
}

// Remove drops id from the group entirely.
func (g *Group) Remove(ctx context.Context, id robot.ID) error {
	g.mu.Lock()
	if _, exists := g.members[id]; !exists {
		g.mu.Unlock()
		return apperrors.NewNotFound("group member")
	}
	delete(g.members, id)
	for i, m := range g.order {
		if m == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.mu.Unlock()

	g.notify(ctx, "member_removed", id)
	return nil
}

// Promote makes id the active member, demoting the current active member
// to passive if one exists.
func (g *Group) Promote(ctx context.Context, id robot.ID) error {
	g.mu.Lock()
	m, exists := g.members[id]
	if !exists {
		g.mu.Unlock()
		return apperrors.NewNotFound("group member")
	}
	if current := g.activeLocked(); current != nil && current.RobotID != id {
		current.Role = RolePassive
	}
	m.Role = RoleActive
	g.mu.Unlock()

	g.notify(ctx, "member_promoted", id)
	return nil
}

// Demote moves id from active to passive, leaving the group without an
// active member until another Promote call.
func (g *Group) Demote(ctx context.Context, id robot.ID) error {
	g.mu.Lock()
	m, exists := g.members[id]
	if !exists {
		g.mu.Unlock()
		return apperrors.NewNotFound("group member")
	}
	m.Role = RolePassive
	g.mu.Unlock()
	g.notify(ctx, "member_demoted", id)
	return nil
}

func (g *Group) activeLocked() *Member {
	for _, m := range g.members {
		if m.Role == RoleActive {
			return m
		}
	}
	return nil
}

// Active returns the current active member, or nil if none.
func (g *Group) Active() *Member {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.activeLocked()
}

// Remember forwards to the active member's working set. Fails if there is
// no active member.
func (g *Group) Remember(ctx context.Context, nodeID node.ID, inWorkingMemory bool) error {
	active := g.Active()
	if active == nil {
		return apperrors.NewUnavailable("group has no active member")
	}
	return g.store.Remember(ctx, active.RobotID, nodeID, inWorkingMemory)
}

// Recall returns the active member's current working set.
func (g *Group) Recall(ctx context.Context) ([]robot.Association, error) {
	active := g.Active()
	if active == nil {
		return nil, apperrors.NewUnavailable("group has no active member")
	}
	return g.store.WorkingSet(ctx, active.RobotID)
}

// SyncRobot copies the active member's working set onto target, replacing
// whatever target previously held for the shared associations.
func (g *Group) SyncRobot(ctx context.Context, target robot.ID) error {
	active := g.Active()
	if active == nil {
		return apperrors.NewUnavailable("group has no active member")
	}
	if active.RobotID == target {
		return nil
	}

	set, err := g.store.WorkingSet(ctx, active.RobotID)
	if err != nil {
		return err
	}
	for _, assoc := range set {
		if err := g.store.Remember(ctx, target, assoc.NodeID, true); err != nil {
			return err
		}
	}

	g.mu.Lock()
	if m, ok := g.members[target]; ok {
		m.LastSyncedAt = time.Now()
	}
	g.mu.Unlock()
	g.notify(ctx, "member_synced", target)
	return nil
}

// SyncAll syncs every passive member against the active member's working
// set, stopping at the first failure and returning it.
func (g *Group) SyncAll(ctx context.Context) error {
	g.mu.RLock()
	targets := make([]robot.ID, 0, len(g.members))
	for _, m := range g.members {
		if m.Role == RolePassive {
			targets = append(targets, m.RobotID)
		}
	}
	g.mu.RUnlock()

	for _, t := range targets {
		if err := g.SyncRobot(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Failover promotes a passive member to active when the current active
// member has failed, and carries its last-known working set over to the
// new active member. The replacement candidate is the passive member that
// joined earliest (deterministic, no voting round needed for a
// single-process group).
func (g *Group) Failover(ctx context.Context) (robot.ID, error) {
	g.mu.Lock()
	failed := g.activeLocked()
	candidate := g.earliestPassiveLocked()
	if candidate == nil {
		g.mu.Unlock()
		return 0, apperrors.NewUnavailable("no passive member available to fail over to")
	}
	if failed != nil {
		failed.Role = RolePassive
	}
	candidate.Role = RoleActive
	newActive := candidate.RobotID
	g.mu.Unlock()

	g.notify(ctx, "failover", newActive)

	if failed != nil {
		if err := g.TransferWorkingMemory(ctx, failed.RobotID, newActive); err != nil {
			return newActive, err
		}
	}
	return newActive, nil
}

func (g *Group) earliestPassiveLocked() *Member {
	for _, id := range g.order {
		if m := g.members[id]; m != nil && m.Role == RolePassive {
			return m
		}
	}
	return nil
}

// TransferWorkingMemory moves every working-set entry from source to
// target and clears it from source.
func (g *Group) TransferWorkingMemory(ctx context.Context, source, target robot.ID) error {
	set, err := g.store.WorkingSet(ctx, source)
	if err != nil {
		return err
	}
	for _, assoc := range set {
		if err := g.store.Remember(ctx, target, assoc.NodeID, true); err != nil {
			return err
		}
		if err := g.store.ClearWorkingMemory(ctx, source, assoc.NodeID); err != nil {
			return err
		}
	}
	return nil
}

// InSync reports whether id's working set matches the active member's,
// by node id membership (not ordering or access counters).
func (g *Group) InSync(ctx context.Context, id robot.ID) (bool, error) {
	active := g.Active()
	if active == nil || active.RobotID == id {
		return true, nil
	}

	activeSet, err := g.store.WorkingSet(ctx, active.RobotID)
	if err != nil {
		return false, err
	}
	memberSet, err := g.store.WorkingSet(ctx, id)
	if err != nil {
		return false, err
	}

	want := make(map[node.ID]bool, len(activeSet))
	for _, a := range activeSet {
		want[a.NodeID] = true
	}
	have := make(map[node.ID]bool, len(memberSet))
	for _, a := range memberSet {
		have[a.NodeID] = true
	}
	if len(want) != len(have) {
		return false, nil
	}
	for id := range want {
		if !have[id] {
			return false, nil
		}
	}
	return true, nil
}

// Status summarizes the group for observability.
type Status struct {
	Name        string
	ActiveID    robot.ID
	HasActive   bool
	Passive     []robot.ID
	MemberCount int
}

// Status reports the group's current membership. Passive lists the passive
// members' ids in ascending order.
func (g *Group) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Status{Name: g.name, MemberCount: len(g.members)}
	passive := make([]robot.ID, 0, len(g.members))
	for _, id := range g.order {
		m := g.members[id]
		if m == nil {
			continue
		}
		if m.Role == RoleActive {
			s.ActiveID = m.RobotID
			s.HasActive = true
		} else {
			passive = append(passive, m.RobotID)
		}
	}
	sort.Slice(passive, func(i, j int) bool { return passive[i] < passive[j] })
	s.Passive = passive
	return s
}
