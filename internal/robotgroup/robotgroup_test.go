package robotgroup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"htm-memory/internal/domain/node"
	"htm-memory/internal/domain/robot"
)

type fakeStore struct {
	sets map[robot.ID]map[node.ID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{sets: make(map[robot.ID]map[node.ID]bool)}
}

func (s *fakeStore) Remember(ctx context.Context, robotID robot.ID, nodeID node.ID, inWorkingMemory bool) error {
	if s.sets[robotID] == nil {
		s.sets[robotID] = make(map[node.ID]bool)
	}
	s.sets[robotID][nodeID] = inWorkingMemory
	return nil
}

func (s *fakeStore) ClearWorkingMemory(ctx context.Context, robotID robot.ID, nodeID node.ID) error {
	delete(s.sets[robotID], nodeID)
	return nil
}

func (s *fakeStore) WorkingSet(ctx context.Context, robotID robot.ID) ([]robot.Association, error) {
	var out []robot.Association
	for id, inSet := range s.sets[robotID] {
		if inSet {
			out = append(out, robot.Association{RobotID: robotID, NodeID: id, WorkingMemory: true})
		}
	}
	return out, nil
}

func TestAddActiveRejectsSecondActive(t *testing.T) {
	g := New("pair", newFakeStore())
	require.NoError(t, g.AddActive(context.Background(), 1))
	err := g.AddActive(context.Background(), 2)
	require.Error(t, err)
}

func TestPromoteDemotesPreviousActive(t *testing.T) {
	g := New("pair", newFakeStore())
	require.NoError(t, g.AddActive(context.Background(), 1))
	require.NoError(t, g.AddPassive(context.Background(), 2))

	require.NoError(t, g.Promote(context.Background(), 2))

	status := g.Status()
	require.Equal(t, robot.ID(2), status.ActiveID)
	require.Contains(t, status.Passive, robot.ID(1))
}

func TestRememberAndRecallUseActiveMember(t *testing.T) {
	store := newFakeStore()
	g := New("pair", store)
	require.NoError(t, g.AddActive(context.Background(), 1))

	require.NoError(t, g.Remember(context.Background(), node.ID(42), true))

	set, err := g.Recall(context.Background())
	require.NoError(t, err)
	require.Len(t, set, 1)
	require.Equal(t, node.ID(42), set[0].NodeID)
}

func TestRecallFailsWithoutActiveMember(t *testing.T) {
	g := New("pair", newFakeStore())
	_, err := g.Recall(context.Background())
	require.Error(t, err)
}

func TestSyncRobotCopiesWorkingSet(t *testing.T) {
	store := newFakeStore()
	g := New("pair", store)
	require.NoError(t, g.AddActive(context.Background(), 1))
	require.NoError(t, g.AddPassive(context.Background(), 2))
	require.NoError(t, store.Remember(context.Background(), 1, 7, true))

	require.NoError(t, g.SyncRobot(context.Background(), 2))

	set, err := store.WorkingSet(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, set, 1)
	require.Equal(t, node.ID(7), set[0].NodeID)
}

func TestInSyncDetectsDivergence(t *testing.T) {
	store := newFakeStore()
	g := New("pair", store)
	require.NoError(t, g.AddActive(context.Background(), 1))
	require.NoError(t, g.AddPassive(context.Background(), 2))
	require.NoError(t, store.Remember(context.Background(), 1, 7, true))

	inSync, err := g.InSync(context.Background(), 2)
	require.NoError(t, err)
	require.False(t, inSync)

	require.NoError(t, g.SyncRobot(context.Background(), 2))
	inSync, err = g.InSync(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, inSync)
}

func TestFailoverPromotesEarliestPassiveAndTransfersWorkingSet(t *testing.T) {
	store := newFakeStore()
	g := New("pair", store)
	require.NoError(t, g.AddActive(context.Background(), 1))
	require.NoError(t, g.AddPassive(context.Background(), 2))
	require.NoError(t, g.AddPassive(context.Background(), 3))
	require.NoError(t, store.Remember(context.Background(), 1, 99, true))

	newActive, err := g.Failover(context.Background())
	require.NoError(t, err)
	require.Equal(t, robot.ID(2), newActive, "earliest-joined passive member becomes active")

	status := g.Status()
	require.Equal(t, robot.ID(2), status.ActiveID)

	set, err := store.WorkingSet(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, set, 1)
	require.Equal(t, node.ID(99), set[0].NodeID)
}

func TestFailoverFailsWithNoPassiveMembers(t *testing.T) {
	g := New("pair", newFakeStore())
	require.NoError(t, g.AddActive(context.Background(), 1))
	_, err := g.Failover(context.Background())
	require.Error(t, err)
}

func TestOnChangeCallbackFiresWithoutDeadlock(t *testing.T) {
	g := New("pair", newFakeStore())
	var events []string
	g.OnChange = func(ctx context.Context, event string, id robot.ID) {
		events = append(events, event)
		// re-enter a read-only group method to confirm notify runs
		// outside the write lock.
		_ = g.Status()
	}

	done := make(chan struct{})
	go func() {
		require.NoError(t, g.AddActive(context.Background(), 1))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AddActive deadlocked while OnChange re-entered the group")
	}
	require.Contains(t, events, "member_added_active")
}
