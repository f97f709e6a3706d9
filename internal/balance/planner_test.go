package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardmap/shardmap/pkg/logger"
)

func testLogger() *logger.Logger {
	log := logger.New("balance-test", "test")
	log.DisableConsoleOutput()
	return log
}

func node(id int64, capacity float64, keys ...PartitionKeyStatistics) *NodeStatistics {
	return &NodeStatistics{
		NodeID:   id,
		NodeName: "node",
		Capacity: capacity,
		Keys:     keys,
	}
}

func key(k string, load int64) PartitionKeyStatistics {
	return PartitionKeyStatistics{Key: k, ChildRecordCount: load}
}

func TestIsBalanced(t *testing.T) {
	v := NewPlanValidator(NewHalfFull())

	// Two nodes each at a quarter of capacity: within tolerance of the
	// half-capacity target.
	assert.True(t, v.IsBalanced([]*NodeStatistics{
		node(1, 100, key("a", 25)),
		node(2, 100, key("b", 25)),
	}))

	// One full node and one at a quarter: the full node is out of band.
	assert.False(t, v.IsBalanced([]*NodeStatistics{
		node(1, 100, key("a", 100)),
		node(2, 100, key("b", 25)),
	}))

	// An empty node against a half-capacity target of 50 misses the band too.
	assert.False(t, v.IsBalanced([]*NodeStatistics{
		node(1, 100, key("a", 50)),
		node(2, 100),
	}))
}

func TestComputeResultingState(t *testing.T) {
	v := NewPlanValidator(NewHalfFull())

	current := []*NodeStatistics{
		node(1, 100, key("a", 50), key("b", 50)),
		node(2, 100),
	}
	plan := []Migration{{Key: "b", SourceNodeID: 1, DestinationNodeID: 2}}

	resulting, err := v.ComputeResultingState(current, plan)
	require.NoError(t, err)

	byID := make(map[int64]*NodeStatistics)
	for _, ns := range resulting {
		byID[ns.NodeID] = ns
	}
	assert.Equal(t, float64(50), byID[1].Load())
	assert.Equal(t, float64(50), byID[2].Load())

	// Input statistics are never mutated.
	assert.Equal(t, float64(100), current[0].Load())
	assert.Equal(t, float64(0), current[1].Load())
}

func TestComputeResultingStateRejectsConflicts(t *testing.T) {
	v := NewPlanValidator(NewHalfFull())
	current := []*NodeStatistics{
		node(1, 100, key("a", 50), key("b", 50)),
		node(2, 100),
		node(3, 100),
	}

	cases := []struct {
		name string
		plan []Migration
	}{
		{"no-op move", []Migration{{Key: "a", SourceNodeID: 1, DestinationNodeID: 1}}},
		{"key moved twice", []Migration{
			{Key: "a", SourceNodeID: 1, DestinationNodeID: 2},
			{Key: "a", SourceNodeID: 2, DestinationNodeID: 3},
		}},
		{"unknown source node", []Migration{{Key: "a", SourceNodeID: 9, DestinationNodeID: 2}}},
		{"unknown destination node", []Migration{{Key: "a", SourceNodeID: 1, DestinationNodeID: 9}}},
		{"key not on source node", []Migration{{Key: "a", SourceNodeID: 2, DestinationNodeID: 3}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.ComputeResultingState(current, tc.plan)
			assert.ErrorIs(t, err, ErrInvalidPlan)

			var planErr *PlanError
			assert.True(t, errors.As(err, &planErr))
		})
	}
}

type fakeMover struct {
	moves []Migration
	fail  bool
}

func (m *fakeMover) MoveKey(ctx context.Context, key string, destinationNodeID int64) error {
	if m.fail {
		return errors.New("node unreachable")
	}
	m.moves = append(m.moves, Migration{Key: key, DestinationNodeID: destinationNodeID})
	return nil
}

func TestRebalanceExecutesBalancingPlan(t *testing.T) {
	v := NewPlanValidator(NewHalfFull())
	mover := &fakeMover{}
	r := NewRebalancer(v, mover, testLogger())

	current := []*NodeStatistics{
		node(1, 100, key("a", 50), key("b", 50)),
		node(2, 100),
	}
	plan := []Migration{{Key: "b", SourceNodeID: 1, DestinationNodeID: 2}}

	require.NoError(t, r.Rebalance(context.Background(), current, plan))
	require.Len(t, mover.moves, 1)
	assert.Equal(t, "b", mover.moves[0].Key)
	assert.Equal(t, int64(2), mover.moves[0].DestinationNodeID)
}

func TestRebalanceRejectsNonBalancingPlan(t *testing.T) {
	v := NewPlanValidator(NewHalfFull())
	mover := &fakeMover{}
	r := NewRebalancer(v, mover, testLogger())

	// Swapping the imbalance between nodes is not a balancing plan.
	current := []*NodeStatistics{
		node(1, 100, key("a", 100)),
		node(2, 100),
	}
	plan := []Migration{{Key: "a", SourceNodeID: 1, DestinationNodeID: 2}}

	err := r.Rebalance(context.Background(), current, plan)
	assert.ErrorIs(t, err, ErrPlanNotBalancing)
	assert.Empty(t, mover.moves, "no migration may execute when the plan is rejected")
}

func TestRebalanceReportsFailedMigration(t *testing.T) {
	v := NewPlanValidator(NewHalfFull())
	mover := &fakeMover{fail: true}
	r := NewRebalancer(v, mover, testLogger())

	current := []*NodeStatistics{
		node(1, 100, key("a", 50), key("b", 50)),
		node(2, 100),
	}
	plan := []Migration{{Key: "b", SourceNodeID: 1, DestinationNodeID: 2}}

	err := r.Rebalance(context.Background(), current, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1 of 1")
}

func TestRebalanceExecutesInDeterministicOrder(t *testing.T) {
	v := NewPlanValidator(NewHalfFull())
	mover := &fakeMover{}
	r := NewRebalancer(v, mover, testLogger())

	current := []*NodeStatistics{
		node(1, 100, key("a", 25), key("c", 25), key("b", 50)),
		node(2, 100),
	}
	// Presented out of order; execution sorts by key.
	plan := []Migration{
		{Key: "c", SourceNodeID: 1, DestinationNodeID: 2},
		{Key: "a", SourceNodeID: 1, DestinationNodeID: 2},
	}

	require.NoError(t, r.Rebalance(context.Background(), current, plan))
	require.Len(t, mover.moves, 2)
	assert.Equal(t, "a", mover.moves[0].Key)
	assert.Equal(t, "c", mover.moves[1].Key)
}

func TestSortByLoad(t *testing.T) {
	stats := []*NodeStatistics{
		node(3, 100, key("c", 75)),
		node(1, 100, key("a", 25)),
		node(2, 100, key("b", 25)),
	}
	SortByLoad(stats)

	assert.Equal(t, int64(1), stats[0].NodeID)
	assert.Equal(t, int64(2), stats[1].NodeID, "ties break by node id")
	assert.Equal(t, int64(3), stats[2].NodeID)
}

func TestNodeStatisticsFill(t *testing.T) {
	ns := node(1, 200, key("a", 50))
	assert.Equal(t, 0.25, ns.Fill())

	empty := node(2, 0)
	assert.Equal(t, 0.0, empty.Fill(), "zero capacity reports zero fill")
}
