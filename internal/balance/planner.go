package balance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shardmap/shardmap/pkg/logger"
)

// Plan validation errors
var (
	// ErrInvalidPlan is returned when a migration set is internally inconsistent
	ErrInvalidPlan = errors.New("invalid migration plan")

	// ErrPlanNotBalancing is returned when applying a plan would not balance the node set
	ErrPlanNotBalancing = errors.New("plan does not produce a balanced state")
)

// Migration is a single proposed relocation of one partition key from a
// source node to a destination node.
type Migration struct {
	Key               string
	SourceNodeID      int64
	DestinationNodeID int64
}

// PlanError reports why a migration cannot be part of a valid plan.
type PlanError struct {
	Migration Migration
	Reason    string
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	return fmt.Sprintf("migration of key %q (node %d -> %d): %s",
		e.Migration.Key, e.Migration.SourceNodeID, e.Migration.DestinationNodeID, e.Reason)
}

// Is checks if the error matches ErrInvalidPlan.
func (e *PlanError) Is(target error) bool {
	return errors.Is(target, ErrInvalidPlan)
}

// SortMigrations orders a plan deterministically: by key, then source node.
func SortMigrations(plan []Migration) {
	sort.Slice(plan, func(i, j int) bool {
		if plan[i].Key != plan[j].Key {
			return plan[i].Key < plan[j].Key
		}
		return plan[i].SourceNodeID < plan[j].SourceNodeID
	})
}

// PlanValidator judges node sets and candidate migration plans against a
// fill estimator.
type PlanValidator struct {
	estimator FillEstimator
}

// NewPlanValidator creates a validator with the given estimator.
func NewPlanValidator(estimator FillEstimator) *PlanValidator {
	return &PlanValidator{estimator: estimator}
}

// IsBalanced reports whether every node's load sits within the estimator's
// acceptable band of its target. Nodes are compared in ascending load order.
func (v *PlanValidator) IsBalanced(stats []*NodeStatistics) bool {
	ordered := make([]*NodeStatistics, len(stats))
	copy(ordered, stats)
	SortByLoad(ordered)

	for _, ns := range ordered {
		target := v.estimator.TargetLoad(ns.Capacity)
		tolerance := v.estimator.Tolerance(ns.Capacity)
		if math.Abs(ns.Load()-target) > tolerance {
			return false
		}
	}
	return true
}

// ComputeResultingState applies each migration to a copy of the current
// statistics: the moved key's load leaves its source node and lands on its
// destination. The input is never mutated.
//
// Conflicting plans are rejected instead of applied blindly: a key may
// appear in at most one migration, a migration may not be a no-op, and the
// key must actually reside on the claimed source node.
func (v *PlanValidator) ComputeResultingState(current []*NodeStatistics, plan []Migration) ([]*NodeStatistics, error) {
	result := make([]*NodeStatistics, len(current))
	byID := make(map[int64]*NodeStatistics, len(current))
	for i, ns := range current {
		result[i] = ns.clone()
		byID[ns.NodeID] = result[i]
	}

	ordered := make([]Migration, len(plan))
	copy(ordered, plan)
	SortMigrations(ordered)

	seen := make(map[string]bool, len(ordered))
	for _, m := range ordered {
		if m.SourceNodeID == m.DestinationNodeID {
			return nil, &PlanError{Migration: m, Reason: "key is already at its destination"}
		}
		if seen[m.Key] {
			return nil, &PlanError{Migration: m, Reason: "key is moved more than once"}
		}
		seen[m.Key] = true

		source, ok := byID[m.SourceNodeID]
		if !ok {
			return nil, &PlanError{Migration: m, Reason: "source node is not in the statistics set"}
		}
		destination, ok := byID[m.DestinationNodeID]
		if !ok {
			return nil, &PlanError{Migration: m, Reason: "destination node is not in the statistics set"}
		}
		keyStats, ok := source.RemoveKey(m.Key)
		if !ok {
			return nil, &PlanError{Migration: m, Reason: "key does not reside on the source node"}
		}
		destination.AddKey(keyStats)
	}

	SortByLoad(result)
	return result, nil
}

// KeyMover executes one validated migration as an ordinary directory key
// update. The directory layer implements it.
type KeyMover interface {
	MoveKey(ctx context.Context, key string, destinationNodeID int64) error
}

// Rebalancer validates a migration plan against current statistics and, when
// the resulting state is balanced, executes it move by move.
type Rebalancer struct {
	validator *PlanValidator
	mover     KeyMover
	logger    *logger.Logger
}

// NewRebalancer creates a rebalancer.
func NewRebalancer(validator *PlanValidator, mover KeyMover, log *logger.Logger) *Rebalancer {
	return &Rebalancer{validator: validator, mover: mover, logger: log}
}

// Rebalance applies plan if and only if the resulting state is balanced.
// Migrations execute in deterministic order; a failed move stops the run and
// reports how far it got.
func (r *Rebalancer) Rebalance(ctx context.Context, current []*NodeStatistics, plan []Migration) error {
	resulting, err := r.validator.ComputeResultingState(current, plan)
	if err != nil {
		return err
	}
	if !r.validator.IsBalanced(resulting) {
		return ErrPlanNotBalancing
	}

	ordered := make([]Migration, len(plan))
	copy(ordered, plan)
	SortMigrations(ordered)

	for i, m := range ordered {
		if err := r.mover.MoveKey(ctx, m.Key, m.DestinationNodeID); err != nil {
			return fmt.Errorf("executing migration %d of %d: %w", i+1, len(ordered), err)
		}
		r.logger.Infof("Moved key %q from node %d to node %d", m.Key, m.SourceNodeID, m.DestinationNodeID)
	}
	return nil
}
