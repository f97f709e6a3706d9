// Package balance decides whether load is acceptably distributed across the
// nodes of a partition dimension and validates proposed key migrations
// before they are executed as directory updates.
package balance

import "sort"

// PartitionKeyStatistics is the per-key load estimate: the number of child
// records hanging off one primary partition key. It is the unit moved by a
// Migration. Keys are carried in their canonical string form.
type PartitionKeyStatistics struct {
	Key              string
	ChildRecordCount int64
}

// NodeStatistics aggregates the load of one node: the sum of its resident
// keys' child-record counts against a configured capacity ceiling.
type NodeStatistics struct {
	NodeID   int64
	NodeName string
	Capacity float64
	Keys     []PartitionKeyStatistics
}

// AddKey adds a resident key to the node's statistics.
func (ns *NodeStatistics) AddKey(k PartitionKeyStatistics) {
	ns.Keys = append(ns.Keys, k)
}

// RemoveKey removes a resident key by its canonical form and returns it.
func (ns *NodeStatistics) RemoveKey(key string) (PartitionKeyStatistics, bool) {
	for i, k := range ns.Keys {
		if k.Key == key {
			ns.Keys = append(ns.Keys[:i], ns.Keys[i+1:]...)
			return k, true
		}
	}
	return PartitionKeyStatistics{}, false
}

// Load is the sum of the resident keys' child-record counts.
func (ns *NodeStatistics) Load() float64 {
	var total int64
	for _, k := range ns.Keys {
		total += k.ChildRecordCount
	}
	return float64(total)
}

// Fill is the node's utilization: load over capacity.
func (ns *NodeStatistics) Fill() float64 {
	if ns.Capacity == 0 {
		return 0
	}
	return ns.Load() / ns.Capacity
}

// clone deep-copies the statistics so plan evaluation never mutates input.
func (ns *NodeStatistics) clone() *NodeStatistics {
	copied := &NodeStatistics{
		NodeID:   ns.NodeID,
		NodeName: ns.NodeName,
		Capacity: ns.Capacity,
		Keys:     make([]PartitionKeyStatistics, len(ns.Keys)),
	}
	copy(copied.Keys, ns.Keys)
	return copied
}

// SortByLoad orders node statistics by ascending load, breaking ties by node
// id, for deterministic balance comparison.
func SortByLoad(stats []*NodeStatistics) {
	sort.Slice(stats, func(i, j int) bool {
		li, lj := stats[i].Load(), stats[j].Load()
		if li != lj {
			return li < lj
		}
		return stats[i].NodeID < stats[j].NodeID
	})
}
