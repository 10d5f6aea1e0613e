package monitor

import (
	"github.com/hashicorp/go-set/v3"
)

// InstanceSet is a keyed container of ServiceInstances, one map per
// bucket, deduplicated on (serviceId, nodeAddress). It is built fresh
// for every watcher payload and never mutated after being published to
// consumers (spec.md §3 Lifecycle).
type InstanceSet struct {
	byBucket map[Bucket]*orderedInstances
	seen     *set.Set[string]
}

// orderedInstances preserves insertion order for enumeration while
// still giving O(1) lookup/overwrite by key.
type orderedInstances struct {
	order []string
	byKey map[string]*ServiceInstance
}

func newOrderedInstances() *orderedInstances {
	return &orderedInstances{byKey: make(map[string]*ServiceInstance)}
}

func (o *orderedInstances) add(key string, inst *ServiceInstance) {
	if _, exists := o.byKey[key]; !exists {
		o.order = append(o.order, key)
	}
	o.byKey[key] = inst
}

// NewInstanceSet returns an empty InstanceSet ready to be populated by
// one watcher payload's worth of classified instances.
func NewInstanceSet() *InstanceSet {
	s := &InstanceSet{
		byBucket: make(map[Bucket]*orderedInstances, len(buckets)),
		seen:     set.New[string](0),
	}
	for _, b := range buckets {
		s.byBucket[b] = newOrderedInstances()
	}
	return s
}

// Add inserts inst under its computed key into bucket. If the same key
// was already placed into a *different* bucket during this snapshot, the
// earlier placement is removed so the invariant "a key appears in at
// most one bucket" (spec.md §8 invariant 1) always holds; a duplicate
// key placed into the *same* bucket again simply overwrites the earlier
// entry in place (spec.md §4.4 tie-break: "later entry overwrites
// earlier one").
func (s *InstanceSet) Add(bucket Bucket, inst *ServiceInstance) {
	key := inst.key()
	if s.seen.Contains(key) {
		for _, b := range buckets {
			if b == bucket {
				continue
			}
			oi := s.byBucket[b]
			if _, ok := oi.byKey[key]; !ok {
				continue
			}
			delete(oi.byKey, key)
			for i, k := range oi.order {
				if k == key {
					oi.order = append(oi.order[:i], oi.order[i+1:]...)
					break
				}
			}
		}
	}
	s.seen.Insert(key)
	s.byBucket[bucket].add(key, inst)
}

// Get returns the instances of one bucket, in insertion order.
func (s *InstanceSet) Get(bucket Bucket) []*ServiceInstance {
	oi := s.byBucket[bucket]
	out := make([]*ServiceInstance, 0, len(oi.order))
	for _, k := range oi.order {
		if inst, ok := oi.byKey[k]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// Healthy, Overloaded, OnMaintenance and Unhealthy are convenience
// accessors over Get for the four public buckets.
func (s *InstanceSet) Healthy() []*ServiceInstance       { return s.Get(BucketHealthy) }
func (s *InstanceSet) Overloaded() []*ServiceInstance    { return s.Get(BucketOverloaded) }
func (s *InstanceSet) OnMaintenance() []*ServiceInstance { return s.Get(BucketOnMaintenance) }
func (s *InstanceSet) Unhealthy() []*ServiceInstance     { return s.Get(BucketUnhealthy) }

// Len returns the total number of instances across all buckets.
func (s *InstanceSet) Len() int {
	total := 0
	for _, b := range buckets {
		total += len(s.byBucket[b].order)
	}
	return total
}
