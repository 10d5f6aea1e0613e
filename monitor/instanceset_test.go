package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func instanceFor(serviceID, nodeAddress string) *ServiceInstance {
	n := &validNode{nodeAddress: nodeAddress, nodeName: "node", nodeDatacenter: "dc1", serviceID: serviceID}
	inst, err := buildInstance(n, nil)
	if err != nil {
		panic(err)
	}
	return inst
}

func TestInstanceSet_AddAndGet(t *testing.T) {
	s := NewInstanceSet()
	s.Add(BucketHealthy, instanceFor("web-1", "10.0.0.1"))
	s.Add(BucketUnhealthy, instanceFor("web-2", "10.0.0.2"))

	require.Len(t, s.Healthy(), 1)
	require.Len(t, s.Unhealthy(), 1)
	require.Equal(t, 2, s.Len())
}

func TestInstanceSet_SameKeyMovedBetweenBucketsLeavesOnlyOne(t *testing.T) {
	s := NewInstanceSet()
	s.Add(BucketUnhealthy, instanceFor("web-1", "10.0.0.1"))
	s.Add(BucketHealthy, instanceFor("web-1", "10.0.0.1"))

	require.Len(t, s.Healthy(), 1)
	require.Empty(t, s.Unhealthy())
	require.Equal(t, 1, s.Len())
}

func TestInstanceSet_SameKeySameBucketOverwritesInPlace(t *testing.T) {
	s := NewInstanceSet()
	first := instanceFor("web-1", "10.0.0.1")
	second := instanceFor("web-1", "10.0.0.1")
	s.Add(BucketHealthy, first)
	s.Add(BucketHealthy, second)

	healthy := s.Healthy()
	require.Len(t, healthy, 1)
	require.Same(t, second, healthy[0])
}

func TestInstanceSet_InsertionOrderPreserved(t *testing.T) {
	s := NewInstanceSet()
	s.Add(BucketHealthy, instanceFor("web-2", "10.0.0.2"))
	s.Add(BucketHealthy, instanceFor("web-1", "10.0.0.1"))

	healthy := s.Healthy()
	require.Equal(t, "web-2", healthy[0].ServiceID())
	require.Equal(t, "web-1", healthy[1].ServiceID())
}

func TestInstanceSet_EmptySetHasNoInstances(t *testing.T) {
	s := NewInstanceSet()
	require.Equal(t, 0, s.Len())
	require.Empty(t, s.Healthy())
	require.Empty(t, s.Overloaded())
	require.Empty(t, s.OnMaintenance())
	require.Empty(t, s.Unhealthy())
}
