package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildInstance_Basic(t *testing.T) {
	n := &validNode{
		nodeAddress:    "10.0.0.1",
		nodeName:       "node-1",
		nodeDatacenter: "dc1",
		serviceID:      "web-1",
		serviceAddress: "10.0.0.1",
		servicePort:    8080,
		serviceTags:    []string{"primary"},
	}
	inst, err := buildInstance(n, nil)
	require.NoError(t, err)
	require.Equal(t, "web-1", inst.ServiceID())
	require.Equal(t, 8080, inst.Port())
	require.Nil(t, inst.LanIP())
	require.Nil(t, inst.WanIP())
	require.Equal(t, "web-1_10.0.0.1", inst.key())
}

func TestBuildInstance_TaggedAddresses(t *testing.T) {
	n := &validNode{
		nodeAddress:     "10.0.0.1",
		nodeName:        "node-1",
		nodeDatacenter:  "dc1",
		serviceID:       "web-1",
		taggedAddresses: map[string]string{"lan": "10.0.0.1", "wan": "203.0.113.1"},
	}
	inst, err := buildInstance(n, nil)
	require.NoError(t, err)
	require.NotNil(t, inst.LanIP())
	require.Equal(t, "10.0.0.1", *inst.LanIP())
	require.Equal(t, "203.0.113.1", *inst.WanIP())
}

func TestBuildInstance_MissingServiceIDRejected(t *testing.T) {
	n := &validNode{nodeAddress: "10.0.0.1", nodeName: "node-1", nodeDatacenter: "dc1"}
	_, err := buildInstance(n, nil)
	require.Error(t, err)
}

func TestServiceInstance_TagsAreCopiedNotAliased(t *testing.T) {
	n := &validNode{
		nodeAddress:    "10.0.0.1",
		nodeName:       "node-1",
		nodeDatacenter: "dc1",
		serviceID:      "web-1",
		serviceTags:    []string{"a", "b"},
	}
	inst, err := buildInstance(n, nil)
	require.NoError(t, err)
	tags := inst.ServiceTags()
	tags[0] = "mutated"
	require.Equal(t, "a", inst.ServiceTags()[0])
}
