package monitor

import "fmt"

// ServiceInstance is an immutable snapshot of one registry node/service
// pairing. It is only ever constructed by buildInstance (the
// Instance Builder, spec.md §4.3) and never mutated after that.
type ServiceInstance struct {
	lanIP           *string
	wanIP           *string
	serviceAddress  *string
	port            int
	nodeAddress     string
	nodeName        string
	nodeDatacenter  string
	serviceID       string
	serviceTags     []string
	info            *InstanceInfo
}

func (s *ServiceInstance) LanIP() *string          { return s.lanIP }
func (s *ServiceInstance) WanIP() *string          { return s.wanIP }
func (s *ServiceInstance) ServiceAddress() *string { return s.serviceAddress }
func (s *ServiceInstance) Port() int               { return s.port }
func (s *ServiceInstance) NodeAddress() string     { return s.nodeAddress }
func (s *ServiceInstance) NodeName() string        { return s.nodeName }
func (s *ServiceInstance) NodeDatacenter() string   { return s.nodeDatacenter }
func (s *ServiceInstance) ServiceID() string       { return s.serviceID }
func (s *ServiceInstance) Info() *InstanceInfo     { return s.info }

// ServiceTags returns the instance's tags. The returned slice is never
// nil, matching the invariant in spec.md §3.
func (s *ServiceInstance) ServiceTags() []string {
	out := make([]string, len(s.serviceTags))
	copy(out, s.serviceTags)
	return out
}

// key is the dedup/lookup key used by InstanceSet: serviceId + "_" + nodeAddress.
func (s *ServiceInstance) key() string {
	return instanceKey(s.serviceID, s.nodeAddress)
}

func instanceKey(serviceID, nodeAddress string) string {
	return serviceID + "_" + nodeAddress
}

// buildInstance is the Instance Builder (spec.md §4.3). It derives a
// ServiceInstance from a validated node plus the (optional) InstanceInfo
// the Status Extractor produced. Any type violation is reported as a
// build error so the caller can emit InvalidData and skip the node.
func buildInstance(n *validNode, info *InstanceInfo) (*ServiceInstance, error) {
	if n.nodeAddress == "" {
		return nil, fmt.Errorf("node address must not be empty")
	}
	if n.nodeName == "" {
		return nil, fmt.Errorf("node name must not be empty")
	}
	if n.nodeDatacenter == "" {
		return nil, fmt.Errorf("node datacenter must not be empty")
	}
	if n.serviceID == "" {
		return nil, fmt.Errorf("service id must not be empty")
	}

	var lanIP, wanIP *string
	if n.taggedAddresses != nil {
		lan, ok := n.taggedAddresses["lan"]
		if !ok {
			return nil, fmt.Errorf("tagged addresses present but lan address missing")
		}
		wan, ok := n.taggedAddresses["wan"]
		if !ok {
			return nil, fmt.Errorf("tagged addresses present but wan address missing")
		}
		lanIP, wanIP = &lan, &wan
	}

	var serviceAddress *string
	if n.serviceAddress != "" {
		addr := n.serviceAddress
		serviceAddress = &addr
	}

	tags := make([]string, len(n.serviceTags))
	copy(tags, n.serviceTags)

	return &ServiceInstance{
		lanIP:          lanIP,
		wanIP:          wanIP,
		serviceAddress: serviceAddress,
		port:           n.servicePort,
		nodeAddress:    n.nodeAddress,
		nodeName:       n.nodeName,
		nodeDatacenter: n.nodeDatacenter,
		serviceID:      n.serviceID,
		serviceTags:    tags,
		info:           info,
	}, nil
}
