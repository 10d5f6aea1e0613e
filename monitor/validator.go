package monitor

import "fmt"

// validNode is the structurally-sound subset of one registry entry,
// produced by the Response Validator (spec.md §4.1) and consumed by the
// Classifier (§4.4) and Instance Builder (§4.3). Every field has already
// been type-checked against the raw payload; no further presence checks
// are needed downstream.
type validNode struct {
	nodeAddress     string
	nodeName        string
	nodeDatacenter  string
	taggedAddresses map[string]string // nil means Node.TaggedAddresses was null

	serviceID      string
	serviceAddress string
	servicePort    int
	serviceTags    []string

	checks []checkEntry
}

type checkEntry struct {
	CheckID string
	Name    string
	Status  string
	Output  string
}

// validationResult is the output of the Response Validator: the entries
// that passed structural validation, in payload order, plus one
// InvalidDataError per rejected entry.
type validationResult struct {
	nodes  []*validNode
	errors []*InvalidDataError
}

// validateResponse is the Response Validator (spec.md §4.1). raw is the
// decoded JSON body of a health-service payload: normally a []interface{}
// of node objects, but may be anything if the registry (or a test)
// sends garbage.
func validateResponse(raw interface{}) validationResult {
	entries, ok := raw.([]interface{})
	if !ok {
		return validationResult{
			errors: []*InvalidDataError{newInvalidDataError("", "", "registry payload is not an ordered sequence")},
		}
	}

	var result validationResult
	for _, e := range entries {
		node, err := validateEntry(e)
		if err != nil {
			result.errors = append(result.errors, err)
			continue
		}
		result.nodes = append(result.nodes, node)
	}
	return result
}

func validateEntry(raw interface{}) (*validNode, *InvalidDataError) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, newInvalidDataError("", "", "registry entry is not an object")
	}

	nodeObj, ok := obj["Node"].(map[string]interface{})
	if !ok {
		return nil, newInvalidDataError("", "", "entry is missing Node object")
	}
	serviceObj, ok := obj["Service"].(map[string]interface{})
	if !ok {
		return nil, newInvalidDataError("", "", "entry is missing Service object")
	}

	nodeName, _ := nodeObj["Node"].(string)
	nodeAddress, _ := nodeObj["Address"].(string)
	if nodeName == "" || nodeAddress == "" {
		return nil, newInvalidDataError(nodeName, nodeAddress, "entry is missing Node.Node or Node.Address")
	}
	nodeDatacenter, _ := nodeObj["Datacenter"].(string)
	if nodeDatacenter == "" {
		return nil, newInvalidDataError(nodeName, nodeAddress, "entry is missing Node.Datacenter")
	}

	serviceID, _ := serviceObj["ID"].(string)
	if serviceID == "" {
		return nil, newInvalidDataError(nodeName, nodeAddress, "entry is missing Service.ID")
	}
	serviceAddress, _ := serviceObj["Address"].(string)

	var servicePort int
	switch p := serviceObj["Port"].(type) {
	case float64:
		servicePort = int(p)
	case nil:
		// absent port defaults to 0; spec only requires an integer, not presence.
	default:
		return nil, newInvalidDataError(nodeName, nodeAddress, "Service.Port is not a number")
	}

	tagsRaw, ok := serviceObj["Tags"].([]interface{})
	if !ok {
		return nil, newInvalidDataError(nodeName, nodeAddress, "Service.Tags is not a sequence")
	}
	tags := make([]string, 0, len(tagsRaw))
	for _, t := range tagsRaw {
		s, ok := t.(string)
		if !ok || s == "" {
			return nil, newInvalidDataError(nodeName, nodeAddress, "Service.Tags contains a non-string or empty tag")
		}
		tags = append(tags, s)
	}

	taggedAddresses, err := validateTaggedAddresses(nodeName, nodeAddress, nodeObj["TaggedAddresses"])
	if err != nil {
		return nil, err
	}

	checksRaw, ok := obj["Checks"].([]interface{})
	if !ok || len(checksRaw) == 0 {
		return nil, newInvalidDataError(nodeName, nodeAddress, "Checks is missing or empty")
	}
	checks := make([]checkEntry, 0, len(checksRaw))
	for _, c := range checksRaw {
		check, err := validateCheck(nodeName, nodeAddress, c)
		if err != nil {
			return nil, err
		}
		checks = append(checks, *check)
	}

	return &validNode{
		nodeAddress:     nodeAddress,
		nodeName:        nodeName,
		nodeDatacenter:  nodeDatacenter,
		taggedAddresses: taggedAddresses,
		serviceID:       serviceID,
		serviceAddress:  serviceAddress,
		servicePort:     servicePort,
		serviceTags:     tags,
		checks:          checks,
	}, nil
}

func validateTaggedAddresses(nodeName, nodeAddress string, raw interface{}) (map[string]string, *InvalidDataError) {
	if raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, newInvalidDataError(nodeName, nodeAddress, "Node.TaggedAddresses is not an object")
	}
	lan, lanOK := obj["lan"].(string)
	wan, wanOK := obj["wan"].(string)
	if !lanOK || !wanOK {
		return nil, newInvalidDataError(nodeName, nodeAddress, "Node.TaggedAddresses is missing lan or wan")
	}
	return map[string]string{"lan": lan, "wan": wan}, nil
}

func validateCheck(nodeName, nodeAddress string, raw interface{}) (*checkEntry, *InvalidDataError) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, newInvalidDataError(nodeName, nodeAddress, "check entry is not an object")
	}

	checkIDRaw, hasCheckID := obj["CheckID"]
	statusRaw, hasStatus := obj["Status"]
	nameRaw, hasName := obj["Name"]
	outputRaw, hasOutput := obj["Output"]
	if !hasCheckID || !hasStatus || !hasName || !hasOutput {
		return nil, newInvalidDataError(nodeName, nodeAddress, "check entry is missing CheckID, Status, Name, or Output")
	}

	checkID, ckOK := checkIDRaw.(string)
	status, stOK := statusRaw.(string)
	name, _ := nameRaw.(string)
	output, _ := outputRaw.(string)
	if !ckOK || !stOK || checkID == "" || status == "" {
		return nil, newInvalidDataError(nodeName, nodeAddress, fmt.Sprintf("check %q has a non-string or empty CheckID/Status", name))
	}
	return &checkEntry{CheckID: checkID, Name: name, Status: status, Output: output}, nil
}
