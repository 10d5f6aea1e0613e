package monitor

// classifyResult is the outcome of running the Classifier (spec.md
// §4.4) against one validated node.
type classifyResult struct {
	bucket   Bucket
	instance *ServiceInstance
	errs     []*InvalidDataError
	skip     bool
}

func skipped(errs ...*InvalidDataError) classifyResult {
	return classifyResult{skip: true, errs: errs}
}

// classifierConfig is the subset of Config the Classifier needs.
type classifierConfig struct {
	statusCheckName          string
	extractors               []NamedExtractor
	strictStatusConsistency bool
}

// classifyNode is the Classifier (spec.md §4.4), the algorithmic heart
// of the monitor.
func classifyNode(n *validNode, cfg classifierConfig) classifyResult {
	// Step 1: short-circuit on agent liveness.
	for _, c := range n.checks {
		if c.CheckID == serfHealthCheckID && c.Status != string(CheckPassing) {
			return skipped(newInvalidDataError(n.nodeName, n.nodeAddress,
				"serfHealth check is in critical state, node will be skipped"))
		}
	}

	var (
		allPassing              = true
		otherFailing             = false
		statusCheckFound         = false
		statusCheckPassing       = false
		statusCheckOutputParsed  = true
		result                   statusExtractorResult
		errs                     []*InvalidDataError
	)

	for _, c := range n.checks {
		if c.CheckID == serfHealthCheckID {
			continue
		}

		isStatusCheck := c.Name == cfg.statusCheckName
		passing := c.Status == string(CheckPassing)

		if !passing {
			allPassing = false
			if !isStatusCheck {
				otherFailing = true
			}
		}

		if !isStatusCheck {
			continue
		}

		statusCheckFound = true
		statusCheckPassing = passing

		var extractErr *InvalidDataError
		result, extractErr = extractStatus(c, cfg.extractors)
		statusCheckOutputParsed = result.outputParsed
		if extractErr != nil {
			errs = append(errs, extractErr)
		}
	}

	if !statusCheckFound {
		return skipped(append(errs, newInvalidDataError(n.nodeName, n.nodeAddress,
			"Check with statusCheckName was not found for node"))...)
	}
	if !statusCheckOutputParsed {
		// Error already recorded by extractStatus; skip silently beyond that.
		return skipped(errs...)
	}

	instance, err := buildInstance(n, result.info)
	if err != nil {
		return skipped(append(errs, newInvalidDataError(n.nodeName, n.nodeAddress,
			"Invalid format of node data: %s", err))...)
	}

	bucket := resolveBucket(cfg, allPassing, otherFailing, statusCheckPassing, result, &errs, n)

	return classifyResult{bucket: bucket, instance: instance, errs: errs}
}

// resolveBucket implements the truth table and embedded-status mapping
// of spec.md §4.4 steps 4-5.
func resolveBucket(
	cfg classifierConfig,
	allPassing, otherFailing, statusCheckPassing bool,
	result statusExtractorResult,
	errs *[]*InvalidDataError,
	n *validNode,
) Bucket {
	if len(cfg.extractors) == 0 {
		if allPassing {
			return BucketHealthy
		}
		return BucketUnhealthy
	}

	if otherFailing {
		return BucketUnhealthy
	}

	status, _ := result.info.Get("status")
	statusStr, _ := status.(string)

	switch statusStr {
	case statusOverloaded:
		// Overloaded services may legitimately flip their own status
		// check to critical to signal backpressure; accepted either way.
		return BucketOverloaded
	case statusOK:
		if statusCheckPassing {
			return BucketHealthy
		}
		if cfg.strictStatusConsistency {
			*errs = append(*errs, newInvalidDataError(n.nodeName, n.nodeAddress,
				"embedded status OK but status check is not passing"))
		}
		return BucketUnhealthy
	case statusMaintenance:
		if statusCheckPassing {
			return BucketOnMaintenance
		}
		if cfg.strictStatusConsistency {
			*errs = append(*errs, newInvalidDataError(n.nodeName, n.nodeAddress,
				"embedded status MAINTENANCE but status check is not passing"))
		}
		return BucketUnhealthy
	default:
		// Unrecognized (or absent) embedded status is treated as unhealthy.
		return BucketUnhealthy
	}
}
