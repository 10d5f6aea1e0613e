package monitor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Extractor pulls one named value out of a parsed embedded-status
// payload. Implementations may fail (e.g. a required field is absent or
// of the wrong type); a failure aborts extraction for the remaining,
// not-yet-run extractors for this node (spec.md §4.2) but does not, by
// itself, invalidate the JSON that was already parsed.
type Extractor interface {
	Extract(parsed map[string]interface{}) (interface{}, error)
}

// NamedExtractor pairs an Extractor with the name its result is stored
// under in InstanceInfo. Config.Extractors is a slice rather than a map
// so declaration order (and therefore execution order) is preserved.
type NamedExtractor struct {
	Name      string
	Extractor Extractor
}

// statusExtractorResult is everything the Classifier needs out of
// running the Status Extractor against one node's status check.
type statusExtractorResult struct {
	// found reports whether a check named statusCheckName existed at all.
	found bool
	// outputParsed reports whether the embedded JSON payload parsed
	// successfully. It is only meaningful when found is true.
	outputParsed bool
	// info carries whatever extractors produced: nil if extractors are
	// not configured or the payload did not parse, empty if the first
	// extractor failed.
	info *InstanceInfo
	// raw is the decoded embedded payload. Nil if parsing failed or was
	// skipped. The classifier reads the status through info, not raw.
	raw map[string]interface{}
}

// extractStatus implements the Status Extractor (spec.md §4.2) for a
// single check. extractors may be empty, in which case the embedded
// payload is never inspected (spec.md §4.4: "the embedded payload is
// not inspected" in that mode).
func extractStatus(check checkEntry, extractors []NamedExtractor) (statusExtractorResult, *InvalidDataError) {
	idx := strings.Index(check.Output, outputMarker)
	if idx <= 0 {
		return statusExtractorResult{found: true, outputParsed: false},
			newInvalidDataError("", "", "Invalid format of output field for check %q: missing %q marker", check.Name, outputMarker)
	}

	if len(extractors) == 0 {
		// Embedded payload is deliberately not inspected in this mode.
		return statusExtractorResult{found: true, outputParsed: true}, nil
	}

	payload := check.Output[idx+len(outputMarker):]
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return statusExtractorResult{found: true, outputParsed: false},
			newInvalidDataError("", "", "failed to parse embedded status payload for check %q: %s", check.Name, err)
	}

	info := newInstanceInfo()
	var extractErr *InvalidDataError
	for _, ne := range extractors {
		value, err := ne.Extractor.Extract(parsed)
		if err != nil {
			extractErr = newInvalidDataError("", "", "extractor %q failed for check %q: %s", ne.Name, check.Name, err)
			break
		}
		info.set(ne.Name, value)
	}

	return statusExtractorResult{
		found:        true,
		outputParsed: true,
		info:         info,
		raw:          parsed,
	}, extractErr
}

// statusFieldExtractor is the built-in extractor for the "status" field
// of the embedded payload (OK / OVERLOADED / MAINTENANCE).
type statusFieldExtractor struct{}

func (statusFieldExtractor) Extract(parsed map[string]interface{}) (interface{}, error) {
	data, ok := parsed["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing data object")
	}
	status, ok := data["status"].(string)
	if !ok || status == "" {
		return nil, fmt.Errorf("missing data.status")
	}
	return status, nil
}

// processFieldsExtractor is the built-in extractor that decodes the
// full process-level fields (pid/mem/cpu) via mapstructure, for
// consumers that want more than the bare status string.
type processFieldsExtractor struct{}

func (processFieldsExtractor) Extract(parsed map[string]interface{}) (interface{}, error) {
	data, ok := parsed["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing data object")
	}
	var decoded embeddedStatus
	if err := mapstructure.Decode(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode embedded status: %w", err)
	}
	return decoded, nil
}

// DefaultExtractors returns the built-in "status" and "process"
// extractors, in that order. Callers that only care about bucket
// membership only need "status". Config.Extractors does not default to
// this set: leaving it nil disables extraction.
func DefaultExtractors() []NamedExtractor {
	return []NamedExtractor{
		{Name: "status", Extractor: statusFieldExtractor{}},
		{Name: "process", Extractor: processFieldsExtractor{}},
	}
}
