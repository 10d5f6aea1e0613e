package monitor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractStatus_NoMarker(t *testing.T) {
	check := checkEntry{Name: "app status", Output: "no marker here"}
	_, err := extractStatus(check, DefaultExtractors())
	require.NotNil(t, err)
}

func TestExtractStatus_NoExtractorsConfigured(t *testing.T) {
	check := checkEntry{Name: "app status", Output: `HTTP GET http://10.0.0.1:8080/status: 200 OK Output: {"data":{"status":"OK"}}`}
	res, err := extractStatus(check, nil)
	require.Nil(t, err)
	require.True(t, res.outputParsed)
	require.Nil(t, res.info)
}

func TestExtractStatus_InvalidJSON(t *testing.T) {
	check := checkEntry{Name: "app status", Output: `HTTP GET http://10.0.0.1:8080/status: 200 OK Output: {not json`}
	res, err := extractStatus(check, DefaultExtractors())
	require.NotNil(t, err)
	require.False(t, res.outputParsed)
}

func TestExtractStatus_StatusFieldExtractor(t *testing.T) {
	check := checkEntry{Name: "app status", Output: `HTTP GET http://10.0.0.1:8080/status: 200 OK Output: {"data":{"status":"OVERLOADED"}}`}
	res, err := extractStatus(check, []NamedExtractor{{Name: "status", Extractor: statusFieldExtractor{}}})
	require.Nil(t, err)
	require.True(t, res.outputParsed)
	v, ok := res.info.Get("status")
	require.True(t, ok)
	require.Equal(t, "OVERLOADED", v)
}

func TestExtractStatus_MissingStatusField(t *testing.T) {
	check := checkEntry{Name: "app status", Output: `HTTP GET http://10.0.0.1:8080/status: 200 OK Output: {"data":{}}`}
	_, err := extractStatus(check, []NamedExtractor{{Name: "status", Extractor: statusFieldExtractor{}}})
	require.NotNil(t, err)
}

func TestExtractStatus_LaterExtractorAbortsOnEarlierFailure(t *testing.T) {
	check := checkEntry{Name: "app status", Output: `HTTP GET http://10.0.0.1:8080/status: 200 OK Output: {"data":{}}`}
	order := []string{}
	tracking := trackingExtractor{name: "process", calls: &order}
	_, err := extractStatus(check, []NamedExtractor{
		{Name: "status", Extractor: statusFieldExtractor{}},
		{Name: "process", Extractor: tracking},
	})
	require.NotNil(t, err)
	require.Empty(t, order, "extractor after a failing one must not run")
}

type trackingExtractor struct {
	name  string
	calls *[]string
}

func (t trackingExtractor) Extract(parsed map[string]interface{}) (interface{}, error) {
	*t.calls = append(*t.calls, t.name)
	return nil, fmt.Errorf("unused")
}

func TestExtractStatus_ProcessFieldsExtractor(t *testing.T) {
	check := checkEntry{Name: "app status", Output: `HTTP GET http://10.0.0.1:8080/status: 200 OK Output: {"data":{"status":"OK","pid":123,"mem":{"total":100,"free":40},"cpu":{"usage":0.5,"count":4}}}`}
	res, err := extractStatus(check, DefaultExtractors())
	require.Nil(t, err)
	v, ok := res.info.Get("process")
	require.True(t, ok)
	decoded, ok := v.(embeddedStatus)
	require.True(t, ok)
	require.Equal(t, 123, decoded.PID)
	require.Equal(t, 4, decoded.CPU.Count)
}
