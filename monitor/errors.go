package monitor

import (
	"errors"
	"fmt"
)

// ErrAlreadyInitialized is returned by StartService when a watcher is
// already running for this monitor.
var ErrAlreadyInitialized = errors.New("monitor: already initialized")

// ErrNotInitialized is returned by state-dependent getters when the
// monitor has no running watcher.
var ErrNotInitialized = errors.New("monitor: not initialized")

// WatchError wraps a transport or HTTP-level failure talking to the
// registry's health-service endpoint.
type WatchError struct {
	Err error
}

func (e *WatchError) Error() string { return fmt.Sprintf("watch: %s", e.Err) }
func (e *WatchError) Unwrap() error { return e.Err }

func newWatchError(err error) *WatchError { return &WatchError{Err: err} }

// InvalidDataError reports one malformed or unclassifiable registry
// entry. It never fails the whole snapshot. For most causes the
// offending node is dropped from every bucket; for some (for example an
// embedded status that disagrees with the status check) the node is
// still classified, as unhealthy.
type InvalidDataError struct {
	// Address is the node address of the offending entry, when known.
	Address string
	// NodeName is the node name of the offending entry, when known.
	NodeName string
	// Detail explains what was wrong.
	Detail string
}

func (e *InvalidDataError) Error() string {
	if e.Address == "" && e.NodeName == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s (node=%q address=%q)", e.Detail, e.NodeName, e.Address)
}

func newInvalidDataError(nodeName, address, detail string, args ...interface{}) *InvalidDataError {
	return &InvalidDataError{
		Address:  address,
		NodeName: nodeName,
		Detail:   fmt.Sprintf(detail, args...),
	}
}
