// Package monitor watches a single named service in a Consul-compatible
// registry and maintains a continuously updated classification of its
// instances into healthy, overloaded, on-maintenance, and unhealthy
// buckets.
//
// The monitor drives a blocking long-poll against the registry's
// health-service endpoint, validates and classifies each payload, and
// notifies a Subscriber of bucket changes and non-fatal per-node
// errors. It recovers from transient registry failures on its own;
// only StopService, or canceling the context passed to StartService,
// makes it give up.
package monitor
