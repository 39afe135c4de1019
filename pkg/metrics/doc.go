/*
Package metrics exposes Prometheus metrics and component health for the
burrow control plane.

Gauges describing cluster state (workers, services, deployments, tokens)
are sampled by the Collector on a 15 second tick; counters are updated
inline by the components doing the work. Handler serves the standard
Prometheus exposition format, HealthHandler a JSON component summary.
*/
package metrics
