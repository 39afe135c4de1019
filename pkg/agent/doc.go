/*
Package agent implements the worker side of the control plane.

A WorkerAgent does three things: it heartbeats to its leader on a fixed
interval with a host metrics sample, it serves the leader's container
operations over an HTTP API gated by the shared node secret, and it can
replace its own container when told to upgrade. An agent with no leader
binding idles until a join token is redeemed or a leader claims it.
*/
package agent
