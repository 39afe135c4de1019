/*
Package client holds the HTTP clients both halves of the control plane
use to talk to each other: AgentClient for leader-to-worker calls and
LeaderClient for worker-to-leader calls.

Every operation carries its own timeout, chosen by how long the far side
can legitimately take (probes 2s, deploys and upgrades 120s). Transport
failures come back as unreachable or timeout kinds; non-2xx responses
are decoded back into the kind the far side reported.
*/
package client
