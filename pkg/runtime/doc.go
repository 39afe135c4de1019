/*
Package runtime wraps containerd behind the small Runtime interface the
agent drives.

Containers are addressed by name (the containerd container ID), so
deploys replace-in-place: deploying a name that already exists tears the
old container down first. Task output goes to per-container log files,
which is where Logs reads from.
*/
package runtime
