/*
Package vpn reads the mesh VPN topology.

The tailscale daemon owns wireguard keys and routing; burrow only needs
to know who is on the tailnet, so the implementation shells out to
`tailscale status --json` rather than linking a client library.
*/
package vpn
