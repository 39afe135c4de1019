package runtime

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Containers share the host network namespace, so a container port is
// already reachable on the VPN address. A mapping that publishes under
// a different host port is honored with an iptables REDIRECT pair,
// tagged with the container name so teardown can find the rules again.

const portsCommentPrefix = "burrow/"

type portBinding struct {
	Proto         string
	ContainerPort int
	HostPort      int
}

// parsePortBindings turns the service port map ("80/tcp" -> 8080) into
// bindings. Identity mappings are dropped; they need no rule.
func parsePortBindings(ports map[string]int) ([]portBinding, error) {
	var bindings []portBinding
	for spec, hostPort := range ports {
		proto := "tcp"
		portPart := spec
		if i := strings.IndexByte(spec, '/'); i >= 0 {
			portPart = spec[:i]
			proto = strings.ToLower(spec[i+1:])
		}
		if proto != "tcp" && proto != "udp" {
			return nil, fmt.Errorf("invalid port spec %q: protocol must be tcp or udp", spec)
		}
		containerPort, err := strconv.Atoi(portPart)
		if err != nil || containerPort < 1 || containerPort > 65535 {
			return nil, fmt.Errorf("invalid port spec %q", spec)
		}
		if hostPort < 1 || hostPort > 65535 {
			return nil, fmt.Errorf("invalid host port %d for %q", hostPort, spec)
		}
		if hostPort == containerPort {
			continue
		}
		bindings = append(bindings, portBinding{Proto: proto, ContainerPort: containerPort, HostPort: hostPort})
	}
	return bindings, nil
}

// redirectRules builds the iptables argument lists for one binding.
// PREROUTING covers traffic from the mesh, OUTPUT covers loopback.
func redirectRules(action, containerName string, b portBinding) [][]string {
	comment := portsCommentPrefix + containerName
	return [][]string{
		{"-t", "nat", action, "PREROUTING",
			"-p", b.Proto, "--dport", strconv.Itoa(b.HostPort),
			"-m", "comment", "--comment", comment,
			"-j", "REDIRECT", "--to-ports", strconv.Itoa(b.ContainerPort)},
		{"-t", "nat", action, "OUTPUT", "-o", "lo",
			"-p", b.Proto, "--dport", strconv.Itoa(b.HostPort),
			"-m", "comment", "--comment", comment,
			"-j", "REDIRECT", "--to-ports", strconv.Itoa(b.ContainerPort)},
	}
}

// runIPTables is swapped out in tests.
var runIPTables = func(args []string) error {
	out, err := exec.Command("iptables", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables %s: %w (output: %s)", strings.Join(args, " "), err, string(out))
	}
	return nil
}

// publishPorts installs redirect rules for every binding, undoing the
// ones already installed when one fails.
func publishPorts(containerName string, bindings []portBinding) error {
	for i, b := range bindings {
		if err := applyRules("-A", containerName, b); err != nil {
			unpublishPorts(containerName, bindings[:i])
			return fmt.Errorf("publish %d/%s as %d: %w", b.ContainerPort, b.Proto, b.HostPort, err)
		}
	}
	return nil
}

// unpublishPorts removes redirect rules, ignoring errors: a missing
// rule means it was never installed or is already gone.
func unpublishPorts(containerName string, bindings []portBinding) {
	for _, b := range bindings {
		for _, rule := range redirectRules("-D", containerName, b) {
			_ = runIPTables(rule)
		}
	}
}

func applyRules(action, containerName string, b portBinding) error {
	rules := redirectRules(action, containerName, b)
	for i, rule := range rules {
		if err := runIPTables(rule); err != nil {
			for j := i - 1; j >= 0; j-- {
				undo := redirectRules("-D", containerName, b)[j]
				_ = runIPTables(undo)
			}
			return err
		}
	}
	return nil
}

// encodePortLabel serializes bindings into the container label read
// back at teardown.
func encodePortLabel(bindings []portBinding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, fmt.Sprintf("%d:%d/%s", b.HostPort, b.ContainerPort, b.Proto))
	}
	return strings.Join(parts, ",")
}

func decodePortLabel(label string) []portBinding {
	if label == "" {
		return nil
	}
	var bindings []portBinding
	for _, part := range strings.Split(label, ",") {
		var b portBinding
		if _, err := fmt.Sscanf(part, "%d:%d/%s", &b.HostPort, &b.ContainerPort, &b.Proto); err != nil {
			continue
		}
		bindings = append(bindings, b)
	}
	return bindings
}
