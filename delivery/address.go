package delivery

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultHostAlias is the name under which container runtimes expose the
// host's network to an isolated namespace.
const DefaultHostAlias = "host.docker.internal"

// ResolveAddress returns the address to dial for endpoint. When isolated
// is set, the process runs in its own network namespace where loopback
// means itself rather than the tenant's machine, so a loopback host is
// replaced by hostAlias (DefaultHostAlias when empty). The port, path and
// query are kept. Otherwise the endpoint is returned unchanged.
func ResolveAddress(endpoint string, isolated bool, hostAlias string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("delivery: invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("delivery: invalid endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return "", fmt.Errorf("delivery: invalid endpoint %q: missing host", endpoint)
	}

	if !isolated || !isLoopback(u.Hostname()) {
		return endpoint, nil
	}

	if hostAlias == "" {
		hostAlias = DefaultHostAlias
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(hostAlias, port)
	} else {
		u.Host = hostAlias
	}
	return u.String(), nil
}

func isLoopback(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
