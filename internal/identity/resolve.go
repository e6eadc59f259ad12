package identity

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

// ResolveBaseURL picks the identity service origin.
// override (KEYCLOAK_URL) wins. Otherwise the host the dashboard is served
// from decides: loopback hosts map to localhost, anything else keeps its
// host; both use the identity service's alternate port.
func ResolveBaseURL(publicURL, override string, port int) (string, error) {
	if override != "" {
		return strings.TrimRight(override, "/"), nil
	}

	u, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("parse public url %q: %w", publicURL, err)
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("public url %q has no host", publicURL)
	}
	if loopbackHosts[host] {
		host = "localhost"
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}

	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port))), nil
}
