package loader

import (
	"net"
	"net/url"
	"strings"
)

// EndpointKey identifies the destination shared by a group of requests:
// scheme://host:port, lowercased, with default ports filled in.
type EndpointKey string

// FallbackEndpoint is the key of the Host that serves non-network locators.
const FallbackEndpoint EndpointKey = "local:"

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// ResolveEndpoint derives the endpoint key of locator. The boolean is false when
// the locator does not name a routable network endpoint (data:, file:, about:,
// blob:, relative or unparsable input); such requests go to the fallback Host.
func ResolveEndpoint(locator string) (EndpointKey, bool) {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	defPort, ok := defaultPorts[scheme]
	if !ok {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	port := u.Port()
	if port == "" {
		port = defPort
	}
	return EndpointKey(scheme + "://" + net.JoinHostPort(host, port)), true
}
