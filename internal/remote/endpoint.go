package remote

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	defaultSSHPortConstant              = 22
	endpointUserSeparatorConstant       = "@"
	endpointStringTemplateConstant      = "%s@%s"
	invalidEndpointPortTemplateConstant = "invalid port in host %q: %w"
	emptyEndpointAddressMessageConstant = "host address required"
)

// ErrEndpointAddressMissing indicates a host declaration without an address.
var ErrEndpointAddressMissing = errors.New(emptyEndpointAddressMessageConstant)

// Endpoint identifies one SSH destination.
type Endpoint struct {
	Label   string
	User    string
	Address string
	Port    int
}

// ParseEndpoint splits "user@host:port" into its parts, filling user and port from the defaults when absent.
// Label keeps the host string as declared so log lines match the manifest.
func ParseEndpoint(declared string, defaultUser string, defaultPort int) (Endpoint, error) {
	trimmed := strings.TrimSpace(declared)
	if len(trimmed) == 0 {
		return Endpoint{}, ErrEndpointAddressMissing
	}

	endpoint := Endpoint{Label: trimmed, User: strings.TrimSpace(defaultUser), Port: defaultPort}
	if endpoint.Port <= 0 {
		endpoint.Port = defaultSSHPortConstant
	}

	hostPart := trimmed
	if separatorIndex := strings.LastIndex(trimmed, endpointUserSeparatorConstant); separatorIndex >= 0 {
		endpoint.User = trimmed[:separatorIndex]
		hostPart = trimmed[separatorIndex+1:]
	}

	if host, port, splitError := net.SplitHostPort(hostPart); splitError == nil {
		parsedPort, parseError := strconv.Atoi(port)
		if parseError != nil {
			return Endpoint{}, fmt.Errorf(invalidEndpointPortTemplateConstant, declared, parseError)
		}
		endpoint.Address = host
		endpoint.Port = parsedPort
	} else {
		endpoint.Address = strings.Trim(hostPart, "[]")
	}

	if len(endpoint.Address) == 0 {
		return Endpoint{}, ErrEndpointAddressMissing
	}
	return endpoint, nil
}

// DialAddress returns the host:port pair used for the TCP connection.
func (endpoint Endpoint) DialAddress() string {
	return net.JoinHostPort(endpoint.Address, strconv.Itoa(endpoint.Port))
}

// PoolKey identifies a pooled connection; different users on one host get separate clients.
func (endpoint Endpoint) PoolKey() string {
	return fmt.Sprintf(endpointStringTemplateConstant, endpoint.User, endpoint.DialAddress())
}
