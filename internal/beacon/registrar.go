package beacon

import (
	"fmt"
	"net"
	"strconv"
)

// HostInfo identifies the host a client wants a reservation on, as found by
// session search.
type HostInfo struct {
	SessionName string `json:"session_name"`
	// Addr is the advertised host address. Any port it carries is ignored in
	// favour of the configured beacon port.
	Addr string `json:"addr"`
}

// HostRegistrar sets up whatever addressing state is needed to talk to a
// host and releases it afterwards. The client calls UnregisterAddress at
// most once per successful RegisterAddress.
type HostRegistrar interface {
	RegisterAddress(host HostInfo) error
	ResolveAddress(host HostInfo, port int) (string, error)
	UnregisterAddress(host HostInfo)
}

// DirectRegistrar resolves plain host names and IP addresses with no
// registration step.
type DirectRegistrar struct{}

// RegisterAddress only checks that an address is present.
func (DirectRegistrar) RegisterAddress(host HostInfo) error {
	if host.Addr == "" {
		return fmt.Errorf("host %q has no address", host.SessionName)
	}
	return nil
}

// ResolveAddress returns ip:port for the host using the given port.
func (DirectRegistrar) ResolveAddress(host HostInfo, port int) (string, error) {
	name := host.Addr
	if h, _, err := net.SplitHostPort(host.Addr); err == nil {
		name = h
	}

	if ip := net.ParseIP(name); ip != nil {
		return net.JoinHostPort(ip.String(), strconv.Itoa(port)), nil
	}

	addr, err := net.ResolveIPAddr("ip", name)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	return net.JoinHostPort(addr.IP.String(), strconv.Itoa(port)), nil
}

// UnregisterAddress has nothing to release.
func (DirectRegistrar) UnregisterAddress(HostInfo) {}
