package protocols

import "strings"

// TunnelPolicy restricts the TCP targets a tunnel session may ask the
// gateway to dial. An empty host list denies every target; an empty port
// list allows any port on an allowed host.
type TunnelPolicy struct {
	Hosts []string
	Ports []int
}

// Allow reports whether the policy permits dialing host:port.
func (p TunnelPolicy) Allow(host string, port int) bool {
	hostOK := false
	for _, h := range p.Hosts {
		if strings.EqualFold(h, host) {
			hostOK = true
			break
		}
	}
	if !hostOK {
		return false
	}

	if len(p.Ports) == 0 {
		return true
	}
	for _, pt := range p.Ports {
		if pt == port {
			return true
		}
	}
	return false
}
