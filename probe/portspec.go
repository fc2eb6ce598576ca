// Package probe implements single-port service probes against backend mail
// hosts: a bare banner read for unknown ports, and protocol-aware checks
// with optional authenticated logins for IMAP and POP3, each in a plaintext
// and a TLS flavor.
package probe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lathiat/poolmon/consts"
)

// Protocol identifies the application protocol spoken on a probed port.
type Protocol string

const (
	ProtocolIMAP    Protocol = "imap"
	ProtocolPOP3    Protocol = "pop3"
	ProtocolUnknown Protocol = "unknown"
)

// PortSpec describes one port to probe on every backend host.
type PortSpec struct {
	Port     int
	Protocol Protocol
	TLS      bool
}

// String renders the spec the way it is written in configuration, with a
// "/TLS" suffix for encrypted ports.
func (s PortSpec) String() string {
	var name string
	if s.Protocol != ProtocolUnknown {
		name = fmt.Sprintf("%s:%d", strings.ToUpper(string(s.Protocol)), s.Port)
	} else {
		name = strconv.Itoa(s.Port)
	}
	if s.TLS {
		name += "/TLS"
	}
	return name
}

// ParsePortSpec parses a configured port spec: a port number with an
// optional "IMAP:" or "POP3:" prefix overriding the inference from
// well-known mail ports (143/993 IMAP, 110/995 POP3). Other ports without
// a prefix get the bare banner probe.
func ParsePortSpec(spec string, tls bool) (PortSpec, error) {
	s := strings.TrimSpace(spec)

	protocol := ProtocolUnknown
	forced := false
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch {
		case strings.EqualFold(prefix, "imap"):
			protocol = ProtocolIMAP
		case strings.EqualFold(prefix, "pop3"):
			protocol = ProtocolPOP3
		default:
			return PortSpec{}, fmt.Errorf("%w: unknown protocol prefix %q in %q", consts.ErrInvalidPortSpec, prefix, spec)
		}
		forced = true
		s = rest
	}

	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return PortSpec{}, fmt.Errorf("%w: bad port number in %q", consts.ErrInvalidPortSpec, spec)
	}

	if !forced {
		switch port {
		case 143, 993:
			protocol = ProtocolIMAP
		case 110, 995:
			protocol = ProtocolPOP3
		}
	}

	return PortSpec{Port: port, Protocol: protocol, TLS: tls}, nil
}

// ParsePortSpecs parses a list of configured specs, preserving order.
func ParsePortSpecs(specs []string, tls bool) ([]PortSpec, error) {
	parsed := make([]PortSpec, 0, len(specs))
	for _, s := range specs {
		spec, err := ParsePortSpec(s, tls)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, spec)
	}
	return parsed, nil
}

// Credentials hold the login used by authenticated probes. A nil
// *Credentials means banner-only probing.
type Credentials struct {
	Username string
	Password string
}
