// Package scanner turns the configured port probes into a single per-host
// health verdict: every port must pass, plaintext ports first.
package scanner

import (
	"github.com/lathiat/poolmon/logger"
	"github.com/lathiat/poolmon/probe"
)

// Scanner probes one host across all configured ports.
type Scanner struct {
	plaintext []probe.PortSpec
	tls       []probe.PortSpec
	opts      probe.Options
}

// New creates a scanner. The spec slices keep their configured order; that
// order is the probe order.
func New(plaintext, tls []probe.PortSpec, opts probe.Options) *Scanner {
	return &Scanner{
		plaintext: plaintext,
		tls:       tls,
		opts:      opts,
	}
}

// Scan probes every configured port of host in order and reports whether
// the host is healthy. The first failing port ends the scan: when a
// plaintext port fails, the encrypted ports are not attempted at all, so a
// TLS misconfiguration can never mask a plain service outage.
// Warning-successes count as passes.
func (s *Scanner) Scan(host string) bool {
	for _, spec := range s.plaintext {
		if !s.checkPort(host, spec) {
			return false
		}
	}
	for _, spec := range s.tls {
		if !s.checkPort(host, spec) {
			return false
		}
	}
	return true
}

func (s *Scanner) checkPort(host string, spec probe.PortSpec) bool {
	result := probe.Check(host, spec, s.opts)
	if result.Warning != "" {
		logger.Warn("Scanner: probe warning", "host", host, "port", spec.String(), "warning", result.Warning)
	}
	if !result.OK {
		logger.Error("Scanner: probe failed", "host", host, "port", spec.String(), "error", result.Err)
		return false
	}
	logger.Debug("Scanner: probe passed", "host", host, "port", spec.String())
	return true
}
