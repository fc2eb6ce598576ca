// Package weights maintains the enable-weight table: the weight a backend
// is restored to when it recovers. Hosts not listed in the table are
// restored to DefaultWeight.
package weights

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/lathiat/poolmon/consts"
	"github.com/lathiat/poolmon/logger"
)

// DefaultWeight is the enable-weight for hosts without a table entry.
const DefaultWeight = 100

// Table maps backend IPv4 addresses to their configured enable-weight.
// Reload replaces the whole mapping at once, so concurrent readers always
// see either the previous table or the new one, never a mix.
type Table struct {
	path string

	mu      sync.RWMutex
	weights map[string]int
}

// NewTable creates a table backed by the given file. An empty path yields
// a permanently empty table; Reload is then a no-op.
func NewTable(path string) *Table {
	return &Table{
		path:    path,
		weights: make(map[string]int),
	}
}

// Reload re-reads the weight file and swaps the table wholesale. On a read
// error the previous table keeps serving and the error is returned.
// Malformed lines and unresolvable hostnames are logged and omitted; they
// never fail the reload.
func (t *Table) Reload() error {
	if t.path == "" {
		return nil
	}

	content, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("failed to read weights file '%s': %w", t.path, err)
	}

	weights := parse(t.path, string(content))

	t.mu.Lock()
	t.weights = weights
	t.mu.Unlock()

	logger.Info("WeightTable: reloaded", "path", t.path, "entries", len(weights))
	return nil
}

// parse builds a fresh address→weight map from file content. Each line is
// "host:weight"; lines starting with '#' are comments. Hostnames expand to
// every IPv4 address they resolve to, all with the same weight.
func parse(path, content string) map[string]int {
	weights := make(map[string]int)

	for lineNum, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		host, weight, err := parseLine(line)
		if err != nil {
			logger.Warn("WeightTable: skipping malformed line", "path", path, "line", lineNum+1, "error", err)
			continue
		}

		addrs, err := resolveIPv4(host)
		if err != nil {
			logger.Warn("WeightTable: skipping unresolvable host", "path", path, "line", lineNum+1, "host", host, "error", err)
			continue
		}
		for _, addr := range addrs {
			weights[addr] = weight
		}
	}

	return weights
}

func parseLine(line string) (string, int, error) {
	host, weightStr, ok := strings.Cut(line, ":")
	if !ok {
		return "", 0, fmt.Errorf("expected host:weight, got %q", line)
	}
	host = strings.TrimSpace(host)
	weightStr = strings.TrimSpace(weightStr)
	if host == "" {
		return "", 0, fmt.Errorf("empty host in %q", line)
	}
	weight, err := strconv.Atoi(weightStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid weight %q: %v", weightStr, err)
	}
	if weight < 0 {
		return "", 0, fmt.Errorf("negative weight %d", weight)
	}
	return host, weight, nil
}

// resolveIPv4 returns the IPv4 addresses for host. IPv4 literals pass
// through untouched; hostnames resolve to every A record.
func resolveIPv4(host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		ip4 := ip.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("%w: %s is not an IPv4 address", consts.ErrResolveFailed, host)
		}
		return []string{ip4.String()}, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrResolveFailed, err)
	}

	var addrs []string
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			addrs = append(addrs, ip4.String())
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no IPv4 addresses", consts.ErrResolveFailed, host)
	}
	return addrs, nil
}

// LookupDefault returns the configured enable-weight for addr, or
// DefaultWeight when the table has no entry for it.
func (t *Table) LookupDefault(addr string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if weight, ok := t.weights[addr]; ok {
		return weight
	}
	return DefaultWeight
}

// Lookup returns the configured enable-weight for addr and whether an
// entry exists.
func (t *Table) Lookup(addr string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	weight, ok := t.weights[addr]
	return weight, ok
}

// Len returns the number of table entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.weights)
}
