// Package director implements the client side of the Dovecot director
// admin protocol: newline-terminated, tab-separated commands over the
// director's control socket. Every operation opens a fresh connection,
// performs the version handshake, runs one exchange and closes, so no
// stale connection state can leak between cycles.
package director

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lathiat/poolmon/consts"
	"github.com/lathiat/poolmon/logger"
	"github.com/lathiat/poolmon/pkg/metrics"
)

// handshakeLine is sent on connect; the director must echo it verbatim.
const handshakeLine = "VERSION\tdirector-doveadm\t1\t0\n"

// Host is one backend row from a HOST-LIST response.
type Host struct {
	Address       string
	Weight        int
	ActiveClients int
}

// Client talks to the director admin socket.
type Client struct {
	addr    string
	timeout time.Duration
}

// New creates a director client. An address containing "/" is dialed as a
// unix socket path, anything else as host:port over TCP.
func New(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) network() string {
	if strings.Contains(c.addr, "/") {
		return "unix"
	}
	return "tcp"
}

// connect dials the socket, applies the operation deadline and performs
// the version handshake. The caller owns the returned connection.
func (c *Client) connect(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, c.network(), c.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to director at %s: %w", c.addr, err)
	}

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to set director deadline: %w", err)
	}

	if _, err := conn.Write([]byte(handshakeLine)); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to send version line: %w", err)
	}

	reader := bufio.NewReader(conn)
	echo, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: no version line received: %v", consts.ErrHandshakeFailed, err)
	}
	if echo != handshakeLine {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: unexpected version line %q", consts.ErrHandshakeFailed, strings.TrimSpace(echo))
	}

	return conn, reader, nil
}

// ListHosts fetches the backend pool: address, weight and active client
// count per host. Rows that do not parse are skipped.
func (c *Client) ListHosts(ctx context.Context) ([]Host, error) {
	conn, reader, err := c.connect(ctx)
	if err != nil {
		metrics.DirectorCommandsTotal.WithLabelValues("host_list", "error").Inc()
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("HOST-LIST\n")); err != nil {
		metrics.DirectorCommandsTotal.WithLabelValues("host_list", "error").Inc()
		return nil, fmt.Errorf("failed to send HOST-LIST: %w", err)
	}

	var hosts []Host
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			metrics.DirectorCommandsTotal.WithLabelValues("host_list", "error").Inc()
			return nil, fmt.Errorf("failed to read HOST-LIST response: %w", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}

		host, err := parseHostLine(line)
		if err != nil {
			logger.Debug("Director: skipping malformed HOST-LIST row", "row", line, "error", err)
			continue
		}
		hosts = append(hosts, host)
	}

	metrics.DirectorCommandsTotal.WithLabelValues("host_list", "ok").Inc()
	return hosts, nil
}

func parseHostLine(line string) (Host, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 3 {
		return Host{}, fmt.Errorf("%w: expected 3 fields, got %d", consts.ErrMalformedResponse, len(fields))
	}
	weight, err := strconv.Atoi(fields[1])
	if err != nil {
		return Host{}, fmt.Errorf("%w: bad weight %q", consts.ErrMalformedResponse, fields[1])
	}
	active, err := strconv.Atoi(fields[2])
	if err != nil {
		return Host{}, fmt.Errorf("%w: bad client count %q", consts.ErrMalformedResponse, fields[2])
	}
	return Host{Address: fields[0], Weight: weight, ActiveClients: active}, nil
}

// SetHostWeight sets the routing weight of a backend. The director sends
// no reply to HOST-SET in this flow; the command is fire-and-forget.
func (c *Client) SetHostWeight(ctx context.Context, addr string, weight int) error {
	conn, _, err := c.connect(ctx)
	if err != nil {
		metrics.DirectorCommandsTotal.WithLabelValues("host_set", "error").Inc()
		return err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "HOST-SET\t%s\t%d\n", addr, weight); err != nil {
		metrics.DirectorCommandsTotal.WithLabelValues("host_set", "error").Inc()
		return fmt.Errorf("failed to send HOST-SET: %w", err)
	}

	metrics.DirectorCommandsTotal.WithLabelValues("host_set", "ok").Inc()
	return nil
}

// FlushHost drops the director's user→host assignments for a backend so
// disabled hosts stop receiving rerouted logins. Fire-and-forget, like
// SetHostWeight.
func (c *Client) FlushHost(ctx context.Context, addr string) error {
	conn, _, err := c.connect(ctx)
	if err != nil {
		metrics.DirectorCommandsTotal.WithLabelValues("host_flush", "error").Inc()
		return err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "HOST-FLUSH\t%s\n", addr); err != nil {
		metrics.DirectorCommandsTotal.WithLabelValues("host_flush", "error").Inc()
		return fmt.Errorf("failed to send HOST-FLUSH: %w", err)
	}

	metrics.DirectorCommandsTotal.WithLabelValues("host_flush", "ok").Inc()
	return nil
}
