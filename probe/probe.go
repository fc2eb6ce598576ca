package probe

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lathiat/poolmon/consts"
	"github.com/lathiat/poolmon/pkg/metrics"
)

// Options configure a probe run. The same options apply to every port of a
// host scan.
type Options struct {
	// Timeout is the wall-clock budget for the whole probe: dial, TLS
	// handshake and every protocol read/write.
	Timeout time.Duration
	// Credentials enable authenticated logins on IMAP/POP3 probes; nil
	// means banner-only.
	Credentials *Credentials
	// TLSVerify enables certificate verification on encrypted probes.
	TLSVerify bool
}

// Result is a single probe verdict. OK with a non-empty Warning is a
// warning-success: the service is considered healthy but an operator
// should look at it. Err is set only when OK is false.
type Result struct {
	OK      bool
	Warning string
	Err     error
}

// Check probes one port on host and returns the verdict. Connection
// failures, handshake failures, protocol mismatches and deadline overruns
// all come back as a failed Result, never as a panic or a process-level
// error.
func Check(host string, spec PortSpec, opts Options) Result {
	start := time.Now()
	result := runProbe(host, spec, opts)
	elapsed := time.Since(start)

	transport := "plain"
	if spec.TLS {
		transport = "tls"
	}
	outcome := "fail"
	if result.OK {
		outcome = "ok"
		if result.Warning != "" {
			outcome = "warning"
		}
	}
	metrics.ProbesTotal.WithLabelValues(string(spec.Protocol), transport, outcome).Inc()
	metrics.ProbeDuration.WithLabelValues(string(spec.Protocol)).Observe(elapsed.Seconds())

	return result
}

func runProbe(host string, spec PortSpec, opts Options) Result {
	deadline := time.Now().Add(opts.Timeout)

	conn, err := dial(host, spec, opts, deadline)
	if err != nil {
		return Result{Err: fmt.Errorf("connect to %s port %d failed: %w", host, spec.Port, err)}
	}
	defer conn.Close()

	// One deadline covers the whole exchange, so a server that accepts
	// the connection but then stalls mid-dialog still fails in time.
	if err := conn.SetDeadline(deadline); err != nil {
		return Result{Err: fmt.Errorf("failed to set probe deadline: %w", err)}
	}

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	switch spec.Protocol {
	case ProtocolIMAP:
		return checkIMAP(reader, writer, opts.Credentials)
	case ProtocolPOP3:
		return checkPOP3(reader, writer, opts.Credentials)
	default:
		return checkPlain(reader)
	}
}

// dial opens the transport for a probe. Encrypted specs complete the TLS
// handshake before returning, under the same deadline as the rest of the
// probe.
func dial(host string, spec PortSpec, opts Options, deadline time.Time) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(spec.Port))
	dialer := &net.Dialer{Deadline: deadline}

	if spec.TLS {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: !opts.TLSVerify,
			Renegotiation:      tls.RenegotiateNever,
		}
		return tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	}
	return dialer.Dial("tcp", addr)
}

// checkPlain succeeds when the server says anything at all before the
// deadline.
func checkPlain(reader *bufio.Reader) Result {
	if _, err := reader.ReadString('\n'); err != nil {
		return Result{Err: fmt.Errorf("no banner received: %w", err)}
	}
	return Result{OK: true}
}

func checkIMAP(reader *bufio.Reader, writer *bufio.Writer, creds *Credentials) Result {
	greeting, err := reader.ReadString('\n')
	if err != nil {
		return Result{Err: fmt.Errorf("failed to read greeting: %w", err)}
	}

	// LOGINDISABLED in the greeting means logins are administratively off
	// on the plaintext port. The service itself is up; flag it for the
	// operator and move on.
	if strings.Contains(greeting, "LOGINDISABLED") {
		return Result{OK: true, Warning: "IMAP logins disabled (LOGINDISABLED advertised)"}
	}
	if !strings.HasPrefix(greeting, "* OK") {
		return Result{Err: fmt.Errorf("%w: %q", consts.ErrBadGreeting, strings.TrimSpace(greeting))}
	}

	if creds == nil {
		writer.WriteString("01 LOGOUT\r\n")
		writer.Flush()
		return Result{OK: true}
	}

	// Login with the password as an IMAP literal. Both lines go out at
	// once; the continuation and the tagged result are read afterwards.
	fmt.Fprintf(writer, "01 LOGIN %s {%d}\r\n%s\r\n", creds.Username, len(creds.Password), creds.Password)
	if err := writer.Flush(); err != nil {
		return Result{Err: fmt.Errorf("failed to send LOGIN: %w", err)}
	}

	continuation, err := reader.ReadString('\n')
	if err != nil {
		return Result{Err: fmt.Errorf("failed to read literal continuation: %w", err)}
	}
	if !strings.HasPrefix(continuation, "+ OK") {
		return Result{Err: fmt.Errorf("%w: %q", consts.ErrLoginRejected, strings.TrimSpace(continuation))}
	}

	tagged, err := reader.ReadString('\n')
	if err != nil {
		return Result{Err: fmt.Errorf("failed to read login response: %w", err)}
	}
	if !strings.HasPrefix(tagged, "01 OK") {
		return Result{Err: fmt.Errorf("%w: %q", consts.ErrLoginFailed, strings.TrimSpace(tagged))}
	}

	return Result{OK: true}
}

func checkPOP3(reader *bufio.Reader, writer *bufio.Writer, creds *Credentials) Result {
	greeting, err := reader.ReadString('\n')
	if err != nil {
		return Result{Err: fmt.Errorf("failed to read greeting: %w", err)}
	}
	if !strings.Contains(greeting, "+OK") {
		return Result{Err: fmt.Errorf("%w: %q", consts.ErrBadGreeting, strings.TrimSpace(greeting))}
	}

	if creds == nil {
		return Result{OK: true}
	}

	fmt.Fprintf(writer, "USER %s\r\nPASS %s\r\n", creds.Username, creds.Password)
	if err := writer.Flush(); err != nil {
		return Result{Err: fmt.Errorf("failed to send USER/PASS: %w", err)}
	}

	userResp, err := reader.ReadString('\n')
	if err != nil {
		return Result{Err: fmt.Errorf("failed to read USER response: %w", err)}
	}
	// Dovecot rejects USER on non-TLS listeners when plaintext auth is
	// disallowed. As with IMAP's LOGINDISABLED, the service is healthy.
	if strings.Contains(strings.ToLower(userResp), "plaintext auth") {
		return Result{OK: true, Warning: "POP3 plaintext authentication disallowed"}
	}
	if !strings.HasPrefix(userResp, "+OK") {
		return Result{Err: fmt.Errorf("%w: %q", consts.ErrLoginRejected, strings.TrimSpace(userResp))}
	}

	passResp, err := reader.ReadString('\n')
	if err != nil {
		return Result{Err: fmt.Errorf("failed to read PASS response: %w", err)}
	}
	if !strings.HasPrefix(passResp, "+OK") {
		return Result{Err: fmt.Errorf("%w: %q", consts.ErrLoginFailed, strings.TrimSpace(passResp))}
	}

	return Result{OK: true}
}
