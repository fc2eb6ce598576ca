package scanner

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lathiat/poolmon/probe"
)

const testTimeout = 2 * time.Second

// connLog records which local ports received connections, in order.
type connLog struct {
	mu    sync.Mutex
	ports []int
}

func (l *connLog) add(port int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ports = append(l.ports, port)
}

func (l *connLog) snapshot() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.ports...)
}

// startBackend serves one banner line per connection and logs the hit.
func startBackend(t *testing.T, log *connLog, banner string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			log.add(port)
			go func(c net.Conn) {
				defer c.Close()
				c.Write([]byte(banner + "\r\n"))
				buf := make([]byte, 256)
				c.Read(buf)
			}(conn)
		}
	}()

	return port
}

// deadPort returns a port nothing is listening on.
func deadPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestScanAllPass(t *testing.T) {
	log := &connLog{}
	imapPort := startBackend(t, log, "* OK Dovecot ready.")
	pop3Port := startBackend(t, log, "+OK Dovecot ready.")

	s := New(
		[]probe.PortSpec{
			{Port: imapPort, Protocol: probe.ProtocolIMAP},
			{Port: pop3Port, Protocol: probe.ProtocolPOP3},
		},
		nil,
		probe.Options{Timeout: testTimeout},
	)

	if !s.Scan("127.0.0.1") {
		t.Fatal("expected healthy verdict with all ports up")
	}

	ports := log.snapshot()
	if len(ports) != 2 || ports[0] != imapPort || ports[1] != pop3Port {
		t.Errorf("ports probed out of configured order: %v", ports)
	}
}

func TestScanStopsAtFirstFailure(t *testing.T) {
	log := &connLog{}
	failing := deadPort(t)
	never := startBackend(t, log, "* OK Dovecot ready.")

	s := New(
		[]probe.PortSpec{
			{Port: failing, Protocol: probe.ProtocolIMAP},
			{Port: never, Protocol: probe.ProtocolIMAP},
		},
		nil,
		probe.Options{Timeout: testTimeout},
	)

	if s.Scan("127.0.0.1") {
		t.Fatal("expected unhealthy verdict")
	}
	if hits := log.snapshot(); len(hits) != 0 {
		t.Errorf("later ports must not be probed after a failure, got hits on %v", hits)
	}
}

func TestScanTLSSkippedAfterPlaintextFailure(t *testing.T) {
	log := &connLog{}
	failing := deadPort(t)
	tlsPort := startBackend(t, log, "* OK Dovecot ready.")

	s := New(
		[]probe.PortSpec{{Port: failing, Protocol: probe.ProtocolIMAP}},
		[]probe.PortSpec{{Port: tlsPort, Protocol: probe.ProtocolIMAP, TLS: true}},
		probe.Options{Timeout: testTimeout},
	)

	if s.Scan("127.0.0.1") {
		t.Fatal("expected unhealthy verdict")
	}
	if hits := log.snapshot(); len(hits) != 0 {
		t.Errorf("TLS ports must not be probed after a plaintext failure, got hits on %v", hits)
	}
}

func TestScanTLSFailureFailsHost(t *testing.T) {
	log := &connLog{}
	plain := startBackend(t, log, "* OK Dovecot ready.")
	// TLS spec pointed at a plaintext listener: handshake fails
	badTLS := startBackend(t, log, "* OK Dovecot ready.")

	s := New(
		[]probe.PortSpec{{Port: plain, Protocol: probe.ProtocolIMAP}},
		[]probe.PortSpec{{Port: badTLS, Protocol: probe.ProtocolIMAP, TLS: true}},
		probe.Options{Timeout: testTimeout},
	)

	if s.Scan("127.0.0.1") {
		t.Fatal("expected unhealthy verdict when the TLS handshake fails")
	}
}

func TestScanWarningCountsAsPass(t *testing.T) {
	log := &connLog{}
	port := startBackend(t, log, "* OK [CAPABILITY IMAP4rev1 LOGINDISABLED] Dovecot ready.")

	s := New(
		[]probe.PortSpec{{Port: port, Protocol: probe.ProtocolIMAP}},
		nil,
		probe.Options{Timeout: testTimeout, Credentials: &probe.Credentials{Username: "u", Password: "p"}},
	)

	if !s.Scan("127.0.0.1") {
		t.Error("warning-success must count as a pass")
	}
}

func TestScanNoPorts(t *testing.T) {
	s := New(nil, nil, probe.Options{Timeout: testTimeout})
	if !s.Scan("127.0.0.1") {
		t.Error("a scan with no configured ports has nothing to fail")
	}
}
