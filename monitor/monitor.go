// Package monitor runs the pool control loop: list the director's
// backends, scan them all in parallel, then reconcile director weights
// with the verdicts. One cycle per interval, cycles never overlap.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/lathiat/poolmon/director"
	"github.com/lathiat/poolmon/logger"
	"github.com/lathiat/poolmon/pkg/metrics"
	"github.com/lathiat/poolmon/weights"
)

// DirectorClient is the subset of the director admin protocol the monitor
// drives.
type DirectorClient interface {
	ListHosts(ctx context.Context) ([]director.Host, error)
	SetHostWeight(ctx context.Context, addr string, weight int) error
	FlushHost(ctx context.Context, addr string) error
}

// HostScanner produces a health verdict for one backend host.
type HostScanner interface {
	Scan(host string) bool
}

// HostStatus is the last observed state of one backend.
type HostStatus struct {
	Address       string
	Weight        int
	ActiveClients int
	Healthy       bool
	LastChecked   time.Time
}

// Status is a snapshot of the monitor's view of the pool after the most
// recent cycle. A failed host list leaves the previous host view in place
// with LastError set.
type Status struct {
	LastCycle     time.Time
	CycleDuration time.Duration
	TotalHosts    int
	HealthyHosts  int
	LastError     string
	Hosts         []HostStatus
}

// Monitor is the pool controller worker.
type Monitor struct {
	client   DirectorClient
	scanner  HostScanner
	weights  *weights.Table
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	reloadCh chan struct{}
	wg       sync.WaitGroup

	statusMu sync.RWMutex
	status   Status
}

// New creates a monitor driving the given director with verdicts from the
// given scanner. The weights table supplies re-enable weights.
func New(client DirectorClient, scanner HostScanner, table *weights.Table, interval time.Duration) *Monitor {
	return &Monitor{
		client:   client,
		scanner:  scanner,
		weights:  table,
		interval: interval,
		stopCh:   make(chan struct{}),
		reloadCh: make(chan struct{}, 1),
	}
}

// Start launches the control loop. The first cycle runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)

	logger.Info("Monitor: started", "interval", m.interval)
	return nil
}

// Stop shuts the control loop down and waits for it to finish. Safe to
// call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	logger.Info("Monitor: stopped")
}

// Reload requests a weight table reload before the next cycle. Wired to
// SIGHUP by the daemon entrypoint.
func (m *Monitor) Reload() {
	select {
	case m.reloadCh <- struct{}{}:
	default:
		// A reload is already pending
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.wg.Done()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Scan immediately on start
	m.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Monitor: stopping due to context cancellation")
			return
		case <-m.stopCh:
			logger.Info("Monitor: stopping due to stop signal")
			return
		case <-m.reloadCh:
			if err := m.weights.Reload(); err != nil {
				logger.Error("Monitor: weight table reload failed, keeping previous table", "error", err)
			}
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// runCycle performs one list/scan/reconcile pass. Cycles serialize: this
// runs on the control loop goroutine, so a slow cycle simply absorbs the
// next tick.
func (m *Monitor) runCycle(ctx context.Context) {
	start := time.Now()

	hosts, err := m.client.ListHosts(ctx)
	if err != nil {
		logger.Error("Monitor: host list failed, abandoning cycle", "error", err)
		metrics.ScanCyclesTotal.WithLabelValues("list_failed").Inc()
		m.publishListFailure(err)
		return
	}

	logger.Debug("Monitor: scanning pool", "hosts", len(hosts))

	verdicts := make([]bool, len(hosts))
	var scans sync.WaitGroup
	for i, host := range hosts {
		scans.Add(1)
		go func(i int, addr string) {
			defer scans.Done()
			verdicts[i] = m.scanHost(addr)
		}(i, host.Address)
	}

	// Join through a channel so a shutdown can abandon the cycle while
	// scans are still in flight; their verdicts are discarded.
	done := make(chan struct{})
	go func() {
		scans.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Monitor: shutdown during scan, abandoning cycle")
		metrics.ScanCyclesTotal.WithLabelValues("abandoned").Inc()
		return
	}

	healthy := 0
	for i, host := range hosts {
		verdict := verdicts[i]
		if verdict {
			healthy++
			metrics.HostsScannedTotal.WithLabelValues("healthy").Inc()
			metrics.HostUp.WithLabelValues(host.Address).Set(1)
		} else {
			metrics.HostsScannedTotal.WithLabelValues("unhealthy").Inc()
			metrics.HostUp.WithLabelValues(host.Address).Set(0)
		}
		m.reconcile(ctx, host, verdict)
	}

	elapsed := time.Since(start)
	metrics.ScanCyclesTotal.WithLabelValues("completed").Inc()
	metrics.ScanCycleDuration.Observe(elapsed.Seconds())
	m.publish(hosts, verdicts, start, elapsed)

	logger.Info("Monitor: cycle complete", "hosts", len(hosts), "healthy", healthy, "duration", elapsed)
}

// scanHost runs one host scan. A panicking scan is converted into an
// unhealthy verdict so one host cannot take down the whole cycle.
func (m *Monitor) scanHost(addr string) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Monitor: PANIC during scan of host %s: %v", addr, r)
			healthy = false
		}
	}()
	return m.scanner.Scan(addr)
}

// reconcile compares one verdict against the weight the director reported
// at the top of the cycle and issues the corrective commands. Command
// failures are logged and left for the next cycle; nothing retries within
// a cycle.
func (m *Monitor) reconcile(ctx context.Context, host director.Host, healthy bool) {
	switch {
	case healthy && host.Weight == 0:
		weight := m.weights.LookupDefault(host.Address)
		logger.Info("Monitor: re-enabling recovered host", "host", host.Address, "weight", weight)
		if err := m.client.SetHostWeight(ctx, host.Address, weight); err != nil {
			logger.Error("Monitor: failed to re-enable host", "host", host.Address, "error", err)
			return
		}
		metrics.HostStateChangesTotal.WithLabelValues("enable").Inc()

	case !healthy && host.Weight > 0:
		logger.Warn("Monitor: disabling failed host", "host", host.Address, "active_clients", host.ActiveClients)
		if err := m.client.SetHostWeight(ctx, host.Address, 0); err != nil {
			logger.Error("Monitor: failed to disable host", "host", host.Address, "error", err)
			return
		}
		metrics.HostStateChangesTotal.WithLabelValues("disable").Inc()
		if err := m.client.FlushHost(ctx, host.Address); err != nil {
			logger.Error("Monitor: failed to flush host", "host", host.Address, "error", err)
		}
	}
}

func (m *Monitor) publish(hosts []director.Host, verdicts []bool, at time.Time, took time.Duration) {
	statuses := make([]HostStatus, len(hosts))
	healthy := 0
	for i, h := range hosts {
		if verdicts[i] {
			healthy++
		}
		statuses[i] = HostStatus{
			Address:       h.Address,
			Weight:        h.Weight,
			ActiveClients: h.ActiveClients,
			Healthy:       verdicts[i],
			LastChecked:   at,
		}
	}

	m.statusMu.Lock()
	m.status = Status{
		LastCycle:     at,
		CycleDuration: took,
		TotalHosts:    len(hosts),
		HealthyHosts:  healthy,
		Hosts:         statuses,
	}
	m.statusMu.Unlock()
}

func (m *Monitor) publishListFailure(err error) {
	m.statusMu.Lock()
	m.status.LastCycle = time.Now()
	m.status.LastError = err.Error()
	m.statusMu.Unlock()
}

// Status returns a copy of the monitor's view after the most recent cycle.
func (m *Monitor) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	st := m.status
	st.Hosts = append([]HostStatus(nil), m.status.Hosts...)
	return st
}
