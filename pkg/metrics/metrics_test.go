package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return string(body)
}

func TestPrometheusHTTPHandler(t *testing.T) {
	t.Run("basic_metrics_endpoint", func(t *testing.T) {
		ProbesTotal.Reset()
		DirectorCommandsTotal.Reset()

		ProbesTotal.WithLabelValues("imap", "plain", "ok").Add(10)
		DirectorCommandsTotal.WithLabelValues("host_list", "ok").Add(5)

		bodyStr := scrape(t, promhttp.Handler())

		if !strings.Contains(bodyStr, "poolmon_probes_total") {
			t.Error("Expected poolmon_probes_total metric in response")
		}
		if !strings.Contains(bodyStr, "poolmon_director_commands_total") {
			t.Error("Expected poolmon_director_commands_total metric in response")
		}
		if !strings.Contains(bodyStr, `poolmon_probes_total{protocol="imap",result="ok",transport="plain"} 10`) {
			t.Error("Expected IMAP probe total to be 10")
		}
		if !strings.Contains(bodyStr, `poolmon_director_commands_total{command="host_list",result="ok"} 5`) {
			t.Error("Expected host_list command total to be 5")
		}
	})

	t.Run("metrics_format", func(t *testing.T) {
		HostsScannedTotal.Reset()
		HostUp.Reset()

		HostsScannedTotal.WithLabelValues("healthy").Add(100)
		HostUp.WithLabelValues("10.0.0.1").Set(1)

		bodyStr := scrape(t, promhttp.Handler())

		if !strings.Contains(bodyStr, "# HELP poolmon_hosts_scanned_total Total number of per-host scans by verdict") {
			t.Error("Expected HELP comment for hosts_scanned_total")
		}
		if !strings.Contains(bodyStr, "# TYPE poolmon_hosts_scanned_total counter") {
			t.Error("Expected TYPE comment for hosts_scanned_total counter")
		}
		if !strings.Contains(bodyStr, "# TYPE poolmon_host_up gauge") {
			t.Error("Expected TYPE comment for host_up gauge")
		}
		if !strings.Contains(bodyStr, `poolmon_host_up{host="10.0.0.1"} 1`) {
			t.Error("Expected host_up gauge for 10.0.0.1 to be 1")
		}
	})

	t.Run("histogram_metrics_format", func(t *testing.T) {
		ProbeDuration.Reset()

		ProbeDuration.WithLabelValues("pop3").Observe(0.002)
		ProbeDuration.WithLabelValues("pop3").Observe(0.05)
		ProbeDuration.WithLabelValues("pop3").Observe(1.5)

		bodyStr := scrape(t, promhttp.Handler())

		if !strings.Contains(bodyStr, "# TYPE poolmon_probe_duration_seconds histogram") {
			t.Error("Expected TYPE comment for probe_duration histogram")
		}
		if !strings.Contains(bodyStr, "poolmon_probe_duration_seconds_bucket{") {
			t.Error("Expected histogram bucket metrics")
		}
		if !strings.Contains(bodyStr, `poolmon_probe_duration_seconds_count{protocol="pop3"} 3`) {
			t.Error("Expected histogram count to be 3")
		}
		if !strings.Contains(bodyStr, `poolmon_probe_duration_seconds_sum{protocol="pop3"}`) {
			t.Error("Expected histogram sum metric")
		}
	})

	t.Run("multiple_label_values", func(t *testing.T) {
		ProbesTotal.Reset()

		ProbesTotal.WithLabelValues("imap", "tls", "ok").Add(40)
		ProbesTotal.WithLabelValues("pop3", "plain", "warning").Add(3)
		ProbesTotal.WithLabelValues("unknown", "plain", "fail").Add(7)

		bodyStr := scrape(t, promhttp.Handler())

		expectedMetrics := []string{
			`poolmon_probes_total{protocol="imap",result="ok",transport="tls"} 40`,
			`poolmon_probes_total{protocol="pop3",result="warning",transport="plain"} 3`,
			`poolmon_probes_total{protocol="unknown",result="fail",transport="plain"} 7`,
		}
		for _, expected := range expectedMetrics {
			if !strings.Contains(bodyStr, expected) {
				t.Errorf("Expected metric: %s", expected)
			}
		}
	})

	t.Run("state_change_counters", func(t *testing.T) {
		HostStateChangesTotal.Reset()

		HostStateChangesTotal.WithLabelValues("disable").Inc()
		HostStateChangesTotal.WithLabelValues("disable").Inc()
		HostStateChangesTotal.WithLabelValues("enable").Inc()

		bodyStr := scrape(t, promhttp.Handler())

		if !strings.Contains(bodyStr, `poolmon_host_state_changes_total{action="disable"} 2`) {
			t.Error("Expected disable count to be 2")
		}
		if !strings.Contains(bodyStr, `poolmon_host_state_changes_total{action="enable"} 1`) {
			t.Error("Expected enable count to be 1")
		}
	})
}

func TestPrometheusHandlerWithCustomRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	customCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_custom_counter",
			Help: "A custom counter for testing",
		},
		[]string{"label"},
	)
	registry.MustRegister(customCounter)
	customCounter.WithLabelValues("test").Add(42)

	bodyStr := scrape(t, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if !strings.Contains(bodyStr, `test_custom_counter{label="test"} 42`) {
		t.Error("Expected custom metric value")
	}
	if strings.Contains(bodyStr, "poolmon_probes_total") {
		t.Error("Should not contain default metrics when using custom registry")
	}
}

func TestPrometheusHandlerErrorCases(t *testing.T) {
	handler := promhttp.HandlerFor(&errorGatherer{}, promhttp.HandlerOpts{})
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500 on gatherer error, got %d", resp.StatusCode)
	}
}

// Mock error gatherer for testing error handling
type errorGatherer struct{}

func (e *errorGatherer) Gather() ([]*dto.MetricFamily, error) {
	return nil, fmt.Errorf("mock gatherer error")
}
