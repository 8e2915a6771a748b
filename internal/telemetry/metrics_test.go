package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Metric registration sanity checks — verify every exported metric is properly
// registered and carries the expected fully-qualified name.
//
// We check registration via Describe() rather than DefaultGatherer.Gather()
// because Gather() only returns series that have been observed at least once;
// *Vec metrics with no label combinations yet used are silently absent from
// Gather output even though they are correctly registered.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"audit_appends_total", AuditAppendsTotal},
		{"audit_append_duration_seconds", AuditAppendDuration},
		{"audit_chain_verify_runs_total", ChainVerifyRunsTotal},
		{"audit_chain_intact", ChainIntact},
		{"audit_export_rows_total", AuditExportRowsTotal},
		{"audit_ship_failures_total", AuditShipFailuresTotal},
		{"db_connections_open", DBConnectionsOpen},
		{"db_connections_in_use", DBConnectionsInUse},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				// prometheus.Desc.String() returns a Go syntax string of the form:
				//   Desc{fqName: "<name>", help: "...", constLabels: {}, variableLabels: [...]}
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return // found — test passes
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_HTTPRequestsTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/test", "status": "200"}
	before := counterValue(t, HTTPRequestsTotal, labels)
	HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
	after := counterValue(t, HTTPRequestsTotal, labels)
	if after-before < 1 {
		t.Errorf("HTTPRequestsTotal.Inc() did not increase counter (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_AuditAppendsTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"status": "ok"}
	before := counterValue(t, AuditAppendsTotal, labels)
	AuditAppendsTotal.WithLabelValues("ok").Inc()
	after := counterValue(t, AuditAppendsTotal, labels)
	if after-before < 1 {
		t.Errorf("AuditAppendsTotal.Inc() did not increase counter")
	}
}

func TestMetrics_ChainIntact_TracksVerifyOutcome(t *testing.T) {
	ChainIntact.Set(1)
	if got := gaugeValue(t, ChainIntact); got != 1 {
		t.Errorf("ChainIntact = %.0f after Set(1), want 1", got)
	}
	ChainIntact.Set(0)
	if got := gaugeValue(t, ChainIntact); got != 0 {
		t.Errorf("ChainIntact = %.0f after Set(0), want 0", got)
	}
	ChainIntact.Set(1) // restore neutral value
}

func TestMetrics_ExportRows_CanBeAdded(t *testing.T) {
	before := plainCounterValue(t, AuditExportRowsTotal)
	AuditExportRowsTotal.Add(42)
	after := plainCounterValue(t, AuditExportRowsTotal)
	if after-before < 42 {
		t.Errorf("AuditExportRowsTotal.Add(42) did not increase counter (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_AppendDuration_CanBeObserved(t *testing.T) {
	AuditAppendDuration.Observe(0.002)
	AuditAppendDuration.Observe(0.5)
	// If no panic, the histogram is functioning.
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// plainCounterValue reads the value of a plain (non-vec) Counter.
func plainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		return dm.GetCounter().GetValue()
	}
	return 0
}

// gaugeValue reads the value of a plain Gauge.
func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	g.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		return dm.GetGauge().GetValue()
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
