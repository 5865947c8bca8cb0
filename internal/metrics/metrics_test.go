// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

func value(mf *dto.MetricFamily, label string) float64 {
	for _, m := range mf.GetMetric() {
		if label != "" {
			if len(m.GetLabel()) == 0 || m.GetLabel()[0].GetValue() != label {
				continue
			}
		}
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	return -1
}

func TestMetrics_ServeHTTP(t *testing.T) {
	m := New()
	m.Lines.Add(10)
	m.LinesRejected.Add(7)
	m.FixesAccepted.Add(3)
	m.UploadsOK.Add(2)
	m.UploadsError.Add(1)
	m.Subscribers.Add(4)
	m.Subscribers.Add(-1)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(rec.Body)
	if err != nil {
		t.Fatalf("failed to parse exposition: %s", err)
	}

	tests := []struct {
		family string
		label  string
		want   float64
	}{
		{"gps_lines_total", "", 10},
		{"gps_lines_rejected_total", "", 7},
		{"gps_fixes_accepted_total", "", 3},
		{"gps_transport_errors_total", "", 0},
		{"telemetry_uploads_total", "ok", 2},
		{"telemetry_uploads_total", "error", 1},
		{"telemetry_uploads_total", "empty", 0},
		{"subscribers_connected", "", 3},
	}
	for _, tc := range tests {
		mf, ok := mfs[tc.family]
		if !ok {
			t.Errorf("family %s missing", tc.family)
			continue
		}
		if got := value(mf, tc.label); got != tc.want {
			t.Errorf("%s{%s} = %v, want %v", tc.family, tc.label, got, tc.want)
		}
	}
}
