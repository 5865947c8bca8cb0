// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics keeps the tracker's counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"io"
	"net/http"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metrics is safe for concurrent use; the zero value is ready.
type Metrics struct {
	Lines           atomic.Uint64
	LinesRejected   atomic.Uint64
	FixesAccepted   atomic.Uint64
	TransportErrors atomic.Uint64

	UploadsOK    atomic.Uint64
	UploadsError atomic.Uint64
	UploadsEmpty atomic.Uint64

	SubscriberDrops atomic.Uint64
	Subscribers     atomic.Int64
}

// New returns zeroed metrics.
func New() *Metrics {
	return &Metrics{}
}

func counter(name, help string, v uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: proto.Float64(float64(v))}},
		},
	}
}

// Families returns a snapshot of every metric.
func (m *Metrics) Families() []*dto.MetricFamily {
	uploads := &dto.MetricFamily{
		Name: proto.String("telemetry_uploads_total"),
		Help: proto.String("Upload ticks by result."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, r := range []struct {
		label string
		value uint64
	}{
		{"ok", m.UploadsOK.Load()},
		{"error", m.UploadsError.Load()},
		{"empty", m.UploadsEmpty.Load()},
	} {
		uploads.Metric = append(uploads.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: proto.String("result"), Value: proto.String(r.label)}},
			Counter: &dto.Counter{Value: proto.Float64(float64(r.value))},
		})
	}

	return []*dto.MetricFamily{
		counter("gps_lines_total", "Raw lines read from the receiver.", m.Lines.Load()),
		counter("gps_lines_rejected_total", "Lines that did not yield a fix.", m.LinesRejected.Load()),
		counter("gps_fixes_accepted_total", "Fixes stored and broadcast.", m.FixesAccepted.Load()),
		counter("gps_transport_errors_total", "Receiver open and read failures.", m.TransportErrors.Load()),
		uploads,
		counter("subscriber_drops_total", "Subscribers dropped after a failed or stalled delivery.", m.SubscriberDrops.Load()),
		{
			Name: proto.String("subscribers_connected"),
			Help: proto.String("Currently registered live subscribers."),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{
				{Gauge: &dto.Gauge{Value: proto.Float64(float64(m.Subscribers.Load()))}},
			},
		},
	}
}

// Write encodes all families to w in text format.
func (m *Metrics) Write(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range m.Families() {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// ServeHTTP serves the text exposition.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := m.Write(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
