// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeDigitalWorks/blobgate/pkg/debug"
)

var (
	factory = promauto.With(debug.Registry())

	ratioHist = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blobgate",
		Subsystem: "compression",
		Name:      "ratio",
		Help:      "Compression ratio (original_size / compressed_size)",
		Buckets:   []float64{1.0, 1.25, 1.5, 2.0, 3.0, 4.0, 5.0, 10.0, 20.0},
	}, []string{"algorithm"})

	duration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blobgate",
		Subsystem: "compression",
		Name:      "duration_seconds",
		Help:      "Time spent compressing/decompressing data",
		Buckets:   prometheus.DefBuckets,
	}, []string{"algorithm", "operation"})

	bytesIn = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blobgate",
		Subsystem: "compression",
		Name:      "bytes_in_total",
		Help:      "Bytes handed to the codec",
	}, []string{"algorithm", "operation"})

	bytesOut = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blobgate",
		Subsystem: "compression",
		Name:      "bytes_out_total",
		Help:      "Bytes produced by the codec",
	}, []string{"algorithm", "operation"})
)

func observe(algo Algorithm, op string, start time.Time, in, out int) {
	a := algo.String()
	duration.WithLabelValues(a, op).Observe(time.Since(start).Seconds())
	bytesIn.WithLabelValues(a, op).Add(float64(in))
	bytesOut.WithLabelValues(a, op).Add(float64(out))
	if op == "compress" {
		ratioHist.WithLabelValues(a).Observe(Ratio(in, out))
	}
}
