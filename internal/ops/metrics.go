// Copyright (C) 2023 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ops

import (
	"math"
	"time"

	"github.com/mlnoga/gammalight/internal/sky"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operatorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gammalight_operator_runs_total",
		Help: "Number of operator applications.",
	}, []string{"type", "status"})
	operatorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gammalight_operator_duration_seconds",
		Help:    "Duration of operator applications.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"type"})
	tsPixels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gammalight_ts_pixels_total",
		Help: "Number of pixels with a finite TS value.",
	})
)

// Runs one operator application, recording its duration and outcome
func observe(opType string, apply func() (*sky.List, error)) (*sky.List, error) {
	start := time.Now()
	l, err := apply()
	operatorDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	operatorRuns.WithLabelValues(opType, status).Inc()
	return l, err
}

// Counts the finite pixels of a TS image
func countTSPixels(img *sky.Image) {
	if img == nil {
		return
	}
	n := 0
	for _, v := range img.Data {
		if !math.IsNaN(v) {
			n++
		}
	}
	tsPixels.Add(float64(n))
}
