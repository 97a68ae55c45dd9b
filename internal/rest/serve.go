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

// Package rest serves operator sequences over HTTP.
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mlnoga/gammalight/internal/ops"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "gammalight_http_response_time_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"path"})
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gammalight_http_requests_total",
		Help: "Number of HTTP requests.",
	}, []string{"path", "code"})
)

// Records request counts and durations per route
func prometheusMiddleware(c *gin.Context) {
	start := time.Now()
	c.Next()
	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	httpDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	httpRequests.WithLabelValues(path, fmt.Sprint(c.Writer.Status())).Inc()
}

// Returns the HTTP handler with all API routes
func NewRouter(maxThreads int) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), prometheusMiddleware)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/operators", getOperators)
			v1.GET("/metrics", gin.WrapH(promhttp.Handler()))
			v1.POST("/run", func(c *gin.Context) { postRun(c, maxThreads) })
		}
	}
	return r
}

// Serves the API on the given address, e.g. ":8080"
func Serve(addr string, maxThreads int) error {
	r := NewRouter(maxThreads)
	r.Use(gin.Logger())
	return r.Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func getOperators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"operators": ops.OperatorTypes(),
		"cpu":       ops.CPUInfo(),
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Runs the operator sequence in the request body, streaming the log as plain text.
// File names must be relative paths within the server's directory tree
func postRun(c *gin.Context, maxThreads int) {
	logWriter := c.Writer
	seq := ops.NewOpSequenceDefault()
	if err := c.ShouldBindJSON(seq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", seq); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := ops.NewContext(logWriter)
	ctx.RestrictPaths = true
	if maxThreads > 0 {
		ctx.MaxThreads = maxThreads
	}
	lists, err := ops.Run(seq, ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	} else {
		fmt.Fprintf(logWriter, "Done, %d results.\n", len(lists))
	}
	logWriter.Flush()
}
