// Shoal is a Redfish aggregator service.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes Prometheus collectors for the aggregator's
// southbound agent calls, BFS ingestion and event fan-out.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	agentRequests        *prometheus.CounterVec
	agentRequestDuration *prometheus.HistogramVec
	bfsIngested          *prometheus.CounterVec
	eventsForwarded      *prometheus.CounterVec
	subscriptionCount    prometheus.Gauge
)

const (
	OpGet     = "get"
	OpCreate  = "create"
	OpReplace = "replace"
	OpPatch   = "patch"
	OpDelete  = "delete"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors. Used by tests to
// ensure clean state between runs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveAgentRequest records a completed southbound agent request.
// statusCode should be the HTTP status returned by the agent; use a
// negative value to record a transport-level failure.
func ObserveAgentRequest(op string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode >= 0 {
		status = strconv.Itoa(statusCode)
	}
	label := sanitizeLabel(op, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if agentRequests != nil {
		agentRequests.WithLabelValues(label, status).Inc()
	}
	if agentRequestDuration != nil {
		agentRequestDuration.WithLabelValues(label).Observe(duration.Seconds())
	}
}

// IncBFSIngested records one resource discovered by the BFS ingestor,
// classified as "created", "renamed", "merged", "duplicate" or "skipped".
func IncBFSIngested(outcome string) {
	label := sanitizeLabel(outcome, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if bfsIngested != nil {
		bfsIngested.WithLabelValues(label).Inc()
	}
}

// IncEventsForwarded records one event forwarded to a subscriber, or one
// drop when no subscriber matched.
func IncEventsForwarded(outcome string) {
	label := sanitizeLabel(outcome, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if eventsForwarded != nil {
		eventsForwarded.WithLabelValues(label).Inc()
	}
}

// SetSubscriptionCount publishes the current number of active event
// subscriptions.
func SetSubscriptionCount(n int) {
	mu.RLock()
	defer mu.RUnlock()
	if subscriptionCount != nil {
		subscriptionCount.Set(float64(n))
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sunfish",
		Subsystem: "aggregator",
		Name:      "agent_requests_total",
		Help:      "Total southbound agent requests grouped by operation and status code.",
	}, []string{"op", "code"})

	reqDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sunfish",
		Subsystem: "aggregator",
		Name:      "agent_request_duration_seconds",
		Help:      "Duration of southbound agent requests by operation.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"op"})

	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sunfish",
		Subsystem: "aggregator",
		Name:      "bfs_resources_ingested_total",
		Help:      "Resources discovered by the BFS ingestor, by outcome.",
	}, []string{"outcome"})

	forwarded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sunfish",
		Subsystem: "aggregator",
		Name:      "events_forwarded_total",
		Help:      "Events forwarded to subscribers, by outcome.",
	}, []string{"outcome"})

	subs := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sunfish",
		Subsystem: "aggregator",
		Name:      "subscriptions",
		Help:      "Current number of active event subscriptions.",
	})

	registry.MustRegister(reqTotal, reqDuration, ingested, forwarded, subs)

	reg = registry
	agentRequests = reqTotal
	agentRequestDuration = reqDuration
	bfsIngested = ingested
	eventsForwarded = forwarded
	subscriptionCount = subs
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
