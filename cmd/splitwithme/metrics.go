package main

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	pushTimeout      = 5 * time.Second
	pushJob          = "splitwithme"
	requestsTotalKey = "splitwithme_gateway_requests_total"
)

type requestCount struct {
	Op    string
	Code  string
	Count float64
}

// requestSummary reads the gateway request counter out of g, sorted by op and code.
func requestSummary(g prometheus.Gatherer) ([]requestCount, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	var counts []requestCount
	for _, f := range families {
		if f.GetName() != requestsTotalKey {
			continue
		}
		for _, m := range f.GetMetric() {
			c := requestCount{Count: m.GetCounter().GetValue()}
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "op":
					c.Op = l.GetValue()
				case "code":
					c.Code = l.GetValue()
				}
			}
			counts = append(counts, c)
		}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Op != counts[j].Op {
			return counts[i].Op < counts[j].Op
		}
		return counts[i].Code < counts[j].Code
	})
	return counts, nil
}

// reportMetrics logs what the command asked of the backend and, when
// pushURL is set, pushes the collected metrics to a Pushgateway.
func reportMetrics(ctx context.Context, reg *prometheus.Registry, pushURL string) {
	counts, err := requestSummary(reg)
	if err != nil {
		slog.Warn("Failed to gather metrics", "error", err)
		return
	}
	for _, c := range counts {
		slog.Debug("Backend requests", "op", c.Op, "code", c.Code, "count", c.Count)
	}

	if pushURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := push.New(pushURL, pushJob).Gatherer(reg).PushContext(ctx); err != nil {
		slog.Warn("Failed to push metrics", "url", pushURL, "error", err)
		return
	}
	slog.Debug("Metrics pushed", "url", pushURL)
}
