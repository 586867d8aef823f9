package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	metricsRegistry = prometheus.NewRegistry()

	lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redditplan_lookups_total",
		Help: "Engagement lookups by result (ok, failed, rate_limited).",
	}, []string{"result"})

	completionAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redditplan_completion_attempts_total",
		Help: "Completion attempts by outcome (success, retryable, fatal).",
	}, []string{"outcome"})

	quotaDenialsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redditplan_quota_denials_total",
		Help: "Plan requests refused by the daily token budget.",
	})

	ledgerTokens = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "redditplan_ledger_tokens",
		Help: "Tokens recorded in today's usage ledger.",
	})
)

func init() {
	metricsRegistry.MustRegister(
		lookupsTotal,
		completionAttemptsTotal,
		quotaDenialsTotal,
		ledgerTokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
