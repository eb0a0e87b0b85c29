package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck 就绪检查, 返回 nil 表示依赖可用.
type HealthCheck func(ctx context.Context) error

// HealthReport /readyz 的响应体
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// 单个就绪检查的超时
const readinessTimeout = 3 * time.Second

// NewOpsHandler 组装运维路由: /metrics, /healthz, /readyz.
func NewOpsHandler(gatherer prometheus.Gatherer, checks map[string]HealthCheck) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthReport{Status: "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		report := runChecks(r.Context(), checks)
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})
	return mux
}

// runChecks 并发执行检查
func runChecks(ctx context.Context, checks map[string]HealthCheck) HealthReport {
	report := HealthReport{Status: "ok", Checks: make(map[string]string, len(checks))}
	if len(checks) == 0 {
		return report
	}

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, readinessTimeout)
			defer cancel()
			results[i] = check(cctx)
		}(i, checks[name])
	}
	wg.Wait()

	for i, name := range names {
		if results[i] != nil {
			report.Status = "unavailable"
			report.Checks[name] = results[i].Error()
			continue
		}
		report.Checks[name] = "ok"
	}
	return report
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
