package rag

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "gatekeeper/rag"

// retrievalInstruments 通过 OTLP 导出的检索指标, 与 Prometheus 指标并行记录
type retrievalInstruments struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	results  metric.Int64Histogram
}

func newRetrievalInstruments(meter metric.Meter) (*retrievalInstruments, error) {
	ri := &retrievalInstruments{}
	var err error

	ri.requests, err = meter.Int64Counter("gatekeeper.retrieval.requests",
		metric.WithDescription("Semantic retrieval calls by outcome"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	ri.duration, err = meter.Float64Histogram("gatekeeper.retrieval.duration",
		metric.WithDescription("Semantic retrieval latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	if err != nil {
		return nil, err
	}

	ri.results, err = meter.Int64Histogram("gatekeeper.retrieval.results",
		metric.WithDescription("Context items returned per retrieval"),
		metric.WithUnit("{item}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 8, 13, 20))
	if err != nil {
		return nil, err
	}
	return ri, nil
}

// record nil 安全
func (ri *retrievalInstruments) record(ctx context.Context, status string, d time.Duration, items int) {
	if ri == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	ri.requests.Add(ctx, 1, attrs)
	ri.duration.Record(ctx, d.Seconds(), attrs)
	ri.results.Record(ctx, int64(items), attrs)
}
