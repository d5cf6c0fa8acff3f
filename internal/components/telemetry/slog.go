package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("panelwatch.internal.components.telemetry")

var (
	brokenCounter, _  = meter.Int64Counter("reports_broken")
	warningCounter, _ = meter.Int64Counter("reports_warning")
	countGauge, _     = meter.Int64Gauge("reported_count")
)

// SlogAPI implements API using the log/slog package, broken and warning
// reports are also counted per id and counts are recorded as a gauge.
type SlogAPI struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (s SlogAPI) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func formatParams(out []any, params []any) []any {
	for i, p := range params {
		switch v := p.(type) {
		case error:
			out = append(out, "err", v.Error())
		case KV:
			out = append(out, v.Key, v.Value)
		default:
			out = append(out, fmt.Sprintf("params.%d", i), p)
		}
	}
	return out
}

func idAttr(id string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("id", id))
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	brokenCounter.Add(context.Background(), 1, idAttr(id))
	s.logger().Error("broken component", formatParams([]any{"id", id}, params)...)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	warningCounter.Add(context.Background(), 1, idAttr(id))
	s.logger().Warn("warning", formatParams([]any{"id", id}, params)...)
}

func (s SlogAPI) ReportDebug(message string, params ...any) {
	s.logger().Debug(message, formatParams(nil, params)...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	countGauge.Record(context.Background(), count, idAttr(id))
	s.logger().Info("count", "id", id, "n", count)
}
