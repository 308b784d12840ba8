package telemetry

import (
	"context"
	"fmt"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

// LogSink forwards logger lines to an OTel logger. It implements logger.Sink.
type LogSink struct {
	logger otellog.Logger
}

// NewLogSink returns a sink emitting through lp.
func NewLogSink(lp otellog.LoggerProvider) *LogSink {
	return &LogSink{logger: lp.Logger(instrumentationName)}
}

func (s *LogSink) Emit(ctx context.Context, level, msg string, fields map[string]interface{}) {
	var rec otellog.Record
	rec.SetTimestamp(time.Now())
	rec.SetBody(otellog.StringValue(msg))
	rec.SetSeverity(severity(level))
	rec.SetSeverityText(level)

	attrs := make([]otellog.KeyValue, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, attrValue(k, v))
	}
	rec.AddAttributes(attrs...)
	s.logger.Emit(ctx, rec)
}

func severity(level string) otellog.Severity {
	switch level {
	case "debug":
		return otellog.SeverityDebug
	case "warn":
		return otellog.SeverityWarn
	case "error":
		return otellog.SeverityError
	default:
		return otellog.SeverityInfo
	}
}

func attrValue(k string, v interface{}) otellog.KeyValue {
	switch val := v.(type) {
	case string:
		return otellog.String(k, val)
	case int:
		return otellog.Int(k, val)
	case int64:
		return otellog.Int64(k, val)
	case float64:
		return otellog.Float64(k, val)
	case bool:
		return otellog.Bool(k, val)
	default:
		return otellog.String(k, fmt.Sprint(val))
	}
}
