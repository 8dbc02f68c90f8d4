// Package logging provides a small, chainable field builder used across
// the core so every zap log line carries the same standard keys.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// Fields is a chainable set of standard log fields. Every setter returns the
// same map so calls can be chained; it is converted to zap.Field slices at
// the log call site via ToZap.
type Fields map[string]interface{}

func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) JobID(id string) Fields {
	if id != "" {
		f["job_id"] = id
	}
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToZap converts the field set into zap.Field values for use with
// *zap.Logger.With / .Info / .Error etc.
func (f Fields) ToZap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// Preset constructors for the components that recur across the pipeline.

func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

func JobFields(operation, jobID string) Fields {
	return NewFields().Component("job").Operation(operation).JobID(jobID)
}

func OutboxFields(operation, messageID string) Fields {
	return NewFields().Component("outbox").Operation(operation).Resource("outbox_message", messageID)
}

func AIFields(operation, model string) Fields {
	f := NewFields().Component("ai").Operation(operation)
	f["model"] = model
	return f
}

func ExtractionFields(sourceKind, jobID string) Fields {
	return NewFields().Component("extraction").Operation(sourceKind).JobID(jobID)
}

func MetricsFields(operation, metricName string, value float64) Fields {
	f := NewFields().Component("metrics").Operation(operation)
	f["metric_name"] = metricName
	f["value"] = value
	return f
}

func PerformanceFields(operation string, d time.Duration, success bool) Fields {
	f := NewFields().Component("performance").Operation(operation).Duration(d)
	f["success"] = success
	return f
}
