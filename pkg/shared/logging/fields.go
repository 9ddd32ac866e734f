// Package logging builds structured logrus.Fields-compatible maps so call
// sites assemble log context through a typed builder instead of hand-rolled
// map literals.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a chainable builder for structured log fields.
type Fields map[string]interface{}

// NewFields starts an empty builder.
func NewFields() Fields {
	return Fields{}
}

// Component names the subsystem emitting the log line.
func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

// Operation names the action being performed.
func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

// Resource identifies the entity the operation acts on.
func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

// Duration records an elapsed time in milliseconds.
func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Error records an error's message, if non-nil.
func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

// UserID records the acting user id, if non-empty.
func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

// RequestID records the inbound request id.
func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

// TraceID records the distributed trace id.
func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

// StatusCode records an HTTP status code.
func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

// Method records an HTTP method.
func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

// URL records a request URL.
func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

// Count records a generic count.
func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

// Size records a byte size.
func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

// Version records a version string.
func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

// Custom records an arbitrary key/value pair.
func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus converts the builder to a logrus.Fields map.
func (f Fields) ToLogrus() logrus.Fields {
	return logrus.Fields(f)
}

// DatabaseFields is the preset for persistence-layer log lines.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields is the preset for the HTTP mounting shim's access log lines.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// SchedulerFields is the preset for placement scheduler log lines.
func SchedulerFields(operation, deploymentID string) Fields {
	return NewFields().Component("scheduler").Operation(operation).Resource("deployment", deploymentID)
}

// ReplicaFields is the preset for replica lifecycle log lines.
func ReplicaFields(operation, replicaID string) Fields {
	return NewFields().Component("controller").Operation(operation).Resource("replica", replicaID)
}

// RewardFields is the preset for reward settlement log lines.
func RewardFields(operation, deploymentID string) Fields {
	return NewFields().Component("rewards").Operation(operation).Resource("deployment", deploymentID)
}

// MetricsFields is the preset for a single metric observation.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// PerformanceFields is the preset for an operation's timing/outcome summary.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(duration).Custom("success", success)
}
