// Package logging builds structured logrus.Fields for the engine's
// components, keeping field names consistent across backends, the
// extraction pipeline, and the retrieval path.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a builder for structured log fields. Zero value is usable via
// NewFields.
type Fields map[string]interface{}

// NewFields returns an empty field set.
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

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
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

// ToLogrus converts Fields to logrus.Fields for use with a logrus entry.
func (f Fields) ToLogrus() logrus.Fields {
	return logrus.Fields(f)
}

// EpisodeFields builds fields for episode lifecycle operations (start, log
// step, complete, delete).
func EpisodeFields(operation, episodeID string) Fields {
	return NewFields().
		Component("episode").
		Operation(operation).
		Resource("episode", episodeID)
}

// PatternFields builds fields for pattern-extraction and persistence
// operations.
func PatternFields(operation, patternType, patternID string) Fields {
	f := NewFields().
		Component("pattern").
		Operation(operation).
		Resource("pattern", patternID)
	if patternType != "" {
		f["pattern_type"] = patternType
	}
	return f
}

// BackendFields builds fields for durable/cache backend calls.
func BackendFields(operation, backend string) Fields {
	return NewFields().
		Component("storage").
		Operation(operation).
		Custom("backend", backend)
}

// RetrievalFields builds fields for hierarchical retrieval operations.
func RetrievalFields(operation, domain, taskType string) Fields {
	return NewFields().
		Component("retrieval").
		Operation(operation).
		Custom("domain", domain).
		Custom("task_type", taskType)
}

// DatabaseFields builds fields for a SQL-backed durable store operation.
func DatabaseFields(operation, table string) Fields {
	return NewFields().
		Component("database").
		Operation(operation).
		Resource("table", table)
}

// PerformanceFields builds fields for a timed operation outcome.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().
		Component("performance").
		Operation(operation).
		Duration(duration).
		Custom("success", success)
}
