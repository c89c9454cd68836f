package tracing

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
)

var allowedSpanKeys = map[attribute.Key]struct{}{
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"request_id":              {},
	"plan_type":               {},
	"provider":                {},
	"job":                     {},
}

// SafeAttributes strips attributes that could carry customer data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedSpanKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

// SafeError reduces an error to its sentinel form so spans never record
// payload contents.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(errorCode(err))
}

func errorCode(err error) string {
	msg := err.Error()
	if len(msg) > 64 {
		return msg[:64]
	}
	return msg
}
