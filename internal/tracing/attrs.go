package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const codeError = codes.Error

func attrString(key, value string) attribute.KeyValue { return attribute.String(key, value) }
func attrBool(key string, value bool) attribute.KeyValue { return attribute.Bool(key, value) }
