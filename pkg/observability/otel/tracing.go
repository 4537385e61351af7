//go:build !otelotlp

// Package otelobs keeps tracing optional. The default build ships no-op
// wrappers; build with -tags otelotlp to export spans over OTLP HTTP.
package otelobs

import (
	"context"
	"net/http"
)

// InitTracer is a no-op by default. Build with -tags otelotlp to enable it.
func InitTracer(serviceName string) func(context.Context) error {
	return func(context.Context) error { return nil }
}

// WrapHTTPHandler is a no-op by default.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler { return h }
