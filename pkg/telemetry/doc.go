// Package telemetry sets up the OpenTelemetry SDK: tracer and meter
// providers fed by OTLP HTTP, stdout and Prometheus exporters.
package telemetry
