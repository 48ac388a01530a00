// Package telemetry sets up OpenTelemetry tracing and metrics for snow-mcp.
//
// Exporters are OTLP over HTTP and read the standard OTEL_EXPORTER_OTLP_*
// environment variables. When telemetry is disabled the global no-op
// providers are used, so instrumented code never needs to check.
package telemetry
